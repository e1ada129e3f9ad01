package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/customer"
)

const (
	getCustomerSQL = `SELECT user_id, full_name, email, tax_id, phone, asaas_customer_id
		FROM customers WHERE user_id = $1`

	upsertCustomerSQL = `INSERT INTO customers (user_id, full_name, email, tax_id, phone, asaas_customer_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			email = EXCLUDED.email,
			tax_id = EXCLUDED.tax_id,
			phone = EXCLUDED.phone,
			asaas_customer_id = EXCLUDED.asaas_customer_id`
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// GetByUserID loads the customer profile for the user.
// Returns customer.ErrNotFound when none exists.
func (r *CustomerRepository) GetByUserID(ctx context.Context, userID string) (*customer.Customer, error) {
	rows, err := r.pool.Query(ctx, getCustomerSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("finding customer for user %q: %w", userID, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[customer.Customer])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("finding customer for user %q: %w", userID, err)
	}
	return &c, nil
}

// Save upserts the customer profile.
func (r *CustomerRepository) Save(ctx context.Context, c *customer.Customer) error {
	_, err := r.pool.Exec(ctx, upsertCustomerSQL,
		c.UserID, c.FullName, c.Email, c.TaxID, c.Phone, c.AsaasCustomerID,
	)
	if err != nil {
		return fmt.Errorf("saving customer for user %q: %w", c.UserID, err)
	}
	return nil
}
