package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/batch"
)

const getBatchByIDSQL = `SELECT b.id, b.product_id, b.name, b.price, b.pix_discount_percentage,
	p.max_installments, b.max_enrollments, b.status, b.start_date, b.end_date
	FROM batches b
	JOIN products p ON p.id = b.product_id
	WHERE b.id = $1`

var _ batch.Repository = (*BatchRepository)(nil)

// BatchRepository implements batch.Repository backed by PostgreSQL.
// The product's installment limit is denormalized into the batch view.
type BatchRepository struct {
	pool *pgxpool.Pool
}

// NewBatchRepository returns a BatchRepository that uses the given pool.
func NewBatchRepository(pool *pgxpool.Pool) *BatchRepository {
	return &BatchRepository{pool: pool}
}

// GetByID loads a batch together with its product's installment limit.
// Returns batch.ErrNotFound when no batch exists.
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*batch.Batch, error) {
	rows, err := r.pool.Query(ctx, getBatchByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding batch %q: %w", id, err)
	}

	b, err := pgx.CollectExactlyOneRow(rows, scanBatch)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, batch.ErrNotFound
		}
		return nil, fmt.Errorf("finding batch %q: %w", id, err)
	}
	return &b, nil
}

func scanBatch(row pgx.CollectableRow) (batch.Batch, error) {
	var (
		b      batch.Batch
		status string
	)
	err := row.Scan(
		&b.ID, &b.ProductID, &b.Name, &b.Price, &b.PixDiscountPercentage,
		&b.MaxInstallments, &b.MaxEnrollments, &status, &b.StartDate, &b.EndDate,
	)
	b.Status = batch.Status(status)
	return b, err
}
