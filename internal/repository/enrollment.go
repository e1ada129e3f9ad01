package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/enrollment"
)

const (
	enrollmentColumns = `id, user_id, product_id, batch_id, status, payment_method,
		installments, total_amount, discount_amount, final_amount,
		COALESCE(coupon_code, ''), form_data, created_at, paid_at`

	getEnrollmentByIDSQL = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`

	latestEnrollmentByUserSQL = `SELECT ` + enrollmentColumns + ` FROM enrollments
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`

	updateEnrollmentSQL = `UPDATE enrollments SET
			status = $2,
			payment_method = $3,
			installments = $4,
			total_amount = $5,
			discount_amount = $6,
			final_amount = $7,
			coupon_code = NULLIF($8, ''),
			paid_at = $9
		WHERE id = $1`
)

var _ enrollment.Repository = (*EnrollmentRepository)(nil)

// EnrollmentRepository implements enrollment.Repository backed by PostgreSQL.
type EnrollmentRepository struct {
	pool *pgxpool.Pool
}

// NewEnrollmentRepository returns an EnrollmentRepository that uses the given pool.
func NewEnrollmentRepository(pool *pgxpool.Pool) *EnrollmentRepository {
	return &EnrollmentRepository{pool: pool}
}

// GetByID loads an enrollment by its ID.
// Returns enrollment.ErrNotFound when no enrollment exists.
func (r *EnrollmentRepository) GetByID(ctx context.Context, id string) (*enrollment.Enrollment, error) {
	return getEnrollment(ctx, r.pool, getEnrollmentByIDSQL, id)
}

// LatestByUser loads the most recently created enrollment for the user.
// Returns enrollment.ErrNotFound when the user has none.
func (r *EnrollmentRepository) LatestByUser(ctx context.Context, userID string) (*enrollment.Enrollment, error) {
	return getEnrollment(ctx, r.pool, latestEnrollmentByUserSQL, userID)
}

// Update persists the mutable fields of the enrollment.
func (r *EnrollmentRepository) Update(ctx context.Context, e *enrollment.Enrollment) error {
	return updateEnrollment(ctx, r.pool, e)
}

func getEnrollment(ctx context.Context, q querier, sql, arg string) (*enrollment.Enrollment, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding enrollment %q: %w", arg, err)
	}

	e, err := pgx.CollectExactlyOneRow(rows, scanEnrollment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, enrollment.ErrNotFound
		}
		return nil, fmt.Errorf("finding enrollment %q: %w", arg, err)
	}
	return &e, nil
}

func updateEnrollment(ctx context.Context, q querier, e *enrollment.Enrollment) error {
	tag, err := q.Exec(ctx, updateEnrollmentSQL,
		e.ID, string(e.Status), string(e.PaymentMethod), e.Installments,
		e.TotalAmount, e.DiscountAmount, e.FinalAmount, e.CouponCode, e.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("updating enrollment %q: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return enrollment.ErrNotFound
	}
	return nil
}

func scanEnrollment(row pgx.CollectableRow) (enrollment.Enrollment, error) {
	var (
		e      enrollment.Enrollment
		status string
		method string
		paidAt *time.Time
	)
	err := row.Scan(
		&e.ID, &e.UserID, &e.ProductID, &e.BatchID, &status, &method,
		&e.Installments, &e.TotalAmount, &e.DiscountAmount, &e.FinalAmount,
		&e.CouponCode, &e.FormData, &e.CreatedAt, &paidAt,
	)
	e.Status = enrollment.Status(status)
	e.PaymentMethod = enrollment.PaymentMethod(method)
	e.PaidAt = paidAt
	return e, err
}
