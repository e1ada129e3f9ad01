package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/payment"
)

const (
	paymentColumns = `id, enrollment_id, COALESCE(asaas_payment_id, ''), asaas_subscription_id,
		installment_number, installment_count, amount, status, due_date, paid_at,
		invoice_url, pix_qr_code, pix_copy_paste, raw_payload, created_at`

	insertPaymentSQL = `INSERT INTO payments (id, enrollment_id, asaas_payment_id,
			asaas_subscription_id, installment_number, installment_count, amount,
			status, due_date, paid_at, invoice_url, pix_qr_code, pix_copy_paste, raw_payload)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			COALESCE($14, '{}'::jsonb))`

	getPaymentByIDSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	getPaymentByAsaasIDSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE asaas_payment_id = $1`

	listPaymentsByEnrollmentSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE enrollment_id = $1 ORDER BY installment_number, created_at`

	listSyncablePaymentsSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE asaas_payment_id IS NOT NULL AND status NOT IN ('REFUNDED', 'CANCELLED')
		ORDER BY created_at`

	updatePaymentSQL = `UPDATE payments SET
			asaas_payment_id = NULLIF($2, ''),
			status = $3,
			paid_at = $4,
			invoice_url = $5,
			pix_qr_code = $6,
			pix_copy_paste = $7,
			raw_payload = COALESCE($8, '{}'::jsonb),
			updated_at = now()
		WHERE id = $1`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Create persists a single payment row.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	return insertPayment(ctx, r.pool, p)
}

// CreatePlan persists an installment plan atomically. Either every row lands
// or the whole plan is rolled back.
func (r *PaymentRepository) CreatePlan(ctx context.Context, plan []*payment.Payment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning plan transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	for _, p := range plan {
		if err := insertPayment(ctx, tx, p); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing plan transaction: %w", err)
	}
	return nil
}

// GetByID loads a payment by its local ID.
// Returns payment.ErrNotFound when no payment exists.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*payment.Payment, error) {
	return getPayment(ctx, r.pool, getPaymentByIDSQL, id)
}

// FindByAsaasID loads a payment by the gateway charge ID.
// Returns payment.ErrNotFound for charges this system never persisted.
func (r *PaymentRepository) FindByAsaasID(ctx context.Context, asaasID string) (*payment.Payment, error) {
	return getPayment(ctx, r.pool, getPaymentByAsaasIDSQL, asaasID)
}

// ListByEnrollment returns all payments of the enrollment ordered by
// installment number.
func (r *PaymentRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]payment.Payment, error) {
	return listPayments(ctx, r.pool, listPaymentsByEnrollmentSQL, enrollmentID)
}

// ListSyncable returns every payment with a gateway charge that is not in a
// terminal state.
func (r *PaymentRepository) ListSyncable(ctx context.Context) ([]payment.Payment, error) {
	return listPayments(ctx, r.pool, listSyncablePaymentsSQL)
}

func insertPayment(ctx context.Context, q querier, p *payment.Payment) error {
	_, err := q.Exec(ctx, insertPaymentSQL,
		p.ID, p.EnrollmentID, p.AsaasPaymentID, p.AsaasSubscriptionID,
		p.InstallmentNumber, p.InstallmentCount, p.Amount, string(p.Status),
		p.DueDate, p.PaidAt, p.InvoiceURL, p.PixQRCode, p.PixCopyPaste, p.RawPayload,
	)
	if err != nil {
		return fmt.Errorf("inserting payment %q: %w", p.ID, err)
	}
	return nil
}

func getPayment(ctx context.Context, q querier, sql, arg string) (*payment.Payment, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding payment %q: %w", arg, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("finding payment %q: %w", arg, err)
	}
	return &p, nil
}

func listPayments(ctx context.Context, q querier, sql string, args ...any) ([]payment.Payment, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}

	payments, err := pgx.CollectRows(rows, scanPayment)
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}
	return payments, nil
}

func savePayment(ctx context.Context, q querier, p *payment.Payment) error {
	tag, err := q.Exec(ctx, updatePaymentSQL,
		p.ID, p.AsaasPaymentID, string(p.Status), p.PaidAt,
		p.InvoiceURL, p.PixQRCode, p.PixCopyPaste, p.RawPayload,
	)
	if err != nil {
		return fmt.Errorf("updating payment %q: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrNotFound
	}
	return nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p       payment.Payment
		status  string
		dueDate *time.Time
		paidAt  *time.Time
	)
	err := row.Scan(
		&p.ID, &p.EnrollmentID, &p.AsaasPaymentID, &p.AsaasSubscriptionID,
		&p.InstallmentNumber, &p.InstallmentCount, &p.Amount, &status,
		&dueDate, &paidAt, &p.InvoiceURL, &p.PixQRCode, &p.PixCopyPaste,
		&p.RawPayload, &p.CreatedAt,
	)
	p.Status = payment.Status(status)
	if dueDate != nil {
		p.DueDate = *dueDate
	}
	p.PaidAt = paidAt
	return p, err
}
