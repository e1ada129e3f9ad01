package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/enrollment"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/payment"
)

const lockEnrollmentSQL = `SELECT ` + enrollmentColumns + ` FROM enrollments
	WHERE id = $1 FOR UPDATE`

var _ payment.TxRunner = (*TxRunner)(nil)

// TxRunner implements payment.TxRunner on a pgx pool. Each InTx call opens
// one database transaction; LockEnrollment takes a row lock on the
// enrollment, serializing concurrent reconciliations for it.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner returns a TxRunner that uses the given pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// InTx runs fn inside a single transaction, committing when fn returns nil
// and rolling back otherwise.
func (r *TxRunner) InTx(ctx context.Context, fn func(tx payment.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

var _ payment.Tx = (*pgTx)(nil)

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockEnrollment(ctx context.Context, id string) (*enrollment.Enrollment, error) {
	return getEnrollment(ctx, t.tx, lockEnrollmentSQL, id)
}

func (t *pgTx) PaymentByID(ctx context.Context, id string) (*payment.Payment, error) {
	return getPayment(ctx, t.tx, getPaymentByIDSQL, id)
}

func (t *pgTx) PaymentsByEnrollment(ctx context.Context, enrollmentID string) ([]payment.Payment, error) {
	return listPayments(ctx, t.tx, listPaymentsByEnrollmentSQL, enrollmentID)
}

func (t *pgTx) SavePayment(ctx context.Context, p *payment.Payment) error {
	return savePayment(ctx, t.tx, p)
}

func (t *pgTx) SaveEnrollment(ctx context.Context, e *enrollment.Enrollment) error {
	return updateEnrollment(ctx, t.tx, e)
}
