package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, discount_type, discount_value, max_discount, min_purchase,
		max_uses, uses, product_ids, valid_from, valid_until, active, enable_12x, description
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	// The conditional guard makes the increment safe under concurrent
	// applications: the row only updates while a usage slot remains.
	incrementCouponUsesSQL = `UPDATE coupons SET uses = uses + 1
		WHERE UPPER(code) = UPPER($1) AND (max_uses = 0 OR uses < max_uses)`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE UPPER(code) = UPPER($1))`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_type, discount_value, max_discount,
			min_purchase, max_uses, product_ids, valid_from, valid_until, active, enable_12x, description)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, '{}'), $8, $9, $10, $11, $12)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			max_discount = EXCLUDED.max_discount,
			min_purchase = EXCLUDED.min_purchase,
			max_uses = EXCLUDED.max_uses,
			product_ids = EXCLUDED.product_ids,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			active = EXCLUDED.active,
			enable_12x = EXCLUDED.enable_12x,
			description = EXCLUDED.description`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive).
// Returns coupon.ErrNotFound when no such coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// IncrementUses atomically consumes one usage slot for the coupon. When the
// guard rejects the update, the distinction between an unknown code and an
// exhausted cap is resolved with a follow-up existence check.
func (r *CouponRepository) IncrementUses(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, incrementCouponUsesSQL, code)
	if err != nil {
		return fmt.Errorf("incrementing uses for coupon %q: %w", code, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, couponExistsSQL, code).Scan(&exists); err != nil {
		return fmt.Errorf("checking coupon %q: %w", code, err)
	}
	if !exists {
		return coupon.ErrNotFound
	}
	return coupon.ErrExhausted
}

// Upsert inserts or replaces a coupon definition, preserving the usage
// counter of an existing row. Used by seeding and ingest tooling.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		c.Code, string(c.DiscountType), c.DiscountValue, c.MaxDiscount,
		c.MinPurchase, c.MaxUses, c.ProductIDs, c.ValidFrom, c.ValidUntil,
		c.Active, c.Enable12x, c.Description,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		maxDiscount  *decimal.Decimal
		validFrom    *time.Time
		validUntil   *time.Time
	)
	err := row.Scan(
		&c.Code, &discountType, &c.DiscountValue, &maxDiscount, &c.MinPurchase,
		&c.MaxUses, &c.Uses, &c.ProductIDs, &validFrom, &validUntil,
		&c.Active, &c.Enable12x, &c.Description,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	c.MaxDiscount = maxDiscount
	c.ValidFrom = validFrom
	c.ValidUntil = validUntil
	return c, err
}
