package coupon

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage-based discount to the amount.
	DiscountPercentage DiscountType = "PERCENTAGE"
	// DiscountFixed applies a fixed monetary discount capped at the amount.
	DiscountFixed DiscountType = "FIXED"
)

// MaxInstallmentsWith12x is the installment ceiling granted by coupons
// carrying the 12x override.
const MaxInstallmentsWith12x = 12

// Sentinel errors describing why a coupon cannot be applied. Each maps to a
// distinct user-facing reason.
var (
	ErrNotFound        = errors.New("coupon not found")
	ErrInactive        = errors.New("coupon is not active")
	ErrNotYetValid     = errors.New("coupon is not valid yet")
	ErrExpired         = errors.New("coupon has expired")
	ErrExhausted       = errors.New("coupon usage limit reached")
	ErrProductMismatch = errors.New("coupon is not valid for this product")
)

// MinPurchaseError indicates the purchase amount is below the coupon's
// minimum. It carries the threshold so callers can render an actionable message.
type MinPurchaseError struct {
	Min decimal.Decimal
}

func (e *MinPurchaseError) Error() string {
	return fmt.Sprintf("minimum purchase for this coupon is R$ %s", e.Min.StringFixed(2))
}

// Coupon is a named discount rule with eligibility constraints.
type Coupon struct {
	Code          string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal

	// MaxDiscount caps percentage discounts. Nil means uncapped.
	MaxDiscount *decimal.Decimal
	MinPurchase decimal.Decimal

	// MaxUses of 0 means unlimited.
	MaxUses int
	Uses    int

	// ProductIDs scopes the coupon. Empty means it applies to all products.
	ProductIDs []string

	ValidFrom  *time.Time
	ValidUntil *time.Time
	Active     bool

	// Enable12x extends the product's installment limit to 12.
	Enable12x   bool
	Description string
}

// CheckEligibility reports whether the coupon can be used at the given time,
// returning the specific ineligibility reason otherwise.
func (c *Coupon) CheckEligibility(now time.Time) error {
	if !c.Active {
		return ErrInactive
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return ErrNotYetValid
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return ErrExpired
	}
	if c.MaxUses > 0 && c.Uses >= c.MaxUses {
		return ErrExhausted
	}
	return nil
}

// AppliesToProduct reports whether the coupon's product scope admits the
// given product. An empty scope admits every product.
func (c *Coupon) AppliesToProduct(productID string) bool {
	if len(c.ProductIDs) == 0 {
		return true
	}
	return slices.Contains(c.ProductIDs, productID)
}

// CheckMinPurchase returns a MinPurchaseError when amount is below the
// coupon's minimum purchase threshold.
func (c *Coupon) CheckMinPurchase(amount decimal.Decimal) error {
	if amount.LessThan(c.MinPurchase) {
		return &MinPurchaseError{Min: c.MinPurchase}
	}
	return nil
}

// CalculateDiscount computes the discount for the given amount.
// Percentage discounts are capped at MaxDiscount when set; fixed discounts
// never exceed the amount itself. The result is rounded to 2 decimal places
// and never negative.
func (c *Coupon) CalculateDiscount(amount decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		d = amount.Mul(c.DiscountValue).Div(hundred)
		if c.MaxDiscount != nil {
			d = decimal.Min(d, *c.MaxDiscount)
		}
	case DiscountFixed:
		d = decimal.Min(c.DiscountValue, amount)
	default:
		return decimal.Zero
	}
	return floorAtZero(d).Round(2)
}

// MaxInstallments returns the installment ceiling when this coupon is
// applied: the product's own limit, or 12 with the 12x override.
func (c *Coupon) MaxInstallments(productMax int) int {
	if c.Enable12x && productMax < MaxInstallmentsWith12x {
		return MaxInstallmentsWith12x
	}
	return productMax
}

var hundred = decimal.NewFromInt(100)

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Repository provides lookup and mutation of coupons.
type Repository interface {
	// FindByCode looks up a coupon by code (case-insensitive).
	// Returns ErrNotFound when no coupon exists.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// IncrementUses atomically increments the usage counter, failing with
	// ErrExhausted when the usage cap would be exceeded.
	IncrementUses(ctx context.Context, code string) error
}
