package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Validation holds the outcome of a successful coupon validation.
type Validation struct {
	Coupon   *Coupon
	Discount decimal.Decimal
}

// Validator decides whether a coupon may be applied to a purchase and
// computes the resulting discount.
type Validator interface {
	Validate(ctx context.Context, code, productID string, amount decimal.Decimal) (*Validation, error)
}

// RepoValidator implements Validator by looking up coupons from a Repository
// and running the eligibility checks in order: existence, activity window,
// usage cap, product scope, minimum purchase.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate checks the coupon identified by code against the product and
// amount. It does not consume a usage slot; callers bind the coupon with
// Repository.IncrementUses once the enrollment-coupon application succeeds.
func (v *RepoValidator) Validate(ctx context.Context, code, productID string, amount decimal.Decimal) (*Validation, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrNotFound
	}

	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if err := c.CheckEligibility(v.now()); err != nil {
		return nil, err
	}
	if productID != "" && !c.AppliesToProduct(productID) {
		return nil, ErrProductMismatch
	}
	if err := c.CheckMinPurchase(amount); err != nil {
		return nil, err
	}

	return &Validation{
		Coupon:   c,
		Discount: c.CalculateDiscount(amount),
	}, nil
}
