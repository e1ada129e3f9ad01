package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCouponRepo struct {
	coupon        *Coupon
	err           error
	incrementErr  error
	incrementCode string
}

func (m *mockCouponRepo) FindByCode(_ context.Context, _ string) (*Coupon, error) {
	return m.coupon, m.err
}

func (m *mockCouponRepo) IncrementUses(_ context.Context, code string) error {
	m.incrementCode = code
	return m.incrementErr
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRepoValidator_Validate(t *testing.T) {
	fixedNow := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	pastTime := fixedNow.Add(-24 * time.Hour)
	futureTime := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name         string
		repo         *mockCouponRepo
		code         string
		productID    string
		amount       decimal.Decimal
		wantDiscount decimal.Decimal
		wantErr      error
	}{
		{
			name: "valid percentage coupon returns discount",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code:          "SAVE10",
				DiscountType:  DiscountPercentage,
				DiscountValue: dec("10"),
				Active:        true,
			}},
			code:         "SAVE10",
			productID:    "p1",
			amount:       dec("1500.00"),
			wantDiscount: dec("150.00"),
		},
		{
			name:    "unknown code returns ErrNotFound",
			repo:    &mockCouponRepo{err: ErrNotFound},
			code:    "BOGUS",
			amount:  dec("100.00"),
			wantErr: ErrNotFound,
		},
		{
			name:    "empty code returns ErrNotFound without lookup",
			repo:    &mockCouponRepo{},
			code:    "   ",
			amount:  dec("100.00"),
			wantErr: ErrNotFound,
		},
		{
			name: "inactive coupon rejected",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code:          "OLD",
				DiscountType:  DiscountFixed,
				DiscountValue: dec("5"),
				Active:        false,
			}},
			code:    "OLD",
			amount:  dec("100.00"),
			wantErr: ErrInactive,
		},
		{
			name: "coupon not yet valid rejected",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code:          "SOON",
				DiscountType:  DiscountFixed,
				DiscountValue: dec("5"),
				Active:        true,
				ValidFrom:     &futureTime,
			}},
			code:    "SOON",
			amount:  dec("100.00"),
			wantErr: ErrNotYetValid,
		},
		{
			name: "expired coupon rejected",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code:          "GONE",
				DiscountType:  DiscountFixed,
				DiscountValue: dec("5"),
				Active:        true,
				ValidUntil:    &pastTime,
			}},
			code:    "GONE",
			amount:  dec("100.00"),
			wantErr: ErrExpired,
		},
		{
			name: "exhausted coupon rejected",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code:          "FULL",
				DiscountType:  DiscountFixed,
				DiscountValue: dec("5"),
				Active:        true,
				MaxUses:       10,
				Uses:          10,
			}},
			code:    "FULL",
			amount:  dec("100.00"),
			wantErr: ErrExhausted,
		},
		{
			name: "product outside scope rejected",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code:          "ONLYP2",
				DiscountType:  DiscountFixed,
				DiscountValue: dec("5"),
				Active:        true,
				ProductIDs:    []string{"p2"},
			}},
			code:      "ONLYP2",
			productID: "p1",
			amount:    dec("100.00"),
			wantErr:   ErrProductMismatch,
		},
		{
			name: "amount below minimum purchase rejected",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code:          "VOLTA50",
				DiscountType:  DiscountFixed,
				DiscountValue: dec("50"),
				MinPurchase:   dec("300"),
				Active:        true,
			}},
			code:    "VOLTA50",
			amount:  dec("100.00"),
			wantErr: &MinPurchaseError{Min: dec("300")},
		},
		{
			name: "fixed discount capped at amount",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code:          "FIX500",
				DiscountType:  DiscountFixed,
				DiscountValue: dec("500"),
				Active:        true,
			}},
			code:         "FIX500",
			amount:       dec("120.00"),
			wantDiscount: dec("120.00"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewRepoValidator(tt.repo)
			v.now = func() time.Time { return fixedNow }

			got, err := v.Validate(context.Background(), tt.code, tt.productID, tt.amount)

			if tt.wantErr != nil {
				if minErr, ok := tt.wantErr.(*MinPurchaseError); ok {
					var gotMin *MinPurchaseError
					require.ErrorAs(t, err, &gotMin)
					assert.True(t, minErr.Min.Equal(gotMin.Min))
					return
				}
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, tt.wantDiscount.Equal(got.Discount),
				"discount: want %s, got %s", tt.wantDiscount, got.Discount)
		})
	}
}

func TestRepoValidator_NormalizesCode(t *testing.T) {
	repo := &mockCouponRepo{coupon: &Coupon{
		Code:          "SAVE10",
		DiscountType:  DiscountPercentage,
		DiscountValue: dec("10"),
		Active:        true,
	}}
	v := NewRepoValidator(repo)

	got, err := v.Validate(context.Background(), "  save10 ", "", dec("200.00"))

	require.NoError(t, err)
	assert.True(t, dec("20.00").Equal(got.Discount))
}

func TestRepoValidator_DoesNotConsumeUses(t *testing.T) {
	repo := &mockCouponRepo{coupon: &Coupon{
		Code:          "SAVE10",
		DiscountType:  DiscountPercentage,
		DiscountValue: dec("10"),
		Active:        true,
	}}
	v := NewRepoValidator(repo)

	_, err := v.Validate(context.Background(), "SAVE10", "", dec("200.00"))

	require.NoError(t, err)
	assert.Empty(t, repo.incrementCode, "validation must not consume a usage slot")
}

func TestCoupon_MaxInstallments(t *testing.T) {
	plain := &Coupon{Code: "PLAIN"}
	assert.Equal(t, 8, plain.MaxInstallments(8))

	extended := &Coupon{Code: "TURMA12X", Enable12x: true}
	assert.Equal(t, 12, extended.MaxInstallments(8))
	// The override never lowers a limit already above 12.
	assert.Equal(t, 15, extended.MaxInstallments(15))
}
