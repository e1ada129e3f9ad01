// Package pricing computes enrollment amounts: total, discount, final, and
// the per-installment split. All functions are pure; callers persist results.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/batch"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/coupon"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/enrollment"
)

var hundred = decimal.NewFromInt(100)

// Quote is the complete pricing breakdown for an enrollment.
type Quote struct {
	Total            decimal.Decimal
	Discount         decimal.Decimal
	Final            decimal.Decimal
	Installments     int
	InstallmentValue decimal.Decimal
}

// Compute derives the amounts for a batch, payment method and optional
// coupon. Discounts are mutually exclusive: a bound coupon takes precedence
// and suppresses the PIX discount entirely; without a coupon, PixCash gets
// the batch's PIX percentage off. The discount never exceeds the total.
func Compute(b *batch.Batch, method enrollment.PaymentMethod, c *coupon.Coupon, installments int) Quote {
	total := b.Price.Round(2)

	var discount decimal.Decimal
	switch {
	case c != nil:
		discount = c.CalculateDiscount(total)
	case method == enrollment.MethodPixCash:
		discount = total.Mul(b.PixDiscountPercentage).Div(hundred).Round(2)
	default:
		discount = decimal.Zero
	}
	discount = decimal.Min(discount, total)

	final := total.Sub(discount)

	if installments < 1 {
		installments = 1
	}
	q := Quote{
		Total:        total,
		Discount:     discount,
		Final:        final,
		Installments: installments,
	}
	if installments > 1 {
		q.InstallmentValue = final.DivRound(decimal.NewFromInt(int64(installments)), 2)
	} else {
		q.InstallmentValue = final
	}
	return q
}

// Installment is one slot of an installment plan.
type Installment struct {
	Number  int
	Amount  decimal.Decimal
	DueDate time.Time
}

// Schedule splits final across count installments due 30 days apart starting
// 30 days from start. Each installment is the truncated 2-decimal quotient;
// the last one absorbs the rounding remainder so the plan sums exactly to
// final.
func Schedule(final decimal.Decimal, count int, start time.Time) []Installment {
	if count < 1 {
		count = 1
	}
	per := final.Div(decimal.NewFromInt(int64(count))).RoundDown(2)

	plan := make([]Installment, count)
	for i := range count {
		plan[i] = Installment{
			Number:  i + 1,
			Amount:  per,
			DueDate: start.AddDate(0, 0, 30*(i+1)),
		}
	}
	plan[count-1].Amount = final.Sub(per.Mul(decimal.NewFromInt(int64(count - 1))))
	return plan
}
