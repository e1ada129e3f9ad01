package enrollment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status enumerates the enrollment lifecycle states.
type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusCancelled      Status = "CANCELLED"
	StatusExpired        Status = "EXPIRED"
)

// PaymentMethod is the closed set of supported payment methods.
type PaymentMethod string

const (
	MethodPixCash        PaymentMethod = "PIX_CASH"
	MethodPixInstallment PaymentMethod = "PIX_INSTALLMENT"
	MethodCreditCard     PaymentMethod = "CREDIT_CARD"
)

var (
	// ErrNotFound is returned when no enrollment exists for the given ID.
	ErrNotFound = errors.New("enrollment not found")
	// ErrUnknownPaymentMethod is returned for payment method strings outside
	// the closed variant set.
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
)

// ParsePaymentMethod converts a wire string into a PaymentMethod.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case MethodPixCash, MethodPixInstallment, MethodCreditCard:
		return PaymentMethod(s), nil
	default:
		return "", errors.Wrapf(ErrUnknownPaymentMethod, "%q", s)
	}
}

// Enrollment is a user's claim on one pricing batch of one product.
//
// Amounts maintain the invariant FinalAmount = TotalAmount - DiscountAmount,
// never negative, and are only mutated while the status is PendingPayment.
type Enrollment struct {
	ID        string
	UserID    string
	ProductID string
	BatchID   string

	Status        Status
	PaymentMethod PaymentMethod // empty until the user picks one
	Installments  int

	TotalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	CouponCode     string // empty when no coupon is bound

	// FormData is the typed sidecar for per-product form fields. The core
	// depends only on the keys read by the accessors below; everything else
	// passes through untouched.
	FormData map[string]string

	CreatedAt time.Time
	PaidAt    *time.Time
}

// Form field keys the payment core reads from the enrollment sidecar.
const (
	FormKeyTaxID    = "cpf"
	FormKeyFullName = "nome_completo"
	FormKeyPhone    = "telefone"
	FormKeyPostal   = "cep"
)

// FormTaxID returns the tax id captured on the enrollment form, if any.
func (e *Enrollment) FormTaxID() string { return e.FormData[FormKeyTaxID] }

// FormFullName returns the full name captured on the enrollment form, if any.
func (e *Enrollment) FormFullName() string { return e.FormData[FormKeyFullName] }

// FormPhone returns the phone captured on the enrollment form, if any.
func (e *Enrollment) FormPhone() string { return e.FormData[FormKeyPhone] }

// FormPostalCode returns the postal code captured on the enrollment form, if any.
func (e *Enrollment) FormPostalCode() string { return e.FormData[FormKeyPostal] }

// IsPendingPayment reports whether the enrollment still awaits payment.
func (e *Enrollment) IsPendingPayment() bool { return e.Status == StatusPendingPayment }

// Repository defines persistence operations for enrollments.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Enrollment, error)
	// LatestByUser returns the most recently created enrollment for the
	// user, or ErrNotFound.
	LatestByUser(ctx context.Context, userID string) (*Enrollment, error)
	// Update persists status, payment method, installments, amounts, coupon
	// binding and paid timestamp.
	Update(ctx context.Context, e *Enrollment) error
}
