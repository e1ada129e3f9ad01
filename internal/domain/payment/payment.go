package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/enrollment"
)

// Status enumerates the payment lifecycle states.
//
// Created -> Pending -> {Confirmed, Received, Overdue, Cancelled};
// Confirmed/Received -> Refunded. Refunded and Cancelled are terminal.
// Confirmed and Received are both paid outcomes: the gateway uses two names
// for similar events and the core treats them identically.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusReceived  Status = "RECEIVED"
	StatusOverdue   Status = "OVERDUE"
	StatusRefunded  Status = "REFUNDED"
	StatusCancelled Status = "CANCELLED"
)

// IsPaid reports whether the status is a paid terminal-success state.
func (s Status) IsPaid() bool { return s == StatusConfirmed || s == StatusReceived }

// IsTerminal reports whether no further status transitions are expected.
func (s Status) IsTerminal() bool { return s == StatusRefunded || s == StatusCancelled }

// CanBeCancelled reports whether a payment in this status may be cancelled.
func (s Status) CanBeCancelled() bool { return s == StatusCreated || s == StatusPending }

// webhookEventStatus maps provider webhook event names to local statuses.
var webhookEventStatus = map[string]Status{
	"PAYMENT_CREATED":   StatusCreated,
	"PAYMENT_UPDATED":   StatusPending,
	"PAYMENT_CONFIRMED": StatusConfirmed,
	"PAYMENT_RECEIVED":  StatusReceived,
	"PAYMENT_OVERDUE":   StatusOverdue,
	"PAYMENT_REFUNDED":  StatusRefunded,
	"PAYMENT_DELETED":   StatusCancelled,
}

// StatusForEvent maps a provider webhook event name to the local status.
func StatusForEvent(event string) (Status, bool) {
	s, ok := webhookEventStatus[event]
	return s, ok
}

// providerStatus maps the provider's charge status strings (as returned by
// the polling sync path) to local statuses.
var providerStatus = map[string]Status{
	"PENDING":          StatusPending,
	"CONFIRMED":        StatusConfirmed,
	"RECEIVED":         StatusReceived,
	"OVERDUE":          StatusOverdue,
	"REFUNDED":         StatusRefunded,
	"RECEIVED_IN_CASH": StatusReceived,
	"REFUND_REQUESTED": StatusRefunded,
}

// StatusForProvider maps a provider charge status to the local status.
func StatusForProvider(s string) (Status, bool) {
	st, ok := providerStatus[s]
	return st, ok
}

// Payment is one gateway charge: the single cash payment, one PIX
// installment, or a whole credit-card charge (which may itself be split into
// installments at the gateway).
type Payment struct {
	ID           string
	EnrollmentID string

	// AsaasPaymentID is empty until the charge exists at the gateway.
	AsaasPaymentID      string
	AsaasSubscriptionID string

	InstallmentNumber int
	InstallmentCount  int

	Amount decimal.Decimal
	Status Status

	DueDate time.Time
	PaidAt  *time.Time

	InvoiceURL   string
	PixQRCode    string
	PixCopyPaste string

	// RawPayload is the last raw provider payload seen for this charge,
	// kept for audit and debugging.
	RawPayload []byte

	CreatedAt time.Time
}

// ErrNotFound is returned when no payment exists for the given ID.
var ErrNotFound = errors.New("payment not found")

// Repository defines persistence operations for payments outside of the
// reconciliation transaction.
type Repository interface {
	// Create persists a single payment.
	Create(ctx context.Context, p *Payment) error
	// CreatePlan persists an installment plan atomically: either every row
	// is written or none is.
	CreatePlan(ctx context.Context, plan []*Payment) error
	GetByID(ctx context.Context, id string) (*Payment, error)
	// FindByAsaasID returns ErrNotFound for charges this system never
	// persisted (webhooks for them are dropped, not failed).
	FindByAsaasID(ctx context.Context, asaasID string) (*Payment, error)
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]Payment, error)
	// ListSyncable returns every payment that has a gateway charge id and
	// is not in a terminal state.
	ListSyncable(ctx context.Context) ([]Payment, error)
}

// Tx groups the repository operations bound to one database transaction,
// used by the reconciliation path.
type Tx interface {
	// LockEnrollment loads the enrollment with a row lock, serializing
	// concurrent reconciliations for the same enrollment.
	LockEnrollment(ctx context.Context, id string) (*enrollment.Enrollment, error)
	PaymentByID(ctx context.Context, id string) (*Payment, error)
	PaymentsByEnrollment(ctx context.Context, enrollmentID string) ([]Payment, error)
	SavePayment(ctx context.Context, p *Payment) error
	SaveEnrollment(ctx context.Context, e *enrollment.Enrollment) error
}

// TxRunner runs fn inside a single database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Gateway is the subset of the Asaas client the orchestrator depends on.
type Gateway interface {
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreatePixCharge(ctx context.Context, req PixChargeRequest) (*GatewayCharge, error)
	CreateCardCharge(ctx context.Context, req CardChargeRequest) (*GatewayCharge, error)
	GetCharge(ctx context.Context, id string) (*GatewayCharge, error)
	GetPixQRCode(ctx context.Context, id string) (*PixArtifacts, error)
	CancelCharge(ctx context.Context, id string) error
	RefundCharge(ctx context.Context, id string, value *decimal.Decimal) error
}

// CustomerRequest is the gateway-facing customer creation input.
type CustomerRequest struct {
	Name       string
	Email      string
	TaxID      string
	Phone      string
	PostalCode string
}

// PixChargeRequest is the gateway-facing PIX charge input.
type PixChargeRequest struct {
	CustomerID        string
	Value             decimal.Decimal
	DueDate           time.Time
	Description       string
	ExternalReference string
}

// CardInput carries credit card data or a token from the API boundary.
type CardInput struct {
	HolderName  string
	Number      string
	ExpiryMonth string
	ExpiryYear  string
	CCV         string
	Token       string
}

// Empty reports whether neither card data nor a token was provided.
func (c CardInput) Empty() bool { return c.Number == "" && c.Token == "" }

// CardChargeRequest is the gateway-facing credit card charge input.
type CardChargeRequest struct {
	CustomerID        string
	Value             decimal.Decimal
	Installments      int
	Card              CardInput
	Holder            CustomerRequest
	Description       string
	ExternalReference string
}

// GatewayCharge is the orchestrator's view of a created or fetched charge.
type GatewayCharge struct {
	ID         string
	Status     string
	Value      decimal.Decimal
	DueDate    time.Time
	InvoiceURL string
	Raw        []byte
}

// PixArtifacts holds the PIX QR image and copy-paste payload for a charge.
type PixArtifacts struct {
	EncodedImage string
	Payload      string
}

// Notifier delivers the payment-confirmation notification. Implementations
// must be safe to call after the enrollment transition committed; failures
// are logged by the caller and never roll back the transition.
type Notifier interface {
	PaymentConfirmed(ctx context.Context, e *enrollment.Enrollment) error
}
