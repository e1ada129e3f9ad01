package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/felipeacampelo/Gestao-AreaMais/internal/cpf"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/batch"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/coupon"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/customer"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/enrollment"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/pricing"
)

// Defaults for charge scheduling.
const (
	// cashDueDays is how many days a PIX cash charge stays payable.
	cashDueDays = 3
	// syncConcurrency bounds parallel gateway fetches during a full sync.
	syncConcurrency = 4
)

// Validation and state-conflict errors surfaced to the API layer.
var (
	ErrEnrollmentNotPending  = errors.New("enrollment is not awaiting payment")
	ErrEnrollmentHasPayments = errors.New("enrollment already has an active payment")
	ErrNotCancellable        = errors.New("payment cannot be cancelled in its current state")
	ErrNotRefundable         = errors.New("only paid payments can be refunded")
	ErrTaxIDRequired         = errors.New("a valid tax id is required to create a payment")
	ErrTaxIDInvalid          = errors.New("tax id failed validation")
	ErrCardRequired          = errors.New("card data or token is required for credit card payments")
	ErrCashSingleInstallment = errors.New("cash payments must have exactly 1 installment")
)

// InstallmentLimitError indicates the requested installment count exceeds
// the allowed maximum for the product (possibly coupon-extended).
type InstallmentLimitError struct {
	Max int
}

func (e *InstallmentLimitError) Error() string {
	return fmt.Sprintf("at most %d installments are allowed", e.Max)
}

// Service is the payment orchestrator: it ties enrollment, pricing and the
// gateway together and owns every payment/enrollment state transition.
type Service struct {
	gateway     Gateway
	payments    Repository
	enrollments enrollment.Repository
	customers   customer.Repository
	batches     batch.Repository
	coupons     coupon.Repository
	tx          TxRunner
	notifier    Notifier
	lg          *zap.Logger
	now         func() time.Time
}

// NewService creates the orchestrator with its collaborators.
func NewService(
	gateway Gateway,
	payments Repository,
	enrollments enrollment.Repository,
	customers customer.Repository,
	batches batch.Repository,
	coupons coupon.Repository,
	tx TxRunner,
	notifier Notifier,
	lg *zap.Logger,
) *Service {
	return &Service{
		gateway:     gateway,
		payments:    payments,
		enrollments: enrollments,
		customers:   customers,
		batches:     batches,
		coupons:     coupons,
		tx:          tx,
		notifier:    notifier,
		lg:          lg,
		now:         time.Now,
	}
}

// Calculate returns a pricing preview for the enrollment under the given
// method and installment count. It performs no writes.
func (s *Service) Calculate(ctx context.Context, enrollmentID string, method enrollment.PaymentMethod, installments int) (*pricing.Quote, error) {
	if installments < 1 {
		installments = 1
	}

	enr, err := s.enrollments.GetByID(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	b, err := s.batches.GetByID(ctx, enr.BatchID)
	if err != nil {
		return nil, err
	}
	c, err := s.boundCoupon(ctx, enr)
	if err != nil {
		return nil, err
	}

	// The preview enforces the same installment rules as creation, so a
	// quote the user saw is always one they can actually pay.
	if err := validateInstallments(method, installments, b, c); err != nil {
		return nil, err
	}

	q := pricing.Compute(b, method, c, installments)
	return &q, nil
}

// CreatePaymentRequest is the input for creating payment(s) for an enrollment.
type CreatePaymentRequest struct {
	EnrollmentID string
	Method       enrollment.PaymentMethod
	Installments int
	Card         CardInput
}

// CreatePayments validates the request, updates the enrollment's method,
// installment count and amounts, and issues the gateway charge(s). It
// returns the full ordered list of created payments: for installment plans
// callers treat the first as the current one, but must not assume a single
// Payment models the whole plan.
//
// A gateway failure leaves no local payment rows behind, so the caller can
// safely retry.
func (s *Service) CreatePayments(ctx context.Context, req CreatePaymentRequest) ([]*Payment, error) {
	if req.Installments < 1 {
		req.Installments = 1
	}

	enr, err := s.enrollments.GetByID(ctx, req.EnrollmentID)
	if err != nil {
		return nil, err
	}
	if !enr.IsPendingPayment() {
		return nil, ErrEnrollmentNotPending
	}

	existing, err := s.payments.ListByEnrollment(ctx, enr.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list payments")
	}
	for _, p := range existing {
		if p.Status != StatusCancelled {
			return nil, ErrEnrollmentHasPayments
		}
	}

	b, err := s.batches.GetByID(ctx, enr.BatchID)
	if err != nil {
		return nil, err
	}
	cp, err := s.boundCoupon(ctx, enr)
	if err != nil {
		return nil, err
	}

	if err := validateInstallments(req.Method, req.Installments, b, cp); err != nil {
		return nil, err
	}
	if req.Method == enrollment.MethodCreditCard && req.Card.Empty() {
		return nil, ErrCardRequired
	}

	// Recompute and persist the enrollment amounts for the chosen method.
	q := pricing.Compute(b, req.Method, cp, req.Installments)
	enr.PaymentMethod = req.Method
	enr.Installments = req.Installments
	enr.TotalAmount = q.Total
	enr.DiscountAmount = q.Discount
	enr.FinalAmount = q.Final
	if err := s.enrollments.Update(ctx, enr); err != nil {
		return nil, errors.Wrap(err, "update enrollment")
	}

	cust, err := s.EnsureCustomer(ctx, enr.UserID)
	if err != nil {
		return nil, err
	}

	switch req.Method {
	case enrollment.MethodPixCash:
		p, err := s.createCashPayment(ctx, enr, cust)
		if err != nil {
			return nil, err
		}
		return []*Payment{p}, nil
	case enrollment.MethodPixInstallment:
		return s.createInstallmentPayments(ctx, enr, cust, req.Installments)
	case enrollment.MethodCreditCard:
		p, err := s.createCardPayment(ctx, enr, cust, req.Installments, req.Card)
		if err != nil {
			return nil, err
		}
		return []*Payment{p}, nil
	default:
		return nil, enrollment.ErrUnknownPaymentMethod
	}
}

func validateInstallments(method enrollment.PaymentMethod, count int, b *batch.Batch, cp *coupon.Coupon) error {
	switch method {
	case enrollment.MethodPixCash:
		if count != 1 {
			return ErrCashSingleInstallment
		}
	case enrollment.MethodPixInstallment, enrollment.MethodCreditCard:
		maxCount := b.MaxInstallments
		if cp != nil {
			maxCount = cp.MaxInstallments(maxCount)
		}
		if count > maxCount {
			return &InstallmentLimitError{Max: maxCount}
		}
	}
	return nil
}

// boundCoupon loads the enrollment's coupon, when one is bound.
func (s *Service) boundCoupon(ctx context.Context, enr *enrollment.Enrollment) (*coupon.Coupon, error) {
	if enr.CouponCode == "" {
		return nil, nil
	}
	c, err := s.coupons.FindByCode(ctx, enr.CouponCode)
	if err != nil {
		return nil, errors.Wrapf(err, "coupon %q", enr.CouponCode)
	}
	return c, nil
}

// EnsureCustomer returns the gateway customer id for the user, creating the
// gateway customer on first use. The tax id is sourced from the most recent
// enrollment's form data, falling back to the stored profile, and validated
// locally before any network call.
func (s *Service) EnsureCustomer(ctx context.Context, userID string) (*customer.Customer, error) {
	cust, err := s.customers.GetByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, customer.ErrNotFound) {
			return nil, errors.Wrap(err, "load customer")
		}
		cust = &customer.Customer{UserID: userID}
	}
	if cust.AsaasCustomerID != "" {
		return cust, nil
	}

	taxID := cust.TaxID
	name := cust.FullName
	latest, err := s.enrollments.LatestByUser(ctx, userID)
	if err != nil && !errors.Is(err, enrollment.ErrNotFound) {
		return nil, errors.Wrap(err, "load latest enrollment")
	}
	if latest != nil {
		if v := cpf.Normalize(latest.FormTaxID()); v != "" {
			taxID = v
		}
		if name == "" {
			name = latest.FormFullName()
		}
	}

	taxID = cpf.Normalize(taxID)
	if taxID == "" {
		return nil, ErrTaxIDRequired
	}
	if !cpf.Valid(taxID) {
		return nil, ErrTaxIDInvalid
	}
	if name == "" {
		name = cust.Email
	}

	gatewayID, err := s.gateway.CreateCustomer(ctx, CustomerRequest{
		Name:  name,
		Email: cust.Email,
		TaxID: taxID,
		Phone: cust.Phone,
	})
	if err != nil {
		return nil, err
	}

	cust.TaxID = taxID
	cust.AsaasCustomerID = gatewayID
	if err := s.customers.Save(ctx, cust); err != nil {
		return nil, errors.Wrap(err, "save customer")
	}
	return cust, nil
}

// createCashPayment issues a single PIX charge for the final amount, due in
// three days, and persists one Pending payment with the QR artifacts.
func (s *Service) createCashPayment(ctx context.Context, enr *enrollment.Enrollment, cust *customer.Customer) (*Payment, error) {
	dueDate := s.now().AddDate(0, 0, cashDueDays)

	charge, err := s.gateway.CreatePixCharge(ctx, PixChargeRequest{
		CustomerID:        cust.AsaasCustomerID,
		Value:             enr.FinalAmount,
		DueDate:           dueDate,
		Description:       chargeDescription(enr, 0, 0),
		ExternalReference: enr.ID,
	})
	if err != nil {
		return nil, err
	}
	qr, err := s.gateway.GetPixQRCode(ctx, charge.ID)
	if err != nil {
		return nil, err
	}

	p := &Payment{
		ID:                uuid.New().String(),
		EnrollmentID:      enr.ID,
		AsaasPaymentID:    charge.ID,
		InstallmentNumber: 1,
		InstallmentCount:  1,
		Amount:            enr.FinalAmount,
		Status:            StatusPending,
		DueDate:           dueDate,
		InvoiceURL:        charge.InvoiceURL,
		PixQRCode:         qr.EncodedImage,
		PixCopyPaste:      qr.Payload,
		RawPayload:        charge.Raw,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "persist payment")
	}
	return p, nil
}

// createInstallmentPayments issues one PIX charge per installment, 30 days
// apart, splitting the final amount so the plan sums to it exactly. The
// first payment starts Pending, later ones Created. Local rows are written
// in one transaction only after every gateway call succeeded; on a mid-plan
// gateway failure, already-created charges are cancelled best-effort.
func (s *Service) createInstallmentPayments(ctx context.Context, enr *enrollment.Enrollment, cust *customer.Customer, count int) ([]*Payment, error) {
	schedule := pricing.Schedule(enr.FinalAmount, count, s.now())

	plan := make([]*Payment, 0, count)
	for _, inst := range schedule {
		charge, err := s.gateway.CreatePixCharge(ctx, PixChargeRequest{
			CustomerID:        cust.AsaasCustomerID,
			Value:             inst.Amount,
			DueDate:           inst.DueDate,
			Description:       chargeDescription(enr, inst.Number, count),
			ExternalReference: fmt.Sprintf("%s-%d", enr.ID, inst.Number),
		})
		if err != nil {
			s.rollbackCharges(ctx, plan)
			return nil, err
		}
		qr, err := s.gateway.GetPixQRCode(ctx, charge.ID)
		if err != nil {
			s.rollbackCharges(ctx, plan)
			s.cancelChargeQuietly(ctx, charge.ID)
			return nil, err
		}

		status := StatusCreated
		if inst.Number == 1 {
			status = StatusPending
		}
		plan = append(plan, &Payment{
			ID:                uuid.New().String(),
			EnrollmentID:      enr.ID,
			AsaasPaymentID:    charge.ID,
			InstallmentNumber: inst.Number,
			InstallmentCount:  count,
			Amount:            inst.Amount,
			Status:            status,
			DueDate:           inst.DueDate,
			InvoiceURL:        charge.InvoiceURL,
			PixQRCode:         qr.EncodedImage,
			PixCopyPaste:      qr.Payload,
			RawPayload:        charge.Raw,
		})
	}

	if err := s.payments.CreatePlan(ctx, plan); err != nil {
		s.rollbackCharges(ctx, plan)
		return nil, errors.Wrap(err, "persist installment plan")
	}
	return plan, nil
}

// createCardPayment issues a single credit card charge. Even when the
// gateway splits it into installments, one local payment represents the
// whole charge, due today.
func (s *Service) createCardPayment(ctx context.Context, enr *enrollment.Enrollment, cust *customer.Customer, installments int, card CardInput) (*Payment, error) {
	holder := CustomerRequest{
		Name:       cust.FullName,
		Email:      cust.Email,
		TaxID:      cust.TaxID,
		Phone:      cust.Phone,
		PostalCode: "",
	}
	if latest, err := s.enrollments.LatestByUser(ctx, enr.UserID); err == nil {
		if holder.Name == "" {
			holder.Name = latest.FormFullName()
		}
		holder.PostalCode = cpf.Normalize(latest.FormPostalCode())
		if phone := digitsOnly(latest.FormPhone()); len(phone) >= 10 {
			holder.Phone = phone
		}
	}
	if holder.Name == "" {
		holder.Name = cust.Email
	}

	charge, err := s.gateway.CreateCardCharge(ctx, CardChargeRequest{
		CustomerID:        cust.AsaasCustomerID,
		Value:             enr.FinalAmount,
		Installments:      installments,
		Card:              card,
		Holder:            holder,
		Description:       chargeDescription(enr, 0, 0),
		ExternalReference: enr.ID,
	})
	if err != nil {
		return nil, err
	}

	p := &Payment{
		ID:                uuid.New().String(),
		EnrollmentID:      enr.ID,
		AsaasPaymentID:    charge.ID,
		InstallmentNumber: 1,
		InstallmentCount:  1,
		Amount:            enr.FinalAmount,
		Status:            StatusPending,
		DueDate:           s.now(),
		InvoiceURL:        charge.InvoiceURL,
		RawPayload:        charge.Raw,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "persist payment")
	}
	return p, nil
}

// rollbackCharges cancels already-created gateway charges after a mid-plan
// failure, so no orphan charge stays payable. Failures are only logged: the
// local state is already clean.
func (s *Service) rollbackCharges(ctx context.Context, plan []*Payment) {
	for _, p := range plan {
		s.cancelChargeQuietly(ctx, p.AsaasPaymentID)
	}
}

func (s *Service) cancelChargeQuietly(ctx context.Context, chargeID string) {
	if err := s.gateway.CancelCharge(ctx, chargeID); err != nil {
		s.lg.Warn("failed to cancel orphan charge",
			zap.String("charge_id", chargeID),
			zap.Error(err),
		)
	}
}

// ReconcileResult reports what a status application changed.
type ReconcileResult struct {
	Payment *Payment
	// StatusChanged is false when the event was a replay.
	StatusChanged bool
	// EnrollmentPaid is true when this application transitioned the
	// enrollment to Paid (exactly once per enrollment).
	EnrollmentPaid bool
}

// ApplyStatus is the single idempotent reconciliation entry point shared by
// the webhook and polling paths. Inside one transaction it locks the owning
// enrollment, updates the payment, stamps paid_at once, and recomputes the
// enrollment: Paid iff it has at least one payment and every payment is
// paid. Replaying the same event is a no-op beyond refreshing the stored
// raw payload.
//
// The confirmation notification fires after the transaction commits; its
// failure is logged and never surfaced.
func (s *Service) ApplyStatus(ctx context.Context, paymentID string, newStatus Status, raw []byte) (*ReconcileResult, error) {
	var (
		result  ReconcileResult
		paidEnr *enrollment.Enrollment
	)
	err := s.tx.InTx(ctx, func(tx Tx) error {
		p, err := tx.PaymentByID(ctx, paymentID)
		if err != nil {
			return err
		}
		enr, err := tx.LockEnrollment(ctx, p.EnrollmentID)
		if err != nil {
			return err
		}
		// Re-read under the enrollment lock so concurrent webhook and
		// poll updates for the same payment serialize.
		p, err = tx.PaymentByID(ctx, paymentID)
		if err != nil {
			return err
		}

		// Refunded and Cancelled are terminal: a stale or replayed event
		// arriving afterwards only refreshes the audit payload.
		if p.Status.IsTerminal() && newStatus != p.Status {
			if len(raw) > 0 {
				p.RawPayload = raw
				if err := tx.SavePayment(ctx, p); err != nil {
					return errors.Wrap(err, "save payment")
				}
			}
			result.Payment = p
			return nil
		}

		result.StatusChanged = p.Status != newStatus
		p.Status = newStatus
		if newStatus.IsPaid() && p.PaidAt == nil {
			now := s.now()
			p.PaidAt = &now
		}
		if len(raw) > 0 {
			p.RawPayload = raw
		}
		if err := tx.SavePayment(ctx, p); err != nil {
			return errors.Wrap(err, "save payment")
		}
		result.Payment = p

		all, err := tx.PaymentsByEnrollment(ctx, enr.ID)
		if err != nil {
			return errors.Wrap(err, "list payments")
		}
		// Only a pending enrollment may transition to Paid: cancelled or
		// expired enrollments stay where they are.
		if enr.Status == enrollment.StatusPendingPayment && allPaid(all) {
			enr.Status = enrollment.StatusPaid
			if enr.PaidAt == nil {
				now := s.now()
				enr.PaidAt = &now
			}
			if err := tx.SaveEnrollment(ctx, enr); err != nil {
				return errors.Wrap(err, "save enrollment")
			}
			result.EnrollmentPaid = true
			paidEnr = enr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.EnrollmentPaid {
		s.notifyPaid(ctx, paidEnr)
	}
	return &result, nil
}

// allPaid reports whether the enrollment has at least one payment and every
// payment is in a paid state. An enrollment with zero payments never counts
// as paid.
func allPaid(payments []Payment) bool {
	if len(payments) == 0 {
		return false
	}
	for _, p := range payments {
		if !p.Status.IsPaid() {
			return false
		}
	}
	return true
}

func (s *Service) notifyPaid(ctx context.Context, enr *enrollment.Enrollment) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PaymentConfirmed(ctx, enr); err != nil {
		s.lg.Error("payment confirmation notification failed",
			zap.String("enrollment_id", enr.ID),
			zap.Error(err),
		)
	}
}

// ReconcileEvent applies a webhook event for the charge identified by its
// gateway id. Events for unknown charges are silently dropped: they belong
// to another system or were not yet persisted.
func (s *Service) ReconcileEvent(ctx context.Context, asaasPaymentID, event string, raw []byte) (*ReconcileResult, error) {
	status, ok := StatusForEvent(event)
	if !ok {
		s.lg.Debug("ignoring unknown webhook event", zap.String("event", event))
		return nil, nil
	}
	p, err := s.payments.FindByAsaasID(ctx, asaasPaymentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.lg.Debug("webhook for unknown charge dropped",
				zap.String("asaas_payment_id", asaasPaymentID),
			)
			return nil, nil
		}
		return nil, err
	}
	return s.ApplyStatus(ctx, p.ID, status, raw)
}

// SyncPayment fetches the charge's current status from the gateway and
// applies it through the same reconciliation path as the webhook, making
// webhook delivery failures recoverable.
func (s *Service) SyncPayment(ctx context.Context, paymentID string) (*ReconcileResult, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.AsaasPaymentID == "" {
		return nil, nil
	}

	charge, err := s.gateway.GetCharge(ctx, p.AsaasPaymentID)
	if err != nil {
		return nil, err
	}
	status, ok := StatusForProvider(charge.Status)
	if !ok {
		s.lg.Warn("unknown provider status, skipping",
			zap.String("payment_id", p.ID),
			zap.String("provider_status", charge.Status),
		)
		return nil, nil
	}
	return s.ApplyStatus(ctx, p.ID, status, charge.Raw)
}

// SyncAll reconciles every payment with a known gateway charge id that is
// not yet terminal. Per-payment failures are logged and do not abort the
// batch; the first error is reported after the sweep completes.
func (s *Service) SyncAll(ctx context.Context) error {
	payments, err := s.payments.ListSyncable(ctx)
	if err != nil {
		return errors.Wrap(err, "list syncable payments")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(syncConcurrency)
	for _, p := range payments {
		g.Go(func() error {
			if _, err := s.SyncPayment(ctx, p.ID); err != nil {
				s.lg.Error("payment sync failed",
					zap.String("payment_id", p.ID),
					zap.Error(err),
				)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// CancelPayment cancels a not-yet-paid payment at the gateway and locally.
func (s *Service) CancelPayment(ctx context.Context, paymentID string) (*Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.Status.CanBeCancelled() {
		return nil, ErrNotCancellable
	}
	if p.AsaasPaymentID != "" {
		if err := s.gateway.CancelCharge(ctx, p.AsaasPaymentID); err != nil {
			return nil, err
		}
	}
	res, err := s.ApplyStatus(ctx, p.ID, StatusCancelled, nil)
	if err != nil {
		return nil, err
	}
	return res.Payment, nil
}

// RefundPayment refunds a paid payment (partially when amount is non-nil)
// and cascades the owning enrollment to Cancelled.
func (s *Service) RefundPayment(ctx context.Context, paymentID string, amount *decimal.Decimal) (*Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.Status.IsPaid() {
		return nil, ErrNotRefundable
	}
	if err := s.gateway.RefundCharge(ctx, p.AsaasPaymentID, amount); err != nil {
		return nil, err
	}

	var refunded *Payment
	err = s.tx.InTx(ctx, func(tx Tx) error {
		enr, err := tx.LockEnrollment(ctx, p.EnrollmentID)
		if err != nil {
			return err
		}
		p, err := tx.PaymentByID(ctx, paymentID)
		if err != nil {
			return err
		}
		p.Status = StatusRefunded
		if err := tx.SavePayment(ctx, p); err != nil {
			return errors.Wrap(err, "save payment")
		}
		enr.Status = enrollment.StatusCancelled
		if err := tx.SaveEnrollment(ctx, enr); err != nil {
			return errors.Wrap(err, "save enrollment")
		}
		refunded = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

func chargeDescription(enr *enrollment.Enrollment, installment, total int) string {
	if installment > 0 && total > 1 {
		return fmt.Sprintf("Enrollment %s - installment %d/%d", enr.ID, installment, total)
	}
	return fmt.Sprintf("Enrollment %s", enr.ID)
}

func digitsOnly(s string) string {
	out := make([]byte, 0, len(s))
	for i := range len(s) {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
