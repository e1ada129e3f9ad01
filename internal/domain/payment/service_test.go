package payment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/batch"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/coupon"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/customer"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/enrollment"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// --- In-memory store shared by the repository and transaction mocks ---

type memStore struct {
	enrollments map[string]*enrollment.Enrollment
	payments    map[string]*Payment
}

func newMemStore() *memStore {
	return &memStore{
		enrollments: make(map[string]*enrollment.Enrollment),
		payments:    make(map[string]*Payment),
	}
}

func (s *memStore) enrollmentCopy(id string) (*enrollment.Enrollment, error) {
	e, ok := s.enrollments[id]
	if !ok {
		return nil, enrollment.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *memStore) paymentCopy(id string) (*Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) paymentsOf(enrollmentID string) []Payment {
	var out []Payment
	for _, p := range s.payments {
		if p.EnrollmentID == enrollmentID {
			out = append(out, *p)
		}
	}
	return out
}

// --- Mock implementations ---

type mockEnrollmentRepo struct {
	store *memStore
}

func (m *mockEnrollmentRepo) GetByID(_ context.Context, id string) (*enrollment.Enrollment, error) {
	return m.store.enrollmentCopy(id)
}

func (m *mockEnrollmentRepo) LatestByUser(_ context.Context, userID string) (*enrollment.Enrollment, error) {
	var latest *enrollment.Enrollment
	for _, e := range m.store.enrollments {
		if e.UserID != userID {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, enrollment.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *mockEnrollmentRepo) Update(_ context.Context, e *enrollment.Enrollment) error {
	if _, ok := m.store.enrollments[e.ID]; !ok {
		return enrollment.ErrNotFound
	}
	cp := *e
	m.store.enrollments[e.ID] = &cp
	return nil
}

type mockPaymentRepo struct {
	store     *memStore
	createErr error
}

func (m *mockPaymentRepo) Create(_ context.Context, p *Payment) error {
	if m.createErr != nil {
		return m.createErr
	}
	cp := *p
	m.store.payments[p.ID] = &cp
	return nil
}

func (m *mockPaymentRepo) CreatePlan(ctx context.Context, plan []*Payment) error {
	for _, p := range plan {
		if err := m.Create(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockPaymentRepo) GetByID(_ context.Context, id string) (*Payment, error) {
	return m.store.paymentCopy(id)
}

func (m *mockPaymentRepo) FindByAsaasID(_ context.Context, asaasID string) (*Payment, error) {
	for _, p := range m.store.payments {
		if p.AsaasPaymentID == asaasID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockPaymentRepo) ListByEnrollment(_ context.Context, enrollmentID string) ([]Payment, error) {
	return m.store.paymentsOf(enrollmentID), nil
}

func (m *mockPaymentRepo) ListSyncable(_ context.Context) ([]Payment, error) {
	var out []Payment
	for _, p := range m.store.payments {
		if p.AsaasPaymentID != "" && !p.Status.IsTerminal() {
			out = append(out, *p)
		}
	}
	return out, nil
}

type memTx struct {
	store *memStore
}

func (t *memTx) LockEnrollment(_ context.Context, id string) (*enrollment.Enrollment, error) {
	return t.store.enrollmentCopy(id)
}

func (t *memTx) PaymentByID(_ context.Context, id string) (*Payment, error) {
	return t.store.paymentCopy(id)
}

func (t *memTx) PaymentsByEnrollment(_ context.Context, enrollmentID string) ([]Payment, error) {
	return t.store.paymentsOf(enrollmentID), nil
}

func (t *memTx) SavePayment(_ context.Context, p *Payment) error {
	cp := *p
	t.store.payments[p.ID] = &cp
	return nil
}

func (t *memTx) SaveEnrollment(_ context.Context, e *enrollment.Enrollment) error {
	cp := *e
	t.store.enrollments[e.ID] = &cp
	return nil
}

type mockTxRunner struct {
	store *memStore
}

func (m *mockTxRunner) InTx(_ context.Context, fn func(tx Tx) error) error {
	return fn(&memTx{store: m.store})
}

type mockCustomerRepo struct {
	byUser map[string]*customer.Customer
	saved  int
}

func (m *mockCustomerRepo) GetByUserID(_ context.Context, userID string) (*customer.Customer, error) {
	c, ok := m.byUser[userID]
	if !ok {
		return nil, customer.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCustomerRepo) Save(_ context.Context, c *customer.Customer) error {
	cp := *c
	m.byUser[c.UserID] = &cp
	m.saved++
	return nil
}

type mockBatchRepo struct {
	byID map[string]*batch.Batch
}

func (m *mockBatchRepo) GetByID(_ context.Context, id string) (*batch.Batch, error) {
	b, ok := m.byID[id]
	if !ok {
		return nil, batch.ErrNotFound
	}
	return b, nil
}

type mockCouponRepo struct {
	byCode map[string]*coupon.Coupon
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	c, ok := m.byCode[code]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return c, nil
}

func (m *mockCouponRepo) IncrementUses(_ context.Context, _ string) error { return nil }

type mockGateway struct {
	customerID        string
	createCustomerErr error
	customerCalls     int

	pixCharges  []PixChargeRequest
	chargeErrAt int // 1-based call index that fails; 0 never fails
	cardReq     *CardChargeRequest
	cardErr     error

	getCharge    *GatewayCharge
	getChargeErr error

	qrErr     error
	cancelled []string
	refunded  []string
	refundErr error
}

func (g *mockGateway) CreateCustomer(_ context.Context, _ CustomerRequest) (string, error) {
	g.customerCalls++
	if g.createCustomerErr != nil {
		return "", g.createCustomerErr
	}
	if g.customerID == "" {
		return "cus_1", nil
	}
	return g.customerID, nil
}

func (g *mockGateway) CreatePixCharge(_ context.Context, req PixChargeRequest) (*GatewayCharge, error) {
	call := len(g.pixCharges) + 1
	if g.chargeErrAt > 0 && call == g.chargeErrAt {
		return nil, errors.New("gateway unavailable")
	}
	g.pixCharges = append(g.pixCharges, req)
	return &GatewayCharge{
		ID:         fmt.Sprintf("ch_%d", call),
		Status:     "PENDING",
		Value:      req.Value,
		DueDate:    req.DueDate,
		InvoiceURL: "https://invoice.example/" + fmt.Sprint(call),
		Raw:        []byte(`{"id":"raw"}`),
	}, nil
}

func (g *mockGateway) CreateCardCharge(_ context.Context, req CardChargeRequest) (*GatewayCharge, error) {
	if g.cardErr != nil {
		return nil, g.cardErr
	}
	g.cardReq = &req
	return &GatewayCharge{
		ID:         "card_1",
		Status:     "CONFIRMED",
		Value:      req.Value,
		InvoiceURL: "https://invoice.example/card",
		Raw:        []byte(`{"id":"raw"}`),
	}, nil
}

func (g *mockGateway) GetCharge(_ context.Context, _ string) (*GatewayCharge, error) {
	return g.getCharge, g.getChargeErr
}

func (g *mockGateway) GetPixQRCode(_ context.Context, _ string) (*PixArtifacts, error) {
	if g.qrErr != nil {
		return nil, g.qrErr
	}
	return &PixArtifacts{EncodedImage: "base64img", Payload: "pix-copy-paste"}, nil
}

func (g *mockGateway) CancelCharge(_ context.Context, id string) error {
	g.cancelled = append(g.cancelled, id)
	return nil
}

func (g *mockGateway) RefundCharge(_ context.Context, id string, _ *decimal.Decimal) error {
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refunded = append(g.refunded, id)
	return nil
}

type mockNotifier struct {
	confirmed []string
	err       error
}

func (n *mockNotifier) PaymentConfirmed(_ context.Context, e *enrollment.Enrollment) error {
	n.confirmed = append(n.confirmed, e.ID)
	return n.err
}

// --- Fixture ---

var fixedNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	store    *memStore
	gateway  *mockGateway
	notifier *mockNotifier
	coupons  *mockCouponRepo
	batches  *mockBatchRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	gw := &mockGateway{}
	notifier := &mockNotifier{}
	coupons := &mockCouponRepo{byCode: make(map[string]*coupon.Coupon)}
	batches := &mockBatchRepo{byID: map[string]*batch.Batch{
		"b1": {
			ID:                    "b1",
			ProductID:             "p1",
			Name:                  "Lote 1",
			Price:                 dec("1500.00"),
			PixDiscountPercentage: dec("10"),
			MaxInstallments:       8,
			Status:                batch.StatusActive,
		},
	}}
	customers := &mockCustomerRepo{byUser: make(map[string]*customer.Customer)}

	svc := NewService(
		gw,
		&mockPaymentRepo{store: store},
		&mockEnrollmentRepo{store: store},
		customers,
		batches,
		coupons,
		&mockTxRunner{store: store},
		notifier,
		zap.NewNop(),
	)
	svc.now = func() time.Time { return fixedNow }

	return &fixture{
		svc:      svc,
		store:    store,
		gateway:  gw,
		notifier: notifier,
		coupons:  coupons,
		batches:  batches,
	}
}

func (f *fixture) addEnrollment(id string) *enrollment.Enrollment {
	e := &enrollment.Enrollment{
		ID:        id,
		UserID:    "u1",
		ProductID: "p1",
		BatchID:   "b1",
		Status:    enrollment.StatusPendingPayment,
		FormData: map[string]string{
			enrollment.FormKeyTaxID:    "529.982.247-25",
			enrollment.FormKeyFullName: "Maria Silva",
			enrollment.FormKeyPhone:    "(11) 98888-7777",
			enrollment.FormKeyPostal:   "01310-100",
		},
		CreatedAt: fixedNow.Add(-time.Hour),
	}
	f.store.enrollments[id] = e
	return e
}

func (f *fixture) addPayment(p *Payment) {
	cp := *p
	f.store.payments[p.ID] = &cp
}

// --- Calculate ---

func TestCalculate_PixCashQuote(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")

	q, err := f.svc.Calculate(context.Background(), "e1", enrollment.MethodPixCash, 1)
	require.NoError(t, err)
	assert.True(t, dec("1350.00").Equal(q.Final))
	assert.Empty(t, f.store.payments, "calculate never writes")
}

func TestCalculate_EnforcesInstallmentRules(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")

	_, err := f.svc.Calculate(context.Background(), "e1", enrollment.MethodPixInstallment, 9)
	var limitErr *InstallmentLimitError
	require.ErrorAs(t, err, &limitErr, "a preview the user cannot pay must be rejected")
	assert.Equal(t, 8, limitErr.Max)

	_, err = f.svc.Calculate(context.Background(), "e1", enrollment.MethodPixCash, 3)
	require.ErrorIs(t, err, ErrCashSingleInstallment)

	q, err := f.svc.Calculate(context.Background(), "e1", enrollment.MethodPixInstallment, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, q.Installments)
}

// --- CreatePayments ---

func TestCreatePayments_EnrollmentNotPending(t *testing.T) {
	f := newFixture(t)
	e := f.addEnrollment("e1")
	e.Status = enrollment.StatusPaid

	_, err := f.svc.CreatePayments(context.Background(), CreatePaymentRequest{
		EnrollmentID: "e1",
		Method:       enrollment.MethodPixCash,
	})
	require.ErrorIs(t, err, ErrEnrollmentNotPending)
}

func TestCreatePayments_ExistingActivePayment(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")
	f.addPayment(&Payment{ID: "pay1", EnrollmentID: "e1", Status: StatusPending, Amount: dec("100")})

	_, err := f.svc.CreatePayments(context.Background(), CreatePaymentRequest{
		EnrollmentID: "e1",
		Method:       enrollment.MethodPixCash,
	})
	require.ErrorIs(t, err, ErrEnrollmentHasPayments)
}

func TestCreatePayments_CancelledPaymentsDoNotBlock(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")
	f.addPayment(&Payment{ID: "pay1", EnrollmentID: "e1", Status: StatusCancelled, Amount: dec("100")})

	created, err := f.svc.CreatePayments(context.Background(), CreatePaymentRequest{
		EnrollmentID: "e1",
		Method:       enrollment.MethodPixCash,
		Installments: 1,
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
}

func TestCreatePayments_PixCash(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")

	created, err := f.svc.CreatePayments(context.Background(), CreatePaymentRequest{
		EnrollmentID: "e1",
		Method:       enrollment.MethodPixCash,
		Installments: 1,
	})
	require.NoError(t, err)
	require.Len(t, created, 1)

	p := created[0]
	assert.True(t, dec("1350.00").Equal(p.Amount), "10%% PIX discount off 1500")
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, fixedNow.AddDate(0, 0, 3), p.DueDate)
	assert.Equal(t, "base64img", p.PixQRCode)
	assert.Equal(t, "pix-copy-paste", p.PixCopyPaste)
	assert.NotEmpty(t, p.AsaasPaymentID)

	enr := f.store.enrollments["e1"]
	assert.Equal(t, enrollment.MethodPixCash, enr.PaymentMethod)
	assert.True(t, dec("1500.00").Equal(enr.TotalAmount))
	assert.True(t, dec("150.00").Equal(enr.DiscountAmount))
	assert.True(t, dec("1350.00").Equal(enr.FinalAmount))
}

func TestCreatePayments_CashRequiresSingleInstallment(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")

	_, err := f.svc.CreatePayments(context.Background(), CreatePaymentRequest{
		EnrollmentID: "e1",
		Method:       enrollment.MethodPixCash,
		Installments: 3,
	})
	require.ErrorIs(t, err, ErrCashSingleInstallment)
}

func TestCreatePayments_InstallmentPlan(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")

	created, err := f.svc.CreatePayments(context.Background(), CreatePaymentRequest{
		EnrollmentID: "e1",
		Method:       enrollment.MethodPixInstallment,
		Installments: 7,
	})
	require.NoError(t, err)
	require.Len(t, created, 7)

	// 1500 / 7 = 214.28 truncated; the last slot absorbs the remainder.
	sum := decimal.Zero
	for i, p := range created {
		assert.Equal(t, i+1, p.InstallmentNumber)
		assert.Equal(t, 7, p.InstallmentCount)
		assert.Equal(t, fixedNow.AddDate(0, 0, 30*(i+1)), p.DueDate)
		if i == 0 {
			assert.Equal(t, StatusPending, p.Status)
		} else {
			assert.Equal(t, StatusCreated, p.Status)
		}
		sum = sum.Add(p.Amount)
	}
	assert.True(t, dec("214.28").Equal(created[0].Amount))
	assert.True(t, dec("214.32").Equal(created[6].Amount))
	assert.True(t, dec("1500.00").Equal(sum), "plan must sum exactly to the final amount")

	assert.Len(t, f.store.payments, 7)
}

func TestCreatePayments_InstallmentLimit(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")

	_, err := f.svc.CreatePayments(context.Background(), CreatePaymentRequest{
		EnrollmentID: "e1",
		Method:       enrollment.MethodPixInstallment,
		Installments: 9,
	})

	var limitErr *InstallmentLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 8, limitErr.Max)
}

func TestCreatePayments_CouponExtendsInstallmentLimit(t *testing.T) {
	f := newFixture(t)
	e := f.addEnrollment("e1")
	e.CouponCode = "TURMA12X"
	f.coupons.byCode["TURMA12X"] = &coupon.Coupon{
		Code:          "TURMA12X",
		DiscountType:  coupon.DiscountPercentage,
		DiscountValue: dec("5"),
		Active:        true,
		Enable12x:     true,
	}

	created, err := f.svc.CreatePayments(context.Background(), CreatePaymentRequest{
		EnrollmentID: "e1",
		Method:       enrollment.MethodPixInstallment,
		Installments: 12,
	})
	require.NoError(t, err)
	assert.Len(t, created, 12)

	// The coupon discount applies instead of the PIX discount.
	enr := f.store.enrollments["e1"]
	assert.True(t, dec("75.00").Equal(enr.DiscountAmount))
	assert.True(t, dec("1425.00").Equal(enr.FinalAmount))
}

func TestCreatePayments_GatewayFailureLeavesNoLocalRows(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")
	f.gateway.chargeErrAt = 3

	_, err := f.svc.CreatePayments(context.Background(), CreatePaymentRequest{
		EnrollmentID: "e1",
		Method:       enrollment.MethodPixInstallment,
		Installments: 4,
	})
	require.Error(t, err)

	assert.Empty(t, f.store.payments, "no local payment may survive a failed plan")
	assert.ElementsMatch(t, []string{"ch_1", "ch_2"}, f.gateway.cancelled,
		"already-created charges must be cancelled")
}

func TestCreatePayments_CardRequiresCardData(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")

	_, err := f.svc.CreatePayments(context.Background(), CreatePaymentRequest{
		EnrollmentID: "e1",
		Method:       enrollment.MethodCreditCard,
		Installments: 1,
	})
	require.ErrorIs(t, err, ErrCardRequired)
}

func TestCreatePayments_CreditCard(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")

	created, err := f.svc.CreatePayments(context.Background(), CreatePaymentRequest{
		EnrollmentID: "e1",
		Method:       enrollment.MethodCreditCard,
		Installments: 3,
		Card:         CardInput{Token: "tok_123"},
	})
	require.NoError(t, err)
	require.Len(t, created, 1, "one local payment models the whole card charge")

	p := created[0]
	assert.True(t, dec("1500.00").Equal(p.Amount), "no discount on credit card")
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, fixedNow, p.DueDate)

	require.NotNil(t, f.gateway.cardReq)
	assert.Equal(t, 3, f.gateway.cardReq.Installments)
	assert.Equal(t, "01310100", f.gateway.cardReq.Holder.PostalCode)
	assert.Equal(t, "11988887777", f.gateway.cardReq.Holder.Phone)
}

// --- EnsureCustomer ---

func TestEnsureCustomer_CreatesGatewayCustomerOnce(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")

	first, err := f.svc.EnsureCustomer(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", first.AsaasCustomerID)
	assert.Equal(t, "52998224725", first.TaxID)
	assert.Equal(t, 1, f.gateway.customerCalls)

	second, err := f.svc.EnsureCustomer(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", second.AsaasCustomerID)
	assert.Equal(t, 1, f.gateway.customerCalls, "existing mapping must be reused")
}

func TestEnsureCustomer_InvalidTaxID(t *testing.T) {
	f := newFixture(t)
	e := f.addEnrollment("e1")
	e.FormData[enrollment.FormKeyTaxID] = "111.111.111-11"

	_, err := f.svc.EnsureCustomer(context.Background(), "u1")
	require.ErrorIs(t, err, ErrTaxIDInvalid)
	assert.Zero(t, f.gateway.customerCalls, "invalid tax ids never reach the gateway")
}

func TestEnsureCustomer_MissingTaxID(t *testing.T) {
	f := newFixture(t)
	e := f.addEnrollment("e1")
	delete(e.FormData, enrollment.FormKeyTaxID)

	_, err := f.svc.EnsureCustomer(context.Background(), "u1")
	require.ErrorIs(t, err, ErrTaxIDRequired)
}

// --- ApplyStatus / reconciliation ---

func TestApplyStatus_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")
	f.addPayment(&Payment{ID: "pay1", EnrollmentID: "e1", Status: StatusPending, Amount: dec("1350.00")})

	first, err := f.svc.ApplyStatus(context.Background(), "pay1", StatusConfirmed, []byte(`{"n":1}`))
	require.NoError(t, err)
	assert.True(t, first.StatusChanged)
	assert.True(t, first.EnrollmentPaid)
	require.NotNil(t, first.Payment.PaidAt)
	paidAt := *first.Payment.PaidAt

	second, err := f.svc.ApplyStatus(context.Background(), "pay1", StatusConfirmed, []byte(`{"n":2}`))
	require.NoError(t, err)
	assert.False(t, second.StatusChanged)
	assert.False(t, second.EnrollmentPaid, "enrollment transitions to Paid exactly once")
	require.NotNil(t, second.Payment.PaidAt)
	assert.Equal(t, paidAt, *second.Payment.PaidAt, "paid_at is stamped once")

	assert.Equal(t, []string{"e1"}, f.notifier.confirmed, "exactly one notification")
	assert.Equal(t, []byte(`{"n":2}`), f.store.payments["pay1"].RawPayload,
		"replays still refresh the stored raw payload")
}

func TestApplyStatus_EnrollmentPaidWhenAllInstallmentsPaid(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")
	for i := 1; i <= 3; i++ {
		f.addPayment(&Payment{
			ID:                fmt.Sprintf("pay%d", i),
			EnrollmentID:      "e1",
			Status:            StatusPending,
			InstallmentNumber: i,
			InstallmentCount:  3,
			Amount:            dec("500.00"),
		})
	}

	res, err := f.svc.ApplyStatus(context.Background(), "pay1", StatusReceived, nil)
	require.NoError(t, err)
	assert.False(t, res.EnrollmentPaid)

	res, err = f.svc.ApplyStatus(context.Background(), "pay2", StatusConfirmed, nil)
	require.NoError(t, err)
	assert.False(t, res.EnrollmentPaid)
	assert.Equal(t, enrollment.StatusPendingPayment, f.store.enrollments["e1"].Status)

	res, err = f.svc.ApplyStatus(context.Background(), "pay3", StatusReceived, nil)
	require.NoError(t, err)
	assert.True(t, res.EnrollmentPaid)
	assert.Equal(t, enrollment.StatusPaid, f.store.enrollments["e1"].Status)
	require.NotNil(t, f.store.enrollments["e1"].PaidAt)

	assert.Equal(t, []string{"e1"}, f.notifier.confirmed)
}

func TestApplyStatus_RefundedPaymentIsImmutable(t *testing.T) {
	f := newFixture(t)
	e := f.addEnrollment("e1")
	e.Status = enrollment.StatusCancelled
	f.addPayment(&Payment{ID: "pay1", EnrollmentID: "e1", Status: StatusRefunded, Amount: dec("1350.00")})

	// A stale PAYMENT_CONFIRMED delivered after the refund must not revive
	// the payment or the enrollment.
	res, err := f.svc.ApplyStatus(context.Background(), "pay1", StatusConfirmed, []byte(`{"stale":true}`))
	require.NoError(t, err)
	assert.False(t, res.StatusChanged)
	assert.False(t, res.EnrollmentPaid)
	assert.Equal(t, StatusRefunded, res.Payment.Status)
	assert.Nil(t, res.Payment.PaidAt)

	assert.Equal(t, StatusRefunded, f.store.payments["pay1"].Status)
	assert.Equal(t, enrollment.StatusCancelled, f.store.enrollments["e1"].Status)
	assert.Empty(t, f.notifier.confirmed)
	assert.Equal(t, []byte(`{"stale":true}`), f.store.payments["pay1"].RawPayload,
		"terminal payments still absorb the raw payload for audit")
}

func TestApplyStatus_CancelledPaymentStaysCancelled(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")
	f.addPayment(&Payment{ID: "pay1", EnrollmentID: "e1", Status: StatusCancelled, Amount: dec("100")})

	res, err := f.svc.ApplyStatus(context.Background(), "pay1", StatusReceived, nil)
	require.NoError(t, err)
	assert.False(t, res.StatusChanged)
	assert.Equal(t, StatusCancelled, f.store.payments["pay1"].Status)
	assert.Equal(t, enrollment.StatusPendingPayment, f.store.enrollments["e1"].Status)
}

func TestApplyStatus_OverdueDoesNotPayEnrollment(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")
	f.addPayment(&Payment{ID: "pay1", EnrollmentID: "e1", Status: StatusPending, Amount: dec("100")})

	res, err := f.svc.ApplyStatus(context.Background(), "pay1", StatusOverdue, nil)
	require.NoError(t, err)
	assert.True(t, res.StatusChanged)
	assert.False(t, res.EnrollmentPaid)
	assert.Nil(t, res.Payment.PaidAt)
	assert.Empty(t, f.notifier.confirmed)
}

func TestApplyStatus_NotifierFailureDoesNotSurface(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")
	f.addPayment(&Payment{ID: "pay1", EnrollmentID: "e1", Status: StatusPending, Amount: dec("100")})
	f.notifier.err = errors.New("smtp down")

	res, err := f.svc.ApplyStatus(context.Background(), "pay1", StatusConfirmed, nil)
	require.NoError(t, err)
	assert.True(t, res.EnrollmentPaid)
	assert.Equal(t, enrollment.StatusPaid, f.store.enrollments["e1"].Status)
}

func TestAllPaid_ZeroPaymentsIsNotPaid(t *testing.T) {
	assert.False(t, allPaid(nil))
	assert.False(t, allPaid([]Payment{}))
}

// --- ReconcileEvent ---

func TestReconcileEvent_KnownEvent(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")
	f.addPayment(&Payment{
		ID: "pay1", EnrollmentID: "e1", AsaasPaymentID: "ch_9",
		Status: StatusPending, Amount: dec("100"),
	})

	res, err := f.svc.ReconcileEvent(context.Background(), "ch_9", "PAYMENT_CONFIRMED", []byte(`{}`))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, StatusConfirmed, res.Payment.Status)
}

func TestReconcileEvent_UnknownEventDropped(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.ReconcileEvent(context.Background(), "ch_9", "PAYMENT_BANK_SLIP_VIEWED", nil)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestReconcileEvent_UnknownChargeDropped(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.ReconcileEvent(context.Background(), "ch_unknown", "PAYMENT_CONFIRMED", nil)
	require.NoError(t, err)
	assert.Nil(t, res)
}

// --- SyncPayment ---

func TestSyncPayment_AppliesProviderStatus(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")
	f.addPayment(&Payment{
		ID: "pay1", EnrollmentID: "e1", AsaasPaymentID: "ch_9",
		Status: StatusPending, Amount: dec("100"),
	})
	f.gateway.getCharge = &GatewayCharge{ID: "ch_9", Status: "RECEIVED_IN_CASH", Raw: []byte(`{}`)}

	res, err := f.svc.SyncPayment(context.Background(), "pay1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, StatusReceived, res.Payment.Status)
}

func TestSyncPayment_SkipsWithoutGatewayCharge(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")
	f.addPayment(&Payment{ID: "pay1", EnrollmentID: "e1", Status: StatusCreated, Amount: dec("100")})

	res, err := f.svc.SyncPayment(context.Background(), "pay1")
	require.NoError(t, err)
	assert.Nil(t, res)
}

// --- Cancel / Refund ---

func TestCancelPayment(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")
	f.addPayment(&Payment{
		ID: "pay1", EnrollmentID: "e1", AsaasPaymentID: "ch_9",
		Status: StatusPending, Amount: dec("100"),
	})

	p, err := f.svc.CancelPayment(context.Background(), "pay1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, p.Status)
	assert.Equal(t, []string{"ch_9"}, f.gateway.cancelled)
}

func TestCancelPayment_PaidIsNotCancellable(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")
	f.addPayment(&Payment{
		ID: "pay1", EnrollmentID: "e1", AsaasPaymentID: "ch_9",
		Status: StatusConfirmed, Amount: dec("100"),
	})

	_, err := f.svc.CancelPayment(context.Background(), "pay1")
	require.ErrorIs(t, err, ErrNotCancellable)
	assert.Empty(t, f.gateway.cancelled)
}

func TestRefundPayment(t *testing.T) {
	f := newFixture(t)
	e := f.addEnrollment("e1")
	e.Status = enrollment.StatusPaid
	f.addPayment(&Payment{
		ID: "pay1", EnrollmentID: "e1", AsaasPaymentID: "ch_9",
		Status: StatusReceived, Amount: dec("100"),
	})

	p, err := f.svc.RefundPayment(context.Background(), "pay1", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, p.Status)
	assert.Equal(t, []string{"ch_9"}, f.gateway.refunded)
	assert.Equal(t, enrollment.StatusCancelled, f.store.enrollments["e1"].Status,
		"refund cascades the enrollment to Cancelled")
}

func TestRefundPayment_PendingIsNotRefundable(t *testing.T) {
	f := newFixture(t)
	f.addEnrollment("e1")
	f.addPayment(&Payment{
		ID: "pay1", EnrollmentID: "e1", AsaasPaymentID: "ch_9",
		Status: StatusPending, Amount: dec("100"),
	})

	_, err := f.svc.RefundPayment(context.Background(), "pay1", nil)
	require.ErrorIs(t, err, ErrNotRefundable)
	assert.Empty(t, f.gateway.refunded)
}
