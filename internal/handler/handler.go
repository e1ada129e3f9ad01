// Package handler exposes the payment and coupon operations over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/felipeacampelo/Gestao-AreaMais/internal/asaas"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/batch"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/coupon"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/enrollment"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/payment"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/pricing"
)

// PaymentService is the orchestrator surface the HTTP layer depends on.
type PaymentService interface {
	Calculate(ctx context.Context, enrollmentID string, method enrollment.PaymentMethod, installments int) (*pricing.Quote, error)
	CreatePayments(ctx context.Context, req payment.CreatePaymentRequest) ([]*payment.Payment, error)
	ReconcileEvent(ctx context.Context, asaasPaymentID, event string, raw []byte) (*payment.ReconcileResult, error)
	CancelPayment(ctx context.Context, paymentID string) (*payment.Payment, error)
	RefundPayment(ctx context.Context, paymentID string, amount *decimal.Decimal) (*payment.Payment, error)
}

var _ PaymentService = (*payment.Service)(nil)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// WebhookToken, when set, must match the asaas-access-token header on
	// incoming webhook requests.
	WebhookToken string
}

// Handler wires HTTP routes to the payment orchestrator and coupon validator.
type Handler struct {
	payments     PaymentService
	paymentReads payment.Repository
	coupons      coupon.Validator
	webhookToken string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	payments PaymentService,
	paymentReads payment.Repository,
	coupons coupon.Validator,
) *Handler {
	return &Handler{
		payments:     payments,
		paymentReads: paymentReads,
		coupons:      coupons,
		webhookToken: cfg.WebhookToken,
	}
}

// Routes builds the router for all API and webhook endpoints.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Route("/payments", func(r chi.Router) {
			r.Post("/calculate", h.calculatePayment)
			r.Post("/", h.createPayment)
			r.Get("/{id}", h.getPayment)
			r.Post("/{id}/cancel", h.cancelPayment)
			r.Post("/{id}/refund", h.refundPayment)
		})
		r.Get("/enrollments/{id}/payments", h.listEnrollmentPayments)
		r.Post("/coupons/validate", h.validateCoupon)
	})
	r.Post("/webhooks/asaas", h.asaasWebhook)

	return r
}

// errorResponse is the JSON error envelope for every non-2xx response.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// respondError maps a domain error to the HTTP error envelope.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var limitErr *payment.InstallmentLimitError
	var minErr *coupon.MinPurchaseError

	switch {
	case errors.Is(err, enrollment.ErrNotFound),
		errors.Is(err, payment.ErrNotFound),
		errors.Is(err, batch.ErrNotFound),
		errors.Is(err, coupon.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, enrollment.ErrUnknownPaymentMethod),
		errors.Is(err, payment.ErrTaxIDRequired),
		errors.Is(err, payment.ErrTaxIDInvalid),
		errors.Is(err, payment.ErrCardRequired),
		errors.Is(err, payment.ErrCashSingleInstallment),
		errors.As(err, &limitErr),
		errors.As(err, &minErr),
		errors.Is(err, coupon.ErrInactive),
		errors.Is(err, coupon.ErrNotYetValid),
		errors.Is(err, coupon.ErrExpired),
		errors.Is(err, coupon.ErrExhausted),
		errors.Is(err, coupon.ErrProductMismatch):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())

	case errors.Is(err, payment.ErrEnrollmentNotPending),
		errors.Is(err, payment.ErrEnrollmentHasPayments),
		errors.Is(err, payment.ErrNotCancellable),
		errors.Is(err, payment.ErrNotRefundable):
		writeError(w, http.StatusConflict, "conflict", err.Error())

	case asaas.IsGatewayError(err):
		// Gateway details stay in the logs, not in the response body. The
		// failure is reported as a client-retriable 400: no local state was
		// left behind, so resubmitting the request is safe.
		zctx.From(r.Context()).Error("gateway error", zap.Error(err))
		writeError(w, http.StatusBadRequest, "gateway_error", "payment provider request failed")

	default:
		zctx.From(r.Context()).Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
