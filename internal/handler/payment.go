package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/enrollment"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/payment"
)

type calculateRequest struct {
	EnrollmentID  string `json:"enrollment_id"`
	PaymentMethod string `json:"payment_method"`
	Installments  int    `json:"installments"`
}

type quoteResponse struct {
	Total            string `json:"total"`
	Discount         string `json:"discount"`
	Final            string `json:"final"`
	Installments     int    `json:"installments"`
	InstallmentValue string `json:"installment_value"`
}

// calculatePayment handles POST /api/payments/calculate. It is a pure
// pricing preview and never writes.
func (h *Handler) calculatePayment(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}
	method, err := enrollment.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	q, err := h.payments.Calculate(r.Context(), req.EnrollmentID, method, req.Installments)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, quoteResponse{
		Total:            q.Total.StringFixed(2),
		Discount:         q.Discount.StringFixed(2),
		Final:            q.Final.StringFixed(2),
		Installments:     q.Installments,
		InstallmentValue: q.InstallmentValue.StringFixed(2),
	})
}

type cardRequest struct {
	HolderName  string `json:"holder_name"`
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiry_month"`
	ExpiryYear  string `json:"expiry_year"`
	CCV         string `json:"ccv"`
	Token       string `json:"token"`
}

type createPaymentRequest struct {
	EnrollmentID  string       `json:"enrollment_id"`
	PaymentMethod string       `json:"payment_method"`
	Installments  int          `json:"installments"`
	Card          *cardRequest `json:"card"`
}

type paymentResponse struct {
	ID                string `json:"id"`
	EnrollmentID      string `json:"enrollment_id"`
	AsaasPaymentID    string `json:"asaas_payment_id,omitempty"`
	InstallmentNumber int    `json:"installment_number"`
	InstallmentCount  int    `json:"installment_count"`
	Amount            string `json:"amount"`
	Status            string `json:"status"`
	DueDate           string `json:"due_date"`
	PaidAt            string `json:"paid_at,omitempty"`
	InvoiceURL        string `json:"invoice_url,omitempty"`
	PixQRCode         string `json:"pix_qr_code,omitempty"`
	PixCopyPaste      string `json:"pix_copy_paste,omitempty"`
}

func toPaymentResponse(p *payment.Payment) paymentResponse {
	resp := paymentResponse{
		ID:                p.ID,
		EnrollmentID:      p.EnrollmentID,
		AsaasPaymentID:    p.AsaasPaymentID,
		InstallmentNumber: p.InstallmentNumber,
		InstallmentCount:  p.InstallmentCount,
		Amount:            p.Amount.StringFixed(2),
		Status:            string(p.Status),
		DueDate:           p.DueDate.Format("2006-01-02"),
		InvoiceURL:        p.InvoiceURL,
		PixQRCode:         p.PixQRCode,
		PixCopyPaste:      p.PixCopyPaste,
	}
	if p.PaidAt != nil {
		resp.PaidAt = p.PaidAt.Format(time.RFC3339)
	}
	return resp
}

// createPayment handles POST /api/payments. It creates the gateway charge(s)
// for the enrollment and returns every created payment in order.
func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}
	method, err := enrollment.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var card payment.CardInput
	if req.Card != nil {
		card = payment.CardInput{
			HolderName:  req.Card.HolderName,
			Number:      req.Card.Number,
			ExpiryMonth: req.Card.ExpiryMonth,
			ExpiryYear:  req.Card.ExpiryYear,
			CCV:         req.Card.CCV,
			Token:       req.Card.Token,
		}
	}

	created, err := h.payments.CreatePayments(r.Context(), payment.CreatePaymentRequest{
		EnrollmentID: req.EnrollmentID,
		Method:       method,
		Installments: req.Installments,
		Card:         card,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := make([]paymentResponse, len(created))
	for i, p := range created {
		resp[i] = toPaymentResponse(p)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// getPayment handles GET /api/payments/{id}.
func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.paymentReads.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

// listEnrollmentPayments handles GET /api/enrollments/{id}/payments.
func (h *Handler) listEnrollmentPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.paymentReads.ListByEnrollment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := make([]paymentResponse, len(payments))
	for i := range payments {
		resp[i] = toPaymentResponse(&payments[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// cancelPayment handles POST /api/payments/{id}/cancel.
func (h *Handler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.CancelPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

type refundRequest struct {
	// Amount, when present, requests a partial refund.
	Amount string `json:"amount"`
}

// refundPayment handles POST /api/payments/{id}/refund. An empty body or an
// empty amount refunds the full value.
func (h *Handler) refundPayment(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}

	var amount *decimal.Decimal
	if req.Amount != "" {
		v, err := decimal.NewFromString(req.Amount)
		if err != nil || v.LessThanOrEqual(decimal.Zero) {
			writeError(w, http.StatusBadRequest, "invalid_amount", "amount must be a positive decimal")
			return
		}
		amount = &v
	}

	p, err := h.payments.RefundPayment(r.Context(), chi.URLParam(r, "id"), amount)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}
