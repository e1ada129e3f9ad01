package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/coupon"
)

type validateCouponRequest struct {
	Code      string `json:"code"`
	ProductID string `json:"product_id"`
	Amount    string `json:"amount"`
}

type validateCouponResponse struct {
	Valid    bool   `json:"valid"`
	Reason   string `json:"reason,omitempty"`
	Discount string `json:"discount,omitempty"`
	// Enable12x tells the checkout to extend its installment selector to 12.
	Enable12x bool `json:"enable_12x,omitempty"`
}

// validateCoupon handles POST /api/coupons/validate. Business rejections are
// reported as valid=false with a reason, not as HTTP errors; only malformed
// input and infrastructure failures produce non-200 responses.
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "code is required")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "invalid_amount", "amount must be a non-negative decimal")
		return
	}

	v, err := h.coupons.Validate(r.Context(), req.Code, req.ProductID, amount)
	if err != nil {
		if reason, ok := couponRejection(err); ok {
			writeJSON(w, http.StatusOK, validateCouponResponse{Valid: false, Reason: reason})
			return
		}
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, validateCouponResponse{
		Valid:     true,
		Discount:  v.Discount.StringFixed(2),
		Enable12x: v.Coupon.Enable12x,
	})
}

// couponRejection translates the validator's business errors into stable
// machine-readable reason codes.
func couponRejection(err error) (string, bool) {
	var minErr *coupon.MinPurchaseError
	switch {
	case errors.Is(err, coupon.ErrNotFound):
		return "not_found", true
	case errors.Is(err, coupon.ErrInactive):
		return "inactive", true
	case errors.Is(err, coupon.ErrNotYetValid):
		return "not_yet_valid", true
	case errors.Is(err, coupon.ErrExpired):
		return "expired", true
	case errors.Is(err, coupon.ErrExhausted):
		return "exhausted", true
	case errors.Is(err, coupon.ErrProductMismatch):
		return "product_mismatch", true
	case errors.As(err, &minErr):
		return "below_min_purchase", true
	}
	return "", false
}
