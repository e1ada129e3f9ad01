package handler

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// webhookTokenHeader is the header Asaas sends the configured webhook access
// token in.
const webhookTokenHeader = "asaas-access-token"

// maxWebhookBody bounds webhook payload size.
const maxWebhookBody = 1 << 20

// asaasWebhook handles POST /webhooks/asaas.
//
// The provider retries deliveries that do not get a 2xx, so the handler
// returns 200 for everything it consciously dropped (unknown events, charges
// this system never created) and reserves errors for malformed payloads and
// genuine processing failures.
func (h *Handler) asaasWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookToken != "" {
		got := r.Header.Get(webhookTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook token")
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "unreadable body")
		return
	}

	event, chargeID, err := parseWebhook(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed webhook payload")
		return
	}
	if event == "" || chargeID == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "event and payment.id are required")
		return
	}

	res, err := h.payments.ReconcileEvent(r.Context(), chargeID, event, body)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	lg := zctx.From(r.Context())
	if res == nil {
		lg.Debug("webhook dropped", zap.String("event", event), zap.String("charge_id", chargeID))
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	lg.Info("webhook processed",
		zap.String("event", event),
		zap.String("charge_id", chargeID),
		zap.Bool("status_changed", res.StatusChanged),
		zap.Bool("enrollment_paid", res.EnrollmentPaid),
	)
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// parseWebhook extracts the event name and charge ID from the raw payload
// without decoding the rest; the full body is stored verbatim for audit.
func parseWebhook(body []byte) (event, chargeID string, err error) {
	d := jx.DecodeBytes(body)
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "event":
			v, err := d.Str()
			if err != nil {
				return err
			}
			event = v
			return nil
		case "payment":
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) == "id" {
					v, err := d.Str()
					if err != nil {
						return err
					}
					chargeID = v
					return nil
				}
				return d.Skip()
			})
		default:
			return d.Skip()
		}
	})
	return event, chargeID, err
}
