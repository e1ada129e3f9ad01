// Package notify delivers user-facing notifications triggered by payment
// events. Delivery mechanics live behind the payment.Notifier port; the log
// notifier records the trigger so an outbound channel can be attached later.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/enrollment"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/payment"
)

var _ payment.Notifier = (*LogNotifier)(nil)

// LogNotifier implements payment.Notifier by logging the confirmation event.
type LogNotifier struct {
	lg *zap.Logger
}

// NewLogNotifier returns a LogNotifier writing to lg.
func NewLogNotifier(lg *zap.Logger) *LogNotifier {
	return &LogNotifier{lg: lg}
}

// PaymentConfirmed records that the enrollment became fully paid.
func (n *LogNotifier) PaymentConfirmed(_ context.Context, e *enrollment.Enrollment) error {
	n.lg.Info("payment confirmed",
		zap.String("enrollment_id", e.ID),
		zap.String("user_id", e.UserID),
		zap.String("product_id", e.ProductID),
		zap.String("final_amount", e.FinalAmount.StringFixed(2)),
	)
	return nil
}
