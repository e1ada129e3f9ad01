package customer

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when no customer profile exists for the user.
var ErrNotFound = errors.New("customer not found")

// Customer maps a local user identity to the gateway customer created for it.
// AsaasCustomerID is empty until the first charge forces customer creation;
// the stored mapping makes creation idempotent per user.
type Customer struct {
	UserID          string
	FullName        string
	Email           string
	TaxID           string
	Phone           string
	AsaasCustomerID string
}

// Repository defines persistence operations for customer profiles.
type Repository interface {
	GetByUserID(ctx context.Context, userID string) (*Customer, error)
	// Save upserts the profile, in particular the gateway customer mapping.
	Save(ctx context.Context, c *Customer) error
}
