package batch

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status enumerates the lifecycle states of a pricing batch.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusActive    Status = "ACTIVE"
	StatusFull      Status = "FULL"
	StatusEnded     Status = "ENDED"
)

// ErrNotFound is returned when no batch exists for the given ID.
var ErrNotFound = errors.New("batch not found")

// Batch is a time-boxed, price-specific purchasing window for a product.
// It is consumed read-only by the payment core: capacity enforcement and
// batch lifecycle happen at enrollment-creation time, outside this module.
type Batch struct {
	ID        string
	ProductID string
	Name      string

	// Price is the base price for the batch. Earlier designs carried
	// distinct per-method prices; those columns still exist but pricing
	// reads only this field.
	Price                 decimal.Decimal
	PixDiscountPercentage decimal.Decimal

	// MaxInstallments is denormalized from the owning product. Coupons
	// with the 12x override may extend it.
	MaxInstallments int

	MaxEnrollments *int
	Status         Status
	StartDate      time.Time
	EndDate        time.Time
}

// Repository provides read-only batch lookup.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Batch, error)
}
