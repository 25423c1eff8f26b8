package quota

import (
	"context"
	"time"

	"pdf_gateway/internal/models"
)

// Store is the persistence the ledger relies on. Implementations must
// provide per-row atomicity: inserts are all-or-nothing, transitions are
// compare-and-set on the pending status, and usage increments are additive
// upserts. No multi-row transaction is assumed.
type Store interface {
	// InsertReservation stores a new pending reservation.
	InsertReservation(ctx context.Context, res *models.Reservation) error

	// GetReservation returns the reservation or (nil, nil) when absent.
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)

	// ListReservationsForMonth returns every reservation whose date key
	// starts with the YYYY-MM prefix, any status.
	ListReservationsForMonth(ctx context.Context, account, monthPrefix string) ([]models.Reservation, error)

	// TransitionReservation atomically moves a pending reservation into a
	// terminal status, stamping the matching timestamp. It returns false
	// without modifying anything when the reservation is not pending.
	TransitionReservation(ctx context.Context, id string, to models.ReservationStatus, at time.Time) (bool, error)

	// AddCommittedUnits adds units to the (account, date) usage record,
	// creating it when absent.
	AddCommittedUnits(ctx context.Context, account, date string, units int64) error

	// SumUsageForMonth totals committed units for the YYYY-MM prefix.
	SumUsageForMonth(ctx context.Context, account, monthPrefix string) (int64, error)

	// ListUsage returns all usage records for the account.
	ListUsage(ctx context.Context, account string) ([]models.UsageRecord, error)

	// ExpireOverdue moves every pending reservation whose expiry is at or
	// before the cutoff into the expired status, returning how many rows
	// changed. Used by the maintenance sweeper only.
	ExpireOverdue(ctx context.Context, cutoff time.Time) (int64, error)
}

// SubscriptionResolver yields the current subscription for an account, or
// (nil, nil) when the account has none.
type SubscriptionResolver interface {
	GetSubscription(ctx context.Context, account string) (*models.Subscription, error)
}
