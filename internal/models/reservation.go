package models

import "time"

// ReservationStatus is the lifecycle state of a quota reservation.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
)

// Reservation is a provisional hold against an account's monthly quota.
// It starts pending and ends in exactly one terminal state; terminal rows
// are never rewritten. Rows are kept for audit and never deleted.
type Reservation struct {
	ID          string            `db:"id" json:"id"`
	Account     string            `db:"account" json:"account"`
	Date        string            `db:"date" json:"date"` // creation day, YYYY-MM-DD
	Units       int64             `db:"units" json:"units"`
	Status      ReservationStatus `db:"status" json:"status"`
	CreatedAt   time.Time         `db:"created_at" json:"createdAt"`
	ExpiresAt   time.Time         `db:"expires_at" json:"expiresAt"`
	CommittedAt *time.Time        `db:"committed_at" json:"committedAt,omitempty"`
	ReleasedAt  *time.Time        `db:"released_at" json:"releasedAt,omitempty"`
}

// Terminal reports whether the reservation has left the pending state.
func (r *Reservation) Terminal() bool {
	return r.Status != ReservationPending
}

// ExpiredBy reports whether the reservation's TTL has run out at the
// given instant. Only meaningful for pending reservations.
func (r *Reservation) ExpiredBy(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
