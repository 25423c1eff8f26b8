package models

import "time"

// Subscription is the billing-side view of an account: which plan it is on
// and whether that plan is currently in force. Accounts without a row are
// on the free tier.
type Subscription struct {
	Account   string    `db:"account" json:"account"`
	Plan      string    `db:"plan" json:"plan"`
	Status    string    `db:"status" json:"status"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
