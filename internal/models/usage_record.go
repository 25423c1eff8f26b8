package models

import "time"

// UsageRecord accumulates committed units for one (account, calendar day).
// Created on the first commit of that day, incremented in place afterwards,
// never deleted.
type UsageRecord struct {
	Account   string    `db:"account" json:"account"`
	Date      string    `db:"date" json:"date"` // YYYY-MM-DD
	Units     int64     `db:"units" json:"units"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// InMonth reports whether the record belongs to the given YYYY-MM month.
func (u *UsageRecord) InMonth(monthPrefix string) bool {
	return len(u.Date) >= len(monthPrefix) && u.Date[:len(monthPrefix)] == monthPrefix
}
