package models

import "time"

// APIKey is a stored API credential. Only a bcrypt hash of the secret half
// of the key is persisted; the plaintext is shown once at creation time.
type APIKey struct {
	ID         string     `db:"id" json:"id"`
	Account    string     `db:"account" json:"account"`
	Name       string     `db:"name" json:"name"`
	SecretHash string     `db:"secret_hash" json:"-"`
	Revoked    bool       `db:"revoked" json:"revoked"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	LastUsedAt *time.Time `db:"last_used_at" json:"lastUsedAt,omitempty"`
}
