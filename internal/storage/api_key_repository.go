package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pdf_gateway/internal/auth"
	"pdf_gateway/internal/models"
)

// APIKeyRepository handles API key database operations. It implements
// auth.APIKeyStore.
type APIKeyRepository struct {
	db *DB
}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{
		db: db,
	}
}

// Lookup verifies a presented plaintext key. The key id is embedded in
// the plaintext, so the check is one indexed read plus a bcrypt compare.
func (r *APIKeyRepository) Lookup(ctx context.Context, plaintext string) (*models.APIKey, error) {
	id, secret, err := auth.ParseAPIKey(plaintext)
	if err != nil {
		return nil, err
	}

	var key models.APIKey
	query := `
		SELECT id, account, name, secret_hash, revoked, created_at, last_used_at
		FROM api_keys
		WHERE id = $1
	`

	err = r.db.conn.GetContext(ctx, &key, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}

	if key.Revoked || !auth.VerifySecret(secret, key.SecretHash) {
		return nil, auth.ErrKeyNotFound
	}

	return &key, nil
}

// Insert stores a freshly generated key record
func (r *APIKeyRepository) Insert(ctx context.Context, key *models.APIKey) error {
	query := `
		INSERT INTO api_keys (id, account, name, secret_hash, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.conn.ExecContext(
		ctx, query,
		key.ID, key.Account, key.Name, key.SecretHash, key.Revoked, key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}

	return nil
}

// ListForAccount retrieves the account's keys, newest first
func (r *APIKeyRepository) ListForAccount(ctx context.Context, account string) ([]models.APIKey, error) {
	var keys []models.APIKey
	query := `
		SELECT id, account, name, secret_hash, revoked, created_at, last_used_at
		FROM api_keys
		WHERE account = $1
		ORDER BY created_at DESC
	`

	err := r.db.conn.SelectContext(ctx, &keys, query, account)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}

	return keys, nil
}

// Revoke marks the account's key revoked
func (r *APIKeyRepository) Revoke(ctx context.Context, account, id string) error {
	query := `UPDATE api_keys SET revoked = TRUE WHERE id = $1 AND account = $2`

	result, err := r.db.conn.ExecContext(ctx, query, id, account)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return auth.ErrKeyNotFound
	}

	return nil
}

// TouchLastUsed records when the key last authenticated a request
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`

	if _, err := r.db.conn.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}

	return nil
}
