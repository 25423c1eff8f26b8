package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pdf_gateway/internal/models"
)

// SubscriptionRepository handles subscription database operations
type SubscriptionRepository struct {
	db *DB
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *DB) *SubscriptionRepository {
	return &SubscriptionRepository{
		db: db,
	}
}

// GetByAccount retrieves an account's subscription, returning (nil, nil)
// when the account has none
func (r *SubscriptionRepository) GetByAccount(ctx context.Context, account string) (*models.Subscription, error) {
	var sub models.Subscription
	query := `
		SELECT account, plan, status, updated_at
		FROM subscriptions
		WHERE account = $1
	`

	err := r.db.conn.GetContext(ctx, &sub, query, account)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return &sub, nil
}

// Upsert creates or replaces an account's subscription
func (r *SubscriptionRepository) Upsert(ctx context.Context, account, plan, status string) error {
	query := `
		INSERT INTO subscriptions (account, plan, status, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (account)
		DO UPDATE SET plan = EXCLUDED.plan, status = EXCLUDED.status, updated_at = now()
	`

	_, err := r.db.conn.ExecContext(ctx, query, account, plan, status)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}

	return nil
}
