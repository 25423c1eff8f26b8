package storage

import (
	"context"
	"fmt"

	"pdf_gateway/internal/models"
)

// UsageRepository handles usage record database operations
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{
		db: db,
	}
}

// AddUnits adds units to the (account, date) record, creating it when
// absent. The upsert makes concurrent commits additive rather than
// last-writer-wins.
func (r *UsageRepository) AddUnits(ctx context.Context, account, date string, units int64) error {
	query := `
		INSERT INTO usage_records (account, date, units, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (account, date)
		DO UPDATE SET units = usage_records.units + EXCLUDED.units, updated_at = now()
	`

	_, err := r.db.conn.ExecContext(ctx, query, account, date, units)
	if err != nil {
		return fmt.Errorf("failed to add usage units: %w", err)
	}

	return nil
}

// SumForMonth totals committed units for the YYYY-MM month
func (r *UsageRepository) SumForMonth(ctx context.Context, account, monthPrefix string) (int64, error) {
	var total int64
	query := `
		SELECT COALESCE(SUM(units), 0)
		FROM usage_records
		WHERE account = $1 AND date LIKE $2 || '-%'
	`

	err := r.db.conn.GetContext(ctx, &total, query, account, monthPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to sum usage: %w", err)
	}

	return total, nil
}

// List retrieves all usage records for the account, oldest day first
func (r *UsageRepository) List(ctx context.Context, account string) ([]models.UsageRecord, error) {
	var records []models.UsageRecord
	query := `
		SELECT account, date, units, updated_at
		FROM usage_records
		WHERE account = $1
		ORDER BY date ASC
	`

	err := r.db.conn.SelectContext(ctx, &records, query, account)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}

	return records, nil
}
