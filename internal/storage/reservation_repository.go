package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pdf_gateway/internal/models"
)

// ReservationRepository handles reservation database operations
type ReservationRepository struct {
	db *DB
}

// NewReservationRepository creates a new reservation repository
func NewReservationRepository(db *DB) *ReservationRepository {
	return &ReservationRepository{
		db: db,
	}
}

// Insert stores a new reservation
func (r *ReservationRepository) Insert(ctx context.Context, res *models.Reservation) error {
	query := `
		INSERT INTO reservations (id, account, date, units, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.conn.ExecContext(
		ctx, query,
		res.ID, res.Account, res.Date, res.Units, res.Status, res.CreatedAt, res.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}

	return nil
}

// GetByID retrieves a reservation, returning (nil, nil) when absent
func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*models.Reservation, error) {
	var res models.Reservation
	query := `
		SELECT id, account, date, units, status, created_at, expires_at, committed_at, released_at
		FROM reservations
		WHERE id = $1
	`

	err := r.db.conn.GetContext(ctx, &res, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}

	return &res, nil
}

// ListForMonth retrieves the account's reservations whose creation day
// falls inside the YYYY-MM month, oldest first
func (r *ReservationRepository) ListForMonth(ctx context.Context, account, monthPrefix string) ([]models.Reservation, error) {
	var reservations []models.Reservation
	query := `
		SELECT id, account, date, units, status, created_at, expires_at, committed_at, released_at
		FROM reservations
		WHERE account = $1 AND date LIKE $2 || '-%'
		ORDER BY created_at ASC
	`

	err := r.db.conn.SelectContext(ctx, &reservations, query, account, monthPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}

	return reservations, nil
}

// Transition atomically moves a pending reservation into a terminal
// status. The WHERE clause is the compare-and-set: a reservation that
// already left pending matches no row and the call reports false.
func (r *ReservationRepository) Transition(ctx context.Context, id string, to models.ReservationStatus, at time.Time) (bool, error) {
	var query string
	switch to {
	case models.ReservationCommitted:
		query = `UPDATE reservations SET status = $2, committed_at = $3 WHERE id = $1 AND status = 'pending'`
	case models.ReservationReleased:
		query = `UPDATE reservations SET status = $2, released_at = $3 WHERE id = $1 AND status = 'pending'`
	case models.ReservationExpired:
		query = `UPDATE reservations SET status = $2 WHERE id = $1 AND status = 'pending'`
	default:
		return false, fmt.Errorf("invalid transition target %q", to)
	}

	var result sql.Result
	var err error
	if to == models.ReservationExpired {
		result, err = r.db.conn.ExecContext(ctx, query, id, to)
	} else {
		result, err = r.db.conn.ExecContext(ctx, query, id, to, at)
	}
	if err != nil {
		return false, fmt.Errorf("failed to transition reservation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}

// ExpireOverdue marks every pending reservation past its expiry as
// expired, returning the number of rows changed
func (r *ReservationRepository) ExpireOverdue(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `UPDATE reservations SET status = 'expired' WHERE status = 'pending' AND expires_at <= $1`

	result, err := r.db.conn.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire reservations: %w", err)
	}

	return result.RowsAffected()
}
