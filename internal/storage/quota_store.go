package storage

import (
	"context"
	"time"

	"pdf_gateway/internal/models"
)

// QuotaStore bundles the reservation, usage, and subscription
// repositories behind the interfaces the quota ledger consumes.
type QuotaStore struct {
	reservations  *ReservationRepository
	usage         *UsageRepository
	subscriptions *SubscriptionRepository
}

// NewQuotaStore creates the composite store over one database handle.
func NewQuotaStore(db *DB) *QuotaStore {
	return &QuotaStore{
		reservations:  NewReservationRepository(db),
		usage:         NewUsageRepository(db),
		subscriptions: NewSubscriptionRepository(db),
	}
}

func (s *QuotaStore) InsertReservation(ctx context.Context, res *models.Reservation) error {
	return s.reservations.Insert(ctx, res)
}

func (s *QuotaStore) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	return s.reservations.GetByID(ctx, id)
}

func (s *QuotaStore) ListReservationsForMonth(ctx context.Context, account, monthPrefix string) ([]models.Reservation, error) {
	return s.reservations.ListForMonth(ctx, account, monthPrefix)
}

func (s *QuotaStore) TransitionReservation(ctx context.Context, id string, to models.ReservationStatus, at time.Time) (bool, error) {
	return s.reservations.Transition(ctx, id, to, at)
}

func (s *QuotaStore) AddCommittedUnits(ctx context.Context, account, date string, units int64) error {
	return s.usage.AddUnits(ctx, account, date, units)
}

func (s *QuotaStore) SumUsageForMonth(ctx context.Context, account, monthPrefix string) (int64, error) {
	return s.usage.SumForMonth(ctx, account, monthPrefix)
}

func (s *QuotaStore) ListUsage(ctx context.Context, account string) ([]models.UsageRecord, error) {
	return s.usage.List(ctx, account)
}

func (s *QuotaStore) ExpireOverdue(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.reservations.ExpireOverdue(ctx, cutoff)
}

func (s *QuotaStore) GetSubscription(ctx context.Context, account string) (*models.Subscription, error) {
	return s.subscriptions.GetByAccount(ctx, account)
}

// Subscriptions exposes the subscription repository for admin tooling.
func (s *QuotaStore) Subscriptions() *SubscriptionRepository {
	return s.subscriptions
}
