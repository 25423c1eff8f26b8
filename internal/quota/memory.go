package quota

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"pdf_gateway/internal/models"
)

// MemoryStore implements Store and SubscriptionResolver with in-process
// maps. It mirrors the per-row atomicity of the SQL store: every method
// takes the store lock, so individual operations are atomic while
// sequences of them are not. Useful for tests and standalone deployments
// with no database.
type MemoryStore struct {
	mu            sync.Mutex
	reservations  map[string]*models.Reservation
	usage         map[string]map[string]*models.UsageRecord // account -> date
	subscriptions map[string]*models.Subscription
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reservations:  make(map[string]*models.Reservation),
		usage:         make(map[string]map[string]*models.UsageRecord),
		subscriptions: make(map[string]*models.Subscription),
	}
}

// InsertReservation stores a new reservation.
func (s *MemoryStore) InsertReservation(ctx context.Context, res *models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reservations[res.ID]; exists {
		return fmt.Errorf("memory store: duplicate reservation %s", res.ID)
	}
	clone := *res
	s.reservations[res.ID] = &clone
	return nil
}

// GetReservation returns a copy of the reservation, or (nil, nil).
func (s *MemoryStore) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[id]
	if !ok {
		return nil, nil
	}
	clone := *res
	return &clone, nil
}

// ListReservationsForMonth returns the account's reservations for the
// YYYY-MM prefix, oldest first.
func (s *MemoryStore) ListReservationsForMonth(ctx context.Context, account, monthPrefix string) ([]models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Reservation
	for _, res := range s.reservations {
		if res.Account == account && strings.HasPrefix(res.Date, monthPrefix) {
			out = append(out, *res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// TransitionReservation moves a pending reservation into a terminal state.
func (s *MemoryStore) TransitionReservation(ctx context.Context, id string, to models.ReservationStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[id]
	if !ok || res.Status != models.ReservationPending {
		return false, nil
	}

	res.Status = to
	switch to {
	case models.ReservationCommitted:
		stamp := at
		res.CommittedAt = &stamp
	case models.ReservationReleased:
		stamp := at
		res.ReleasedAt = &stamp
	}
	return true, nil
}

// AddCommittedUnits increments the (account, date) usage record.
func (s *MemoryStore) AddCommittedUnits(ctx context.Context, account, date string, units int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	days, ok := s.usage[account]
	if !ok {
		days = make(map[string]*models.UsageRecord)
		s.usage[account] = days
	}
	record, ok := days[date]
	if !ok {
		record = &models.UsageRecord{Account: account, Date: date}
		days[date] = record
	}
	record.Units += units
	record.UpdatedAt = time.Now().UTC()
	return nil
}

// SumUsageForMonth totals committed units for the YYYY-MM prefix.
func (s *MemoryStore) SumUsageForMonth(ctx context.Context, account, monthPrefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for date, record := range s.usage[account] {
		if strings.HasPrefix(date, monthPrefix) {
			total += record.Units
		}
	}
	return total, nil
}

// ListUsage returns all usage records for the account, oldest day first.
func (s *MemoryStore) ListUsage(ctx context.Context, account string) ([]models.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.UsageRecord
	for _, record := range s.usage[account] {
		out = append(out, *record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// ExpireOverdue transitions every overdue pending reservation.
func (s *MemoryStore) ExpireOverdue(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	for _, res := range s.reservations {
		if res.Status == models.ReservationPending && !res.ExpiresAt.After(cutoff) {
			res.Status = models.ReservationExpired
			changed++
		}
	}
	return changed, nil
}

// GetSubscription returns the account's subscription, or (nil, nil).
func (s *MemoryStore) GetSubscription(ctx context.Context, account string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[account]
	if !ok {
		return nil, nil
	}
	clone := *sub
	return &clone, nil
}

// SetSubscription stores or replaces an account's subscription.
func (s *MemoryStore) SetSubscription(account, plan, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[account] = &models.Subscription{
		Account:   account,
		Plan:      plan,
		Status:    status,
		UpdatedAt: time.Now().UTC(),
	}
}
