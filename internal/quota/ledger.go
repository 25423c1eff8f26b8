package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pdf_gateway/internal/models"
	"pdf_gateway/internal/plans"
	"pdf_gateway/internal/utils"
)

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"

	// DefaultTTL bounds how long a reservation may sit pending before it
	// is treated as abandoned.
	DefaultTTL = 10 * time.Minute
)

// Outcome reasons reported by Commit and Release.
const (
	ReasonNotFound  = "not_found"
	ReasonExpired   = "expired"
	ReasonReleased  = "released"
	ReasonCommitted = "committed"
)

// Ledger gates and accounts for quota-consuming work. All reads and
// writes go through the Store; the ledger itself holds no mutable state,
// so any number of requests may use it concurrently.
//
// Two concurrent Reserve calls for one account can both read the same
// usage snapshot before either inserts its reservation, so the combined
// holds can overshoot the quota by at most the smaller request. That
// bounded race is accepted; hard enforcement would need a per-account
// lock or a conditional insert at the store.
type Ledger struct {
	catalog *plans.Catalog
	store   Store
	subs    SubscriptionResolver
	ttl     time.Duration
	now     func() time.Time
	logger  *utils.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithTTL overrides the reservation time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(l *Ledger) { l.ttl = ttl }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a ledger over the given catalog and store.
func NewLedger(catalog *plans.Catalog, store Store, subs SubscriptionResolver, opts ...Option) *Ledger {
	l := &Ledger{
		catalog: catalog,
		store:   store,
		subs:    subs,
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  utils.NewLogger("quota"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ReserveResult reports a reservation decision. ReservationID is empty
// when the request was denied or needed zero units.
type ReserveResult struct {
	Allowed        bool
	ReservationID  string
	Plan           plans.Plan
	MonthlyQuota   *int64
	UnitsThisMonth int64
	PendingUnits   int64
}

// CommitResult reports a commit attempt. Already is set when the
// reservation had been committed before this call.
type CommitResult struct {
	Committed bool
	Already   bool
	Reason    string
}

// ReleaseResult reports a release attempt.
type ReleaseResult struct {
	Released bool
	Already  bool
	Reason   string
}

// Reserve decides whether the account may consume units this month and,
// when allowed and units > 0, records a pending hold. Overdue pending
// reservations encountered during the scan are expired as a side effect
// and excluded from the pending sum.
func (l *Ledger) Reserve(ctx context.Context, account string, units int64) (ReserveResult, error) {
	if units < 0 {
		return ReserveResult{}, fmt.Errorf("quota: negative unit count %d", units)
	}

	plan, err := l.activePlan(ctx, account)
	if err != nil {
		return ReserveResult{}, err
	}

	now := l.now().UTC()
	monthPrefix := now.Format(monthLayout)

	committed, err := l.store.SumUsageForMonth(ctx, account, monthPrefix)
	if err != nil {
		return ReserveResult{}, fmt.Errorf("quota: sum usage: %w", err)
	}

	pending, err := l.pendingUnits(ctx, account, monthPrefix, now, true)
	if err != nil {
		return ReserveResult{}, err
	}

	result := ReserveResult{
		Plan:           plan,
		MonthlyQuota:   plan.MonthlyUnits,
		UnitsThisMonth: committed,
		PendingUnits:   pending,
	}

	if !plan.Unbounded() && committed+pending+units > *plan.MonthlyUnits {
		return result, nil
	}

	result.Allowed = true
	if units == 0 {
		return result, nil
	}

	res := &models.Reservation{
		ID:        uuid.NewString(),
		Account:   account,
		Date:      now.Format(dayLayout),
		Units:     units,
		Status:    models.ReservationPending,
		CreatedAt: now,
		ExpiresAt: now.Add(l.ttl),
	}
	if err := l.store.InsertReservation(ctx, res); err != nil {
		return ReserveResult{}, fmt.Errorf("quota: insert reservation: %w", err)
	}

	result.ReservationID = res.ID
	return result, nil
}

// Commit finalizes a pending reservation, adding its units to the usage
// record for the reservation's creation date. Re-committing an already
// committed reservation is a safe no-op reporting the prior outcome; a
// bad or foreign id is reported, never thrown.
func (l *Ledger) Commit(ctx context.Context, account, reservationID string) (CommitResult, error) {
	res, err := l.loadOwned(ctx, account, reservationID)
	if err != nil {
		return CommitResult{}, err
	}
	if res == nil {
		return CommitResult{Reason: ReasonNotFound}, nil
	}

	switch res.Status {
	case models.ReservationCommitted:
		return CommitResult{Committed: true, Already: true, Reason: ReasonCommitted}, nil
	case models.ReservationReleased, models.ReservationExpired:
		return CommitResult{Reason: string(res.Status)}, nil
	}

	now := l.now().UTC()
	if res.ExpiredBy(now) {
		if _, err := l.store.TransitionReservation(ctx, res.ID, models.ReservationExpired, now); err != nil {
			return CommitResult{}, fmt.Errorf("quota: expire reservation: %w", err)
		}
		return CommitResult{Reason: ReasonExpired}, nil
	}

	moved, err := l.store.TransitionReservation(ctx, res.ID, models.ReservationCommitted, now)
	if err != nil {
		return CommitResult{}, fmt.Errorf("quota: commit reservation: %w", err)
	}
	if !moved {
		// Lost a race; report whatever state won.
		return l.reportSettled(ctx, res.ID)
	}

	// The transition claimed the reservation, so these units are counted
	// at most once even if this write fails and is retried by an operator.
	if err := l.store.AddCommittedUnits(ctx, res.Account, res.Date, res.Units); err != nil {
		return CommitResult{}, fmt.Errorf("quota: add committed units: %w", err)
	}

	return CommitResult{Committed: true}, nil
}

// Release abandons a pending reservation without touching usage records.
// Non-pending reservations are reported unmodified with their status.
func (l *Ledger) Release(ctx context.Context, account, reservationID string) (ReleaseResult, error) {
	res, err := l.loadOwned(ctx, account, reservationID)
	if err != nil {
		return ReleaseResult{}, err
	}
	if res == nil {
		return ReleaseResult{Reason: ReasonNotFound}, nil
	}

	switch res.Status {
	case models.ReservationReleased:
		return ReleaseResult{Released: true, Already: true, Reason: ReasonReleased}, nil
	case models.ReservationCommitted, models.ReservationExpired:
		return ReleaseResult{Reason: string(res.Status)}, nil
	}

	moved, err := l.store.TransitionReservation(ctx, res.ID, models.ReservationReleased, l.now().UTC())
	if err != nil {
		return ReleaseResult{}, fmt.Errorf("quota: release reservation: %w", err)
	}
	if !moved {
		settled, err := l.store.GetReservation(ctx, res.ID)
		if err != nil || settled == nil {
			return ReleaseResult{Reason: ReasonNotFound}, err
		}
		if settled.Status == models.ReservationReleased {
			return ReleaseResult{Released: true, Already: true, Reason: ReasonReleased}, nil
		}
		return ReleaseResult{Reason: string(settled.Status)}, nil
	}

	return ReleaseResult{Released: true}, nil
}

// UsageSummary is the dashboard view of an account's consumption.
type UsageSummary struct {
	Plan           string `json:"plan"`
	TotalUnits     int64  `json:"totalUnits"`
	UnitsThisMonth int64  `json:"unitsThisMonth"`
	PendingUnits   int64  `json:"pendingUnits"`
	MonthlyQuota   *int64 `json:"monthlyQuota"`
	RemainingUnits *int64 `json:"remainingUnits"`
}

// Usage reports lifetime and current-month consumption. It is a pure
// read: overdue pending reservations are excluded from the pending sum
// but not transitioned here.
func (l *Ledger) Usage(ctx context.Context, account string) (UsageSummary, error) {
	plan, err := l.activePlan(ctx, account)
	if err != nil {
		return UsageSummary{}, err
	}

	records, err := l.store.ListUsage(ctx, account)
	if err != nil {
		return UsageSummary{}, fmt.Errorf("quota: list usage: %w", err)
	}

	now := l.now().UTC()
	monthPrefix := now.Format(monthLayout)

	summary := UsageSummary{Plan: plan.ID, MonthlyQuota: plan.MonthlyUnits}
	for _, record := range records {
		summary.TotalUnits += record.Units
		if record.InMonth(monthPrefix) {
			summary.UnitsThisMonth += record.Units
		}
	}

	pending, err := l.pendingUnits(ctx, account, monthPrefix, now, false)
	if err != nil {
		return UsageSummary{}, err
	}
	summary.PendingUnits = pending

	if !plan.Unbounded() {
		remaining := *plan.MonthlyUnits - summary.UnitsThisMonth - summary.PendingUnits
		if remaining < 0 {
			remaining = 0
		}
		summary.RemainingUnits = &remaining
	}

	return summary, nil
}

// Subscription returns the account's subscription row, or nil when the
// account has none.
func (l *Ledger) Subscription(ctx context.Context, account string) (*models.Subscription, error) {
	return l.subs.GetSubscription(ctx, account)
}

// activePlan resolves the account's plan, falling back to the free tier
// for missing or inactive subscriptions.
func (l *Ledger) activePlan(ctx context.Context, account string) (plans.Plan, error) {
	sub, err := l.subs.GetSubscription(ctx, account)
	if err != nil {
		return plans.Plan{}, fmt.Errorf("quota: resolve subscription: %w", err)
	}
	if sub == nil || !plans.IsActiveStatus(sub.Status) {
		return l.catalog.Resolve(plans.FreePlanID), nil
	}
	return l.catalog.Resolve(sub.Plan), nil
}

// pendingUnits sums live pending reservations for the month. When expire
// is set, overdue pending rows are transitioned to expired on the way.
func (l *Ledger) pendingUnits(ctx context.Context, account, monthPrefix string, now time.Time, expire bool) (int64, error) {
	reservations, err := l.store.ListReservationsForMonth(ctx, account, monthPrefix)
	if err != nil {
		return 0, fmt.Errorf("quota: list reservations: %w", err)
	}

	var pending int64
	for _, res := range reservations {
		if res.Status != models.ReservationPending {
			continue
		}
		if res.ExpiredBy(now) {
			if expire {
				if _, err := l.store.TransitionReservation(ctx, res.ID, models.ReservationExpired, now); err != nil {
					return 0, fmt.Errorf("quota: expire reservation: %w", err)
				}
				l.logger.Debug("expired abandoned reservation", "reservation", res.ID, "account", account, "units", res.Units)
			}
			continue
		}
		pending += res.Units
	}
	return pending, nil
}

// loadOwned fetches a reservation and checks ownership. A missing row or
// an account mismatch both read as absent so callers cannot probe other
// accounts' reservations.
func (l *Ledger) loadOwned(ctx context.Context, account, reservationID string) (*models.Reservation, error) {
	if reservationID == "" {
		return nil, nil
	}
	res, err := l.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("quota: load reservation: %w", err)
	}
	if res == nil || res.Account != account {
		return nil, nil
	}
	return res, nil
}

// reportSettled re-reads a reservation that lost a commit race and maps
// its terminal state to a CommitResult.
func (l *Ledger) reportSettled(ctx context.Context, id string) (CommitResult, error) {
	settled, err := l.store.GetReservation(ctx, id)
	if err != nil {
		return CommitResult{}, fmt.Errorf("quota: reload reservation: %w", err)
	}
	if settled == nil {
		return CommitResult{Reason: ReasonNotFound}, nil
	}
	if settled.Status == models.ReservationCommitted {
		return CommitResult{Committed: true, Already: true, Reason: ReasonCommitted}, nil
	}
	return CommitResult{Reason: string(settled.Status)}, nil
}
