package jobs

import (
	"context"
	"fmt"

	"pdf_gateway/internal/executor"
	"pdf_gateway/internal/quota"
	"pdf_gateway/internal/utils"
)

// QuotaExceededError is returned when an account's plan cannot cover the
// requested units. Handlers map it to a payment-required response.
type QuotaExceededError struct {
	Plan           string
	MonthlyQuota   *int64
	UnitsThisMonth int64
	PendingUnits   int64
	UnitsRequested int64
}

func (e *QuotaExceededError) Error() string {
	quota := int64(0)
	if e.MonthlyQuota != nil {
		quota = *e.MonthlyQuota
	}
	return fmt.Sprintf("monthly quota exceeded: plan=%s quota=%d used=%d pending=%d requested=%d",
		e.Plan, quota, e.UnitsThisMonth, e.PendingUnits, e.UnitsRequested)
}

// Orchestrator runs quota-metered work. Every job passes through the
// same lifecycle: reserve units, run under the admission executor,
// then settle the reservation according to the outcome.
type Orchestrator struct {
	ledger   *quota.Ledger
	executor *executor.Executor
	logger   *utils.Logger
}

// NewOrchestrator wires a ledger and an executor together.
func NewOrchestrator(ledger *quota.Ledger, exec *executor.Executor) *Orchestrator {
	return &Orchestrator{
		ledger:   ledger,
		executor: exec,
		logger:   utils.NewLogger("jobs"),
	}
}

// Executor exposes the admission executor so uncharged work that still
// spawns an external process, like a page-count probe, runs under the
// same concurrency ceiling as metered jobs.
func (o *Orchestrator) Executor() *executor.Executor {
	return o.executor
}

// Process reserves units for the account, runs fn under the concurrency
// ceiling, and settles the hold: committed on success, released on
// failure. A denied reservation surfaces as *QuotaExceededError before
// fn is ever admitted. Zero-unit jobs skip the reservation entirely but
// still queue for a slot.
func Process[T any](ctx context.Context, o *Orchestrator, account, task string, units int64, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	reserved, err := o.ledger.Reserve(ctx, account, units)
	if err != nil {
		return zero, fmt.Errorf("jobs: reserve: %w", err)
	}
	if !reserved.Allowed {
		return zero, &QuotaExceededError{
			Plan:           reserved.Plan.ID,
			MonthlyQuota:   reserved.MonthlyQuota,
			UnitsThisMonth: reserved.UnitsThisMonth,
			PendingUnits:   reserved.PendingUnits,
			UnitsRequested: units,
		}
	}

	result, runErr := executor.Run(ctx, o.executor, task, fn)

	if reserved.ReservationID == "" {
		return result, runErr
	}

	if runErr != nil {
		// Best effort: an unreleased hold expires on its own.
		if _, relErr := o.ledger.Release(ctx, account, reserved.ReservationID); relErr != nil {
			o.logger.Warn("failed to release reservation",
				"reservation", reserved.ReservationID, "account", account, "error", relErr)
		}
		return zero, runErr
	}

	commit, err := o.ledger.Commit(ctx, account, reserved.ReservationID)
	if err != nil {
		// The work is done and the result is good; losing the commit
		// under-counts usage rather than failing the caller.
		o.logger.Warn("failed to commit reservation",
			"reservation", reserved.ReservationID, "account", account, "error", err)
		return result, nil
	}
	if !commit.Committed {
		o.logger.Warn("reservation settled before commit",
			"reservation", reserved.ReservationID, "account", account, "reason", commit.Reason)
	}

	return result, nil
}
