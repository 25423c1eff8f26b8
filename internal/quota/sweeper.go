package quota

import (
	"context"
	"time"

	"pdf_gateway/internal/utils"
)

// Sweeper periodically expires overdue pending reservations. The lazy
// checks on the reserve and commit paths already keep the accounting
// correct; the sweeper only keeps storage tidy for accounts nothing
// revisits.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *utils.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper over the store.
func NewSweeper(store Store, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   utils.NewLogger("quota-sweeper"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop in its own goroutine.
func (s *Sweeper) Start() {
	go s.run()
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	changed, err := s.store.ExpireOverdue(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		return
	}
	if changed > 0 {
		s.logger.Info("expired abandoned reservations", "count", changed)
	}
}

// Stop halts the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}
