package approval

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically expires overdue pending approvals and prunes
// decided ones. Expiry is also checked lazily on the resume path; the
// sweeper keeps the listing endpoints honest and the tables bounded.
type Sweeper struct {
	store    Store
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger
	done     chan struct{}
}

// NewSweeper creates a sweeper over the given store.
func NewSweeper(store Store, interval, grace time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if grace <= 0 {
		grace = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		grace:    grace,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop.
func (s *Sweeper) Stop() {
	close(s.done)
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, removed, err := s.store.Sweep(ctx, time.Now(), s.grace)
	if err != nil {
		s.logger.Error("approval sweep failed", "error", err)
		return
	}
	if expired > 0 || removed > 0 {
		s.logger.Info("approval sweep completed",
			"expired", expired,
			"removed", removed,
		)
	}
}
