// Package retention reclaims expired jobs, artifacts, and verification
// state on a fixed schedule.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobTable is the slice of the job manager the sweeper needs.
type JobTable interface {
	Sweep(grace, maxAge time.Duration) int
}

// TokenTable is any secondary table with expiring entries, such as the
// verification gate or the request limiter.
type TokenTable interface {
	Sweep()
}

// Config controls sweep cadence and eviction windows.
type Config struct {
	Interval time.Duration
	// Grace is how long finalized jobs and their artifacts are retained.
	Grace time.Duration
	// MaxAge evicts a job regardless of state, guarding against a worker
	// that never finalizes.
	MaxAge time.Duration
}

// Sweeper runs a long-lived ticker loop. One goroutine, stopped via Close;
// no self-rescheduling timers.
type Sweeper struct {
	cfg    Config
	jobs   JobTable
	tokens []TokenTable
	logger *zap.Logger

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// New constructs a Sweeper and starts its loop.
func New(cfg Config, jobs JobTable, logger *zap.Logger, tokens ...TokenTable) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = time.Hour
	}
	if cfg.MaxAge <= cfg.Grace {
		cfg.MaxAge = 6 * time.Hour
	}
	s := &Sweeper{
		cfg:    cfg,
		jobs:   jobs,
		tokens: tokens,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sweeper) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sweeper) sweepOnce() {
	evicted := s.jobs.Sweep(s.cfg.Grace, s.cfg.MaxAge)
	for _, table := range s.tokens {
		if table != nil {
			table.Sweep()
		}
	}
	if evicted > 0 {
		s.logger.Info("retention sweep evicted jobs", zap.Int("count", evicted))
	}
}

// Close stops the loop and waits for it to exit.
func (s *Sweeper) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sweeper close wait: %w", ctx.Err())
	}
}
