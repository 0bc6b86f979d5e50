package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BDbread72/qonvo-sub000/batchstore"
)

var cleanupCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// CleanupConfig configures a registry cleanup job.
type CleanupConfig struct {
	Store *batchstore.Store

	// Schedule is a standard five-field cron expression, evaluated in UTC.
	// Empty means hourly on the hour.
	Schedule string

	// MaxAge is the job time-to-live. Zero means batchstore.DefaultMaxAge.
	MaxAge time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// Cleanup periodically evicts expired jobs from the batch registry.
type Cleanup struct {
	store    *batchstore.Store
	schedule cron.Schedule
	maxAge   time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCleanup creates a Cleanup from its config.
func NewCleanup(cfg CleanupConfig) (*Cleanup, error) {
	if cfg.Store == nil {
		return nil, errors.New("cleanup store is nil")
	}
	expr := strings.TrimSpace(cfg.Schedule)
	if expr == "" {
		expr = "0 * * * *"
	}
	schedule, err := cleanupCronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule: %w", err)
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = batchstore.DefaultMaxAge
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cleanup{
		store:    cfg.Store,
		schedule: schedule,
		maxAge:   cfg.MaxAge,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}, nil
}

// Start begins background cleanup. An immediate pass runs first, then one
// per schedule tick. Calling Start on a running Cleanup is a no-op.
func (c *Cleanup) Start() {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.RunOnce()
		for {
			next := c.schedule.Next(c.now().UTC())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-loopCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
				c.RunOnce()
			}
		}
	}()
}

// Stop halts background cleanup and waits for the loop to exit.
func (c *Cleanup) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one cleanup pass.
func (c *Cleanup) RunOnce() {
	if removed := c.store.CleanupStale(c.maxAge); removed > 0 {
		c.logger.Info("evicted stale batch jobs", "count", removed)
	}
}
