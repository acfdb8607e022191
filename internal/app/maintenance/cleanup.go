package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/learntrackhq/learntrack/internal/auth"
	"github.com/learntrackhq/learntrack/internal/cache"
	"github.com/learntrackhq/learntrack/internal/security"
	"github.com/learntrackhq/learntrack/pkg/logger"
)

const (
	defaultEventRetentionDays = 90
	defaultSessionSpec        = "@hourly"
	defaultEventSpec          = "@daily"
)

// Cleaner coordinates background maintenance: purging expired sessions,
// enforcing security event retention, expiring stale IP blocks, and dropping
// dead cache entries.
type Cleaner struct {
	sessions  *auth.SessionService
	guard     *security.Guard
	store     *cache.DatabaseStore
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	enabled   bool
	retention int

	sessionSchedule string
	eventSchedule   string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithEventRetentionDays adjusts how long security events are retained.
func WithEventRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithSessionSchedule overrides the cron specification for session cleanup.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithEventSchedule overrides the cron specification for event retention enforcement.
func WithEventSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.eventSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency results in
// the corresponding cleanup job being skipped.
func NewCleaner(sessions *auth.SessionService, guard *security.Guard, store *cache.DatabaseStore, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sessions:        sessions,
		guard:           guard,
		store:           store,
		now:             time.Now,
		retention:       defaultEventRetentionDays,
		sessionSchedule: defaultSessionSpec,
		eventSchedule:   defaultEventSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.sessions != nil || cleaner.guard != nil || cleaner.store != nil

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one cleanup is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.sessions != nil {
		if _, err := c.cron.AddFunc(c.sessionSchedule, func() {
			if _, err := c.sessions.CleanupExpired(context.Background()); err != nil {
				c.log.Warn("session cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.guard != nil {
		if _, err := c.cron.AddFunc(c.eventSchedule, func() {
			ctx := context.Background()
			if c.retention > 0 {
				if _, err := c.guard.CleanupEvents(ctx, c.retention); err != nil {
					c.log.Warn("event cleanup failed", zap.Error(err))
				}
			}
			if _, err := c.guard.CleanupExpiredBlocks(ctx); err != nil {
				c.log.Warn("block cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.store != nil {
		if _, err := c.cron.AddFunc(c.eventSchedule, func() {
			if _, err := c.store.CleanupExpired(context.Background(), c.now()); err != nil {
				c.log.Warn("cache cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.sessions != nil {
		if _, err := c.sessions.CleanupExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.guard != nil {
		if c.retention > 0 {
			if _, err := c.guard.CleanupEvents(ctx, c.retention); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		if _, err := c.guard.CleanupExpiredBlocks(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.store != nil {
		if _, err := c.store.CleanupExpired(ctx, c.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
