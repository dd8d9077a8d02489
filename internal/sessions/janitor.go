package sessions

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// IdleDeleter removes sessions idle since before a cutoff. Both
// stores implement it.
type IdleDeleter interface {
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// JanitorConfig configures session expiry.
type JanitorConfig struct {
	// TTL is how long an idle session survives. Zero disables expiry.
	TTL time.Duration `yaml:"ttl"`

	// Schedule is the cron expression for sweep runs.
	// Default: every 10 minutes.
	Schedule string `yaml:"schedule"`
}

// Janitor sweeps expired sessions on a cron schedule.
type Janitor struct {
	store  IdleDeleter
	config JanitorConfig
	logger *slog.Logger
	cron   *cron.Cron

	// nowFunc is swappable in tests.
	nowFunc func() time.Time
}

// NewJanitor creates a janitor. It does nothing until Start.
func NewJanitor(store IdleDeleter, config JanitorConfig, logger *slog.Logger) *Janitor {
	if config.Schedule == "" {
		config.Schedule = "@every 10m"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		store:   store,
		config:  config,
		logger:  logger.With("component", "session_janitor"),
		nowFunc: time.Now,
	}
}

// Start schedules the sweep. No-op when TTL is zero.
func (j *Janitor) Start() error {
	if j.config.TTL <= 0 {
		return nil
	}
	j.cron = cron.New()
	_, err := j.cron.AddFunc(j.config.Schedule, func() {
		j.Sweep(context.Background())
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("session expiry started",
		"ttl", j.config.TTL.String(),
		"schedule", j.config.Schedule)
	return nil
}

// Stop halts scheduled sweeps and waits for a running one.
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// Sweep deletes sessions idle longer than the TTL. Returns the number
// removed.
func (j *Janitor) Sweep(ctx context.Context) int {
	if j.config.TTL <= 0 {
		return 0
	}
	cutoff := j.nowFunc().Add(-j.config.TTL)
	count, err := j.store.DeleteIdleBefore(ctx, cutoff)
	if err != nil {
		j.logger.Warn("session sweep failed", "error", err)
		return 0
	}
	if count > 0 {
		j.logger.Info("expired sessions removed", "count", count)
	}
	return count
}
