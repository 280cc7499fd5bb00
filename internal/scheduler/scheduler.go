// Package scheduler runs daily maintenance: dropping persisted bot log lines
// past their retention.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mori-project/mori/internal/config"
)

// LogPruner deletes persisted log lines older than a cutoff.
type LogPruner interface {
	DeleteLogsBefore(cutoff time.Time) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg   config.StorageConfig
	store LogPruner
	now   func() time.Time
}

// NewScheduler creates a scheduler for the storage settings in cfg.
func NewScheduler(cfg config.StorageConfig, store LogPruner) *Scheduler {
	return &Scheduler{cfg: cfg, store: store, now: time.Now}
}

// Start runs the log cleaner daily until ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.RetentionDays <= 0 || s.store == nil {
		log.Info().Msg("log cleanup disabled")
		return
	}
	log.Info().Msg("scheduler started")

	for {
		next := s.nextCleanupTime()
		log.Debug().Time("next_run", next).Msg("log cleanup scheduled")

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			s.RunLogCleanup()
		}
	}
}

// RunLogCleanup deletes lines older than the retention window.
func (s *Scheduler) RunLogCleanup() int64 {
	cutoff := s.now().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	n, err := s.store.DeleteLogsBefore(cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("log cleanup failed")
		return 0
	}
	log.Info().
		Int64("deleted_lines", n).
		Int("retention_days", s.cfg.RetentionDays).
		Msg("log cleanup completed")
	return n
}

// nextCleanupTime returns the next occurrence of the configured time of day,
// 04:00 when unset or malformed.
func (s *Scheduler) nextCleanupTime() time.Time {
	hour, minute := 4, 0
	if t, err := time.Parse("15:04", s.cfg.CleanupTime); err == nil {
		hour, minute = t.Hour(), t.Minute()
	}

	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
