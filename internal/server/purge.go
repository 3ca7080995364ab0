package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/raphaelgruber/docrag/internal/auth"
	"github.com/raphaelgruber/docrag/internal/service"
)

// DefaultPurgeInterval runs retention once a day.
const DefaultPurgeInterval = 24 * time.Hour

// Purger deletes old finished jobs and expired OAuth states on a schedule.
type Purger struct {
	jobs      *service.JobService
	states    *auth.StateStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewPurger creates a purger. states may be nil.
func NewPurger(jobs *service.JobService, states *auth.StateStore, retentionDays int, interval time.Duration, logger *slog.Logger) *Purger {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Purger{
		jobs:      jobs,
		states:    states,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    logger,
	}
}

// Run purges once immediately and then every interval until ctx ends.
func (p *Purger) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single purge pass. Failures are logged.
func (p *Purger) RunOnce(ctx context.Context) {
	if _, err := p.jobs.PurgeJobs(ctx, p.retention); err != nil {
		p.logger.Warn("job purge failed", "error", err)
	}
	if p.states == nil {
		return
	}
	n, err := p.states.Purge(ctx)
	if err != nil {
		p.logger.Warn("state purge failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Debug("purged expired states", "count", n)
	}
}
