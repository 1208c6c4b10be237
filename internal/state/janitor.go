package state

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xplab/imagery-node/internal/logger"
)

// Janitor prunes old upload history on a cron schedule so the node's local
// database stays bounded over long deployments.
type Janitor struct {
	logger    *logger.Logger
	store     *Store
	schedule  string
	retention time.Duration
	cron      *cron.Cron
}

// NewJanitor creates a retention janitor
func NewJanitor(store *Store, schedule string, retentionDays int, log *logger.Logger) *Janitor {
	return &Janitor{
		logger:    log,
		store:     store,
		schedule:  schedule,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Name returns the service name
func (j *Janitor) Name() string {
	return "state-janitor"
}

// Start schedules the pruning job
func (j *Janitor) Start(ctx context.Context) error {
	j.cron = cron.New()

	if _, err := j.cron.AddFunc(j.schedule, j.prune); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", j.schedule, err)
	}

	j.cron.Start()
	j.logger.Info("State janitor started", "schedule", j.schedule, "retention", j.retention)
	return nil
}

// Stop halts the schedule and waits for a running prune to finish
func (j *Janitor) Stop(ctx context.Context) error {
	if j.cron == nil {
		return nil
	}

	stopCtx := j.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Janitor) prune() {
	cutoff := time.Now().Add(-j.retention)

	removed, err := j.store.PruneUploads(cutoff)
	if err != nil {
		j.logger.Error("Failed to prune upload history", "error", err)
		return
	}
	if removed > 0 {
		j.logger.Info("Pruned upload history", "removed", removed, "cutoff", cutoff)
	}
}
