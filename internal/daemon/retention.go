package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"medscribe/internal/artifacts"
	"medscribe/internal/jobs"
	"medscribe/internal/logging"
)

func (d *Daemon) runSweeper(ctx context.Context) {
	defer d.wg.Done()
	interval := d.cfg.SweepInterval()
	if interval <= 0 {
		return
	}
	ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: interval / 10})
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.SweepExpired(ctx, time.Now()); err != nil && !errors.Is(err, context.Canceled) {
				logging.WarnWithContext(d.logger, "retention sweep failed", "retention_failed", logging.Error(err))
			}
		}
	}
}

// SweepExpired purges terminal jobs older than the retention TTL along with
// their uploads and sidecars. It returns the number of jobs removed.
func (d *Daemon) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ttl := d.cfg.JobTTL()
	if ttl <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-ttl)

	expired, err := d.store.List(ctx, jobs.Filter{
		Statuses:      []jobs.Status{jobs.StatusSucceeded, jobs.StatusFailed, jobs.StatusCancelled},
		UpdatedBefore: cutoff,
	})
	if err != nil {
		return 0, err
	}
	refs := make(map[string]string, len(expired))
	for _, job := range expired {
		refs[job.ID] = job.Input.Ref
	}

	removed, err := d.store.PurgeTerminal(ctx, cutoff)
	for _, id := range removed {
		if cleanupErr := d.artifacts.DeletePrefix(ctx, artifacts.JobPrefix(id)); cleanupErr != nil {
			d.logger.Warn("failed to remove job sidecars", logging.String(logging.FieldJobID, id), logging.Error(cleanupErr))
		}
		if ref := refs[id]; ref != "" {
			if cleanupErr := d.artifacts.Delete(ctx, ref); cleanupErr != nil {
				d.logger.Warn("failed to remove job upload", logging.String(logging.FieldJobID, id), logging.Error(cleanupErr))
			}
		}
	}
	if len(removed) > 0 {
		d.logger.Info("purged expired jobs", logging.Int("count", len(removed)), logging.Duration("ttl", ttl))
	}
	return len(removed), err
}
