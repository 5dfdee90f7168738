// Package snapshot runs the periodic portfolio valuation: every run pins a
// single now, values each user's portfolio against it and stores the
// result.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/atmx/valuation-engine/internal/metrics"
	"github.com/atmx/valuation-engine/internal/portfolio"
)

// Snapshotter stores one user's snapshot at now.
type Snapshotter interface {
	TakeSnapshot(ctx context.Context, userID string, now time.Time) (*portfolio.Snapshot, error)
}

// UserLister enumerates the users to snapshot.
type UserLister interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Config tunes a Job.
type Config struct {
	Concurrency   int
	RatePerSecond float64
}

// Job snapshots every user with bounded parallelism and a store-access rate
// limit.
type Job struct {
	users   UserLister
	snap    Snapshotter
	limiter *rate.Limiter
	workers int
	now     func() time.Time
}

// NewJob creates a snapshot job.
func NewJob(users UserLister, snap Snapshotter, cfg Config) *Job {
	workers := cfg.Concurrency
	if workers <= 0 {
		workers = 1
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Job{
		users:   users,
		snap:    snap,
		limiter: rate.NewLimiter(limit, workers),
		workers: workers,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock that pins each run's now. Used by tests.
func (j *Job) WithClock(now func() time.Time) *Job {
	j.now = now
	return j
}

// Result summarizes one run.
type Result struct {
	At     time.Time
	Stored int
	Failed int
}

// RunOnce snapshots every user at a single instant. A failure for one user
// is logged and counted; only listing users or context cancellation abort
// the run.
func (j *Job) RunOnce(ctx context.Context) (Result, error) {
	start := time.Now()
	now := j.now()

	ids, err := j.users.ListUserIDs(ctx)
	if err != nil {
		return Result{At: now}, fmt.Errorf("list users: %w", err)
	}

	var stored, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.workers)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := j.limiter.Wait(gctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
			t0 := time.Now()
			_, err := j.snap.TakeSnapshot(gctx, id, now)
			metrics.SnapshotLatency.Observe(time.Since(t0).Seconds())
			if err != nil {
				failed.Add(1)
				metrics.SnapshotsTotal.WithLabelValues("failed").Inc()
				slog.Warn("snapshot failed", "user_id", id, "err", err)
				return nil
			}
			stored.Add(1)
			metrics.SnapshotsTotal.WithLabelValues("stored").Inc()
			return nil
		})
	}

	err = g.Wait()
	metrics.SnapshotRunDuration.Observe(time.Since(start).Seconds())
	res := Result{At: now, Stored: int(stored.Load()), Failed: int(failed.Load())}
	slog.Info("snapshot run finished",
		"at", now,
		"users", len(ids),
		"stored", res.Stored,
		"failed", res.Failed,
		"duration", time.Since(start),
	)
	return res, err
}

// Run calls RunOnce every interval until ctx is done.
func (j *Job) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
				slog.Error("snapshot run aborted", "err", err)
			}
		}
	}
}
