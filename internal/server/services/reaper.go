package services

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/metrics"
	"github.com/dmitrijs2005/gophdrive/internal/server/sessions"
)

// ReaperConfig controls the stale session reaper.
type ReaperConfig struct {
	Enabled        bool
	Interval       time.Duration
	StaleThreshold time.Duration
}

// ReapStats summarizes one pass.
type ReapStats struct {
	Scanned int `json:"scanned"`
	Purged  int `json:"purged"`
	Busy    int `json:"busy"`
	Errors  int `json:"errors"`
}

// Reaper reclaims abandoned upload sessions. It shares nothing with the
// upload path except the on-disk session area and the session locks: a
// session held by a request is skipped, and the tracking state is re-read
// under the lock before anything is removed.
type Reaper struct {
	cfg     ReaperConfig
	store   *sessions.Store
	locks   *sessions.Locks
	logger  logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewReaper(cfg ReaperConfig, store *sessions.Store, locks *sessions.Locks, logger logging.Logger, mtr *metrics.Metrics) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 10 * time.Minute
	}
	return &Reaper{
		cfg:     cfg,
		store:   store,
		locks:   locks,
		logger:  logger.With("module", "reaper"),
		metrics: mtr,
		now:     time.Now,
	}
}

// Run scans every Interval until ctx is done. A disabled reaper returns
// immediately.
func (r *Reaper) Run(ctx context.Context) error {
	if !r.cfg.Enabled {
		r.logger.Info(ctx, "session reaper disabled")
		return nil
	}

	r.logger.Info(ctx, "session reaper started", "interval", r.cfg.Interval, "stale_threshold", r.cfg.StaleThreshold)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.RunNow(ctx); err != nil {
				r.logger.Error(ctx, "reaper pass failed", "error", err)
			}
		case <-ctx.Done():
			r.logger.Info(ctx, "session reaper stopped")
			return nil
		}
	}
}

// RunNow performs one pass and blocks until it completes.
func (r *Reaper) RunNow(ctx context.Context) (*ReapStats, error) {
	refs, err := r.store.Scan()
	if err != nil {
		return nil, err
	}

	stats := &ReapStats{Scanned: len(refs)}
	r.metrics.RecordReaperScan(len(refs))

	for _, ref := range refs {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		r.inspect(ctx, ref, stats)
	}

	r.logger.Info(ctx, "reaper pass completed",
		"scanned", stats.Scanned, "purged", stats.Purged, "busy", stats.Busy, "errors", stats.Errors)
	return stats, nil
}

func (r *Reaper) inspect(ctx context.Context, ref sessions.Ref, stats *ReapStats) {
	unlock, ok, err := r.locks.TryLock(ref.UserID, ref.UploadID)
	if err != nil {
		stats.Errors++
		r.logger.Warn(ctx, "session lock failed", "user_id", ref.UserID, "upload_id", ref.UploadID, "error", err)
		return
	}
	if !ok {
		stats.Busy++
		return
	}
	defer unlock()

	now := r.now()
	reason := ""

	t, err := r.store.Load(ref.UserID, ref.UploadID)
	switch {
	case err == nil:
		if t.IsStale(now, r.cfg.StaleThreshold) {
			reason = metrics.ReasonStale
		}
	case errors.Is(err, common.ErrCorruptTracking):
		reason = metrics.ReasonCorrupt
	case errors.Is(err, common.ErrSessionNotFound):
		// A session directory without tracking state is either being created
		// right now or left over from a crash; only the latter is old.
		info, statErr := os.Stat(ref.Dir)
		if statErr != nil {
			if !errors.Is(statErr, os.ErrNotExist) {
				stats.Errors++
			}
			return
		}
		if now.Sub(info.ModTime()) > r.cfg.StaleThreshold {
			reason = metrics.ReasonNoTracking
		}
	default:
		stats.Errors++
		r.logger.Warn(ctx, "tracking unreadable", "user_id", ref.UserID, "upload_id", ref.UploadID, "error", err)
		return
	}

	if reason == "" {
		return
	}

	if err := r.store.Remove(ref.UserID, ref.UploadID); err != nil && !errors.Is(err, common.ErrSessionNotFound) {
		stats.Errors++
		r.logger.Error(ctx, "session purge failed", "user_id", ref.UserID, "upload_id", ref.UploadID, "error", err)
		return
	}
	stats.Purged++
	r.metrics.RecordReaperPurge(reason)
	r.logger.Info(ctx, "session purged", "user_id", ref.UserID, "upload_id", ref.UploadID, "reason", reason)
}
