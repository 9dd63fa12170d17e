package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/metrics"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophdrive/internal/server/sessions"
)

// Kinds of reconcile findings.
const (
	FindingDrift           = "drift"
	FindingMissingArtifact = "missing_artifact"
	FindingOrphanArtifact  = "orphan_artifact"
)

// ReconcileReport describes one user's ledger and artifact check.
type ReconcileReport struct {
	UserID           int64    `json:"user_id" yaml:"user_id"`
	Before           int64    `json:"used_space_before" yaml:"used_space_before"`
	After            int64    `json:"used_space_after" yaml:"used_space_after"`
	MissingArtifacts []int64  `json:"missing_artifacts,omitempty" yaml:"missing_artifacts,omitempty"`
	OrphanArtifacts  []string `json:"orphan_artifacts,omitempty" yaml:"orphan_artifacts,omitempty"`
}

// Drifted reports whether used_space had to be corrected.
func (r *ReconcileReport) Drifted() bool {
	return r.Before != r.After
}

// Reconciler restores used_space from the File rows and reports rows and
// artifacts that lost their counterpart. It never deletes anything.
type Reconciler struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	layout      *Layout
	interval    time.Duration
	logger      logging.Logger
	metrics     *metrics.Metrics
}

func NewReconciler(db *sql.DB, m repomanager.RepositoryManager, layout *Layout, interval time.Duration, logger logging.Logger, mtr *metrics.Metrics) *Reconciler {
	return &Reconciler{
		db:          db,
		repomanager: m,
		layout:      layout,
		interval:    interval,
		logger:      logger.With("module", "reconcile"),
		metrics:     mtr,
	}
}

// Run reconciles every user each interval until ctx is done. A zero
// interval disables the schedule.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.ReconcileAll(ctx); err != nil {
				r.logger.Error(ctx, "reconcile pass failed", "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// ReconcileAll checks every user; one failing user does not stop the rest.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]*ReconcileReport, error) {
	users, err := r.repomanager.Users(r.db).List(ctx)
	if err != nil {
		return nil, err
	}

	var (
		reports []*ReconcileReport
		errs    []error
	)
	for _, u := range users {
		rep, err := r.ReconcileUser(ctx, u.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("user %d: %w", u.ID, err))
			continue
		}
		reports = append(reports, rep)
	}
	return reports, errors.Join(errs...)
}

// ReconcileUser recomputes the user's used_space and compares the File
// rows with the artifacts on disk.
func (r *Reconciler) ReconcileUser(ctx context.Context, userID int64) (*ReconcileReport, error) {
	userRepo := r.repomanager.Users(r.db)
	u, err := userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("user %d: %w", userID, common.ErrNotFound)
		}
		return nil, err
	}

	after, err := userRepo.RecomputeUsedSpace(ctx, userID)
	if err != nil {
		return nil, err
	}
	rep := &ReconcileReport{UserID: userID, Before: u.UsedSpace, After: after}

	files, err := r.repomanager.Files(r.db).ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(files))
	for _, f := range files {
		known[filepath.Clean(f.Filepath)] = true
		if _, err := os.Stat(f.Filepath); errors.Is(err, fs.ErrNotExist) {
			rep.MissingArtifacts = append(rep.MissingArtifacts, f.ID)
		}
	}

	orphans, err := r.orphans(r.layout.UserDir(userID), known)
	if err != nil {
		return nil, err
	}
	rep.OrphanArtifacts = orphans

	if rep.Drifted() {
		r.metrics.RecordReconcileFinding(FindingDrift, 1)
		r.logger.Warn(ctx, "used_space drift corrected", "user_id", userID, "before", rep.Before, "after", rep.After)
	}
	if n := len(rep.MissingArtifacts); n > 0 {
		r.metrics.RecordReconcileFinding(FindingMissingArtifact, n)
		r.logger.Error(ctx, "file records without artifacts", "user_id", userID, "file_ids", rep.MissingArtifacts)
	}
	if n := len(rep.OrphanArtifacts); n > 0 {
		r.metrics.RecordReconcileFinding(FindingOrphanArtifact, n)
		r.logger.Warn(ctx, "artifacts without file records", "user_id", userID, "paths", rep.OrphanArtifacts)
	}
	return rep, nil
}

// orphans lists regular files under root that no File row points at. Upload
// sessions and in-flight assembly files are not artifacts.
func (r *Reconciler) orphans(root string, known map[string]bool) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if filepath.Dir(path) == root && sessions.IsSessionDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if strings.Contains(d.Name(), partSuffix) || known[filepath.Clean(path)] {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w: %v", root, common.ErrStorageIO, err)
	}
	return out, nil
}
