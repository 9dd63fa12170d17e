package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/dbx"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/metrics"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
	"github.com/dustin/go-humanize"
)

// DeleteStats accumulates the effect of one delete operation.
type DeleteStats struct {
	Files   int   `json:"deleted_files_count"`
	Dirs    int   `json:"deleted_dirs_count"`
	Bytes   int64 `json:"freed_bytes"`
	Missing int   `json:"missing_artifacts"`
}

// DeletionService removes files and whole subtrees. Rows, share links and
// the quota credit of the whole operation go in one transaction; artifacts
// are removed once it has committed, so no row ever outlives its file.
//
// A single file whose artifact is missing is a consistency error and
// nothing changes. Bulk and subtree deletes count missing artifacts, log
// them and carry on.
type DeletionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	quota       *QuotaLedger
	layout      *Layout
	logger      logging.Logger
	metrics     *metrics.Metrics
}

func NewDeletionService(db *sql.DB, m repomanager.RepositoryManager, quota *QuotaLedger, layout *Layout, logger logging.Logger, mtr *metrics.Metrics) *DeletionService {
	return &DeletionService{
		db:          db,
		repomanager: m,
		quota:       quota,
		layout:      layout,
		logger:      logger.With("module", "deletion"),
		metrics:     mtr,
	}
}

// DeleteFile removes one file.
func (s *DeletionService) DeleteFile(ctx context.Context, userID, fileID int64) error {
	file, err := s.repomanager.Files(s.db).GetByID(ctx, userID, fileID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("file %d: %w", fileID, common.ErrNotFound)
		}
		return err
	}

	if _, err := os.Stat(file.Filepath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Error(ctx, "file record without artifact", "user_id", userID, "file_id", fileID, "path", file.Filepath)
			return fmt.Errorf("file %d has no artifact on disk: %w", fileID, common.ErrConsistency)
		}
		return fmt.Errorf("stat artifact: %w: %v", common.ErrStorageIO, err)
	}

	_, err = s.execute(ctx, userID, []*models.File{file}, nil)
	return err
}

// DeleteDirectory removes a directory and everything below it.
func (s *DeletionService) DeleteDirectory(ctx context.Context, userID, dirID int64) (DeleteStats, error) {
	dir, err := s.repomanager.Directories(s.db).GetByID(ctx, userID, dirID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return DeleteStats{}, fmt.Errorf("directory %d: %w", dirID, common.ErrNotFound)
		}
		return DeleteStats{}, err
	}

	files, dirs, err := s.expand(ctx, userID, []*models.Directory{dir})
	if err != nil {
		return DeleteStats{}, err
	}
	return s.execute(ctx, userID, files, dirs)
}

// DeleteBatch removes the selected files and directories. Every id must
// belong to the user before anything is touched.
func (s *DeletionService) DeleteBatch(ctx context.Context, userID int64, fileIDs, dirIDs []int64) (DeleteStats, error) {
	fileIDs, dirIDs = uniqueIDs(fileIDs), uniqueIDs(dirIDs)
	if len(fileIDs) == 0 && len(dirIDs) == 0 {
		return DeleteStats{}, fmt.Errorf("nothing selected: %w", common.ErrValidation)
	}

	selectedFiles, selectedDirs, err := loadSelection(ctx, s.repomanager, s.db, userID, fileIDs, dirIDs)
	if err != nil {
		return DeleteStats{}, err
	}

	files, dirs, err := s.expand(ctx, userID, selectedDirs)
	if err != nil {
		return DeleteStats{}, err
	}

	seen := make(map[int64]bool, len(files))
	for _, f := range files {
		seen[f.ID] = true
	}
	for _, f := range selectedFiles {
		if !seen[f.ID] {
			files = append(files, f)
			seen[f.ID] = true
		}
	}
	return s.execute(ctx, userID, files, dirs)
}

// expand walks the subtrees under roots with an explicit stack. Directories
// come back children first, so each row is deleted after its descendants.
func (s *DeletionService) expand(ctx context.Context, userID int64, roots []*models.Directory) ([]*models.File, []*models.Directory, error) {
	dirRepo := s.repomanager.Directories(s.db)
	fileRepo := s.repomanager.Files(s.db)

	var (
		files    []*models.File
		preorder []*models.Directory
		visited  = map[int64]bool{}
		stack    = append([]*models.Directory(nil), roots...)
	)

	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[dir.ID] {
			continue
		}
		visited[dir.ID] = true
		preorder = append(preorder, dir)

		id := dir.ID
		children, err := dirRepo.ListChildren(ctx, userID, &id)
		if err != nil {
			return nil, nil, err
		}
		stack = append(stack, children...)

		inside, err := fileRepo.ListByDirectory(ctx, userID, &id)
		if err != nil {
			return nil, nil, err
		}
		files = append(files, inside...)
	}

	// Deepest first. Reversing the walk alone is not enough when one selected
	// directory sits inside another.
	postorder := make([]*models.Directory, len(preorder))
	for i, d := range preorder {
		postorder[len(preorder)-1-i] = d
	}
	slices.SortStableFunc(postorder, func(a, b *models.Directory) int {
		return depth(b) - depth(a)
	})
	return files, postorder, nil
}

func depth(d *models.Directory) int {
	return strings.Count(d.Path, "/")
}

// execute deletes rows, share links and the quota credit in one transaction
// and only then removes the artifacts. A subtree that gained a child since
// it was expanded fails the transaction with common.ErrConflict and nothing
// changes on disk or in the ledger. An artifact that cannot be removed after
// the commit is an orphan: it is logged and no longer counted anywhere.
func (s *DeletionService) execute(ctx context.Context, userID int64, files []*models.File, dirs []*models.Directory) (DeleteStats, error) {
	var (
		stats   DeleteStats
		present = make([]*models.File, 0, len(files))
	)

	for _, f := range files {
		_, err := os.Lstat(f.Filepath)
		switch {
		case err == nil:
			present = append(present, f)
		case errors.Is(err, fs.ErrNotExist):
			stats.Missing++
			s.logger.Warn(ctx, "artifact already gone", "user_id", userID, "file_id", f.ID, "path", f.Filepath)
		default:
			return DeleteStats{}, fmt.Errorf("stat file %d: %w: %v", f.ID, common.ErrStorageIO, err)
		}
		stats.Files++
		stats.Bytes += f.Filesize
	}
	stats.Dirs = len(dirs)

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fileRepo := s.repomanager.Files(tx)
		dirRepo := s.repomanager.Directories(tx)
		shareRepo := s.repomanager.Shares(tx)

		for _, f := range files {
			if err := shareRepo.DeleteByObject(ctx, models.ShareObjectFile, f.ID); err != nil {
				return err
			}
			if err := fileRepo.Delete(ctx, userID, f.ID); err != nil {
				return fmt.Errorf("delete file %d: %w", f.ID, err)
			}
		}
		for _, d := range dirs {
			if err := shareRepo.DeleteByObject(ctx, models.ShareObjectDirectory, d.ID); err != nil {
				return err
			}
			if err := dirRepo.Delete(ctx, userID, d.ID); err != nil {
				if dbx.IsForeignKeyViolation(err) {
					return fmt.Errorf("directory %q changed during delete, retry: %w", d.Path, common.ErrConflict)
				}
				return fmt.Errorf("delete directory %d: %w", d.ID, err)
			}
		}
		return s.quota.Commit(ctx, tx, userID, -stats.Bytes)
	})
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			s.logger.Warn(ctx, "delete raced with a write", "user_id", userID, "error", err)
		} else {
			s.logger.Error(ctx, "delete commit failed", "user_id", userID, "error", err)
		}
		return DeleteStats{}, err
	}

	for _, f := range present {
		if err := os.Remove(f.Filepath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Error(ctx, "orphaned artifact left on disk", "user_id", userID, "file_id", f.ID, "path", f.Filepath, "error", err)
		}
	}
	for _, d := range dirs {
		path := s.layout.DirectoryPath(userID, d)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn(ctx, "directory removal failed", "user_id", userID, "directory_id", d.ID, "path", path, "error", err)
		}
	}

	s.metrics.RecordDelete(stats.Files, stats.Bytes)
	s.logger.Info(ctx, "items deleted", "user_id", userID,
		"files", stats.Files, "dirs", stats.Dirs, "freed", humanize.IBytes(uint64(stats.Bytes)), "missing", stats.Missing)
	return stats, nil
}

// loadSelection resolves owned files and directories; any foreign or unknown
// id fails the whole selection.
func loadSelection(ctx context.Context, m repomanager.RepositoryManager, db *sql.DB, userID int64, fileIDs, dirIDs []int64) ([]*models.File, []*models.Directory, error) {
	files, err := m.Files(db).ListByIDs(ctx, userID, fileIDs)
	if err != nil {
		return nil, nil, err
	}
	dirs, err := m.Directories(db).ListByIDs(ctx, userID, dirIDs)
	if err != nil {
		return nil, nil, err
	}
	if len(files) != len(fileIDs) || len(dirs) != len(dirIDs) {
		return nil, nil, fmt.Errorf("some items are invalid or not owned by user: %w", common.ErrAccessDenied)
	}
	return files, dirs, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
