package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/dbx"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophdrive/internal/server/sessions"
)

// RootBreadcrumb is the synthetic first element of every breadcrumb trail.
const RootBreadcrumb = "Root"

// Breadcrumb is one step of the trail from the root to a directory. ID is
// nil for the root.
type Breadcrumb struct {
	ID   *int64 `json:"id"`
	Name string `json:"name"`
}

// FileEntry is a listed file annotated with its share state.
type FileEntry struct {
	*models.File
	IsPublic  bool   `json:"is_public"`
	IsExpired bool   `json:"is_expired"`
	ShareKey  string `json:"share_key,omitempty"`
}

// Listing is the content of one directory plus the owner's quota.
type Listing struct {
	Files       []FileEntry         `json:"files"`
	Directories []*models.Directory `json:"directories"`
	Breadcrumbs []Breadcrumb        `json:"breadcrumbs"`
	User        *models.User        `json:"user"`
	Quota       QuotaSnapshot       `json:"quota"`
}

// TreeService manages the directory hierarchy.
type TreeService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	layout      *Layout
	logger      logging.Logger
	now         func() time.Time
}

func NewTreeService(db *sql.DB, m repomanager.RepositoryManager, layout *Layout, logger logging.Logger) *TreeService {
	return &TreeService{
		db:          db,
		repomanager: m,
		layout:      layout,
		logger:      logger.With("module", "tree"),
		now:         time.Now,
	}
}

// GetDirectory returns the user's directory; nil id means root and yields nil.
// Unknown and foreign IDs are both common.ErrNotFound.
func (s *TreeService) GetDirectory(ctx context.Context, userID int64, id *int64) (*models.Directory, error) {
	if id == nil {
		return nil, nil
	}
	dir, err := s.repomanager.Directories(s.db).GetByID(ctx, userID, *id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("directory %d: %w", *id, common.ErrNotFound)
		}
		return nil, err
	}
	return dir, nil
}

// resolveTarget validates a client supplied directory id for a write.
func (s *TreeService) resolveTarget(ctx context.Context, userID int64, id *int64) (*models.Directory, error) {
	dir, err := s.GetDirectory(ctx, userID, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("invalid directory id %d: %w", *id, common.ErrValidation)
	}
	return dir, err
}

// CreateDirectory adds name under parentID (nil = root). The path is
// materialized from the parent's path once, here.
func (s *TreeService) CreateDirectory(ctx context.Context, userID int64, parentID *int64, name string) (*models.Directory, error) {
	clean, err := cleanName("directory", name)
	if err != nil {
		return nil, err
	}

	parent, err := s.resolveTarget(ctx, userID, parentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkNameFree(ctx, userID, parentID, clean); err != nil {
		return nil, err
	}

	dir := &models.Directory{
		UserID:    userID,
		ParentID:  parentID,
		Name:      clean,
		Path:      ResolvePath(parent, clean),
		CreatedAt: s.now().UTC(),
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Directories(tx).Create(ctx, dir); err != nil {
			return err
		}
		if err := os.MkdirAll(s.layout.DirectoryPath(userID, dir), 0o750); err != nil {
			if errors.Is(err, syscall.ENOTDIR) || errors.Is(err, fs.ErrExist) {
				return fmt.Errorf("%q is taken on disk: %w", dir.Path, common.ErrConflict)
			}
			return fmt.Errorf("create directory on disk: %w: %v", common.ErrStorageIO, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrStorageIO) {
			s.logger.Error(ctx, "directory create failed", "user_id", userID, "path", dir.Path, "error", err)
		}
		return nil, err
	}

	s.logger.Info(ctx, "directory created", "user_id", userID, "directory_id", dir.ID, "path", dir.Path)
	return dir, nil
}

// checkNameFree fails with common.ErrConflict when a file or a directory
// called name already sits in parentID. Files and directories share one
// namespace on disk.
func (s *TreeService) checkNameFree(ctx context.Context, userID int64, parentID *int64, name string) error {
	if parentID == nil && sessions.IsSessionDir(name) {
		return fmt.Errorf("name %q is reserved: %w", name, common.ErrValidation)
	}

	if _, err := s.repomanager.Directories(s.db).GetByName(ctx, userID, parentID, name); err == nil {
		return fmt.Errorf("directory %q already exists: %w", name, common.ErrConflict)
	} else if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	if _, err := s.repomanager.Files(s.db).GetByName(ctx, userID, parentID, name); err == nil {
		return fmt.Errorf("file %q already exists: %w", name, common.ErrConflict)
	} else if !errors.Is(err, common.ErrNotFound) {
		return err
	}
	return nil
}

// ResolvePath joins the parent's materialized path with name.
func ResolvePath(parent *models.Directory, name string) string {
	if parent == nil {
		return name
	}
	return parent.Path + "/" + name
}

// Breadcrumbs returns the trail from the root to dir, root first.
func (s *TreeService) Breadcrumbs(ctx context.Context, userID int64, dir *models.Directory) ([]Breadcrumb, error) {
	var chain []Breadcrumb
	seen := map[int64]bool{}

	for cur := dir; cur != nil; {
		if seen[cur.ID] {
			return nil, fmt.Errorf("directory %d has a cyclic parent chain: %w", cur.ID, common.ErrConsistency)
		}
		seen[cur.ID] = true

		id := cur.ID
		chain = append(chain, Breadcrumb{ID: &id, Name: cur.Name})

		if cur.ParentID == nil {
			break
		}
		parent, err := s.repomanager.Directories(s.db).GetByID(ctx, userID, *cur.ParentID)
		if err != nil {
			return nil, fmt.Errorf("load parent of directory %d: %w", cur.ID, err)
		}
		cur = parent
	}

	crumbs := make([]Breadcrumb, 0, len(chain)+1)
	crumbs = append(crumbs, Breadcrumb{Name: RootBreadcrumb})
	for i := len(chain) - 1; i >= 0; i-- {
		crumbs = append(crumbs, chain[i])
	}
	return crumbs, nil
}

// List returns the files and subdirectories directly inside dirID.
func (s *TreeService) List(ctx context.Context, userID int64, dirID *int64) (*Listing, error) {
	dir, err := s.GetDirectory(ctx, userID, dirID)
	if err != nil {
		return nil, err
	}

	files, err := s.repomanager.Files(s.db).ListByDirectory(ctx, userID, dirID)
	if err != nil {
		return nil, err
	}
	dirs, err := s.repomanager.Directories(s.db).ListChildren(ctx, userID, dirID)
	if err != nil {
		return nil, err
	}
	shares, err := s.repomanager.Shares(s.db).ListByOwner(ctx, userID, models.ShareObjectFile)
	if err != nil {
		return nil, err
	}
	crumbs, err := s.Breadcrumbs(ctx, userID, dir)
	if err != nil {
		return nil, err
	}
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	byFile := make(map[int64]*models.Share, len(shares))
	for _, sh := range shares {
		byFile[sh.ObjectID] = sh
	}

	now := s.now()
	entries := make([]FileEntry, 0, len(files))
	for _, f := range files {
		e := FileEntry{File: f}
		if sh, ok := byFile[f.ID]; ok {
			e.IsPublic = true
			e.IsExpired = sh.IsExpired(now)
			e.ShareKey = sh.ShareKey
		}
		entries = append(entries, e)
	}
	if dirs == nil {
		dirs = []*models.Directory{}
	}

	return &Listing{
		Files:       entries,
		Directories: dirs,
		Breadcrumbs: crumbs,
		User:        user,
		Quota:       QuotaSnapshot{UsedSpace: user.UsedSpace, Quota: user.Quota},
	}, nil
}

// OpenFile returns an owned file with its artifact opened for reading.
func (s *TreeService) OpenFile(ctx context.Context, userID, fileID int64) (*models.File, *os.File, error) {
	file, err := s.repomanager.Files(s.db).GetByID(ctx, userID, fileID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil, fmt.Errorf("file %d: %w", fileID, common.ErrNotFound)
		}
		return nil, nil, err
	}
	body, err := openArtifact(ctx, s.logger, file)
	if err != nil {
		return nil, nil, err
	}
	return file, body, nil
}
