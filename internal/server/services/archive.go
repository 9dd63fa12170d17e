package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/metrics"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// DefaultArchiveName names multi-selection downloads.
const DefaultArchiveName = "selected_items.zip"

type archiveEntry struct {
	name string // slash separated, relative to the archive root
	file *models.File
	body *os.File // nil for directory entries
}

// Archive is a resolved selection whose files are already open, so
// streaming cannot discover a missing artifact halfway through.
type Archive struct {
	Name    string
	entries []archiveEntry
	metrics *metrics.Metrics
}

// Files reports how many files the archive carries.
func (a *Archive) Files() int {
	n := 0
	for _, e := range a.entries {
		if e.file != nil {
			n++
		}
	}
	return n
}

// WriteTo streams the zip in one pass.
func (a *Archive) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	for _, e := range a.entries {
		if e.file == nil {
			if _, err := zw.CreateHeader(&zip.FileHeader{Name: e.name + "/", Method: zip.Store}); err != nil {
				return cw.n, err
			}
			continue
		}

		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate, Modified: e.file.UploadTime}
		dst, err := zw.CreateHeader(hdr)
		if err != nil {
			return cw.n, err
		}
		if _, err := io.Copy(dst, e.body); err != nil {
			return cw.n, fmt.Errorf("stream %s: %w: %v", e.name, common.ErrStorageIO, err)
		}
	}

	if err := zw.Close(); err != nil {
		return cw.n, err
	}
	a.metrics.RecordArchive()
	return cw.n, nil
}

// Close releases every open artifact.
func (a *Archive) Close() error {
	var errs []error
	for _, e := range a.entries {
		if e.body != nil {
			errs = append(errs, e.body.Close())
		}
	}
	return errors.Join(errs...)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// ArchiveService flattens selections of files and directories into zips.
type ArchiveService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	metrics     *metrics.Metrics
}

func NewArchiveService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger, mtr *metrics.Metrics) *ArchiveService {
	return &ArchiveService{
		db:          db,
		repomanager: m,
		logger:      logger.With("module", "archive"),
		metrics:     mtr,
	}
}

// Prepare validates ownership of every id, expands the directories and
// opens every artifact. Selected files sit at the archive root; files
// inside a selected directory keep their path below it.
func (s *ArchiveService) Prepare(ctx context.Context, userID int64, fileIDs, dirIDs []int64) (*Archive, error) {
	fileIDs, dirIDs = uniqueIDs(fileIDs), uniqueIDs(dirIDs)
	if len(fileIDs) == 0 && len(dirIDs) == 0 {
		return nil, fmt.Errorf("nothing selected: %w", common.ErrValidation)
	}

	files, dirs, err := loadSelection(ctx, s.repomanager, s.db, userID, fileIDs, dirIDs)
	if err != nil {
		return nil, err
	}
	return s.build(ctx, userID, DefaultArchiveName, files, outermost(dirs))
}

// outermost drops directories already covered by another selected one.
func outermost(dirs []*models.Directory) []*models.Directory {
	out := make([]*models.Directory, 0, len(dirs))
	for _, d := range dirs {
		covered := false
		for _, other := range dirs {
			if other.ID != d.ID && strings.HasPrefix(d.Path, other.Path+"/") {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, d)
		}
	}
	return out
}

// PrepareDirectory archives one directory on behalf of its owner.
func (s *ArchiveService) PrepareDirectory(ctx context.Context, ownerID int64, dir *models.Directory) (*Archive, error) {
	return s.build(ctx, ownerID, dir.Name+".zip", nil, []*models.Directory{dir})
}

type pendingDir struct {
	dir    *models.Directory
	prefix string
}

func (s *ArchiveService) build(ctx context.Context, userID int64, name string, files []*models.File, dirs []*models.Directory) (*Archive, error) {
	a := &Archive{Name: name, metrics: s.metrics}
	rootNames := newNamer()

	for _, f := range files {
		a.entries = append(a.entries, archiveEntry{name: rootNames.unique(f.Filename), file: f})
	}

	stack := make([]pendingDir, 0, len(dirs))
	for i := len(dirs) - 1; i >= 0; i-- {
		stack = append(stack, pendingDir{dir: dirs[i], prefix: rootNames.unique(dirs[i].Name)})
	}

	dirRepo := s.repomanager.Directories(s.db)
	fileRepo := s.repomanager.Files(s.db)

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		a.entries = append(a.entries, archiveEntry{name: cur.prefix})
		names := newNamer()

		id := cur.dir.ID
		inside, err := fileRepo.ListByDirectory(ctx, userID, &id)
		if err != nil {
			return nil, err
		}
		for _, f := range inside {
			a.entries = append(a.entries, archiveEntry{name: path.Join(cur.prefix, names.unique(f.Filename)), file: f})
		}

		children, err := dirRepo.ListChildren(ctx, userID, &id)
		if err != nil {
			return nil, err
		}
		for i := len(children) - 1; i >= 0; i-- {
			child := children[i]
			stack = append(stack, pendingDir{dir: child, prefix: path.Join(cur.prefix, names.unique(child.Name))})
		}
	}

	if err := s.open(ctx, userID, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *ArchiveService) open(ctx context.Context, userID int64, a *Archive) error {
	for i := range a.entries {
		e := &a.entries[i]
		if e.file == nil {
			continue
		}
		body, err := os.Open(e.file.Filepath)
		if err != nil {
			_ = a.Close()
			if errors.Is(err, fs.ErrNotExist) {
				s.logger.Error(ctx, "archive member missing on disk", "user_id", userID, "file_id", e.file.ID, "path", e.file.Filepath)
				return fmt.Errorf("file %q is missing: %w", e.file.Filename, common.ErrNotFound)
			}
			return fmt.Errorf("open %q: %w: %v", e.file.Filename, common.ErrStorageIO, err)
		}
		e.body = body
	}
	return nil
}

// namer hands out unique names within one archive directory, appending
// " (n)" before the extension on collisions.
type namer map[string]bool

func newNamer() namer {
	return namer{}
}

func (n namer) unique(name string) string {
	if !n[name] {
		n[name] = true
		return name
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if !n[candidate] {
			n[candidate] = true
			return candidate
		}
	}
}
