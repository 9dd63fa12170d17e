package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/dbx"
	"github.com/dmitrijs2005/gophdrive/internal/filex"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/metrics"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophdrive/internal/server/sessions"
	"github.com/dustin/go-humanize"
)

const partSuffix = ".part-"

// ChunkRequest is one chunk submission of a resumable upload.
type ChunkRequest struct {
	UploadID    string
	ChunkIndex  int
	TotalChunks int
	FileName    string
	FileSize    int64 // declared by the client; reserved at admission and caps the stored bytes
	DirectoryID *int64
	Body        io.Reader
}

// ChunkResult reports the session state after a chunk was accepted.
type ChunkResult struct {
	Received  int          `json:"received"`
	Total     int          `json:"total"`
	Completed bool         `json:"completed"`
	File      *models.File `json:"file,omitempty"`
}

// UploadOptions tunes admission of uploaded content.
type UploadOptions struct {
	MaxChunkSize      int64
	AllowedExtensions []string
}

// UploadService runs the chunked upload protocol. Session progress lives
// only in the session store; a per-session lock serializes every
// read-modify-write of it, including assembly.
type UploadService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	tree        *TreeService
	quota       *QuotaLedger
	store       *sessions.Store
	locks       *sessions.Locks
	layout      *Layout
	extensions  ExtensionPolicy
	maxChunk    int64
	logger      logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewUploadService(
	db *sql.DB,
	m repomanager.RepositoryManager,
	tree *TreeService,
	quota *QuotaLedger,
	store *sessions.Store,
	locks *sessions.Locks,
	layout *Layout,
	opts UploadOptions,
	logger logging.Logger,
	mtr *metrics.Metrics,
) *UploadService {
	return &UploadService{
		db:          db,
		repomanager: m,
		tree:        tree,
		quota:       quota,
		store:       store,
		locks:       locks,
		layout:      layout,
		extensions:  NewExtensionPolicy(opts.AllowedExtensions),
		maxChunk:    opts.MaxChunkSize,
		logger:      logger.With("module", "uploads"),
		metrics:     mtr,
		now:         time.Now,
	}
}

func (s *UploadService) validateChunk(req *ChunkRequest) error {
	switch {
	case !sessions.ValidUploadID(req.UploadID):
		return fmt.Errorf("invalid upload id: %w", common.ErrValidation)
	case req.TotalChunks < 1:
		return fmt.Errorf("total chunks must be positive: %w", common.ErrValidation)
	case req.ChunkIndex < 0 || req.ChunkIndex >= req.TotalChunks:
		return fmt.Errorf("chunk index %d out of range [0, %d): %w", req.ChunkIndex, req.TotalChunks, common.ErrValidation)
	case req.FileSize < 0:
		return fmt.Errorf("file size must not be negative: %w", common.ErrValidation)
	case int64(req.TotalChunks) > max(req.FileSize, 1):
		return fmt.Errorf("%d chunks for %d declared bytes: %w", req.TotalChunks, req.FileSize, common.ErrValidation)
	case req.Body == nil:
		return fmt.Errorf("chunk body is required: %w", common.ErrValidation)
	}
	return nil
}

// UploadChunk stores one chunk and assembles the file once every index has
// arrived. Chunks may arrive in any order; resubmitting an index replaces
// the earlier copy without counting it twice.
func (s *UploadService) UploadChunk(ctx context.Context, userID int64, req *ChunkRequest) (*ChunkResult, error) {
	if err := s.validateChunk(req); err != nil {
		return nil, err
	}
	name, err := cleanName("file", req.FileName)
	if err != nil {
		return nil, err
	}
	if err := s.extensions.Check(name); err != nil {
		return nil, err
	}
	dir, err := s.tree.resolveTarget(ctx, userID, req.DirectoryID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(userID, req.UploadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := s.logger.With("user_id", userID, "upload_id", req.UploadID)

	tracking, err := s.store.Load(userID, req.UploadID)
	switch {
	case errors.Is(err, common.ErrCorruptTracking):
		log.Warn(ctx, "discarding corrupted upload session", "error", err)
		if rmErr := s.store.Remove(userID, req.UploadID); rmErr != nil && !errors.Is(rmErr, common.ErrNotFound) {
			return nil, rmErr
		}
		tracking = nil
	case errors.Is(err, common.ErrSessionNotFound):
		tracking = nil
	case err != nil:
		return nil, err
	}

	fresh := tracking == nil
	if fresh {
		tracking, err = s.admit(ctx, userID, req, name)
		if err != nil {
			return nil, err
		}
	} else {
		if !tracking.SameTarget(name, req.DirectoryID) {
			return nil, fmt.Errorf("upload %s targets another file: %w", req.UploadID, common.ErrConflict)
		}
		if tracking.TotalChunks != req.TotalChunks {
			return nil, fmt.Errorf("total chunks %d does not match session (%d): %w",
				req.TotalChunks, tracking.TotalChunks, common.ErrValidation)
		}
	}

	limit, overDeclared, err := s.chunkLimit(userID, tracking, req.ChunkIndex)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.WriteChunk(userID, req.UploadID, req.ChunkIndex, req.Body, limit); err != nil {
		if fresh {
			_ = s.store.Remove(userID, req.UploadID)
		}
		if errors.Is(err, common.ErrStorageIO) {
			log.Error(ctx, "chunk write failed", "chunk", req.ChunkIndex, "error", err)
		}
		if overDeclared && errors.Is(err, common.ErrValidation) {
			return nil, fmt.Errorf("upload %s holds more than the declared %d bytes: %w",
				req.UploadID, tracking.FileSize, common.ErrValidation)
		}
		return nil, err
	}

	tracking.AddChunk(req.ChunkIndex)
	tracking.LastUpdated = s.now().UTC()
	if err := s.store.Save(userID, tracking); err != nil {
		if fresh {
			_ = s.store.Remove(userID, req.UploadID)
		}
		log.Error(ctx, "tracking write failed", "chunk", req.ChunkIndex, "error", err)
		return nil, err
	}
	s.metrics.RecordChunk()

	res := &ChunkResult{Received: len(tracking.UploadedChunks), Total: tracking.TotalChunks}
	log.Debug(ctx, "chunk accepted", "chunk", req.ChunkIndex, "received", res.Received, "total", res.Total)

	if !tracking.Complete() {
		return res, nil
	}

	file, err := s.assemble(ctx, userID, dir, tracking, log)
	if err != nil {
		return nil, err
	}
	res.Completed = true
	res.File = file
	return res, nil
}

// chunkLimit is the most chunk idx may hold: the configured chunk size,
// or less when the other stored chunks leave less than that of the
// declared file size. overDeclared reports that the declared size binds.
func (s *UploadService) chunkLimit(userID int64, t *sessions.Tracking, idx int) (limit int64, overDeclared bool, err error) {
	others := slices.DeleteFunc(slices.Clone(t.UploadedChunks), func(i int) bool { return i == idx })
	stored, err := s.store.ChunkBytes(userID, t.UploadID, others)
	if err != nil {
		return 0, false, err
	}

	left := max(t.FileSize-stored, 0)
	if s.maxChunk > 0 && s.maxChunk <= left {
		return s.maxChunk, false, nil
	}
	return left, true, nil
}

// admit runs first-chunk admission and creates the session. Nothing is
// written when the target name is taken or the declared size does not fit.
func (s *UploadService) admit(ctx context.Context, userID int64, req *ChunkRequest, name string) (*sessions.Tracking, error) {
	if err := s.tree.checkNameFree(ctx, userID, req.DirectoryID, name); err != nil {
		return nil, err
	}

	ok, err := s.quota.Reserve(ctx, userID, req.FileSize)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.metrics.RecordQuotaRejection()
		if rmErr := s.store.Remove(userID, req.UploadID); rmErr != nil && !errors.Is(rmErr, common.ErrNotFound) {
			s.logger.Warn(ctx, "failed to clean rejected session", "user_id", userID, "upload_id", req.UploadID, "error", rmErr)
		}
		return nil, fmt.Errorf("declared size %s does not fit: %w", humanize.IBytes(uint64(req.FileSize)), common.ErrQuotaExceeded)
	}

	if err := s.store.Create(userID, req.UploadID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	return &sessions.Tracking{
		UploadID:    req.UploadID,
		FileName:    name,
		DirectoryID: req.DirectoryID,
		FileSize:    req.FileSize,
		TotalChunks: req.TotalChunks,
		Reserved:    true,
		CreatedAt:   now,
		LastUpdated: now,
	}, nil
}

// assemble concatenates the chunks in index order and commits the result.
// On failure the session stays in place so the client can retry.
func (s *UploadService) assemble(ctx context.Context, userID int64, dir *models.Directory, t *sessions.Tracking, log logging.Logger) (*models.File, error) {
	start := s.now()

	destDir := s.layout.DirectoryPath(userID, dir)
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		log.Error(ctx, "assembly failed", "error", err)
		return nil, fmt.Errorf("create target directory: %w: %v", common.ErrStorageIO, err)
	}

	final := filepath.Join(destDir, t.FileName)
	tmp, err := partPath(final)
	if err != nil {
		return nil, err
	}

	size, err := s.concatChunks(userID, t, tmp)
	if err != nil {
		_ = os.Remove(tmp)

		var missing *common.MissingChunkError
		if errors.As(err, &missing) {
			t.RemoveChunk(missing.Index)
			if saveErr := s.store.Save(userID, t); saveErr != nil {
				log.Error(ctx, "failed to record missing chunk", "chunk", missing.Index, "error", saveErr)
			}
		}
		log.Error(ctx, "assembly failed", "error", err)
		return nil, err
	}

	file, err := s.commit(ctx, userID, t.DirectoryID, t.FileName, tmp, final, size, log)
	if err != nil {
		return nil, err
	}

	if err := s.store.Remove(userID, t.UploadID); err != nil {
		log.Warn(ctx, "session cleanup failed, leaving it to the reaper", "error", err)
	}

	took := s.now().Sub(start)
	s.metrics.RecordUpload(size, took)
	log.Info(ctx, "upload completed",
		"file_id", file.ID, "file", file.Filename, "size", humanize.IBytes(uint64(size)), "took", took)
	return file, nil
}

func (s *UploadService) concatChunks(userID int64, t *sessions.Tracking, dst string) (size int64, err error) {
	out, err := filex.CreateExclusive(dst)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w: %v", filepath.Base(dst), common.ErrStorageIO, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close assembled file: %w: %v", common.ErrStorageIO, cerr)
		}
	}()

	for i := 0; i < t.TotalChunks; i++ {
		if err := appendChunk(s.store, userID, t.UploadID, i, out); err != nil {
			return 0, err
		}
	}
	if err := out.Sync(); err != nil {
		return 0, fmt.Errorf("sync assembled file: %w: %v", common.ErrStorageIO, err)
	}

	info, err := out.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat assembled file: %w: %v", common.ErrStorageIO, err)
	}
	return info.Size(), nil
}

func appendChunk(store *sessions.Store, userID int64, uploadID string, idx int, out io.Writer) error {
	in, err := store.OpenChunk(userID, uploadID, idx)
	if err != nil {
		return err
	}
	defer in.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy chunk %d: %w: %v", idx, common.ErrStorageIO, err)
	}
	return nil
}

// commit turns the assembled temporary file into a stored File. The quota
// charge, the row insert and the rename onto the final path happen inside
// one transaction: if the transaction fails the artifact is removed, so a
// charged row never lacks its file and the ledger always matches the rows.
func (s *UploadService) commit(ctx context.Context, userID int64, dirID *int64, name, tmp, final string, size int64, log logging.Logger) (*models.File, error) {
	exists, err := filex.Exists(final)
	if err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("stat target: %w: %v", common.ErrStorageIO, err)
	}
	if exists {
		_ = os.Remove(tmp)
		if err := s.tree.checkNameFree(ctx, userID, dirID, name); err != nil {
			return nil, err
		}
		log.Error(ctx, "artifact without a file record blocks the upload", "path", final)
		return nil, fmt.Errorf("untracked artifact at target path: %w", common.ErrConsistency)
	}

	var (
		created *models.File
		renamed bool
	)
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.quota.CommitChecked(ctx, tx, userID, size); err != nil {
			return err
		}
		f, err := s.repomanager.Files(tx).Create(ctx, &models.File{
			UserID:      userID,
			DirectoryID: dirID,
			Filename:    name,
			Filepath:    final,
			Filesize:    size,
			UploadTime:  s.now().UTC(),
		})
		if err != nil {
			if dbx.IsForeignKeyViolation(err) {
				return fmt.Errorf("target directory was deleted: %w", common.ErrNotFound)
			}
			return err
		}
		if err := os.Rename(tmp, final); err != nil {
			return fmt.Errorf("move assembled file: %w: %v", common.ErrStorageIO, err)
		}
		renamed = true
		created = f
		return nil
	})
	if err != nil {
		if renamed {
			_ = os.Remove(final)
		} else {
			_ = os.Remove(tmp)
		}
		if errors.Is(err, common.ErrQuotaExceeded) {
			s.metrics.RecordQuotaRejection()
		} else if !errors.Is(err, common.ErrConflict) && !errors.Is(err, common.ErrNotFound) {
			log.Error(ctx, "upload commit failed", "file", name, "error", err)
		}
		return nil, err
	}
	return created, nil
}

func partPath(final string) (string, error) {
	suffix, err := common.MakeRandHexString(8)
	if err != nil {
		return "", fmt.Errorf("random suffix: %w", err)
	}
	return final + partSuffix + suffix, nil
}

// CancelUpload purges a session. Cancelling an unknown session yields
// common.ErrSessionNotFound.
func (s *UploadService) CancelUpload(ctx context.Context, userID int64, uploadID string) error {
	if !sessions.ValidUploadID(uploadID) {
		return fmt.Errorf("invalid upload id: %w", common.ErrValidation)
	}

	unlock, err := s.locks.Lock(userID, uploadID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.store.Remove(userID, uploadID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.logger.Warn(ctx, "cancel of unknown upload", "user_id", userID, "upload_id", uploadID)
		} else {
			s.logger.Error(ctx, "cancel failed", "user_id", userID, "upload_id", uploadID, "error", err)
		}
		return err
	}

	s.metrics.RecordCancel()
	s.logger.Info(ctx, "upload cancelled", "user_id", userID, "upload_id", uploadID)
	return nil
}

// UploadFile stores a whole file in one request, with the same admission
// and commit rules as chunk assembly. declaredSize < 0 skips the early
// quota check; the commit still enforces the quota on the real size.
func (s *UploadService) UploadFile(ctx context.Context, userID int64, dirID *int64, fileName string, declaredSize int64, body io.Reader) (*models.File, error) {
	if body == nil {
		return nil, fmt.Errorf("file body is required: %w", common.ErrValidation)
	}
	name, err := cleanName("file", fileName)
	if err != nil {
		return nil, err
	}
	if err := s.extensions.Check(name); err != nil {
		return nil, err
	}
	dir, err := s.tree.resolveTarget(ctx, userID, dirID)
	if err != nil {
		return nil, err
	}

	if err := s.tree.checkNameFree(ctx, userID, dirID, name); err != nil {
		return nil, err
	}
	if declaredSize >= 0 {
		ok, err := s.quota.Reserve(ctx, userID, declaredSize)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.metrics.RecordQuotaRejection()
			return nil, fmt.Errorf("declared size %s does not fit: %w", humanize.IBytes(uint64(declaredSize)), common.ErrQuotaExceeded)
		}
	}

	log := s.logger.With("user_id", userID)
	start := s.now()

	destDir := s.layout.DirectoryPath(userID, dir)
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, fmt.Errorf("create target directory: %w: %v", common.ErrStorageIO, err)
	}
	final := filepath.Join(destDir, name)
	tmp, err := partPath(final)
	if err != nil {
		return nil, err
	}

	size, err := writeFile(tmp, body)
	if err != nil {
		_ = os.Remove(tmp)
		log.Error(ctx, "upload write failed", "file", name, "error", err)
		return nil, err
	}

	file, err := s.commit(ctx, userID, dirID, name, tmp, final, size, log)
	if err != nil {
		return nil, err
	}

	took := s.now().Sub(start)
	s.metrics.RecordUpload(size, took)
	log.Info(ctx, "file uploaded", "file_id", file.ID, "file", name, "size", humanize.IBytes(uint64(size)))
	return file, nil
}

func writeFile(path string, body io.Reader) (size int64, err error) {
	out, err := filex.CreateExclusive(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w: %v", filepath.Base(path), common.ErrStorageIO, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close file: %w: %v", common.ErrStorageIO, cerr)
		}
	}()

	size, err = io.Copy(out, body)
	if err != nil {
		return 0, fmt.Errorf("write file: %w: %v", common.ErrStorageIO, err)
	}
	if err := out.Sync(); err != nil {
		return 0, fmt.Errorf("sync file: %w: %v", common.ErrStorageIO, err)
	}
	return size, nil
}
