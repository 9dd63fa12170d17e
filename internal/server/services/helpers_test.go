package services

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/metrics"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophdrive/internal/server/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// testEnv wires every service against a throwaway sqlite database and
// upload folder.
type testEnv struct {
	db       *sql.DB
	rm       repomanager.RepositoryManager
	root     string
	layout   *Layout
	store    *sessions.Store
	locks    *sessions.Locks
	metrics  *metrics.Metrics
	quota    *QuotaLedger
	tree     *TreeService
	uploads  *UploadService
	deletion *DeletionService
	archives *ArchiveService
	shares   *ShareService
	users    *UserService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	dsn := "file:" + filepath.Join(t.TempDir(), "meta.db") + "?_pragma=foreign_keys(1)"
	db, err := repomanager.Open(ctx, "sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rm, err := repomanager.NewSQLRepositoryManager("sqlite")
	require.NoError(t, err)
	require.NoError(t, rm.RunMigrations(ctx, db))

	root := t.TempDir()
	logger := logging.NewNop()
	mtr := metrics.New(prometheus.NewRegistry())

	e := &testEnv{
		db:      db,
		rm:      rm,
		root:    root,
		layout:  NewLayout(root),
		store:   sessions.NewStore(root),
		locks:   sessions.NewLocks(root),
		metrics: mtr,
	}
	e.quota = NewQuotaLedger(db, rm)
	e.tree = NewTreeService(db, rm, e.layout, logger)
	e.uploads = NewUploadService(db, rm, e.tree, e.quota, e.store, e.locks, e.layout, UploadOptions{}, logger, mtr)
	e.deletion = NewDeletionService(db, rm, e.quota, e.layout, logger, mtr)
	e.archives = NewArchiveService(db, rm, logger, mtr)
	e.shares = NewShareService(db, rm, e.archives, logger)
	e.shares.bcryptCost = bcrypt.MinCost
	e.users = NewUserService(db, rm, e.layout, logger, "test-secret", time.Hour, 1<<20)
	return e
}

func (e *testEnv) newUser(t *testing.T, name string, quota int64) *models.User {
	t.Helper()
	u, err := e.users.CreateUser(context.Background(), name, quota, false)
	require.NoError(t, err)
	return u
}

func (e *testEnv) reloadUser(t *testing.T, id int64) *models.User {
	t.Helper()
	u, err := e.rm.Users(e.db).GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (e *testEnv) mkdir(t *testing.T, userID int64, parent *int64, name string) *models.Directory {
	t.Helper()
	d, err := e.tree.CreateDirectory(context.Background(), userID, parent, name)
	require.NoError(t, err)
	return d
}

// put stores content as a single-shot upload.
func (e *testEnv) put(t *testing.T, userID int64, dir *int64, name string, content []byte) *models.File {
	t.Helper()
	f, err := e.uploads.UploadFile(context.Background(), userID, dir, name, int64(len(content)), bytes.NewReader(content))
	require.NoError(t, err)
	return f
}

func chunk(uploadID string, idx, total int, name string, size int64, dir *int64, body []byte) *ChunkRequest {
	return &ChunkRequest{
		UploadID:    uploadID,
		ChunkIndex:  idx,
		TotalChunks: total,
		FileName:    name,
		FileSize:    size,
		DirectoryID: dir,
		Body:        bytes.NewReader(body),
	}
}

// split cuts data into n nearly equal parts.
func split(data []byte, n int) [][]byte {
	parts := make([][]byte, 0, n)
	size := (len(data) + n - 1) / n
	for i := 0; i < n; i++ {
		lo, hi := i*size, (i+1)*size
		if lo > len(data) {
			lo = len(data)
		}
		if hi > len(data) {
			hi = len(data)
		}
		parts = append(parts, data[lo:hi])
	}
	return parts
}

func payload(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%251)
	}
	return b
}

func ptr[T any](v T) *T {
	return &v
}
