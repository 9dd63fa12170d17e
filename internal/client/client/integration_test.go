package client

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/httpapi"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophdrive/internal/server/services"
	"github.com/dmitrijs2005/gophdrive/internal/server/sessions"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// liveClient starts the real HTTP API over sqlite and returns a client
// logged in as a fresh user with the given quota.
func liveClient(t *testing.T, quota int64) *HTTPClient {
	t.Helper()
	ctx := context.Background()

	dsn := "file:" + filepath.Join(t.TempDir(), "live.db") + "?_pragma=foreign_keys(1)"
	db, err := repomanager.Open(ctx, "sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rm, err := repomanager.NewSQLRepositoryManager("sqlite")
	require.NoError(t, err)
	require.NoError(t, rm.RunMigrations(ctx, db))

	root := t.TempDir()
	logger := logging.NewNop()
	layout := services.NewLayout(root)
	quotaLedger := services.NewQuotaLedger(db, rm)
	tree := services.NewTreeService(db, rm, layout, logger)
	archives := services.NewArchiveService(db, rm, logger, nil)
	users := services.NewUserService(db, rm, layout, logger, "client-secret", time.Hour, quota)

	srv := httpapi.NewServer(httpapi.Options{}, httpapi.Services{
		Users:    users,
		Tree:     tree,
		Uploads:  services.NewUploadService(db, rm, tree, quotaLedger, sessions.NewStore(root), sessions.NewLocks(root), layout, services.UploadOptions{}, logger, nil),
		Deletion: services.NewDeletionService(db, rm, quotaLedger, layout, logger, nil),
		Archives: archives,
		Shares:   services.NewShareService(db, rm, archives, logger),
	}, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	_, err = users.CreateUser(ctx, "dana", -1, false)
	require.NoError(t, err)
	token, err := users.IssueToken(ctx, "dana")
	require.NoError(t, err)

	return NewHTTPClient(ts.URL, token, Options{ChunkSize: 5, RetryDelay: time.Millisecond})
}

func TestLive_UploadBrowseDownloadDelete(t *testing.T) {
	ctx := context.Background()
	c := liveClient(t, 1000)

	require.NoError(t, c.Ping(ctx))

	dir, err := c.CreateDirectory(ctx, nil, "photos")
	require.NoError(t, err)

	content := []byte(strings.Repeat("abcdefghij", 3) + "xyz")
	f, err := c.Upload(ctx, "album.txt", int64(len(content)), bytes.NewReader(content), &dir.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), f.Filesize)

	root, err := c.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, root.Directories, 1)
	assert.Equal(t, int64(len(content)), root.Quota.UsedSpace)

	inside, err := c.List(ctx, &dir.ID)
	require.NoError(t, err)
	require.Len(t, inside.Files, 1)
	assert.Equal(t, "album.txt", inside.Files[0].Filename)

	var buf bytes.Buffer
	name, err := c.Download(ctx, f.ID, &buf)
	require.NoError(t, err)
	assert.Equal(t, "album.txt", name)
	assert.Equal(t, content, buf.Bytes())

	buf.Reset()
	name, err = c.DownloadArchive(ctx, nil, []int64{dir.ID}, &buf)
	require.NoError(t, err)
	assert.Equal(t, "selected_items.zip", name)
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	var names []string
	for _, zf := range zr.File {
		names = append(names, zf.Name)
	}
	assert.Contains(t, names, "photos/album.txt")

	pw := "pw"
	share, err := c.Share(ctx, ShareRequest{ObjectType: "file", ObjectID: f.ID, Password: &pw})
	require.NoError(t, err)
	assert.NotEmpty(t, share.ShareKey)
	assert.True(t, share.HasPassword)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dana", me.Username)

	stats, err := c.DeleteDirectory(ctx, dir.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)

	_, err = c.Download(ctx, f.ID, &buf)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestLive_QuotaAndConflicts(t *testing.T) {
	ctx := context.Background()
	c := liveClient(t, 20)

	_, err := c.Upload(ctx, "big.bin", 50, bytes.NewReader(make([]byte, 50)), nil)
	assert.ErrorIs(t, err, common.ErrQuotaExceeded)

	_, err = c.Upload(ctx, "a.txt", 3, bytes.NewReader([]byte("abc")), nil)
	require.NoError(t, err)
	_, err = c.Upload(ctx, "a.txt", 3, bytes.NewReader([]byte("abc")), nil)
	assert.ErrorIs(t, err, common.ErrConflict)

	_, err = c.CreateDirectory(ctx, nil, "")
	assert.ErrorIs(t, err, common.ErrValidation)

	stats, err := c.DeleteBatch(ctx, nil, []int64{999})
	assert.Nil(t, stats)
	assert.ErrorIs(t, err, common.ErrAccessDenied)

	err = c.CancelUpload(ctx, "never-started")
	assert.ErrorIs(t, err, common.ErrNotFound)

	unauth := NewHTTPClient(c.baseURL, "bogus", Options{})
	_, err = unauth.List(ctx, nil)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}
