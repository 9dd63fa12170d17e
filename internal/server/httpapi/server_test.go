package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/metrics"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophdrive/internal/server/services"
	"github.com/dmitrijs2005/gophdrive/internal/server/sessions"
	"github.com/klauspost/compress/zip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	srv   *Server
	users *services.UserService
	alice *models.User
	token string
}

func newTestServer(t *testing.T) *testServer {
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
	reg := prometheus.NewRegistry()
	mtr := metrics.New(reg)

	layout := services.NewLayout(root)
	quota := services.NewQuotaLedger(db, rm)
	tree := services.NewTreeService(db, rm, layout, logger)
	archives := services.NewArchiveService(db, rm, logger, mtr)
	users := services.NewUserService(db, rm, layout, logger, "http-test-secret", time.Hour, 1000)

	svc := Services{
		Users:    users,
		Tree:     tree,
		Uploads:  services.NewUploadService(db, rm, tree, quota, sessions.NewStore(root), sessions.NewLocks(root), layout, services.UploadOptions{}, logger, mtr),
		Deletion: services.NewDeletionService(db, rm, quota, layout, logger, mtr),
		Archives: archives,
		Shares:   services.NewShareService(db, rm, archives, logger),
	}
	srv := NewServer(Options{MetricsPath: "/metrics", Gatherer: reg}, svc, logger)

	alice, err := users.CreateUser(ctx, "alice", -1, false)
	require.NoError(t, err)
	token, err := users.IssueToken(ctx, "alice")
	require.NoError(t, err)

	return &testServer{srv: srv, users: users, alice: alice, token: token}
}

func (ts *testServer) do(t *testing.T, req *http.Request, token string) *httptest.ResponseRecorder {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func (ts *testServer) json(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return ts.do(t, req, ts.token)
}

func (ts *testServer) multipart(t *testing.T, path string, fields map[string]string, fileField, fileName string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile(fileField, fileName)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return ts.do(t, req, ts.token)
}

func (ts *testServer) sendChunk(t *testing.T, uploadID string, idx, total int, name string, size int, body []byte) *httptest.ResponseRecorder {
	return ts.multipart(t, "/api/uploads/chunk", map[string]string{
		"uploadId":    uploadID,
		"chunkIndex":  strconv.Itoa(idx),
		"totalChunks": strconv.Itoa(total),
		"fileName":    name,
		"fileSize":    strconv.Itoa(size),
	}, "chunk", "blob", body)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer " + ts.token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := ts.do(t, req, "")
			assert.Equal(t, tt.want, w.Code)
			if tt.want != http.StatusOK {
				assert.Equal(t, false, decode(t, w)["success"])
			}
		})
	}
}

func TestChunkedUploadListAndDownload(t *testing.T) {
	ts := newTestServer(t)

	w := ts.sendChunk(t, "u1", 1, 2, "hello.txt", 11, []byte(" world"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, decode(t, w)["completed"])

	w = ts.sendChunk(t, "u1", 0, 2, "hello.txt", 11, []byte("hello"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["completed"])
	file := body["file"].(map[string]any)
	id := int64(file["id"].(float64))

	w = ts.json(t, http.MethodGet, "/api/files", nil)
	require.Equal(t, http.StatusOK, w.Code)
	listing := decode(t, w)
	require.Len(t, listing["files"], 1)
	assert.Equal(t, float64(11), listing["quota"].(map[string]any)["used_space"])

	w = ts.json(t, http.MethodGet, "/api/files/"+strconv.FormatInt(id, 10)+"/download", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello world", w.Body.String())
	assert.Equal(t, "hello.txt", w.Header().Get("X-Filename"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	w = ts.sendChunk(t, "u2", 0, 1, "hello.txt", 1, []byte("x"))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.sendChunk(t, "u3", 0, 1, "huge.bin", 5000, []byte("x"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = ts.sendChunk(t, "u4", 3, 1, "a.bin", 1, []byte("x"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.multipart(t, "/api/uploads/chunk", map[string]string{"chunkIndex": "zero"}, "chunk", "blob", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelUpload(t *testing.T) {
	ts := newTestServer(t)

	w := ts.sendChunk(t, "c1", 0, 2, "a.bin", 2, []byte("a"))
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.json(t, http.MethodPost, "/api/uploads/cancel", map[string]string{"upload_id": "c1"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.json(t, http.MethodPost, "/api/uploads/cancel", map[string]string{"upload_id": "c1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.json(t, http.MethodPost, "/api/uploads/cancel", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDirectoriesAndDeletion(t *testing.T) {
	ts := newTestServer(t)

	w := ts.json(t, http.MethodPost, "/api/directories", map[string]any{"name": "docs"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	dir := decode(t, w)["directory"].(map[string]any)
	dirID := strconv.FormatInt(int64(dir["id"].(float64)), 10)

	w = ts.json(t, http.MethodPost, "/api/directories", map[string]any{"name": "docs"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.multipart(t, "/api/files", map[string]string{"directoryId": dirID}, "file", "note.txt", []byte("note"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.json(t, http.MethodGet, "/api/files?dir_id="+dirID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["files"], 1)

	w = ts.json(t, http.MethodDelete, "/api/directories/"+dirID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["deleted_files_count"])
	assert.Equal(t, float64(1), stats["deleted_dirs_count"])

	w = ts.json(t, http.MethodDelete, "/api/directories/"+dirID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.json(t, http.MethodDelete, "/api/files/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatchDeleteAndArchive(t *testing.T) {
	ts := newTestServer(t)

	w := ts.multipart(t, "/api/files", nil, "file", "a.txt", []byte("aaa"))
	require.Equal(t, http.StatusCreated, w.Code)
	aID := int64(decode(t, w)["file"].(map[string]any)["id"].(float64))

	w = ts.json(t, http.MethodPost, "/api/items/archive", map[string]any{"file_ids": []int64{aID}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "a.txt", zr.File[0].Name)

	w = ts.json(t, http.MethodPost, "/api/items/archive", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.json(t, http.MethodDelete, "/api/items", map[string]any{"file_ids": []int64{aID, 999}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.json(t, http.MethodDelete, "/api/items", map[string]any{"file_ids": []int64{aID}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["stats"].(map[string]any)["freed_bytes"])
}

func TestSharesAndPublicFetch(t *testing.T) {
	ts := newTestServer(t)

	w := ts.multipart(t, "/api/files", nil, "file", "s.txt", []byte("secret"))
	require.Equal(t, http.StatusCreated, w.Code)
	id := int64(decode(t, w)["file"].(map[string]any)["id"].(float64))

	w = ts.json(t, http.MethodPost, "/api/shares", map[string]any{"object_type": "file", "object_id": id, "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	share := decode(t, w)["share"].(map[string]any)
	key := share["share_key"].(string)
	assert.Equal(t, true, share["has_password"])

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/public/shares/"+key, nil), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/public/shares/"+key, nil)
	req.Header.Set("X-Share-Password", "pw")
	w = ts.do(t, req, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "secret", w.Body.String())

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/public/shares/"+key+"?password=pw", nil), "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/public/shares/unknown", nil), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.json(t, http.MethodPost, "/api/shares", map[string]any{"object_type": "album", "object_id": id})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.json(t, http.MethodPost, "/api/shares", map[string]any{"object_type": "file", "object_id": id, "revoke": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["share"].(map[string]any)["revoked"])
}

func TestUserInfo(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	w := ts.json(t, http.MethodGet, "/api/user", nil)
	require.Equal(t, http.StatusOK, w.Code)
	user := decode(t, w)["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, float64(1000), user["quota"])

	bob, err := ts.users.CreateUser(ctx, "bob", 10, false)
	require.NoError(t, err)
	w = ts.json(t, http.MethodGet, "/api/users/"+strconv.FormatInt(bob.ID, 10), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	_, err = ts.users.CreateUser(ctx, "root", 0, true)
	require.NoError(t, err)
	adminToken, err := ts.users.IssueToken(ctx, "root")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/users/"+strconv.FormatInt(bob.ID, 10), nil)
	w = ts.do(t, req, adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob", decode(t, w)["user"].(map[string]any)["username"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.sendChunk(t, "m", 0, 1, "m.txt", 1, []byte("m")).Code)

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gophdrive_uploads_completed_total 1")
}

func TestServerRun(t *testing.T) {
	ts := newTestServer(t)
	ts.srv.opts.Address = "127.0.0.1:0"
	ts.srv.opts.ShutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
