// Package client talks to a gophdrive server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/client/models"
	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/google/uuid"
)

type Client interface {
	Ping(ctx context.Context) error
	Me(ctx context.Context) (*models.UserInfo, error)
	List(ctx context.Context, dirID *int64) (*models.Listing, error)
	CreateDirectory(ctx context.Context, parentID *int64, name string) (*models.Directory, error)
	Upload(ctx context.Context, name string, size int64, body io.ReaderAt, dirID *int64) (*models.File, error)
	CancelUpload(ctx context.Context, uploadID string) error
	Download(ctx context.Context, fileID int64, w io.Writer) (string, error)
	DownloadArchive(ctx context.Context, fileIDs, dirIDs []int64, w io.Writer) (string, error)
	DeleteFile(ctx context.Context, fileID int64) error
	DeleteDirectory(ctx context.Context, dirID int64) (*models.DeletionStats, error)
	DeleteBatch(ctx context.Context, fileIDs, dirIDs []int64) (*models.DeletionStats, error)
	Share(ctx context.Context, req ShareRequest) (*models.Share, error)
}

const (
	DefaultChunkSize  = 8 << 20
	DefaultRetries    = 3
	DefaultRetryDelay = 500 * time.Millisecond
)

// Options tune an HTTPClient. Zero values select the defaults.
type Options struct {
	ChunkSize  int64
	Retries    int
	RetryDelay time.Duration
	HTTPClient *http.Client
}

type HTTPClient struct {
	baseURL     string
	token       string
	http        *http.Client
	chunkSize   int64
	retries     int
	retryDelay  time.Duration
	newUploadID func() string
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL, token string, opts Options) *HTTPClient {
	c := &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		http:        opts.HTTPClient,
		chunkSize:   opts.ChunkSize,
		retries:     opts.Retries,
		retryDelay:  opts.RetryDelay,
		newUploadID: uuid.NewString,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 5 * time.Minute}
	}
	if c.chunkSize <= 0 {
		c.chunkSize = DefaultChunkSize
	}
	if c.retries <= 0 {
		c.retries = DefaultRetries
	}
	if c.retryDelay <= 0 {
		c.retryDelay = DefaultRetryDelay
	}
	return c
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set(common.AuthorizationHeader, common.BearerPrefix+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(data))
	}
	if payload.Error == "" {
		payload.Error = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: payload.Error}
}

// doJSON sends in (when non-nil) as JSON and decodes the answer into out.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	var (
		body        io.Reader
		contentType string
	)
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, err := c.do(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *HTTPClient) Me(ctx context.Context) (*models.UserInfo, error) {
	var out struct {
		User *models.UserInfo `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/user", nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

func (c *HTTPClient) List(ctx context.Context, dirID *int64) (*models.Listing, error) {
	path := "/api/files"
	if dirID != nil {
		path += "?" + url.Values{"dir_id": {strconv.FormatInt(*dirID, 10)}}.Encode()
	}
	out := &models.Listing{}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreateDirectory(ctx context.Context, parentID *int64, name string) (*models.Directory, error) {
	in := map[string]any{"name": name, "parent_id": parentID}
	var out struct {
		Directory *models.Directory `json:"directory"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/directories", in, &out); err != nil {
		return nil, err
	}
	return out.Directory, nil
}

func (c *HTTPClient) CancelUpload(ctx context.Context, uploadID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/uploads/cancel", map[string]string{"upload_id": uploadID}, nil)
}

// Download streams a file into w and returns its stored name.
func (c *HTTPClient) Download(ctx context.Context, fileID int64, w io.Writer) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/files/"+strconv.FormatInt(fileID, 10)+"/download", nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", err
	}
	return resp.Header.Get(common.FilenameHeader), nil
}

// DownloadArchive streams a zip of the selection into w and returns the
// archive name.
func (c *HTTPClient) DownloadArchive(ctx context.Context, fileIDs, dirIDs []int64, w io.Writer) (string, error) {
	data, err := json.Marshal(selection{FileIDs: fileIDs, DirIDs: dirIDs})
	if err != nil {
		return "", err
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/items/archive", bytes.NewReader(data), "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", err
	}
	return resp.Header.Get(common.FilenameHeader), nil
}

func (c *HTTPClient) DeleteFile(ctx context.Context, fileID int64) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/files/"+strconv.FormatInt(fileID, 10), nil, nil)
}

func (c *HTTPClient) DeleteDirectory(ctx context.Context, dirID int64) (*models.DeletionStats, error) {
	var out struct {
		Stats *models.DeletionStats `json:"stats"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/api/directories/"+strconv.FormatInt(dirID, 10), nil, &out); err != nil {
		return nil, err
	}
	return out.Stats, nil
}

type selection struct {
	FileIDs []int64 `json:"file_ids"`
	DirIDs  []int64 `json:"dir_ids"`
}

func (c *HTTPClient) DeleteBatch(ctx context.Context, fileIDs, dirIDs []int64) (*models.DeletionStats, error) {
	var out struct {
		Stats *models.DeletionStats `json:"stats"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/api/items", selection{FileIDs: fileIDs, DirIDs: dirIDs}, &out); err != nil {
		return nil, err
	}
	return out.Stats, nil
}

// ShareRequest mirrors the share toggle semantics: a nil Password keeps the
// current one and "" clears it; ExpiresInHours 0 clears the expiry.
type ShareRequest struct {
	ObjectType     string  `json:"object_type"`
	ObjectID       int64   `json:"object_id"`
	Password       *string `json:"password,omitempty"`
	ExpiresInHours *int    `json:"expires_in_hours,omitempty"`
	Revoke         bool    `json:"revoke"`
}

func (c *HTTPClient) Share(ctx context.Context, req ShareRequest) (*models.Share, error) {
	var out struct {
		Share *models.Share `json:"share"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/shares", req, &out); err != nil {
		return nil, err
	}
	return out.Share, nil
}

// multipartBody renders fields plus one file part.
func multipartBody(fields map[string]string, fileField, fileName string, content io.Reader) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	fw, err := mw.CreateFormFile(fileField, fileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, content); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
