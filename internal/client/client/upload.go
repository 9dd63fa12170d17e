package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/client/models"
	"github.com/sethvargo/go-retry"
)

type chunkResponse struct {
	Received  int          `json:"received"`
	Total     int          `json:"total"`
	Completed bool         `json:"completed"`
	File      *models.File `json:"file"`
}

// upload is one chunked transfer in progress.
type upload struct {
	id     string
	name   string
	size   int64
	total  int
	dirID  *int64
	source io.ReaderAt
}

// Upload sends body in chunks of the configured size under a fresh upload
// id. Transient failures are retried per chunk; a "missing chunk N" answer
// resubmits chunk N, which retries assembly on the server. When the upload
// cannot finish the session is cancelled.
func (c *HTTPClient) Upload(ctx context.Context, name string, size int64, body io.ReaderAt, dirID *int64) (*models.File, error) {
	if size < 0 {
		return nil, fmt.Errorf("negative size %d", size)
	}

	total := int((size + c.chunkSize - 1) / c.chunkSize)
	if total == 0 {
		total = 1
	}
	u := &upload{id: c.newUploadID(), name: name, size: size, total: total, dirID: dirID, source: body}

	var last *chunkResponse
	for idx := 0; idx < total; idx++ {
		res, err := c.sendWithRetry(ctx, u, idx)
		if err != nil {
			c.abandon(u.id)
			return nil, fmt.Errorf("upload %s chunk %d: %w", u.id, idx, err)
		}
		last = res
	}

	if !last.Completed || last.File == nil {
		c.abandon(u.id)
		return nil, fmt.Errorf("upload %s: server holds %d of %d chunks", u.id, last.Received, last.Total)
	}
	return last.File, nil
}

// sendWithRetry sends chunk idx, waiting retryDelay between attempts. A
// "missing chunk N" answer switches the next attempt to chunk N.
func (c *HTTPClient) sendWithRetry(ctx context.Context, u *upload, idx int) (*chunkResponse, error) {
	next := idx
	backoff := retry.WithMaxRetries(uint64(c.retries), retry.NewConstant(c.retryDelay))

	return retry.DoValue(ctx, backoff, func(ctx context.Context) (*chunkResponse, error) {
		res, err := c.sendChunk(ctx, u, next)
		if err == nil {
			return res, nil
		}
		if missing, ok := missingChunk(err); ok && missing >= 0 && missing < u.total {
			next = missing
			return nil, retry.RetryableError(err)
		}
		if retryable(err) {
			return nil, retry.RetryableError(err)
		}
		return nil, err
	})
}

func (c *HTTPClient) sendChunk(ctx context.Context, u *upload, idx int) (*chunkResponse, error) {
	off := int64(idx) * c.chunkSize
	n := min(c.chunkSize, u.size-off)
	if n < 0 {
		n = 0
	}

	fields := map[string]string{
		"uploadId":    u.id,
		"chunkIndex":  strconv.Itoa(idx),
		"totalChunks": strconv.Itoa(u.total),
		"fileName":    u.name,
		"fileSize":    strconv.FormatInt(u.size, 10),
	}
	if u.dirID != nil {
		fields["directoryId"] = strconv.FormatInt(*u.dirID, 10)
	}

	body, contentType, err := multipartBody(fields, "chunk", "blob", io.NewSectionReader(u.source, off, n))
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/uploads/chunk", body, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	res := &chunkResponse{}
	if err := json.NewDecoder(resp.Body).Decode(res); err != nil {
		return nil, fmt.Errorf("decode chunk response: %w", err)
	}
	return res, nil
}

// abandon cancels a failed session. It is best effort: a session that was
// never created or already expired answers not found.
func (c *HTTPClient) abandon(uploadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = c.CancelUpload(ctx, uploadID)
}
