package sessions

import (
	"slices"
	"time"
)

// Tracking is the durable progress record of one chunked upload. It is
// persisted as tracking.json inside the session directory and is the only
// source of truth about which chunks have arrived.
type Tracking struct {
	UploadID       string    `json:"upload_id"`
	FileName       string    `json:"file_name"`
	DirectoryID    *int64    `json:"directory_id"`
	FileSize       int64     `json:"file_size"`
	TotalChunks    int       `json:"total_chunks"`
	UploadedChunks []int     `json:"uploaded_chunks"`
	Reserved       bool      `json:"reserved"`
	CreatedAt      time.Time `json:"created_at"`
	LastUpdated    time.Time `json:"last_updated"`
}

// AddChunk records idx, keeping the set sorted. It reports whether idx was new.
func (t *Tracking) AddChunk(idx int) bool {
	pos, found := slices.BinarySearch(t.UploadedChunks, idx)
	if found {
		return false
	}
	t.UploadedChunks = slices.Insert(t.UploadedChunks, pos, idx)
	return true
}

// RemoveChunk forgets idx so the client can resubmit it.
func (t *Tracking) RemoveChunk(idx int) {
	if pos, found := slices.BinarySearch(t.UploadedChunks, idx); found {
		t.UploadedChunks = slices.Delete(t.UploadedChunks, pos, pos+1)
	}
}

// Complete reports whether every chunk index has been recorded.
func (t *Tracking) Complete() bool {
	return t.TotalChunks > 0 && len(t.UploadedChunks) >= t.TotalChunks
}

// SameTarget reports whether the session writes to name inside directoryID.
func (t *Tracking) SameTarget(name string, directoryID *int64) bool {
	if t.FileName != name {
		return false
	}
	if t.DirectoryID == nil || directoryID == nil {
		return t.DirectoryID == nil && directoryID == nil
	}
	return *t.DirectoryID == *directoryID
}

// IsStale reports whether the session has been idle longer than threshold.
func (t *Tracking) IsStale(now time.Time, threshold time.Duration) bool {
	return now.Sub(t.LastUpdated) > threshold
}
