// Package sessions keeps the on-disk state of resumable chunked uploads.
//
// Each session lives in <root>/<user_id>/<upload_id>_temp/ and holds the
// received chunk_<N> files plus tracking.json. Nothing about a session is
// kept in process memory, so progress survives restarts and the reaper can
// run in another process.
package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/filex"
)

const (
	trackingFileName = "tracking.json"
	chunkPrefix      = "chunk_"
	sessionSuffix    = "_temp"
)

var uploadIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidUploadID reports whether id is safe to use as a directory name.
func ValidUploadID(id string) bool {
	return uploadIDPattern.MatchString(id)
}

// Ref names one session found by Scan.
type Ref struct {
	UserID   int64
	UploadID string
	Dir      string
}

type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root is the upload folder the store works under.
func (s *Store) Root() string {
	return s.root
}

// UserDir is the per-user area that holds both permanent files and sessions.
func (s *Store) UserDir(userID int64) string {
	return filepath.Join(s.root, strconv.FormatInt(userID, 10))
}

func (s *Store) Dir(userID int64, uploadID string) string {
	return sessionDir(s.root, userID, uploadID)
}

func sessionDir(root string, userID int64, uploadID string) string {
	return filepath.Join(root, strconv.FormatInt(userID, 10), uploadID+sessionSuffix)
}

func (s *Store) ChunkPath(userID int64, uploadID string, idx int) string {
	return filepath.Join(s.Dir(userID, uploadID), chunkPrefix+strconv.Itoa(idx))
}

func (s *Store) trackingPath(userID int64, uploadID string) string {
	return filepath.Join(s.Dir(userID, uploadID), trackingFileName)
}

// Create makes the session directory. It is a no-op when it already exists.
func (s *Store) Create(userID int64, uploadID string) error {
	if err := os.MkdirAll(s.Dir(userID, uploadID), 0o750); err != nil {
		return fmt.Errorf("create session dir: %w: %v", common.ErrStorageIO, err)
	}
	return nil
}

// Exists reports whether the session directory is present.
func (s *Store) Exists(userID int64, uploadID string) (bool, error) {
	ok, err := filex.Exists(s.Dir(userID, uploadID))
	if err != nil {
		return false, fmt.Errorf("stat session dir: %w: %v", common.ErrStorageIO, err)
	}
	return ok, nil
}

// Load reads tracking.json. It returns common.ErrSessionNotFound when the
// session has no tracking state and common.ErrCorruptTracking when the
// state cannot be decoded.
func (s *Store) Load(userID int64, uploadID string) (*Tracking, error) {
	data, err := os.ReadFile(s.trackingPath(userID, uploadID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, common.ErrSessionNotFound
		}
		return nil, fmt.Errorf("read tracking: %w: %v", common.ErrStorageIO, err)
	}

	t := &Tracking{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCorruptTracking, err)
	}
	if t.TotalChunks <= 0 || t.UploadID != uploadID {
		return nil, fmt.Errorf("%w: inconsistent fields", common.ErrCorruptTracking)
	}
	return t, nil
}

// Save persists t durably before returning: the state is written to a
// temporary file, fsynced and renamed over tracking.json.
func (s *Store) Save(userID int64, t *Tracking) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tracking: %w", err)
	}
	if err := filex.WriteAtomic(s.trackingPath(userID, t.UploadID), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return fmt.Errorf("write tracking: %w: %v", common.ErrStorageIO, err)
	}
	return nil
}

// WriteChunk stores the chunk body under its index, replacing any earlier
// copy. A body longer than maxBytes is rejected with common.ErrValidation
// and nothing is kept; a negative maxBytes means no limit.
func (s *Store) WriteChunk(userID int64, uploadID string, idx int, r io.Reader, maxBytes int64) (int64, error) {
	if maxBytes >= 0 {
		r = io.LimitReader(r, maxBytes+1)
	}

	var n int64
	err := filex.WriteAtomic(s.ChunkPath(userID, uploadID, idx), func(w io.Writer) error {
		var err error
		n, err = io.Copy(w, r)
		if err != nil {
			return err
		}
		if maxBytes >= 0 && n > maxBytes {
			return errChunkTooLarge
		}
		return nil
	})
	if errors.Is(err, errChunkTooLarge) {
		return 0, fmt.Errorf("chunk exceeds %d bytes: %w", maxBytes, common.ErrValidation)
	}
	if err != nil {
		return 0, fmt.Errorf("write chunk %d: %w: %v", idx, common.ErrStorageIO, err)
	}
	return n, nil
}

var errChunkTooLarge = errors.New("chunk too large")

// ChunkBytes sums the stored size of the listed chunks. Chunks that are not
// on disk count as empty.
func (s *Store) ChunkBytes(userID int64, uploadID string, indices []int) (int64, error) {
	var total int64
	for _, idx := range indices {
		fi, err := os.Stat(s.ChunkPath(userID, uploadID, idx))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, fmt.Errorf("stat chunk %d: %w: %v", idx, common.ErrStorageIO, err)
		}
		total += fi.Size()
	}
	return total, nil
}

// OpenChunk opens a stored chunk for reading. A missing chunk yields
// *common.MissingChunkError.
func (s *Store) OpenChunk(userID int64, uploadID string, idx int) (*os.File, error) {
	f, err := os.Open(s.ChunkPath(userID, uploadID, idx))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &common.MissingChunkError{Index: idx}
		}
		return nil, fmt.Errorf("open chunk %d: %w: %v", idx, common.ErrStorageIO, err)
	}
	return f, nil
}

// Remove purges the whole session directory. Removing an absent session
// returns common.ErrSessionNotFound.
func (s *Store) Remove(userID int64, uploadID string) error {
	ok, err := s.Exists(userID, uploadID)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrSessionNotFound
	}
	if err := os.RemoveAll(s.Dir(userID, uploadID)); err != nil {
		return fmt.Errorf("remove session: %w: %v", common.ErrStorageIO, err)
	}
	return nil
}

// Scan lists every session directory under the upload folder. Entries that
// do not look like a user area or a session are skipped.
func (s *Store) Scan() ([]Ref, error) {
	users, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan upload folder: %w: %v", common.ErrStorageIO, err)
	}

	var refs []Ref
	for _, u := range users {
		if !u.IsDir() {
			continue
		}
		userID, err := strconv.ParseInt(u.Name(), 10, 64)
		if err != nil {
			continue
		}

		entries, err := os.ReadDir(filepath.Join(s.root, u.Name()))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || !strings.HasSuffix(e.Name(), sessionSuffix) {
				continue
			}
			uploadID := strings.TrimSuffix(e.Name(), sessionSuffix)
			if !ValidUploadID(uploadID) {
				continue
			}
			refs = append(refs, Ref{
				UserID:   userID,
				UploadID: uploadID,
				Dir:      filepath.Join(s.root, u.Name(), e.Name()),
			})
		}
	}
	return refs, nil
}

// IsSessionDir reports whether name is a session directory name.
func IsSessionDir(name string) bool {
	return strings.HasSuffix(name, sessionSuffix) && ValidUploadID(strings.TrimSuffix(name, sessionSuffix))
}
