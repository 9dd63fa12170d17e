package sessions

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/dmitrijs2005/gophdrive/internal/common"
)

// LocksDirName is the directory under the upload folder that holds the
// session lock files. It is never a user area.
const LocksDirName = ".locks"

// errLocked is returned by tryFlock when another holder has the file.
var errLocked = errors.New("lock held elsewhere")

type lockKey struct {
	userID   int64
	uploadID string
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Locks serializes all work on one upload session. Goroutines of one
// process queue on a keyed mutex; processes sharing the upload folder, such
// as the server and a separately run reaper, queue on an advisory lock of
// <root>/.locks/<user_id>/<upload_id>.lock. Sessions never share a lock.
type Locks struct {
	root    string
	mu      sync.Mutex
	entries map[lockKey]*lockEntry
}

func NewLocks(root string) *Locks {
	return &Locks{root: root, entries: make(map[lockKey]*lockEntry)}
}

func (l *Locks) path(k lockKey) string {
	return filepath.Join(l.root, LocksDirName, strconv.FormatInt(k.userID, 10), k.uploadID+".lock")
}

func (l *Locks) acquire(k lockKey) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[k]
	if !ok {
		e = &lockEntry{}
		l.entries[k] = e
	}
	e.refs++
	return e
}

func (l *Locks) release(k lockKey, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, k)
	}
}

// Lock blocks until the session is free in this and every other process and
// returns its unlock function.
func (l *Locks) Lock(userID int64, uploadID string) (func(), error) {
	k := lockKey{userID: userID, uploadID: uploadID}
	e := l.acquire(k)
	e.mu.Lock()

	f, err := lockFile(l.path(k), true)
	if err != nil {
		e.mu.Unlock()
		l.release(k, e)
		return nil, fmt.Errorf("lock session %s: %w: %v", uploadID, common.ErrStorageIO, err)
	}
	return l.unlocker(k, e, f), nil
}

// TryLock locks the session only if nobody, here or in another process,
// holds it.
func (l *Locks) TryLock(userID int64, uploadID string) (func(), bool, error) {
	k := lockKey{userID: userID, uploadID: uploadID}
	e := l.acquire(k)
	if !e.mu.TryLock() {
		l.release(k, e)
		return nil, false, nil
	}

	f, err := lockFile(l.path(k), false)
	if err != nil {
		e.mu.Unlock()
		l.release(k, e)
		if errors.Is(err, errLocked) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lock session %s: %w: %v", uploadID, common.ErrStorageIO, err)
	}
	return l.unlocker(k, e, f), true, nil
}

// unlocker releases both levels. Once the session directory is gone the
// lock file is removed too, while it is still held.
func (l *Locks) unlocker(k lockKey, e *lockEntry, f *os.File) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			_, err := os.Stat(sessionDir(l.root, k.userID, k.uploadID))
			unlockFile(f, errors.Is(err, fs.ErrNotExist))
			e.mu.Unlock()
			l.release(k, e)
		})
	}
}

// Len reports how many sessions currently have a live lock entry in this
// process.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// lockFile opens path and takes an exclusive advisory lock on it. A holder
// may unlink the file on release, and a lock on an unlinked file excludes
// nobody, so the lock only counts when path still names the locked file.
func lockFile(path string, wait bool) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return nil, err
		}
		if err := flock(f, wait); err != nil {
			_ = f.Close()
			return nil, err
		}

		held, err := f.Stat()
		if err != nil {
			unlockFile(f, false)
			return nil, err
		}
		current, err := os.Stat(path)
		if err == nil && os.SameFile(held, current) {
			return f, nil
		}
		unlockFile(f, false)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
}

func unlockFile(f *os.File, remove bool) {
	if remove {
		_ = os.Remove(f.Name())
	}
	_ = funlock(f)
	_ = f.Close()
}
