package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	lockDirName  = "locks/hotswap.lock"
	lockPollStep = 100 * time.Millisecond
)

// dirLock is a cross-process mutual exclusion lock built on atomic mkdir.
// The directory holds a timestamp file so other processes can judge
// staleness; locks older than staleAfter are treated as abandoned.
type dirLock struct {
	path       string
	maxWait    time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

func newDirLock(path string, maxWait, staleAfter time.Duration) *dirLock {
	return &dirLock{path: path, maxWait: maxWait, staleAfter: staleAfter, now: time.Now}
}

func (l *dirLock) timestampPath() string {
	return filepath.Join(l.path, "timestamp")
}

// acquire polls until the lock directory can be created or maxWait elapses.
func (l *dirLock) acquire() error {
	deadline := l.now().Add(l.maxWait)
	for {
		err := os.Mkdir(l.path, 0o755)
		if err == nil {
			stamp := l.now().UTC().Format(time.RFC3339Nano)
			if werr := os.WriteFile(l.timestampPath(), []byte(stamp), 0o644); werr != nil {
				os.RemoveAll(l.path)
				return werr
			}
			return nil
		}
		if !os.IsExist(err) {
			return err
		}
		l.clearIfStale()
		if l.now().After(deadline) {
			return fmt.Errorf("%w after %s", ErrLockTimeout, l.maxWait)
		}
		time.Sleep(lockPollStep)
	}
}

// clearIfStale force-removes the lock when its timestamp is older than
// staleAfter, treating the holder as dead. A lock directory with an
// unreadable timestamp falls back to the directory's own mtime.
func (l *dirLock) clearIfStale() bool {
	age, ok := l.age()
	if !ok || age < l.staleAfter {
		return false
	}
	return os.RemoveAll(l.path) == nil
}

func (l *dirLock) age() (time.Duration, bool) {
	if raw, err := os.ReadFile(l.timestampPath()); err == nil {
		if stamp, perr := time.Parse(time.RFC3339Nano, string(raw)); perr == nil {
			return l.now().Sub(stamp), true
		}
	}
	info, err := os.Stat(l.path)
	if err != nil {
		return 0, false
	}
	return l.now().Sub(info.ModTime()), true
}

// release removes the lock directory. Safe to call when not held.
func (l *dirLock) release() {
	os.RemoveAll(l.path)
}
