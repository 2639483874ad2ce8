// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package glimpse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// StaleLockAge is how old a lock file can get before it is assumed to
	// belong to a process that died without releasing it.
	StaleLockAge = 3 * time.Hour

	lockExt = ".lock"
)

var (
	ErrLocked      = errors.New("store is locked")
	ErrLockTimeout = errors.New("timed out waiting for store lock")
	errNotOwner    = errors.New("lock is held by another owner")
)

// LockPath returns the path of the lock file guarding the store at path.
func LockPath(path string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + lockExt
}

// LockManager hands out advisory, file-presence locks on stores.  A lock
// file holds the unix time it was taken and the id of the manager that took
// it.  Nothing stops another process from ignoring it.
type LockManager struct {
	mu     sync.Mutex
	owner  uuid.UUID
	held   map[string]struct{}
	logger *slog.Logger

	now          func() time.Time
	pollInterval time.Duration
}

// NewLockManager returns a manager with a fresh owner id.  A nil logger
// discards output.
func NewLockManager(logger *slog.Logger) *LockManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LockManager{
		owner:        uuid.New(),
		held:         make(map[string]struct{}),
		logger:       logger,
		now:          time.Now,
		pollInterval: time.Second,
	}
}

// Owner returns the id written into lock files taken by m.
func (m *LockManager) Owner() uuid.UUID {
	return m.owner
}

type lockRecord struct {
	taken time.Time
	owner uuid.UUID
}

func readLock(lockPath string) (lockRecord, error) {
	b, err := os.ReadFile(lockPath)
	if err != nil {
		return lockRecord{}, err
	}
	ts, rest, _ := bytes.Cut(b, []byte{'\n'})
	secs, err := strconv.ParseInt(string(bytes.TrimSpace(ts)), 10, 64)
	if err != nil {
		return lockRecord{}, fmt.Errorf("lock %s: bad timestamp: %w", lockPath, err)
	}
	rec := lockRecord{taken: time.Unix(secs, 0)}
	// lock files without an owner line are still honored
	if id, err := uuid.ParseBytes(bytes.TrimSpace(rest)); err == nil {
		rec.owner = id
	}
	return rec, nil
}

// IsLocked reports whether a fresh lock exists for the store at path.  A
// stale lock is removed.  A lock file that can't be parsed counts as held.
func (m *LockManager) IsLocked(path string) bool {
	lockPath := LockPath(path)
	rec, err := readLock(lockPath)
	if errors.Is(err, os.ErrNotExist) {
		return false
	} else if err != nil {
		m.logger.Warn("unreadable lock file", "path", lockPath, "err", err)
		return true
	}
	if age := m.now().Sub(rec.taken); age > StaleLockAge {
		m.logger.Info("removing stale lock", "path", lockPath, "age", age, "owner", rec.owner)
		if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("os.Remove", "path", lockPath, "err", err)
			return true
		}
		m.mu.Lock()
		delete(m.held, path)
		m.mu.Unlock()
		return false
	}
	return true
}

// Acquire takes the lock for the store at path, returning ErrLocked if a
// fresh lock exists.
func (m *LockManager) Acquire(path string) error {
	if m.IsLocked(path) {
		return ErrLocked
	}
	lockPath := LockPath(path)
	if dir := filepath.Dir(lockPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("os.MkdirAll(%s): %w", dir, err)
		}
	}
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		// lost a race with another process
		return ErrLocked
	} else if err != nil {
		return fmt.Errorf("os.OpenFile(%s): %w", lockPath, err)
	}
	contents := fmt.Sprintf("%d\n%s\n", m.now().Unix(), m.owner)
	if _, err := f.WriteString(contents); err != nil {
		return errors.Join(fmt.Errorf("f.WriteString: %w", err), f.Close(), os.Remove(lockPath))
	}
	if err := f.Close(); err != nil {
		return errors.Join(fmt.Errorf("f.Close: %w", err), os.Remove(lockPath))
	}

	m.mu.Lock()
	m.held[path] = struct{}{}
	m.mu.Unlock()

	m.logger.Debug("lock acquired", "path", lockPath, "owner", m.owner)
	return nil
}

// Release removes a lock taken by m.  Releasing a lock that doesn't exist
// is not an error; releasing one another owner holds is.
func (m *LockManager) Release(path string) error {
	lockPath := LockPath(path)
	rec, err := readLock(lockPath)
	if errors.Is(err, os.ErrNotExist) {
		m.forget(path)
		return nil
	}
	if err == nil && rec.owner != m.owner {
		return fmt.Errorf("release %s: %w (%s)", lockPath, errNotOwner, rec.owner)
	}
	if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("os.Remove(%s): %w", lockPath, err)
	}
	m.forget(path)
	m.logger.Debug("lock released", "path", lockPath)
	return nil
}

func (m *LockManager) forget(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, path)
}

// Held returns the store paths m currently holds locks on.
func (m *LockManager) Held() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.held))
	for p := range m.held {
		paths = append(paths, p)
	}
	return paths
}

// ReleaseAll releases every lock m holds, for use on shutdown.
func (m *LockManager) ReleaseAll() error {
	var errs []error
	for _, p := range m.Held() {
		if err := m.Release(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until the store at path is unlocked, returning ErrLockTimeout
// once timeout has passed.  A lock that never goes away is treated as stuck
// rather than waited on forever.
func (m *LockManager) Wait(ctx context.Context, path string, timeout time.Duration) error {
	if !m.IsLocked(path) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%s after %s: %w", LockPath(path), timeout, ErrLockTimeout)
			}
			return ctx.Err()
		case <-ticker.C:
			if !m.IsLocked(path) {
				return nil
			}
			m.logger.Info("waiting for store lock", "path", path, "waited", time.Since(start).Round(time.Second))
		}
	}
}
