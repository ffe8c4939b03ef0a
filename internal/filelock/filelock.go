// Package filelock serializes access to the target application and writes
// report files atomically.
package filelock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// DefaultRetryDelay is how often a blocked LockContext call retries.
const DefaultRetryDelay = 50 * time.Millisecond

// FileLock wraps a flock file lock shared between processes.
type FileLock struct {
	flock *flock.Flock
	path  string
}

// NewFileLock creates a lock backed by the file at path.
func NewFileLock(path string) *FileLock {
	return &FileLock{
		flock: flock.New(path),
		path:  path,
	}
}

// Path returns the lock file path.
func (fl *FileLock) Path() string {
	return fl.path
}

// Lock blocks until the exclusive lock is held.
func (fl *FileLock) Lock() error {
	if err := fl.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", fl.path, err)
	}
	return nil
}

// LockContext retries the lock every retryDelay until it is held or ctx is done.
func (fl *FileLock) LockContext(ctx context.Context, retryDelay time.Duration) error {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	locked, err := fl.flock.TryLockContext(ctx, retryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", fl.path, err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire lock on %s: %w", fl.path, ctx.Err())
	}
	return nil
}

// TryLock attempts the lock without blocking.
// Returns false if another process holds it.
func (fl *FileLock) TryLock() (bool, error) {
	acquired, err := fl.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to try lock on %s: %w", fl.path, err)
	}
	return acquired, nil
}

// Unlock releases the lock.
func (fl *FileLock) Unlock() error {
	if err := fl.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", fl.path, err)
	}
	return nil
}

// TargetLock guards the target application, which is not reentrant.
// It always serializes goroutines in this process; with a lock file it also
// serializes every process sharing that file.
type TargetLock struct {
	sem  chan struct{}
	file *FileLock
}

// NewTargetLock creates a target lock. An empty lockFile gives an in-process lock only.
func NewTargetLock(lockFile string) *TargetLock {
	tl := &TargetLock{sem: make(chan struct{}, 1)}
	if lockFile != "" {
		tl.file = NewFileLock(lockFile)
	}
	return tl
}

// Acquire blocks until the target is held or ctx is done.
// The returned release function must be called exactly once.
func (tl *TargetLock) Acquire(ctx context.Context) (func(), error) {
	select {
	case tl.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for target lock: %w", ctx.Err())
	}

	if tl.file != nil {
		if err := os.MkdirAll(filepath.Dir(tl.file.path), 0755); err != nil {
			<-tl.sem
			return nil, fmt.Errorf("failed to create lock directory: %w", err)
		}
		if err := tl.file.LockContext(ctx, DefaultRetryDelay); err != nil {
			<-tl.sem
			return nil, err
		}
	}

	return func() {
		if tl.file != nil {
			tl.file.Unlock()
		}
		<-tl.sem
	}, nil
}

// AtomicWrite writes data to path through a temp file and rename, so readers
// never see a partial file. Parent directories are created as needed.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Same directory keeps the rename on one filesystem
	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	committed := false
	defer func() {
		if !committed {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}

	committed = true
	return nil
}

// LockAndWrite holds "<path>.lock" around an AtomicWrite and removes the lock file afterwards.
func LockAndWrite(path string, data []byte) error {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := NewFileLock(lockPath)
	if err := lock.Lock(); err != nil {
		return err
	}
	defer func() {
		lock.Unlock()
		os.Remove(lockPath)
	}()

	return AtomicWrite(path, data)
}
