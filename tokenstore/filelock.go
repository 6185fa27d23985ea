package tokenstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"
)

const (
	lockRetries    = 50
	lockRetryDelay = 100 * time.Millisecond
	lockStaleAfter = 30 * time.Second
)

// fileLock is an advisory lock held by creating "<path>.lock" exclusively.
// It coordinates writers across processes sharing one token file.
type fileLock struct {
	f    *os.File
	path string
}

func acquireFileLock(target string) (*fileLock, error) {
	lockPath := target + ".lock"

	for range lockRetries {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// PID is informational only.
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			return &fileLock{f: f, path: lockPath}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to acquire file lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil &&
			time.Since(info.ModTime()) > lockStaleAfter {
			// Owner died without releasing; another waiter may remove it first.
			if rmErr := os.Remove(lockPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to remove stale lock file %s: %w", lockPath, rmErr)
			}
			continue
		}

		time.Sleep(lockRetryDelay)
	}

	return nil, fmt.Errorf("timeout waiting for file lock after %v", lockRetries*lockRetryDelay)
}

func (l *fileLock) release() error {
	if l.f != nil {
		_ = l.f.Close()
	}
	return os.Remove(l.path)
}
