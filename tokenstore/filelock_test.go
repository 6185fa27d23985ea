package tokenstore

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_BasicAcquireRelease(t *testing.T) {
	target := filepath.Join(t.TempDir(), "tokens.json")
	lockPath := target + ".lock"

	lock, err := acquireFileLock(target)
	require.NoError(t, err)

	_, err = os.Stat(lockPath)
	require.NoError(t, err, "lock file was not created")

	require.NoError(t, lock.release())

	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err), "lock file was not removed after release")
}

func TestFileLock_ConcurrentAccess(t *testing.T) {
	target := filepath.Join(t.TempDir(), "tokens.json")

	const goroutines = 10
	const iterations = 5

	var (
		holders   atomic.Int32
		maxSeen   atomic.Int32
		successes atomic.Int32
		wg        sync.WaitGroup
	)

	wg.Add(goroutines)
	for i := range goroutines {
		go func(id int) {
			defer wg.Done()
			for j := range iterations {
				lock, err := acquireFileLock(target)
				if err != nil {
					t.Errorf("goroutine %d iteration %d: %v", id, j, err)
					return
				}

				n := holders.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(5 * time.Millisecond)
				holders.Add(-1)
				successes.Add(1)

				if err := lock.release(); err != nil {
					t.Errorf("goroutine %d iteration %d: release: %v", id, j, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(goroutines*iterations), successes.Load())
	assert.Equal(t, int32(1), maxSeen.Load(), "lock was held by more than one goroutine")

	_, err := os.Stat(target + ".lock")
	assert.True(t, os.IsNotExist(err))
}

func TestFileLock_StaleLockCleanup(t *testing.T) {
	target := filepath.Join(t.TempDir(), "tokens.json")
	lockPath := target + ".lock"

	require.NoError(t, os.WriteFile(lockPath, []byte("12345"), 0o600))
	stale := time.Now().Add(-(lockStaleAfter + 5*time.Second))
	require.NoError(t, os.Chtimes(lockPath, stale, stale))

	lock, err := acquireFileLock(target)
	require.NoError(t, err)
	defer lock.release()

	assert.NotNil(t, lock.f)
}

func TestFileLock_FreshLockBlocks(t *testing.T) {
	target := filepath.Join(t.TempDir(), "tokens.json")

	held, err := acquireFileLock(target)
	require.NoError(t, err)

	acquired := make(chan *fileLock, 1)
	go func() {
		l, err := acquireFileLock(target)
		if err == nil {
			acquired <- l
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while the lock was held")
	case <-time.After(3 * lockRetryDelay):
	}

	require.NoError(t, held.release())

	select {
	case l := <-acquired:
		require.NoError(t, l.release())
	case <-time.After(2 * time.Second):
		t.Fatal("second acquire did not succeed after release")
	}
}
