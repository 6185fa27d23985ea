package tokenstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")

	const goroutines = 10
	var wg sync.WaitGroup

	wg.Add(goroutines)
	for i := range goroutines {
		go func(id int) {
			defer wg.Done()

			// Separate store values emulate separate processes sharing the file.
			s, err := NewFileStore(path, fmt.Sprintf("host-%d", id))
			if err != nil {
				t.Errorf("goroutine %d: %v", id, err)
				return
			}
			err = s.Put(AuthTokens{
				AccessToken:      fmt.Sprintf("access-token-%d", id),
				RefreshToken:     fmt.Sprintf("refresh-token-%d", id),
				AccessExpiresAt:  1_900_000_000,
				RefreshExpiresAt: 1_900_086_400,
			})
			if err != nil {
				t.Errorf("goroutine %d: failed to save tokens: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var data fileData
	require.NoError(t, json.Unmarshal(raw, &data))
	require.Len(t, data.Sessions, goroutines)

	for i := range goroutines {
		got, ok := data.Sessions[fmt.Sprintf("host-%d", i)]
		require.True(t, ok, "missing session for host-%d", i)
		assert.Equal(t, fmt.Sprintf("access-token-%d", i), got.AccessToken)
	}

	_, err = os.Stat(path + ".lock")
	assert.True(t, os.IsNotExist(err), "lock file still exists after all saves completed")
}

func TestFileStore_PreservesOtherHosts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")

	prod, err := NewFileStore(path, "api.example.com")
	require.NoError(t, err)
	staging, err := NewFileStore(path, "staging.example.com")
	require.NoError(t, err)

	require.NoError(t, prod.Put(sampleTokens()))
	other := sampleTokens()
	other.AccessToken = "staging-access"
	require.NoError(t, staging.Put(other))

	got, err := prod.Get()
	require.NoError(t, err)
	assert.Equal(t, "access-token-1", got.AccessToken)

	require.NoError(t, prod.Clear())

	got, err = staging.Get()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "staging-access", got.AccessToken)
}

func TestFileStore_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	s, err := NewFileStore(path, "api.example.com")
	require.NoError(t, err)
	require.NoError(t, s.Put(sampleTokens()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not be left behind")
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s, err := NewFileStore(path, "api.example.com")
	require.NoError(t, err)

	_, err = s.Get()
	assert.ErrorIs(t, err, errCorruptFile)

	// A write replaces the corrupt content.
	require.NoError(t, s.Put(sampleTokens()))
	got, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, sampleTokens(), *got)
}

func TestFileStore_ReadErrorIsNotOverwritten(t *testing.T) {
	// A directory at the token path fails to read without being corrupt JSON.
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.Mkdir(path, 0o700))

	s, err := NewFileStore(path, "api.example.com")
	require.NoError(t, err)

	err = s.Put(sampleTokens())
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to read token file")
	assert.NotErrorIs(t, err, errCorruptFile)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	require.Error(t, s.MarkFirstLaunchSeen())
	require.Error(t, s.Clear())
}

func TestNewFileStore_Validation(t *testing.T) {
	_, err := NewFileStore("", "api.example.com")
	assert.Error(t, err)

	_, err = NewFileStore(filepath.Join(t.TempDir(), "tokens.json"), "")
	assert.Error(t, err)
}
