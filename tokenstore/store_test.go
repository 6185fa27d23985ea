package tokenstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "tokens.json"), "api.example.com")
			require.NoError(t, err)
			return s
		},
		"bolt": func(t *testing.T) Store {
			s, err := NewBoltStoreFromFile(filepath.Join(t.TempDir(), "tokens.db"), "api.example.com", nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func sampleTokens() AuthTokens {
	return AuthTokens{
		AccessToken:      "access-token-1",
		AccessExpiresAt:  1_900_000_000,
		RefreshToken:     "refresh-token-1",
		RefreshExpiresAt: 1_900_086_400,
		FirstName:        "Ada",
		LastName:         "Lovelace",
	}
}

func TestStore_RoundTrip(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)

			got, err := s.Get()
			require.NoError(t, err)
			assert.Nil(t, got, "empty store must return nil tokens")

			want := sampleTokens()
			require.NoError(t, s.Put(want))

			got, err = s.Get()
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, want, *got)

			// Overwrite in place.
			want.AccessToken = "access-token-2"
			want.FirstName = ""
			require.NoError(t, s.Put(want))
			got, err = s.Get()
			require.NoError(t, err)
			assert.Equal(t, want, *got)

			require.NoError(t, s.Clear())
			got, err = s.Get()
			require.NoError(t, err)
			assert.Nil(t, got)

			// Clearing twice is fine.
			require.NoError(t, s.Clear())
		})
	}
}

func TestStore_FirstLaunch(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)

			first, err := s.IsFirstLaunch()
			require.NoError(t, err)
			assert.True(t, first)

			require.NoError(t, s.MarkFirstLaunchSeen())
			first, err = s.IsFirstLaunch()
			require.NoError(t, err)
			assert.False(t, first)

			// Clearing the session does not reset the flag.
			require.NoError(t, s.Put(sampleTokens()))
			require.NoError(t, s.Clear())
			first, err = s.IsFirstLaunch()
			require.NoError(t, err)
			assert.False(t, first)
		})
	}
}

func TestStore_RejectsEmptyTokens(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			err := newStore(t).Put(AuthTokens{})
			assert.ErrorIs(t, err, ErrInvalidTokens)
		})
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put(sampleTokens()))

	got, err := s.Get()
	require.NoError(t, err)
	got.AccessToken = "mutated"

	again, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, "access-token-1", again.AccessToken)
}

func TestAuthTokens_Expiry(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	tokens := AuthTokens{
		AccessExpiresAt:  now.Unix() - 1,
		RefreshExpiresAt: now.Unix(),
	}

	assert.True(t, tokens.AccessExpired(now))
	assert.True(t, tokens.RefreshExpired(now), "expiry equal to now counts as expired")

	tokens.RefreshExpiresAt = now.Unix() + 1
	assert.False(t, tokens.RefreshExpired(now))
}

func TestAuthTokens_Helpers(t *testing.T) {
	var nilTokens *AuthTokens
	assert.False(t, nilTokens.HasRefreshToken())

	tokens := sampleTokens()
	assert.True(t, tokens.HasRefreshToken())
	assert.Equal(t, "Ada Lovelace", tokens.DisplayName())

	tokens.LastName = ""
	assert.Equal(t, "Ada", tokens.DisplayName())

	tok := tokens.OAuth2Token()
	assert.Equal(t, "access-token-1", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.Type())
	assert.Equal(t, int64(1_900_000_000), tok.Expiry.Unix())
}
