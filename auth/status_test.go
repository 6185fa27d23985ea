package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-authgate/tapcard-cli/session"
	"github.com/go-authgate/tapcard-cli/tokenstore"
)

// stubRefresher returns a fixed outcome and counts calls.
type stubRefresher struct {
	calls int
	err   error
}

func (s *stubRefresher) Refresh(context.Context) (*tokenstore.AuthTokens, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &tokenstore.AuthTokens{AccessToken: "fresh"}, nil
}

func TestResolve(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	clock := func() time.Time { return now }
	n := now.Unix()

	tests := []struct {
		name         string
		tokens       *tokenstore.AuthTokens
		seenLaunch   bool
		refreshErr   error
		want         session.Status
		wantRefresh  int
		wantCleared  bool
		wantLoggedIn bool
		wantExpired  bool
	}{
		{
			name: "first launch",
			want: session.FirstLaunch,
		},
		{
			name:       "guest after first launch",
			seenLaunch: true,
			want:       session.Guest,
		},
		{
			name:         "both tokens valid",
			tokens:       &tokenstore.AuthTokens{AccessToken: "a", AccessExpiresAt: n + 60, RefreshToken: "r", RefreshExpiresAt: n + 3600},
			want:         session.Authenticated,
			wantLoggedIn: true,
		},
		{
			name:        "refresh token expired",
			tokens:      &tokenstore.AuthTokens{AccessToken: "a", AccessExpiresAt: n - 60, RefreshToken: "r", RefreshExpiresAt: n - 1},
			want:        session.Expired,
			wantCleared: true,
			wantExpired: true,
		},
		{
			name:        "refresh token expires exactly now",
			tokens:      &tokenstore.AuthTokens{AccessToken: "a", AccessExpiresAt: n + 60, RefreshToken: "r", RefreshExpiresAt: n},
			want:        session.Expired,
			wantCleared: true,
			wantExpired: true,
		},
		{
			name:         "access expired, refresh succeeds",
			tokens:       &tokenstore.AuthTokens{AccessToken: "a", AccessExpiresAt: n - 60, RefreshToken: "r", RefreshExpiresAt: n + 3600},
			want:         session.Authenticated,
			wantRefresh:  1,
			wantLoggedIn: true,
		},
		{
			name:         "access expires exactly now",
			tokens:       &tokenstore.AuthTokens{AccessToken: "a", AccessExpiresAt: n, RefreshToken: "r", RefreshExpiresAt: n + 3600},
			want:         session.Authenticated,
			wantRefresh:  1,
			wantLoggedIn: true,
		},
		{
			name:        "access expired, refresh rejected",
			tokens:      &tokenstore.AuthTokens{AccessToken: "a", AccessExpiresAt: n - 60, RefreshToken: "r", RefreshExpiresAt: n + 3600},
			refreshErr:  ErrRefreshRejected,
			want:        session.Expired,
			wantRefresh: 1,
			wantCleared: true,
			wantExpired: true,
		},
		{
			name:         "access expired, refresh unreachable",
			tokens:       &tokenstore.AuthTokens{AccessToken: "a", AccessExpiresAt: n - 60, RefreshToken: "r", RefreshExpiresAt: n + 3600},
			refreshErr:   errors.New("dial tcp: connection refused"),
			want:         session.Authenticated,
			wantRefresh:  1,
			wantLoggedIn: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := tokenstore.NewMemoryStore()
			if tt.tokens != nil {
				require.NoError(t, store.Put(*tt.tokens))
			}
			if tt.seenLaunch {
				require.NoError(t, store.MarkFirstLaunchSeen())
			}

			state := session.NewState()
			events, cancel := state.Subscribe()
			defer cancel()

			refresher := &stubRefresher{err: tt.refreshErr}
			r := NewResolver(store, refresher, WithClock(clock), WithSessionSink(state))

			got, err := r.Resolve(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantRefresh, refresher.calls)
			assert.Equal(t, tt.wantLoggedIn, state.LoggedIn())

			stored, err := store.Get()
			require.NoError(t, err)
			if tt.wantCleared {
				assert.Nil(t, stored)
			} else if tt.tokens != nil {
				assert.NotNil(t, stored)
			}

			var expired int
			for _, ev := range drainEvents(events) {
				if ev.Kind == session.EventSessionExpired {
					expired++
				}
			}
			if tt.wantExpired {
				assert.Equal(t, 1, expired)
			} else {
				assert.Zero(t, expired)
			}
		})
	}
}

// Scenario: the refresh token lapsed while the app was closed. No network
// call is made and the user is asked to sign in again.
func TestResolve_ExpiredRefreshTokenMakesNoCall(t *testing.T) {
	f := newFixture(t)
	access, refresh := f.backend.IssueSession()
	now := time.Now().Unix()
	require.NoError(t, f.store.Put(tokenstore.AuthTokens{
		AccessToken:      access,
		AccessExpiresAt:  now - 7200,
		RefreshToken:     refresh,
		RefreshExpiresAt: now - 60,
	}))

	got, err := f.resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.Expired, got)
	assert.Zero(t, f.backend.RefreshCalls.Load())
}

// Scenario: the refresh endpoint fails with a server error at start-up. The
// session survives.
func TestResolve_ServerErrorKeepsSession(t *testing.T) {
	f := newFixture(t)
	seeded := f.seedExpiredSession(t)
	f.backend.SetRefreshStatus(http.StatusInternalServerError)

	got, err := f.resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.Authenticated, got)
	assert.True(t, f.state.LoggedIn())

	stored, err := f.store.Get()
	require.NoError(t, err)
	assert.Equal(t, seeded, *stored)
}

func TestResolve_RefreshesAgainstBackend(t *testing.T) {
	f := newFixture(t)
	f.seedExpiredSession(t)

	got, err := f.resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.Authenticated, got)
	assert.Equal(t, int32(1), f.backend.RefreshCalls.Load())

	stored, err := f.store.Get()
	require.NoError(t, err)
	assert.Equal(t, f.backend.AccessToken(), stored.AccessToken)
}

func TestResolve_HardFailureClearsLoggedInBeforeExpiry(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	store := tokenstore.NewMemoryStore()
	require.NoError(t, store.Put(tokenstore.AuthTokens{
		AccessToken:      "a",
		AccessExpiresAt:  now.Unix() - 60,
		RefreshToken:     "r",
		RefreshExpiresAt: now.Unix() + 3600,
	}))

	sink := &recordingSink{}
	r := NewResolver(store, &stubRefresher{err: ErrRefreshRejected},
		WithClock(func() time.Time { return now }), WithSessionSink(sink))

	got, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.Expired, got)
	assert.Equal(t, []string{"SetLoggedIn(false)", "session-expired"}, sink.Calls())
}
