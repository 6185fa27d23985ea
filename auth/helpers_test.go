package auth

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-authgate/tapcard-cli/endpoint"
	"github.com/go-authgate/tapcard-cli/internal/apitest"
	"github.com/go-authgate/tapcard-cli/session"
	"github.com/go-authgate/tapcard-cli/tokenstore"
)

// plainDoer sends without retries so tests can count refresh calls exactly.
type plainDoer struct {
	c *http.Client
}

func (d plainDoer) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	return d.c.Do(req.WithContext(ctx))
}

type fixture struct {
	backend    *apitest.Backend
	store      *tokenstore.MemoryStore
	state      *session.State
	classifier *endpoint.Classifier
	refresher  *Refresher
	coord      *Coordinator
	client     *http.Client
	accounts   *Accounts
	resolver   *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		backend: apitest.New(t),
		store:   tokenstore.NewMemoryStore(),
		state:   session.NewState(),
	}

	var err error
	f.classifier, err = endpoint.New(f.backend.URL)
	require.NoError(t, err)

	f.refresher = NewRefresher(
		f.store,
		plainDoer{c: f.backend.Client()},
		f.classifier.URL(endpoint.RouteRefresh),
	)
	f.coord = NewCoordinator(
		f.store,
		f.refresher,
		f.classifier,
		WithSessionSink(f.state),
		WithBaseTransport(f.backend.Client().Transport),
	)
	f.client = f.coord.Client()
	f.accounts = NewAccounts(f.client, f.classifier, f.store, WithSessionSink(f.state))
	f.resolver = NewResolver(f.store, f.refresher, WithSessionSink(f.state))
	return f
}

// seedExpiredSession stores a session whose access token the backend no
// longer accepts, with a valid refresh token.
func (f *fixture) seedExpiredSession(t *testing.T) tokenstore.AuthTokens {
	t.Helper()

	access, refresh := f.backend.IssueSession()
	f.backend.ExpireAccessToken()

	now := time.Now().Unix()
	tokens := tokenstore.AuthTokens{
		AccessToken:      access,
		AccessExpiresAt:  now - 1,
		RefreshToken:     refresh,
		RefreshExpiresAt: now + 3600,
	}
	require.NoError(t, f.store.Put(tokens))
	return tokens
}

// seedValidSession stores the session the backend currently accepts.
func (f *fixture) seedValidSession(t *testing.T) tokenstore.AuthTokens {
	t.Helper()

	access, refresh := f.backend.IssueSession()
	now := time.Now().Unix()
	tokens := tokenstore.AuthTokens{
		AccessToken:      access,
		AccessExpiresAt:  now + 900,
		RefreshToken:     refresh,
		RefreshExpiresAt: now + 3600,
	}
	require.NoError(t, f.store.Put(tokens))
	return tokens
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.backend.URL+path, nil)
	require.NoError(t, err)
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// recordingSink keeps every call in order.
type recordingSink struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingSink) SetLoggedIn(loggedIn bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "SetLoggedIn("+strconv.FormatBool(loggedIn)+")")
}

func (s *recordingSink) Publish(ev session.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, ev.Kind.String())
}

func (s *recordingSink) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func drainEvents(ch <-chan session.Event) []session.Event {
	var out []session.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}
