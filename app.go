package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"

	"github.com/go-authgate/tapcard-cli/api"
	"github.com/go-authgate/tapcard-cli/auth"
	"github.com/go-authgate/tapcard-cli/endpoint"
	"github.com/go-authgate/tapcard-cli/session"
	"github.com/go-authgate/tapcard-cli/tokenstore"
	"github.com/go-authgate/tapcard-cli/tui"
)

var errNotSignedIn = errors.New("not signed in, run `tapcard login` first")

// app holds the wired components for one CLI invocation.
type app struct {
	cfg        *Config
	log        zerolog.Logger
	classifier *endpoint.Classifier
	store      tokenstore.Store
	storePath  string
	closeStore func() error
	state      *session.State
	refresher  *auth.Refresher
	coord      *auth.Coordinator
	accounts   *auth.Accounts
	resolver   *auth.Resolver
	api        *api.Client
}

// newApp wires the session stack. transport carries API calls; newDoer
// builds the client used for refresh calls, which bypass the coordinator.
func newApp(
	cfg *Config,
	log zerolog.Logger,
	transport http.RoundTripper,
	newDoer func(http.RoundTripper, zerolog.Logger) (auth.Doer, error),
) (*app, error) {
	routes := append(append([]string(nil), endpoint.DefaultPublicRoutes...), cfg.PublicRoutes...)
	classifier, err := endpoint.New(cfg.ServerURL, routes...)
	if err != nil {
		return nil, err
	}

	if cfg.DeviceID != "" {
		transport = &deviceTransport{next: transport, deviceID: cfg.DeviceID, classifier: classifier}
	}

	a := &app{
		cfg:        cfg,
		log:        log,
		classifier: classifier,
		state:      session.NewState(),
		closeStore: func() error { return nil },
	}
	if err := a.openStore(); err != nil {
		return nil, err
	}

	doer, err := newDoer(transport, log)
	if err != nil {
		_ = a.closeStore()
		return nil, fmt.Errorf("failed to create refresh client: %w", err)
	}

	opts := []auth.Option{
		auth.WithLogger(log),
		auth.WithSessionSink(a.state),
		auth.WithBaseTransport(transport),
		auth.WithTimeout(cfg.RequestTimeout),
	}
	a.refresher = auth.NewRefresher(a.store, doer, classifier.URL(endpoint.RouteRefresh), opts...)
	a.coord = auth.NewCoordinator(a.store, a.refresher, classifier, opts...)
	client := a.coord.Client()
	a.accounts = auth.NewAccounts(client, classifier, a.store, opts...)
	a.resolver = auth.NewResolver(a.store, a.refresher, opts...)
	a.api = api.NewClient(client, classifier, log)
	return a, nil
}

func (a *app) openStore() error {
	u, err := url.Parse(a.cfg.ServerURL)
	if err != nil {
		return err
	}
	key := u.Host

	switch a.cfg.Store {
	case storeMemory:
		a.store = tokenstore.NewMemoryStore()
	case storeBolt:
		s, err := tokenstore.NewBoltStoreFromFile(a.cfg.tokenPath(), key, &bbolt.Options{Timeout: time.Second})
		if err != nil {
			return err
		}
		a.store = s
		a.storePath = a.cfg.tokenPath()
		a.closeStore = s.Close
	default:
		s, err := tokenstore.NewFileStore(a.cfg.tokenPath(), key)
		if err != nil {
			return err
		}
		a.store = s
		a.storePath = s.Path()
	}
	return nil
}

// Close releases the token store.
func (a *app) Close() error {
	return a.closeStore()
}

// resolve reports the session status and the signed-in user's name.
func (a *app) resolve(ctx context.Context, d tui.Displayer) (session.Status, error) {
	status, err := a.resolver.Resolve(ctx)
	if err != nil {
		return status, err
	}
	name := ""
	if tokens, err := a.store.Get(); err == nil && tokens != nil {
		name = tokens.DisplayName()
	}
	d.SessionResolved(status, name)
	return status, nil
}

// requireSession resolves the session and fails unless it is authenticated.
func (a *app) requireSession(ctx context.Context, d tui.Displayer) error {
	status, err := a.resolve(ctx, d)
	if err != nil {
		return err
	}
	if status != session.Authenticated {
		return errNotSignedIn
	}
	return nil
}

// forwardExpiry reports queued expiry events without blocking.
func forwardExpiry(events <-chan session.Event, d tui.Displayer) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == session.EventSessionExpired {
				d.SessionExpired(ev.Reason)
			}
		default:
			return
		}
	}
}

// deviceTransport adds the X-Device-ID header to requests for the API host.
type deviceTransport struct {
	next       http.RoundTripper
	deviceID   string
	classifier *endpoint.Classifier
}

func (t *deviceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.classifier.IsInternalHost(req.URL) {
		return t.next.RoundTrip(req)
	}
	out := req.Clone(req.Context())
	out.Header.Set("X-Device-ID", t.deviceID)
	return t.next.RoundTrip(out)
}

// newHTTPTransport returns the production transport.
func newHTTPTransport() http.RoundTripper {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableKeepAlives:   false,
	}
}
