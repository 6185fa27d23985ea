// Package auth attaches bearer tokens to API requests, refreshes them when the
// server rejects them, and tracks the session lifecycle.
package auth

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-authgate/tapcard-cli/session"
)

// SessionSink receives login state changes and lifecycle events.
// *session.State implements it.
type SessionSink interface {
	SetLoggedIn(loggedIn bool)
	Publish(ev session.Event)
}

type noopSink struct{}

func (noopSink) SetLoggedIn(bool)       {}
func (noopSink) Publish(session.Event) {}

type options struct {
	log     zerolog.Logger
	now     func() time.Time
	sink    SessionSink
	base    http.RoundTripper
	timeout time.Duration
}

// Option configures the components in this package.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSessionSink sets where login state and expiry events go.
func WithSessionSink(s SessionSink) Option {
	return func(o *options) {
		if s != nil {
			o.sink = s
		}
	}
}

// WithBaseTransport sets the transport the coordinator sends through.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		if rt != nil {
			o.base = rt
		}
	}
}

// WithTimeout bounds a single refresh or account call.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func buildOptions(opts []Option) options {
	o := options{
		log:     zerolog.Nop(),
		now:     time.Now,
		sink:    noopSink{},
		base:    http.DefaultTransport,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
