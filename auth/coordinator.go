package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/go-authgate/tapcard-cli/endpoint"
	"github.com/go-authgate/tapcard-cli/session"
	"github.com/go-authgate/tapcard-cli/tokenstore"
)

// Coordinator is an http.RoundTripper that attaches the stored access token to
// API requests and, when the server answers 401, refreshes the session and
// retries the request once.
//
// Concurrent 401s for the same token are collapsed into one refresh call: the
// refresh decision runs under a process-wide lock, and a caller that finds a
// different token in the store after acquiring it reuses that token instead
// of refreshing again. A caller whose request was in flight while a refresh
// for its token failed gives up instead of calling the endpoint again.
type Coordinator struct {
	base       http.RoundTripper
	store      tokenstore.Store
	refresher  TokenRefresher
	classifier *endpoint.Classifier
	sink       SessionSink
	log        zerolog.Logger

	// flight holds one token while a refresh decision is in progress.
	flight chan struct{}

	// failures counts soft refresh failures. failedToken is the access token
	// the last one was for, guarded by flight.
	failures    atomic.Uint64
	failedToken string
}

var _ http.RoundTripper = (*Coordinator)(nil)

// NewCoordinator wires a Coordinator. The refresher must not send through the
// returned Coordinator.
func NewCoordinator(
	store tokenstore.Store,
	refresher TokenRefresher,
	classifier *endpoint.Classifier,
	opts ...Option,
) *Coordinator {
	o := buildOptions(opts)
	return &Coordinator{
		base:       o.base,
		store:      store,
		refresher:  refresher,
		classifier: classifier,
		sink:       o.sink,
		log:        o.log.With().Str("component", "coordinator").Logger(),
		flight:     make(chan struct{}, 1),
	}
}

// Client returns an *http.Client sending through c.
func (c *Coordinator) Client() *http.Client {
	return &http.Client{Transport: c}
}

// RoundTrip implements http.RoundTripper. Refresh failures never surface as
// errors: the caller gets the original 401 response.
func (c *Coordinator) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	out, err := replayable(req)
	if err != nil {
		return nil, err
	}

	stale := c.attachToken(out)
	seq := c.failures.Load()

	resp, err := c.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	if stale == "" {
		// No token was sent, so a refresh cannot change the answer.
		return resp, nil
	}

	logger := c.log.With().
		Str("method", out.Method).
		Str("host", out.URL.Host).
		Str("path", out.URL.Path).
		Logger()
	logger.Debug().Msg("access token rejected")

	fresh, ok, err := c.refreshAfter(ctx, stale, seq)
	if err != nil {
		discard(resp)
		return nil, err
	}
	if !ok {
		if ctx.Err() != nil {
			discard(resp)
			return nil, ctx.Err()
		}
		logger.Debug().Msg("refresh unavailable, returning original response")
		return resp, nil
	}

	retry := out.Clone(ctx)
	if out.GetBody != nil {
		body, err := out.GetBody()
		if err != nil {
			logger.Warn().Err(err).Msg("cannot replay request body")
			return resp, nil
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+fresh)
	discard(resp)

	logger.Debug().Msg("retrying with refreshed token")
	return c.base.RoundTrip(retry)
}

// attachToken sets the Authorization header on req when the classifier allows
// it and returns the token value sent, or "" when none was attached.
func (c *Coordinator) attachToken(req *http.Request) string {
	if !c.classifier.ShouldAttachToken(req.URL) {
		return ""
	}
	tokens, err := c.store.Get()
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to read tokens, sending without authorization")
		return ""
	}
	if tokens == nil || tokens.AccessToken == "" {
		return ""
	}
	tokens.OAuth2Token().SetAuthHeader(req)
	return tokens.AccessToken
}

// refreshAfter runs the single-flight refresh decision for a request that was
// rejected while carrying stale. seq is the soft failure count observed
// before the request was sent. It returns the token to retry with, or
// ok=false when the session could not be refreshed. err is non-nil only when
// ctx ended while waiting for the lock.
func (c *Coordinator) refreshAfter(ctx context.Context, stale string, seq uint64) (token string, ok bool, err error) {
	select {
	case c.flight <- struct{}{}:
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
	defer func() { <-c.flight }()

	current, err := c.store.Get()
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to read tokens after acquiring refresh lock")
		return "", false, nil
	}

	switch {
	case current == nil || current.AccessToken == "":
		// An earlier holder's refresh failed and cleared the session.
		return "", false, nil
	case current.AccessToken != stale:
		// An earlier holder already refreshed this generation.
		return current.AccessToken, true, nil
	case current.AccessToken == c.failedToken && c.failures.Load() != seq:
		// A refresh for this token failed while the request was in flight.
		return "", false, nil
	}

	tokens, err := c.refresher.Refresh(ctx)
	if err != nil {
		if IsHardFailure(err) {
			c.log.Info().Err(err).Msg("session expired")
			c.sink.SetLoggedIn(false)
			c.sink.Publish(session.Event{
				Kind:   session.EventSessionExpired,
				Reason: err.Error(),
			})
			return "", false, nil
		}
		ev := c.log.Warn().Err(err)
		if isRetrieveError(err) {
			ev = ev.Bool("server_error", true)
		}
		ev.Msg("refresh failed, keeping session")
		c.failedToken = stale
		c.failures.Add(1)
		return "", false, nil
	}
	c.failedToken = ""
	return tokens.AccessToken, true, nil
}

// replayable clones req so that its body can be sent a second time. The
// caller's request is not modified.
func replayable(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return out, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	out.Body = io.NopCloser(bytes.NewReader(data))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return out, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
