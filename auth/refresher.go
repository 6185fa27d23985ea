package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/go-authgate/tapcard-cli/tokenstore"
)

// Doer sends a request. *retry.Client from go-httpretry implements it.
type Doer interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

// TokenRefresher exchanges the stored refresh token for a new session.
type TokenRefresher interface {
	Refresh(ctx context.Context) (*tokenstore.AuthTokens, error)
}

// Refresher calls the refresh endpoint and writes the outcome to the store.
// It must be given a Doer that does not go through the Coordinator.
type Refresher struct {
	store      tokenstore.Store
	doer       Doer
	refreshURL string

	now     func() time.Time
	timeout time.Duration
	log     zerolog.Logger
}

var _ TokenRefresher = (*Refresher)(nil)

// NewRefresher returns a Refresher posting to refreshURL.
func NewRefresher(store tokenstore.Store, doer Doer, refreshURL string, opts ...Option) *Refresher {
	o := buildOptions(opts)
	return &Refresher{
		store:      store,
		doer:       doer,
		refreshURL: refreshURL,
		now:        o.now,
		timeout:    o.timeout,
		log:        o.log.With().Str("component", "refresher").Logger(),
	}
}

// Refresh obtains and persists a new token pair.
//
// A missing or expired refresh token, or a 401 from the server, clears the
// store and returns an error for which IsHardFailure is true. Any other
// failure leaves the store untouched.
func (r *Refresher) Refresh(ctx context.Context) (*tokenstore.AuthTokens, error) {
	current, err := r.store.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to read tokens: %w", err)
	}

	now := r.now()
	if !current.HasRefreshToken() {
		r.clear()
		return nil, ErrNoRefreshToken
	}
	if current.RefreshExpired(now) {
		r.log.Info().Int64("refresh_expires_at", current.RefreshExpiresAt).Msg("refresh token expired locally")
		r.clear()
		return nil, ErrRefreshTokenExpired
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.refreshURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	// WithJSON sets GetBody so a retried attempt can resend the payload.
	retry.WithJSON(map[string]string{"refreshToken": current.RefreshToken})(req)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := r.doer.DoWithContext(reqCtx, req)
	if err != nil {
		// An exhausted retry client returns the last response with the error.
		if resp != nil {
			_ = resp.Body.Close()
		}
		r.log.Warn().Err(err).Msg("refresh request failed")
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh response: %w", err)
	}

	r.log.Debug().
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("refresh response")

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		r.clear()
		return nil, ErrRefreshRejected
	default:
		return nil, &oauth2.RetrieveError{Response: resp, Body: body}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	tokens, err := tr.toAuthTokens(current, r.now())
	if err != nil {
		return nil, fmt.Errorf("invalid refresh response: %w", err)
	}
	if err := r.store.Put(tokens); err != nil {
		return nil, fmt.Errorf("failed to save tokens: %w", err)
	}

	r.log.Info().Msg("access token refreshed")
	return &tokens, nil
}

func (r *Refresher) clear() {
	if err := r.store.Clear(); err != nil {
		r.log.Error().Err(err).Msg("failed to clear tokens")
	}
}

// isRetrieveError reports whether err carries an unexpected refresh status.
func isRetrieveError(err error) bool {
	var re *oauth2.RetrieveError
	return errors.As(err, &re)
}
