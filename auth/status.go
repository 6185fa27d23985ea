package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-authgate/tapcard-cli/session"
	"github.com/go-authgate/tapcard-cli/tokenstore"
)

// Resolver derives the session status from the stored tokens. Run it at
// start-up and after every login or logout.
type Resolver struct {
	store     tokenstore.Store
	refresher TokenRefresher
	sink      SessionSink
	now       func() time.Time
	log       zerolog.Logger
}

// NewResolver returns a Resolver.
func NewResolver(store tokenstore.Store, refresher TokenRefresher, opts ...Option) *Resolver {
	o := buildOptions(opts)
	return &Resolver{
		store:     store,
		refresher: refresher,
		sink:      o.sink,
		now:       o.now,
		log:       o.log.With().Str("component", "resolver").Logger(),
	}
}

// Resolve evaluates, in order:
//
//	no refresh token                  -> FirstLaunch or Guest
//	refresh token expired             -> clear, Expired
//	access token expired              -> refresh; hard failure -> Expired,
//	                                     success or transient failure -> Authenticated
//	both valid                        -> Authenticated
func (r *Resolver) Resolve(ctx context.Context) (session.Status, error) {
	tokens, err := r.store.Get()
	if err != nil {
		return session.Guest, fmt.Errorf("failed to read tokens: %w", err)
	}

	if !tokens.HasRefreshToken() {
		r.sink.SetLoggedIn(false)
		first, err := r.store.IsFirstLaunch()
		if err != nil {
			return session.Guest, fmt.Errorf("failed to read first-launch flag: %w", err)
		}
		if first {
			return session.FirstLaunch, nil
		}
		return session.Guest, nil
	}

	now := r.now()
	if tokens.RefreshExpired(now) {
		if err := r.store.Clear(); err != nil {
			return session.Expired, fmt.Errorf("failed to clear tokens: %w", err)
		}
		r.expire(ErrRefreshTokenExpired)
		return session.Expired, nil
	}

	if tokens.AccessExpired(now) {
		if _, err := r.refresher.Refresh(ctx); err != nil {
			if IsHardFailure(err) {
				if clearErr := r.store.Clear(); clearErr != nil {
					return session.Expired, fmt.Errorf("failed to clear tokens: %w", clearErr)
				}
				r.expire(err)
				return session.Expired, nil
			}
			// Connectivity loss must not log the user out.
			r.log.Warn().Err(err).Msg("refresh failed, assuming session is still valid")
		}
	}

	r.sink.SetLoggedIn(true)
	return session.Authenticated, nil
}

func (r *Resolver) expire(reason error) {
	r.log.Info().Err(reason).Msg("session expired")
	r.sink.SetLoggedIn(false)
	r.sink.Publish(session.Event{
		Kind:   session.EventSessionExpired,
		Reason: reason.Error(),
	})
}
