// Package tokenstore holds the durable copy of the session tokens.
package tokenstore

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// AuthTokens is the persisted session. Both expiry fields are absolute Unix
// epoch seconds.
type AuthTokens struct {
	AccessToken      string `json:"access_token"`
	AccessExpiresAt  int64  `json:"access_expires_at"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresAt int64  `json:"refresh_expires_at"`
	FirstName        string `json:"first_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
}

// HasRefreshToken reports whether a refresh token is stored.
func (t *AuthTokens) HasRefreshToken() bool {
	return t != nil && t.RefreshToken != ""
}

// AccessExpired reports whether the access token is expired at now.
// An expiry equal to now counts as expired.
func (t *AuthTokens) AccessExpired(now time.Time) bool {
	return t.AccessExpiresAt <= now.Unix()
}

// RefreshExpired reports whether the refresh token is expired at now.
// An expiry equal to now counts as expired.
func (t *AuthTokens) RefreshExpired(now time.Time) bool {
	return t.RefreshExpiresAt <= now.Unix()
}

// DisplayName joins the first and last name claims.
func (t *AuthTokens) DisplayName() string {
	return strings.TrimSpace(t.FirstName + " " + t.LastName)
}

// OAuth2Token converts the access half of the session to an *oauth2.Token.
func (t *AuthTokens) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: t.RefreshToken,
		Expiry:       time.Unix(t.AccessExpiresAt, 0),
	}
}

// ErrInvalidTokens is returned by Put when the tokens cannot be stored.
var ErrInvalidTokens = errors.New("invalid tokens")

// Store is the single source of truth for the current session. Get returns
// (nil, nil) when no session is stored. Implementations must be safe for
// concurrent use.
type Store interface {
	Get() (*AuthTokens, error)
	Put(tokens AuthTokens) error
	Clear() error
	IsFirstLaunch() (bool, error)
	MarkFirstLaunchSeen() error
}

func validate(tokens AuthTokens) error {
	if tokens.AccessToken == "" && tokens.RefreshToken == "" {
		return errors.Join(ErrInvalidTokens, errors.New("no access or refresh token"))
	}
	return nil
}
