package auth

import (
	"errors"
	"time"

	"github.com/go-authgate/tapcard-cli/tokenstore"
)

// tokenResponse is the body returned by sign-in, sign-up, Google sign-in and
// refresh.
type tokenResponse struct {
	Token               string     `json:"token"`
	TokenExpires        epochValue `json:"tokenExpires"`
	RefreshToken        string     `json:"refreshToken"`
	RefreshTokenExpires epochValue `json:"refreshTokenExpires"`
	FirstName           string     `json:"firstName,omitempty"`
	LastName            string     `json:"lastName,omitempty"`
}

// toAuthTokens validates the response and normalizes both expiries. prev is
// the session being refreshed, nil on sign-in. When the server keeps the
// refresh token fixed and omits it, the previous one is carried over.
func (r tokenResponse) toAuthTokens(prev *tokenstore.AuthTokens, now time.Time) (tokenstore.AuthTokens, error) {
	if r.Token == "" {
		return tokenstore.AuthTokens{}, errors.New("token is empty")
	}

	claims := DecodeClaims(r.Token, now)

	accessExp := claims.ExpiresAt
	if r.TokenExpires != 0 {
		accessExp = NormalizeExpiry(int64(r.TokenExpires), now)
	}
	if accessExp == 0 {
		return tokenstore.AuthTokens{}, errors.New("tokenExpires is missing")
	}

	refreshToken := r.RefreshToken
	refreshExp := int64(0)
	if r.RefreshTokenExpires != 0 {
		refreshExp = NormalizeExpiry(int64(r.RefreshTokenExpires), now)
	}
	if refreshToken == "" && prev != nil {
		refreshToken = prev.RefreshToken
		if refreshExp == 0 {
			refreshExp = prev.RefreshExpiresAt
		}
	}
	if refreshToken == "" {
		return tokenstore.AuthTokens{}, errors.New("refreshToken is empty")
	}
	if refreshExp == 0 {
		return tokenstore.AuthTokens{}, errors.New("refreshTokenExpires is missing")
	}

	first, last := r.FirstName, r.LastName
	if first == "" && last == "" {
		first, last = claims.FirstName, claims.LastName
	}

	return tokenstore.AuthTokens{
		AccessToken:      r.Token,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExp,
		FirstName:        first,
		LastName:         last,
	}, nil
}
