package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRefreshToken means there is no stored session to refresh.
	ErrNoRefreshToken = errors.New("no refresh token stored")
	// ErrRefreshTokenExpired means the stored refresh token is past its expiry.
	// No request is made.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrRefreshRejected means the server answered 401 to the refresh call.
	ErrRefreshRejected = errors.New("refresh token rejected by server")
)

// IsHardFailure reports whether err ends the session. Every other refresh
// error is transient and leaves the stored tokens in place.
func IsHardFailure(err error) bool {
	return errors.Is(err, ErrNoRefreshToken) ||
		errors.Is(err, ErrRefreshTokenExpired) ||
		errors.Is(err, ErrRefreshRejected)
}

// APIError is a non-2xx answer from one of the account endpoints.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}
