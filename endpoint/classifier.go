// Package endpoint decides which outbound requests may carry the bearer token.
package endpoint

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Auth bootstrap routes, relative to the API base URL.
const (
	RouteSignIn         = "/auth/sign-in"
	RouteSignUp         = "/auth/sign-up"
	RouteGoogleSignIn   = "/auth/google-sign-in"
	RouteForgotPassword = "/auth/forgot-password"
	RouteRefresh        = "/auth/refresh"
)

// DefaultPublicRoutes is the auth-exempt route set used when none is configured.
var DefaultPublicRoutes = []string{
	RouteSignIn,
	RouteSignUp,
	RouteGoogleSignIn,
	RouteForgotPassword,
	RouteRefresh,
}

// Classifier answers two questions about a request URL: does it belong to the
// configured API host, and is it one of the public auth routes.
type Classifier struct {
	base   *url.URL
	public map[string]struct{}
}

// New builds a Classifier for baseURL. When no routes are given,
// DefaultPublicRoutes is used.
func New(baseURL string, publicRoutes ...string) (*Classifier, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Host == "" {
		return nil, errors.New("base URL must include a host")
	}

	if len(publicRoutes) == 0 {
		publicRoutes = DefaultPublicRoutes
	}

	c := &Classifier{
		base:   u,
		public: make(map[string]struct{}, len(publicRoutes)),
	}
	for _, route := range publicRoutes {
		c.public[c.joinPath(route)] = struct{}{}
	}
	return c, nil
}

// URL resolves route against the base URL.
func (c *Classifier) URL(route string) string {
	u := *c.base
	u.Path = c.joinPath(route)
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// IsPublic reports whether u targets one of the auth bootstrap routes.
func (c *Classifier) IsPublic(u *url.URL) bool {
	if u == nil {
		return false
	}
	_, ok := c.public[trimSlash(u.Path)]
	return ok
}

// IsInternalHost reports whether u points at the configured API host.
// The port is part of the comparison.
func (c *Classifier) IsInternalHost(u *url.URL) bool {
	if u == nil {
		return false
	}
	return strings.EqualFold(u.Host, c.base.Host)
}

// ShouldAttachToken reports whether a bearer token may be sent to u.
func (c *Classifier) ShouldAttachToken(u *url.URL) bool {
	return c.IsInternalHost(u) && !c.IsPublic(u)
}

func (c *Classifier) joinPath(route string) string {
	base := strings.TrimSuffix(c.base.Path, "/")
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return trimSlash(base + route)
}

func trimSlash(p string) string {
	if len(p) > 1 {
		return strings.TrimSuffix(p, "/")
	}
	return p
}
