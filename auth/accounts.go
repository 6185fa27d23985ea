package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-authgate/tapcard-cli/endpoint"
	"github.com/go-authgate/tapcard-cli/tokenstore"
)

// SignUpRequest is the registration form.
type SignUpRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Accounts performs the calls that start or end a session.
type Accounts struct {
	client     *http.Client
	classifier *endpoint.Classifier
	store      tokenstore.Store
	sink       SessionSink
	now        func() time.Time
	timeout    time.Duration
	log        zerolog.Logger
}

// NewAccounts returns Accounts sending through client. client is normally
// Coordinator.Client(); the auth routes are public, so no token is attached.
func NewAccounts(
	client *http.Client,
	classifier *endpoint.Classifier,
	store tokenstore.Store,
	opts ...Option,
) *Accounts {
	o := buildOptions(opts)
	return &Accounts{
		client:     client,
		classifier: classifier,
		store:      store,
		sink:       o.sink,
		now:        o.now,
		timeout:    o.timeout,
		log:        o.log.With().Str("component", "accounts").Logger(),
	}
}

// SignIn exchanges email and password for a session.
func (a *Accounts) SignIn(ctx context.Context, email, password string) (*tokenstore.AuthTokens, error) {
	return a.startSession(ctx, endpoint.RouteSignIn, map[string]string{
		"email":    email,
		"password": password,
	})
}

// SignUp registers a new account and starts its session.
func (a *Accounts) SignUp(ctx context.Context, req SignUpRequest) (*tokenstore.AuthTokens, error) {
	return a.startSession(ctx, endpoint.RouteSignUp, req)
}

// GoogleSignIn exchanges a Google ID token for a session.
func (a *Accounts) GoogleSignIn(ctx context.Context, idToken string) (*tokenstore.AuthTokens, error) {
	return a.startSession(ctx, endpoint.RouteGoogleSignIn, map[string]string{
		"idToken": idToken,
	})
}

// ForgotPassword asks the server to send a password reset email.
func (a *Accounts) ForgotPassword(ctx context.Context, email string) error {
	status, body, err := a.post(ctx, endpoint.RouteForgotPassword, map[string]string{"email": email})
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return apiError(status, body)
	}
	return nil
}

// SignOut forgets the stored session.
func (a *Accounts) SignOut() error {
	if err := a.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	a.sink.SetLoggedIn(false)
	a.log.Info().Msg("signed out")
	return nil
}

func (a *Accounts) startSession(ctx context.Context, route string, payload any) (*tokenstore.AuthTokens, error) {
	status, body, err := a.post(ctx, route, payload)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, apiError(status, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	tokens, err := tr.toAuthTokens(nil, a.now())
	if err != nil {
		return nil, fmt.Errorf("invalid token response: %w", err)
	}

	if err := a.store.Put(tokens); err != nil {
		return nil, fmt.Errorf("failed to save tokens: %w", err)
	}
	if err := a.store.MarkFirstLaunchSeen(); err != nil {
		a.log.Warn().Err(err).Msg("failed to record first launch")
	}
	a.sink.SetLoggedIn(true)
	a.log.Info().Str("route", route).Msg("session started")
	return &tokens, nil
}

// post sends payload as JSON to route and returns the status and body.
func (a *Accounts) post(ctx context.Context, route string, payload any) (int, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		a.classifier.URL(route),
		bytes.NewReader(data),
	)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s request failed: %w", route, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// apiError builds an APIError from a JSON {"message"} or {"error"} body,
// falling back to the raw text.
func apiError(status int, body []byte) *APIError {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Message != "":
			msg = payload.Message
		case payload.Error != "":
			msg = payload.Error
		}
	}
	return &APIError{StatusCode: status, Message: msg}
}
