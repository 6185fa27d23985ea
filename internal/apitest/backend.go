// Package apitest runs a fake prepaid-balance API for tests.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

// Test credentials accepted by the sign-in route.
const (
	Email    = "ada@example.com"
	Password = "correct-horse"
)

var signingKey = []byte("apitest-signing-key")

// Backend is an httptest server that issues JWT access tokens, rotates them
// on refresh and rejects protected calls that do not carry the current one.
type Backend struct {
	*httptest.Server

	RefreshCalls atomic.Int32
	SignInCalls  atomic.Int32

	mu             sync.Mutex
	generation     int
	accessToken    string
	refreshToken   string
	refreshStatus  int
	failNext       int
	failStatus     int
	refreshBodies  []string
	refreshDelay   time.Duration
	tokenTTL       int64
	refreshTTL     int64
	holdCount      int
	holdArrived    int
	holdRelease    chan struct{}
	authHeaders    map[string][]string
	lastCardUpdate map[string]any
	balance        int64
}

// New starts a Backend and closes it when the test ends. Expiries are sent as
// relative TTLs unless SetAbsoluteExpiry is used.
func New(t testing.TB) *Backend {
	t.Helper()

	b := &Backend{
		tokenTTL:    900,
		refreshTTL:  30 * 24 * 3600,
		authHeaders: make(map[string][]string),
		balance:     1250,
	}

	r := chi.NewRouter()
	r.Post("/auth/sign-in", b.handleSignIn)
	r.Post("/auth/sign-up", b.handleSignUp)
	r.Post("/auth/google-sign-in", b.handleGoogleSignIn)
	r.Post("/auth/forgot-password", b.handleForgotPassword)
	r.Post("/auth/refresh", b.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(b.requireAccessToken)
		r.Get("/users/me", b.handleProfile)
		r.Get("/users/me/balance", b.handleBalance)
		r.Get("/cards", b.handleCards)
		r.Patch("/cards/{cardID}", b.handleUpdateCard)
		r.Get("/transactions", b.handleTransactions)
	})

	b.Server = httptest.NewServer(b.recordAuth(r))
	t.Cleanup(b.Server.Close)
	return b
}

// IssueSession makes the backend accept a fresh token pair and returns it.
func (b *Backend) IssueSession() (access, refresh string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rotateLocked()
	return b.accessToken, b.refreshToken
}

// AccessToken returns the access token currently accepted.
func (b *Backend) AccessToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accessToken
}

// RefreshToken returns the refresh token currently accepted.
func (b *Backend) RefreshToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshToken
}

// ExpireAccessToken makes every protected call answer 401 until the next
// refresh.
func (b *Backend) ExpireAccessToken() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accessToken = "expired-" + strconv.Itoa(b.generation)
}

// SetRefreshStatus forces the refresh route to answer with status. Zero
// restores normal behaviour.
func (b *Backend) SetRefreshStatus(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshStatus = status
}

// FailRefreshes makes the next n refresh calls answer status, then resumes
// normal behaviour.
func (b *Backend) FailRefreshes(n, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = n
	b.failStatus = status
}

// RefreshBodies returns the refresh token sent on every refresh call, in order.
func (b *Backend) RefreshBodies() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.refreshBodies...)
}

// SetRefreshDelay delays every refresh response.
func (b *Backend) SetRefreshDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshDelay = d
}

// SetAbsoluteExpiry switches expiries in token responses to epoch seconds.
func (b *Backend) SetAbsoluteExpiry(absolute bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if absolute {
		b.tokenTTL = -1
	} else {
		b.tokenTTL = 900
	}
}

// HoldRejections blocks the next n rejected protected calls until all n have
// arrived, so that they observe the same stale token.
func (b *Backend) HoldRejections(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdCount = n
	b.holdArrived = 0
	b.holdRelease = make(chan struct{})
}

// SetBalance sets the balance reported by the balance route.
func (b *Backend) SetBalance(amount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balance = amount
}

// AuthHeaders returns the Authorization values received on path, in order.
func (b *Backend) AuthHeaders(path string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.authHeaders[path]...)
}

// LastCardUpdate returns the body of the last accepted card update.
func (b *Backend) LastCardUpdate() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastCardUpdate
}

// MakeToken signs a JWT with the given claims.
func MakeToken(claims jwt.MapClaims) string {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(fmt.Sprintf("apitest: signing token: %v", err))
	}
	return s
}

func (b *Backend) rotateLocked() {
	b.generation++
	b.accessToken = MakeToken(jwt.MapClaims{
		"sub":       "user-1",
		"gen":       b.generation,
		"firstName": "Ada",
		"lastName":  "Lovelace",
		"exp":       time.Now().Add(15 * time.Minute).Unix(),
	})
	b.refreshToken = fmt.Sprintf("refresh-%d", b.generation)
}

func (b *Backend) tokenBodyLocked() map[string]any {
	tokenExpires := b.tokenTTL
	refreshExpires := b.refreshTTL
	if b.tokenTTL < 0 {
		tokenExpires = time.Now().Add(15 * time.Minute).Unix()
		refreshExpires = time.Now().Add(30 * 24 * time.Hour).Unix()
	}
	return map[string]any{
		"token":               b.accessToken,
		"tokenExpires":        tokenExpires,
		"refreshToken":        b.refreshToken,
		"refreshTokenExpires": refreshExpires,
	}
}

func (b *Backend) recordAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.authHeaders[r.URL.Path] = append(b.authHeaders[r.URL.Path], r.Header.Get("Authorization"))
		b.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) requireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		b.mu.Lock()
		valid := got != "" && got == b.accessToken
		var release chan struct{}
		if !valid && b.holdCount > 0 {
			b.holdArrived++
			release = b.holdRelease
			if b.holdArrived == b.holdCount {
				close(release)
				b.holdCount = 0
			}
		}
		b.mu.Unlock()

		if release != nil {
			select {
			case <-release:
			case <-time.After(5 * time.Second):
			}
		}

		if !valid {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid access token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) handleSignIn(w http.ResponseWriter, r *http.Request) {
	b.SignInCalls.Add(1)

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed body"})
		return
	}
	if req.Email != Email || req.Password != Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid email or password"})
		return
	}

	b.mu.Lock()
	b.rotateLocked()
	body := b.tokenBodyLocked()
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, body)
}

func (b *Backend) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "email is required"})
		return
	}
	if req.Email == Email {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered"})
		return
	}

	b.mu.Lock()
	b.rotateLocked()
	body := b.tokenBodyLocked()
	b.mu.Unlock()
	body["firstName"] = req.FirstName
	body["lastName"] = req.LastName
	writeJSON(w, http.StatusCreated, body)
}

func (b *Backend) handleGoogleSignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken string `json:"idToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "idToken is required"})
		return
	}

	b.mu.Lock()
	b.rotateLocked()
	body := b.tokenBodyLocked()
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, body)
}

func (b *Backend) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "email is required"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.RefreshCalls.Add(1)

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	decodeErr := json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	b.refreshBodies = append(b.refreshBodies, req.RefreshToken)
	delay := b.refreshDelay
	status := b.refreshStatus
	if b.failNext > 0 {
		b.failNext--
		status = b.failStatus
	}
	b.mu.Unlock()

	if decodeErr != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed body"})
		return
	}

	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		writeJSON(w, status, map[string]string{"message": http.StatusText(status)})
		return
	}

	b.mu.Lock()
	if req.RefreshToken == "" || req.RefreshToken != b.refreshToken {
		b.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid refresh token"})
		return
	}
	b.rotateLocked()
	body := b.tokenBodyLocked()
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, body)
}

func (b *Backend) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        "user-1",
		"email":     Email,
		"firstName": "Ada",
		"lastName":  "Lovelace",
	})
}

func (b *Backend) handleBalance(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	balance := b.balance
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"amount":    balance,
		"currency":  "EUR",
		"updatedAt": "2026-10-01T12:00:00Z",
	})
}

func (b *Backend) handleCards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []map[string]any{
		{"id": "card-1", "uid": "04:A2:3B:7C", "label": "Office", "blocked": false, "addedAt": "2026-01-15T08:30:00Z"},
		{"id": "card-2", "uid": "04:FF:10:22", "label": "Gym", "blocked": true, "addedAt": "2026-03-02T17:05:00Z"},
	})
}

func (b *Backend) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed body"})
		return
	}
	b.mu.Lock()
	b.lastCardUpdate = req
	b.mu.Unlock()

	blocked, _ := req["blocked"].(bool)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      chi.URLParam(r, "cardID"),
		"uid":     "04:A2:3B:7C",
		"label":   "Office",
		"blocked": blocked,
		"addedAt": "2026-01-15T08:30:00Z",
	})
}

func (b *Backend) handleTransactions(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"page":       page,
		"totalPages": 2,
		"items": []map[string]any{
			{
				"id":          fmt.Sprintf("tx-%d-1", page),
				"kind":        "top-up",
				"amount":      2000,
				"currency":    "EUR",
				"description": "Card top-up",
				"createdAt":   "2026-09-30T09:00:00Z",
			},
			{
				"id":          fmt.Sprintf("tx-%d-2", page),
				"kind":        "purchase",
				"amount":      -250,
				"currency":    "EUR",
				"description": "Espresso, dispenser 3",
				"createdAt":   "2026-09-30T09:05:00Z",
			},
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
