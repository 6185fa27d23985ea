// Package api calls the prepaid-balance REST endpoints. Requests go through
// the auth coordinator's client, which attaches and refreshes tokens.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/go-authgate/tapcard-cli/endpoint"
)

const (
	routeProfile      = "/users/me"
	routeBalance      = "/users/me/balance"
	routeCards        = "/cards"
	routeTransactions = "/transactions"

	requestIDHeader = "X-Request-ID"
)

// ErrUnauthorized matches a StatusError for a 401 that survived the refresh.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	RequestID  string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// Is lets errors.Is(err, ErrUnauthorized) match a 401.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Balance is the prepaid amount in minor units.
type Balance struct {
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Format renders the amount with two decimals, e.g. "12.50 EUR".
func (b Balance) Format() string {
	return formatMinor(b.Amount, b.Currency)
}

// Card is an NFC card linked to the account.
type Card struct {
	ID      string    `json:"id"`
	UID     string    `json:"uid"`
	Label   string    `json:"label"`
	Blocked bool      `json:"blocked"`
	AddedAt time.Time `json:"addedAt"`
}

type Transaction struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Format renders the signed amount.
func (t Transaction) Format() string {
	return formatMinor(t.Amount, t.Currency)
}

// TransactionPage is one page of the transaction history. Pages start at 1.
type TransactionPage struct {
	Page       int           `json:"page"`
	TotalPages int           `json:"totalPages"`
	Items      []Transaction `json:"items"`
}

// HasNext reports whether another page follows.
func (p *TransactionPage) HasNext() bool {
	return p.Page < p.TotalPages
}

// Client is a typed wrapper around the REST API.
type Client struct {
	http       *http.Client
	classifier *endpoint.Classifier
	log        zerolog.Logger
}

// NewClient returns a Client sending through httpClient, which is normally
// auth.Coordinator.Client().
func NewClient(httpClient *http.Client, classifier *endpoint.Classifier, log zerolog.Logger) *Client {
	return &Client{
		http:       httpClient,
		classifier: classifier,
		log:        log.With().Str("component", "api").Logger(),
	}
}

func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.do(ctx, http.MethodGet, routeProfile, nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) Balance(ctx context.Context) (*Balance, error) {
	var b Balance
	if err := c.do(ctx, http.MethodGet, routeBalance, nil, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) Cards(ctx context.Context) ([]Card, error) {
	var cards []Card
	if err := c.do(ctx, http.MethodGet, routeCards, nil, nil, &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// SetCardBlocked blocks or unblocks a card and returns its new state.
func (c *Client) SetCardBlocked(ctx context.Context, cardID string, blocked bool) (*Card, error) {
	if cardID == "" || strings.Contains(cardID, "/") {
		return nil, fmt.Errorf("invalid card id %q", cardID)
	}
	var card Card
	route := routeCards + "/" + cardID
	if err := c.do(ctx, http.MethodPatch, route, nil, map[string]bool{"blocked": blocked}, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// Transactions returns one page of history. page values below 1 mean 1.
func (c *Client) Transactions(ctx context.Context, page int) (*TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	var p TransactionPage
	query := url.Values{"page": {strconv.Itoa(page)}}
	if err := c.do(ctx, http.MethodGet, routeTransactions, query, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) do(ctx context.Context, method, route string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	target := c.classifier.URL(route)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", req.URL.Path).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("api call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Method:     method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
			RequestID:  requestID,
		}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", req.URL.Path, err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}

func formatMinor(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, currency)
}
