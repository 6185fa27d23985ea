package tui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-authgate/tapcard-cli/api"
	"github.com/go-authgate/tapcard-cli/session"
)

func update(t *testing.T, m Model, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		var ok bool
		m, ok = next.(Model)
		require.True(t, ok)
	}
	return m
}

func TestModel_BalanceFlow(t *testing.T) {
	m := update(t, NewModel(),
		MsgBanner{},
		MsgSessionResolved{Status: session.Authenticated, Name: "Ada Lovelace"},
		MsgLoading{What: "balance"},
	)
	assert.Equal(t, stateLoading, m.state)
	assert.Contains(t, m.View().Content, "Loading balance")

	m = update(t, m,
		MsgBalance{Balance: api.Balance{Amount: 1250, Currency: "EUR"}},
		MsgDone{},
	)
	assert.Equal(t, stateSuccess, m.state)
	view := m.View().Content
	assert.Contains(t, view, "12.50 EUR")
	assert.Contains(t, view, "Signed in as Ada Lovelace")
}

func TestModel_CardsTable(t *testing.T) {
	m := update(t, NewModel(),
		MsgCards{Cards: []api.Card{
			{ID: "card-1", Label: "Office", UID: "04:A2"},
			{ID: "card-2", Label: "Gym", UID: "04:FF", Blocked: true},
		}},
		MsgDone{},
	)
	view := m.View().Content
	assert.Contains(t, view, "Office")
	assert.Contains(t, view, "blocked")
	assert.Contains(t, view, "active")
}

func TestModel_ProfileTable(t *testing.T) {
	m := update(t, NewModel(),
		MsgProfile{Profile: api.Profile{ID: "user-1", Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace"}},
		MsgDone{},
	)
	view := m.View().Content
	assert.Contains(t, view, "Ada Lovelace")
	assert.Contains(t, view, "ada@example.com")
}

func TestModel_TransactionsPage(t *testing.T) {
	m := update(t, NewModel(),
		MsgTransactions{Page: api.TransactionPage{
			Page:       1,
			TotalPages: 3,
			Items: []api.Transaction{
				{Kind: "purchase", Amount: -250, Currency: "EUR", Description: "Espresso", CreatedAt: time.Now()},
			},
		}},
		MsgDone{},
	)
	view := m.View().Content
	assert.Contains(t, view, "-2.50 EUR")
	assert.Contains(t, view, "Page 1 of 3")
}

func TestModel_Fatal(t *testing.T) {
	m := update(t, NewModel(), MsgFatal{Err: errors.New("server unreachable")})
	assert.Equal(t, stateError, m.state)
	assert.Contains(t, m.View().Content, "server unreachable")
}

func TestModel_SessionExpiredIsWarning(t *testing.T) {
	m := update(t, NewModel(), MsgSessionExpired{Reason: "refresh token rejected by server"})
	require.Len(t, m.statusLines, 1)
	assert.Equal(t, statusWarn, m.statusLines[0].kind)
}

func TestPlainDisplayer(t *testing.T) {
	var buf bytes.Buffer
	d := NewPlainDisplayer(&buf)

	d.SessionResolved(session.FirstLaunch, "")
	d.SignedIn("Ada Lovelace", "/tmp/tokens.json", "password")
	d.Profile(api.Profile{ID: "user-1", Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace"})
	d.Balance(api.Balance{Amount: 5, Currency: "EUR"})
	d.Cards(nil)
	d.Transactions(api.TransactionPage{Page: 2, TotalPages: 2})
	d.Fatal(errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "Welcome!")
	assert.Contains(t, out, "Signed in as Ada Lovelace (password)")
	assert.Contains(t, out, "Session saved to /tmp/tokens.json")
	assert.Contains(t, out, "Account: Ada Lovelace <ada@example.com>")
	assert.Contains(t, out, "ID: user-1")
	assert.Contains(t, out, "Balance: 0.05 EUR")
	assert.Contains(t, out, "No cards linked.")
	assert.Contains(t, out, "Page 2 of 2")
	assert.Contains(t, out, "Error: boom")
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "Not signed in.", statusText(session.Guest, ""))
	assert.Equal(t, "Signed in as unknown user", statusText(session.Authenticated, ""))
	assert.Contains(t, statusText(session.Expired, ""), "expired")
}

var _ Displayer = NoopDisplayer{}
var _ Displayer = (*PlainDisplayer)(nil)
var _ Displayer = (*ProgramDisplayer)(nil)
