package tui

import (
	"fmt"
	"io"
	"strings"

	tea "charm.land/bubbletea/v2"

	"github.com/go-authgate/tapcard-cli/api"
	"github.com/go-authgate/tapcard-cli/session"
)

// Displayer abstracts all user-facing output of the CLI commands.
type Displayer interface {
	Banner()
	SessionResolved(status session.Status, name string)
	SessionExpired(reason string)
	SigningIn(email string)
	SignedIn(name, savedTo, provider string)
	SignedOut()
	ResetRequested(email string)
	Loading(what string)
	Profile(p api.Profile)
	Balance(b api.Balance)
	Cards(cards []api.Card)
	CardUpdated(card api.Card)
	Transactions(page api.TransactionPage)
	APICallFailed(err error)
	Done()
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== TapCard ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) SessionResolved(status session.Status, name string) {
	fmt.Fprintln(p.w, statusText(status, name))
}

func (p *PlainDisplayer) SessionExpired(reason string) {
	fmt.Fprintf(p.w, "Session expired (%s). Please sign in again.\n", reason)
}

func (p *PlainDisplayer) SigningIn(email string) {
	fmt.Fprintf(p.w, "Signing in as %s...\n", email)
}

func (p *PlainDisplayer) SignedIn(name, savedTo, provider string) {
	fmt.Fprintf(p.w, "Signed in as %s (%s)\n", displayName(name), provider)
	if savedTo != "" {
		fmt.Fprintf(p.w, "Session saved to %s\n", savedTo)
	}
}

func (p *PlainDisplayer) SignedOut() {
	fmt.Fprintln(p.w, "Signed out.")
}

func (p *PlainDisplayer) ResetRequested(email string) {
	fmt.Fprintf(p.w, "If %s has an account, a reset link is on its way.\n", email)
}

func (p *PlainDisplayer) Loading(what string) {
	fmt.Fprintf(p.w, "Loading %s...\n", what)
}

func (p *PlainDisplayer) Profile(pr api.Profile) {
	fmt.Fprintf(p.w, "Account: %s <%s>\n", displayName(profileName(pr)), pr.Email)
	fmt.Fprintf(p.w, "ID: %s\n", pr.ID)
}

func (p *PlainDisplayer) Balance(b api.Balance) {
	fmt.Fprintf(p.w, "Balance: %s\n", b.Format())
}

func (p *PlainDisplayer) Cards(cards []api.Card) {
	if len(cards) == 0 {
		fmt.Fprintln(p.w, "No cards linked.")
		return
	}
	for _, c := range cards {
		fmt.Fprintf(p.w, "%s\t%s\t%s\t%s\n", c.ID, c.Label, c.UID, cardState(c))
	}
}

func (p *PlainDisplayer) CardUpdated(card api.Card) {
	fmt.Fprintf(p.w, "Card %s is now %s\n", card.ID, cardState(card))
}

func (p *PlainDisplayer) Transactions(page api.TransactionPage) {
	for _, tx := range page.Items {
		fmt.Fprintf(p.w, "%s\t%s\t%s\t%s\n",
			tx.CreatedAt.Format(dateLayout), tx.Kind, tx.Format(), tx.Description)
	}
	fmt.Fprintf(p.w, "Page %d of %d\n", page.Page, page.TotalPages)
}

func (p *PlainDisplayer) APICallFailed(err error) {
	fmt.Fprintf(p.w, "API call failed: %v\n", err)
}

func (p *PlainDisplayer) Done() {}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                                    {}
func (NoopDisplayer) SessionResolved(_ session.Status, _ string) {}
func (NoopDisplayer) SessionExpired(_ string)                    {}
func (NoopDisplayer) SigningIn(_ string)                         {}
func (NoopDisplayer) SignedIn(_, _, _ string)                    {}
func (NoopDisplayer) SignedOut()                                 {}
func (NoopDisplayer) ResetRequested(_ string)                    {}
func (NoopDisplayer) Loading(_ string)                           {}
func (NoopDisplayer) Profile(_ api.Profile)                      {}
func (NoopDisplayer) Balance(_ api.Balance)                      {}
func (NoopDisplayer) Cards(_ []api.Card)                         {}
func (NoopDisplayer) CardUpdated(_ api.Card)                     {}
func (NoopDisplayer) Transactions(_ api.TransactionPage)         {}
func (NoopDisplayer) APICallFailed(_ error)                      {}
func (NoopDisplayer) Done()                                      {}
func (NoopDisplayer) Fatal(_ error)                              {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) SessionResolved(status session.Status, name string) {
	t.p.Send(MsgSessionResolved{Status: status, Name: name})
}

func (t *ProgramDisplayer) SessionExpired(reason string) {
	t.p.Send(MsgSessionExpired{Reason: reason})
}

func (t *ProgramDisplayer) SigningIn(email string) {
	t.p.Send(MsgSigningIn{Email: email})
}

func (t *ProgramDisplayer) SignedIn(name, savedTo, provider string) {
	t.p.Send(MsgSignedIn{Name: name, SavedTo: savedTo, Provider: provider})
}

func (t *ProgramDisplayer) SignedOut() {
	t.p.Send(MsgSignedOut{})
}

func (t *ProgramDisplayer) ResetRequested(email string) {
	t.p.Send(MsgResetRequested{Email: email})
}

func (t *ProgramDisplayer) Loading(what string) {
	t.p.Send(MsgLoading{What: what})
}

func (t *ProgramDisplayer) Profile(p api.Profile) {
	t.p.Send(MsgProfile{Profile: p})
}

func (t *ProgramDisplayer) Balance(b api.Balance) {
	t.p.Send(MsgBalance{Balance: b})
}

func (t *ProgramDisplayer) Cards(cards []api.Card) {
	t.p.Send(MsgCards{Cards: cards})
}

func (t *ProgramDisplayer) CardUpdated(card api.Card) {
	t.p.Send(MsgCardUpdated{Card: card})
}

func (t *ProgramDisplayer) Transactions(page api.TransactionPage) {
	t.p.Send(MsgTransactions{Page: page})
}

func (t *ProgramDisplayer) APICallFailed(err error) {
	t.p.Send(MsgAPICallFailed{Err: err})
}

func (t *ProgramDisplayer) Done() {
	t.p.Send(MsgDone{})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}

const dateLayout = "2006-01-02 15:04"

func statusText(status session.Status, name string) string {
	switch status {
	case session.FirstLaunch:
		return "Welcome! Sign in or create an account to get started."
	case session.Guest:
		return "Not signed in."
	case session.Expired:
		return "Your session has expired. Please sign in again."
	case session.Authenticated:
		return "Signed in as " + displayName(name)
	default:
		return "Unknown session state"
	}
}

func displayName(name string) string {
	if name == "" {
		return "unknown user"
	}
	return name
}

func profileName(p api.Profile) string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

func cardState(c api.Card) string {
	if c.Blocked {
		return "blocked"
	}
	return "active"
}
