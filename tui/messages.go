package tui

import (
	"github.com/go-authgate/tapcard-cli/api"
	"github.com/go-authgate/tapcard-cli/session"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgSessionResolved carries the start-up session status.
type MsgSessionResolved struct {
	Status session.Status
	Name   string
}

// MsgSessionExpired signals that the session ended and the user must sign in.
type MsgSessionExpired struct{ Reason string }

// MsgSigningIn signals that a sign-in request is in flight.
type MsgSigningIn struct{ Email string }

// MsgSignedIn signals that a session was started and saved.
type MsgSignedIn struct {
	Name     string
	SavedTo  string
	Provider string
}

// MsgSignedOut signals that the stored session was removed.
type MsgSignedOut struct{}

// MsgResetRequested signals that a password reset email was requested.
type MsgResetRequested struct{ Email string }

// MsgLoading signals that an API call is in progress.
type MsgLoading struct{ What string }

// MsgProfile carries the signed-in account.
type MsgProfile struct{ Profile api.Profile }

// MsgBalance carries the prepaid balance.
type MsgBalance struct{ Balance api.Balance }

// MsgCards carries the linked cards.
type MsgCards struct{ Cards []api.Card }

// MsgCardUpdated carries a card after it was blocked or unblocked.
type MsgCardUpdated struct{ Card api.Card }

// MsgTransactions carries one page of history.
type MsgTransactions struct{ Page api.TransactionPage }

// MsgAPICallFailed signals that an API call failed.
type MsgAPICallFailed struct{ Err error }

// MsgDone signals that the command finished.
type MsgDone struct{}

// MsgFatal signals a fatal error that should terminate the command.
type MsgFatal struct{ Err error }
