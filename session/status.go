// Package session exposes the logged-in state and session lifecycle events
// to UI layers.
package session

// Status is a read-time projection of the stored tokens and the first-launch
// flag. It is never persisted.
type Status int

const (
	FirstLaunch Status = iota
	Guest
	Authenticated
	Expired
)

func (s Status) String() string {
	switch s {
	case FirstLaunch:
		return "first-launch"
	case Guest:
		return "guest"
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}
