package session

import (
	"sync"
	"time"
)

// EventKind identifies a session lifecycle transition.
type EventKind int

const (
	EventLoggedIn EventKind = iota
	EventLoggedOut
	// EventSessionExpired is published when a refresh fails for good and the
	// user has to sign in again.
	EventSessionExpired
)

func (k EventKind) String() string {
	switch k {
	case EventLoggedIn:
		return "logged-in"
	case EventLoggedOut:
		return "logged-out"
	case EventSessionExpired:
		return "session-expired"
	default:
		return "unknown"
	}
}

// Event is one lifecycle transition.
type Event struct {
	Kind   EventKind
	Reason string
	At     time.Time
}

// subscriberBuffer bounds how far a slow subscriber may fall behind before
// events are dropped for it.
const subscriberBuffer = 16

// State owns the "is logged in" flag and fans lifecycle events out to
// subscribers. Publishing never blocks.
type State struct {
	mu       sync.RWMutex
	loggedIn bool
	subs     map[int]chan Event
	nextID   int
}

// NewState returns a State that starts logged out.
func NewState() *State {
	return &State{subs: make(map[int]chan Event)}
}

// LoggedIn reports the current flag.
func (s *State) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn
}

// SetLoggedIn updates the flag. A change publishes EventLoggedIn or
// EventLoggedOut; setting the same value again is silent.
func (s *State) SetLoggedIn(loggedIn bool) {
	s.mu.Lock()
	changed := s.loggedIn != loggedIn
	s.loggedIn = loggedIn
	s.mu.Unlock()

	if !changed {
		return
	}
	kind := EventLoggedOut
	if loggedIn {
		kind = EventLoggedIn
	}
	s.Publish(Event{Kind: kind})
}

// Publish delivers ev to every subscriber without blocking. Subscribers whose
// buffer is full miss the event.
func (s *State) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of future events and a function that
// unsubscribes and closes the channel.
func (s *State) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}
