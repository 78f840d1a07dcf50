package livesession

import (
	"errors"

	"github.com/parlo-app/parlo/internal/recap"
	"github.com/parlo-app/parlo/internal/transcript"
)

// State is the lifecycle phase of a voice session. Transitions only ever
// move forward: Pending -> Active -> Finalizing -> Closed, with Pending and
// early Active allowed to jump straight to Closed on cancellation.
type State string

const (
	StatePending    State = "pending"
	StateActive     State = "active"
	StateFinalizing State = "finalizing"
	StateClosed     State = "closed"
)

var (
	// ErrSessionActive is returned when a new session is requested while one
	// is already in progress. The process runs at most one.
	ErrSessionActive = errors.New("a voice session is already in progress")

	// ErrNoSession is returned by operations that need a session in progress.
	ErrNoSession = errors.New("no voice session in progress")

	// ErrCancelTooLate is returned when cancellation is requested after the
	// session has committed transcript turns. End it instead.
	ErrCancelTooLate = errors.New("session already has committed turns")
)

// EventType tags session events pushed to the UI collaborator.
type EventType string

const (
	EventStateChanged  EventType = "state_changed"
	EventTurnCommitted EventType = "turn_committed"
	EventRecapReady    EventType = "recap_ready"
)

// Event is one session notification. Turn is set for EventTurnCommitted and
// Recap for EventRecapReady.
type Event struct {
	Type      EventType
	SessionID string
	State     State
	Turn      *transcript.Turn
	Recap     *recap.Result
}

// NotifyFunc receives session events. It runs on session goroutines and must
// not block.
type NotifyFunc func(Event)

// Teardown bundles the per-session resource release hooks. Finalization
// invokes them in declaration order: capture first so no new frames arrive,
// playback next so the output falls silent, then a final text flush while
// turns are still accepted, and the channel last.
type Teardown struct {
	StopCapture     func()
	CleanupPlayback func()
	FlushText       func()
	CloseChannel    func() error
}
