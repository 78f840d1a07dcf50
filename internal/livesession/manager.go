package livesession

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parlo-app/parlo/internal/observability"
	"github.com/parlo-app/parlo/internal/persona"
	"github.com/parlo-app/parlo/internal/privacy"
	"github.com/parlo-app/parlo/internal/recap"
	"github.com/parlo-app/parlo/internal/store"
	"github.com/parlo-app/parlo/internal/transcript"
)

// Manager owns the single in-flight voice session: its state machine, its
// append-only transcript and the finalization sequence that produces and
// persists the recap. Resource handling lives in the Teardown hooks bound by
// the facade; the manager only decides when they run.
type Manager struct {
	generator recap.Generator
	store     store.Store
	metrics   *observability.Metrics

	mu      sync.Mutex
	session *sessionRecord
}

type sessionRecord struct {
	id        string
	persona   persona.Ref
	kind      string
	state     State
	createdAt time.Time
	startedAt time.Time
	turns     []transcript.Turn
	teardown  Teardown
	notify    NotifyFunc
}

func NewManager(generator recap.Generator, st store.Store, metrics *observability.Metrics) *Manager {
	return &Manager{generator: generator, store: st, metrics: metrics}
}

// Begin creates a Pending session and reserves the process-wide slot. It
// fails with ErrSessionActive while another session is in progress.
func (m *Manager) Begin(ref persona.Ref, kind string, notify NotifyFunc) (string, error) {
	m.mu.Lock()
	if m.session != nil && m.session.state != StateClosed {
		m.mu.Unlock()
		return "", ErrSessionActive
	}
	id := fmt.Sprintf("%s-%s-%s", kind, ref.ID, uuid.NewString())
	m.session = &sessionRecord{
		id:        id,
		persona:   ref,
		kind:      kind,
		state:     StatePending,
		createdAt: time.Now(),
		notify:    notify,
	}
	m.mu.Unlock()

	m.metrics.ActiveSessions.Inc()
	m.metrics.SessionEvents.WithLabelValues("created").Inc()
	emit(notify, Event{Type: EventStateChanged, SessionID: id, State: StatePending})
	return id, nil
}

// BindTeardown attaches the per-session resource hooks. Called by the facade
// once the session's collaborators exist.
func (m *Manager) BindTeardown(td Teardown) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.teardown = td
	}
}

// MarkActive moves a Pending session to Active on the first real signal
// exchange, stamping the session start. A no-op in any other state.
func (m *Manager) MarkActive() {
	m.mu.Lock()
	s := m.session
	if s == nil || s.state != StatePending {
		m.mu.Unlock()
		return
	}
	s.state = StateActive
	s.startedAt = time.Now()
	id, notify := s.id, s.notify
	m.mu.Unlock()

	m.metrics.SessionEvents.WithLabelValues("activated").Inc()
	emit(notify, Event{Type: EventStateChanged, SessionID: id, State: StateActive})
}

// AddTurn appends one committed utterance to the transcript. Turns are
// accepted in Pending, Active and Finalizing; anything arriving later is
// dropped with a warning rather than resurrecting a closed session.
func (m *Manager) AddTurn(speaker transcript.Speaker, text string, turnType transcript.TurnType) {
	m.mu.Lock()
	s := m.session
	if s == nil || s.state == StateClosed {
		m.mu.Unlock()
		log.Printf("livesession: dropping %s turn, no session accepting turns", speaker)
		return
	}
	turn := transcript.Turn{
		Speaker:   speaker,
		Text:      text,
		TurnType:  turnType,
		Timestamp: time.Now().UnixMilli(),
	}
	s.turns = append(s.turns, turn)
	id, notify := s.id, s.notify
	m.mu.Unlock()

	m.metrics.TranscriptTurns.WithLabelValues(string(speaker)).Inc()
	emit(notify, Event{Type: EventTurnCommitted, SessionID: id, Turn: &turn})
}

// State reports the current session's phase, or StateClosed when none exists.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return StateClosed
	}
	return m.session.state
}

// InProgress reports whether a session currently occupies the slot.
func (m *Manager) InProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil && m.session.state != StateClosed
}

// SessionID returns the in-progress session's id, or empty.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.state == StateClosed {
		return ""
	}
	return m.session.id
}

// TurnCount reports how many turns the in-progress session has committed.
func (m *Manager) TurnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return 0
	}
	return len(m.session.turns)
}

// End finalizes the session: teardown, recap generation with fallbacks,
// persistence, then Closed. Repeated calls during finalization are tolerated
// and logged.
func (m *Manager) End(ctx context.Context) error {
	s, ok := m.beginFinalize()
	if !ok {
		return ErrNoSession
	}
	if s == nil {
		return nil
	}
	m.finalize(ctx, s, "")
	return nil
}

// EndWithFailure finalizes after an unrecoverable mid-session failure such
// as a lost realtime channel. Recap generation is skipped in favor of a
// degraded recap carrying the failure reason. A no-op when no session is in
// progress.
func (m *Manager) EndWithFailure(ctx context.Context, reason string) {
	s, ok := m.beginFinalize()
	if !ok || s == nil {
		return
	}
	m.metrics.SessionEvents.WithLabelValues("channel_failed").Inc()
	m.finalize(ctx, s, reason)
}

// Cancel discards a session that has not yet committed any turns: resources
// are released but no recap is generated and nothing is persisted.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	s := m.session
	if s == nil || s.state == StateClosed || s.state == StateFinalizing {
		m.mu.Unlock()
		return ErrNoSession
	}
	if len(s.turns) > 0 {
		m.mu.Unlock()
		return ErrCancelTooLate
	}
	s.state = StateFinalizing
	td, id, notify := s.teardown, s.id, s.notify
	m.mu.Unlock()

	if td.StopCapture != nil {
		td.StopCapture()
	}
	if td.CleanupPlayback != nil {
		td.CleanupPlayback()
	}
	if td.CloseChannel != nil {
		if err := td.CloseChannel(); err != nil {
			log.Printf("livesession: channel close during cancel: %v", err)
		}
	}

	m.mu.Lock()
	s.state = StateClosed
	m.session = nil
	m.mu.Unlock()

	m.metrics.ActiveSessions.Dec()
	m.metrics.SessionEvents.WithLabelValues("cancelled").Inc()
	emit(notify, Event{Type: EventStateChanged, SessionID: id, State: StateClosed})
	return nil
}

// beginFinalize flips the session into Finalizing. The second return is
// false when no session is in progress; a nil record with ok=true means a
// finalization is already running.
func (m *Manager) beginFinalize() (*sessionRecord, bool) {
	m.mu.Lock()
	s := m.session
	if s == nil || s.state == StateClosed {
		m.mu.Unlock()
		return nil, false
	}
	if s.state == StateFinalizing {
		m.mu.Unlock()
		log.Printf("livesession: teardown warning: session already finalizing")
		return nil, true
	}
	s.state = StateFinalizing
	id, notify := s.id, s.notify
	m.mu.Unlock()

	emit(notify, Event{Type: EventStateChanged, SessionID: id, State: StateFinalizing})
	return s, true
}

func (m *Manager) finalize(ctx context.Context, s *sessionRecord, failureReason string) {
	finalizeStart := time.Now()
	m.mu.Lock()
	td := s.teardown
	m.mu.Unlock()

	if td.StopCapture != nil {
		td.StopCapture()
	}
	if td.CleanupPlayback != nil {
		td.CleanupPlayback()
	}
	// The flush commits any buffered utterances; Finalizing still accepts
	// turns so nothing spoken is lost.
	if td.FlushText != nil {
		td.FlushText()
	}
	if td.CloseChannel != nil {
		if err := td.CloseChannel(); err != nil {
			log.Printf("livesession: channel close during finalize: %v", err)
		}
	}

	m.mu.Lock()
	turns := append([]transcript.Turn(nil), s.turns...)
	ref, id, kind, startedAt, notify := s.persona, s.id, s.kind, s.startedAt, s.notify
	m.mu.Unlock()

	began := time.Now()
	var result recap.Result
	switch {
	case failureReason != "":
		result = recap.Degraded(turns, failureReason)
		m.metrics.RecapOutcomes.WithLabelValues("degraded").Inc()
	case len(turns) == 0:
		result = recap.Minimal(ref)
		m.metrics.RecapOutcomes.WithLabelValues("minimal").Inc()
	default:
		res, err := m.generator.Generate(ctx, turns, ref)
		if err == nil {
			err = recap.Validate(res)
		}
		if err != nil {
			log.Printf("livesession: recap generation failed, degrading: %v", err)
			result = recap.Degraded(turns, err.Error())
			m.metrics.RecapOutcomes.WithLabelValues("degraded").Inc()
		} else {
			result = res
			m.metrics.RecapOutcomes.WithLabelValues("full").Inc()
		}
	}
	m.metrics.ObserveRecapLatency(time.Since(began))
	m.metrics.Latency.Observe(observability.StageRecap, float64(time.Since(began).Milliseconds()))

	rec := store.CompletedSession{
		SessionID:  id,
		PersonaID:  ref.ID,
		Kind:       kind,
		StartedAt:  startedAt,
		EndedAt:    time.Now().UTC(),
		Recap:      result,
		Transcript: privacy.RedactTurns(turns),
	}
	if err := m.store.SaveCompletedSession(ctx, rec); err != nil {
		log.Printf("livesession: persist completed session %s: %v", id, err)
	}

	m.mu.Lock()
	s.state = StateClosed
	m.session = nil
	m.mu.Unlock()

	m.metrics.ActiveSessions.Dec()
	m.metrics.SessionEvents.WithLabelValues("finalized").Inc()
	m.metrics.Latency.Observe(observability.StageFinalize, float64(time.Since(finalizeStart).Milliseconds()))
	emit(notify, Event{Type: EventRecapReady, SessionID: id, Recap: &result})
	emit(notify, Event{Type: EventStateChanged, SessionID: id, State: StateClosed})
}

func emit(notify NotifyFunc, ev Event) {
	if notify != nil {
		notify(ev)
	}
}
