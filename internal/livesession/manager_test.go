package livesession

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/parlo-app/parlo/internal/observability"
	"github.com/parlo-app/parlo/internal/persona"
	"github.com/parlo-app/parlo/internal/recap"
	"github.com/parlo-app/parlo/internal/store"
	"github.com/parlo-app/parlo/internal/transcript"
)

var metricsSeq atomic.Int64

func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("test_livesession_%d", metricsSeq.Add(1)))
}

type fakeGenerator struct {
	result recap.Result
	err    error
	calls  int
}

func (g *fakeGenerator) Generate(_ context.Context, _ []transcript.Turn, _ persona.Ref) (recap.Result, error) {
	g.calls++
	if g.err != nil {
		return recap.Result{}, g.err
	}
	if g.result.Summary == "" {
		return recap.Result{Summary: "session recap"}, nil
	}
	return g.result, nil
}

type fakeSessionStore struct {
	saved []store.CompletedSession
	err   error
}

func (s *fakeSessionStore) SaveCompletedSession(_ context.Context, rec store.CompletedSession) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, rec)
	return nil
}

func (s *fakeSessionStore) RecentSessions(context.Context, int) ([]store.CompletedSession, error) {
	return nil, nil
}

func (s *fakeSessionStore) Close() error { return nil }

func newTestManager() (*Manager, *fakeGenerator, *fakeSessionStore) {
	gen := &fakeGenerator{}
	st := &fakeSessionStore{}
	return NewManager(gen, st, newTestMetrics()), gen, st
}

func TestManagerSingleSession(t *testing.T) {
	m, _, _ := newTestManager()
	ref := persona.Lookup("amelie")

	id, err := m.Begin(ref, "voice", nil)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if id == "" {
		t.Fatalf("Begin() returned empty session id")
	}
	if _, err := m.Begin(ref, "voice", nil); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second Begin() error = %v, want ErrSessionActive", err)
	}

	if err := m.End(context.Background()); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := m.Begin(ref, "voice", nil); err != nil {
		t.Fatalf("Begin() after End() error = %v", err)
	}
}

func TestManagerMarkActiveStampsStart(t *testing.T) {
	m, _, st := newTestManager()
	if _, err := m.Begin(persona.Lookup("diego"), "voice", nil); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if got := m.State(); got != StatePending {
		t.Fatalf("State() = %v, want %v", got, StatePending)
	}

	m.MarkActive()
	if got := m.State(); got != StateActive {
		t.Fatalf("State() = %v, want %v", got, StateActive)
	}
	m.MarkActive() // repeated signals are no-ops

	m.AddTurn(transcript.SpeakerUserSpoken, "hola", transcript.TurnMessage)
	if err := m.End(context.Background()); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if len(st.saved) != 1 {
		t.Fatalf("saved sessions = %d, want 1", len(st.saved))
	}
	if st.saved[0].StartedAt.IsZero() {
		t.Fatalf("StartedAt not stamped on activation")
	}
}

func TestManagerEndRunsTeardownAndPersists(t *testing.T) {
	m, gen, st := newTestManager()
	if _, err := m.Begin(persona.Lookup("amelie"), "voice", nil); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	var order []string
	m.BindTeardown(Teardown{
		StopCapture:     func() { order = append(order, "capture") },
		CleanupPlayback: func() { order = append(order, "playback") },
		FlushText: func() {
			order = append(order, "flush")
			m.AddTurn(transcript.SpeakerUserSpoken, "flushed at the end", transcript.TurnMessage)
		},
		CloseChannel: func() error { order = append(order, "channel"); return nil },
	})

	m.AddTurn(transcript.SpeakerUserSpoken, "bonjour", transcript.TurnMessage)
	m.AddTurn(transcript.SpeakerAssistant, "bonjour, ça va?", transcript.TurnMessage)

	if err := m.End(context.Background()); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	want := []string{"capture", "playback", "flush", "channel"}
	if len(order) != len(want) {
		t.Fatalf("teardown order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("teardown order = %v, want %v", order, want)
		}
	}

	if gen.calls != 1 {
		t.Fatalf("generator calls = %d, want 1", gen.calls)
	}
	if len(st.saved) != 1 {
		t.Fatalf("saved sessions = %d, want 1", len(st.saved))
	}
	rec := st.saved[0]
	if len(rec.Transcript) != 3 {
		t.Fatalf("transcript turns = %d, want 3 (incl. final flush)", len(rec.Transcript))
	}
	if rec.Recap.Summary != "session recap" {
		t.Fatalf("Recap.Summary = %q", rec.Recap.Summary)
	}
	if m.InProgress() {
		t.Fatalf("InProgress() = true after End()")
	}
}

func TestManagerEmptyTranscriptGetsMinimalRecap(t *testing.T) {
	m, gen, st := newTestManager()
	if _, err := m.Begin(persona.Lookup("hana"), "voice", nil); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := m.End(context.Background()); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("generator calls = %d, want 0 for empty transcript", gen.calls)
	}
	if len(st.saved) != 1 {
		t.Fatalf("saved sessions = %d, want 1", len(st.saved))
	}
	rec := st.saved[0]
	if rec.Recap.Degraded {
		t.Fatalf("minimal recap marked degraded")
	}
	if !strings.Contains(rec.Recap.Summary, "No conversation") {
		t.Fatalf("Recap.Summary = %q, want minimal wording", rec.Recap.Summary)
	}
}

func TestManagerGeneratorFailureDegrades(t *testing.T) {
	m, gen, st := newTestManager()
	gen.err = errors.New("recap backend down")
	if _, err := m.Begin(persona.Lookup("amelie"), "voice", nil); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	m.AddTurn(transcript.SpeakerUserSpoken, "salut", transcript.TurnMessage)

	if err := m.End(context.Background()); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	rec := st.saved[0]
	if !rec.Recap.Degraded {
		t.Fatalf("Recap.Degraded = false, want true")
	}
	if !strings.Contains(rec.Recap.FailureReason, "recap backend down") {
		t.Fatalf("FailureReason = %q", rec.Recap.FailureReason)
	}
	if len(rec.Transcript) != 1 {
		t.Fatalf("degraded recap must keep the transcript, turns = %d", len(rec.Transcript))
	}
}

func TestManagerEndWithFailureSkipsGenerator(t *testing.T) {
	m, gen, st := newTestManager()
	if _, err := m.Begin(persona.Lookup("diego"), "voice", nil); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	m.AddTurn(transcript.SpeakerUserSpoken, "hola", transcript.TurnMessage)

	m.EndWithFailure(context.Background(), "upstream disconnected")

	if gen.calls != 0 {
		t.Fatalf("generator calls = %d, want 0 on channel failure", gen.calls)
	}
	rec := st.saved[0]
	if !rec.Recap.Degraded || rec.Recap.FailureReason != "upstream disconnected" {
		t.Fatalf("recap = %+v, want degraded with reason", rec.Recap)
	}
	if m.InProgress() {
		t.Fatalf("InProgress() = true after failure end")
	}
}

func TestManagerCancelDiscardsSilently(t *testing.T) {
	m, gen, st := newTestManager()
	if _, err := m.Begin(persona.Lookup("amelie"), "voice", nil); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	closed := 0
	m.BindTeardown(Teardown{CloseChannel: func() error { closed++; return nil }})

	if err := m.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if closed != 1 {
		t.Fatalf("channel closes = %d, want 1", closed)
	}
	if gen.calls != 0 || len(st.saved) != 0 {
		t.Fatalf("cancel must not generate or persist anything (calls=%d saved=%d)", gen.calls, len(st.saved))
	}
	if _, err := m.Begin(persona.Lookup("amelie"), "voice", nil); err != nil {
		t.Fatalf("Begin() after Cancel() error = %v", err)
	}
}

func TestManagerCancelTooLate(t *testing.T) {
	m, _, _ := newTestManager()
	if _, err := m.Begin(persona.Lookup("amelie"), "voice", nil); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	m.AddTurn(transcript.SpeakerUserSpoken, "bonjour", transcript.TurnMessage)
	if err := m.Cancel(); !errors.Is(err, ErrCancelTooLate) {
		t.Fatalf("Cancel() error = %v, want ErrCancelTooLate", err)
	}
}

func TestManagerEndWithoutSession(t *testing.T) {
	m, _, _ := newTestManager()
	if err := m.End(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("End() error = %v, want ErrNoSession", err)
	}
	if err := m.Cancel(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Cancel() error = %v, want ErrNoSession", err)
	}
}

func TestManagerTurnAfterCloseDropped(t *testing.T) {
	m, _, st := newTestManager()
	if _, err := m.Begin(persona.Lookup("amelie"), "voice", nil); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := m.End(context.Background()); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	m.AddTurn(transcript.SpeakerUserSpoken, "late straggler", transcript.TurnMessage)

	if _, err := m.Begin(persona.Lookup("amelie"), "voice", nil); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if got := m.TurnCount(); got != 0 {
		t.Fatalf("TurnCount() = %d, want 0 for fresh session", got)
	}
	if len(st.saved) != 1 {
		t.Fatalf("saved sessions = %d, want 1", len(st.saved))
	}
}

func TestManagerPersistsRedactedTranscript(t *testing.T) {
	m, _, st := newTestManager()
	if _, err := m.Begin(persona.Lookup("amelie"), "voice", nil); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	m.AddTurn(transcript.SpeakerUserSpoken, "write to sam@example.com please", transcript.TurnMessage)
	if err := m.End(context.Background()); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	got := st.saved[0].Transcript[0].Text
	if strings.Contains(got, "sam@example.com") || !strings.Contains(got, "[REDACTED_EMAIL]") {
		t.Fatalf("persisted text = %q, want email redacted", got)
	}
}

func TestManagerEmitsLifecycleEvents(t *testing.T) {
	m, _, _ := newTestManager()
	var events []EventType
	notify := func(ev Event) { events = append(events, ev.Type) }

	if _, err := m.Begin(persona.Lookup("amelie"), "voice", notify); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	m.MarkActive()
	m.AddTurn(transcript.SpeakerUserSpoken, "bonjour", transcript.TurnMessage)
	if err := m.End(context.Background()); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	want := []EventType{
		EventStateChanged, // pending
		EventStateChanged, // active
		EventTurnCommitted,
		EventStateChanged, // finalizing
		EventRecapReady,
		EventStateChanged, // closed
	}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}
