package livesession

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parlo-app/parlo/internal/capture"
	"github.com/parlo-app/parlo/internal/observability"
	"github.com/parlo-app/parlo/internal/persona"
	"github.com/parlo-app/parlo/internal/playback"
	"github.com/parlo-app/parlo/internal/realtime"
	"github.com/parlo-app/parlo/internal/textcoord"
	"github.com/parlo-app/parlo/internal/transcript"
)

// SessionIO bundles the per-session platform endpoints the caller provides:
// where microphone blocks come from, where scheduled audio goes, and where
// session events are pushed. A nil Clock falls back to the wall clock.
type SessionIO struct {
	Source capture.BlockSource
	Clock  playback.Clock
	Sink   playback.Sink
	Notify NotifyFunc
}

// FacadeConfig carries the tunables the facade hands to its collaborators.
type FacadeConfig struct {
	UserFlushDelay      time.Duration
	AssistantFlushDelay time.Duration
	CaptureDumpPath     string
}

// Facade is the single entry point UI collaborators use to drive voice
// sessions. It wires the recorder, playback scheduler, text coordinator and
// realtime channel together per session and translates channel events into
// calls on them. All methods are safe for concurrent use.
type Facade struct {
	manager *Manager
	dialer  realtime.Dialer
	cfg     FacadeConfig
	metrics *observability.Metrics

	muted atomic.Bool

	mu        sync.Mutex
	recorder  *capture.Recorder
	scheduler *playback.Scheduler
	texts     *textcoord.Coordinator
	channel   realtime.Channel
}

func NewFacade(manager *Manager, dialer realtime.Dialer, cfg FacadeConfig, metrics *observability.Metrics) *Facade {
	return &Facade{manager: manager, dialer: dialer, cfg: cfg, metrics: metrics}
}

// StartSession opens a new session for the persona: reserves the session
// slot, dials the realtime channel, starts capture and returns the session
// id. Failures release everything acquired so far; capture errors such as
// capture.ErrPermissionDenied pass through unwrapped for the caller to
// classify.
func (f *Facade) StartSession(ctx context.Context, ref persona.Ref, kind string, io SessionIO) (string, error) {
	id, err := f.manager.Begin(ref, kind, io.Notify)
	if err != nil {
		return "", err
	}
	f.muted.Store(false)

	clock := io.Clock
	if clock == nil {
		clock = playback.NewWallClock()
	}
	scheduler := playback.NewScheduler(clock, io.Sink, f.IsMuted)
	texts := textcoord.New(f.cfg.UserFlushDelay, f.cfg.AssistantFlushDelay, f.commitUtterance)

	handlers := realtime.Handlers{
		OnAudioChunk: func(pcm []byte, format string) {
			f.manager.MarkActive()
			scheduler.Enqueue(pcm, format)
		},
		OnTextFragment: func(text string, direction realtime.Direction, isFinal bool) {
			f.manager.MarkActive()
			texts.HandleFragment(direction, text, isFinal)
		},
		OnInterrupted: func() {
			f.bargeIn(scheduler, texts)
		},
		OnClosed: func(reason error) {
			f.channelClosed(reason)
		},
	}

	channel, err := f.dialer.Dial(ctx, id, handlers)
	if err != nil {
		scheduler.Cleanup()
		if cErr := f.manager.Cancel(); cErr != nil {
			log.Printf("livesession: releasing session after dial failure: %v", cErr)
		}
		return "", fmt.Errorf("open realtime channel: %w", err)
	}

	recorder := capture.NewRecorder(io.Source, channel, f.IsMuted)
	if f.cfg.CaptureDumpPath != "" {
		recorder.SetDumpPath(f.cfg.CaptureDumpPath)
	}

	f.manager.BindTeardown(Teardown{
		StopCapture:     recorder.Stop,
		CleanupPlayback: scheduler.Cleanup,
		FlushText:       texts.FlushAll,
		CloseChannel:    channel.Close,
	})

	if err := recorder.Start(f.captureFailed); err != nil {
		if cErr := f.manager.Cancel(); cErr != nil {
			log.Printf("livesession: releasing session after capture failure: %v", cErr)
		}
		return "", err
	}

	f.mu.Lock()
	f.recorder, f.scheduler, f.texts, f.channel = recorder, scheduler, texts, channel
	f.mu.Unlock()
	return id, nil
}

// EndSession finalizes the current session and blocks until the recap has
// been produced and persisted.
func (f *Facade) EndSession(ctx context.Context) error {
	err := f.manager.End(ctx)
	if err == nil {
		f.clearComponents()
	}
	return err
}

// CancelPendingSession discards a session that has produced no transcript
// yet. Once turns exist the session must be ended instead.
func (f *Facade) CancelPendingSession() error {
	err := f.manager.Cancel()
	if err == nil {
		f.clearComponents()
	}
	return err
}

// SetMuted gates both directions of audio: capture frames stop flowing
// upstream and incoming playback chunks are dropped. Already queued audio is
// unaffected, as is text.
func (f *Facade) SetMuted(muted bool) {
	f.muted.Store(muted)
}

func (f *Facade) IsMuted() bool { return f.muted.Load() }

// IsActive reports whether a session is in progress.
func (f *Facade) IsActive() bool { return f.manager.InProgress() }

// SessionID returns the in-progress session's id, or empty.
func (f *Facade) SessionID() string { return f.manager.SessionID() }

// HandleTypedText commits a typed user message into the running session's
// transcript, bypassing the speech debounce.
func (f *Facade) HandleTypedText(text string) error {
	f.mu.Lock()
	texts := f.texts
	f.mu.Unlock()
	if texts == nil || !f.manager.InProgress() {
		return ErrNoSession
	}
	texts.HandleTypedText(text)
	return nil
}

// commitUtterance maps flushed utterances onto transcript turns.
func (f *Facade) commitUtterance(u textcoord.CommittedUtterance) {
	speaker := transcript.SpeakerUserSpoken
	switch {
	case u.Typed:
		speaker = transcript.SpeakerUserTyped
	case u.Direction == realtime.DirectionAssistant:
		speaker = transcript.SpeakerAssistant
	}
	f.manager.AddTurn(speaker, u.Text, transcript.TurnMessage)
}

// bargeIn cuts the assistant off. Queued chunks are discarded and the
// assistant's partial text buffer is reset so the never-finished utterance
// stays out of the transcript.
func (f *Facade) bargeIn(scheduler *playback.Scheduler, texts *textcoord.Coordinator) {
	scheduler.StopCurrent()
	scheduler.ClearQueue()
	texts.ResetOnInterruption(realtime.DirectionAssistant)
	f.metrics.BargeIns.Inc()
	f.metrics.Latency.ObserveIndicator("barge_in")
}

func (f *Facade) channelClosed(reason error) {
	if reason == nil {
		return
	}
	log.Printf("livesession: realtime channel lost: %v", reason)
	f.manager.EndWithFailure(context.Background(), reason.Error())
	f.clearComponents()
}

func (f *Facade) captureFailed(err error) {
	log.Printf("livesession: capture failed mid-session: %v", err)
	f.manager.EndWithFailure(context.Background(), err.Error())
	f.clearComponents()
}

func (f *Facade) clearComponents() {
	f.mu.Lock()
	f.recorder, f.scheduler, f.texts, f.channel = nil, nil, nil, nil
	f.mu.Unlock()
}
