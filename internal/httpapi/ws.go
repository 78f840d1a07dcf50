package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parlo-app/parlo/internal/audio"
	"github.com/parlo-app/parlo/internal/capture"
	"github.com/parlo-app/parlo/internal/livesession"
	"github.com/parlo-app/parlo/internal/observability"
	"github.com/parlo-app/parlo/internal/persona"
	"github.com/parlo-app/parlo/internal/playback"
	"github.com/parlo-app/parlo/internal/protocol"
)

// handleSessionWS runs one live voice session over a websocket connection.
// The connection is the session's capture source and playback sink: inbound
// messages carry microphone blocks and control actions, outbound messages
// carry scheduled audio, transcript turns and lifecycle events. Dropping the
// connection finalizes the session.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	ref := persona.Lookup(r.URL.Query().Get("persona_id"))
	kind := strings.TrimSpace(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = "voice"
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	clock := playback.NewWallClock()
	source := newWSBlockSource()
	sink := newWSPlaybackSink(clock, outbound)
	sessionStart := time.Now()
	sink.onFirst = func() {
		s.metrics.Latency.Observe(observability.StageFirstPlayback, float64(time.Since(sessionStart).Milliseconds()))
	}

	sessionID, err := s.facade.StartSession(ctx, ref, kind, livesession.SessionIO{
		Source: source,
		Clock:  clock,
		Sink:   sink,
		Notify: func(ev livesession.Event) { pushEvent(outbound, ev) },
	})
	if err != nil {
		queueMessage(outbound, protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			Code:   startErrorCode(err),
			Detail: err.Error(),
		})
		close(outbound)
		<-writerDone
		return
	}
	sink.setSession(sessionID)

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			queueMessage(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch msg := parsed.(type) {
		case protocol.ClientAudioBlock:
			pcm, err := base64.StdEncoding.DecodeString(msg.PCM16Base64)
			if err != nil {
				queueMessage(outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "invalid_audio_block",
					Detail:    err.Error(),
				})
				continue
			}
			source.push(audio.Float32FromPCM16LE(pcm), msg.SampleRate)
		case protocol.ClientControl:
			s.handleControl(ctx, msg, sessionID, outbound)
		}
	}

	// Client gone. Finalize whatever is still running so the mic, the
	// channel and the recap all settle.
	if s.facade.IsActive() && s.facade.SessionID() == sessionID {
		if err := s.facade.EndSession(context.Background()); err != nil && !errors.Is(err, livesession.ErrNoSession) {
			log.Printf("httpapi: finalize after disconnect: %v", err)
		}
	}
	cancel()
	<-writerDone
}

func (s *Server) handleControl(ctx context.Context, msg protocol.ClientControl, sessionID string, outbound chan<- any) {
	fail := func(code string, err error) {
		queueMessage(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      code,
			Detail:    err.Error(),
		})
	}

	switch msg.Action {
	case protocol.ActionMute:
		s.facade.SetMuted(true)
	case protocol.ActionUnmute:
		s.facade.SetMuted(false)
	case protocol.ActionTypedText:
		if err := s.facade.HandleTypedText(msg.Text); err != nil {
			fail("typed_text_failed", err)
		}
	case protocol.ActionEnd:
		if err := s.facade.EndSession(ctx); err != nil && !errors.Is(err, livesession.ErrNoSession) {
			fail("end_failed", err)
		}
	case protocol.ActionCancel:
		if err := s.facade.CancelPendingSession(); err != nil {
			switch {
			case errors.Is(err, livesession.ErrCancelTooLate):
				fail("cancel_too_late", err)
			case errors.Is(err, livesession.ErrNoSession):
			default:
				fail("cancel_failed", err)
			}
		}
	}
}

func pushEvent(outbound chan<- any, ev livesession.Event) {
	switch ev.Type {
	case livesession.EventStateChanged:
		queueMessage(outbound, protocol.SessionState{
			Type:      protocol.TypeSessionState,
			SessionID: ev.SessionID,
			State:     string(ev.State),
		})
	case livesession.EventTurnCommitted:
		if ev.Turn == nil {
			return
		}
		queueMessage(outbound, protocol.TranscriptTurn{
			Type:      protocol.TypeTranscriptTurn,
			SessionID: ev.SessionID,
			Speaker:   string(ev.Turn.Speaker),
			Text:      ev.Turn.Text,
			TurnType:  string(ev.Turn.TurnType),
			TSMs:      ev.Turn.Timestamp,
		})
	case livesession.EventRecapReady:
		if ev.Recap == nil {
			return
		}
		queueMessage(outbound, protocol.RecapReady{
			Type:      protocol.TypeRecapReady,
			SessionID: ev.SessionID,
			Recap:     *ev.Recap,
		})
	}
}

// queueMessage keeps websocket writes single-threaded and never blocks
// session goroutines; when the outbound queue is saturated the message is
// dropped.
func queueMessage(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		log.Printf("httpapi: outbound queue full, dropping %T", msg)
	}
}

func startErrorCode(err error) string {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, capture.ErrUnsupportedPlatform):
		return "unsupported_platform"
	case errors.Is(err, livesession.ErrSessionActive):
		return "session_active"
	default:
		return "start_failed"
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudioBlock:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.SessionState:
		return m.Type, true
	case protocol.PlaybackAudio:
		return m.Type, true
	case protocol.PlaybackStop:
		return m.Type, true
	case protocol.TranscriptTurn:
		return m.Type, true
	case protocol.RecapReady:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

// wsBlockSource adapts inbound websocket audio blocks to the capture source
// contract. The client reports its device rate per block.
type wsBlockSource struct {
	mu      sync.Mutex
	onBlock func([]float32)
	rate    int
	started bool
	stopped bool
}

func newWSBlockSource() *wsBlockSource {
	return &wsBlockSource{rate: audio.CaptureRate}
}

func (s *wsBlockSource) Start(onBlock func([]float32), _ func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBlock = onBlock
	s.started = true
	return nil
}

func (s *wsBlockSource) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *wsBlockSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *wsBlockSource) push(samples []float32, rate int) {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	if rate > 0 {
		s.rate = rate
	}
	onBlock := s.onBlock
	s.mu.Unlock()
	onBlock(samples)
}

// wsPlaybackSink realizes scheduled playback by streaming timed chunks to
// the client. The client owns the actual output buffer; chunk completion is
// approximated on the server's session clock so the scheduler can chain the
// next chunk.
type wsPlaybackSink struct {
	clock    playback.Clock
	outbound chan<- any

	// onFirst, when set, runs once before the first chunk is queued.
	onFirst func()

	mu        sync.Mutex
	sessionID string
	seq       int
	timer     *time.Timer
	closed    bool
}

func newWSPlaybackSink(clock playback.Clock, outbound chan<- any) *wsPlaybackSink {
	return &wsPlaybackSink{clock: clock, outbound: outbound}
}

func (s *wsPlaybackSink) setSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
}

func (s *wsPlaybackSink) PlayAt(pcm []byte, startAt time.Duration, onDone func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	if s.seq == 1 && s.onFirst != nil {
		s.onFirst()
	}
	msg := protocol.PlaybackAudio{
		Type:        protocol.TypePlaybackAudio,
		SessionID:   s.sessionID,
		Seq:         s.seq,
		Format:      fmt.Sprintf("pcm_%d", audio.PlaybackRate),
		AudioBase64: base64.StdEncoding.EncodeToString(pcm),
		StartAtMs:   startAt.Milliseconds(),
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	delay := startAt + audio.DurationOfPCM16(len(pcm), audio.PlaybackRate) - s.clock.Now()
	if delay < 0 {
		delay = 0
	}
	s.timer = time.AfterFunc(delay, onDone)
	s.mu.Unlock()

	queueMessage(s.outbound, msg)
}

func (s *wsPlaybackSink) Stop() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	id := s.sessionID
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		queueMessage(s.outbound, protocol.PlaybackStop{Type: protocol.TypePlaybackStop, SessionID: id})
	}
}

func (s *wsPlaybackSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return nil
}
