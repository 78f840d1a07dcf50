package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/parlo-app/parlo/internal/recap"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioBlock MessageType = "client_audio_block"
	TypeClientControl    MessageType = "client_control"
	TypeSessionState     MessageType = "session_state"
	TypePlaybackAudio    MessageType = "playback_audio"
	TypePlaybackStop     MessageType = "playback_stop"
	TypeTranscriptTurn   MessageType = "transcript_turn"
	TypeRecapReady       MessageType = "recap_ready"
	TypeErrorEvent       MessageType = "error_event"
)

// Control actions accepted inside a client_control message.
const (
	ActionMute      = "mute"
	ActionUnmute    = "unmute"
	ActionTypedText = "typed_text"
	ActionEnd       = "end"
	ActionCancel    = "cancel"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudioBlock carries one raw microphone block, PCM16LE mono at the
// client device's native rate.
type ClientAudioBlock struct {
	Type        MessageType `json:"type"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

// ClientControl drives the session: mute, unmute, typed text, end, cancel.
// Text is only meaningful for typed_text.
type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
	Text   string      `json:"text,omitempty"`
}

// SessionState announces a lifecycle transition.
type SessionState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
}

// PlaybackAudio schedules one assistant chunk on the client's output clock.
// StartAtMs is an offset on the session playback clock, not wall time.
type PlaybackAudio struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
	StartAtMs   int64       `json:"start_at_ms"`
}

// PlaybackStop tells the client to cut whatever is sounding immediately.
type PlaybackStop struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// TranscriptTurn delivers one committed utterance.
type TranscriptTurn struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Speaker   string      `json:"speaker"`
	Text      string      `json:"text"`
	TurnType  string      `json:"turn_type"`
	TSMs      int64       `json:"ts_ms"`
}

// RecapReady delivers the end-of-session recap, possibly degraded.
type RecapReady struct {
	Type      MessageType  `json:"type"`
	SessionID string       `json:"session_id"`
	Recap     recap.Result `json:"recap"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates one inbound websocket payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioBlock:
		var msg ClientAudioBlock
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_block")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionMute, ActionUnmute, ActionEnd, ActionCancel:
		case ActionTypedText:
			if msg.Text == "" {
				return nil, errors.New("typed_text control requires text")
			}
		default:
			return nil, fmt.Errorf("unknown control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
