package realtime

import (
	"context"
	"fmt"
	"strings"
)

// Direction tags which side of the conversation a transcription fragment
// belongs to.
type Direction string

const (
	DirectionUser      Direction = "user"
	DirectionAssistant Direction = "assistant"
)

// Handlers receives inbound events from a realtime channel. Callbacks are
// invoked sequentially from the channel's read loop; a nil callback is
// skipped. Registration happens once, at dial time.
type Handlers struct {
	// OnAudioChunk delivers one assistant audio chunk. format is a hint
	// such as "pcm_24000"; pcm is the raw payload.
	OnAudioChunk func(pcm []byte, format string)

	// OnTextFragment delivers one incremental transcription fragment for
	// either direction. isFinal marks an upstream-asserted utterance end.
	OnTextFragment func(text string, direction Direction, isFinal bool)

	// OnInterrupted signals that the assistant's in-flight response was cut
	// off (user barge-in or upstream cancellation).
	OnInterrupted func()

	// OnClosed reports that the channel is gone. reason is nil on an
	// orderly local close and a *ChannelError otherwise.
	OnClosed func(reason error)
}

// Channel is the opaque bidirectional streaming connection to the
// conversational model. The wire protocol behind it is not this package's
// concern beyond these primitives.
type Channel interface {
	// SendAudioFrame pushes one capture frame (PCM16LE mono at the capture
	// rate) upstream. It must not block on network round-trips.
	SendAudioFrame(frame []byte) error
	Close() error
}

// Dialer opens a channel for one session.
type Dialer interface {
	Dial(ctx context.Context, sessionID string, h Handlers) (Channel, error)
}

// ChannelError is a mid-session realtime channel failure.
type ChannelError struct {
	Code      string
	Detail    string
	Retryable bool
}

func (e *ChannelError) Error() string {
	detail := strings.TrimSpace(e.Detail)
	if detail == "" {
		return fmt.Sprintf("realtime channel error: %s", e.Code)
	}
	return fmt.Sprintf("realtime channel error: %s: %s", e.Code, detail)
}

// ParseDirection maps a wire direction tag onto a Direction, defaulting to
// the assistant side for unknown tags so text is surfaced rather than lost.
func ParseDirection(raw string) Direction {
	if strings.EqualFold(strings.TrimSpace(raw), string(DirectionUser)) {
		return DirectionUser
	}
	return DirectionAssistant
}
