package transcript

// Speaker tags who produced a transcript turn.
type Speaker string

const (
	SpeakerUserSpoken Speaker = "user-spoken"
	SpeakerUserTyped  Speaker = "user-typed"
	SpeakerAssistant  Speaker = "ai-spoken"
	SpeakerSystem     Speaker = "system"
)

// TurnType distinguishes conversational messages from activity events.
type TurnType string

const (
	TurnMessage       TurnType = "message"
	TurnActivityEvent TurnType = "activity-event"
)

// Turn is one committed utterance in a session transcript. Raw transcription
// fragments are transient and never stored; only flushed utterances become
// turns, appended in flush order.
type Turn struct {
	Speaker   Speaker  `json:"speaker"`
	Text      string   `json:"text"`
	TurnType  TurnType `json:"turn_type"`
	Timestamp int64    `json:"ts_ms"`
}
