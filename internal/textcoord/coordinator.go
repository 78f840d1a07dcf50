package textcoord

import (
	"strings"
	"sync"
	"time"

	"github.com/parlo-app/parlo/internal/realtime"
)

// CommittedUtterance is one complete utterance leaving the coordinator.
// Text is never empty.
type CommittedUtterance struct {
	Direction realtime.Direction
	Text      string
	Typed     bool
	At        time.Time
}

// CommitFunc receives committed utterances in flush order.
type CommitFunc func(u CommittedUtterance)

// Coordinator turns streams of incremental transcription fragments into
// discrete utterances. Each direction owns an independent buffer and
// debounce timer: a pause in fragments is treated as utterance completion,
// and an upstream final flag flushes synchronously. At most one pending
// timer exists per direction.
//
// Utterances are committed while the coordinator's lock is held, so the
// commit callback sees them in flush order even when a timer flush and a
// final-fragment flush race on different goroutines. The callback must not
// call back into the coordinator.
type Coordinator struct {
	commit         CommitFunc
	userDelay      time.Duration
	assistantDelay time.Duration

	mu   sync.Mutex
	bufs map[realtime.Direction]*dirBuffer
}

type dirBuffer struct {
	pending string
	timer   *time.Timer
}

func New(userDelay, assistantDelay time.Duration, commit CommitFunc) *Coordinator {
	return &Coordinator{
		commit:         commit,
		userDelay:      userDelay,
		assistantDelay: assistantDelay,
		bufs: map[realtime.Direction]*dirBuffer{
			realtime.DirectionUser:      {},
			realtime.DirectionAssistant: {},
		},
	}
}

// HandleFragment appends one incremental fragment to the direction's buffer
// and re-arms its debounce timer. isFinal flushes immediately instead.
func (c *Coordinator) HandleFragment(direction realtime.Direction, text string, isFinal bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.buffer(direction)
	b.pending += text + " "
	b.cancelTimer()

	if isFinal {
		c.deliver(c.flushLocked(direction))
		return
	}
	b.timer = time.AfterFunc(c.delayFor(direction), func() { c.Flush(direction) })
}

// Flush commits the direction's buffered text as one utterance. Idempotent:
// with nothing buffered it commits nothing. Any pending timer is cancelled.
func (c *Coordinator) Flush(direction realtime.Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliver(c.flushLocked(direction))
}

// FlushAll force-flushes both directions, user speech first. Used at
// session finalization.
func (c *Coordinator) FlushAll() {
	c.Flush(realtime.DirectionUser)
	c.Flush(realtime.DirectionAssistant)
}

// ResetOnInterruption discards the direction's partial buffer without
// committing. Used when assistant playback is cut off by barge-in: the
// utterance never completed, so it does not belong in the transcript.
func (c *Coordinator) ResetOnInterruption(direction realtime.Direction) {
	c.mu.Lock()
	b := c.buffer(direction)
	b.cancelTimer()
	b.pending = ""
	c.mu.Unlock()
}

// HandleTypedText commits a typed message as its own utterance immediately.
// Typed text has no fragmentation concern, so buffering is bypassed.
func (c *Coordinator) HandleTypedText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliver(&CommittedUtterance{
		Direction: realtime.DirectionUser,
		Text:      text,
		Typed:     true,
		At:        time.Now(),
	})
}

func (c *Coordinator) flushLocked(direction realtime.Direction) *CommittedUtterance {
	b := c.buffer(direction)
	b.cancelTimer()
	text := strings.TrimSpace(b.pending)
	b.pending = ""
	if direction == realtime.DirectionAssistant {
		text = SanitizeTranscript(text)
	}
	if text == "" {
		return nil
	}
	return &CommittedUtterance{Direction: direction, Text: text, At: time.Now()}
}

// deliver runs with c.mu held so utterances reach the callback in flush
// order.
func (c *Coordinator) deliver(u *CommittedUtterance) {
	if u != nil && c.commit != nil {
		c.commit(*u)
	}
}

func (c *Coordinator) buffer(direction realtime.Direction) *dirBuffer {
	b, ok := c.bufs[direction]
	if !ok {
		b = &dirBuffer{}
		c.bufs[direction] = b
	}
	return b
}

func (c *Coordinator) delayFor(direction realtime.Direction) time.Duration {
	if direction == realtime.DirectionAssistant {
		return c.assistantDelay
	}
	return c.userDelay
}

func (b *dirBuffer) cancelTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
