package playback

import (
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parlo-app/parlo/internal/audio"
)

// OverlapTolerance is the negative scheduling overlap between consecutive
// chunks. It masks output-clock jitter without an audible click.
const OverlapTolerance = 15 * time.Millisecond

// Clock reports the current position of the output audio clock.
type Clock interface {
	Now() time.Duration
}

// Sink realizes scheduled playback against the output clock. The service
// implementation streams timed PCM to the client; tests use a fake.
type Sink interface {
	// PlayAt schedules pcm (PCM16LE mono at audio.PlaybackRate) to begin at
	// startAt on the output clock. onDone must be invoked once the chunk
	// finishes sounding; it is never invoked after Stop. The scheduler calls
	// PlayAt with its internal lock held, so PlayAt must not call back into
	// the scheduler and must not invoke onDone before returning.
	PlayAt(pcm []byte, startAt time.Duration, onDone func())

	// Stop halts whatever is currently sounding immediately. Hard cut, no
	// fade.
	Stop()

	Close() error
}

// Scheduler plays a stream of assistant audio chunks gapless and in order,
// and cuts playback instantly on barge-in. Chunks are scheduled
// back-to-back on the output clock rather than polled on the wall clock;
// only the sounding chunk lives in the sink, the rest wait in the queue so
// ClearQueue can discard them without touching the current sound.
type Scheduler struct {
	clock   Clock
	sink    Sink
	isMuted func() bool

	mu      sync.Mutex
	queue   [][]byte
	playing bool
	endAt   time.Duration
	gen     int
	closed  bool
}

// NewScheduler wires the scheduler to its output clock and sink. isMuted is
// polled before every incoming chunk; while true, chunks are dropped without
// clearing what is already queued.
func NewScheduler(clock Clock, sink Sink, isMuted func() bool) *Scheduler {
	if isMuted == nil {
		isMuted = func() bool { return false }
	}
	return &Scheduler{clock: clock, sink: sink, isMuted: isMuted}
}

// Enqueue decodes one assistant chunk and schedules it. If nothing is
// playing it starts immediately; otherwise it begins exactly when the
// previous chunk ends, minus OverlapTolerance.
func (s *Scheduler) Enqueue(pcm []byte, format string) {
	if len(pcm) == 0 || s.isMuted() {
		return
	}
	decoded := decodeChunk(pcm, format)
	if len(decoded) == 0 {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.playing {
		s.queue = append(s.queue, decoded)
		s.mu.Unlock()
		return
	}
	startAt := s.clock.Now()
	play := s.beginChunkLocked(decoded, startAt)
	s.mu.Unlock()
	play()
}

// beginChunkLocked updates bookkeeping for a chunk starting at startAt and
// returns the deferred sink call. The closure re-takes the lock and holds it
// through PlayAt, re-checking the generation first: a barge-in landing
// between the bookkeeping and the handoff must win, and nothing may reach
// the sink after its Stop.
func (s *Scheduler) beginChunkLocked(pcm []byte, startAt time.Duration) func() {
	s.playing = true
	s.endAt = startAt + audio.DurationOfPCM16(len(pcm), audio.PlaybackRate)
	gen := s.gen
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.gen || s.closed {
			return
		}
		s.sink.PlayAt(pcm, startAt, func() { s.chunkDone(gen) })
	}
}

func (s *Scheduler) chunkDone(gen int) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) == 0 {
		s.playing = false
		s.mu.Unlock()
		return
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	play := s.beginChunkLocked(next, s.endAt-OverlapTolerance)
	s.mu.Unlock()
	play()
}

// ClearQueue discards all not-yet-played chunks. The currently sounding
// chunk is unaffected.
func (s *Scheduler) ClearQueue() {
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
}

// StopCurrent halts the sounding chunk immediately. Used for barge-in; pair
// with ClearQueue so nothing stale plays afterwards.
func (s *Scheduler) StopCurrent() {
	s.mu.Lock()
	if !s.playing || s.closed {
		s.mu.Unlock()
		return
	}
	s.playing = false
	s.gen++
	s.mu.Unlock()
	s.sink.Stop()
}

// QueueLen reports the number of chunks waiting behind the current one.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Playing reports whether a chunk is currently sounding or scheduled.
func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Cleanup stops the current sound, clears the queue and tears down the
// output sink. Idempotent; a repeated cleanup is tolerated and logged.
func (s *Scheduler) Cleanup() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		log.Printf("playback: teardown warning: scheduler already cleaned up")
		return
	}
	s.closed = true
	wasPlaying := s.playing
	s.playing = false
	s.gen++
	s.queue = nil
	s.mu.Unlock()

	if wasPlaying {
		s.sink.Stop()
	}
	if err := s.sink.Close(); err != nil {
		log.Printf("playback: sink close failed: %v", err)
	}
}

// decodeChunk converts an incoming chunk to PCM16LE at the playback rate.
// Format hints look like "pcm_24000"; an unknown or empty hint is assumed to
// already be at the playback rate.
func decodeChunk(pcm []byte, format string) []byte {
	rate := rateFromFormat(format)
	if rate == audio.PlaybackRate || rate <= 0 {
		return pcm
	}
	samples := audio.Float32FromPCM16LE(pcm)
	return audio.PCM16LEFromFloat32(audio.ResampleBlock(samples, rate, audio.PlaybackRate))
}

func rateFromFormat(format string) int {
	format = strings.ToLower(strings.TrimSpace(format))
	if !strings.HasPrefix(format, "pcm_") {
		return 0
	}
	rate, err := strconv.Atoi(strings.TrimPrefix(format, "pcm_"))
	if err != nil {
		return 0
	}
	return rate
}

// WallClock is the default output clock: monotonic time since creation.
type WallClock struct {
	start time.Time
}

func NewWallClock() *WallClock { return &WallClock{start: time.Now()} }

func (c *WallClock) Now() time.Duration { return time.Since(c.start) }
