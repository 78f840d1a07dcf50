package realtime

import (
	"context"
	"math"
	"sync"

	"github.com/parlo-app/parlo/internal/audio"
)

// LoopbackDialer is a local stand-in for the realtime endpoint, used when no
// gateway URL is configured. It scripts a short tutor exchange per burst of
// captured frames so the full pipeline can run without network access.
type LoopbackDialer struct{}

func NewLoopbackDialer() *LoopbackDialer { return &LoopbackDialer{} }

const loopbackFramesPerExchange = 24

func (d *LoopbackDialer) Dial(_ context.Context, _ string, h Handlers) (Channel, error) {
	return &loopbackChannel{handlers: h}, nil
}

type loopbackChannel struct {
	mu       sync.Mutex
	handlers Handlers
	frames   int
	closed   bool
}

func (c *loopbackChannel) SendAudioFrame(frame []byte) error {
	c.mu.Lock()
	if c.closed || len(frame) == 0 {
		c.mu.Unlock()
		return nil
	}
	c.frames++
	emit := c.frames%loopbackFramesPerExchange == 0
	c.mu.Unlock()

	if !emit {
		return nil
	}

	if c.handlers.OnTextFragment != nil {
		c.handlers.OnTextFragment("I would like to", DirectionUser, false)
		c.handlers.OnTextFragment("practice speaking", DirectionUser, true)
		c.handlers.OnTextFragment("Great, let's keep going!", DirectionAssistant, true)
	}
	if c.handlers.OnAudioChunk != nil {
		c.handlers.OnAudioChunk(loopbackTone(220, 120), "pcm_24000")
		c.handlers.OnAudioChunk(loopbackTone(330, 80), "pcm_24000")
	}
	return nil
}

func (c *loopbackChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.handlers.OnClosed != nil {
		c.handlers.OnClosed(nil)
	}
	return nil
}

// loopbackTone renders durationMS of a quiet sine tone as PCM16LE mono at
// the playback rate.
func loopbackTone(freqHz, durationMS int) []byte {
	samples := audio.PlaybackRate * durationMS / 1000
	out := make([]float32, samples)
	for i := range out {
		t := float64(i) / float64(audio.PlaybackRate)
		out[i] = float32(0.2 * math.Sin(2*math.Pi*float64(freqHz)*t))
	}
	return audio.PCM16LEFromFloat32(out)
}
