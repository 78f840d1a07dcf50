package capture

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/parlo-app/parlo/internal/audio"
)

var (
	// ErrPermissionDenied is returned when the platform refuses microphone
	// access.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrUnsupportedPlatform is returned when the platform lacks audio
	// capture APIs.
	ErrUnsupportedPlatform = errors.New("audio capture not supported on this platform")
)

// BlockSource produces raw floating-point mono blocks from the capture
// device at its native rate. The service feeds one from the client
// websocket; tests feed blocks directly.
type BlockSource interface {
	// Start begins block delivery. It fails with ErrPermissionDenied or
	// ErrUnsupportedPlatform (possibly wrapped) when the device cannot be
	// opened. onBlock runs on the source's capture callback.
	Start(onBlock func(samples []float32), onError func(err error)) error

	// SampleRate reports the native capture rate. Valid after Start.
	SampleRate() int

	Stop() error
}

// FrameSink consumes finished capture frames. realtime.Channel satisfies it.
type FrameSink interface {
	SendAudioFrame(frame []byte) error
}

// Recorder streams microphone blocks to the realtime channel while unmuted,
// resampling each block to the fixed capture rate and quantizing to PCM16LE.
// Resampling is stateless per block.
type Recorder struct {
	source  BlockSource
	sink    FrameSink
	isMuted func() bool

	mu       sync.Mutex
	started  bool
	stopped  bool
	onError  func(error)
	dumpPath string
	captured []byte
}

func NewRecorder(source BlockSource, sink FrameSink, isMuted func() bool) *Recorder {
	if isMuted == nil {
		isMuted = func() bool { return false }
	}
	return &Recorder{source: source, sink: sink, isMuted: isMuted}
}

// SetDumpPath enables writing the session's resampled capture audio as a WAV
// file when the recorder stops. Empty disables the dump.
func (r *Recorder) SetDumpPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dumpPath = path
}

// Start requests the capture device and begins streaming frames. onError
// receives mid-stream failures after the recorder has stopped itself.
func (r *Recorder) Start(onError func(error)) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("recorder already started")
	}
	r.started = true
	r.onError = onError
	r.mu.Unlock()

	err := r.source.Start(r.handleBlock, func(err error) {
		r.Stop()
		r.reportError(err)
	})
	if err != nil {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
		return err
	}
	return nil
}

// Stop releases the capture device. It is idempotent and safe to call even
// if Start never ran; a repeated stop is tolerated and logged.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.stopped {
		wasStarted := r.started
		r.mu.Unlock()
		if wasStarted {
			log.Printf("capture: teardown warning: recorder already stopped")
		}
		return
	}
	r.stopped = true
	dumpPath := r.dumpPath
	captured := r.captured
	r.captured = nil
	r.mu.Unlock()

	if err := r.source.Stop(); err != nil {
		log.Printf("capture: source stop failed: %v", err)
	}
	if dumpPath != "" && len(captured) > 0 {
		if err := audio.WriteWAVPCM16LEFile(dumpPath, captured, audio.CaptureRate); err != nil {
			log.Printf("capture: dump write failed: %v", err)
		}
	}
}

func (r *Recorder) handleBlock(samples []float32) {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.mu.Unlock()
		return
	}
	dumping := r.dumpPath != ""
	r.mu.Unlock()

	// Muted blocks are discarded outright: no frame, no error.
	if r.isMuted() || len(samples) == 0 {
		return
	}

	rate := r.source.SampleRate()
	if rate != audio.CaptureRate && rate > 0 {
		samples = audio.ResampleBlock(samples, rate, audio.CaptureRate)
	}
	frame := audio.PCM16LEFromFloat32(samples)
	if len(frame) == 0 {
		return
	}

	if dumping {
		r.mu.Lock()
		if !r.stopped {
			r.captured = append(r.captured, frame...)
		}
		r.mu.Unlock()
	}

	if err := r.sink.SendAudioFrame(frame); err != nil {
		r.Stop()
		r.reportError(fmt.Errorf("send audio frame: %w", err))
	}
}

func (r *Recorder) reportError(err error) {
	r.mu.Lock()
	onError := r.onError
	r.mu.Unlock()
	if onError != nil && err != nil {
		onError(err)
	}
}
