package audio

import (
	"math"
	"time"
)

// Fixed sample rates for the two directions of a live voice session.
// Capture feeds the realtime channel at CaptureRate; assistant playback is
// scheduled at PlaybackRate. The two directions do not share a rate.
const (
	CaptureRate  = 16000
	PlaybackRate = 24000
)

// ResampleBlock converts one captured block from fromRate to toRate using
// linear interpolation. The pass is stateless per block: no resampler state
// is carried across calls, trading minor boundary artifacts for simplicity.
// The output length is round(len(in) * toRate / fromRate).
func ResampleBlock(in []float32, fromRate, toRate int) []float32 {
	if len(in) == 0 || fromRate <= 0 || toRate <= 0 {
		return nil
	}
	if fromRate == toRate {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}

	outLen := int(math.Round(float64(len(in)) * float64(toRate) / float64(fromRate)))
	if outLen <= 0 {
		return nil
	}

	step := float64(fromRate) / float64(toRate)
	out := make([]float32, outLen)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j] + (in[j+1]-in[j])*frac
	}
	return out
}

// PCM16LEFromFloat32 quantizes float samples to signed 16-bit little-endian
// PCM, hard-clamping to [-1.0, 1.0] before conversion.
func PCM16LEFromFloat32(in []float32) []byte {
	out := make([]byte, len(in)*2)
	for i, v := range in {
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		s := int16(v * 32767.0)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// Float32FromPCM16LE decodes signed 16-bit little-endian PCM into float
// samples in [-1.0, 1.0]. A trailing odd byte is ignored.
func Float32FromPCM16LE(in []byte) []float32 {
	n := len(in) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(uint16(in[i*2]) | uint16(in[i*2+1])<<8)
		out[i] = float32(s) / 32768.0
	}
	return out
}

// DurationOfPCM16 returns the play time of a mono PCM16 payload.
func DurationOfPCM16(byteLen, sampleRate int) time.Duration {
	if byteLen <= 0 || sampleRate <= 0 {
		return 0
	}
	samples := byteLen / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
