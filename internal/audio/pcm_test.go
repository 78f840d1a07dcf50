package audio

import (
	"bytes"
	"math"
	"testing"
	"time"
)

func TestResampleBlockLengthRatio(t *testing.T) {
	cases := []struct {
		name     string
		inLen    int
		from, to int
	}{
		{"48k_to_16k", 4096, 48000, 16000},
		{"44k1_to_16k", 4410, 44100, 16000},
		{"24k_to_16k", 1200, 24000, 16000},
		{"16k_to_24k", 1600, 16000, 24000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := make([]float32, tc.inLen)
			for i := range in {
				in[i] = float32(math.Sin(float64(i) / 37.0))
			}
			out := ResampleBlock(in, tc.from, tc.to)
			want := int(math.Round(float64(tc.inLen) * float64(tc.to) / float64(tc.from)))
			if diff := len(out) - want; diff < -1 || diff > 1 {
				t.Fatalf("len(out) = %d, want %d (±1)", len(out), want)
			}
		})
	}
}

func TestResampleBlockPassthroughAtSameRate(t *testing.T) {
	in := []float32{0.1, -0.2, 0.3, -0.4}
	out := ResampleBlock(in, 16000, 16000)
	if len(out) != len(in) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	// Passthrough must still be a copy, not an alias.
	out[0] = 9
	if in[0] == 9 {
		t.Fatalf("ResampleBlock aliased its input")
	}
}

func TestResampleBlockPreservesConstantSignal(t *testing.T) {
	in := make([]float32, 480)
	for i := range in {
		in[i] = 0.5
	}
	out := ResampleBlock(in, 48000, 16000)
	for i, v := range out {
		if math.Abs(float64(v)-0.5) > 1e-6 {
			t.Fatalf("out[%d] = %v, want 0.5", i, v)
		}
	}
}

func TestPCM16LEFromFloat32Clamps(t *testing.T) {
	out := PCM16LEFromFloat32([]float32{2.0, -2.0, 0})
	if len(out) != 6 {
		t.Fatalf("len(out) = %d, want 6", len(out))
	}
	hi := int16(uint16(out[0]) | uint16(out[1])<<8)
	lo := int16(uint16(out[2]) | uint16(out[3])<<8)
	if hi != 32767 {
		t.Fatalf("clamped high sample = %d, want 32767", hi)
	}
	if lo != -32767 {
		t.Fatalf("clamped low sample = %d, want -32767", lo)
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	in := []float32{0, 0.25, -0.25, 0.99, -0.99}
	back := Float32FromPCM16LE(PCM16LEFromFloat32(in))
	if len(back) != len(in) {
		t.Fatalf("len(back) = %d, want %d", len(back), len(in))
	}
	for i := range in {
		if math.Abs(float64(back[i]-in[i])) > 1.0/16384.0 {
			t.Fatalf("back[%d] = %v, want ~%v", i, back[i], in[i])
		}
	}
}

func TestDurationOfPCM16(t *testing.T) {
	// 16000 mono samples at 16 kHz is one second.
	if d := DurationOfPCM16(32000, CaptureRate); d != time.Second {
		t.Fatalf("DurationOfPCM16 = %s, want 1s", d)
	}
	if d := DurationOfPCM16(0, CaptureRate); d != 0 {
		t.Fatalf("DurationOfPCM16(0) = %s, want 0", d)
	}
}

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := make([]byte, 320)
	wav := EncodeWAVPCM16LE(pcm, CaptureRate)
	if len(wav) != wavHeaderSize+len(pcm) {
		t.Fatalf("len(wav) = %d, want %d", len(wav), wavHeaderSize+len(pcm))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Fatalf("missing RIFF/WAVE markers in header %q", wav[:12])
	}
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, CaptureRate); err != nil {
		t.Fatalf("WriteWAVPCM16LETo() error = %v", err)
	}
	if !bytes.Equal(buf.Bytes(), wav) {
		t.Fatalf("streamed WAV differs from encoded WAV")
	}
}
