package realtime

import (
	"context"
	"strings"
	"testing"
)

func TestParseDirection(t *testing.T) {
	cases := []struct {
		raw  string
		want Direction
	}{
		{"user", DirectionUser},
		{" User ", DirectionUser},
		{"assistant", DirectionAssistant},
		{"model", DirectionAssistant},
		{"", DirectionAssistant},
	}
	for _, tc := range cases {
		if got := ParseDirection(tc.raw); got != tc.want {
			t.Fatalf("ParseDirection(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestChannelErrorString(t *testing.T) {
	err := &ChannelError{Code: "server_overloaded", Detail: "try later"}
	if got := err.Error(); got != "realtime channel error: server_overloaded: try later" {
		t.Fatalf("Error() = %q", got)
	}
	bare := &ChannelError{Code: "disconnected"}
	if got := bare.Error(); got != "realtime channel error: disconnected" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestLoopbackScriptsExchangePerFrameBurst(t *testing.T) {
	var (
		fragments []string
		finals    []bool
		dirs      []Direction
		chunks    int
	)
	d := NewLoopbackDialer()
	ch, err := d.Dial(context.Background(), "s1", Handlers{
		OnAudioChunk: func(pcm []byte, format string) {
			if len(pcm) == 0 {
				t.Fatalf("empty audio chunk")
			}
			if format != "pcm_24000" {
				t.Fatalf("format = %q, want pcm_24000", format)
			}
			chunks++
		},
		OnTextFragment: func(text string, direction Direction, isFinal bool) {
			fragments = append(fragments, text)
			dirs = append(dirs, direction)
			finals = append(finals, isFinal)
		},
	})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	frame := make([]byte, 320)
	for i := 0; i < loopbackFramesPerExchange-1; i++ {
		if err := ch.SendAudioFrame(frame); err != nil {
			t.Fatalf("SendAudioFrame failed: %v", err)
		}
	}
	if len(fragments) != 0 || chunks != 0 {
		t.Fatalf("exchange emitted early: %d fragments, %d chunks", len(fragments), chunks)
	}

	if err := ch.SendAudioFrame(frame); err != nil {
		t.Fatalf("SendAudioFrame failed: %v", err)
	}
	if got := strings.Join(fragments, " | "); got != "I would like to | practice speaking | Great, let's keep going!" {
		t.Fatalf("fragments = %q", got)
	}
	wantDirs := []Direction{DirectionUser, DirectionUser, DirectionAssistant}
	for i, d := range wantDirs {
		if dirs[i] != d {
			t.Fatalf("dirs[%d] = %v, want %v", i, dirs[i], d)
		}
	}
	wantFinals := []bool{false, true, true}
	for i, f := range wantFinals {
		if finals[i] != f {
			t.Fatalf("finals[%d] = %v, want %v", i, finals[i], f)
		}
	}
	if chunks != 2 {
		t.Fatalf("chunks = %d, want 2", chunks)
	}
}

func TestLoopbackCloseIsOrderlyAndIdempotent(t *testing.T) {
	var closedCalls int
	var closedReason error
	d := NewLoopbackDialer()
	ch, err := d.Dial(context.Background(), "s1", Handlers{
		OnClosed: func(reason error) {
			closedCalls++
			closedReason = reason
		},
	})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if closedCalls != 1 {
		t.Fatalf("OnClosed calls = %d, want 1", closedCalls)
	}
	if closedReason != nil {
		t.Fatalf("close reason = %v, want nil", closedReason)
	}
	if err := ch.SendAudioFrame(make([]byte, 320)); err != nil {
		t.Fatalf("SendAudioFrame after close failed: %v", err)
	}
}
