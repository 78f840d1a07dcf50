package main

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parlo-app/parlo/internal/audio"
	"github.com/parlo-app/parlo/internal/protocol"
)

// parloprobe drives a live session against a running parlo server: it
// streams microphone audio over the websocket at realtime pacing, reports
// time to first scheduled playback, prints committed transcript turns and
// waits for the recap.

type options struct {
	baseURL   string
	personaID string
	kind      string
	wavPath   string
	turns     int
	chunkMS   int
	pacing    float64
	timeout   time.Duration
	verbose   bool
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "parloprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parloprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var timeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "parlo base URL")
	flag.StringVar(&cfg.personaID, "persona-id", "amelie", "tutor persona for the session")
	flag.StringVar(&cfg.kind, "kind", "voice", "session kind")
	flag.StringVar(&cfg.wavPath, "wav", "", "optional PCM16 WAV file to stream instead of a synthetic tone")
	flag.IntVar(&cfg.turns, "turns", 2, "number of utterances to replay")
	flag.IntVar(&cfg.chunkMS, "chunk-ms", 20, "audio block size in milliseconds")
	flag.Float64Var(&cfg.pacing, "pacing", 1.0, "block pacing multiplier (1.0=realtime, 2.0=2x)")
	flag.IntVar(&timeoutMS, "timeout-ms", 30000, "overall probe timeout in milliseconds")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print session events")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 1000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,1000]")
	}
	if cfg.pacing <= 0 {
		return options{}, fmt.Errorf("pacing must be > 0")
	}
	if timeoutMS < 1000 {
		timeoutMS = 1000
	}
	cfg.timeout = time.Duration(timeoutMS) * time.Millisecond
	return cfg, nil
}

type probeEvents struct {
	firstPlayback chan time.Duration
	recap         chan json.RawMessage
	closed        chan struct{}
	readErr       chan error
}

func run(cfg options) error {
	pcm, sampleRate, err := loadAudio(cfg.wavPath)
	if err != nil {
		return err
	}

	wsURL, err := probeWSURL(cfg.baseURL, cfg.personaID, cfg.kind)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	ev := &probeEvents{
		firstPlayback: make(chan time.Duration, 1),
		recap:         make(chan json.RawMessage, 1),
		closed:        make(chan struct{}, 1),
		readErr:       make(chan error, 1),
	}
	start := time.Now()
	go readLoop(conn, start, ev, cfg.verbose)

	deadline := time.Now().Add(cfg.timeout)
	seq := 0
	for i := 0; i < cfg.turns; i++ {
		if cfg.verbose {
			fmt.Printf("parloprobe: streaming utterance %d/%d (%d bytes @ %dHz)\n", i+1, cfg.turns, len(pcm), sampleRate)
		}
		if err := streamBlocks(conn, pcm, sampleRate, cfg.chunkMS, cfg.pacing, &seq); err != nil {
			return fmt.Errorf("utterance %d: %w", i+1, err)
		}
	}

	select {
	case d := <-ev.firstPlayback:
		fmt.Printf("parloprobe: first playback audio after %s\n", d.Round(time.Millisecond))
	case err := <-ev.readErr:
		return fmt.Errorf("ws read: %w", err)
	case <-time.After(time.Until(deadline)):
		return fmt.Errorf("no playback audio within %s", cfg.timeout)
	}

	end := protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionEnd}
	if err := conn.WriteJSON(end); err != nil {
		return fmt.Errorf("send end: %w", err)
	}

	select {
	case raw := <-ev.recap:
		fmt.Printf("parloprobe: recap: %s\n", string(raw))
	case err := <-ev.readErr:
		return fmt.Errorf("ws read awaiting recap: %w", err)
	case <-time.After(time.Until(deadline)):
		return fmt.Errorf("no recap within %s", cfg.timeout)
	}
	return nil
}

func readLoop(conn *websocket.Conn, start time.Time, ev *probeEvents, verbose bool) {
	sawPlayback := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case ev.readErr <- err:
			default:
			}
			return
		}
		var env struct {
			Type    string          `json:"type"`
			State   string          `json:"state"`
			Speaker string          `json:"speaker"`
			Text    string          `json:"text"`
			Code    string          `json:"code"`
			Detail  string          `json:"detail"`
			Recap   json.RawMessage `json:"recap"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch protocol.MessageType(env.Type) {
		case protocol.TypePlaybackAudio:
			if !sawPlayback {
				sawPlayback = true
				select {
				case ev.firstPlayback <- time.Since(start):
				default:
				}
			}
		case protocol.TypeTranscriptTurn:
			if verbose {
				fmt.Printf("parloprobe: [%s] %s\n", env.Speaker, env.Text)
			}
		case protocol.TypeSessionState:
			if verbose {
				fmt.Printf("parloprobe: session %s\n", env.State)
			}
			if env.State == "closed" {
				select {
				case ev.closed <- struct{}{}:
				default:
				}
			}
		case protocol.TypeRecapReady:
			select {
			case ev.recap <- env.Recap:
			default:
			}
		case protocol.TypeErrorEvent:
			fmt.Fprintf(os.Stderr, "parloprobe: error_event code=%s detail=%s\n", env.Code, env.Detail)
		}
	}
}

func streamBlocks(conn *websocket.Conn, pcm []byte, sampleRate, chunkMS int, pacing float64, seq *int) error {
	bytesPerBlock := sampleRate * 2 * chunkMS / 1000
	if bytesPerBlock < 2 {
		bytesPerBlock = 2
	}
	if bytesPerBlock%2 != 0 {
		bytesPerBlock++
	}

	for off := 0; off < len(pcm); {
		end := off + bytesPerBlock
		if end > len(pcm) {
			end = len(pcm)
		}
		if (end-off)%2 != 0 {
			end--
		}
		if end <= off {
			break
		}
		*seq++
		msg := protocol.ClientAudioBlock{
			Type:        protocol.TypeClientAudioBlock,
			Seq:         *seq,
			PCM16Base64: base64.StdEncoding.EncodeToString(pcm[off:end]),
			SampleRate:  sampleRate,
			TSMs:        time.Now().UnixMilli(),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		blockDuration := time.Duration(float64(audio.DurationOfPCM16(end-off, sampleRate)) / pacing)
		off = end
		time.Sleep(blockDuration)
	}
	return nil
}

// loadAudio returns the utterance PCM to replay: a caller-supplied WAV file,
// or one second of a quiet tone at the capture rate.
func loadAudio(wavPath string) ([]byte, int, error) {
	if strings.TrimSpace(wavPath) == "" {
		return synthTone(440, 1000), audio.CaptureRate, nil
	}
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, 0, fmt.Errorf("read wav: %w", err)
	}
	pcm, rate, err := decodeWAVPCM16(data)
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", wavPath, err)
	}
	return pcm, rate, nil
}

func synthTone(freqHz, durationMS int) []byte {
	samples := audio.CaptureRate * durationMS / 1000
	out := make([]float32, samples)
	for i := range out {
		t := float64(i) / float64(audio.CaptureRate)
		out[i] = float32(0.25 * math.Sin(2*math.Pi*float64(freqHz)*t))
	}
	return audio.PCM16LEFromFloat32(out)
}

func probeWSURL(baseURL, personaID, kind string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/voice/session/ws"
	q := u.Query()
	q.Set("persona_id", personaID)
	q.Set("kind", kind)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// decodeWAVPCM16 extracts mono PCM16LE and the sample rate from a RIFF WAV
// payload, downmixing multi-channel audio by averaging.
func decodeWAVPCM16(data []byte) ([]byte, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a RIFF/WAVE payload")
	}

	var (
		haveFmt    bool
		format     uint16
		channels   uint16
		sampleRate int
		bits       uint16
		pcmData    []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, 0, fmt.Errorf("invalid chunk size for %q", id)
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, 0, fmt.Errorf("short fmt chunk")
			}
			format = binary.LittleEndian.Uint16(chunk[0:2])
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bits = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			pcmData = append(pcmData[:0], chunk...)
		}
		off += size
		if size%2 == 1 {
			off++
		}
	}
	switch {
	case !haveFmt:
		return nil, 0, fmt.Errorf("fmt chunk missing")
	case len(pcmData) == 0:
		return nil, 0, fmt.Errorf("data chunk missing")
	case format != 1:
		return nil, 0, fmt.Errorf("unsupported audio format %d", format)
	case bits != 16:
		return nil, 0, fmt.Errorf("unsupported bits per sample %d", bits)
	case channels == 0:
		return nil, 0, fmt.Errorf("zero channels")
	case sampleRate <= 0:
		return nil, 0, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	if channels == 1 {
		if len(pcmData)%2 != 0 {
			pcmData = pcmData[:len(pcmData)-1]
		}
		return pcmData, sampleRate, nil
	}

	frameBytes := int(channels) * 2
	frames := len(pcmData) / frameBytes
	mono := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		base := i * frameBytes
		sum := 0
		for ch := 0; ch < int(channels); ch++ {
			sum += int(int16(binary.LittleEndian.Uint16(pcmData[base+ch*2 : base+ch*2+2])))
		}
		binary.LittleEndian.PutUint16(mono[i*2:], uint16(int16(sum/int(channels))))
	}
	return mono, sampleRate, nil
}
