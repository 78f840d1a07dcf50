package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/parlo-app/parlo/internal/audio"
	"github.com/parlo-app/parlo/internal/reliability"
)

// GatewayConfig configures the websocket realtime gateway.
type GatewayConfig struct {
	WSURL  string
	APIKey string
}

// GatewayDialer connects to a JSON realtime conversation endpoint over
// websocket and adapts it to the Channel contract.
type GatewayDialer struct {
	cfg GatewayConfig
}

func NewGatewayDialer(cfg GatewayConfig) (*GatewayDialer, error) {
	if strings.TrimSpace(cfg.WSURL) == "" {
		return nil, fmt.Errorf("realtime ws url is required")
	}
	return &GatewayDialer{cfg: cfg}, nil
}

func (d *GatewayDialer) Dial(ctx context.Context, sessionID string, h Handlers) (Channel, error) {
	u, err := url.Parse(d.cfg.WSURL)
	if err != nil {
		return nil, fmt.Errorf("parse realtime ws url: %w", err)
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	q.Set("input_sample_rate", fmt.Sprintf("%d", audio.CaptureRate))
	q.Set("output_sample_rate", fmt.Sprintf("%d", audio.PlaybackRate))
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if strings.TrimSpace(d.cfg.APIKey) != "" {
		headers.Set("Authorization", "Bearer "+d.cfg.APIKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial realtime websocket: %w", err)
	}

	c := &gatewayChannel{conn: conn, handlers: h}
	go c.readLoop()
	return c, nil
}

type gatewayChannel struct {
	conn      *websocket.Conn
	handlers  Handlers
	writeMu   sync.Mutex
	closeOnce sync.Once
	closedMu  sync.Mutex
	closed    bool
}

func (c *gatewayChannel) SendAudioFrame(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	payload := map[string]any{
		"message_type": "input_audio_frame",
		"audio_base64": base64.StdEncoding.EncodeToString(frame),
		"sample_rate":  audio.CaptureRate,
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(payload)
}

func (c *gatewayChannel) Close() error {
	var retErr error
	c.closeOnce.Do(func() {
		c.markClosed()
		retErr = c.conn.Close()
	})
	return retErr
}

func (c *gatewayChannel) markClosed() bool {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

func (c *gatewayChannel) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			// Local Close marks the channel first; anything else is an
			// upstream disconnect the session layer must hear about.
			if c.markClosed() {
				_ = c.conn.Close()
				c.emitClosed(&ChannelError{Code: "disconnected", Detail: err.Error(), Retryable: true})
			} else {
				c.emitClosed(nil)
			}
			return
		}

		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}

		switch asString(raw["message_type"]) {
		case "audio_chunk":
			if c.handlers.OnAudioChunk == nil {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(asString(raw["audio_base64"]))
			if err != nil || len(pcm) == 0 {
				continue
			}
			c.handlers.OnAudioChunk(pcm, asString(raw["format"]))
		case "transcript":
			if c.handlers.OnTextFragment == nil {
				continue
			}
			text := asString(raw["text"])
			if text == "" {
				continue
			}
			c.handlers.OnTextFragment(text, ParseDirection(asString(raw["direction"])), asBool(raw["is_final"]))
		case "interrupted":
			if c.handlers.OnInterrupted != nil {
				c.handlers.OnInterrupted()
			}
		case "error":
			if c.markClosed() {
				_ = c.conn.Close()
				c.emitClosed(gatewayChannelError(raw))
				return
			}
		default:
			// Unknown message types are forward-compatible extensions
			// (keepalives, new event kinds) and control echoes. Only an
			// explicit error message tears the channel down.
		}
	}
}

// gatewayChannelError builds the close reason for an explicit error message.
func gatewayChannelError(raw map[string]any) *ChannelError {
	code := asString(raw["code"])
	if code == "" {
		code = "error"
	}
	return &ChannelError{
		Code:      code,
		Detail:    asString(raw["error"]),
		Retryable: reliability.IsRetryableChannelCode(code),
	}
}

func (c *gatewayChannel) emitClosed(reason error) {
	if c.handlers.OnClosed != nil {
		c.handlers.OnClosed(reason)
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
