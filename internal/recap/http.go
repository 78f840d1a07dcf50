package recap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/parlo-app/parlo/internal/persona"
	"github.com/parlo-app/parlo/internal/reliability"
	"github.com/parlo-app/parlo/internal/transcript"
)

// HTTPGenerator calls an external recap service over HTTP.
type HTTPGenerator struct {
	url    string
	client *http.Client
}

const (
	httpRetryMax  = 1
	httpRetryBase = 300 * time.Millisecond
	httpRetryCap  = 2 * time.Second
)

func NewHTTPGenerator(url string, timeout time.Duration) *HTTPGenerator {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPGenerator{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

type recapRequest struct {
	Persona    persona.Ref       `json:"persona"`
	Transcript []transcript.Turn `json:"transcript"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, turns []transcript.Turn, ref persona.Ref) (Result, error) {
	payload, err := json.Marshal(recapRequest{Persona: ref, Transcript: turns})
	if err != nil {
		return Result{}, fmt.Errorf("marshal recap request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= httpRetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(reliability.Backoff(attempt, httpRetryBase, httpRetryCap)):
			}
		}

		result, retryable, err := g.post(ctx, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return Result{}, lastErr
}

func (g *HTTPGenerator) post(ctx context.Context, payload []byte) (Result, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, false, fmt.Errorf("create recap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(req)
	if err != nil {
		return Result{}, true, fmt.Errorf("send recap request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Result{}, reliability.IsRetryableHTTPStatus(res.StatusCode),
			fmt.Errorf("recap service status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var result Result
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return Result{}, false, fmt.Errorf("decode recap response: %w", err)
	}
	if err := Validate(result); err != nil {
		return Result{}, false, err
	}
	return result, false, nil
}
