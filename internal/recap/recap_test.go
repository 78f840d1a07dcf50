package recap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/parlo-app/parlo/internal/persona"
	"github.com/parlo-app/parlo/internal/transcript"
)

func sampleTurns() []transcript.Turn {
	return []transcript.Turn{
		{Speaker: transcript.SpeakerUserSpoken, Text: "I would like to practice ordering breakfast", TurnType: transcript.TurnMessage, Timestamp: 1000},
		{Speaker: transcript.SpeakerAssistant, Text: "Of course, let's begin", TurnType: transcript.TurnMessage, Timestamp: 2000},
		{Speaker: transcript.SpeakerUserTyped, Text: "un croissant please", TurnType: transcript.TurnMessage, Timestamp: 3000},
	}
}

func TestMinimalRecapMentionsPersona(t *testing.T) {
	r := Minimal(persona.Lookup("amelie"))
	if !strings.Contains(r.Summary, "Amélie") {
		t.Fatalf("Summary = %q, want persona name mentioned", r.Summary)
	}
	if r.Degraded {
		t.Fatalf("minimal recap must not be marked degraded")
	}
}

func TestDegradedRecapKeepsReason(t *testing.T) {
	r := Degraded(sampleTurns(), "upstream disconnected")
	if !r.Degraded {
		t.Fatalf("Degraded = false, want true")
	}
	if r.FailureReason != "upstream disconnected" {
		t.Fatalf("FailureReason = %q, want %q", r.FailureReason, "upstream disconnected")
	}
	if !strings.Contains(r.Summary, "3 turns") {
		t.Fatalf("Summary = %q, want turn count", r.Summary)
	}
}

func TestValidateRejectsEmptySummary(t *testing.T) {
	if err := Validate(Result{}); err == nil {
		t.Fatalf("Validate(empty) error = nil, want ErrMalformedResult")
	}
	if err := Validate(Result{Summary: "ok"}); err != nil {
		t.Fatalf("Validate(valid) error = %v", err)
	}
}

func TestLocalGeneratorCountsTurns(t *testing.T) {
	g := NewLocalGenerator()
	r, err := g.Generate(context.Background(), sampleTurns(), persona.Lookup("amelie"))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.Contains(r.Summary, "2 of your turns") || !strings.Contains(r.Summary, "1 replies") {
		t.Fatalf("Summary = %q, want turn counts", r.Summary)
	}
	if len(r.Vocabulary) == 0 {
		t.Fatalf("Vocabulary is empty, want learner words picked up")
	}
	for _, v := range r.Vocabulary {
		if len([]rune(v.Term)) < 5 {
			t.Fatalf("vocabulary term %q too short", v.Term)
		}
	}
}

func TestHTTPGeneratorSuccess(t *testing.T) {
	var gotReq recapRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(Result{Summary: "good session", Encouragement: "keep going"})
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, 5*time.Second)
	r, err := g.Generate(context.Background(), sampleTurns(), persona.Lookup("diego"))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if r.Summary != "good session" {
		t.Fatalf("Summary = %q, want %q", r.Summary, "good session")
	}
	if len(gotReq.Transcript) != 3 {
		t.Fatalf("request transcript turns = %d, want 3", len(gotReq.Transcript))
	}
	if gotReq.Persona.ID != "diego" {
		t.Fatalf("request persona = %q, want diego", gotReq.Persona.ID)
	}
}

func TestHTTPGeneratorRetriesRetryableStatus(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(Result{Summary: "second time lucky"})
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, 5*time.Second)
	r, err := g.Generate(context.Background(), nil, persona.Lookup("hana"))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if r.Summary != "second time lucky" {
		t.Fatalf("Summary = %q", r.Summary)
	}
}

func TestHTTPGeneratorDoesNotRetryClientError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, 5*time.Second)
	if _, err := g.Generate(context.Background(), nil, persona.Lookup("hana")); err == nil {
		t.Fatalf("Generate() error = nil, want status error")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (400 is not retryable)", attempts)
	}
}

func TestHTTPGeneratorRejectsMalformedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Result{}) // empty summary
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, 5*time.Second)
	if _, err := g.Generate(context.Background(), nil, persona.Lookup("amelie")); err == nil {
		t.Fatalf("Generate() error = nil, want malformed result error")
	}
}
