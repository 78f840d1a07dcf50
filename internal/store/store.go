package store

import (
	"context"
	"strings"
	"time"

	"github.com/parlo-app/parlo/internal/recap"
	"github.com/parlo-app/parlo/internal/transcript"
)

// CompletedSession is the durable record handed over when a voice session
// closes: the recap (possibly degraded) plus the raw transcript.
type CompletedSession struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	PersonaID  string            `json:"persona_id"`
	Kind       string            `json:"kind"`
	StartedAt  time.Time         `json:"started_at"`
	EndedAt    time.Time         `json:"ended_at"`
	Recap      recap.Result      `json:"recap"`
	Transcript []transcript.Turn `json:"transcript"`
}

// Store persists completed voice sessions.
type Store interface {
	SaveCompletedSession(ctx context.Context, rec CompletedSession) error
	RecentSessions(ctx context.Context, limit int) ([]CompletedSession, error)
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise
// in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
