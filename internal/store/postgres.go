package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists completed sessions in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS completed_sessions (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			persona_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			recap JSONB NOT NULL,
			transcript JSONB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_completed_sessions_ended ON completed_sessions (ended_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveCompletedSession(ctx context.Context, rec CompletedSession) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.EndedAt.IsZero() {
		rec.EndedAt = time.Now().UTC()
	}

	recapJSON, err := json.Marshal(rec.Recap)
	if err != nil {
		return fmt.Errorf("marshal recap: %w", err)
	}
	transcriptJSON, err := json.Marshal(rec.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO completed_sessions (id, session_id, persona_id, kind, started_at, ended_at, recap, transcript)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID,
		rec.SessionID,
		rec.PersonaID,
		rec.Kind,
		nullableTime(rec.StartedAt),
		rec.EndedAt,
		recapJSON,
		transcriptJSON,
	)
	if err != nil {
		return fmt.Errorf("save completed session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentSessions(ctx context.Context, limit int) ([]CompletedSession, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, persona_id, kind, started_at, ended_at, recap, transcript
		 FROM completed_sessions ORDER BY ended_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent sessions: %w", err)
	}
	defer rows.Close()

	items := make([]CompletedSession, 0, limit)
	for rows.Next() {
		var (
			rec            CompletedSession
			startedAt      *time.Time
			recapJSON      []byte
			transcriptJSON []byte
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.PersonaID, &rec.Kind, &startedAt, &rec.EndedAt, &recapJSON, &transcriptJSON); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		if startedAt != nil {
			rec.StartedAt = *startedAt
		}
		if err := json.Unmarshal(recapJSON, &rec.Recap); err != nil {
			return nil, fmt.Errorf("decode recap column: %w", err)
		}
		if err := json.Unmarshal(transcriptJSON, &rec.Transcript); err != nil {
			return nil, fmt.Errorf("decode transcript column: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
