// Package postgres is a PostgreSQL-backed journal.
//
// Usage:
//
//	store, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	saved, _ := store.SaveReading(ctx, reading)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddl = `
CREATE TABLE IF NOT EXISTS readings (
    id              UUID         PRIMARY KEY,
    question        TEXT         NOT NULL DEFAULT '',
    deck            TEXT         NOT NULL,
    spread          TEXT         NOT NULL,
    cards           JSONB        NOT NULL,
    interpretation  TEXT         NOT NULL,
    degraded        BOOLEAN      NOT NULL DEFAULT false,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_readings_created_at
    ON readings (created_at DESC);

CREATE TABLE IF NOT EXISTS soulmate_readings (
    id          UUID         PRIMARY KEY,
    birth_date  TEXT         NOT NULL,
    birth_time  TEXT         NOT NULL,
    place       TEXT         NOT NULL,
    gender      TEXT         NOT NULL,
    interest    TEXT         NOT NULL,
    reading     JSONB        NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS live_sessions (
    id            TEXT         PRIMARY KEY,
    oracle        TEXT         NOT NULL,
    started_at    TIMESTAMPTZ  NOT NULL,
    ended_at      TIMESTAMPTZ  NOT NULL,
    connected_ns  BIGINT       NOT NULL DEFAULT 0,
    reason        TEXT         NOT NULL,
    error         TEXT         NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS transcript_lines (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    spoken_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_lines_session
    ON transcript_lines (session_id, id);
`

// Migrate creates the journal tables. It is idempotent and safe to run on
// every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("journal postgres: migrate: %w", err)
	}
	return nil
}
