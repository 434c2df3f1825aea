package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/astraloracle/oracle/internal/journal"
	"github.com/astraloracle/oracle/internal/tarot"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ journal.Store = (*Store)(nil)

// Store is a [journal.Store] backed by a pgx connection pool. It is safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, verifies the connection and runs [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// SaveReading implements [journal.Store].
func (s *Store) SaveReading(ctx context.Context, r tarot.Reading) (tarot.Reading, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	cards, err := json.Marshal(r.Cards)
	if err != nil {
		return tarot.Reading{}, fmt.Errorf("journal postgres: encode cards: %w", err)
	}
	const q = `
		INSERT INTO readings (id, question, deck, spread, cards, interpretation, degraded, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.pool.Exec(ctx, q, r.ID, r.Question, string(r.Deck), r.Spread, cards, r.Interpretation, r.Degraded, r.CreatedAt); err != nil {
		return tarot.Reading{}, fmt.Errorf("journal postgres: save reading: %w", err)
	}
	return r, nil
}

// RecentReadings implements [journal.Store].
func (s *Store) RecentReadings(ctx context.Context, n int) ([]tarot.Reading, error) {
	n = max(1, min(n, journal.MaxRecent))
	const q = `
		SELECT id::text, question, deck, spread, cards, interpretation, degraded, created_at
		FROM   readings
		ORDER  BY created_at DESC
		LIMIT  $1`
	rows, err := s.pool.Query(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: recent readings: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (tarot.Reading, error) {
		var (
			r     tarot.Reading
			deck  string
			cards []byte
		)
		if err := row.Scan(&r.ID, &r.Question, &deck, &r.Spread, &cards, &r.Interpretation, &r.Degraded, &r.CreatedAt); err != nil {
			return tarot.Reading{}, err
		}
		r.Deck = tarot.DeckType(deck)
		if err := json.Unmarshal(cards, &r.Cards); err != nil {
			return tarot.Reading{}, fmt.Errorf("decode cards: %w", err)
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal postgres: scan readings: %w", err)
	}
	if out == nil {
		out = []tarot.Reading{}
	}
	return out, nil
}

// SaveSoulmate implements [journal.Store].
func (s *Store) SaveSoulmate(ctx context.Context, rec journal.SoulmateRecord) (journal.SoulmateRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	body, err := json.Marshal(rec.Reading)
	if err != nil {
		return journal.SoulmateRecord{}, fmt.Errorf("journal postgres: encode vision: %w", err)
	}
	const q = `
		INSERT INTO soulmate_readings (id, birth_date, birth_time, place, gender, interest, reading, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.pool.Exec(ctx, q, rec.ID, rec.Date, rec.Time, rec.Place, rec.Gender, rec.Interest, body, rec.CreatedAt); err != nil {
		return journal.SoulmateRecord{}, fmt.Errorf("journal postgres: save vision: %w", err)
	}
	return rec, nil
}

// SaveSession implements [journal.Store]. Saving an id twice overwrites.
func (s *Store) SaveSession(ctx context.Context, rec journal.SessionRecord) error {
	if rec.ID == "" {
		return errors.New("journal postgres: save session: empty id")
	}
	const q = `
		INSERT INTO live_sessions (id, oracle, started_at, ended_at, connected_ns, reason, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    oracle = EXCLUDED.oracle, started_at = EXCLUDED.started_at, ended_at = EXCLUDED.ended_at,
		    connected_ns = EXCLUDED.connected_ns, reason = EXCLUDED.reason, error = EXCLUDED.error`
	if _, err := s.pool.Exec(ctx, q, rec.ID, rec.Oracle, rec.Started, rec.Ended, rec.Connected.Nanoseconds(), rec.Reason, rec.Error); err != nil {
		return fmt.Errorf("journal postgres: save session: %w", err)
	}
	return nil
}

// Session implements [journal.Store].
func (s *Store) Session(ctx context.Context, id string) (journal.SessionRecord, error) {
	const q = `
		SELECT id, oracle, started_at, ended_at, connected_ns, reason, error
		FROM   live_sessions
		WHERE  id = $1`
	var (
		rec journal.SessionRecord
		ns  int64
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(&rec.ID, &rec.Oracle, &rec.Started, &rec.Ended, &ns, &rec.Reason, &rec.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return journal.SessionRecord{}, journal.ErrNotFound
	}
	if err != nil {
		return journal.SessionRecord{}, fmt.Errorf("journal postgres: session: %w", err)
	}
	rec.Connected = time.Duration(ns)
	return rec, nil
}

// AppendTranscript implements [journal.Store].
func (s *Store) AppendTranscript(ctx context.Context, line journal.TranscriptLine) error {
	if line.SessionID == "" {
		return errors.New("journal postgres: append transcript: empty session id")
	}
	if line.At.IsZero() {
		line.At = time.Now()
	}
	const q = `INSERT INTO transcript_lines (session_id, role, text, spoken_at) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, q, line.SessionID, line.Role, line.Text, line.At); err != nil {
		return fmt.Errorf("journal postgres: append transcript: %w", err)
	}
	return nil
}

// Transcript implements [journal.Store].
func (s *Store) Transcript(ctx context.Context, sessionID string) ([]journal.TranscriptLine, error) {
	const q = `
		SELECT session_id, role, text, spoken_at
		FROM   transcript_lines
		WHERE  session_id = $1
		ORDER  BY id`
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: transcript: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (journal.TranscriptLine, error) {
		var l journal.TranscriptLine
		err := row.Scan(&l.SessionID, &l.Role, &l.Text, &l.At)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("journal postgres: scan transcript: %w", err)
	}
	if out == nil {
		out = []journal.TranscriptLine{}
	}
	return out, nil
}

// Ping implements [journal.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [journal.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
