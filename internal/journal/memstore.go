package journal

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/astraloracle/oracle/internal/tarot"
	"github.com/google/uuid"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store]. Readings beyond the retention limit are
// dropped oldest first.
type MemStore struct {
	mu        sync.RWMutex
	limit     int
	readings  []tarot.Reading
	soulmates []SoulmateRecord
	sessions  map[string]SessionRecord
	lines     map[string][]TranscriptLine
	now       func() time.Time
}

// NewMemStore returns a store retaining at most limit readings and visions;
// limit <= 0 means 1000.
func NewMemStore(limit int) *MemStore {
	if limit <= 0 {
		limit = 1000
	}
	return &MemStore{
		limit:    limit,
		sessions: make(map[string]SessionRecord),
		lines:    make(map[string][]TranscriptLine),
		now:      time.Now,
	}
}

// SaveReading implements [Store.SaveReading].
func (s *MemStore) SaveReading(_ context.Context, r tarot.Reading) (tarot.Reading, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	r.Cards = slices.Clone(r.Cards)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
	if over := len(s.readings) - s.limit; over > 0 {
		s.readings = slices.Delete(s.readings, 0, over)
	}
	return r, nil
}

// RecentReadings implements [Store.RecentReadings].
func (s *MemStore) RecentReadings(_ context.Context, n int) ([]tarot.Reading, error) {
	n = clampRecent(n)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tarot.Reading, 0, min(n, len(s.readings)))
	for i := len(s.readings) - 1; i >= 0 && len(out) < n; i-- {
		r := s.readings[i]
		r.Cards = slices.Clone(r.Cards)
		out = append(out, r)
	}
	return out, nil
}

// SaveSoulmate implements [Store.SaveSoulmate].
func (s *MemStore) SaveSoulmate(_ context.Context, rec SoulmateRecord) (SoulmateRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.soulmates = append(s.soulmates, rec)
	if over := len(s.soulmates) - s.limit; over > 0 {
		s.soulmates = slices.Delete(s.soulmates, 0, over)
	}
	return rec, nil
}

// SaveSession implements [Store.SaveSession].
func (s *MemStore) SaveSession(_ context.Context, rec SessionRecord) error {
	if rec.ID == "" {
		return errors.New("journal: save session: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.ID] = rec
	return nil
}

// Session implements [Store.Session].
func (s *MemStore) Session(_ context.Context, id string) (SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return SessionRecord{}, ErrNotFound
	}
	return rec, nil
}

// AppendTranscript implements [Store.AppendTranscript].
func (s *MemStore) AppendTranscript(_ context.Context, line TranscriptLine) error {
	if line.SessionID == "" {
		return errors.New("journal: append transcript: empty session id")
	}
	if line.At.IsZero() {
		line.At = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines[line.SessionID] = append(s.lines[line.SessionID], line)
	return nil
}

// Transcript implements [Store.Transcript].
func (s *MemStore) Transcript(_ context.Context, sessionID string) ([]TranscriptLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.lines[sessionID])
	if out == nil {
		out = []TranscriptLine{}
	}
	return out, nil
}

// Ping implements [Store.Ping].
func (s *MemStore) Ping(context.Context) error { return nil }

// Close implements [Store.Close].
func (s *MemStore) Close() error { return nil }
