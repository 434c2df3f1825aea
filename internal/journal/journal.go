// Package journal keeps the seeker's history: interpreted spreads, soulmate
// visions, live session summaries and their transcripts.
//
// [MemStore] is the default in-process store; package postgres provides a
// durable implementation of the same [Store] interface.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/astraloracle/oracle/internal/live"
	"github.com/astraloracle/oracle/internal/tarot"
)

// ErrNotFound is returned for an unknown id.
var ErrNotFound = errors.New("journal: not found")

// MaxRecent caps how many readings RecentReadings returns.
const MaxRecent = 100

// SessionRecord is the persisted summary of one live session.
type SessionRecord struct {
	ID        string        `json:"id"`
	Oracle    string        `json:"oracle"`
	Started   time.Time     `json:"started"`
	Ended     time.Time     `json:"ended"`
	Connected time.Duration `json:"connected"`
	Reason    string        `json:"reason"`
	Error     string        `json:"error,omitempty"`
}

// FromSummary converts a live session summary into a record.
func FromSummary(s live.Summary) SessionRecord {
	rec := SessionRecord{
		ID:        s.SessionID,
		Oracle:    s.Oracle,
		Started:   s.Started,
		Ended:     s.Ended,
		Connected: s.Connected,
		Reason:    string(s.Reason),
	}
	if s.Err != nil {
		rec.Error = s.Err.Error()
	}
	return rec
}

// TranscriptLine is one line spoken during a live session.
type TranscriptLine struct {
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// SoulmateRecord is a persisted soulmate vision. The seeker's photo is never
// stored.
type SoulmateRecord struct {
	ID        string                `json:"id"`
	Date      string                `json:"date"`
	Time      string                `json:"time"`
	Place     string                `json:"place"`
	Gender    string                `json:"gender"`
	Interest  string                `json:"interest"`
	Reading   tarot.SoulmateReading `json:"reading"`
	CreatedAt time.Time             `json:"createdAt"`
}

// Store persists the journal. Implementations must be safe for concurrent
// use.
type Store interface {
	// SaveReading stores r and returns it with ID set when it was empty.
	SaveReading(ctx context.Context, r tarot.Reading) (tarot.Reading, error)

	// RecentReadings returns up to n readings, newest first. n is clamped
	// to [1, MaxRecent].
	RecentReadings(ctx context.Context, n int) ([]tarot.Reading, error)

	// SaveSoulmate stores a vision and returns it with ID set.
	SaveSoulmate(ctx context.Context, rec SoulmateRecord) (SoulmateRecord, error)

	// SaveSession stores the summary of a finished live session.
	SaveSession(ctx context.Context, rec SessionRecord) error

	// Session returns one session summary.
	Session(ctx context.Context, id string) (SessionRecord, error)

	// AppendTranscript adds one line to a session transcript.
	AppendTranscript(ctx context.Context, line TranscriptLine) error

	// Transcript returns the lines of a session in spoken order.
	Transcript(ctx context.Context, sessionID string) ([]TranscriptLine, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store.
	Close() error
}

func clampRecent(n int) int {
	if n <= 0 {
		return 1
	}
	return min(n, MaxRecent)
}
