package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/astraloracle/oracle/internal/config"
	"github.com/astraloracle/oracle/internal/journal"
	"github.com/astraloracle/oracle/internal/live"
	"github.com/astraloracle/oracle/internal/observe"
	"github.com/astraloracle/oracle/internal/oracle"
	"github.com/astraloracle/oracle/internal/server"
	"github.com/astraloracle/oracle/pkg/provider/avatar"
	"github.com/astraloracle/oracle/pkg/provider/s2s"
)

var (
	// ErrAtCapacity is returned by Open when session.max_concurrent live
	// sessions are already open.
	ErrAtCapacity = errors.New("app: too many live sessions")

	// ErrNoSpeech is returned by Open when no realtime speech provider is
	// configured.
	ErrNoSpeech = errors.New("app: no realtime speech provider configured")
)

const (
	// journalQueue is the number of pending journal writes buffered per
	// session before transcript lines are dropped.
	journalQueue = 64

	journalTimeout = 5 * time.Second
)

type entry struct {
	session  *live.Session
	oracle   string
	openedAt time.Time
	writes   chan func(context.Context) error
	flushed  chan struct{}
}

// SessionManager opens live sessions for browser connections and journals
// what they produce. It implements [server.Lives]. All methods are safe for
// concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool

	roster  *oracle.Roster
	speech  s2s.Provider
	avatar  avatar.Provider
	journal journal.Store
	cfg     config.SessionConfig
	metrics *observe.Metrics
	clock   live.Clock
	log     *slog.Logger
	now     func() time.Time
}

var _ server.Lives = (*SessionManager)(nil)

// SessionManagerConfig holds the dependencies of a [SessionManager]. Roster
// and Journal are required; without Speech every Open fails with
// [ErrNoSpeech].
type SessionManagerConfig struct {
	Roster  *oracle.Roster
	Speech  s2s.Provider
	Avatar  avatar.Provider
	Journal journal.Store
	Session config.SessionConfig
	Metrics *observe.Metrics
	Logger  *slog.Logger

	// Clock overrides the wall clock of every session. Used by tests.
	Clock live.Clock
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &SessionManager{
		sessions: make(map[string]*entry),
		roster:   cfg.Roster,
		speech:   cfg.Speech,
		avatar:   cfg.Avatar,
		journal:  cfg.Journal,
		cfg:      cfg.Session,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
		log:      log,
		now:      time.Now,
	}
}

// Open builds a session for oracleID from its roster profile and the
// session configuration. Transcript lines and the end-of-session summary are
// written to the journal in the order they occur, off the session's audio
// path. The session is not started.
func (sm *SessionManager) Open(oracleID string, devices live.Devices, hooks live.Hooks) (*live.Session, error) {
	if sm.speech == nil {
		return nil, ErrNoSpeech
	}
	profile, err := sm.roster.Get(oracleID)
	if err != nil {
		return nil, fmt.Errorf("app: open session: %w", err)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		return nil, errors.New("app: session manager is shut down")
	}
	if max := sm.cfg.MaxConcurrent; max > 0 && len(sm.sessions) >= max {
		return nil, ErrAtCapacity
	}

	cfg := live.Config{
		ID:            uuid.NewString(),
		Oracle:        profile.ID,
		Instructions:  profile.SystemPrompt(),
		Voice:         profile.SpeechVoice(),
		Transcribe:    sm.cfg.Transcribe,
		Duration:      sm.cfg.Duration,
		CaptureRate:   sm.cfg.CaptureRate,
		PlaybackRate:  sm.cfg.PlaybackRate,
		BlockSize:     sm.cfg.BlockSize,
		FrameInterval: sm.cfg.VisualizationInterval,
	}
	if !sm.cfg.SkipRitual {
		cfg.Ritual = oracle.RitualFor(profile, sm.cfg.RitualStepDuration)
	}

	e := &entry{
		oracle:   profile.ID,
		openedAt: sm.now(),
		writes:   make(chan func(context.Context) error, journalQueue),
		flushed:  make(chan struct{}),
	}
	log := sm.log.With("session_id", cfg.ID, "oracle", profile.ID)

	opts := []live.Option{
		live.WithHooks(sm.journalHooks(cfg.ID, e, hooks, log)),
		live.WithLogger(sm.log),
	}
	if sm.metrics != nil {
		opts = append(opts, live.WithMetrics(sm.metrics))
	}
	if sm.clock != nil {
		opts = append(opts, live.WithClock(sm.clock))
	}
	if sm.cfg.Avatar && sm.avatar != nil && profile.SimliFaceID != "" {
		cfg.AvatarFaceID = profile.SimliFaceID
		opts = append(opts, live.WithAvatar(sm.avatar))
	}

	e.session = live.New(sm.speech, devices, cfg, opts...)
	sm.sessions[cfg.ID] = e
	go sm.drain(e, log)

	log.Info("live session opened", "open", len(sm.sessions))
	return e.session, nil
}

// journalHooks wraps hooks so transcript lines and summaries are queued for
// the journal before being forwarded.
func (sm *SessionManager) journalHooks(id string, e *entry, hooks live.Hooks, log *slog.Logger) live.Hooks {
	wrapped := hooks
	wrapped.OnTranscript = func(t live.Transcript) {
		line := journal.TranscriptLine{SessionID: id, Role: t.Role, Text: t.Text, At: sm.now()}
		sm.enqueue(id, e, log, func(ctx context.Context) error { return sm.journal.AppendTranscript(ctx, line) })
		if hooks.OnTranscript != nil {
			hooks.OnTranscript(t)
		}
	}
	wrapped.OnEnd = func(s live.Summary) {
		rec := journal.FromSummary(s)
		sm.enqueue(id, e, log, func(ctx context.Context) error { return sm.journal.SaveSession(ctx, rec) })
		if hooks.OnEnd != nil {
			hooks.OnEnd(s)
		}
	}
	return wrapped
}

func (sm *SessionManager) enqueue(id string, e *entry, log *slog.Logger, write func(context.Context) error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.sessions[id] != e {
		log.Warn("journal write after release dropped")
		return
	}
	select {
	case e.writes <- write:
	default:
		log.Warn("journal queue full, write dropped")
	}
}

func (sm *SessionManager) drain(e *entry, log *slog.Logger) {
	defer close(e.flushed)
	for write := range e.writes {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		if err := write(ctx); err != nil {
			log.Warn("journal write failed", "err", err)
		}
		cancel()
	}
}

// Release ends the session if it is still running, flushes its pending
// journal writes and forgets it. Unknown ids are ignored.
func (sm *SessionManager) Release(sessionID string) {
	sm.mu.Lock()
	e, ok := sm.sessions[sessionID]
	sm.mu.Unlock()
	if !ok {
		return
	}

	// End publishes the final summary through the hooks, which still
	// enqueue while the entry is registered.
	if err := e.session.End(); err != nil {
		sm.log.Debug("release: end session", "session_id", sessionID, "err", err)
	}

	sm.mu.Lock()
	if sm.sessions[sessionID] != e {
		sm.mu.Unlock()
		return
	}
	delete(sm.sessions, sessionID)
	close(e.writes)
	open := len(sm.sessions)
	sm.mu.Unlock()

	<-e.flushed
	sm.log.Info("live session released", "session_id", sessionID, "open", open)
}

// Active implements [server.Lives]. Sessions are ordered by opening time.
func (sm *SessionManager) Active() []server.LiveSession {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]server.LiveSession, 0, len(sm.sessions))
	for id, e := range sm.sessions {
		out = append(out, server.LiveSession{SessionID: id, Oracle: e.oracle, OpenedAt: e.openedAt, Status: e.session.State().Status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Check reports an error while the manager cannot accept another session.
// It serves as the "sessions" readiness check.
func (sm *SessionManager) Check(context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	switch {
	case sm.closed:
		return errors.New("shutting down")
	case sm.speech == nil:
		return ErrNoSpeech
	case sm.cfg.MaxConcurrent > 0 && len(sm.sessions) >= sm.cfg.MaxConcurrent:
		return ErrAtCapacity
	}
	return nil
}

// Shutdown refuses new sessions, then releases every open one. It returns
// ctx.Err() if ctx expires first.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	sm.closed = true
	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	sm.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Go(func() { sm.Release(id) })
		}
		wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
