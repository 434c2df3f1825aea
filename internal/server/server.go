// Package server is the JSON HTTP API and live WebSocket endpoint the
// browser frontend talks to.
//
// Every route is wrapped by [observe.Middleware]. Errors are JSON objects
// of the form {"error": "..."}.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/astraloracle/oracle/internal/health"
	"github.com/astraloracle/oracle/internal/journal"
	"github.com/astraloracle/oracle/internal/live"
	"github.com/astraloracle/oracle/internal/observe"
	"github.com/astraloracle/oracle/internal/oracle"
	"github.com/astraloracle/oracle/internal/tarot"
	"github.com/astraloracle/oracle/pkg/provider/avatar"
)

const (
	maxBodyBytes  = 1 << 20
	maxImageBytes = 8 << 20
)

// Lives opens live sessions for browser connections.
type Lives interface {
	// Open creates a session for oracleID that plays through devices.
	// hooks receive the session output.
	Open(oracleID string, devices live.Devices, hooks live.Hooks) (*live.Session, error)

	// Release forgets a session once its connection is gone.
	Release(sessionID string)

	// Active lists the open sessions, oldest first.
	Active() []LiveSession
}

// LiveSession describes an open live session.
type LiveSession struct {
	SessionID string      `json:"sessionId"`
	Oracle    string      `json:"oracle"`
	OpenedAt  time.Time   `json:"openedAt"`
	Status    live.Status `json:"status"`
}

// Deps are the collaborators of a [Server]. Roster, Reader, Cities and
// Journal are required.
type Deps struct {
	Roster  *oracle.Roster
	Reader  *tarot.Reader
	Cities  *tarot.Cities
	Journal journal.Store

	// Lives serves /api/live; nil disables the endpoint.
	Lives Lives

	// Avatar backs /api/simli/session; nil disables the endpoint.
	Avatar avatar.Provider

	// Health serves /healthz and /readyz when set.
	Health *health.Handler

	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Server routes the API.
type Server struct {
	deps           Deps
	metrics        *observe.Metrics
	allowedOrigins []string
	base           context.Context

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics sets the instruments recorded by the middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAllowedOrigins restricts WebSocket upgrades to the given origins. An
// empty list allows same-host origins only.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.allowedOrigins = slices.Clone(origins) }
}

// WithBaseContext ties live connections to ctx: cancelling it ends every
// session served by this Server.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.base = ctx }
}

// WithRand sets the shuffle source.
func WithRand(r *rand.Rand) Option {
	return func(s *Server) { s.rng = r }
}

// New creates a Server.
func New(deps Deps, opts ...Option) (*Server, error) {
	var errs []error
	if deps.Roster == nil {
		errs = append(errs, errors.New("roster is required"))
	}
	if deps.Reader == nil {
		errs = append(errs, errors.New("reader is required"))
	}
	if deps.Cities == nil {
		errs = append(errs, errors.New("cities are required"))
	}
	if deps.Journal == nil {
		errs = append(errs, errors.New("journal is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	s := &Server{
		deps: deps,
		base: context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.rng == nil {
		seed := uint64(time.Now().UnixNano())
		s.rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return s, nil
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/decks", s.handleDecks)
	mux.HandleFunc("POST /api/decks/{deck}/shuffle", s.handleShuffle)
	mux.HandleFunc("GET /api/spreads", s.handleSpreads)
	mux.HandleFunc("POST /api/readings", s.handleReading)
	mux.HandleFunc("GET /api/readings/recent", s.handleRecent)
	mux.HandleFunc("POST /api/cards/image", s.handleCardImage)

	mux.HandleFunc("POST /api/soulmate", s.handleSoulmate)
	mux.HandleFunc("POST /api/soulmate/portrait", s.handlePortrait)
	mux.HandleFunc("GET /api/cities", s.handleCities)

	mux.HandleFunc("GET /api/oracles", s.handleOracles)
	mux.HandleFunc("PUT /api/oracles/{id}/image", s.handleOracleImage)
	mux.HandleFunc("POST /api/simli/session", s.handleSimliSession)
	mux.HandleFunc("GET /api/live", s.handleLiveSessions)
	mux.HandleFunc("GET /api/live/{oracle}", s.handleLive)

	if s.deps.Health != nil {
		s.deps.Health.Register(mux)
	}
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}

	return observe.Middleware(s.metrics)(mux)
}

// ── Helpers ────────────────────────────────────────────────────────────────

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// decode reads a JSON body of at most limit bytes into v, writing the 400
// response itself on failure.
func decode(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) shuffle(deck tarot.DeckType) ([]tarot.Card, error) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return tarot.NewDeck(deck, s.rng)
}

func logger(r *http.Request) *slog.Logger {
	return observe.Logger(r.Context())
}
