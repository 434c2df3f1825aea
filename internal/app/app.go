// Package app wires the oracle subsystems into a running server.
//
// The App owns the full lifecycle: New builds the roster, the reader over
// its fallback chains, the journal, the live session manager and the HTTP
// API; Run serves until its context ends; Shutdown tears everything down in
// order.
//
// For testing, inject doubles through the functional options (WithJournal,
// WithMetrics, ...). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/astraloracle/oracle/internal/config"
	"github.com/astraloracle/oracle/internal/health"
	"github.com/astraloracle/oracle/internal/journal"
	"github.com/astraloracle/oracle/internal/journal/postgres"
	"github.com/astraloracle/oracle/internal/observe"
	"github.com/astraloracle/oracle/internal/oracle"
	"github.com/astraloracle/oracle/internal/resilience"
	"github.com/astraloracle/oracle/internal/server"
	"github.com/astraloracle/oracle/internal/tarot"
	"github.com/astraloracle/oracle/pkg/provider/avatar"
	"github.com/astraloracle/oracle/pkg/provider/image"
	"github.com/astraloracle/oracle/pkg/provider/llm"
	"github.com/astraloracle/oracle/pkg/provider/s2s"
)

const (
	readHeaderTimeout = 10 * time.Second
	drainTimeout      = 15 * time.Second
)

// Named pairs a provider with the config name it was created from. The name
// labels breaker logs and metrics.
type Named[T any] struct {
	Name     string
	Provider T
}

// Providers holds the backends created by main via the config registry.
// LLM and Image list the primary first, then its fallbacks. Empty or nil
// means the slot is not configured.
type Providers struct {
	LLM    []Named[llm.Provider]
	Image  []Named[image.Provider]
	S2S    s2s.Provider
	Avatar avatar.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	roster   *oracle.Roster
	reader   *tarot.Reader
	cities   *tarot.Cities
	journal  journal.Store
	sessions *SessionManager
	health   *health.Handler
	server   *server.Server

	metrics        *observe.Metrics
	metricsHandler http.Handler
	listener       net.Listener

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithJournal injects a journal store instead of creating one from config.
func WithJournal(s journal.Store) Option {
	return func(a *App) { a.journal = s }
}

// WithMetrics records to m instead of the default instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogger sets the application logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevel lets hot reloads change the log level through v.
func WithLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithListener serves on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. providers comes
// from main (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Roster ────────────────────────────────────────────────────────
	roster, err := oracle.NewRoster(cfg.Profiles())
	if err != nil {
		return nil, fmt.Errorf("app: init roster: %w", err)
	}
	a.roster = roster

	// ── 2. Reader ────────────────────────────────────────────────────────
	a.initReader()
	a.cities = tarot.NewCities()

	// ── 3. Journal ───────────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		return nil, fmt.Errorf("app: init journal: %w", err)
	}

	// ── 4. Live sessions ─────────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Roster:  a.roster,
		Speech:  providers.S2S,
		Avatar:  providers.Avatar,
		Journal: a.journal,
		Session: cfg.Session,
		Metrics: a.metrics,
		Logger:  a.log,
	})

	// ── 5. HTTP API ──────────────────────────────────────────────────────
	a.health = health.New(
		health.Ping("journal", a.journal),
		health.Checker{Name: "sessions", Check: a.sessions.Check},
	)
	deps := server.Deps{
		Roster:  a.roster,
		Reader:  a.reader,
		Cities:  a.cities,
		Journal: a.journal,
		Lives:   a.sessions,
		Avatar:  providers.Avatar,
		Health:  a.health,
		Metrics: a.metricsHandler,
	}
	srv, err := server.New(deps,
		server.WithMetrics(a.metrics),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	)
	if err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init server: %w", err)
	}
	a.server = srv

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) breakerConfig() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		OnStateChange: func(name string, from, to resilience.State) {
			a.log.Warn("provider breaker changed state", "provider", name, "from", from, "to", to)
		},
	}
}

// initReader puts the text and image backends behind fallback chains when
// more than one is configured.
func (a *App) initReader() {
	var (
		text      llm.Provider
		images    image.Provider
		textName  = "none"
		imageName = "none"
	)
	switch ps := a.providers.LLM; len(ps) {
	case 0:
		a.log.Warn("no llm provider configured, readings will use the fallback text")
	case 1:
		text, textName = ps[0].Provider, ps[0].Name
	default:
		chain := resilience.NewLLMChain(ps[0].Name, ps[0].Provider, a.breakerConfig())
		for _, p := range ps[1:] {
			chain.Add(p.Name, p.Provider)
		}
		text, textName = chain, ps[0].Name
	}
	switch ps := a.providers.Image; len(ps) {
	case 0:
	case 1:
		images, imageName = ps[0].Provider, ps[0].Name
	default:
		chain := resilience.NewImageChain(ps[0].Name, ps[0].Provider, a.breakerConfig())
		for _, p := range ps[1:] {
			chain.Add(p.Name, p.Provider)
		}
		images, imageName = chain, ps[0].Name
	}
	a.reader = tarot.NewReader(text, images,
		tarot.WithProviderNames(textName, imageName),
		tarot.WithReaderMetrics(a.metrics),
	)
}

// initJournal connects the PostgreSQL journal or falls back to memory.
func (a *App) initJournal(ctx context.Context) error {
	if a.journal != nil {
		return nil
	}
	dsn := a.cfg.Journal.PostgresDSN
	if dsn == "" {
		a.journal = journal.NewMemStore(a.cfg.Journal.Retention)
		return nil
	}
	store, err := postgres.New(ctx, dsn)
	if err != nil {
		return err
	}
	a.journal = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler of the API.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Roster returns the live oracle roster.
func (a *App) Roster() *oracle.Roster { return a.roster }

// Sessions returns the live session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of new: the oracle roster and
// the log level. It matches the callback signature of [config.NewWatcher].
// Sessions already open keep the persona they were opened with.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.OraclesChanged {
		if err := a.roster.Replace(new.Profiles()); err != nil {
			a.log.Error("config reload: roster rejected, keeping the previous one", "err", err)
		} else {
			for _, c := range d.OracleChanges {
				a.log.Info("config reload: oracle changed", "id", c.ID, "added", c.Added, "removed", c.Removed)
			}
		}
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		a.log.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the API until ctx is cancelled, then drains in-flight requests.
// It returns nil on a clean stop.
func (a *App) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	if httpSrv.Addr == "" {
		httpSrv.Addr = ":8080"
	}

	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", httpSrv.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", httpSrv.Addr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer cancel()
		return httpSrv.Shutdown(drainCtx)
	})

	a.log.Info("app running", "addr", ln.Addr().String(), "oracles", len(a.roster.List()))
	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: serve: %w", err)
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends every live session, flushes their journal writes and closes
// the journal. It is safe to call more than once; only the first call does
// anything.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		var errs []error
		if a.sessions != nil {
			if e := a.sessions.Shutdown(ctx); e != nil {
				errs = append(errs, fmt.Errorf("sessions: %w", e))
			}
		}
		if e := a.runClosers(); e != nil {
			errs = append(errs, e)
		}
		err = errors.Join(errs...)
	})
	return err
}

func (a *App) runClosers() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
