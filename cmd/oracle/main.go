// Command oracle is the main entry point for the Astral Oracle server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/astraloracle/oracle/internal/app"
	"github.com/astraloracle/oracle/internal/config"
	"github.com/astraloracle/oracle/internal/observe"
	"github.com/astraloracle/oracle/pkg/provider/avatar"
	"github.com/astraloracle/oracle/pkg/provider/avatar/simli"
	"github.com/astraloracle/oracle/pkg/provider/image"
	genaiimage "github.com/astraloracle/oracle/pkg/provider/image/genai"
	"github.com/astraloracle/oracle/pkg/provider/llm"
	"github.com/astraloracle/oracle/pkg/provider/llm/anyllm"
	genaillm "github.com/astraloracle/oracle/pkg/provider/llm/genai"
	openaillm "github.com/astraloracle/oracle/pkg/provider/llm/openai"
	"github.com/astraloracle/oracle/pkg/provider/s2s"
	geminilive "github.com/astraloracle/oracle/pkg/provider/s2s/gemini"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config")
	watch := flag.Bool("watch", true, "reload oracles and log level when the config file changes")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "oracle: load %s: %v\n", *envPath, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "oracle: config file %q not found, pass -config with the path to your configuration\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "oracle: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("oracle starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg, logger)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithLogger(logger),
		app.WithLevel(level),
		app.WithMetricsHandler(telemetry.Handler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *watch {
		var current atomic.Pointer[app.App]
		current.Store(application)
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			current.Load().ApplyConfig(old, new)
		}, config.WithWatcherLogger(logger))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}

	slog.Info("goodbye")
	return code
}

// ── Provider registration ──────────────────────────────────────────────────────

func registerBuiltinProviders(ctx context.Context, reg *config.Registry, logger *slog.Logger) {
	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []genaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, genaillm.WithBaseURL(entry.BaseURL))
		}
		return genaillm.New(ctx, entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openaillm.WithOrganization(org))
		}
		return openaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining any-llm-go backends; gemini and openai have native clients.
	for _, backend := range anyllm.Backends {
		if backend == "gemini" || backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	reg.RegisterImage("gemini", func(entry config.ProviderEntry) (image.Provider, error) {
		var opts []genaiimage.Option
		if entry.Model != "" {
			opts = append(opts, genaiimage.WithModel(entry.Model))
		}
		return genaiimage.New(ctx, entry.APIKey, opts...)
	})

	reg.RegisterS2S("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		opts := []geminilive.Option{geminilive.WithLogger(logger)}
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterAvatar("simli", func(entry config.ProviderEntry) (avatar.Provider, error) {
		var opts []simli.Option
		if entry.BaseURL != "" {
			opts = append(opts, simli.WithAPIURL(entry.BaseURL))
		}
		if u := optString(entry.Options, "stream_url"); u != "" {
			opts = append(opts, simli.WithStreamURL(u))
		}
		return simli.New(entry.APIKey, opts...), nil
	})

	for _, kind := range []string{"llm", "image", "s2s", "avatar"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// create builds one provider, skipping names nobody registered.
func create[T any](kind string, entry config.ProviderEntry, fn func(config.ProviderEntry) (T, error)) (T, bool, error) {
	var zero T
	if entry.Name == "" {
		return zero, false, nil
	}
	p, err := fn(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not available, skipping", "kind", kind, "name", entry.Name)
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, true, nil
}

func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	pc := cfg.Providers

	for _, entry := range append([]config.ProviderEntry{pc.LLM}, pc.LLMFallbacks...) {
		p, ok, err := create("llm", entry, reg.CreateLLM)
		if err != nil {
			return nil, err
		}
		if ok {
			ps.LLM = append(ps.LLM, app.Named[llm.Provider]{Name: entry.Name, Provider: p})
		}
	}
	for _, entry := range append([]config.ProviderEntry{pc.Image}, pc.ImageFallbacks...) {
		p, ok, err := create("image", entry, reg.CreateImage)
		if err != nil {
			return nil, err
		}
		if ok {
			ps.Image = append(ps.Image, app.Named[image.Provider]{Name: entry.Name, Provider: p})
		}
	}

	speech, ok, err := create("s2s", pc.S2S, reg.CreateS2S)
	if err != nil {
		return nil, err
	}
	if ok {
		ps.S2S = speech
	}
	face, ok, err := create("avatar", pc.Avatar, reg.CreateAvatar)
	if err != nil {
		return nil, err
	}
	if ok {
		ps.Avatar = face
	}
	return ps, nil
}

// ── Startup summary ────────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║            Astral Oracle                 ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Image", cfg.Providers.Image.Name, cfg.Providers.Image.Model)
	printProvider("Live voice", cfg.Providers.S2S.Name, cfg.Providers.S2S.Model)
	printProvider("Avatar", cfg.Providers.Avatar.Name, "")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  %-12s    : %-19d ║\n", "Oracles", len(cfg.Profiles()))
	journal := "memory"
	if cfg.Journal.PostgresDSN != "" {
		journal = "postgres"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", "Journal", journal)
	listen := cfg.Server.ListenAddr
	if listen == "" {
		listen = ":8080"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", "Listen", listen)
	fmt.Println("╚══════════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
