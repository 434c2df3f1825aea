package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/astraloracle/oracle/internal/oracle"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":    {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"image":  {"gemini"},
	"s2s":    {"gemini-live"},
	"avatar": {"simli"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// ${VAR} references are replaced from the environment before decoding, so
// secrets can live in the environment or a .env file.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls needs both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, e := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", e.Name)
	}
	validateProviderName("image", cfg.Providers.Image.Name)
	for _, e := range cfg.Providers.ImageFallbacks {
		validateProviderName("image", e.Name)
	}
	validateProviderName("s2s", cfg.Providers.S2S.Name)
	validateProviderName("avatar", cfg.Providers.Avatar.Name)

	if cfg.Providers.LLM.Name == "" && len(cfg.Providers.LLMFallbacks) > 0 {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}
	if cfg.Providers.Image.Name == "" && len(cfg.Providers.ImageFallbacks) > 0 {
		errs = append(errs, errors.New("providers.image_fallbacks requires providers.image"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; readings will use the fallback text")
	}
	if cfg.Providers.S2S.Name == "" {
		slog.Warn("providers.s2s is not configured; live sessions are disabled")
	}
	if cfg.Session.Avatar && cfg.Providers.Avatar.Name == "" {
		errs = append(errs, errors.New("session.avatar requires providers.avatar"))
	}

	// Session
	s := cfg.Session
	if s.Duration < 0 || s.RitualStepDuration < 0 || s.VisualizationInterval < 0 {
		errs = append(errs, errors.New("session durations must not be negative"))
	}
	if s.CaptureRate < 0 || s.PlaybackRate < 0 || s.BlockSize < 0 || s.MaxConcurrent < 0 {
		errs = append(errs, errors.New("session rates, block_size and max_concurrent must not be negative"))
	}

	// Oracles
	seen := make(map[string]int, len(cfg.Oracles))
	for i, o := range cfg.Oracles {
		prefix := fmt.Sprintf("oracles[%d]", i)
		if prev, ok := seen[o.ID]; ok && o.ID != "" {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of oracles[%d]", prefix, o.ID, prev))
		}
		seen[o.ID] = i
		if err := oracle.Validate(o.Profile()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}

	// Journal
	if cfg.Journal.Retention < 0 {
		errs = append(errs, errors.New("journal.retention must not be negative"))
	}
	if cfg.Journal.PostgresDSN == "" {
		slog.Debug("journal.postgres_dsn is empty; the journal is kept in memory")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
