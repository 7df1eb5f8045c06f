package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcribe": {"openai", "whisper-http"},
	"polish":     {"openai", "anyllm"},
}

// ValidPolishBackends lists the LLM backends the "anyllm" polish provider
// understands.
var ValidPolishBackends = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
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
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
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

	// Storage
	if cfg.Storage.Backend != "" && !cfg.Storage.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, file, postgres", cfg.Storage.Backend))
	}
	if cfg.Storage.Backend == StoragePostgres && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required when storage.backend is postgres"))
	}
	if cfg.Storage.Backend == StorageMemory {
		slog.Warn("storage.backend is memory; notes will not survive a restart")
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("transcribe", cfg.Providers.Transcribe.Name)
	validateProviderName("polish", cfg.Providers.Polish.Name)

	if cfg.Providers.Transcribe.Name == "" {
		slog.Warn("providers.transcribe is not configured; recordings cannot be transcribed")
	}
	if cfg.Providers.Polish.Name == "" {
		slog.Warn("providers.polish is not configured; transcriptions will be kept raw")
	}

	// Credentials. The whisper-http provider talks to a local server and
	// needs none.
	if cfg.Providers.Transcribe.Name == "openai" && cfg.Providers.Transcribe.APIKey == "" {
		errs = append(errs, errors.New("providers.transcribe.api_key is required for the openai provider"))
	}
	if cfg.Providers.Transcribe.Name == "whisper-http" && cfg.Providers.Transcribe.BaseURL == "" {
		errs = append(errs, errors.New("providers.transcribe.base_url is required for the whisper-http provider"))
	}
	if cfg.Providers.Polish.Name == "openai" && cfg.Providers.Polish.APIKey == "" {
		errs = append(errs, errors.New("providers.polish.api_key is required for the openai provider"))
	}
	if cfg.Providers.Polish.Name == "anyllm" {
		backend := cfg.Providers.Polish.Backend
		if backend == "" {
			errs = append(errs, errors.New("providers.polish.backend is required for the anyllm provider"))
		} else if !slices.Contains(ValidPolishBackends, backend) {
			errs = append(errs, fmt.Errorf("providers.polish.backend %q is unknown; valid values: %v", backend, ValidPolishBackends))
		}
	}

	// Pipeline
	if cfg.Pipeline.InitialBackoff < 0 {
		errs = append(errs, fmt.Errorf("pipeline.initial_backoff %v must not be negative", cfg.Pipeline.InitialBackoff.Std()))
	}
	if cfg.Pipeline.MaxAttempts > 10 {
		slog.Warn("pipeline.max_attempts is high; failed stages will block for a long time",
			"max_attempts", cfg.Pipeline.MaxAttempts)
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
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
