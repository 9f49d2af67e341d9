package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/parley/internal/prompt"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live":     {"gemini-live", "openai-realtime"},
	"critique": {"openai", "heuristic"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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
// ${VAR} and $VAR references are expanded from the environment before
// decoding, so secrets can live in .env files.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

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
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Live providers
	if len(cfg.Live.Providers) == 0 {
		errs = append(errs, errors.New("live.providers needs at least one entry"))
	}
	seen := make(map[string]int, len(cfg.Live.Providers))
	for i, p := range cfg.Live.Providers {
		prefix := fmt.Sprintf("live.providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[p.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of live.providers[%d]", prefix, p.Name, prev))
		}
		seen[p.Name] = i
		validateProviderName("live", p.Name)
		if p.APIKey == "" {
			slog.Warn("live provider has no api_key; connecting will likely fail", "provider", p.Name)
		}
	}
	if cfg.Live.SetupTimeout < 0 {
		errs = append(errs, fmt.Errorf("live.setup_timeout %v must not be negative", cfg.Live.SetupTimeout))
	}

	// Audio
	for _, f := range []struct {
		name string
		rate int
	}{
		{"audio.capture_rate", cfg.Audio.CaptureRate},
		{"audio.playback_rate", cfg.Audio.PlaybackRate},
	} {
		if f.rate != 0 && (f.rate < 8000 || f.rate > 48000) {
			errs = append(errs, fmt.Errorf("%s %d is out of range [8000, 48000]", f.name, f.rate))
		}
	}
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must not be negative", cfg.Audio.FrameSize))
	}

	// Metrics
	if cfg.Metrics.PeakThreshold < 0 || cfg.Metrics.PeakThreshold >= 1 {
		errs = append(errs, fmt.Errorf("metrics.peak_threshold %.2f is out of range [0, 1)", cfg.Metrics.PeakThreshold))
	}
	if cfg.Metrics.FFTSize < 0 {
		errs = append(errs, fmt.Errorf("metrics.fft_size %d must not be negative", cfg.Metrics.FFTSize))
	}
	if cfg.Metrics.Refractory < 0 {
		errs = append(errs, fmt.Errorf("metrics.refractory %v must not be negative", cfg.Metrics.Refractory))
	}

	// Practice
	p := cfg.Practice.Persona
	if p.Name == "" {
		errs = append(errs, errors.New("practice.persona.name is required"))
	}
	if p.Role == "" {
		errs = append(errs, errors.New("practice.persona.role is required"))
	}
	switch p.Difficulty {
	case "", prompt.DifficultyEasy, prompt.DifficultyMedium, prompt.DifficultyHard:
	default:
		errs = append(errs, fmt.Errorf("practice.persona.difficulty %q is invalid; valid values: easy, medium, hard", p.Difficulty))
	}
	if _, err := prompt.NewTemplateBuilder(cfg.Practice.Template); err != nil {
		errs = append(errs, fmt.Errorf("practice.template: %w", err))
	}

	// Critique
	validateProviderName("critique", cfg.Critique.Name)
	if cfg.Critique.Name == "openai" && cfg.Critique.APIKey == "" {
		errs = append(errs, errors.New("critique.api_key is required for the openai critic"))
	}
	if cfg.Critique.Timeout < 0 {
		errs = append(errs, fmt.Errorf("critique.timeout %v must not be negative", cfg.Critique.Timeout))
	}

	// History
	if cfg.History.PostgresDSN != "" && cfg.History.Dir != "" {
		slog.Warn("both history.postgres_dsn and history.dir are set; using postgres")
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
