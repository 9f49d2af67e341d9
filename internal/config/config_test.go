package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/critique"
	"github.com/MrWong99/parley/internal/prompt"
	"github.com/MrWong99/parley/pkg/provider/live"
	livemock "github.com/MrWong99/parley/pkg/provider/live/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: info
  log_format: json

live:
  voice: Puck
  setup_timeout: 8s
  providers:
    - name: gemini-live
      api_key: g-test
      model: gemini-2.0-flash-live-001
    - name: openai-realtime
      api_key: sk-test

audio:
  capture_rate: 16000
  playback_rate: 24000
  frame_size: 2048
  input_device: "USB Mic"

metrics:
  peak_threshold: 0.25
  refractory: 150ms

practice:
  persona:
    name: Dana
    role: a sceptical CFO
    topic: hiring two engineers
    goal: approval for the budget
    difficulty: hard

critique:
  name: openai
  api_key: sk-test
  model: gpt-4o-mini
  timeout: 30s

history:
  dir: ./sessions
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogInfo || cfg.Server.LogFormat != config.LogFormatJSON {
		t.Errorf("server = %+v", cfg.Server)
	}
	if len(cfg.Live.Providers) != 2 || cfg.Live.Providers[0].Name != "gemini-live" || cfg.Live.Providers[1].APIKey != "sk-test" {
		t.Errorf("live.providers = %+v", cfg.Live.Providers)
	}
	if cfg.Live.SetupTimeout != 8*time.Second || cfg.Live.Voice != "Puck" {
		t.Errorf("live = %+v", cfg.Live)
	}
	if cfg.Audio.InputDevice != "USB Mic" || cfg.Audio.FrameSize != 2048 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Metrics.Refractory != 150*time.Millisecond || cfg.Metrics.PeakThreshold != 0.25 {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
	want := prompt.Persona{Name: "Dana", Role: "a sceptical CFO", Topic: "hiring two engineers", Goal: "approval for the budget", Difficulty: prompt.DifficultyHard}
	if cfg.Practice.Persona != want {
		t.Errorf("persona = %+v, want %+v", cfg.Practice.Persona, want)
	}
	if cfg.Critique.Name != "openai" || cfg.Critique.Model != "gpt-4o-mini" || cfg.Critique.Timeout != 30*time.Second {
		t.Errorf("critique = %+v", cfg.Critique)
	}
	if cfg.History.Dir != "./sessions" {
		t.Errorf("history = %+v", cfg.History)
	}
}

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("PARLEY_TEST_GEMINI_KEY", "from-env")
	cfg := mustLoad(t, `
live:
  providers:
    - name: gemini-live
      api_key: ${PARLEY_TEST_GEMINI_KEY}
practice:
  persona: {name: Dana, role: a CFO}
`)
	if got := cfg.Live.Providers[0].APIKey; got != "from-env" {
		t.Errorf("api_key = %q, want from-env", got)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(sampleYAML + "\nnpcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestLoadFromReader_EmptyFailsValidation(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil {
		t.Fatal("expected validation error for empty config")
	}
	for _, want := range []string{"live.providers", "practice.persona.name", "practice.persona.role"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load("/nonexistent/parley.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gm-test")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("Load example config: %v", err)
	}
	if len(cfg.Live.Providers) != 2 || cfg.Live.Providers[0].APIKey != "gm-test" {
		t.Errorf("live providers = %+v", cfg.Live.Providers)
	}
	if cfg.Critique.Name != "openai" || cfg.Critique.APIKey != "sk-test" {
		t.Errorf("critique = %+v", cfg.Critique)
	}
	if cfg.Metrics.Refractory != 200*time.Millisecond {
		t.Errorf("metrics.refractory = %v, want 200ms", cfg.Metrics.Refractory)
	}
}

// ── registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	if _, err := reg.CreateLive(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLive: err = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateCritic(config.CritiqueConfig{}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateCritic: err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotEntry config.ProviderEntry
	reg.RegisterLive("mock", func(e config.ProviderEntry) (live.Provider, error) {
		gotEntry = e
		return &livemock.Provider{ProviderName: "mock"}, nil
	})
	reg.RegisterLive("alpha", func(config.ProviderEntry) (live.Provider, error) { return nil, nil })
	reg.RegisterCritic("heuristic", func(config.CritiqueConfig) (critique.Critic, error) { return critique.Heuristic{}, nil })

	p, err := reg.CreateLive(config.ProviderEntry{Name: "mock", APIKey: "k"})
	if err != nil {
		t.Fatalf("CreateLive: %v", err)
	}
	if p.Name() != "mock" || gotEntry.APIKey != "k" {
		t.Errorf("provider = %q, entry = %+v", p.Name(), gotEntry)
	}
	if _, err := reg.CreateCritic(config.CritiqueConfig{ProviderEntry: config.ProviderEntry{Name: "heuristic"}}); err != nil {
		t.Errorf("CreateCritic: %v", err)
	}
	if got := reg.LiveNames(); len(got) != 2 || got[0] != "alpha" || got[1] != "mock" {
		t.Errorf("LiveNames = %v", got)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterLive("bad", func(config.ProviderEntry) (live.Provider, error) { return nil, boom })
	if _, err := reg.CreateLive(config.ProviderEntry{Name: "bad"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}
