package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/critique"
	"github.com/MrWong99/parley/internal/history"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/prompt"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/internal/vocal"
	"github.com/MrWong99/parley/pkg/audio"
)

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	cases := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range cases {
		if got := slogLevel(in); got != want {
			t.Errorf("slogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	t.Parallel()
	root := newRootCmd()
	for _, name := range []string{"practice", "history", "devices"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not found: %v", name, err)
		}
	}
	if f := root.PersistentFlags().Lookup("config"); f == nil || f.DefValue != "parley.yaml" {
		t.Errorf("--config flag = %+v", f)
	}
}

func TestConsole_Transcript(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c := newConsole(&buf)
	c.transcript(turn.RoleUser, "Hi")
	c.transcript(turn.RoleUser, " there")
	c.transcript(turn.RoleModel, "Hello")
	c.interrupted()
	c.printf("done\n")

	want := "User: Hi there\nModel: Hello [interrupted]\ndone\n"
	if got := buf.String(); got != want {
		t.Errorf("console output = %q, want %q", got, want)
	}
}

func TestConsole_Report(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	crit := &critique.Critique{
		Scores:       critique.Scores{Clarity: 80, Confidence: 60, Persuasion: 70, Empathy: 50},
		Strengths:    []string{"clear ask"},
		Improvements: []string{"slow down"},
		Summary:      "Solid start.",
		Source:       "heuristic",
	}
	newConsole(&buf).report(sampleMetrics(), crit)

	out := buf.String()
	for _, want := range []string{"Critique (heuristic)", "overall      65", "- clear ask", "- slow down", "Solid start."} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestBuildLive(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, observe.DefaultMetrics())

	cfg := &config.Config{Live: config.LiveConfig{Providers: []config.ProviderEntry{
		{Name: "gemini-live", APIKey: "k1"},
		{Name: "openai-realtime", APIKey: "k2", Model: "gpt-realtime"},
	}}}
	p, err := buildLive(cfg, reg)
	if err != nil {
		t.Fatalf("buildLive: %v", err)
	}
	if got, want := p.Name(), "gemini-live|openai-realtime"; got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}

	cfg.Live.Providers = []config.ProviderEntry{{Name: "nope"}}
	if _, err := buildLive(cfg, reg); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unknown provider: err = %v, want ErrProviderNotRegistered", err)
	}

	cfg.Live.Providers = nil
	if _, err := buildLive(cfg, reg); err == nil {
		t.Error("empty provider list: want error")
	}
}

func TestBuildCritic(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, observe.DefaultMetrics())

	cfg := &config.Config{}
	c, err := buildCritic(cfg, reg)
	if err != nil {
		t.Fatalf("buildCritic(empty): %v", err)
	}
	if _, ok := c.(critique.Heuristic); !ok {
		t.Errorf("empty critic name: got %T, want critique.Heuristic", c)
	}

	cfg.Critique.ProviderEntry = config.ProviderEntry{Name: "openai", APIKey: "sk-test"}
	c, err = buildCritic(cfg, reg)
	if err != nil {
		t.Fatalf("buildCritic(openai): %v", err)
	}
	if _, ok := c.(*critique.Fallback); !ok {
		t.Errorf("openai critic: got %T, want *critique.Fallback", c)
	}
}

func TestOpenHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := openHistory(ctx, config.HistoryConfig{})
	if err != nil || s != nil {
		t.Fatalf("disabled history = (%v, %v), want (nil, nil)", s, err)
	}

	dir := filepath.Join(t.TempDir(), "sessions")
	s, err = openHistory(ctx, config.HistoryConfig{Dir: dir})
	if err != nil {
		t.Fatalf("openHistory(dir): %v", err)
	}
	defer s.Close()
	if _, ok := s.(*history.Dir); !ok {
		t.Errorf("got %T, want *history.Dir", s)
	}
}

func TestSessionConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Live:  config.LiveConfig{Voice: "Puck", SetupTimeout: 7 * time.Second},
		Audio: config.AudioConfig{CaptureRate: 16000, PlaybackRate: 24000, FrameSize: 1024, InputDevice: "USB Mic"},
		Metrics: config.MetricsConfig{
			FFTSize: 512, PeakThreshold: 0.4, Refractory: 150 * time.Millisecond,
		},
		Practice: config.PracticeConfig{Persona: prompt.Persona{Name: "Dana", Role: "a CFO"}},
	}
	sc := sessionConfig(cfg)
	if sc.Voice != "Puck" || sc.SetupTimeout != 7*time.Second || sc.InputDevice != "USB Mic" {
		t.Errorf("live/audio fields not mapped: %+v", sc)
	}
	if sc.CaptureRate != 16000 || sc.PlaybackRate != 24000 || sc.FrameSize != 1024 {
		t.Errorf("rates not mapped: %+v", sc)
	}
	if sc.Vocal.FFTSize != 512 || sc.Vocal.PeakThreshold != 0.4 || sc.Vocal.Refractory != 150*time.Millisecond {
		t.Errorf("vocal config not mapped: %+v", sc.Vocal)
	}
	if sc.Persona.Name != "Dana" {
		t.Errorf("persona not mapped: %+v", sc.Persona)
	}
}

func TestPrintSummaries(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printSummaries(&buf, nil)
	if !strings.Contains(buf.String(), "No sessions") {
		t.Errorf("empty listing = %q", buf.String())
	}

	buf.Reset()
	id := uuid.New()
	printSummaries(&buf, []history.Summary{{
		ID: id, StartedAt: time.Now(), Duration: time.Minute,
		Persona: "Dana", Topic: "hiring", Turns: 4, Pace: 12, Overall: -1,
	}})
	out := buf.String()
	if !strings.Contains(out, id.String()) || !strings.Contains(out, "Dana") {
		t.Errorf("listing missing row:\n%s", out)
	}
	if !strings.Contains(out, " -") {
		t.Errorf("missing critique should print '-':\n%s", out)
	}
}

func TestExportTurns(t *testing.T) {
	t.Parallel()
	released := audio.EncodeWAV([]int16{1, 2}, 16000)
	released.Release()
	rec := &history.Record{Turns: []turn.Turn{
		{Role: turn.RoleUser, Audio: audio.EncodeWAV(make([]int16, 160), 16000)},
		{Role: turn.RoleModel},
		{Role: turn.RoleModel, Audio: audio.EncodeWAV([]int16{5, -5}, 24000)},
		{Role: turn.RoleUser, Audio: released},
	}}

	dir := filepath.Join(t.TempDir(), "out")
	n, err := exportTurns(dir, rec)
	if err != nil {
		t.Fatalf("exportTurns: %v", err)
	}
	if n != 2 {
		t.Errorf("exported %d files, want 2", n)
	}
	for _, name := range []string{"00-user.wav", "02-model.wav"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("read %s: %v", name, err)
			continue
		}
		if _, err := audio.ParseClip(data); err != nil {
			t.Errorf("%s is not a valid clip: %v", name, err)
		}
	}
}

func sampleMetrics() vocal.Metrics {
	return vocal.Metrics{Energy: 0.5, Pace: 30, Elapsed: time.Minute}
}
