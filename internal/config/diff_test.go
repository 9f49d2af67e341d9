package config_test

import (
	"testing"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/prompt"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Live: config.LiveConfig{
			Voice:     "Puck",
			Providers: []config.ProviderEntry{{Name: "gemini-live", APIKey: "k"}},
		},
		Audio:    config.AudioConfig{CaptureRate: 16000},
		Practice: config.PracticeConfig{Persona: prompt.Persona{Name: "Dana", Role: "a CFO"}},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("diff of identical configs = %+v", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(config.ConfigDiff) bool
	}{
		{"log level", func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			func(d config.ConfigDiff) bool { return d.LogLevelChanged && d.NewLogLevel == config.LogDebug }},
		{"persona", func(c *config.Config) { c.Practice.Persona.Topic = "pricing" },
			func(d config.ConfigDiff) bool { return d.PersonaChanged }},
		{"template", func(c *config.Config) { c.Practice.Template = "You are {{.Name}}." },
			func(d config.ConfigDiff) bool { return d.PersonaChanged }},
		{"voice", func(c *config.Config) { c.Live.Voice = "Kore" },
			func(d config.ConfigDiff) bool { return d.LiveChanged }},
		{"provider added", func(c *config.Config) {
			c.Live.Providers = append(c.Live.Providers, config.ProviderEntry{Name: "openai-realtime"})
		}, func(d config.ConfigDiff) bool { return d.LiveChanged }},
		{"provider key", func(c *config.Config) { c.Live.Providers[0].APIKey = "rotated" },
			func(d config.ConfigDiff) bool { return d.LiveChanged }},
		{"audio", func(c *config.Config) { c.Audio.InputDevice = "USB Mic" },
			func(d config.ConfigDiff) bool { return d.AudioChanged }},
		{"metrics", func(c *config.Config) { c.Metrics.PeakThreshold = 0.2 },
			func(d config.ConfigDiff) bool { return d.MetricsChanged }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			updated := baseConfig()
			tt.mutate(updated)
			d := config.Diff(baseConfig(), updated)
			if !tt.check(d) || !d.Changed() {
				t.Errorf("diff = %+v", d)
			}
		})
	}
}

func TestDiff_IgnoresProviderOptions(t *testing.T) {
	t.Parallel()
	updated := baseConfig()
	updated.Live.Providers[0].Options = map[string]any{"x": 1}
	if d := config.Diff(baseConfig(), updated); d.LiveChanged {
		t.Error("options alone should not mark live as changed")
	}
}
