package config

import "slices"

// ConfigDiff describes what changed between two configs. A running session
// is never altered; persona and provider changes apply to the next session.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PersonaChanged covers the persona and the instruction template.
	PersonaChanged bool

	// LiveChanged is true when the provider chain or voice differs.
	LiveChanged bool

	// AudioChanged is true when devices, rates, or frame size differ.
	AudioChanged bool

	// MetricsChanged is true when the analyser settings differ.
	MetricsChanged bool
}

// Changed reports whether anything tracked differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PersonaChanged || d.LiveChanged || d.AudioChanged || d.MetricsChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.PersonaChanged = old.Practice.Persona != new.Practice.Persona ||
		old.Practice.Template != new.Practice.Template

	d.LiveChanged = old.Live.Voice != new.Live.Voice ||
		old.Live.SetupTimeout != new.Live.SetupTimeout ||
		!slices.EqualFunc(old.Live.Providers, new.Live.Providers, sameEntry)

	d.AudioChanged = old.Audio != new.Audio
	d.MetricsChanged = old.Metrics != new.Metrics

	return d
}

// sameEntry compares the fields that select and authenticate a provider.
// Options are not compared.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
