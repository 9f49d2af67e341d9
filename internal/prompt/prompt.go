// Package prompt renders the system instruction that opens a live practice
// session from a persona description.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

// Difficulty controls how much resistance the persona puts up.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ErrNoPersona is returned when a persona lacks a name or role.
var ErrNoPersona = errors.New("prompt: persona needs a name and a role")

// Persona describes who the model plays and what the user is practising.
type Persona struct {
	// Name is what the model calls itself.
	Name string `yaml:"name" json:"name"`

	// Role is a free-text description of the character, e.g. "a sceptical CFO".
	Role string `yaml:"role" json:"role"`

	// Topic is the subject of the conversation.
	Topic string `yaml:"topic" json:"topic"`

	// Goal is the outcome the user is trying to reach.
	Goal string `yaml:"goal" json:"goal"`

	// Difficulty is one of easy, medium, hard. Empty means medium.
	Difficulty Difficulty `yaml:"difficulty" json:"difficulty,omitempty"`
}

// Builder turns a persona into a system instruction.
type Builder interface {
	Build(p Persona) (string, error)
}

// DefaultTemplate is the instruction used when no custom template is configured.
const DefaultTemplate = `You are {{.Name}}, {{.Role}}.
You are in a live spoken conversation with a person who is practising a difficult conversation.
{{- if .Topic}}
The conversation is about: {{.Topic}}.
{{- end}}
{{- if .Goal}}
The person wants to reach this outcome: {{.Goal}}.
{{- end}}

Stay in character for the whole conversation and never mention that this is practice.
Speak naturally and briefly, the way people talk, one or two sentences at a time.
{{- if eq .Difficulty "easy"}}
Be cooperative and open. Let yourself be persuaded by reasonable arguments.
{{- else if eq .Difficulty "hard"}}
Be demanding and sceptical. Push back on vague claims, raise objections, and only concede to specific, well-argued points.
{{- else}}
Be realistic. Raise the objections someone in your position would raise, and respond fairly to good arguments.
{{- end}}
`

// TemplateBuilder renders a [text/template] against the persona.
type TemplateBuilder struct {
	tmpl *template.Template
}

var _ Builder = (*TemplateBuilder)(nil)

// NewTemplateBuilder parses text. An empty text selects [DefaultTemplate].
func NewTemplateBuilder(text string) (*TemplateBuilder, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("instruction").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("prompt: parse template: %w", err)
	}
	return &TemplateBuilder{tmpl: tmpl}, nil
}

// Build implements [Builder].
func (b *TemplateBuilder) Build(p Persona) (string, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Role = strings.TrimSpace(p.Role)
	if p.Name == "" || p.Role == "" {
		return "", ErrNoPersona
	}
	if p.Difficulty == "" {
		p.Difficulty = DifficultyMedium
	}

	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("prompt: render: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Static is a Builder that always returns the same instruction.
type Static string

// Build implements [Builder].
func (s Static) Build(Persona) (string, error) { return string(s), nil }
