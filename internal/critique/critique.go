// Package critique scores a finished practice conversation and suggests
// improvements. It runs only after a session has stopped.
package critique

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyTranscript is returned when there is nothing to critique.
var ErrEmptyTranscript = errors.New("critique: empty transcript")

// Scores rate the user's delivery on a 0 to 100 scale.
type Scores struct {
	Clarity    int `json:"clarity"`
	Confidence int `json:"confidence"`
	Persuasion int `json:"persuasion"`
	Empathy    int `json:"empathy"`
}

// Overall is the rounded mean of the four scores.
func (s Scores) Overall() int {
	return (s.Clarity + s.Confidence + s.Persuasion + s.Empathy + 2) / 4
}

func (s Scores) clamp() Scores {
	c := func(v int) int { return min(100, max(0, v)) }
	return Scores{
		Clarity:    c(s.Clarity),
		Confidence: c(s.Confidence),
		Persuasion: c(s.Persuasion),
		Empathy:    c(s.Empathy),
	}
}

// Critique is the structured feedback for one session.
type Critique struct {
	Scores       Scores   `json:"scores"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Summary      string   `json:"summary"`

	// Source names the critic that produced this critique.
	Source string `json:"source,omitempty"`
}

// Critic produces a Critique from a "Role: text" transcript.
type Critic interface {
	Critique(ctx context.Context, transcript string) (*Critique, error)
}

// Parse decodes a model reply into a Critique. Scores are clamped to [0, 100]
// and blank list entries are dropped.
func Parse(raw string) (*Critique, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var c Critique
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("critique: decode reply: %w", err)
	}
	c.Scores = c.Scores.clamp()
	c.Strengths = compact(c.Strengths)
	c.Improvements = compact(c.Improvements)
	c.Summary = strings.TrimSpace(c.Summary)
	if c.Summary == "" && len(c.Strengths) == 0 && len(c.Improvements) == 0 {
		return nil, errors.New("critique: reply has no feedback")
	}
	return &c, nil
}

func compact(items []string) []string {
	out := items[:0]
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
