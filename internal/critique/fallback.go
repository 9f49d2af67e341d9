package critique

import (
	"context"

	"github.com/MrWong99/parley/internal/resilience"
)

// Fallback is a Critic that tries several critics in order, each behind its
// own circuit breaker.
type Fallback struct {
	group *resilience.FallbackGroup[Critic]
}

var _ Critic = (*Fallback)(nil)

// NewFallback returns a Fallback with primary tried first.
func NewFallback(primary Critic, primaryName string, cfg resilience.FallbackConfig) *Fallback {
	return &Fallback{group: resilience.NewFallbackGroup(primary, primaryName, cfg)}
}

// Add registers another critic after the ones already added.
func (f *Fallback) Add(name string, c Critic) *Fallback {
	f.group.AddFallback(name, c)
	return f
}

// Critique implements [Critic]. An empty transcript is rejected without
// consulting any critic.
func (f *Fallback) Critique(ctx context.Context, transcript string) (*Critique, error) {
	if analyse(transcript).userTurns == 0 {
		return nil, ErrEmptyTranscript
	}
	c, _, err := resilience.ExecuteWithResult(ctx, f.group, func(ctx context.Context, c Critic) (*Critique, error) {
		return c.Critique(ctx, transcript)
	})
	return c, err
}
