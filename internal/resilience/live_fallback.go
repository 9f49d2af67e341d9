package resilience

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MrWong99/parley/pkg/provider/live"
)

// LiveFallback implements [live.Provider] with failover across several live
// backends. Only Connect fails over; once a session is open, losing it ends
// the practice session like any other connection loss.
type LiveFallback struct {
	group *FallbackGroup[live.Provider]
}

// Compile-time interface assertion.
var _ live.Provider = (*LiveFallback)(nil)

// NewLiveFallback creates a [LiveFallback] with primary as the preferred backend.
func NewLiveFallback(primary live.Provider, cfg FallbackConfig) *LiveFallback {
	return &LiveFallback{group: NewFallbackGroup(primary, primary.Name(), cfg)}
}

// AddFallback registers an additional live provider.
func (f *LiveFallback) AddFallback(p live.Provider) {
	f.group.AddFallback(p.Name(), p)
}

// Name lists the backends in failover order, e.g. "gemini-live|openai-realtime".
func (f *LiveFallback) Name() string {
	return strings.Join(f.group.Names(), "|")
}

// Connect opens a session on the first backend that accepts it. The session
// implements [live.Served] and reports that backend's name. The error
// wraps [ErrAllFailed] and the last backend's error, so classification with
// errors.Is and errors.As still sees [live.ErrConnection] or [*live.RemoteError].
func (f *LiveFallback) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	sess, name, err := ExecuteWithResult(ctx, f.group, func(ctx context.Context, p live.Provider) (live.Session, error) {
		return p.Connect(ctx, cfg)
	})
	if err != nil {
		return nil, err
	}
	if name != f.group.Primary().Name() {
		slog.Info("live session opened on fallback provider", "provider", name)
	}
	return &servedSession{Session: sess, backend: name}, nil
}

// servedSession tags a session with the backend that opened it.
type servedSession struct {
	live.Session
	backend string
}

var _ live.Served = (*servedSession)(nil)

// ServedBy returns the name of the backend that accepted the connection.
func (s *servedSession) ServedBy() string { return s.backend }
