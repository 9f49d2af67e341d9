// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out scripted sessions. Use
// Session to push inbound events and inspect the audio the code under test
// sent.
//
// Example:
//
//	p := &mock.Provider{}
//	sess, _ := p.Connect(ctx, cfg)
//	p.Last().Push(live.Event{Kind: live.KindOutputTranscript, Text: "Hi"})
//	p.Last().Push(live.Event{Kind: live.KindClosed})
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// Compile-time assertions.
var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*Session)(nil)
)

const eventBuffer = 256

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the Config passed to Connect.
	Cfg live.Config
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	sessions []*Session
}

// Name returns ProviderName or "mock".
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Connect records the call and returns a new open Session, or ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	s := NewSession()
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Last returns the most recently connected session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// Session is a scripted live.Session.
type Session struct {
	mu     sync.Mutex
	stream *live.Stream

	// SendErr, if non-nil, is returned from Send while the session is open.
	SendErr error

	sent       []audio.TransportChunk
	closeCalls int
}

// NewSession returns an Open session.
func NewSession() *Session {
	s := &Session{stream: live.NewStream(eventBuffer)}
	s.stream.SetState(live.StateOpen)
	return s
}

// Push delivers ev to the consumer. A terminal event ends the stream. It
// reports false if the stream had already ended.
func (s *Session) Push(ev live.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream.State() == live.StateClosed {
		return false
	}
	if ev.Kind.Terminal() {
		s.stream.Finish(context.Background(), ev)
		return true
	}
	return s.stream.Emit(context.Background(), ev)
}

// Send records chunk.
func (s *Session) Send(_ context.Context, chunk audio.TransportChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream.State() != live.StateOpen {
		return fmt.Errorf("mock: send: %w", live.ErrClosed)
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, chunk)
	return nil
}

// Sent returns a copy of every chunk accepted by Send.
func (s *Session) Sent() []audio.TransportChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.TransportChunk(nil), s.sent...)
}

// SetSendErr changes the error returned by Send.
func (s *Session) SetSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendErr = err
}

// Events implements live.Session.
func (s *Session) Events() <-chan live.Event { return s.stream.Events() }

// State implements live.Session.
func (s *Session) State() live.State { return s.stream.State() }

// Close ends the stream with KindClosed. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	s.stream.Finish(context.Background(), live.Event{Kind: live.KindClosed})
	return nil
}

// CloseCalls returns how many times Close was called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
