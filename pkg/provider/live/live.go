// Package live defines the Provider interface for duplex realtime voice
// backends.
//
// A live provider wraps a hosted voice model that accepts a continuous stream
// of microphone audio and answers with synthesised speech over one stateful
// connection. Everything the model sends back (audio, transcripts of both
// sides, turn boundaries, interruptions, and the end of the connection)
// arrives as a single ordered stream of tagged [Event]s, so a consumer
// handles each kind exactly once in one place.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrConnection is wrapped by every error caused by losing, or failing to
// establish, the transport connection.
var ErrConnection = errors.New("live: connection failed")

// ErrClosed is returned by Send after the session left the Open state.
var ErrClosed = errors.New("live: session closed")

// RemoteError is a failure reported by the remote service itself.
type RemoteError struct {
	// Code is the service's numeric error or close code, 0 if none.
	Code int

	// Status is the service's symbolic status or error type, if any.
	Status string

	// Message is the human-readable description.
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	switch {
	case e.Status != "" && e.Code != 0:
		return fmt.Sprintf("live: remote error %d %s: %s", e.Code, e.Status, e.Message)
	case e.Status != "":
		return fmt.Sprintf("live: remote error %s: %s", e.Status, e.Message)
	case e.Code != 0:
		return fmt.Sprintf("live: remote error %d: %s", e.Code, e.Message)
	default:
		return "live: remote error: " + e.Message
	}
}

// Config is the session configuration sent during setup.
type Config struct {
	// Instructions is the system prompt for the model.
	Instructions string

	// Voice names a provider voice. Empty selects the provider default.
	Voice string

	// InputRate is the sample rate of audio passed to Send, in Hz.
	InputRate int

	// OutputRate is the rate the caller plays model audio at, in Hz.
	// Providers report the rate they actually emit on each audio event.
	OutputRate int

	// SetupTimeout bounds the wait for the setup acknowledgement.
	// Zero means 15 seconds.
	SetupTimeout time.Duration
}

// EffectiveSetupTimeout returns the setup timeout of cfg with the default applied.
func (cfg Config) EffectiveSetupTimeout() time.Duration {
	if cfg.SetupTimeout > 0 {
		return cfg.SetupTimeout
	}
	return 15 * time.Second
}

// Session is an open duplex connection.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// Send delivers one encoded audio chunk. It returns an error wrapping
	// [ErrClosed] once the session left the Open state, or [ErrConnection]
	// when the write fails.
	Send(ctx context.Context, chunk audio.TransportChunk) error

	// Events returns the inbound event stream. Exactly one terminal event
	// ([KindClosed] or [KindError]) is delivered, after which the channel is
	// closed. Consumers must drain the channel promptly.
	Events() <-chan Event

	// State reports the connection state.
	State() State

	// Close ends the session. A session closed locally emits [KindClosed].
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Served is implemented by sessions that know which backend opened them.
// Providers that pick among several backends return such sessions.
type Served interface {
	// ServedBy returns the name of the backend behind the session.
	ServedBy() string
}

// ServedBy returns the backend serving sess, or p's name when sess does not
// report one.
func ServedBy(p Provider, sess Session) string {
	if s, ok := sess.(Served); ok {
		if name := s.ServedBy(); name != "" {
			return name
		}
	}
	return p.Name()
}

// Provider opens live sessions against one backend.
type Provider interface {
	// Name identifies the backend, e.g. "gemini-live".
	Name() string

	// Connect dials the service, sends the setup message, and waits for the
	// service to acknowledge it. The returned session is Open. Errors wrap
	// [ErrConnection] or are a [*RemoteError].
	Connect(ctx context.Context, cfg Config) (Session, error)
}
