package live

import (
	"context"
	"sync"
	"sync/atomic"
)

// Stream is the event plumbing shared by [Session] implementations: the
// state machine and the outbound event channel.
//
// Emit and Finish must be called from a single goroutine, normally the
// session's receive loop. State and SetState are safe from any goroutine.
type Stream struct {
	events chan Event
	state  atomic.Int32
	once   sync.Once
}

// NewStream returns an Idle stream whose channel buffers up to buffer events.
func NewStream(buffer int) *Stream {
	return &Stream{events: make(chan Event, buffer)}
}

// Events returns the receive side of the event channel.
func (s *Stream) Events() <-chan Event { return s.events }

// State returns the current state.
func (s *Stream) State() State { return State(s.state.Load()) }

// SetState moves the stream to st. Closed is final.
func (s *Stream) SetState(st State) {
	for {
		cur := s.state.Load()
		if State(cur) == StateClosed {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}

// Emit delivers a non-terminal event, blocking until the consumer accepts
// it or ctx is done. It reports whether the event was delivered.
func (s *Stream) Emit(ctx context.Context, ev Event) bool {
	if s.State() == StateClosed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Finish moves the stream to Closed, delivers the terminal event ev, and
// closes the channel. Delivery is best effort once ctx is done. Only the
// first call has any effect.
func (s *Stream) Finish(ctx context.Context, ev Event) {
	s.once.Do(func() {
		s.SetState(StateClosed)
		select {
		case s.events <- ev:
		default:
			select {
			case s.events <- ev:
			case <-ctx.Done():
			}
		}
		close(s.events)
	})
}
