// Package mock provides in-memory implementations of the [audio.Source],
// [audio.Capture], and [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record calls so that tests can
// assert on them, and expose exported fields that control return values.
//
// Typical usage:
//
//	capture := mock.NewCapture(16000)
//	src := &mock.Source{OpenResult: capture}
//	sink := &mock.Sink{}
//	// ... start a session with src and sink ...
//	capture.Push(audio.Frame{Samples: frame, SampleRate: 16000})
//	sink.Last().Advance(time.Second) // plays one second of scheduled audio
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
)

// Compile-time assertions.
var (
	_ audio.Source  = (*Source)(nil)
	_ audio.Capture = (*Capture)(nil)
	_ audio.Sink    = (*Sink)(nil)
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a scripted microphone. Frames pushed with [Capture.Push] are
// delivered on the Frames channel.
type Capture struct {
	rate   int
	frames chan audio.Frame

	mu         sync.Mutex
	closed     bool
	CloseCalls int
}

// NewCapture returns an open capture emitting frames at rate Hz.
func NewCapture(rate int) *Capture {
	return &Capture{rate: rate, frames: make(chan audio.Frame, 64)}
}

// Push delivers f to the consumer. It blocks while the buffer is full and
// reports false once the capture is closed.
func (c *Capture) Push(f audio.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if f.SampleRate == 0 {
		f.SampleRate = c.rate
	}
	c.frames <- f
	return true
}

// End simulates device loss: the Frames channel closes without a Close call.
func (c *Capture) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
}

// Frames implements [audio.Capture].
func (c *Capture) Frames() <-chan audio.Frame { return c.frames }

// SampleRate implements [audio.Capture].
func (c *Capture) SampleRate() int { return c.rate }

// Close implements [audio.Capture]. Idempotent.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCalls++
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	return nil
}

// Closed reports whether the capture has been closed or ended.
func (c *Capture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source].
type Source struct {
	mu sync.Mutex

	// OpenResult is returned by Open. When nil, Open creates a fresh Capture at
	// the requested rate.
	OpenResult *Capture

	// OpenError is returned by Open when set.
	OpenError error

	// OpenCalls records the configuration of every Open invocation.
	OpenCalls []audio.CaptureConfig

	captures []*Capture
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context, cfg audio.CaptureConfig) (audio.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, cfg)
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	c := s.OpenResult
	if c == nil {
		c = NewCapture(cfg.SampleRate)
	}
	s.captures = append(s.captures, c)
	return c, nil
}

// Last returns the most recently opened capture, or nil.
func (s *Source) Last() *Capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.captures) == 0 {
		return nil
	}
	return s.captures[len(s.captures)-1]
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock [audio.Sink] whose outputs are software [audio.Timeline]s.
// Tests advance playback by calling Render or Advance on the timeline.
type Sink struct {
	mu sync.Mutex

	// OpenError is returned by Open when set.
	OpenError error

	// OpenRates records the rate of every Open invocation.
	OpenRates []int

	timelines []*audio.Timeline
}

// Open implements [audio.Sink].
func (s *Sink) Open(_ context.Context, rate int) (audio.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenRates = append(s.OpenRates, rate)
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	tl := audio.NewTimeline(rate)
	s.timelines = append(s.timelines, tl)
	return tl, nil
}

// Last returns the most recently opened timeline, or nil.
func (s *Sink) Last() *audio.Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timelines) == 0 {
		return nil
	}
	return s.timelines[len(s.timelines)-1]
}
