// Package audio defines the audio primitives of a practice session: captured
// frames, the PCM16 wire codec, WAV clips, and the playback clock.
//
// The two device abstractions are:
//
//   - [Source] opens a microphone and returns a [Capture] that emits [Frame]s.
//   - [Sink] opens a speaker and returns an [Output] whose clock schedules
//     sample buffers for gapless playback.
//
// Hardware-backed implementations live in audio/device; audio/mock provides
// scripted ones for tests. Both directions are mono.
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned when the user or OS refused microphone access.
	ErrPermissionDenied = errors.New("audio: permission denied")

	// ErrDeviceUnavailable is returned when no capture or playback device can be
	// opened, or when an open device disappears mid-session.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrDecode is returned when an encoded audio payload cannot be decoded.
	ErrDecode = errors.New("audio: decode failed")
)

// CaptureConfig describes the frames a [Source] should emit.
type CaptureConfig struct {
	// SampleRate of emitted frames in Hz. Sources resample if the device runs
	// at a different rate.
	SampleRate int

	// FrameSize is the number of samples per emitted frame.
	FrameSize int

	// Device selects an input device by name. Empty means the system default.
	Device string
}

// Source acquires microphone access.
type Source interface {
	// Open starts capture. It returns an error wrapping [ErrPermissionDenied] or
	// [ErrDeviceUnavailable] when the microphone cannot be used.
	Open(ctx context.Context, cfg CaptureConfig) (Capture, error)
}

// Capture is a running microphone stream.
type Capture interface {
	// Frames returns the channel of captured frames. The channel is closed when
	// the capture is closed or the device is lost.
	Frames() <-chan Frame

	// SampleRate returns the rate of emitted frames.
	SampleRate() int

	// Close stops capture and releases the device. Safe to call more than once.
	Close() error
}

// Sink acquires a playback device.
type Sink interface {
	// Open starts a playback clock running at rate Hz.
	Open(ctx context.Context, rate int) (Output, error)
}

// Voice is one scheduled buffer on an [Output].
type Voice interface {
	// Stop silences the voice immediately. Its end callback is not invoked.
	// Stopping a finished voice is a no-op.
	Stop()
}

// Output is a playback clock. Buffers scheduled at absolute clock positions
// play back to back without gaps when their positions abut.
type Output interface {
	// Now reports the current clock position.
	Now() time.Duration

	// SampleRate returns the output rate in Hz.
	SampleRate() int

	// Schedule queues samples to start at clock position at. onEnded, if non-nil,
	// runs once after the last sample has played. Positions in the past start
	// immediately.
	Schedule(samples []float32, at time.Duration, onEnded func()) Voice

	// Close stops all voices and releases the device. Safe to call more than once.
	Close() error
}
