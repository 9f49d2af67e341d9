package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// Kind classifies session errors so callers can tell a missing microphone
// from a lost connection from a rejected API key.
type Kind int

const (
	// KindUnknown is never produced by the controller.
	KindUnknown Kind = iota

	// KindPermissionDenied means microphone access was refused.
	KindPermissionDenied

	// KindDeviceUnavailable means no usable input or output device exists,
	// or the capture device disappeared mid-session.
	KindDeviceUnavailable

	// KindConnection means the live connection could not be established or
	// was lost.
	KindConnection

	// KindRemote means the live service rejected the session, e.g. an
	// invalid API key or an unsupported model.
	KindRemote

	// KindDecode means inbound audio could not be decoded. It is counted
	// and logged, never returned.
	KindDecode

	// KindSend means an outbound frame could not be delivered. It is counted
	// and logged, never returned.
	KindSend

	// KindConfig means the session configuration was rejected before any
	// resource was acquired, e.g. the instruction template failed.
	KindConfig

	// KindCanceled means the caller's context was cancelled while the
	// session was starting. It is not a failure of any device or service.
	KindCanceled
)

// String returns the lower-case name used in logs and metric attributes.
func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindConnection:
		return "connection"
	case KindRemote:
		return "remote"
	case KindDecode:
		return "decode"
	case KindSend:
		return "send"
	case KindConfig:
		return "config"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is the error type returned by [Controller.Start] and passed to
// [Callbacks.OnError].
type Error struct {
	Kind Kind
	// Op names the step that failed, e.g. "open capture" or "connect".
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("session: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first [*Error] in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// classify tags err from op with the kind that best describes it.
func classify(op string, err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	var remote *live.RemoteError
	kind := KindConnection
	switch {
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	case errors.Is(err, audio.ErrPermissionDenied):
		kind = KindPermissionDenied
	case errors.Is(err, audio.ErrDeviceUnavailable):
		kind = KindDeviceUnavailable
	case errors.As(err, &remote):
		kind = KindRemote
	case errors.Is(err, audio.ErrDecode):
		kind = KindDecode
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
