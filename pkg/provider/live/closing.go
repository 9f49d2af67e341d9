package live

import (
	"errors"
	"fmt"

	"github.com/coder/websocket"
)

// ReadFailure converts the error that ended a websocket read loop into the
// session's terminal event. local reports whether the session was closed by
// the caller; prefix names the provider in wrapped errors.
func ReadFailure(prefix string, local bool, err error) Event {
	if local {
		return Event{Kind: KindClosed}
	}
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return Event{Kind: KindClosed}
		default:
			return Event{Kind: KindError, Err: &RemoteError{
				Code:    int(ce.Code),
				Status:  ce.Code.String(),
				Message: ce.Reason,
			}}
		}
	}
	return Event{Kind: KindError, Err: fmt.Errorf("%s: read: %w: %w", prefix, ErrConnection, err)}
}

// SetupFailure converts an error seen while waiting for the setup
// acknowledgement into the error returned from Connect.
func SetupFailure(prefix string, err error) error {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return err
	}
	if ev := ReadFailure(prefix, false, err); ev.Kind == KindError {
		if errors.As(ev.Err, &remote) {
			return remote
		}
	}
	return fmt.Errorf("%s: setup: %w: %w", prefix, ErrConnection, err)
}
