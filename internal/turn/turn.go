// Package turn groups the audio and transcript fragments of a conversation
// into completed, role-tagged turns.
package turn

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// Role identifies who spoke a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Label returns the speaker label used in transcripts.
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleModel:
		return "Model"
	default:
		return string(r)
	}
}

// Turn is one completed utterance.
type Turn struct {
	// ID is unique within the process: "<role>-<unix nanos>-<seq>".
	ID string

	Role Role

	// Text is the concatenation of every transcript fragment of the turn.
	Text string

	// Audio is the turn's recording, or nil if no audio arrived.
	Audio *audio.Clip

	// At is when the turn was completed.
	At time.Time
}

// FormatTranscript renders turns as "Label: text" lines.
func FormatTranscript(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		if t.Text == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", t.Role.Label(), strings.TrimSpace(t.Text))
	}
	return b.String()
}
