// Package history persists finished practice sessions: the turn recordings,
// the transcript, delivery metrics, and the critique.
//
// Two stores are provided. [Postgres] keeps everything in a database,
// recordings as BYTEA. [Dir] writes one directory per session with a WAV
// file per turn and a JSON manifest, which is handy without a database.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/critique"
	"github.com/MrWong99/parley/internal/prompt"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/internal/vocal"
)

// ErrNotFound is returned by Get for an unknown session ID.
var ErrNotFound = errors.New("history: session not found")

// Record is one stored practice session.
type Record struct {
	ID        uuid.UUID
	StartedAt time.Time
	EndedAt   time.Time

	// Provider names the live backend that ran the session.
	Provider string

	Persona    prompt.Persona
	Transcript string
	Turns      []turn.Turn

	// Vocal holds the energy and pace readings at the end of the session.
	Vocal vocal.Metrics

	// Critique is nil when no critic was available.
	Critique *critique.Critique
}

// NewRecord returns a Record with a fresh ID.
func NewRecord(startedAt, endedAt time.Time) *Record {
	return &Record{ID: uuid.New(), StartedAt: startedAt, EndedAt: endedAt}
}

// Duration is the wall-clock length of the session.
func (r *Record) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Summary is the listing view of a Record.
type Summary struct {
	ID        uuid.UUID
	StartedAt time.Time
	Duration  time.Duration
	Persona   string
	Topic     string
	Turns     int
	Pace      int

	// Overall is the mean critique score, or -1 without a critique.
	Overall int
}

func summarise(r *Record) Summary {
	s := Summary{
		ID:        r.ID,
		StartedAt: r.StartedAt,
		Duration:  r.Duration(),
		Persona:   r.Persona.Name,
		Topic:     r.Persona.Topic,
		Turns:     len(r.Turns),
		Pace:      r.Vocal.Pace,
		Overall:   -1,
	}
	if r.Critique != nil {
		s.Overall = r.Critique.Scores.Overall()
	}
	return s
}

// Store persists Records.
type Store interface {
	// Save stores r. Saving the same ID twice replaces the earlier record.
	Save(ctx context.Context, r *Record) error

	// Get loads a full record including turn audio.
	Get(ctx context.Context, id uuid.UUID) (*Record, error)

	// List returns up to limit summaries, newest first. A limit of zero or
	// less returns all.
	List(ctx context.Context, limit int) ([]Summary, error)

	// Close releases the store's resources.
	Close()
}
