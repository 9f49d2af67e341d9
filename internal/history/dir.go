package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/critique"
	"github.com/MrWong99/parley/internal/prompt"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/internal/vocal"
	"github.com/MrWong99/parley/pkg/audio"
)

const manifestName = "session.json"

// Dir stores each session under <root>/<id>/ as a JSON manifest plus one
// WAV file per turn.
type Dir struct {
	root string
}

var _ Store = (*Dir)(nil)

// NewDir returns a Dir rooted at root, creating it if needed.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("history: create dir: %w", err)
	}
	return &Dir{root: root}, nil
}

type manifest struct {
	ID         uuid.UUID          `json:"id"`
	StartedAt  time.Time          `json:"started_at"`
	EndedAt    time.Time          `json:"ended_at"`
	Provider   string             `json:"provider"`
	Persona    prompt.Persona     `json:"persona"`
	Transcript string             `json:"transcript"`
	Energy     float64            `json:"energy"`
	Pace       int                `json:"pace"`
	ElapsedMS  int64              `json:"elapsed_ms"`
	Critique   *critique.Critique `json:"critique,omitempty"`
	Turns      []manifestTurn     `json:"turns"`
}

type manifestTurn struct {
	ID   string    `json:"id"`
	Role turn.Role `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
	File string    `json:"file,omitempty"`
}

// Save implements [Store]. Turn recordings are written concurrently; the
// manifest is written last so a listing never sees a half-written session.
func (d *Dir) Save(ctx context.Context, r *Record) error {
	dir := filepath.Join(d.root, r.ID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("history: create session dir: %w", err)
	}

	m := manifest{
		ID:         r.ID,
		StartedAt:  r.StartedAt,
		EndedAt:    r.EndedAt,
		Provider:   r.Provider,
		Persona:    r.Persona,
		Transcript: r.Transcript,
		Energy:     r.Vocal.Energy,
		Pace:       r.Vocal.Pace,
		ElapsedMS:  r.Vocal.Elapsed.Milliseconds(),
		Critique:   r.Critique,
		Turns:      make([]manifestTurn, len(r.Turns)),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, t := range r.Turns {
		m.Turns[i] = manifestTurn{ID: t.ID, Role: t.Role, Text: t.Text, At: t.At}
		if t.Audio == nil || t.Audio.Released() {
			continue
		}
		name := fmt.Sprintf("%02d-%s.wav", i, t.Role)
		m.Turns[i].File = name
		data := t.Audio.Bytes()
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
				return fmt.Errorf("history: write %s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encode manifest: %w", err)
	}
	tmp := filepath.Join(dir, manifestName+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("history: write manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, manifestName)); err != nil {
		return fmt.Errorf("history: write manifest: %w", err)
	}
	return nil
}

func (d *Dir) readManifest(id string) (*manifest, error) {
	b, err := os.ReadFile(filepath.Join(d.root, id, manifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("history: decode manifest %s: %w", id, err)
	}
	return &m, nil
}

func (m *manifest) record() *Record {
	return &Record{
		ID:         m.ID,
		StartedAt:  m.StartedAt,
		EndedAt:    m.EndedAt,
		Provider:   m.Provider,
		Persona:    m.Persona,
		Transcript: m.Transcript,
		Vocal: vocal.Metrics{
			Energy:  m.Energy,
			Pace:    m.Pace,
			Elapsed: time.Duration(m.ElapsedMS) * time.Millisecond,
		},
		Critique: m.Critique,
		Turns:    make([]turn.Turn, len(m.Turns)),
	}
}

// Get implements [Store].
func (d *Dir) Get(_ context.Context, id uuid.UUID) (*Record, error) {
	m, err := d.readManifest(id.String())
	if err != nil {
		return nil, err
	}
	r := m.record()
	for i, mt := range m.Turns {
		r.Turns[i] = turn.Turn{ID: mt.ID, Role: mt.Role, Text: mt.Text, At: mt.At}
		if mt.File == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.root, id.String(), mt.File))
		if err != nil {
			return nil, fmt.Errorf("history: read %s: %w", mt.File, err)
		}
		if r.Turns[i].Audio, err = audio.ParseClip(data); err != nil {
			return nil, fmt.Errorf("history: %s: %w", mt.File, err)
		}
	}
	return r, nil
}

// List implements [Store]. Directories without a readable manifest are
// skipped.
func (d *Dir) List(_ context.Context, limit int) ([]Summary, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}

	var out []Summary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := d.readManifest(e.Name())
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				slog.Warn("history: skipping session", "dir", e.Name(), "err", err)
			}
			continue
		}
		r := m.record()
		s := summarise(r)
		s.Turns = len(m.Turns)
		out = append(out, s)
	}

	slices.SortFunc(out, func(a, b Summary) int { return b.StartedAt.Compare(a.StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close implements [Store].
func (d *Dir) Close() {}
