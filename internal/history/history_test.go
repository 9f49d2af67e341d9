package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/critique"
	"github.com/MrWong99/parley/internal/prompt"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/internal/vocal"
	"github.com/MrWong99/parley/pkg/audio"
)

var t0 = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func sampleRecord(start time.Time, withCritique bool) *Record {
	r := NewRecord(start, start.Add(90*time.Second))
	r.Provider = "gemini-live"
	r.Persona = prompt.Persona{Name: "Dana", Role: "a sceptical CFO", Topic: "hiring", Difficulty: prompt.DifficultyHard}
	r.Transcript = "User: we need two engineers\nModel: why now?\n"
	r.Vocal = vocal.Metrics{Energy: 0.42, Pace: 7, Elapsed: 90 * time.Second}
	r.Turns = []turn.Turn{
		{ID: "u1", Role: turn.RoleUser, Text: "we need two engineers", Audio: audio.EncodeWAV(make([]int16, 1600), 16000), At: start.Add(time.Second)},
		{ID: "m1", Role: turn.RoleModel, Text: "why now?", Audio: audio.EncodeWAV([]int16{1, -1, 2, -2}, 24000), At: start.Add(3 * time.Second)},
		{ID: "u2", Role: turn.RoleUser, Text: "", At: start.Add(5 * time.Second)},
	}
	if withCritique {
		r.Critique = &critique.Critique{
			Scores:    critique.Scores{Clarity: 80, Confidence: 60, Persuasion: 70, Empathy: 50},
			Strengths: []string{"clear ask"},
			Summary:   "Good start.",
			Source:    "heuristic",
		}
	}
	return r
}

func checkRecord(t *testing.T, got, want *Record) {
	t.Helper()
	if got.ID != want.ID {
		t.Errorf("ID = %s, want %s", got.ID, want.ID)
	}
	if !got.StartedAt.Equal(want.StartedAt) || !got.EndedAt.Equal(want.EndedAt) {
		t.Errorf("times = %v..%v, want %v..%v", got.StartedAt, got.EndedAt, want.StartedAt, want.EndedAt)
	}
	if got.Provider != want.Provider || got.Persona != want.Persona || got.Transcript != want.Transcript {
		t.Errorf("record = %+v, want %+v", got, want)
	}
	if got.Vocal != want.Vocal {
		t.Errorf("Vocal = %+v, want %+v", got.Vocal, want.Vocal)
	}
	if (got.Critique == nil) != (want.Critique == nil) {
		t.Fatalf("Critique = %v, want %v", got.Critique, want.Critique)
	}
	if want.Critique != nil && (got.Critique.Scores != want.Critique.Scores || got.Critique.Summary != want.Critique.Summary) {
		t.Errorf("Critique = %+v, want %+v", got.Critique, want.Critique)
	}
	if len(got.Turns) != len(want.Turns) {
		t.Fatalf("turns = %d, want %d", len(got.Turns), len(want.Turns))
	}
	for i, w := range want.Turns {
		g := got.Turns[i]
		if g.ID != w.ID || g.Role != w.Role || g.Text != w.Text || !g.At.Equal(w.At) {
			t.Errorf("turn %d = %+v, want %+v", i, g, w)
		}
		if (g.Audio == nil) != (w.Audio == nil) {
			t.Errorf("turn %d audio presence = %v, want %v", i, g.Audio != nil, w.Audio != nil)
			continue
		}
		if w.Audio != nil && (g.Audio.Len() != w.Audio.Len() || g.Audio.SampleRate() != w.Audio.SampleRate()) {
			t.Errorf("turn %d audio = %d@%d, want %d@%d", i, g.Audio.Len(), g.Audio.SampleRate(), w.Audio.Len(), w.Audio.SampleRate())
		}
	}
}

// exerciseStore runs the behaviour every Store must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	older := sampleRecord(t0, false)
	newer := sampleRecord(t0.Add(time.Hour), true)
	for _, r := range []*Record{older, newer} {
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := s.Get(ctx, newer.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	checkRecord(t, got, newer)

	list, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List = %d entries, want 2", len(list))
	}
	if list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Errorf("List order = %s, %s; want newest first", list[0].ID, list[1].ID)
	}
	if list[0].Turns != 3 || list[0].Pace != 7 || list[0].Persona != "Dana" || list[0].Topic != "hiring" {
		t.Errorf("summary = %+v", list[0])
	}
	if list[0].Overall != 65 || list[1].Overall != -1 {
		t.Errorf("Overall = %d, %d; want 65, -1", list[0].Overall, list[1].Overall)
	}
	if list[0].Duration != 90*time.Second {
		t.Errorf("Duration = %v", list[0].Duration)
	}

	limited, err := s.List(ctx, 1)
	if err != nil {
		t.Fatalf("List(1): %v", err)
	}
	if len(limited) != 1 || limited[0].ID != newer.ID {
		t.Errorf("List(1) = %+v", limited)
	}

	// Saving again replaces the record.
	older.Transcript = "User: updated\n"
	older.Turns = older.Turns[:1]
	if err := s.Save(ctx, older); err != nil {
		t.Fatalf("re-Save: %v", err)
	}
	got, err = s.Get(ctx, older.ID)
	if err != nil {
		t.Fatalf("Get after re-Save: %v", err)
	}
	checkRecord(t, got, older)

	if _, err := s.Get(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) err = %v, want ErrNotFound", err)
	}
}

func TestRecord_Duration(t *testing.T) {
	t.Parallel()
	r := NewRecord(t0, t0.Add(2*time.Minute))
	if r.ID == uuid.Nil {
		t.Error("NewRecord did not assign an ID")
	}
	if got := r.Duration(); got != 2*time.Minute {
		t.Errorf("Duration = %v", got)
	}
}
