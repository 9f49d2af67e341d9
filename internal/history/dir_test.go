package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDir(t *testing.T) {
	t.Parallel()

	d, err := NewDir(filepath.Join(t.TempDir(), "sessions"))
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	t.Cleanup(d.Close)
	exerciseStore(t, d)
}

func TestDir_Layout(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	d, err := NewDir(root)
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	r := sampleRecord(t0, false)
	if err := d.Save(context.Background(), r); err != nil {
		t.Fatalf("Save: %v", err)
	}

	dir := filepath.Join(root, r.ID.String())
	for _, name := range []string{"session.json", "00-user.wav", "01-model.wav"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "02-user.wav")); err == nil {
		t.Error("a turn without audio should not produce a WAV file")
	}
	if _, err := os.Stat(filepath.Join(dir, "session.json.tmp")); err == nil {
		t.Error("temporary manifest left behind")
	}
}

func TestDir_ListSkipsBrokenSessions(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	d, err := NewDir(root)
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	ctx := context.Background()
	good := sampleRecord(t0, true)
	if err := d.Save(ctx, good); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "corrupt"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "corrupt", "session.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	list, err := d.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != good.ID {
		t.Errorf("List = %+v, want only %s", list, good.ID)
	}
}

func TestDir_SaveSkipsReleasedAudio(t *testing.T) {
	t.Parallel()

	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	ctx := context.Background()
	r := sampleRecord(t0.Add(time.Minute), false)
	r.Turns[1].Audio.Release()
	if err := d.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := d.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Turns[0].Audio == nil || got.Turns[1].Audio != nil {
		t.Errorf("audio presence = %v, %v; want true, false", got.Turns[0].Audio != nil, got.Turns[1].Audio != nil)
	}
}
