package worlddir

import (
	"errors"
	"testing"

	"tileworld.ai/internal/preset"
)

func TestOpen_WritesThenChecksMetadata(t *testing.T) {
	data := t.TempDir()
	p := preset.Defaults()

	w, err := Open(Options{DataDir: data, WorldID: "w1", Seed: 7, Preset: p})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !w.Fresh || w.Meta.Seed != 7 || w.Meta.PresetDigest != p.Digest() {
		t.Fatalf("meta=%+v fresh=%v", w.Meta, w.Fresh)
	}

	again, err := Open(Options{DataDir: data, WorldID: "w1", Seed: 7, Preset: p})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if again.Fresh {
		t.Fatalf("reopen reported fresh world")
	}

	if _, err := Open(Options{DataDir: data, WorldID: "w1", Seed: 8, Preset: p}); !errors.Is(err, ErrMismatch) {
		t.Fatalf("seed change: err=%v", err)
	}
	q := preset.Defaults()
	q.Classify.SeaLevelM = 30
	if _, err := Open(Options{DataDir: data, WorldID: "w1", Seed: 7, Preset: q}); !errors.Is(err, ErrMismatch) {
		t.Fatalf("preset change: err=%v", err)
	}
}

func TestOpen_RejectsBadIDs(t *testing.T) {
	for _, id := range []string{"", "  ", "..", "a/b"} {
		if _, err := Open(Options{DataDir: t.TempDir(), WorldID: id, Preset: preset.Defaults()}); err == nil {
			t.Fatalf("id %q accepted", id)
		}
	}
}
