package worlddir

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"tileworld.ai/internal/persistence/chunkfile"
	"tileworld.ai/internal/persistence/export"
	"tileworld.ai/internal/preset"
	"tileworld.ai/internal/protocol"
)

// ErrMismatch means the directory already holds a world generated with a
// different id, seed or preset. Mixing them would break chunk seams.
var ErrMismatch = errors.New("world metadata mismatch")

type Options struct {
	DataDir string
	WorldID string
	Seed    uint64
	Preset  preset.Preset
}

// World is an opened world directory: <data>/worlds/<world_id>.
type World struct {
	Dir   string
	Meta  protocol.WorldMeta
	Store *chunkfile.Store
	Fresh bool
}

// Path returns the directory of a world under dataDir.
func Path(dataDir, worldID string) string {
	return filepath.Join(dataDir, "worlds", worldID)
}

// Open creates the world directory and its world.json on first use. Later
// opens must agree with the stored id, seed and preset digest.
func Open(opt Options) (*World, error) {
	worldID := strings.TrimSpace(opt.WorldID)
	if worldID == "" {
		return nil, fmt.Errorf("empty world id")
	}
	if strings.ContainsAny(worldID, `/\`) || worldID == "." || worldID == ".." {
		return nil, fmt.Errorf("bad world id %q", worldID)
	}
	p := opt.Preset
	dir := Path(opt.DataDir, worldID)
	store, err := chunkfile.Open(dir, chunkfile.Options{
		WorldID:        worldID,
		Seed:           opt.Seed,
		HeightQuantumM: p.Export.HeightQuantumM,
		Compress:       p.Export.Compress,
	})
	if err != nil {
		return nil, err
	}
	want := export.WorldMeta(worldID, opt.Seed, p, p.Digest(), p.Export.GridEdgeLength)

	have, err := chunkfile.ReadWorld(dir)
	switch {
	case errors.Is(err, chunkfile.ErrNotFound):
		if err := store.WriteWorld(want); err != nil {
			return nil, fmt.Errorf("write world metadata: %w", err)
		}
		return &World{Dir: dir, Meta: want, Store: store, Fresh: true}, nil
	case err != nil:
		return nil, fmt.Errorf("read world metadata: %w", err)
	}
	if err := compare(have, want); err != nil {
		return nil, err
	}
	return &World{Dir: dir, Meta: have, Store: store}, nil
}

func compare(have, want protocol.WorldMeta) error {
	if have.WorldID != want.WorldID {
		return fmt.Errorf("%w: world_id %q, stored %q", ErrMismatch, want.WorldID, have.WorldID)
	}
	if have.Seed != want.Seed {
		return fmt.Errorf("%w: seed %d, stored %d", ErrMismatch, want.Seed, have.Seed)
	}
	if have.PresetDigest != "" && have.PresetDigest != want.PresetDigest {
		return fmt.Errorf("%w: preset %q differs from the one stored (%s)", ErrMismatch, want.Preset, have.Preset)
	}
	return nil
}
