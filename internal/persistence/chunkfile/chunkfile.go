// Package chunkfile stores chunk and world documents on disk.
//
// Layout under the world directory:
//
//	world.json
//	chunks/<cx>_<cz>.json      (or .json.zst when compression is on)
package chunkfile

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"tileworld.ai/internal/protocol"
	"tileworld.ai/internal/worldgen/chunk"
)

var ErrNotFound = errors.New("chunk file not found")

const (
	worldFile = "world.json"
	chunksDir = "chunks"
	extJSON   = ".json"
	extZstd   = ".json.zst"
)

type Store struct {
	dir      string
	worldID  string
	seed     uint64
	quantum  float64
	compress bool
}

type Options struct {
	WorldID        string
	Seed           uint64
	HeightQuantumM float64
	Compress       bool
}

func Open(dir string, opt Options) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty world dir")
	}
	if opt.HeightQuantumM <= 0 {
		return nil, fmt.Errorf("height quantum must be > 0")
	}
	if err := os.MkdirAll(filepath.Join(dir, chunksDir), 0o755); err != nil {
		return nil, err
	}
	return &Store{
		dir:      dir,
		worldID:  opt.WorldID,
		seed:     opt.Seed,
		quantum:  opt.HeightQuantumM,
		compress: opt.Compress,
	}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) chunkPath(c chunk.Coord, ext string) string {
	return filepath.Join(s.dir, chunksDir, fmt.Sprintf("%d_%d%s", c.CX, c.CZ, ext))
}

// Path returns the file a chunk is written to.
func (s *Store) Path(c chunk.Coord) string {
	if s.compress {
		return s.chunkPath(c, extZstd)
	}
	return s.chunkPath(c, extJSON)
}

// Write replaces the chunk file atomically and returns the written document.
func (s *Store) Write(c *chunk.Chunk) (protocol.ChunkDoc, error) {
	doc, err := protocol.NewChunkDoc(c, s.worldID, s.seed, s.quantum)
	if err != nil {
		return doc, err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return doc, err
	}
	if s.compress {
		b, err = compress(b)
		if err != nil {
			return doc, fmt.Errorf("compress chunk %s: %w", c.Coord, err)
		}
	}
	if err := WriteAtomic(s.Path(c.Coord), b); err != nil {
		return doc, fmt.Errorf("write chunk %s: %w", c.Coord, err)
	}
	// Drop a stale file in the other format so reads are unambiguous.
	other := s.chunkPath(c.Coord, extJSON)
	if !s.compress {
		other = s.chunkPath(c.Coord, extZstd)
	}
	if err := os.Remove(other); err != nil && !errors.Is(err, os.ErrNotExist) {
		return doc, err
	}
	return doc, nil
}

// ReadDoc loads and schema-validates a chunk document.
func (s *Store) ReadDoc(c chunk.Coord) (protocol.ChunkDoc, error) {
	for _, ext := range []string{extZstd, extJSON} {
		doc, err := ReadFile(s.chunkPath(c, ext))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return doc, err
		}
		if doc.WorldID != s.worldID || doc.Seed != s.seed {
			return doc, fmt.Errorf("chunk %s belongs to world %q seed %d, want %q seed %d", c, doc.WorldID, doc.Seed, s.worldID, s.seed)
		}
		if doc.CX != c.CX || doc.CZ != c.CZ {
			return doc, fmt.Errorf("chunk file %s holds %d,%d", c, doc.CX, doc.CZ)
		}
		return doc, nil
	}
	return protocol.ChunkDoc{}, fmt.Errorf("%w: %s", ErrNotFound, c)
}

func (s *Store) Read(c chunk.Coord) (*chunk.Chunk, error) {
	doc, err := s.ReadDoc(c)
	if err != nil {
		return nil, err
	}
	return doc.Chunk()
}

// LoadOrVoid reads a chunk, returning a void placeholder when it has not been
// generated yet. Other errors are returned as is.
func (s *Store) LoadOrVoid(c chunk.Coord, size int) (*chunk.Chunk, error) {
	ch, err := s.Read(c)
	if errors.Is(err, ErrNotFound) {
		return chunk.Void(c, size), nil
	}
	return ch, err
}

func (s *Store) Exists(c chunk.Coord) bool {
	for _, ext := range []string{extZstd, extJSON} {
		if _, err := os.Stat(s.chunkPath(c, ext)); err == nil {
			return true
		}
	}
	return false
}

// List returns the coordinates of every stored chunk, sorted by (cz, cx).
func (s *Store) List() ([]chunk.Coord, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, chunksDir))
	if err != nil {
		return nil, err
	}
	seen := map[chunk.Coord]struct{}{}
	var out []chunk.Coord
	for _, e := range entries {
		c, ok := parseName(e.Name())
		if !ok {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CZ != out[j].CZ {
			return out[i].CZ < out[j].CZ
		}
		return out[i].CX < out[j].CX
	})
	return out, nil
}

func parseName(name string) (chunk.Coord, bool) {
	base := strings.TrimSuffix(strings.TrimSuffix(name, extZstd), extJSON)
	if base == name {
		return chunk.Coord{}, false
	}
	parts := strings.Split(base, "_")
	if len(parts) != 2 {
		return chunk.Coord{}, false
	}
	cx, err1 := strconv.ParseInt(parts[0], 10, 32)
	cz, err2 := strconv.ParseInt(parts[1], 10, 32)
	if err1 != nil || err2 != nil {
		return chunk.Coord{}, false
	}
	return chunk.Coord{CX: int32(cx), CZ: int32(cz)}, true
}

// ReadFile decodes a single chunk file. Compression is chosen by extension.
func ReadFile(path string) (protocol.ChunkDoc, error) {
	var doc protocol.ChunkDoc
	raw, err := readMaybeCompressed(path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return doc, err
	}
	if err := protocol.Validate(protocol.SchemaChunk, raw); err != nil {
		return doc, fmt.Errorf("%s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func (s *Store) WriteWorld(meta protocol.WorldMeta) error {
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return WriteAtomic(filepath.Join(s.dir, worldFile), append(b, '\n'))
}

// ReadWorld returns ErrNotFound when the world has no metadata yet.
func ReadWorld(dir string) (protocol.WorldMeta, error) {
	var meta protocol.WorldMeta
	raw, err := os.ReadFile(filepath.Join(dir, worldFile))
	if errors.Is(err, os.ErrNotExist) {
		return meta, fmt.Errorf("%w: %s", ErrNotFound, worldFile)
	}
	if err != nil {
		return meta, err
	}
	if err := protocol.Validate(protocol.SchemaWorld, raw); err != nil {
		return meta, err
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, err
	}
	return meta, nil
}

// WriteAtomic writes to a temp file in the target directory, then renames it
// over path, so readers never see a partial file.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(raw); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readMaybeCompressed(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if !strings.HasSuffix(path, extZstd) {
		return io.ReadAll(bufio.NewReader(f))
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(bufio.NewReaderSize(dec, 256*1024))
}
