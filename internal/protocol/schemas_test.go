package protocol_test

import (
	"encoding/json"
	"testing"

	"tileworld.ai/internal/protocol"
	"tileworld.ai/internal/worldgen/chunk"
	"tileworld.ai/internal/worldgen/terrain"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	validate := func(name, doc string) {
		t.Helper()
		if err := protocol.Validate(name, []byte(doc)); err != nil {
			t.Fatalf("validate %s: %v", name, err)
		}
	}

	validate(protocol.SchemaHello, `{"type":"HELLO","protocol_version":"1.0","client_name":"editor"}`)
	validate(protocol.SchemaChunkReq, `{"type":"CHUNK_REQ","protocol_version":"1.0","req_id":"r1","cx":-2,"cz":5,"peek":true}`)
	validate(protocol.SchemaWorld, `{
	  "version":1,
	  "world_id":"w1",
	  "seed":"18446744073709551615",
	  "preset":"default",
	  "grid_edge_length":256,
	  "meters_per_pixel":1.0,
	  "chunk_pixel_size":64,
	  "region_chunks":4,
	  "height_min_m":0,
	  "height_max_m":256,
	  "height_quantum_m":0.01
	}`)
}

func TestSchemas_RejectBadChunks(t *testing.T) {
	bad := []string{
		`{"version":1}`,
		`{"version":1,"world_id":"w","seed":"1","cx":0,"cz":0,"size":2,"phase":"baked","digest":"00","height_quantum_m":0.01,
		  "layers":{"kind":{"encoding":"rle_rows_v1","rows":[]},"height_q":{"encoding":"rle_rows_v1","rows":[]}}}`,
	}
	for _, doc := range bad {
		if err := protocol.Validate(protocol.SchemaChunk, []byte(doc)); err == nil {
			t.Fatalf("expected schema error for %s", doc)
		}
	}
	if err := protocol.Validate("nope.schema.json", []byte(`{}`)); err == nil {
		t.Fatalf("expected unknown schema error")
	}
}

func TestChunkDoc_ValidatesAndRoundTrips(t *testing.T) {
	c := chunk.New(chunk.Coord{CX: 3, CZ: -1}, 4)
	c.Phase = chunk.PhaseDetailed
	c.Biome = "forest"
	for i := range c.Kinds {
		c.Kinds[i] = terrain.Ground
		c.Elevation[i] = float32(i) * 0.5
	}
	c.Kinds[5] = terrain.Road

	doc, err := protocol.NewChunkDoc(c, "w1", 1<<63+5, 0.01)
	if err != nil {
		t.Fatalf("NewChunkDoc: %v", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := protocol.Validate(protocol.SchemaChunk, raw); err != nil {
		t.Fatalf("schema: %v", err)
	}
	var back protocol.ChunkDoc
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Seed != 1<<63+5 {
		t.Fatalf("seed lost precision: %d", back.Seed)
	}
	got, err := back.Chunk()
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if got.Digest(0.01) != doc.Digest {
		t.Fatalf("digest changed across round trip")
	}
	if got.Kind(1, 1) != terrain.Road || got.Biome != "forest" || got.Phase != chunk.PhaseDetailed {
		t.Fatalf("decoded chunk mismatch: %+v", got)
	}
}
