package main

import (
	"fmt"

	"tileworld.ai/internal/persistence/chunkfile"
	"tileworld.ai/internal/worldgen/chunk"
	"tileworld.ai/internal/worldgen/pipeline"
)

type verifyReport struct {
	Checked    int
	Regions    int
	Mismatches []string
}

// verify regenerates every region that has stored chunks and compares
// digests. Raw chunks are compared with the raw phase, detailed chunks with a
// full detailing of their region.
func verify(store *chunkfile.Store, gen *pipeline.Generator) (verifyReport, error) {
	var rep verifyReport
	coords, err := store.List()
	if err != nil {
		return rep, err
	}
	n := gen.Preset().RegionChunks
	q := gen.Preset().Export.HeightQuantumM

	byRegion := map[chunk.Region][]chunk.Coord{}
	var order []chunk.Region
	for _, c := range coords {
		r := chunk.RegionOf(c, n)
		if _, ok := byRegion[r]; !ok {
			order = append(order, r)
		}
		byRegion[r] = append(byRegion[r], c)
	}

	for _, r := range order {
		rep.Regions++
		var detailed map[chunk.Coord]*chunk.Chunk
		for _, c := range byRegion[r] {
			doc, err := store.ReadDoc(c)
			if err != nil {
				return rep, err
			}
			var want *chunk.Chunk
			switch doc.Phase {
			case chunk.PhaseRaw:
				want = gen.Raw(c)
			case chunk.PhaseDetailed:
				if detailed == nil {
					detailed, _, err = gen.Region(r, nil)
					if err != nil {
						return rep, err
					}
				}
				want = detailed[c]
			default:
				rep.Mismatches = append(rep.Mismatches, fmt.Sprintf("%s: unexpected phase %q", c, doc.Phase))
				continue
			}
			rep.Checked++
			if got := want.Digest(q); got != doc.Digest {
				rep.Mismatches = append(rep.Mismatches, fmt.Sprintf("%s (%s): stored %s, regenerated %s", c, doc.Phase, short(doc.Digest), short(got)))
			} else if doc.Biome != want.Biome {
				rep.Mismatches = append(rep.Mismatches, fmt.Sprintf("%s: biome %q, regenerated %q", c, doc.Biome, want.Biome))
			}
		}
	}
	return rep, nil
}
