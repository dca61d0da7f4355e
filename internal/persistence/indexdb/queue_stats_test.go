package indexdb

import (
	"testing"

	"tileworld.ai/internal/worldgen/pipeline"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{event: pipeline.Event{Type: pipeline.EventRawChunk}}

	s.Emit(pipeline.Event{Type: pipeline.EventRawChunk})
	s.Emit(pipeline.Event{Type: pipeline.EventRoadRepair})

	st := s.Stats()
	if st.DropTotal != 2 {
		t.Fatalf("DropTotal=%d want=2", st.DropTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}
