package pipeline

import (
	"sync"
	"time"
)

const (
	EventRawChunk       = "RAW_CHUNK"
	EventChunkDetailed  = "CHUNK_DETAILED"
	EventRegionDetailed = "REGION_DETAILED"
	EventRoadRepair     = "ROAD_REPAIR"
)

// Event is one generation record. Fields that do not apply to Type are zero.
type Event struct {
	Type    string `json:"type"`
	Time    string `json:"time"`
	WorldID string `json:"world_id"`

	CX     int32  `json:"cx,omitempty"`
	CZ     int32  `json:"cz,omitempty"`
	RX     int32  `json:"rx,omitempty"`
	RZ     int32  `json:"rz,omitempty"`
	Phase  string `json:"phase,omitempty"`
	Biome  string `json:"biome,omitempty"`
	Digest string `json:"digest,omitempty"`
	Path   string `json:"path,omitempty"`

	Waypoints int `json:"waypoints,omitempty"`
	Edges     int `json:"edges,omitempty"`
	Painted   int `json:"painted,omitempty"`
	Adjusted  int `json:"adjusted,omitempty"`
	Repairs   int `json:"repairs,omitempty"`

	// Road repair endpoints in region-local cells.
	From [2]int `json:"from,omitempty"`
	To   [2]int `json:"to,omitempty"`

	DurationMS int64 `json:"duration_ms,omitempty"`
}

// EventSink receives generation events. Implementations must be safe for
// concurrent use; Emit must not block generation for long.
type EventSink interface {
	Emit(Event)
}

type nopSink struct{}

func (nopSink) Emit(Event) {}

// MultiSink fans events out to every non-nil sink.
func MultiSink(sinks ...EventSink) EventSink {
	var out multiSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nopSink{}
	}
	return out
}

type multiSink []EventSink

func (m multiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemorySink) Emit(e Event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }
