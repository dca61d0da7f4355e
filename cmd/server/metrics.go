package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"tileworld.ai/internal/persistence/indexdb"
)

type cacheStats interface {
	Len() int
}

type eventLogStats interface {
	Errors() int
}

func metricsHandler(worldID string, cache cacheStats, idx *indexdb.SQLiteIndex, events eventLogStats) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP tileworld_cache_chunks Decoded chunks held in memory.\n")
		fmt.Fprintf(rw, "# TYPE tileworld_cache_chunks gauge\n")
		fmt.Fprintf(rw, "tileworld_cache_chunks{world=%q} %d\n", worldID, cache.Len())

		if events != nil {
			fmt.Fprintf(rw, "# HELP tileworld_event_log_errors_total Generation events that could not be written.\n")
			fmt.Fprintf(rw, "# TYPE tileworld_event_log_errors_total counter\n")
			fmt.Fprintf(rw, "tileworld_event_log_errors_total{world=%q} %d\n", worldID, events.Errors())
		}

		if idx != nil {
			st := idx.Stats()
			fmt.Fprintf(rw, "# HELP tileworld_index_queue_depth Events waiting for the sqlite index writer.\n")
			fmt.Fprintf(rw, "# TYPE tileworld_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "tileworld_index_queue_depth{world=%q} %d\n", worldID, st.QueueDepth)
			fmt.Fprintf(rw, "# HELP tileworld_index_drop_total Events dropped because the index queue was full.\n")
			fmt.Fprintf(rw, "# TYPE tileworld_index_drop_total counter\n")
			fmt.Fprintf(rw, "tileworld_index_drop_total{world=%q} %d\n", worldID, st.DropTotal)
		}
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
