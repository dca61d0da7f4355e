package main

import (
	"net/http/httptest"
	"strings"
	"testing"
)

type fixedLen int

func (f fixedLen) Len() int { return int(f) }

type fixedErrors int

func (f fixedErrors) Errors() int { return int(f) }

func TestMetricsHandler(t *testing.T) {
	h := metricsHandler("w1", fixedLen(12), nil, fixedErrors(3))
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`tileworld_cache_chunks{world="w1"} 12`,
		`tileworld_event_log_errors_total{world="w1"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
	if strings.Contains(body, "tileworld_index_") {
		t.Fatalf("index metrics without an index:\n%s", body)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TW_TEST_BOOL", "true")
	if !envBool("TW_TEST_BOOL", false) {
		t.Fatalf("expected true")
	}
	t.Setenv("TW_TEST_BOOL", "nope")
	if envBool("TW_TEST_BOOL", false) {
		t.Fatalf("bad value should fall back to default")
	}
}
