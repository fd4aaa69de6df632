package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type staticDuels map[string]int

func (s staticDuels) CountDuels(context.Context) (map[string]int, error) { return s, nil }

type brokenDuels struct{}

func (brokenDuels) CountDuels(context.Context) (map[string]int, error) {
	return nil, errors.New("redis down")
}

func TestObserveOperation(t *testing.T) {
	m := New("test", nil)
	m.ObserveOperation("register", "")
	m.ObserveOperation("register", "")
	m.ObserveOperation("register", "banned")

	if got := testutil.ToFloat64(m.operations.WithLabelValues("register", "ok")); got != 2 {
		t.Fatalf("ok count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("register", "banned")); got != 1 {
		t.Fatalf("banned count = %v, want 1", got)
	}
}

func TestObserveMatchAndSnapshot(t *testing.T) {
	m := New("test", nil)
	m.ObserveMatch("sword", "duel_win", 17)
	m.ObserveSnapshot("export", nil)
	m.ObserveSnapshot("export", errors.New("disk full"))

	if got := testutil.ToFloat64(m.matches.WithLabelValues("sword", "duel_win")); got != 1 {
		t.Fatalf("matches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.snapshots.WithLabelValues("export", "error")); got != 1 {
		t.Fatalf("failed exports = %v, want 1", got)
	}
}

func countSamples(t *testing.T, m *Metrics, name string) int {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return len(f.GetMetric())
		}
	}
	return 0
}

func TestDuelCollector(t *testing.T) {
	m := New("node-a", staticDuels{"PROPOSED": 3, "ACCEPTED": 1})
	if n := countSamples(t, m, "ladder_duel_sessions"); n != 2 {
		t.Fatalf("duel gauges = %d, want 2", n)
	}

	broken := New("node-a", brokenDuels{})
	if n := countSamples(t, broken, "ladder_duel_sessions"); n != 0 {
		t.Fatalf("failing source should yield no samples, got %d", n)
	}
}

func TestHandlerServesText(t *testing.T) {
	m := New("test", staticDuels{"PROPOSED": 2})
	m.ObserveOperation("report_match", "")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"ladder_operations_total", `ladder_duel_sessions{nodeID="test",state="PROPOSED"} 2`} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveOperation("x", "")
	m.ObserveMatch("sword", "match_report", 5)
	m.ObserveSnapshot("import", nil)
	if m.Registry() != nil {
		t.Fatalf("nil metrics should have no registry")
	}
}
