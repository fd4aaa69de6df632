package scheduler

import (
	"context"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/pvp-ladder/internal/pvp"
)

type countingSweeper struct{ calls atomic.Int32 }

func (c *countingSweeper) SweepDuels(context.Context) ([]pvp.Session, error) {
	c.calls.Add(1)
	return []pvp.Session{{ID: "d1", State: pvp.StateExpired}}, nil
}

type countingExporter struct{ calls atomic.Int32 }

func (c *countingExporter) ExportBestEffort(context.Context) { c.calls.Add(1) }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartRunsJobs(t *testing.T) {
	sweeper := &countingSweeper{}
	exporter := &countingExporter{}
	s, err := Start(Config{SweepInterval: 20 * time.Millisecond, SnapshotInterval: 20 * time.Millisecond}, sweeper, exporter, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Shutdown()

	names := s.Jobs()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "duel_sweep" || names[1] != "snapshot_autosave" {
		t.Fatalf("jobs = %v", names)
	}
	waitFor(t, "two sweeps", func() bool { return sweeper.calls.Load() >= 2 })
	waitFor(t, "an autosave", func() bool { return exporter.calls.Load() >= 1 })
}

func TestAutosaveDisabled(t *testing.T) {
	s, err := Start(Config{SweepInterval: time.Hour}, &countingSweeper{}, &countingExporter{}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Shutdown()
	if names := s.Jobs(); len(names) != 1 || names[0] != "duel_sweep" {
		t.Fatalf("jobs = %v", names)
	}
}

func TestStartRejectsZeroSweep(t *testing.T) {
	if _, err := Start(Config{}, &countingSweeper{}, nil, nil); err == nil {
		t.Fatalf("expected error for zero sweep interval")
	}
}
