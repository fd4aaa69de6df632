// Package metrics exposes ladder counters and live duel gauges to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DuelCounter reports how many live duel sessions sit in each state.
type DuelCounter interface {
	CountDuels(ctx context.Context) (map[string]int, error)
}

// Metrics is nil-safe: every method on a nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	operations   *prometheus.CounterVec
	matches      *prometheus.CounterVec
	ratingChange prometheus.Histogram
	snapshots    *prometheus.CounterVec
}

func New(nodeID string, duels DuelCounter) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ladder_operations_total",
			Help: "Ladder operations by name and result code",
		}, []string{"operation", "code"}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ladder_matches_total",
			Help: "Settled matches by category and source",
		}, []string{"category", "action"}),
		ratingChange: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ladder_rating_change",
			Help:    "Rating gained by the winner of each settled match",
			Buckets: []float64{5, 8, 12, 16, 20, 25, 30, 35, 42},
		}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ladder_snapshot_runs_total",
			Help: "Snapshot import/export runs by kind and outcome",
		}, []string{"kind", "outcome"}),
	}
	reg.MustRegister(m.operations, m.matches, m.ratingChange, m.snapshots)
	if duels != nil {
		reg.MustRegister(&duelCollector{
			desc: prometheus.NewDesc(
				"ladder_duel_sessions",
				"Live duel sessions by state",
				[]string{"nodeID", "state"}, nil,
			),
			source: duels,
			nodeID: nodeID,
		})
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveOperation counts one call. code is empty on success.
func (m *Metrics) ObserveOperation(op, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	m.operations.WithLabelValues(op, code).Inc()
}

func (m *Metrics) ObserveMatch(category, action string, winnerGain int) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(category, action).Inc()
	m.ratingChange.Observe(float64(winnerGain))
}

func (m *Metrics) ObserveSnapshot(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.snapshots.WithLabelValues(kind, outcome).Inc()
}

type duelCollector struct {
	desc   *prometheus.Desc
	source DuelCounter
	nodeID string
}

func (c *duelCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *duelCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	counts, err := c.source.CountDuels(ctx)
	if err != nil {
		return
	}
	for state, n := range counts {
		ch <- prometheus.MustNewConstMetric(
			c.desc,
			prometheus.GaugeValue,
			float64(n),
			c.nodeID,
			state,
		)
	}
}
