// Package agmetrics exports agreement engine events to Prometheus.
package agmetrics

import (
	"strconv"
	"time"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agtable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gagree"

// Collector implements [agengine.MetricsCollector],
// [agengine.AbsentProposerObserver], and [agconsensus.EquivocationHandler].
//
// Session IDs are used as label values,
// so label cardinality grows with the number of sessions a process runs.
type Collector struct {
	statements    *prometheus.CounterVec
	roundChanges  *prometheus.CounterVec
	currentRound  *prometheus.GaugeVec
	finalizations *prometheus.CounterVec
	finalizeTime  prometheus.Histogram
	finalRound    prometheus.Histogram
	equivocations *prometheus.CounterVec
	absences      *prometheus.CounterVec
}

// New registers the collector's metrics with reg.
// Registering twice with the same registerer panics.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)

	return &Collector{
		statements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "table",
			Name:      "statements_total",
			Help:      "inbound statements by kind and outcome",
		}, []string{"kind", "outcome"}),

		roundChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rounds_entered_total",
			Help:      "rounds entered, by reason",
		}, []string{"reason"}),

		currentRound: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "current_round",
			Help:      "the round each session is in",
		}, []string{"session"}),

		finalizations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "finalizations_total",
			Help:      "finalized sessions",
		}, []string{"session"}),

		finalizeTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "time_to_finality_seconds",
			Help:      "time from engine start to finalization",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),

		finalRound: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "finalized_round",
			Help:      "the round in which sessions finalized",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),

		equivocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "table",
			Name:      "equivocations_total",
			Help:      "equivocations flagged, by statement kind",
		}, []string{"kind"}),

		absences: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "absent_proposer_rounds_total",
			Help:      "rounds that ended without a proposal, by proposer index",
		}, []string{"validator"}),
	}
}

func (c *Collector) StatementAdded(_ agconsensus.SessionID, kind agconsensus.StatementKind, outcome agtable.Outcome) {
	c.statements.WithLabelValues(kind.String(), outcome.String()).Inc()
}

func (c *Collector) RoundEntered(sid agconsensus.SessionID, round uint64, reason string) {
	c.roundChanges.WithLabelValues(reason).Inc()
	c.currentRound.WithLabelValues(string(sid)).Set(float64(round))
}

func (c *Collector) Finalized(sid agconsensus.SessionID, round uint64, sinceStart time.Duration) {
	c.finalizations.WithLabelValues(string(sid)).Inc()
	c.finalizeTime.Observe(sinceStart.Seconds())
	c.finalRound.Observe(float64(round))
}

func (c *Collector) OnEquivocation(e agconsensus.Equivocation) {
	c.equivocations.WithLabelValues(e.Kind.String()).Inc()
}

func (c *Collector) OnAbsentProposer(_ agconsensus.SessionID, val uint32, _ uint64, _ int) {
	c.absences.WithLabelValues(strconv.FormatUint(uint64(val), 10)).Inc()
}

// Forget drops the per-session series for sid, after the session ends.
func (c *Collector) Forget(sid agconsensus.SessionID) {
	c.currentRound.DeleteLabelValues(string(sid))
	c.finalizations.DeleteLabelValues(string(sid))
}

// StatementCounter returns the counter for one kind and outcome pair,
// using the names from their String methods.
func (c *Collector) StatementCounter(kind, outcome string) prometheus.Counter {
	return c.statements.WithLabelValues(kind, outcome)
}

func (c *Collector) CurrentRound(sid agconsensus.SessionID) prometheus.Gauge {
	return c.currentRound.WithLabelValues(string(sid))
}

func (c *Collector) EquivocationCounter(kind string) prometheus.Counter {
	return c.equivocations.WithLabelValues(kind)
}
