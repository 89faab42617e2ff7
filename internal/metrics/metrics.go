// Package metrics counts moka runs on a private Prometheus registry.
//
// Nothing is served: the registry is written to a file in text exposition
// format when a command finishes.
package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "moka"

	SubsystemRun   = "run"
	SubsystemCache = "cache"

	LabelMode     = "mode"
	LabelOutcome  = "outcome"
	LabelRule     = "rule"
	LabelSeverity = "severity"
	LabelResult   = "result"
)

// Run outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

var DefBuckets = []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 10}

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prom.Registry

	Runs         *prom.CounterVec
	Issues       *prom.CounterVec
	RunDuration  *prom.HistogramVec
	CacheLookups *prom.CounterVec
}

// New registers the moka collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prom.NewRegistry(),
		Runs: prom.NewCounterVec(
			prom.CounterOpts{
				Namespace: Namespace,
				Subsystem: SubsystemRun,
				Name:      "total",
				Help:      "Total number of runs by outcome.",
			},
			[]string{LabelMode, LabelOutcome}),
		Issues: prom.NewCounterVec(
			prom.CounterOpts{
				Namespace: Namespace,
				Subsystem: SubsystemRun,
				Name:      "issues_total",
				Help:      "Total number of reported issues.",
			},
			[]string{LabelRule, LabelSeverity}),
		RunDuration: prom.NewHistogramVec(
			prom.HistogramOpts{
				Namespace: Namespace,
				Subsystem: SubsystemRun,
				Name:      "duration_seconds",
				Help:      "Histogram of run latency.",
				Buckets:   DefBuckets,
			},
			[]string{LabelMode}),
		CacheLookups: prom.NewCounterVec(
			prom.CounterOpts{
				Namespace: Namespace,
				Subsystem: SubsystemCache,
				Name:      "lookups_total",
				Help:      "Total number of result cache lookups.",
			},
			[]string{LabelResult}),
	}
	m.registry.MustRegister(m.Runs, m.Issues, m.RunDuration, m.CacheLookups)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prom.Registry { return m.registry }

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(mode, outcome string, d time.Duration) {
	m.Runs.WithLabelValues(mode, outcome).Inc()
	m.RunDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveIssue records one reported issue.
func (m *Metrics) ObserveIssue(rule, severity string) {
	m.Issues.WithLabelValues(rule, severity).Inc()
}

// ObserveLookup records a cache hit or miss.
func (m *Metrics) ObserveLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// WriteFile writes every collector to path in text exposition format.
func (m *Metrics) WriteFile(path string) error {
	return prom.WriteToTextfile(path, m.registry)
}
