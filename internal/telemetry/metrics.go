// Package telemetry provides Prometheus metrics and in-process query
// statistics for open indexes.
package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nrtindex"

// Collectors holds the metric vectors shared by every index registered on
// one Registerer.
type Collectors struct {
	Reopens          *prometheus.CounterVec
	ReopenDuration   *prometheus.HistogramVec
	Generation       *prometheus.GaugeVec
	StaleReads       *prometheus.CounterVec
	OpenSearchers    *prometheus.GaugeVec
	Mutations        *prometheus.CounterVec
	Queries          *prometheus.CounterVec
	QueryDuration    *prometheus.HistogramVec
	QueryResultCount *prometheus.HistogramVec
}

// NewCollectors creates the collectors and registers them on reg. A
// collector already registered by another index is reused. A nil reg
// keeps the collectors unregistered.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Reopens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nrt",
			Name:      "reopens_total",
			Help:      "Searcher reopen attempts by result (ok, error).",
		}, []string{"index", "result"}),
		ReopenDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "nrt",
			Name:      "reopen_duration_seconds",
			Help:      "Time to drain pending mutations and publish a new searcher.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"index"}),
		Generation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nrt",
			Name:      "published_generation",
			Help:      "Latest generation visible to searchers.",
		}, []string{"index"}),
		StaleReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nrt",
			Name:      "stale_reads_total",
			Help:      "Searchers handed out before the requested generation was published.",
		}, []string{"index"}),
		OpenSearchers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nrt",
			Name:      "open_searchers",
			Help:      "Searchers acquired and not yet released.",
		}, []string{"index"}),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "mutations_total",
			Help:      "Accepted mutations by operation (put, remove).",
		}, []string{"index", "op"}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "queries_total",
			Help:      "Queries by kind (fulltext, exact, range) and result (hit, zero_result, error).",
		}, []string{"index", "kind", "result"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "query_duration_seconds",
			Help:      "Query latency, including the wait for a fresh searcher.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"index", "kind"}),
		QueryResultCount: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "query_results",
			Help:      "Total matches per query.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 1000},
		}, []string{"index"}),
	}
	if reg == nil {
		return c
	}

	c.Reopens = register(reg, c.Reopens)
	c.ReopenDuration = register(reg, c.ReopenDuration)
	c.Generation = register(reg, c.Generation)
	c.StaleReads = register(reg, c.StaleReads)
	c.OpenSearchers = register(reg, c.OpenSearchers)
	c.Mutations = register(reg, c.Mutations)
	c.Queries = register(reg, c.Queries)
	c.QueryDuration = register(reg, c.QueryDuration)
	c.QueryResultCount = register(reg, c.QueryResultCount)
	return c
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

// Metrics records events for one index.
type Metrics struct {
	c     *Collectors
	index string
}

// For returns the recorder for the named index.
func (c *Collectors) For(index string) *Metrics {
	return &Metrics{c: c, index: index}
}

// Discard returns a recorder whose collectors are not registered anywhere.
func Discard() *Metrics {
	return NewCollectors(nil).For("")
}

// ReopenDone records one reopen attempt.
func (m *Metrics) ReopenDone(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.c.Reopens.WithLabelValues(m.index, result).Inc()
	m.c.ReopenDuration.WithLabelValues(m.index).Observe(d.Seconds())
}

// Published records the generation of a newly published searcher.
func (m *Metrics) Published(generation int64) {
	m.c.Generation.WithLabelValues(m.index).Set(float64(generation))
}

// StaleRead records a searcher handed out below its requested generation.
func (m *Metrics) StaleRead() {
	m.c.StaleReads.WithLabelValues(m.index).Inc()
}

// SearcherAcquired and SearcherReleased track outstanding searchers.
func (m *Metrics) SearcherAcquired() { m.c.OpenSearchers.WithLabelValues(m.index).Inc() }
func (m *Metrics) SearcherReleased() { m.c.OpenSearchers.WithLabelValues(m.index).Dec() }

// Mutation records an accepted put or remove.
func (m *Metrics) Mutation(op string) {
	m.c.Mutations.WithLabelValues(m.index, op).Inc()
}

// Query records one query of kind with its total match count.
func (m *Metrics) Query(kind QueryKind, d time.Duration, total uint64, err error) {
	result := "hit"
	switch {
	case err != nil:
		result = "error"
	case total == 0:
		result = "zero_result"
	}
	m.c.Queries.WithLabelValues(m.index, string(kind), result).Inc()
	m.c.QueryDuration.WithLabelValues(m.index, string(kind)).Observe(d.Seconds())
	if err == nil {
		m.c.QueryResultCount.WithLabelValues(m.index).Observe(float64(total))
	}
}
