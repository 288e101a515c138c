package metrics

import (
	"time"

	"imehud/internal/position"
)

// HUDMetrics holds the poll loop's metrics.
type HUDMetrics struct {
	registry *Registry

	TicksTotal        *Counter
	StaleCaretTotal   *Counter
	CaretMissesTotal  *Counter
	PointerMisses     *Counter
	KoreanTicksTotal  *Counter
	SinkErrorsTotal   *Counter
	decisionsBySource map[position.Source]*Counter

	LastTickUnix  *Gauge
	UptimeSeconds *Gauge

	TickDuration *Histogram

	startedAt time.Time
}

// NewHUDMetrics registers the loop metrics in registry. A nil registry gets
// a fresh one under the "imehud" namespace.
func NewHUDMetrics(registry *Registry) *HUDMetrics {
	if registry == nil {
		registry = NewRegistry("imehud", "")
	}

	m := &HUDMetrics{
		registry: registry,

		TicksTotal: registry.RegisterCounter(
			"ticks_total",
			"Total number of poll ticks",
			nil,
		),
		StaleCaretTotal: registry.RegisterCounter(
			"stale_caret_total",
			"Ticks where a valid caret was overridden by a distant pointer",
			nil,
		),
		CaretMissesTotal: registry.RegisterCounter(
			"caret_misses_total",
			"Ticks where the caret probe returned nothing",
			nil,
		),
		PointerMisses: registry.RegisterCounter(
			"pointer_misses_total",
			"Ticks where the pointer probe returned nothing",
			nil,
		),
		KoreanTicksTotal: registry.RegisterCounter(
			"lang_korean_ticks_total",
			"Ticks where the active input source was classified as Korean",
			nil,
		),
		SinkErrorsTotal: registry.RegisterCounter(
			"sink_errors_total",
			"Updates the presentation sink failed to accept",
			nil,
		),
		decisionsBySource: make(map[position.Source]*Counter),

		LastTickUnix: registry.RegisterGauge(
			"last_tick_timestamp_ms",
			"Unix time of the last completed tick in milliseconds",
			nil,
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Number of seconds the daemon has been running",
			nil,
		),

		TickDuration: registry.RegisterHistogram(
			"tick_duration_seconds",
			"Time spent probing and arbitrating in one tick",
			nil,
			TickBuckets,
		),

		startedAt: time.Now(),
	}

	for _, src := range []position.Source{position.SourceCaret, position.SourcePointer, position.SourceDefault} {
		m.decisionsBySource[src] = registry.RegisterCounter(
			"decisions_total",
			"Arbitration outcomes by position source",
			Labels{"source": string(src)},
		)
	}

	return m
}

// Registry returns the underlying registry.
func (m *HUDMetrics) Registry() *Registry {
	return m.registry
}

// Decisions returns the decision counter for src, or nil for an unknown
// source.
func (m *HUDMetrics) Decisions(src position.Source) *Counter {
	return m.decisionsBySource[src]
}

// RecordDecision counts one arbitration outcome.
func (m *HUDMetrics) RecordDecision(d position.Decision) {
	if c := m.decisionsBySource[d.Source]; c != nil {
		c.Inc()
	}
	if d.StaleCaret {
		m.StaleCaretTotal.Inc()
	}
}

// RecordTick records a finished tick.
func (m *HUDMetrics) RecordTick(start time.Time, d time.Duration) {
	m.TicksTotal.Inc()
	m.TickDuration.ObserveDuration(d)
	m.LastTickUnix.Set(start.Add(d).UnixMilli())
	m.UptimeSeconds.Set(int64(time.Since(m.startedAt).Seconds()))
}

// LastTick returns the time of the last completed tick, or the zero time if
// none has completed.
func (m *HUDMetrics) LastTick() time.Time {
	ms := m.LastTickUnix.Value()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
