// Package metrics keeps the daemon's counters, gauges and histograms and
// exposes them in the Prometheus text format or as JSON.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Labels are the constant label pairs of one series.
type Labels map[string]string

// String renders labels in exposition form, `{a="1",b="2"}`, sorted by key.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(l))
	for _, k := range slices.Sorted(maps.Keys(l)) {
		pairs = append(pairs, fmt.Sprintf(`%s="%s"`, k, l[k]))
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

// with renders labels plus one extra pair, as histogram buckets need.
func (l Labels) with(key, value string) string {
	extended := make(Labels, len(l)+1)
	for k, v := range l {
		extended[k] = v
	}
	extended[key] = value
	return extended.String()
}

// series is the identity shared by every metric kind.
type series struct {
	name   string
	help   string
	labels Labels
}

// Counter only goes up.
type Counter struct {
	series
	value atomic.Uint64
}

func NewCounter(name, help string, labels Labels) *Counter {
	return &Counter{series: series{name, help, labels}}
}

func (c *Counter) Inc()          { c.value.Add(1) }
func (c *Counter) Add(v uint64)  { c.value.Add(v) }
func (c *Counter) Value() uint64 { return c.value.Load() }

// Gauge holds the latest value of something.
type Gauge struct {
	series
	value atomic.Int64
}

func NewGauge(name, help string, labels Labels) *Gauge {
	return &Gauge{series: series{name, help, labels}}
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// TickBuckets span sub-millisecond ticks up to a quarter second, in seconds.
var TickBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.002, 0.005, 0.008, 0.016, 0.033, 0.05, 0.1, 0.25,
}

// Histogram counts observations into fixed upper-bound buckets.
type Histogram struct {
	series
	bounds []float64

	mu     sync.Mutex
	counts []uint64 // one per bound plus +Inf
	sum    float64
	count  uint64
}

// NewHistogram sorts a copy of bounds; nil bounds mean TickBuckets.
func NewHistogram(name, help string, labels Labels, bounds []float64) *Histogram {
	if bounds == nil {
		bounds = TickBuckets
	}
	sorted := slices.Clone(bounds)
	sort.Float64s(sorted)
	return &Histogram{
		series: series{name, help, labels},
		bounds: sorted,
		counts: make([]uint64, len(sorted)+1),
	}
}

// Observe records v in the first bucket whose bound is >= v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	h.counts[sort.SearchFloat64s(h.bounds, v)]++
	h.sum += v
	h.count++
	h.mu.Unlock()
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) { h.Observe(d.Seconds()) }

func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}

// Cumulative returns running bucket totals, the last being +Inf.
func (h *Histogram) Cumulative() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint64, len(h.counts))
	var total uint64
	for i, c := range h.counts {
		total += c
		out[i] = total
	}
	return out
}

// Registry owns the metrics of one process. Series are keyed by prefixed
// name plus label set, so a name can carry several label values.
type Registry struct {
	prefix string

	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry prefixes every metric name with the non-empty parts of
// namespace and subsystem, joined by underscores.
func NewRegistry(namespace, subsystem string) *Registry {
	var prefix string
	for _, part := range []string{namespace, subsystem} {
		if part != "" {
			prefix += part + "_"
		}
	}
	return &Registry{
		prefix:     prefix,
		counters:   map[string]*Counter{},
		gauges:     map[string]*Gauge{},
		histograms: map[string]*Histogram{},
	}
}

// register returns the series stored under name and labels, creating it on
// first use.
func register[M any](r *Registry, m map[string]*M, name string, labels Labels, create func(full string) *M) *M {
	full := r.prefix + name
	key := full + labels.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := m[key]; ok {
		return existing
	}
	created := create(full)
	m[key] = created
	return created
}

func (r *Registry) RegisterCounter(name, help string, labels Labels) *Counter {
	return register(r, r.counters, name, labels, func(full string) *Counter {
		return NewCounter(full, help, labels)
	})
}

func (r *Registry) RegisterGauge(name, help string, labels Labels) *Gauge {
	return register(r, r.gauges, name, labels, func(full string) *Gauge {
		return NewGauge(full, help, labels)
	})
}

func (r *Registry) RegisterHistogram(name, help string, labels Labels, bounds []float64) *Histogram {
	return register(r, r.histograms, name, labels, func(full string) *Histogram {
		return NewHistogram(full, help, labels, bounds)
	})
}

// WritePrometheus writes the text exposition format, with one HELP and TYPE
// pair per metric name.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	seen := map[string]bool{}
	header := func(s series, kind string) {
		if !seen[s.name] {
			seen[s.name] = true
			fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n", s.name, s.help, s.name, kind)
		}
	}

	for _, k := range slices.Sorted(maps.Keys(r.counters)) {
		c := r.counters[k]
		header(c.series, "counter")
		fmt.Fprintf(&b, "%s%s %d\n", c.name, c.labels, c.Value())
	}
	for _, k := range slices.Sorted(maps.Keys(r.gauges)) {
		g := r.gauges[k]
		header(g.series, "gauge")
		fmt.Fprintf(&b, "%s%s %d\n", g.name, g.labels, g.Value())
	}
	for _, k := range slices.Sorted(maps.Keys(r.histograms)) {
		h := r.histograms[k]
		header(h.series, "histogram")
		cum := h.Cumulative()
		for i, bound := range h.bounds {
			fmt.Fprintf(&b, "%s_bucket%s %d\n", h.name, h.labels.with("le", fmt.Sprint(bound)), cum[i])
		}
		fmt.Fprintf(&b, "%s_bucket%s %d\n", h.name, h.labels.with("le", "+Inf"), cum[len(h.bounds)])
		fmt.Fprintf(&b, "%s_sum%s %g\n", h.name, h.labels, h.Sum())
		fmt.Fprintf(&b, "%s_count%s %d\n", h.name, h.labels, h.Count())
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON writes one indented object keyed by series.
func (r *Registry) WriteJSON(w io.Writer) error {
	r.mu.RLock()
	out := make(map[string]any, len(r.counters)+len(r.gauges)+len(r.histograms))
	for k, c := range r.counters {
		out[k] = map[string]any{"type": "counter", "help": c.help, "labels": c.labels, "value": c.Value()}
	}
	for k, g := range r.gauges {
		out[k] = map[string]any{"type": "gauge", "help": g.help, "labels": g.labels, "value": g.Value()}
	}
	for k, h := range r.histograms {
		cum := h.Cumulative()
		buckets := make(map[string]uint64, len(cum))
		for i, bound := range h.bounds {
			buckets[fmt.Sprint(bound)] = cum[i]
		}
		buckets["+Inf"] = cum[len(h.bounds)]
		out[k] = map[string]any{
			"type":    "histogram",
			"help":    h.help,
			"labels":  h.labels,
			"buckets": buckets,
			"sum":     h.Sum(),
			"count":   h.Count(),
			"mean":    h.Mean(),
		}
	}
	r.mu.RUnlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// HTTPHandler serves JSON to clients that accept application/json and the
// Prometheus text format to everyone else.
func (r *Registry) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.Contains(req.Header.Get("Accept"), "application/json") {
			w.Header().Set("Content-Type", "application/json")
			r.WriteJSON(w)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.WritePrometheus(w)
	})
}
