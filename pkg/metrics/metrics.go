// Prometheus-compatible metrics for the axiscope panel
//
// Counter, Gauge and Histogram keyed by label sets, gathered in the
// Prometheus text exposition format.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType represents the type of metric
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "untyped"
	}
}

// Labels represents metric labels as key-value pairs
type Labels map[string]string

func (l Labels) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Key returns a stable identity for the label set.
func (l Labels) Key() string {
	var sb strings.Builder
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(l[k])
	}
	return sb.String()
}

// String returns labels in Prometheus format, e.g. {a="1",b="2"}.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(escapeLabel(l[k]))
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}

func (l Labels) clone() Labels {
	out := make(Labels, len(l)+1)
	for k, v := range l {
		out[k] = v
	}
	return out
}

// With returns a copy of l with key set to value.
func (l Labels) With(key, value string) Labels {
	out := l.clone()
	out[key] = value
	return out
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(s string) string {
	return labelEscaper.Replace(s)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Metric is the interface for all metric types
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

// series holds one value per label set, written in label-key order.
type series[V any] struct {
	mu     sync.RWMutex
	labels map[string]Labels
	values map[string]*V
}

func (s *series[V]) get(labels Labels, create func() *V) *V {
	key := labels.Key()
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	if ok || create == nil {
		return v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok = s.values[key]; ok {
		return v
	}
	if s.values == nil {
		s.values = make(map[string]*V)
		s.labels = make(map[string]Labels)
	}
	v = create()
	s.values[key] = v
	s.labels[key] = labels.clone()
	return v
}

func (s *series[V]) each(fn func(Labels, *V)) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)

	for _, k := range keys {
		s.mu.RLock()
		l, v := s.labels[k], s.values[k]
		s.mu.RUnlock()
		fn(l, v)
	}
}

func writeHeader(sb *strings.Builder, m Metric) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", m.Name(), m.Help(), m.Name(), m.Type())
}

// Counter is a monotonically increasing metric
type Counter struct {
	name, help string
	s          series[uint64]
}

// NewCounter creates a new counter metric
func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Name() string     { return c.name }
func (c *Counter) Help() string     { return c.help }
func (c *Counter) Type() MetricType { return TypeCounter }

// Inc increments the counter by 1
func (c *Counter) Inc(labels Labels) {
	c.Add(labels, 1)
}

// Add increments the counter by delta
func (c *Counter) Add(labels Labels, delta uint64) {
	atomic.AddUint64(c.s.get(labels, func() *uint64 { return new(uint64) }), delta)
}

// Get returns the current value for labels
func (c *Counter) Get(labels Labels) uint64 {
	if v := c.s.get(labels, nil); v != nil {
		return atomic.LoadUint64(v)
	}
	return 0
}

func (c *Counter) Write(sb *strings.Builder) {
	writeHeader(sb, c)
	c.s.each(func(l Labels, v *uint64) {
		fmt.Fprintf(sb, "%s%s %d\n", c.name, l, atomic.LoadUint64(v))
	})
}

// Gauge is a metric that can go up and down
type Gauge struct {
	name, help string
	s          series[gaugeValue]
}

type gaugeValue struct {
	mu sync.Mutex
	v  float64
}

// NewGauge creates a new gauge metric
func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

func (g *Gauge) Name() string     { return g.name }
func (g *Gauge) Help() string     { return g.help }
func (g *Gauge) Type() MetricType { return TypeGauge }

func (g *Gauge) value(labels Labels) *gaugeValue {
	return g.s.get(labels, func() *gaugeValue { return &gaugeValue{} })
}

// Set sets the gauge to value
func (g *Gauge) Set(labels Labels, value float64) {
	gv := g.value(labels)
	gv.mu.Lock()
	gv.v = value
	gv.mu.Unlock()
}

// Add adds delta to the gauge
func (g *Gauge) Add(labels Labels, delta float64) {
	gv := g.value(labels)
	gv.mu.Lock()
	gv.v += delta
	gv.mu.Unlock()
}

func (g *Gauge) Inc(labels Labels) { g.Add(labels, 1) }
func (g *Gauge) Dec(labels Labels) { g.Add(labels, -1) }

// Get returns the current value for labels
func (g *Gauge) Get(labels Labels) float64 {
	gv := g.s.get(labels, nil)
	if gv == nil {
		return 0
	}
	gv.mu.Lock()
	defer gv.mu.Unlock()
	return gv.v
}

func (g *Gauge) Write(sb *strings.Builder) {
	writeHeader(sb, g)
	g.s.each(func(l Labels, gv *gaugeValue) {
		gv.mu.Lock()
		v := gv.v
		gv.mu.Unlock()
		fmt.Fprintf(sb, "%s%s %s\n", g.name, l, formatFloat(v))
	})
}

// Histogram tracks the distribution of observations
type Histogram struct {
	name, help string
	buckets    []float64
	s          series[histogramValue]
}

type histogramValue struct {
	mu     sync.Mutex
	count  uint64
	sum    float64
	counts []uint64 // per bucket, not cumulative
}

// NewHistogram creates a histogram with the given upper bounds
func NewHistogram(name, help string, buckets []float64) *Histogram {
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	return &Histogram{name: name, help: help, buckets: sorted}
}

// DefaultBuckets returns latency buckets in seconds
func DefaultBuckets() []float64 {
	return []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
}

func (h *Histogram) Name() string     { return h.name }
func (h *Histogram) Help() string     { return h.help }
func (h *Histogram) Type() MetricType { return TypeHistogram }

// Observe records a value
func (h *Histogram) Observe(labels Labels, value float64) {
	hv := h.s.get(labels, func() *histogramValue {
		return &histogramValue{counts: make([]uint64, len(h.buckets))}
	})
	hv.mu.Lock()
	hv.count++
	hv.sum += value
	if i := sort.SearchFloat64s(h.buckets, value); i < len(h.buckets) {
		hv.counts[i]++
	}
	hv.mu.Unlock()
}

// Timer returns a function that records the elapsed time when called
func (h *Histogram) Timer(labels Labels) func() {
	start := time.Now()
	return func() { h.Observe(labels, time.Since(start).Seconds()) }
}

// HistogramSnapshot is a point-in-time copy with cumulative bucket counts
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64
}

// Snapshot returns the current values for labels
func (h *Histogram) Snapshot(labels Labels) HistogramSnapshot {
	snap := HistogramSnapshot{Buckets: make(map[float64]uint64, len(h.buckets))}
	hv := h.s.get(labels, nil)
	if hv == nil {
		return snap
	}
	hv.mu.Lock()
	defer hv.mu.Unlock()
	snap.Count, snap.Sum = hv.count, hv.sum
	var cum uint64
	for i, b := range h.buckets {
		cum += hv.counts[i]
		snap.Buckets[b] = cum
	}
	return snap
}

func (h *Histogram) Write(sb *strings.Builder) {
	writeHeader(sb, h)
	h.s.each(func(l Labels, _ *histogramValue) {
		snap := h.Snapshot(l)
		for _, b := range h.buckets {
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, l.With("le", formatFloat(b)), snap.Buckets[b])
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, l.With("le", "+Inf"), snap.Count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, l, formatFloat(snap.Sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, l, snap.Count)
	})
}

// Registry holds metrics in registration order
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	order   []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register adds a metric; names must be unique.
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.metrics[m.Name()]; exists {
		return fmt.Errorf("metric %q already registered", m.Name())
	}
	r.metrics[m.Name()] = m
	r.order = append(r.order, m.Name())
	return nil
}

// MustRegister adds a metric and panics on error
func (r *Registry) MustRegister(m Metric) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Get returns a metric by name, or nil.
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// Gather renders all metrics in Prometheus text format
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, name := range r.order {
		r.metrics[name].Write(&sb)
	}
	return sb.String()
}
