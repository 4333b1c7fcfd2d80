package metrics

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Robitch/Robify-sub001/internal/core/domain"
	"github.com/Robitch/Robify-sub001/internal/logutils"
)

// MaxDurationValues bounds the history kept per duration metric.
const MaxDurationValues = 1000

// InMemoryMetrics keeps counters, gauges and duration samples in process memory.
type InMemoryMetrics struct {
	counters  map[string]*Counter
	gauges    map[string]*Gauge
	durations map[string]*Duration
	mu        sync.RWMutex
}

type Counter struct {
	Name   string            `json:"name"`
	Value  int64             `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
}

type Gauge struct {
	Name   string            `json:"name"`
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
}

type Duration struct {
	Name   string            `json:"name"`
	Values []time.Duration   `json:"-"`
	Labels map[string]string `json:"labels,omitempty"`
}

// DurationSummary is the exported view of a Duration.
type DurationSummary struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Count  int               `json:"count"`
	AvgMs  int64             `json:"avg_ms"`
	MaxMs  int64             `json:"max_ms"`
	LastMs int64             `json:"last_ms"`
}

// Snapshot is a consistent copy of every metric, sorted by key.
type Snapshot struct {
	Counters  []Counter         `json:"counters"`
	Gauges    []Gauge           `json:"gauges"`
	Durations []DurationSummary `json:"durations"`
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters:  make(map[string]*Counter),
		gauges:    make(map[string]*Gauge),
		durations: make(map[string]*Duration),
	}
}

var _ domain.MetricsInterface = (*InMemoryMetrics)(nil)

func (m *InMemoryMetrics) IncrementCounter(name string, labels map[string]string) {
	m.AddCounter(name, 1, labels)
}

func (m *InMemoryMetrics) AddCounter(name string, delta int64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := buildKey(name, labels)
	counter, exists := m.counters[key]
	if !exists {
		counter = &Counter{Name: name, Labels: copyLabels(labels)}
		m.counters[key] = counter
	}
	counter.Value += delta
}

func (m *InMemoryMetrics) SetGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := buildKey(name, labels)
	gauge, exists := m.gauges[key]
	if !exists {
		gauge = &Gauge{Name: name, Labels: copyLabels(labels)}
		m.gauges[key] = gauge
	}
	gauge.Value = value
}

func (m *InMemoryMetrics) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := buildKey(name, labels)
	d, exists := m.durations[key]
	if !exists {
		d = &Duration{Name: name, Labels: copyLabels(labels)}
		m.durations[key] = d
	}
	d.Values = append(d.Values, duration)
	if len(d.Values) > MaxDurationValues {
		d.Values = d.Values[len(d.Values)-MaxDurationValues:]
	}
}

// Counter returns the value of one counter, zero if it was never incremented.
func (m *InMemoryMetrics) Counter(name string, labels map[string]string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.counters[buildKey(name, labels)]; ok {
		return c.Value
	}
	return 0
}

func (m *InMemoryMetrics) Gauge(name string, labels map[string]string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.gauges[buildKey(name, labels)]; ok {
		return g.Value, true
	}
	return 0, false
}

func (m *InMemoryMetrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Counters:  make([]Counter, 0, len(m.counters)),
		Gauges:    make([]Gauge, 0, len(m.gauges)),
		Durations: make([]DurationSummary, 0, len(m.durations)),
	}
	for _, key := range sortedKeys(m.counters) {
		c := m.counters[key]
		snap.Counters = append(snap.Counters, Counter{Name: c.Name, Value: c.Value, Labels: copyLabels(c.Labels)})
	}
	for _, key := range sortedKeys(m.gauges) {
		g := m.gauges[key]
		snap.Gauges = append(snap.Gauges, Gauge{Name: g.Name, Value: g.Value, Labels: copyLabels(g.Labels)})
	}
	for _, key := range sortedKeys(m.durations) {
		snap.Durations = append(snap.Durations, summarize(m.durations[key]))
	}
	return snap
}

func (m *InMemoryMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters = make(map[string]*Counter)
	m.gauges = make(map[string]*Gauge)
	m.durations = make(map[string]*Duration)

	logutils.Log.Info("All metrics reset")
}

func summarize(d *Duration) DurationSummary {
	s := DurationSummary{Name: d.Name, Labels: copyLabels(d.Labels), Count: len(d.Values)}
	if s.Count == 0 {
		return s
	}
	var total, maxValue time.Duration
	for _, v := range d.Values {
		total += v
		if v > maxValue {
			maxValue = v
		}
	}
	s.AvgMs = (total / time.Duration(s.Count)).Milliseconds()
	s.MaxMs = maxValue.Milliseconds()
	s.LastMs = d.Values[len(d.Values)-1].Milliseconds()
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildKey orders labels so that equal label sets always map to the same metric.
func buildKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	for _, k := range sortedKeys(labels) {
		b.WriteString(":")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	result := make(map[string]string, len(labels))
	for k, v := range labels {
		result[k] = v
	}
	return result
}

// NoOpMetrics discards everything.
type NoOpMetrics struct{}

func NewNoOpMetrics() domain.MetricsInterface {
	return NoOpMetrics{}
}

func (NoOpMetrics) IncrementCounter(string, map[string]string)              {}
func (NoOpMetrics) AddCounter(string, int64, map[string]string)             {}
func (NoOpMetrics) SetGauge(string, float64, map[string]string)             {}
func (NoOpMetrics) RecordDuration(string, time.Duration, map[string]string) {}

// GaugeSource reports named gauge values, e.g. storage usage.
type GaugeSource func(ctx context.Context) map[string]float64

// Collector periodically samples the runtime and every source into gauges.
type Collector struct {
	metrics domain.MetricsInterface
	sources []GaugeSource
}

func NewCollector(metrics domain.MetricsInterface, sources ...GaugeSource) *Collector {
	return &Collector{metrics: metrics, sources: sources}
}

const bytesToMB = 1024 * 1024

func (c *Collector) Collect(ctx context.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	c.metrics.SetGauge("system_goroutines", float64(runtime.NumGoroutine()), nil)
	c.metrics.SetGauge("system_memory_alloc_mb", float64(memStats.Alloc)/bytesToMB, nil)
	c.metrics.SetGauge("system_memory_sys_mb", float64(memStats.Sys)/bytesToMB, nil)
	c.metrics.SetGauge("system_gc_cycles", float64(memStats.NumGC), nil)

	for _, source := range c.sources {
		for name, value := range source(ctx) {
			c.metrics.SetGauge(name, value, nil)
		}
	}

	logutils.Log.WithFields(map[string]any{
		"goroutines":   runtime.NumGoroutine(),
		"memory_alloc": float64(memStats.Alloc) / bytesToMB,
	}).Debug("Metrics collected")
}

// Run collects once and then on every tick until ctx is canceled.
func (c *Collector) Run(ctx context.Context, interval time.Duration) error {
	c.Collect(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Collect(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}
