package oteladapters

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
)

// MetricsCollector implements entitystore.ContextualMetricsCollector with OpenTelemetry instruments.
// Durations go to Float64Histograms in seconds, counters to Int64Counters and values to Float64Gauges.
// Instruments are created on first use and cached by metric name.
type MetricsCollector struct {
	meter metric.Meter

	mu         sync.Mutex
	histograms map[string]metric.Float64Histogram
	counters   map[string]metric.Int64Counter
	gauges     map[string]metric.Float64Gauge
}

// NewMetricsCollector creates a collector on meter.
func NewMetricsCollector(meter metric.Meter) *MetricsCollector {
	return &MetricsCollector{
		meter:      meter,
		histograms: make(map[string]metric.Float64Histogram),
		counters:   make(map[string]metric.Int64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

func (m *MetricsCollector) RecordDuration(metricName string, duration time.Duration, labels map[string]string) {
	m.RecordDurationContext(context.Background(), metricName, duration, labels)
}

func (m *MetricsCollector) RecordDurationContext(
	ctx context.Context,
	metricName string,
	duration time.Duration,
	labels map[string]string,
) {
	histogram, err := instrument(m, m.histograms, metricName, func() (metric.Float64Histogram, error) {
		return m.meter.Float64Histogram(metricName,
			metric.WithDescription("Duration of entity store operations"),
			metric.WithUnit("s"),
		)
	})
	if err != nil {
		return
	}

	histogram.Record(ctx, duration.Seconds(), metric.WithAttributes(toAttributes(labels)...))
}

func (m *MetricsCollector) IncrementCounter(metricName string, labels map[string]string) {
	m.IncrementCounterContext(context.Background(), metricName, labels)
}

func (m *MetricsCollector) IncrementCounterContext(ctx context.Context, metricName string, labels map[string]string) {
	counter, err := instrument(m, m.counters, metricName, func() (metric.Int64Counter, error) {
		return m.meter.Int64Counter(metricName, metric.WithDescription("Entity store event counter"))
	})
	if err != nil {
		return
	}

	counter.Add(ctx, 1, metric.WithAttributes(toAttributes(labels)...))
}

func (m *MetricsCollector) RecordValue(metricName string, value float64, labels map[string]string) {
	m.RecordValueContext(context.Background(), metricName, value, labels)
}

func (m *MetricsCollector) RecordValueContext(ctx context.Context, metricName string, value float64, labels map[string]string) {
	gauge, err := instrument(m, m.gauges, metricName, func() (metric.Float64Gauge, error) {
		return m.meter.Float64Gauge(metricName, metric.WithDescription("Entity store observed value"))
	})
	if err != nil {
		return
	}

	gauge.Record(ctx, value, metric.WithAttributes(toAttributes(labels)...))
}

// instrument returns the cached instrument for name or creates and caches it.
// A creation error is not cached, the next call retries.
func instrument[T any](m *MetricsCollector, cache map[string]T, name string, create func() (T, error)) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := cache[name]; ok {
		return existing, nil
	}

	created, err := create()
	if err != nil {
		return created, err
	}

	cache[name] = created

	return created, nil
}

func toAttributes(labels map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for key, value := range labels {
		attrs = append(attrs, attribute.String(key, value))
	}

	return attrs
}

var _ entitystore.ContextualMetricsCollector = (*MetricsCollector)(nil)
