package helper

import (
	"maps"
	"sync"
	"time"
)

// MetricsCollectorSpy is a MetricsCollector implementation that captures metrics calls for testing.
type MetricsCollectorSpy struct {
	durationRecords []SpyMetricRecord
	counterRecords  []SpyMetricRecord
	valueRecords    []SpyMetricRecord
	mu              sync.Mutex
	recordCalls     bool
}

// SpyMetricRecord represents one recorded metric call. Duration and Value are set depending on the kind.
type SpyMetricRecord struct {
	Metric   string
	Duration time.Duration
	Value    float64
	Labels   map[string]string
}

// NewMetricsCollectorSpy creates a new MetricsCollectorSpy.
// Set recordCalls to true to capture all metrics calls for inspection in tests.
func NewMetricsCollectorSpy(recordCalls bool) *MetricsCollectorSpy {
	return &MetricsCollectorSpy{
		durationRecords: make([]SpyMetricRecord, 0),
		counterRecords:  make([]SpyMetricRecord, 0),
		valueRecords:    make([]SpyMetricRecord, 0),
		recordCalls:     recordCalls,
	}
}

// RecordDuration implements the MetricsCollector interface.
func (s *MetricsCollectorSpy) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	if !s.recordCalls {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.durationRecords = append(s.durationRecords, SpyMetricRecord{Metric: metric, Duration: duration, Labels: maps.Clone(labels)})
}

// IncrementCounter implements the MetricsCollector interface.
func (s *MetricsCollectorSpy) IncrementCounter(metric string, labels map[string]string) {
	if !s.recordCalls {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counterRecords = append(s.counterRecords, SpyMetricRecord{Metric: metric, Labels: maps.Clone(labels)})
}

// RecordValue implements the MetricsCollector interface.
func (s *MetricsCollectorSpy) RecordValue(metric string, value float64, labels map[string]string) {
	if !s.recordCalls {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.valueRecords = append(s.valueRecords, SpyMetricRecord{Metric: metric, Value: value, Labels: maps.Clone(labels)})
}

// Reset clears all captured records.
func (s *MetricsCollectorSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.durationRecords = s.durationRecords[:0]
	s.counterRecords = s.counterRecords[:0]
	s.valueRecords = s.valueRecords[:0]
}

// MetricRecordMatcher provides a fluent interface for checking metric records.
type MetricRecordMatcher struct {
	records []SpyMetricRecord
}

// HasDurationRecordForMetric starts a fluent chain to check duration records.
func (s *MetricsCollectorSpy) HasDurationRecordForMetric(metric string) *MetricRecordMatcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	return newMetricRecordMatcher(s.durationRecords, metric)
}

// HasCounterRecordForMetric starts a fluent chain to check counter records.
func (s *MetricsCollectorSpy) HasCounterRecordForMetric(metric string) *MetricRecordMatcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	return newMetricRecordMatcher(s.counterRecords, metric)
}

// HasValueRecordForMetric starts a fluent chain to check value records.
func (s *MetricsCollectorSpy) HasValueRecordForMetric(metric string) *MetricRecordMatcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	return newMetricRecordMatcher(s.valueRecords, metric)
}

func newMetricRecordMatcher(records []SpyMetricRecord, metric string) *MetricRecordMatcher {
	matching := make([]SpyMetricRecord, 0)
	for _, record := range records {
		if record.Metric == metric {
			matching = append(matching, record)
		}
	}

	return &MetricRecordMatcher{records: matching}
}

// WithOperation filters records by the operation label.
func (m *MetricRecordMatcher) WithOperation(operation string) *MetricRecordMatcher {
	return m.WithLabel("operation", operation)
}

// WithStatus filters records by the status label.
func (m *MetricRecordMatcher) WithStatus(status string) *MetricRecordMatcher {
	return m.WithLabel("status", status)
}

// WithLabel filters records by a label value.
func (m *MetricRecordMatcher) WithLabel(key, value string) *MetricRecordMatcher {
	matching := make([]SpyMetricRecord, 0)
	for _, record := range m.records {
		if record.Labels[key] == value {
			matching = append(matching, record)
		}
	}

	return &MetricRecordMatcher{records: matching}
}

// Records returns the matching records.
func (m *MetricRecordMatcher) Records() []SpyMetricRecord {
	return m.records
}

// Count returns the number of matching records.
func (m *MetricRecordMatcher) Count() int {
	return len(m.records)
}

// Assert returns true if at least one record matches.
func (m *MetricRecordMatcher) Assert() bool {
	return len(m.records) > 0
}
