package helper

import (
	"context"
	"maps"
	"sync"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
)

// SpySpanContext implements entitystore.SpanContext for testing tracing functionality.
type SpySpanContext struct {
	status     string
	attributes map[string]string
	mu         sync.Mutex
}

// SetStatus implements entitystore.SpanContext.
func (c *SpySpanContext) SetStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

// AddAttribute implements entitystore.SpanContext.
func (c *SpySpanContext) AddAttribute(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attributes == nil {
		c.attributes = make(map[string]string)
	}
	c.attributes[key] = value
}

// TracingCollectorSpy is a TracingCollector implementation that captures tracing calls for testing.
type TracingCollectorSpy struct {
	spanRecords []*SpySpanRecord
	mu          sync.Mutex
}

// SpySpanRecord represents a recorded span for testing.
type SpySpanRecord struct {
	Name            string
	StartAttributes map[string]string
	Status          string
	EndAttributes   map[string]string
	Finished        bool
	spanContext     *SpySpanContext
}

// NewTracingCollectorSpy creates a new TracingCollectorSpy.
func NewTracingCollectorSpy() *TracingCollectorSpy {
	return &TracingCollectorSpy{spanRecords: make([]*SpySpanRecord, 0)}
}

// StartSpan implements entitystore.TracingCollector.
func (s *TracingCollectorSpy) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, entitystore.SpanContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spanCtx := &SpySpanContext{attributes: make(map[string]string)}

	s.spanRecords = append(s.spanRecords, &SpySpanRecord{
		Name:            name,
		StartAttributes: maps.Clone(attrs),
		spanContext:     spanCtx,
	})

	return ctx, spanCtx
}

// FinishSpan implements entitystore.TracingCollector.
func (s *TracingCollectorSpy) FinishSpan(spanCtx entitystore.SpanContext, status string, attrs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.spanRecords {
		if record.spanContext == spanCtx {
			record.Status = status
			record.EndAttributes = maps.Clone(attrs)
			record.Finished = true

			return
		}
	}
}

// GetSpanRecords returns copies of all recorded spans.
func (s *TracingCollectorSpy) GetSpanRecords() []SpySpanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]SpySpanRecord, 0, len(s.spanRecords))
	for _, record := range s.spanRecords {
		records = append(records, *record)
	}

	return records
}

// HasSpan reports whether a finished span with name and status was recorded.
func (s *TracingCollectorSpy) HasSpan(name, status string) bool {
	for _, record := range s.GetSpanRecords() {
		if record.Name == name && record.Finished && record.Status == status {
			return true
		}
	}

	return false
}
