package entitystore

import (
	"context"
	"math"
	"time"
)

// Logger interface for operational logging, warnings, and error reporting. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ContextualLogger interface for context-aware logging with automatic trace correlation.
type ContextualLogger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// MetricsCollector interface for collecting Store and EventBus performance and operational metrics.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// ContextualMetricsCollector extends MetricsCollector with context-aware methods for trace correlation.
// It is optional, the base methods are used when a collector does not implement it.
type ContextualMetricsCollector interface {
	MetricsCollector
	RecordDurationContext(ctx context.Context, metric string, duration time.Duration, labels map[string]string)
	IncrementCounterContext(ctx context.Context, metric string, labels map[string]string)
	RecordValueContext(ctx context.Context, metric string, value float64, labels map[string]string)
}

// SpanContext represents an active tracing span that can be finished and updated with attributes.
type SpanContext interface {
	SetStatus(status string)
	AddAttribute(key, value string)
}

// TracingCollector interface for collecting distributed tracing information from Store operations.
type TracingCollector interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext)
	FinishSpan(spanCtx SpanContext, status string, attrs map[string]string)
}

const (
	metricOperationDuration = "entitystore_operation_duration_seconds"
	metricOperationErrors   = "entitystore_operation_errors_total"
	metricSnapshotsWritten  = "entitystore_snapshots_written_total"
	metricEventsPersisted   = "entitystore_events_persisted"
	metricEventsPublished   = "entitystore_events_published_total"
	metricDispatchFailures  = "entitystore_subscriber_failures_total"
	metricReplayedEvents    = "entitystore_replayed_events_total"

	spanPrefix = "entitystore."

	statusSuccess = "success"
	statusError   = "error"

	labelOperation  = "operation"
	labelStatus     = "status"
	labelEntityType = "entity_type"
	labelEventType  = "event_type"
	labelSubscriber = "subscriber"
)

// observer bundles the optional observability collaborators shared by Store and EventBus.
type observer struct {
	logger           Logger
	contextualLogger ContextualLogger
	metricsCollector MetricsCollector
	tracingCollector TracingCollector
}

func (o *observer) logDebug(ctx context.Context, msg string, args ...any) {
	if o.contextualLogger != nil {
		o.contextualLogger.DebugContext(ctx, msg, args...)
	} else if o.logger != nil {
		o.logger.Debug(msg, args...)
	}
}

func (o *observer) logInfo(ctx context.Context, msg string, args ...any) {
	if o.contextualLogger != nil {
		o.contextualLogger.InfoContext(ctx, msg, args...)
	} else if o.logger != nil {
		o.logger.Info(msg, args...)
	}
}

func (o *observer) logWarn(ctx context.Context, msg string, args ...any) {
	if o.contextualLogger != nil {
		o.contextualLogger.WarnContext(ctx, msg, args...)
	} else if o.logger != nil {
		o.logger.Warn(msg, args...)
	}
}

// logError logs error information at the error level with the error as first attribute.
func (o *observer) logError(ctx context.Context, msg string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if o.contextualLogger != nil {
		o.contextualLogger.ErrorContext(ctx, msg, allArgs...)
	} else if o.logger != nil {
		o.logger.Error(msg, allArgs...)
	}
}

func (o *observer) recordDuration(ctx context.Context, operation, status string, duration time.Duration) {
	if o.metricsCollector == nil {
		return
	}

	labels := map[string]string{labelOperation: operation, labelStatus: status}

	if contextual, ok := o.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metricOperationDuration, duration, labels)
	} else {
		o.metricsCollector.RecordDuration(metricOperationDuration, duration, labels)
	}
}

func (o *observer) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if o.metricsCollector == nil {
		return
	}

	if contextual, ok := o.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
	} else {
		o.metricsCollector.IncrementCounter(metric, labels)
	}
}

func (o *observer) recordValue(ctx context.Context, metric string, value float64, labels map[string]string) {
	if o.metricsCollector == nil {
		return
	}

	if contextual, ok := o.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metric, value, labels)
	} else {
		o.metricsCollector.RecordValue(metric, value, labels)
	}
}

// startSpan starts a tracing span if the tracing collector is configured.
func (o *observer) startSpan(ctx context.Context, operation string, attrs map[string]string) (context.Context, SpanContext) {
	if o.tracingCollector == nil {
		return ctx, nil
	}

	return o.tracingCollector.StartSpan(ctx, spanPrefix+operation, attrs)
}

// finishSpan finishes a tracing span if one was started.
func (o *observer) finishSpan(span SpanContext, err error) {
	if o.tracingCollector == nil || span == nil {
		return
	}

	if err != nil {
		o.tracingCollector.FinishSpan(span, statusError, map[string]string{logAttrError: err.Error()})
		return
	}

	o.tracingCollector.FinishSpan(span, statusSuccess, nil)
}

// track starts a span and returns the function that finishes it and records the duration.
func (o *observer) track(ctx context.Context, operation string, attrs map[string]string) (context.Context, func(err error)) {
	start := time.Now()
	ctx, span := o.startSpan(ctx, operation, attrs)

	return ctx, func(err error) {
		status := statusSuccess
		if err != nil {
			status = statusError
			o.incrementCounter(ctx, metricOperationErrors, map[string]string{labelOperation: operation})
		}

		o.recordDuration(ctx, operation, status, time.Since(start))
		o.finishSpan(span, err)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
