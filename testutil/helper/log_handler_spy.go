package helper

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

// LogHandlerSpy is a slog.Handler implementation that captures log records for testing.
type LogHandlerSpy struct {
	records     []slog.Record
	mu          sync.Mutex
	logToStdout bool
}

// NewLogHandlerSpy creates a new LogHandlerSpy
// Switchable to log to stdout, which can be useful for debugging tests by seeing the actual log output.
func NewLogHandlerSpy(logToStdOut bool) *LogHandlerSpy {
	return &LogHandlerSpy{
		records:     make([]slog.Record, 0),
		logToStdout: logToStdOut,
	}
}

// Handle implements slog.Handler interface.
func (s *LogHandlerSpy) Handle(ctx context.Context, record slog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)

	if s.logToStdout {
		jsonHandler := slog.NewJSONHandler(os.Stdout, nil)
		_ = jsonHandler.Handle(ctx, record)
	}

	return nil
}

// Enabled implements slog.Handler interface.
func (s *LogHandlerSpy) Enabled(_ context.Context, _ slog.Level) bool {
	return true // Always enabled for testing
}

// WithAttrs implements slog.Handler interface.
func (s *LogHandlerSpy) WithAttrs(_ []slog.Attr) slog.Handler {
	return s
}

// WithGroup implements slog.Handler interface.
func (s *LogHandlerSpy) WithGroup(_ string) slog.Handler {
	return s
}

// GetRecordCount returns the number of captured log records.
func (s *LogHandlerSpy) GetRecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

// Reset clears all captured log records.
func (s *LogHandlerSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = s.records[:0]
}

// SpyLogRecordMatcher provides a fluent interface for checking log record attributes.
type SpyLogRecordMatcher struct {
	records []slog.Record
}

// HasDebugLogWithMessage starts a fluent chain to check debug-level log records.
func (s *LogHandlerSpy) HasDebugLogWithMessage(message string) *SpyLogRecordMatcher {
	return s.hasLogWithMessage(slog.LevelDebug, message)
}

// HasInfoLogWithMessage starts a fluent chain to check info-level log records.
func (s *LogHandlerSpy) HasInfoLogWithMessage(message string) *SpyLogRecordMatcher {
	return s.hasLogWithMessage(slog.LevelInfo, message)
}

// HasWarnLogWithMessage starts a fluent chain to check warn-level log records.
func (s *LogHandlerSpy) HasWarnLogWithMessage(message string) *SpyLogRecordMatcher {
	return s.hasLogWithMessage(slog.LevelWarn, message)
}

// HasErrorLogWithMessage starts a fluent chain to check error-level log records.
func (s *LogHandlerSpy) HasErrorLogWithMessage(message string) *SpyLogRecordMatcher {
	return s.hasLogWithMessage(slog.LevelError, message)
}

func (s *LogHandlerSpy) hasLogWithMessage(level slog.Level, message string) *SpyLogRecordMatcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	matching := make([]slog.Record, 0)
	for _, record := range s.records {
		if record.Level == level && record.Message == message {
			matching = append(matching, record)
		}
	}

	return &SpyLogRecordMatcher{records: matching}
}

// WithAttribute keeps only records that carry the attribute key.
func (m *SpyLogRecordMatcher) WithAttribute(key string) *SpyLogRecordMatcher {
	return m.filter(func(attr slog.Attr) bool {
		return attr.Key == key
	})
}

// WithStringAttribute keeps only records that carry the attribute key with the given value.
func (m *SpyLogRecordMatcher) WithStringAttribute(key, value string) *SpyLogRecordMatcher {
	return m.filter(func(attr slog.Attr) bool {
		return attr.Key == key && attr.Value.String() == value
	})
}

// WithDurationMS keeps only records that carry a non-negative duration_ms attribute.
func (m *SpyLogRecordMatcher) WithDurationMS() *SpyLogRecordMatcher {
	return m.filter(func(attr slog.Attr) bool {
		if attr.Key != "duration_ms" {
			return false
		}

		switch attr.Value.Kind() {
		case slog.KindInt64:
			return attr.Value.Int64() >= 0
		case slog.KindFloat64:
			return attr.Value.Float64() >= 0
		default:
			return false
		}
	})
}

// Count returns the number of matching records.
func (m *SpyLogRecordMatcher) Count() int {
	return len(m.records)
}

// Assert returns true if at least one record matches.
func (m *SpyLogRecordMatcher) Assert() bool {
	return len(m.records) > 0
}

func (m *SpyLogRecordMatcher) filter(match func(attr slog.Attr) bool) *SpyLogRecordMatcher {
	matching := make([]slog.Record, 0)

	for _, record := range m.records {
		found := false
		record.Attrs(func(attr slog.Attr) bool {
			if match(attr) {
				found = true
				return false // Stop iteration
			}

			return true // Continue iteration
		})

		if found {
			matching = append(matching, record)
		}
	}

	return &SpyLogRecordMatcher{records: matching}
}
