package helper

import (
	"context"
	"sync"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
)

// Levels recorded by ContextualLoggerSpy.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// ContextualLogRecord is one recorded call of ContextualLoggerSpy.
type ContextualLogRecord struct {
	Level   string
	Message string
	Args    []any
	Context context.Context
}

// ContextualLoggerSpy records the calls of an entitystore.ContextualLogger.
type ContextualLoggerSpy struct {
	mu      sync.Mutex
	records []ContextualLogRecord
}

// NewContextualLoggerSpy creates an empty spy.
func NewContextualLoggerSpy() *ContextualLoggerSpy {
	return &ContextualLoggerSpy{}
}

func (s *ContextualLoggerSpy) DebugContext(ctx context.Context, msg string, args ...any) {
	s.record(ctx, LevelDebug, msg, args)
}

func (s *ContextualLoggerSpy) InfoContext(ctx context.Context, msg string, args ...any) {
	s.record(ctx, LevelInfo, msg, args)
}

func (s *ContextualLoggerSpy) WarnContext(ctx context.Context, msg string, args ...any) {
	s.record(ctx, LevelWarn, msg, args)
}

func (s *ContextualLoggerSpy) ErrorContext(ctx context.Context, msg string, args ...any) {
	s.record(ctx, LevelError, msg, args)
}

func (s *ContextualLoggerSpy) record(ctx context.Context, level, msg string, args []any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, ContextualLogRecord{Level: level, Message: msg, Args: args, Context: ctx})
}

// Records returns the recorded calls of one level in call order.
func (s *ContextualLoggerSpy) Records(level string) []ContextualLogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	matching := make([]ContextualLogRecord, 0)
	for _, record := range s.records {
		if record.Level == level {
			matching = append(matching, record)
		}
	}

	return matching
}

// HasLog reports whether a call with level and message was recorded.
func (s *ContextualLoggerSpy) HasLog(level, message string) bool {
	for _, record := range s.Records(level) {
		if record.Message == message {
			return true
		}
	}

	return false
}

// Arg returns the value logged for key, nil if the record has none.
func (r ContextualLogRecord) Arg(key string) any {
	for i := 0; i+1 < len(r.Args); i += 2 {
		if r.Args[i] == key {
			return r.Args[i+1]
		}
	}

	return nil
}

var _ entitystore.ContextualLogger = (*ContextualLoggerSpy)(nil)
