package es

import "context"

// Logger is a minimal interface for store observability. It is optional
// everywhere it appears: adapters treat a nil Logger as disabled logging
// with zero overhead. Implement it to plug in any logging library.
type Logger interface {
	// Debug logs verbose operational detail for troubleshooting.
	Debug(ctx context.Context, msg string, keyvals ...interface{})

	// Info logs significant events during normal operation.
	Info(ctx context.Context, msg string, keyvals ...interface{})

	// Error logs failures that require attention.
	Error(ctx context.Context, msg string, keyvals ...interface{})
}

// NoOpLogger is a Logger that discards everything. It can be used where a
// non-nil Logger is more convenient than a nil check.
type NoOpLogger struct{}

// Debug implements Logger.
func (NoOpLogger) Debug(_ context.Context, _ string, _ ...interface{}) {}

// Info implements Logger.
func (NoOpLogger) Info(_ context.Context, _ string, _ ...interface{}) {}

// Error implements Logger.
func (NoOpLogger) Error(_ context.Context, _ string, _ ...interface{}) {}
