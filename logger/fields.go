package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across pricehist.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldRunID     = "run_id"
	FieldComponent = "component"

	// Pipeline subjects
	FieldDate      = "date"
	FieldProductID = "product_id"
	FieldURL       = "url"
	FieldPath      = "path"
	FieldEntry     = "entry"
	FieldShape     = "shape"
	FieldFormat    = "format"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldAttempt    = "attempt"
	FieldBackoff    = "backoff"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts and sizes
	FieldCount     = "count"
	FieldSize      = "size"
	FieldBatchSize = "batch_size"
	FieldImported  = "imported"
	FieldErrors    = "errors"

	// Status
	FieldStatus = "status"
	FieldReason = "reason"
)

// Context keys for propagating logging context
type contextKey string

const (
	runIDKey     contextKey = "logger_run_id"
	componentKey contextKey = "logger_component"
)

// WithRunID adds an ingestion run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// RunIDFromContext returns the run ID stored by WithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns base with fields extracted from context.
// A nil base falls back to the global Logger.
func LoggerFromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	fetcher := archive.NewFetcher(locator, opts, logger.ComponentLogger("archive.fetch"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
