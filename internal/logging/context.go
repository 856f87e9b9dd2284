// internal/logging/context.go
package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	// Pipeline run context
	if run := RunFromContext(ctx); run != nil {
		fields = append(fields,
			zap.String("run.project", run.ProjectID),
			zap.String("run.task", run.TaskID),
		)
		if run.OrgID != "" {
			fields = append(fields, zap.String("run.org", run.OrgID))
		}
	}

	// Phase context
	if phase := PhaseFromContext(ctx); phase != "" {
		fields = append(fields, zap.String("phase", phase))
	}

	// Request ID
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

// Context key types
type runCtxKey struct{}
type phaseCtxKey struct{}
type requestCtxKey struct{}

// Run identifies a pipeline run in logs.
type Run struct {
	// OrgID is resolved from billing metadata and may be empty
	// early in a run.
	OrgID     string
	ProjectID string
	TaskID    string
}

// Validation constants
const (
	maxRunFieldLen = 64
	maxIDLen       = 128
)

var (
	// runFieldPattern allows alphanumeric, hyphen, underscore
	runFieldPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// idPattern allows alphanumeric, hyphen, underscore
	idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// validateRunField validates a run identity field (org, project, task ID).
func validateRunField(field, name string) error {
	if field == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(field) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(field) > maxRunFieldLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxRunFieldLen)
	}
	if !runFieldPattern.MatchString(field) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// validateID validates a phase or request ID.
func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// RunFromContext extracts run identity from context.
func RunFromContext(ctx context.Context) *Run {
	if r, ok := ctx.Value(runCtxKey{}).(*Run); ok {
		return r
	}
	return nil
}

// WithRun adds run identity to context.
// Panics if run is nil or contains invalid field values.
// OrgID is permitted to be empty; the other fields are not.
func WithRun(ctx context.Context, run *Run) context.Context {
	if run == nil {
		panic("logging: run cannot be nil")
	}
	if run.OrgID != "" {
		if err := validateRunField(run.OrgID, "run.OrgID"); err != nil {
			panic(fmt.Sprintf("logging: %v", err))
		}
	}
	if err := validateRunField(run.ProjectID, "run.ProjectID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	if err := validateRunField(run.TaskID, "run.TaskID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, runCtxKey{}, run)
}

// PhaseFromContext extracts the active phase from context.
func PhaseFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(phaseCtxKey{}).(string); ok {
		return p
	}
	return ""
}

// WithPhase adds the active phase to context.
// Panics if phase is empty or contains invalid characters.
func WithPhase(ctx context.Context, phase string) context.Context {
	if err := validateID(phase, "phase"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, phaseCtxKey{}, phase)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context.
// Panics if requestID is empty or contains invalid characters.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := validateID(requestID, "requestID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a default nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
