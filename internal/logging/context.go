package logging

import (
	"context"
	"log/slog"

	"seisarchive/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldFile is the standardized key for the canonical name of the file under processing.
	FieldFile = "file"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldPolicy is the standardized key for the policy driving a run.
	FieldPolicy = "policy"
	// FieldIdentifier is the standardized key for persistent identifiers.
	FieldIdentifier = "identifier"
	// FieldReasonCode is the stable code attached to rejections and halts.
	FieldReasonCode = "reason_code"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType names the lifecycle event a log line records.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next operator step.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if name, ok := services.FileFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldFile, name))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if policy, ok := services.PolicyFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldPolicy, policy))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}

// WithStage returns a context annotated with the stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return services.WithStage(ctx, stage)
}
