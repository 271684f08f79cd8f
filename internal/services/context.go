package services

import "context"

type contextKey string

const (
	fileKey      contextKey = "file"
	stageKey     contextKey = "stage"
	policyKey    contextKey = "policy"
	requestIDKey contextKey = "request_id"
)

// WithFile annotates context with the canonical name of the file under processing.
func WithFile(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, fileKey, name)
}

// FileFromContext returns the file name if present.
func FileFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(fileKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithPolicy annotates context with the policy driving the run.
func WithPolicy(ctx context.Context, policy string) context.Context {
	if policy == "" {
		return ctx
	}
	return context.WithValue(ctx, policyKey, policy)
}

// PolicyFromContext returns the policy name if present.
func PolicyFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(policyKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
