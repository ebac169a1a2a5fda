package common

import (
	"context"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyTraceID     contextKey = "trace_id"
	ContextKeyJobID       contextKey = "job_id"
	ContextKeyWorkspaceID contextKey = "workspace_id"
)

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ContextKeyTraceID, traceID)
}

// TraceIDFromContext extracts the trace ID from context
func TraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(ContextKeyTraceID).(string); ok {
		return traceID
	}
	return ""
}

// WithJobID adds a job ID to the context
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, ContextKeyJobID, jobID)
}

// JobIDFromContext extracts the job ID from context
func JobIDFromContext(ctx context.Context) string {
	if jobID, ok := ctx.Value(ContextKeyJobID).(string); ok {
		return jobID
	}
	return ""
}

// WithWorkspaceID adds a workspace ID to the context
func WithWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	return context.WithValue(ctx, ContextKeyWorkspaceID, workspaceID)
}

// WorkspaceIDFromContext extracts the workspace ID from context
func WorkspaceIDFromContext(ctx context.Context) string {
	if workspaceID, ok := ctx.Value(ContextKeyWorkspaceID).(string); ok {
		return workspaceID
	}
	return ""
}
