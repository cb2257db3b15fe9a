package logging

import (
	"context"
	"log/slog"

	"loom/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldItemID is the standardized structured logging key for work item identifiers.
	FieldItemID = "item_id"
	// FieldDotPath is the standardized structured logging key for stage dot-paths.
	FieldDotPath = "dot_path"
	// FieldFlow is the standardized structured logging key for flow names.
	FieldFlow = "flow"
	// FieldHook is the standardized structured logging key for hook names.
	FieldHook = "hook"
	// FieldAction is the standardized structured logging key for dispatcher action names.
	FieldAction = "action"
	// FieldEvent is the standardized structured logging key for dispatcher event names.
	FieldEvent = "event"
	// FieldTrigger is the standardized structured logging key for transition triggers.
	FieldTrigger = "trigger"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.ItemIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldItemID, id))
	}
	if path, ok := services.DotPathFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldDotPath, path))
	}
	if event, ok := services.EventFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldEvent, event))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from
// the supplied context.
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
