package services

import "context"

type contextKey string

const (
	itemIDKey    contextKey = "item_id"
	dotPathKey   contextKey = "dot_path"
	eventKey     contextKey = "event"
	requestIDKey contextKey = "request_id"
)

// WithItemID annotates context with the work item identifier.
func WithItemID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, itemIDKey, id)
}

// ItemIDFromContext extracts the work item identifier if present.
func ItemIDFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(itemIDKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithDotPath annotates context with the item's current dot-path.
func WithDotPath(ctx context.Context, path string) context.Context {
	if path == "" {
		return ctx
	}
	return context.WithValue(ctx, dotPathKey, path)
}

// DotPathFromContext returns the dot-path if present.
func DotPathFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(dotPathKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithEvent annotates context with the dispatcher event name.
func WithEvent(ctx context.Context, event string) context.Context {
	if event == "" {
		return ctx
	}
	return context.WithValue(ctx, eventKey, event)
}

// EventFromContext returns the dispatcher event name if present.
func EventFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(eventKey).(string); ok && v != "" {
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
