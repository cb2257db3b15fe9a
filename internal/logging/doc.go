// Package logging builds the slog loggers used across the orchestrator and
// standardizes the structured field vocabulary (item_id, dot_path, hook,
// action, event, correlation ids).
//
// Two output formats are supported: a compact console format for interactive
// use and JSON for log aggregation. Context carriage helpers derive per-item
// and per-request fields from a context.Context so deep call sites do not
// thread identifiers by hand.
package logging
