// Package pipeline turns the declarative stage and flow configuration into
// query-able structures: dot-path parsing, flow expansion, next-stage
// computation, and per-dot-path model/skill selection.
//
// A dot-path is either a bare stage name ("backlog") or "stage.substage"
// ("implement.code"). Flows are ordered dot-path sequences; bare stage
// references expand to the stage's full ordered substage list at resolver
// construction. Unresolvable references fail there, at load time, never at
// use time.
//
// Next-stage computation scans the flow strictly after the current entry,
// skipping redirect-only stages and entries whose when-condition evaluates
// false against the transition context. When nothing qualifies the current
// path is returned unchanged, which callers treat as the terminal signal.
package pipeline
