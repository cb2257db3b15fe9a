// Package config loads, normalizes, and validates loom configuration data.
//
// It supplies repository defaults (including the stock pipeline: stages,
// flows, roles, and container profiles), expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob
// the daemon and CLI need: pipeline structure, hook attachments, event action
// lists, rate limits, and stall thresholds.
//
// Validation here is structural (unique names, well-formed dot-paths,
// non-empty flows). Cross-reference resolution, such as flow entries against
// the stage set and container extends chains, happens in the pipeline and
// container packages at resolver construction, which is still load time: a
// config that does not resolve aborts startup.
package config
