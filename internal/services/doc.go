// Package services holds the error taxonomy shared across the orchestrator
// and the contracts for external collaborators: version control, the
// issue/PR tracker, and isolated worker sessions.
//
// Implementations shell out to the respective tooling (git, gh, tmux) with a
// bounded timeout per call. A timed-out command is reported as a failure,
// never a hang; there is no in-process cancellation once a command starts.
//
// Hook and engine code classifies failures with the sentinel errors exported
// here, so downstream handling (blocking vs. logged-and-continue) stays
// uniform regardless of which collaborator produced the failure.
package services
