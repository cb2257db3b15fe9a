// Package hooks executes the validators and actions attached to stage
// lifecycle events. The kind set is a closed union: each configured kind maps
// to one implementation here, and an unknown kind degrades to a logged
// warning instead of failing the transition.
//
// For one transition the runner fires on_exit (non-blocking), then
// pre_completion (first failure or redirect aborts), then, after the engine
// commits the state update, post_completion of the departing stage and
// post_start of the arriving stage (both logged, never reverting). Every
// entry passes the shared rate gate before running, with its state persisted
// per hook name in the run-state document.
package hooks
