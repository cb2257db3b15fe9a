package hooks

import (
	"fmt"

	"loom/internal/items"
)

// Redirect is a routing decision, not a failure: a validator or the rollback
// action requests the item be sent to Target instead of advancing. The
// transition driver catches it and reroutes. Kind is the history kind to
// record; an empty Kind means an ordinary redirect.
type Redirect struct {
	Target string
	Reason string
	Kind   string
}

// HistoryKind returns the transition kind this redirect should record.
func (e *Redirect) HistoryKind() string {
	if e.Kind == "" {
		return items.KindRedirect
	}
	return e.Kind
}

func (e *Redirect) Error() string {
	return fmt.Sprintf("redirect to %q: %s", e.Target, e.Reason)
}
