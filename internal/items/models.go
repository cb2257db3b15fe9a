package items

import "time"

// Transition kinds recorded in history.
const (
	KindAdvance  = "advance"
	KindReject   = "reject"
	KindRedirect = "redirect"
	KindRollback = "rollback"
)

// Item is one unit of work moving through a flow. Items are created at
// intake and never deleted; the dot-path moves only through RecordTransition.
type Item struct {
	ID             int64
	IntakeKey      string
	Title          string
	DotPath        string
	Flow           string
	Branch         string
	PRNumber       int
	Worktree       string
	Deps           []int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAdvancedAt time.Time
}

// Transition is one history record for an item.
type Transition struct {
	ID       int64
	ItemID   int64
	FromPath string
	ToPath   string
	Kind     string
	Reason   string
	At       time.Time
}
