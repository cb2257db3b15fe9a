// Package runstate persists the orchestrator's operational counters between
// heartbeats as a single TOML document: per-action rate-limit state, the
// monotonic heartbeat counter, per-item rollback counts, and stall-cooldown
// timestamps. The daemon's flock guarantees a single writer; reload-on-change
// uses the file's mtime so manual edits take effect on the next cycle.
package runstate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ActionState tracks rate-limit and outcome state for one named action or
// hook entry.
type ActionState struct {
	LastRunAt   time.Time `toml:"last_run_at,omitempty"`
	RunCount    int64     `toml:"run_count,omitempty"`
	Invocations int64     `toml:"invocations,omitempty"`
	LastSuccess bool      `toml:"last_success,omitempty"`
	LastError   string    `toml:"last_error,omitempty"`
}

type document struct {
	HeartbeatCount int64                  `toml:"heartbeat_count,omitempty"`
	Actions        map[string]ActionState `toml:"actions,omitempty"`
	Rollbacks      map[string]int         `toml:"rollbacks,omitempty"`
	StallNotified  map[string]time.Time   `toml:"stall_notified,omitempty"`
}

// Store reads and writes the run-state document. Mutations accumulate in
// memory; Save writes the whole document back.
type Store struct {
	path  string
	mtime time.Time
	doc   document
}

// Open loads the document at path, returning an empty one when the file does
// not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	s.doc = document{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.ensureMaps()
			s.mtime = time.Time{}
			return nil
		}
		return fmt.Errorf("read run state: %w", err)
	}
	if err := toml.Unmarshal(data, &s.doc); err != nil {
		return fmt.Errorf("parse run state: %w", err)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.mtime = info.ModTime()
	}
	s.ensureMaps()
	return nil
}

func (s *Store) ensureMaps() {
	if s.doc.Actions == nil {
		s.doc.Actions = make(map[string]ActionState)
	}
	if s.doc.Rollbacks == nil {
		s.doc.Rollbacks = make(map[string]int)
	}
	if s.doc.StallNotified == nil {
		s.doc.StallNotified = make(map[string]time.Time)
	}
}

// Refresh reloads the document when the file changed on disk since the last
// load. In-memory mutations not yet saved are discarded in that case; callers
// refresh at cycle start, before mutating.
func (s *Store) Refresh() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat run state: %w", err)
	}
	if info.ModTime().Equal(s.mtime) {
		return nil
	}
	return s.load()
}

// Save writes the document back to disk.
func (s *Store) Save() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}
	data, err := toml.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write run state: %w", err)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.mtime = info.ModTime()
	}
	return nil
}

// Action returns the state for a named action, zero-valued when never seen.
func (s *Store) Action(name string) ActionState {
	return s.doc.Actions[name]
}

// RecordInvocation counts one rate-limit opportunity for the action and
// returns the updated state, whose Invocations field feeds the count gate.
func (s *Store) RecordInvocation(name string) ActionState {
	state := s.doc.Actions[name]
	state.Invocations++
	s.doc.Actions[name] = state
	return state
}

// RecordRun stores the outcome of an actual action run.
func (s *Store) RecordRun(name string, at time.Time, runErr error) {
	state := s.doc.Actions[name]
	state.LastRunAt = at
	state.RunCount++
	state.LastSuccess = runErr == nil
	if runErr != nil {
		state.LastError = runErr.Error()
	} else {
		state.LastError = ""
	}
	s.doc.Actions[name] = state
}

// HeartbeatCount returns the monotonic heartbeat counter.
func (s *Store) HeartbeatCount() int64 { return s.doc.HeartbeatCount }

// IncrementHeartbeat bumps and returns the heartbeat counter.
func (s *Store) IncrementHeartbeat() int64 {
	s.doc.HeartbeatCount++
	return s.doc.HeartbeatCount
}

// RollbackCount returns the rollback counter for an item.
func (s *Store) RollbackCount(itemID int64) int {
	return s.doc.Rollbacks[rollbackKey(itemID)]
}

// IncrementRollback bumps and returns the rollback counter for an item.
func (s *Store) IncrementRollback(itemID int64) int {
	key := rollbackKey(itemID)
	s.doc.Rollbacks[key]++
	return s.doc.Rollbacks[key]
}

// ResetRollbacks clears the rollback counter, used when an item passes the
// gate it was being rolled back to.
func (s *Store) ResetRollbacks(itemID int64) {
	delete(s.doc.Rollbacks, rollbackKey(itemID))
}

func rollbackKey(itemID int64) string { return fmt.Sprintf("%d", itemID) }

// StallNotifiedAt returns when a stall notification was last sent for the
// (item, dot-path) pair, zero when never.
func (s *Store) StallNotifiedAt(itemID int64, dotPath string) time.Time {
	return s.doc.StallNotified[stallKey(itemID, dotPath)]
}

// MarkStallNotified records a stall notification for cooldown suppression.
func (s *Store) MarkStallNotified(itemID int64, dotPath string, at time.Time) {
	s.doc.StallNotified[stallKey(itemID, dotPath)] = at
}

// ClearStallNotified drops the cooldown entry, used when the item moves.
func (s *Store) ClearStallNotified(itemID int64, dotPath string) {
	delete(s.doc.StallNotified, stallKey(itemID, dotPath))
}

func stallKey(itemID int64, dotPath string) string {
	return fmt.Sprintf("%d:%s", itemID, dotPath)
}
