package services

import (
	"context"
	"fmt"
	"time"

	"github.com/GianlucaP106/gotmux/gotmux"
)

// Workers manages the lifecycle of isolated worker sessions. Each work item
// that executes under an automated role gets one named session.
type Workers interface {
	Start(ctx context.Context, name, workDir, command string) error
	Exists(name string) bool
	Send(ctx context.Context, name, message string) error
	Stop(ctx context.Context, name string) error
}

// NoopWorkers satisfies Workers when no tmux server is reachable. Sessions
// are never created and every query reports absence.
type NoopWorkers struct{}

func (NoopWorkers) Start(context.Context, string, string, string) error { return nil }
func (NoopWorkers) Exists(string) bool                                  { return false }
func (NoopWorkers) Send(context.Context, string, string) error          { return nil }
func (NoopWorkers) Stop(context.Context, string) error                  { return nil }

// TmuxWorkers runs worker sessions inside tmux.
type TmuxWorkers struct {
	tmux    *gotmux.Tmux
	timeout time.Duration
}

// NewTmuxWorkers connects to the default tmux server.
func NewTmuxWorkers(timeout time.Duration) (*TmuxWorkers, error) {
	tmux, err := gotmux.DefaultTmux()
	if err != nil {
		return nil, Wrap(ErrExternalTool, "", "tmux", "connect to tmux server", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TmuxWorkers{tmux: tmux, timeout: timeout}, nil
}

// Start creates a detached session rooted in the item's working directory and
// launches the worker command in its first pane.
func (w *TmuxWorkers) Start(ctx context.Context, name, workDir, command string) error {
	if w.Exists(name) {
		return fmt.Errorf("worker session %q already running", name)
	}
	if _, err := w.tmux.NewSession(&gotmux.SessionOptions{
		Name:           name,
		StartDirectory: workDir,
	}); err != nil {
		return Wrap(ErrExternalTool, "", "tmux", "create worker session", err)
	}
	if command == "" {
		return nil
	}
	return w.Send(ctx, name, command)
}

func (w *TmuxWorkers) Exists(name string) bool {
	sessions, err := w.tmux.ListSessions()
	if err != nil {
		return false
	}
	for _, s := range sessions {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Send delivers a line of input to the session's active pane.
// gotmux has no send-keys wrapper, so this shells out to tmux directly.
func (w *TmuxWorkers) Send(ctx context.Context, name, message string) error {
	_, err := RunCommand(ctx, "", w.timeout, "tmux", "send-keys", "-t", name, message, "C-m")
	return err
}

// Stop tears down the named session. Stopping a session that does not exist
// is not an error; teardown hooks run on items whose workers may have exited.
func (w *TmuxWorkers) Stop(ctx context.Context, name string) error {
	sessions, err := w.tmux.ListSessions()
	if err != nil {
		return Wrap(ErrExternalTool, "", "tmux", "list sessions", err)
	}
	for _, s := range sessions {
		if s.Name == name {
			if err := s.Kill(); err != nil {
				return Wrap(ErrExternalTool, "", "tmux", "kill worker session", err)
			}
			return nil
		}
	}
	return nil
}
