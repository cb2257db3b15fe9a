// Package daemon runs the long-lived orchestrator process: it enforces
// single-instance execution with a file lock, fires the startup event, ticks
// the heartbeat, and fires shutdown on the way out. The run-state document is
// refreshed before and persisted after every event so external edits and
// daemon mutations never clobber each other.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"loom/internal/config"
	"loom/internal/dispatch"
	"loom/internal/engine"
	"loom/internal/logging"
	"loom/internal/runstate"
)

// Daemon owns the heartbeat loop and the instance lock.
type Daemon struct {
	cfg    *config.Config
	engine *engine.Engine
	state  *runstate.Store
	logger *slog.Logger

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, eng *engine.Engine, state *runstate.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || eng == nil || state == nil {
		return nil, errors.New("daemon requires config, engine, and run state")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		engine:   eng,
		state:    state,
		logger:   logging.WithComponent(logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// LockPath returns the instance lock file location.
func (d *Daemon) LockPath() string { return d.lockPath }

// Running reports whether the heartbeat loop is active.
func (d *Daemon) Running() bool { return d.running.Load() }

// Start acquires the instance lock, fires the startup event, and launches the
// heartbeat loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", d.lockPath, err)
	}
	if !ok {
		return fmt.Errorf("another instance holds %s", d.lockPath)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running.Store(true)

	d.fire(loopCtx, dispatch.EventStartup)
	_ = d.engine.Notifier().NotifyDaemonStatus(loopCtx, "started")

	go d.loop(loopCtx)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.Duration("heartbeat", d.interval()))
	return nil
}

// Stop halts the heartbeat loop, fires the shutdown event, and releases the
// lock. Safe to call more than once.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	<-d.done

	// The loop context is gone; shutdown actions get their own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	d.fire(ctx, dispatch.EventShutdown)
	_ = d.engine.Notifier().NotifyDaemonStatus(ctx, "stopped")

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Run starts the daemon and blocks until the context is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}

func (d *Daemon) loop(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.fire(ctx, dispatch.EventHeartbeat)
		}
	}
}

// fire runs one event with the run-state document refreshed before and saved
// after, so hook and dispatcher bookkeeping survives restarts.
func (d *Daemon) fire(ctx context.Context, event string) {
	if err := d.state.Refresh(); err != nil {
		d.logger.Warn("run-state refresh failed",
			logging.String(logging.FieldEvent, event), logging.Error(err))
	}

	result := d.engine.FireEvent(ctx, event)

	if err := d.state.Save(); err != nil {
		d.logger.Warn("run-state save failed",
			logging.String(logging.FieldEvent, event), logging.Error(err))
	}
	if !result.Success {
		d.logger.Error("event finished with failures",
			logging.String(logging.FieldEvent, event),
			logging.Int("ran", result.ActionsRun),
			logging.Int("skipped", result.ActionsSkipped),
			logging.String("errors", strings.Join(result.Errors, "; ")))
	}
}

func (d *Daemon) interval() time.Duration {
	seconds := d.cfg.Workflow.HeartbeatInterval
	if seconds <= 0 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}
