// Package dispatch fires lifecycle events against a process-wide action
// registry. Each of startup, shutdown, and heartbeat resolves to its
// configured action list (or a built-in default), every entry passes the
// shared rate gate, and outcomes are persisted per action name in the
// run-state document.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/ratelimit"
	"loom/internal/runstate"
	"loom/internal/services"
)

// Event names.
const (
	EventStartup   = "startup"
	EventShutdown  = "shutdown"
	EventHeartbeat = "heartbeat"
)

// Action is one registered dispatcher action.
type Action func(ctx context.Context, params map[string]string) error

// Registry maps action names to implementations. Registration happens once
// at daemon startup; lookup of an unknown name degrades to a logged warning.
type Registry struct {
	actions map[string]Action
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register binds a name to an implementation, replacing any previous binding.
func (r *Registry) Register(name string, fn Action) {
	r.actions[name] = fn
}

// Lookup returns the action for a name.
func (r *Registry) Lookup(name string) (Action, bool) {
	fn, ok := r.actions[name]
	return fn, ok
}

// Result tallies one fired event. Skipped counts rate-limited and
// unregistered entries, separately from entries that ran and failed.
type Result struct {
	Success        bool
	ActionsRun     int
	ActionsSkipped int
	Errors         []string
}

// Dispatcher resolves events to action lists and runs them sequentially.
type Dispatcher struct {
	cfg      *config.Config
	registry *Registry
	state    *runstate.Store
	logger   *slog.Logger
	now      func() time.Time
}

// New wires a dispatcher.
func New(cfg *config.Config, registry *Registry, state *runstate.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		state:    state,
		logger:   logging.WithComponent(logger, "dispatch"),
		now:      time.Now,
	}
}

// FireEvent runs the action list for an event. A heartbeat additionally
// bumps the persisted monotonic counter. An optional action's failure is
// logged without failing the event; a non-optional failure marks the whole
// event failed but later actions still run.
func (d *Dispatcher) FireEvent(ctx context.Context, event string) Result {
	ctx = services.WithEvent(ctx, event)
	if event == EventHeartbeat {
		count := d.state.IncrementHeartbeat()
		d.logger.Debug("heartbeat", logging.Int64("count", count))
	}

	result := Result{Success: true}
	for _, entry := range d.actionList(event) {
		name := fmt.Sprintf("%s/%s", event, entry.Action)
		log := d.logger.With(
			logging.String(logging.FieldEvent, event),
			logging.String(logging.FieldAction, entry.Action),
		)

		fn, ok := d.registry.Lookup(entry.Action)
		if !ok {
			log.Warn("action not registered, skipping")
			result.ActionsSkipped++
			continue
		}

		now := d.now()
		state := d.state.RecordInvocation(name)
		decision := ratelimit.Allow(
			state.LastRunAt,
			state.Invocations,
			now,
			time.Duration(entry.MinIntervalSec)*time.Second,
			entry.EveryN,
		)
		if !decision.Allowed {
			log.Debug("action rate limited", logging.String("reason", decision.Reason))
			result.ActionsSkipped++
			continue
		}

		err := fn(ctx, entry.Params)
		d.state.RecordRun(name, now, err)
		result.ActionsRun++
		if err == nil {
			log.Debug("action succeeded")
			continue
		}

		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.Action, err))
		if entry.Optional {
			log.Warn("optional action failed", logging.Error(err))
			continue
		}
		log.Error("action failed", logging.Error(err))
		result.Success = false
	}
	return result
}

// actionList resolves an event to its configured entries, falling back to the
// built-in defaults when the config leaves the event unset.
func (d *Dispatcher) actionList(event string) []config.EventAction {
	var configured []config.EventAction
	switch event {
	case EventStartup:
		configured = d.cfg.Events.Startup
	case EventShutdown:
		configured = d.cfg.Events.Shutdown
	case EventHeartbeat:
		configured = d.cfg.Events.Heartbeat
	default:
		d.logger.Warn("unknown event", logging.String(logging.FieldEvent, event))
		return nil
	}
	if len(configured) > 0 {
		return configured
	}
	return defaultActions(event, d.cfg)
}

func defaultActions(event string, cfg *config.Config) []config.EventAction {
	switch event {
	case EventStartup:
		return []config.EventAction{
			{Action: "reconcile_statemachine"},
		}
	case EventHeartbeat:
		return []config.EventAction{
			{Action: "process_stages"},
			{Action: "detect_stalls"},
			{Action: "reconcile_statemachine", EveryN: cfg.Workflow.ReconcileEveryN, Optional: true},
			{Action: "start_unblocked", Optional: true},
		}
	case EventShutdown:
		return []config.EventAction{
			{Action: "cleanup_workers", Optional: true},
		}
	default:
		return nil
	}
}
