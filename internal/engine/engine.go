// Package engine drives work item transitions: it binds the pipeline
// resolver, the state machine, the hook runner, and the item store into the
// transition entry point, and registers the built-in dispatcher actions that
// the heartbeat fires.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"loom/internal/config"
	"loom/internal/container"
	"loom/internal/dispatch"
	"loom/internal/hooks"
	"loom/internal/items"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/pipeline"
	"loom/internal/runstate"
	"loom/internal/services"
	"loom/internal/stall"
	"loom/internal/statemachine"
)

// Engine exposes the orchestration surface: transition, batch processing,
// stall queries, and event firing.
type Engine struct {
	cfg        *config.Config
	resolver   *pipeline.Resolver
	machine    *statemachine.Machine
	runner     *hooks.Runner
	store      *items.Store
	state      *runstate.Store
	detector   *stall.Detector
	notifier   notifications.Service
	workers    services.Workers
	registry   *dispatch.Registry
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// New wires an engine and registers the built-in dispatcher actions.
func New(
	cfg *config.Config,
	resolver *pipeline.Resolver,
	machine *statemachine.Machine,
	runner *hooks.Runner,
	store *items.Store,
	state *runstate.Store,
	detector *stall.Detector,
	notifier notifications.Service,
	workers services.Workers,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	e := &Engine{
		cfg:      cfg,
		resolver: resolver,
		machine:  machine,
		runner:   runner,
		store:    store,
		state:    state,
		detector: detector,
		notifier: notifier,
		workers:  workers,
		registry: dispatch.NewRegistry(),
		logger:   logging.WithComponent(logger, "engine"),
	}
	e.dispatcher = dispatch.New(cfg, e.registry, state, logger)
	e.registerBuiltins()
	return e
}

// Registry exposes the action registry so deployments can add custom actions
// before the first event fires.
func (e *Engine) Registry() *dispatch.Registry { return e.registry }

// Notifier exposes the notification service so the daemon can report its own
// lifecycle.
func (e *Engine) Notifier() notifications.Service { return e.notifier }

func (e *Engine) registerBuiltins() {
	e.registry.Register("process_stages", func(ctx context.Context, _ map[string]string) error {
		_, err := e.ProcessStages(ctx)
		return err
	})
	e.registry.Register("detect_stalls", func(ctx context.Context, _ map[string]string) error {
		_, err := e.StalledItems(ctx)
		return err
	})
	e.registry.Register("reconcile_statemachine", func(_ context.Context, _ map[string]string) error {
		e.machine.Reconcile(e.resolver, e.cfg.Workflow.DefaultFlow, e.logger)
		return nil
	})
	e.registry.Register("start_unblocked", func(ctx context.Context, _ map[string]string) error {
		return e.startUnblocked(ctx)
	})
	e.registry.Register("cleanup_workers", func(ctx context.Context, _ map[string]string) error {
		return e.cleanupWorkers(ctx)
	})
}

// Intake creates a new work item at its flow's entry dot-path. An empty flow
// name selects the configured default; a non-empty intake key makes the call
// idempotent against tracker re-imports.
func (e *Engine) Intake(ctx context.Context, intakeKey, title string, flow string, deps []int64) (*items.Item, error) {
	if flow == "" {
		flow = e.cfg.Workflow.DefaultFlow
	}
	if intakeKey != "" {
		existing, err := e.store.FindByIntakeKey(ctx, intakeKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}
	entry, err := e.resolver.Entry(flow)
	if err != nil {
		return nil, err
	}
	item, err := e.store.Create(ctx, intakeKey, title, entry.String(), flow, deps)
	if err != nil {
		return nil, err
	}
	e.logger.Info("work item created",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldDotPath, item.DotPath),
		logging.String(logging.FieldFlow, item.Flow))
	return item, nil
}

// Transition runs the full hook order for one item: on_exit, pre_completion
// (a failure or escalation aborts; a redirect reroutes), the state update,
// then post_completion of the departing and post_start of the arriving
// stage. It returns the item's resulting dot-path.
func (e *Engine) Transition(ctx context.Context, itemID int64, trigger string) (pipeline.Path, error) {
	item, err := e.store.GetByID(ctx, itemID)
	if err != nil {
		return pipeline.Path{}, err
	}
	if item == nil {
		return pipeline.Path{}, services.Wrap(services.ErrNotFound, "", "transition",
			fmt.Sprintf("work item %d does not exist", itemID), nil)
	}
	current, err := pipeline.ParsePath(item.DotPath)
	if err != nil {
		return pipeline.Path{}, services.Wrap(services.ErrValidation, item.DotPath, "transition", "bad current dot-path", err)
	}

	// One correlation id per transition; every log line and hook shares it.
	ctx = services.WithRequestID(ctx, uuid.NewString())
	ctx = services.WithItemID(ctx, item.ID)
	ctx = services.WithDotPath(ctx, item.DotPath)
	log := logging.WithContext(ctx, e.logger)

	profile, err := e.resolver.ContainerFor(current)
	if err != nil {
		return pipeline.Path{}, err
	}
	inv := &hooks.Invocation{
		Item:     item,
		Current:  current,
		Workdir:  e.workdir(item),
		InWorker: profile != nil,
		Context:  e.transitionContext(item, current, trigger, profile),
	}

	dest, kind, err := e.destination(trigger, item, current, inv.Context)
	if err != nil {
		return current, err
	}
	if dest == current {
		log.Debug("item is terminal, nothing to do")
		return current, nil
	}

	if err := e.runner.Run(ctx, pipeline.HookOnExit, inv); err != nil {
		return current, err
	}

	// A reject abandons the item; the completion gate applies to advance only.
	reason := ""
	if trigger == statemachine.TriggerAdvance {
		err = e.runner.Run(ctx, pipeline.HookPreCompletion, inv)
	}
	if err != nil {
		var redirect *hooks.Redirect
		if errors.As(err, &redirect) {
			target, perr := pipeline.ParsePath(redirect.Target)
			if perr != nil {
				return current, perr
			}
			dest = target
			reason = redirect.Reason
			kind = redirect.HistoryKind()
			log.Info("transition rerouted",
				logging.String("target", redirect.Target),
				logging.String("reason", redirect.Reason))
		} else {
			if errors.Is(err, services.ErrEscalation) {
				_ = e.notifier.NotifyEscalation(ctx, item.ID, item.Title, err.Error())
			}
			return current, err
		}
	}

	if err := e.validateEdge(kind, current, dest); err != nil {
		return current, err
	}

	updated, err := e.store.RecordTransition(ctx, item.ID, dest.String(), kind, reason)
	if err != nil {
		return current, err
	}
	e.state.ClearStallNotified(item.ID, current.String())
	if kind == items.KindAdvance {
		e.state.ResetRollbacks(item.ID)
	}
	log.Info("work item transitioned",
		logging.String("from", current.String()),
		logging.String("to", dest.String()),
		logging.String(logging.FieldTrigger, kind))
	_ = e.notifier.NotifyTransition(ctx, item.ID, item.Title, current.String(), dest.String())

	// Post-transition hooks never revert the committed state change.
	if err := e.runner.Run(ctx, pipeline.HookPostCompletion, inv); err != nil {
		log.Warn("post_completion hooks reported failure", logging.Error(err))
	}
	arrivingProfile, perr := e.resolver.ContainerFor(dest)
	if perr != nil {
		log.Warn("arriving container profile unresolved", logging.Error(perr))
	}
	arriving := &hooks.Invocation{
		Item:     updated,
		Current:  dest,
		Workdir:  e.workdir(updated),
		InWorker: arrivingProfile != nil,
		Context:  inv.Context,
	}
	if err := e.runner.Run(ctx, pipeline.HookPostStart, arriving); err != nil {
		log.Warn("post_start hooks reported failure", logging.Error(err))
	}
	return dest, nil
}

// destination maps a trigger to its target dot-path and history kind.
func (e *Engine) destination(trigger string, item *items.Item, current pipeline.Path, tctx map[string]any) (pipeline.Path, string, error) {
	switch trigger {
	case statemachine.TriggerAdvance:
		next, err := e.resolver.Next(item.Flow, current, tctx)
		if err != nil {
			return pipeline.Path{}, "", err
		}
		return next, items.KindAdvance, nil
	case statemachine.TriggerReject:
		return pipeline.Path{Stage: "abandoned"}, items.KindReject, nil
	default:
		return pipeline.Path{}, "", services.Wrap(services.ErrValidation, current.String(), "transition",
			fmt.Sprintf("unknown trigger %q", trigger), nil)
	}
}

// validateEdge checks the transition against the hand-maintained table when
// both endpoints are known to it. Flows that define their own stages fall
// outside the table; those edges are validated by flow membership alone and
// surface in the reconcile log instead.
func (e *Engine) validateEdge(kind string, source, dest pipeline.Path) error {
	if !e.machine.Known(source.String()) || !e.machine.Known(dest.String()) {
		e.logger.Debug("transition outside state table",
			logging.String("from", source.String()),
			logging.String("to", dest.String()))
		return nil
	}
	trigger := statemachine.TriggerAdvance
	switch kind {
	case items.KindReject:
		trigger = statemachine.TriggerReject
	case items.KindRedirect, items.KindRollback:
		trigger = statemachine.TriggerRedirect
	}
	return e.machine.ValidateTransition(trigger, source.String(), dest.String())
}

// BatchResult tallies one ProcessStages pass.
type BatchResult struct {
	Advanced int
	Skipped  int
	Failed   int
}

// ProcessStages advances every eligible in-flight item once. Items at
// human-review gates, parking lots, and terminal stages are skipped, and a
// failure on one item never aborts the rest of the batch.
func (e *Engine) ProcessStages(ctx context.Context) (BatchResult, error) {
	all, err := e.store.List(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	var result BatchResult
	for _, item := range all {
		path, err := pipeline.ParsePath(item.DotPath)
		if err != nil {
			result.Failed++
			continue
		}
		if e.resolver.IsHumanReview(path) || e.resolver.IsParkingLot(path) ||
			e.resolver.IsTerminal(item.Flow, path) {
			result.Skipped++
			continue
		}

		if _, err := e.Transition(ctx, item.ID, statemachine.TriggerAdvance); err != nil {
			result.Failed++
			e.logger.Warn("item transition failed, continuing batch",
				logging.Int64(logging.FieldItemID, item.ID),
				logging.String(logging.FieldDotPath, item.DotPath),
				logging.Error(err))
			continue
		}
		result.Advanced++
	}
	return result, nil
}

// StalledItems runs the stall detector and pushes a notification per new
// stall.
func (e *Engine) StalledItems(ctx context.Context) ([]stall.Record, error) {
	records, err := e.detector.Detect(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		_ = e.notifier.NotifyStall(ctx, rec.ID, rec.Title, rec.Path, rec.MinutesStalled)
	}
	return records, nil
}

// FireEvent fires a dispatcher event by name.
func (e *Engine) FireEvent(ctx context.Context, event string) dispatch.Result {
	return e.dispatcher.FireEvent(ctx, event)
}

func (e *Engine) startUnblocked(ctx context.Context) error {
	flows := e.resolver.FlowNames()
	for _, flow := range flows {
		entry, err := e.resolver.Entry(flow)
		if err != nil {
			continue
		}
		ready, err := e.store.Unblocked(ctx, entry.String(), e.terminalStates(flow))
		if err != nil {
			return err
		}
		for _, item := range ready {
			if len(item.Deps) == 0 {
				// Dependency-free items in the entry parking lot wait for an
				// operator; only previously blocked work starts automatically.
				continue
			}
			session := hooks.WorkerSession(item.ID)
			if e.workers.Exists(session) {
				continue
			}
			if err := e.workers.Start(ctx, session, e.workdir(item), ""); err != nil {
				e.logger.Warn("start unblocked worker failed",
					logging.Int64(logging.FieldItemID, item.ID),
					logging.Error(err))
			}
		}
	}
	return nil
}

func (e *Engine) cleanupWorkers(ctx context.Context) error {
	all, err := e.store.List(ctx)
	if err != nil {
		return err
	}
	for _, item := range all {
		path, perr := pipeline.ParsePath(item.DotPath)
		if perr != nil {
			continue
		}
		if !e.resolver.IsTerminal(item.Flow, path) {
			continue
		}
		session := hooks.WorkerSession(item.ID)
		if e.workers.Exists(session) {
			if err := e.workers.Stop(ctx, session); err != nil {
				e.logger.Warn("worker teardown failed",
					logging.Int64(logging.FieldItemID, item.ID),
					logging.Error(err))
			}
		}
	}
	return nil
}

func (e *Engine) terminalStates(flow string) []string {
	paths, err := e.resolver.FlowPaths(flow)
	if err != nil {
		return nil
	}
	var terminal []string
	for _, p := range paths {
		if e.resolver.IsTerminal(flow, p) {
			terminal = append(terminal, p.String())
		}
	}
	return terminal
}

func (e *Engine) workdir(item *items.Item) string {
	if item.Worktree != "" {
		return item.Worktree
	}
	return e.cfg.Paths.WorktreeDir
}

func (e *Engine) transitionContext(item *items.Item, current pipeline.Path, trigger string, profile *container.Profile) map[string]any {
	containerName := ""
	dangerous := false
	if profile != nil {
		containerName = profile.Name
		dangerous = profile.Dangerous
	}
	return map[string]any{
		"item_id":   item.ID,
		"title":     item.Title,
		"branch":    item.Branch,
		"pr":        item.PRNumber,
		"pr_open":   item.PRNumber != 0,
		"flow":      item.Flow,
		"stage":     current.Stage,
		"substage":  current.Substage,
		"trigger":   trigger,
		"container": containerName,
		"dangerous": dangerous,
		"rollbacks": e.state.RollbackCount(item.ID),
	}
}
