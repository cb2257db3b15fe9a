package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"loom/internal/config"
	"loom/internal/items"
	"loom/internal/logging"
	"loom/internal/pipeline"
	"loom/internal/ratelimit"
	"loom/internal/runstate"
	"loom/internal/services"
)

// Invocation carries the ambient context one hook list runs against.
type Invocation struct {
	Item     *items.Item
	Current  pipeline.Path
	Workdir  string
	InWorker bool
	Context  map[string]any
}

// Runner executes hook lists for stage lifecycle events.
type Runner struct {
	cfg      *config.Config
	resolver *pipeline.Resolver
	state    *runstate.Store
	store    *items.Store
	git      services.Git
	tracker  services.Tracker
	workers  services.Workers
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunner wires a hook runner. The run-state store persists rate-limit
// state per hook name between heartbeats.
func NewRunner(
	cfg *config.Config,
	resolver *pipeline.Resolver,
	state *runstate.Store,
	store *items.Store,
	git services.Git,
	tracker services.Tracker,
	workers services.Workers,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		resolver: resolver,
		state:    state,
		store:    store,
		git:      git,
		tracker:  tracker,
		workers:  workers,
		logger:   logging.WithComponent(logger, "hooks"),
		now:      time.Now,
	}
}

// Run executes the hook list for one lifecycle event at the invocation's
// current dot-path. Only pre_completion blocks: its first failure, redirect,
// or escalation aborts the transition. Other events log failures and
// continue.
func (r *Runner) Run(ctx context.Context, event pipeline.HookEvent, inv *Invocation) error {
	hooks, err := r.resolver.HooksFor(inv.Current, event)
	if err != nil {
		return err
	}
	blocking := event == pipeline.HookPreCompletion

	for _, hook := range hooks {
		name := config.HookName(fmt.Sprintf("%s/%s", inv.Current, event), hook)
		log := r.logger.With(
			logging.Int64(logging.FieldItemID, inv.Item.ID),
			logging.String(logging.FieldDotPath, inv.Current.String()),
			logging.String(logging.FieldHook, name),
		)

		if hook.HostOnly && inv.InWorker {
			log.Debug("skipping host-only hook in worker context")
			continue
		}

		now := r.now()
		state := r.state.RecordInvocation(name)
		decision := ratelimit.Allow(
			state.LastRunAt,
			state.Invocations,
			now,
			time.Duration(hook.MinIntervalSec)*time.Second,
			hook.EveryN,
		)
		if !decision.Allowed {
			log.Debug("hook rate limited", logging.String("reason", decision.Reason))
			continue
		}

		runErr := r.executeWithTimeout(ctx, hook, inv)
		r.state.RecordRun(name, now, runErr)
		if runErr == nil {
			log.Debug("hook succeeded")
			continue
		}

		var redirect *Redirect
		if errors.As(runErr, &redirect) {
			if !blocking {
				log.Warn("redirect requested outside pre_completion, ignoring",
					logging.String("target", redirect.Target))
				continue
			}
			resolved, rerr := r.resolver.ResolveRedirect(inv.Current, redirect.Target)
			if rerr != nil {
				return rerr
			}
			return &Redirect{Target: resolved.String(), Reason: redirect.Reason, Kind: redirect.Kind}
		}

		if errors.Is(runErr, services.ErrEscalation) && blocking {
			return runErr
		}
		if hook.Optional {
			log.Warn("optional hook failed", logging.Error(runErr))
			continue
		}
		if blocking {
			return runErr
		}
		log.Warn("hook failed after transition, continuing", logging.Error(runErr))
	}
	return nil
}

func (r *Runner) executeWithTimeout(ctx context.Context, hook config.Hook, inv *Invocation) error {
	timeout := time.Duration(hook.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(r.cfg.Workflow.HookTimeout) * time.Second
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return r.execute(ctx, hook, inv)
}

// execute dispatches on the closed kind set. An unknown kind is a logged
// warning, never a transition failure.
func (r *Runner) execute(ctx context.Context, hook config.Hook, inv *Invocation) error {
	switch hook.Kind {
	case "file_exists":
		return r.asValidation(inv, r.validateFileExists(inv, hook))
	case "metric_threshold":
		return r.asValidation(inv, r.validateMetricThreshold(inv, hook))
	case "section_state":
		return r.asValidation(inv, r.validateSectionState(inv, hook))
	case "section_min_items":
		return r.asValidation(inv, r.validateSectionMinItems(inv, hook))
	case "section_min_words":
		return r.asValidation(inv, r.validateSectionMinWords(inv, hook))
	case "section_allowed":
		return r.asValidation(inv, r.validateSectionAllowed(inv, hook))
	case "unpushed_commits":
		return r.asValidation(inv, r.validateUnpushedCommits(ctx, inv))
	case "external_approval":
		return r.asValidation(inv, r.validateExternalApproval(ctx, inv, hook))
	case "checklist_item":
		return r.validateChecklistItem(inv, hook)
	case "run_command":
		return r.actionRunCommand(ctx, inv, hook)
	case "render_template":
		return r.actionRenderTemplate(inv, hook)
	case "open_pr":
		return r.actionOpenPR(ctx, inv)
	case "merge_pr":
		return r.actionMergePR(ctx, inv)
	case "rebase_main":
		return r.actionRebaseMain(ctx, inv, hook)
	case "teardown_worker":
		return r.actionTeardownWorker(ctx, inv)
	case "start_unblocked":
		return r.actionStartUnblocked(ctx, inv)
	case "rollback":
		return r.actionRollback(inv, hook)
	default:
		r.logger.Warn("unknown hook kind, skipping",
			logging.String("kind", hook.Kind),
			logging.String(logging.FieldDotPath, inv.Current.String()))
		return nil
	}
}

func (r *Runner) asValidation(inv *Invocation, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return validationFailure(inv, problems)
}
