package hooks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"loom/internal/config"
	"loom/internal/items"
	"loom/internal/logging"
	"loom/internal/services"
)

// WorkerSession names the isolated worker session for an item.
func WorkerSession(itemID int64) string {
	return fmt.Sprintf("loom-%d", itemID)
}

func (r *Runner) actionRunCommand(ctx context.Context, inv *Invocation, hook config.Hook) error {
	if strings.TrimSpace(hook.Command) == "" {
		return services.Wrap(services.ErrConfiguration, inv.Current.String(), "run_command", "no command configured", nil)
	}
	// The hook-level timeout is already on ctx.
	_, err := services.RunCommand(ctx, inv.Workdir, 0, "sh", "-c", hook.Command)
	return err
}

// actionRenderTemplate instantiates a work document from a template, filling
// {id}, {title}, {branch}, {flow}, {stage}, {substage}, and {pr}. An existing
// destination is left alone so re-running a transition never clobbers edits.
func (r *Runner) actionRenderTemplate(inv *Invocation, hook config.Hook) error {
	if hook.Template == "" || hook.Dest == "" {
		return services.Wrap(services.ErrConfiguration, inv.Current.String(), "render_template",
			"template and dest must both be configured", nil)
	}
	dest := filepath.Join(inv.Workdir, hook.Dest)
	if _, err := os.Stat(dest); err == nil {
		r.logger.Debug("template destination exists, leaving it alone",
			logging.String("dest", hook.Dest))
		return nil
	}

	data, err := os.ReadFile(filepath.Join(inv.Workdir, hook.Template))
	if err != nil {
		return services.Wrap(services.ErrExternalTool, inv.Current.String(), "render_template", "read template", err)
	}
	replacer := strings.NewReplacer(
		"{id}", strconv.FormatInt(inv.Item.ID, 10),
		"{title}", inv.Item.Title,
		"{branch}", inv.Item.Branch,
		"{flow}", inv.Item.Flow,
		"{stage}", inv.Current.Stage,
		"{substage}", inv.Current.Substage,
		"{pr}", strconv.Itoa(inv.Item.PRNumber),
	)
	rendered := replacer.Replace(string(data))

	if dir := filepath.Dir(dest); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return services.Wrap(services.ErrExternalTool, inv.Current.String(), "render_template", "create dest directory", err)
		}
	}
	if err := os.WriteFile(dest, []byte(rendered), 0o644); err != nil {
		return services.Wrap(services.ErrExternalTool, inv.Current.String(), "render_template", "write destination", err)
	}
	return nil
}

func (r *Runner) actionOpenPR(ctx context.Context, inv *Invocation) error {
	if inv.Item.PRNumber != 0 {
		r.logger.Debug("pull request already open",
			logging.Int64(logging.FieldItemID, inv.Item.ID),
			logging.Int("pr", inv.Item.PRNumber))
		return nil
	}
	body := fmt.Sprintf("Work item #%d, flow %s.", inv.Item.ID, inv.Item.Flow)
	pr, err := r.tracker.CreatePR(ctx, inv.Workdir, inv.Item.Title, body)
	if err != nil {
		return err
	}
	if err := r.store.SetDetails(ctx, inv.Item.ID, "", pr.Number, ""); err != nil {
		return err
	}
	inv.Item.PRNumber = pr.Number
	r.logger.Info("opened pull request",
		logging.Int64(logging.FieldItemID, inv.Item.ID),
		logging.Int("pr", pr.Number),
		logging.String("url", pr.URL))
	return nil
}

func (r *Runner) actionMergePR(ctx context.Context, inv *Invocation) error {
	if inv.Item.PRNumber == 0 {
		return services.Wrap(services.ErrValidation, inv.Current.String(), "merge_pr",
			"no pull request recorded for this item", nil)
	}
	if _, err := r.tracker.MergePR(ctx, inv.Workdir, inv.Item.PRNumber); err != nil {
		return err
	}
	r.logger.Info("merged pull request",
		logging.Int64(logging.FieldItemID, inv.Item.ID),
		logging.Int("pr", inv.Item.PRNumber))
	return nil
}

func (r *Runner) actionRebaseMain(ctx context.Context, inv *Invocation, hook config.Hook) error {
	onto := hook.Onto
	if onto == "" {
		onto = "origin/" + r.cfg.Workflow.IntegrationBranch
	}
	if _, err := r.git.Fetch(ctx, inv.Workdir); err != nil {
		return err
	}
	_, err := r.git.Rebase(ctx, inv.Workdir, onto)
	return err
}

func (r *Runner) actionTeardownWorker(ctx context.Context, inv *Invocation) error {
	return r.workers.Stop(ctx, WorkerSession(inv.Item.ID))
}

// actionStartUnblocked launches workers for items whose dependencies have all
// reached a terminal state. Items wait at their flow's entry dot-path.
func (r *Runner) actionStartUnblocked(ctx context.Context, inv *Invocation) error {
	entry, err := r.resolver.Entry(inv.Item.Flow)
	if err != nil {
		return err
	}
	ready, err := r.store.Unblocked(ctx, entry.String(), r.terminalStates(inv.Item.Flow))
	if err != nil {
		return err
	}
	for _, item := range ready {
		session := WorkerSession(item.ID)
		if r.workers.Exists(session) {
			continue
		}
		workdir := item.Worktree
		if workdir == "" {
			workdir = inv.Workdir
		}
		if err := r.workers.Start(ctx, session, workdir, ""); err != nil {
			r.logger.Warn("start unblocked worker failed",
				logging.Int64(logging.FieldItemID, item.ID),
				logging.Error(err))
			continue
		}
		r.logger.Info("started worker for unblocked item",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.String("session", session))
	}
	return nil
}

func (r *Runner) terminalStates(flowName string) []string {
	paths, err := r.resolver.FlowPaths(flowName)
	if err != nil {
		return nil
	}
	var terminal []string
	for _, p := range paths {
		if r.resolver.IsTerminal(flowName, p) {
			terminal = append(terminal, p.String())
		}
	}
	return terminal
}

// actionRollback reroutes the item to the hook's target, bounded by
// max_rollbacks. Exhausting the budget refuses the rollback and escalates
// instead of looping forever.
func (r *Runner) actionRollback(inv *Invocation, hook config.Hook) error {
	if hook.Target == "" {
		return services.Wrap(services.ErrConfiguration, inv.Current.String(), "rollback", "no target configured", nil)
	}
	maxRollbacks := r.cfg.Workflow.MaxRollbacks
	count := r.state.IncrementRollback(inv.Item.ID)
	if count > maxRollbacks {
		return services.Wrap(services.ErrEscalation, inv.Current.String(), "rollback",
			fmt.Sprintf("item %d exceeded %d rollbacks, refusing to loop", inv.Item.ID, maxRollbacks), nil)
	}
	return &Redirect{
		Target: hook.Target,
		Reason: fmt.Sprintf("rollback %d of %d", count, maxRollbacks),
		Kind:   items.KindRollback,
	}
}
