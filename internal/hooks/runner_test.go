package hooks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"loom/internal/config"
	"loom/internal/items"
	"loom/internal/logging"
	"loom/internal/pipeline"
	"loom/internal/runstate"
	"loom/internal/services"
)

type fakeGit struct {
	ahead int
	err   error
}

func (g *fakeGit) CurrentBranch(context.Context, string) (string, error) { return "work", nil }
func (g *fakeGit) IsDirty(context.Context, string) (bool, error)         { return false, nil }
func (g *fakeGit) AheadBehind(context.Context, string, string) (int, int, error) {
	return g.ahead, 0, g.err
}
func (g *fakeGit) Push(context.Context, string) (services.CommandResult, error) {
	return services.CommandResult{Success: true}, nil
}
func (g *fakeGit) Fetch(context.Context, string) (services.CommandResult, error) {
	return services.CommandResult{Success: true}, nil
}
func (g *fakeGit) Rebase(context.Context, string, string) (services.CommandResult, error) {
	return services.CommandResult{Success: true}, nil
}

type fakeTracker struct {
	status  services.PullRequest
	created int
	merged  []int
	err     error
}

func (t *fakeTracker) FetchIssue(context.Context, string, int) (services.Issue, error) {
	return services.Issue{}, nil
}
func (t *fakeTracker) CreatePR(context.Context, string, string, string) (services.PullRequest, error) {
	t.created++
	return services.PullRequest{Number: 101, State: "open"}, t.err
}
func (t *fakeTracker) MergePR(_ context.Context, _ string, number int) (services.CommandResult, error) {
	t.merged = append(t.merged, number)
	return services.CommandResult{Success: t.err == nil}, t.err
}
func (t *fakeTracker) PRStatus(context.Context, string, int) (services.PullRequest, error) {
	return t.status, t.err
}

type fakeWorkers struct {
	started []string
	stopped []string
	running map[string]bool
}

func (w *fakeWorkers) Start(_ context.Context, name, _, _ string) error {
	w.started = append(w.started, name)
	return nil
}
func (w *fakeWorkers) Exists(name string) bool { return w.running[name] }
func (w *fakeWorkers) Send(context.Context, string, string) error {
	return nil
}
func (w *fakeWorkers) Stop(_ context.Context, name string) error {
	w.stopped = append(w.stopped, name)
	return nil
}

type harness struct {
	runner  *Runner
	store   *items.Store
	state   *runstate.Store
	tracker *fakeTracker
	workers *fakeWorkers
	git     *fakeGit
	workdir string
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	resolver, err := pipeline.NewResolver(&cfg)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	dir := t.TempDir()
	state, err := runstate.Open(filepath.Join(dir, "runstate.toml"))
	if err != nil {
		t.Fatalf("runstate: %v", err)
	}
	store, err := items.Open(filepath.Join(dir, "items.db"))
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		store:   store,
		state:   state,
		tracker: &fakeTracker{},
		workers: &fakeWorkers{running: map[string]bool{}},
		git:     &fakeGit{ahead: 1},
		workdir: t.TempDir(),
	}
	h.runner = NewRunner(&cfg, resolver, state, store, h.git, h.tracker, h.workers, logging.NewNop())
	return h
}

func (h *harness) item(t *testing.T, dotPath string) *items.Item {
	t.Helper()
	item, err := h.store.Create(context.Background(), "", "test item", dotPath, "standard", nil)
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	return item
}

func (h *harness) invocation(t *testing.T, dotPath string) *Invocation {
	t.Helper()
	return &Invocation{
		Item:    h.item(t, dotPath),
		Current: pipeline.MustParsePath(dotPath),
		Workdir: h.workdir,
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestPreCompletionBlocksOnMissingFile(t *testing.T) {
	h := newHarness(t, nil)
	inv := h.invocation(t, "plan.draft")

	err := h.runner.Run(context.Background(), pipeline.HookPreCompletion, inv)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation failure for missing PLAN.md, got %v", err)
	}

	writeFile(t, h.workdir, "PLAN.md", "# Plan\n\n## Approach\n\n"+
		"This plan describes the approach in enough words to pass the word gate "+
		"by covering the design intent, the migration order, the known risks, the "+
		"testing strategy, and the rollout steps across the session layer and all "+
		"of its callers in real detail, so that the reviewer can judge the whole "+
		"body of work before any implementation begins on this branch.\n")
	if err := h.runner.Run(context.Background(), pipeline.HookPreCompletion, inv); err != nil {
		t.Fatalf("expected pass with PLAN.md present: %v", err)
	}
}

func TestChecklistRedirectResolvesAgainstCurrentStage(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Stages = append(cfg.Stages, config.Stage{
			Name: "gate",
			Substages: []config.Substage{
				{Name: "fix"},
				{Name: "check", PreCompletion: []config.Hook{
					{Kind: "checklist_item", File: "REVIEW.md", Item: "approved", OnFail: "fix"},
				}},
			},
		})
	})
	writeFile(t, h.workdir, "REVIEW.md", "## Review\n\n- [ ] approved by maintainer\n")
	inv := h.invocation(t, "gate.check")

	err := h.runner.Run(context.Background(), pipeline.HookPreCompletion, inv)
	var redirect *Redirect
	if !errors.As(err, &redirect) {
		t.Fatalf("expected redirect, got %v", err)
	}
	if redirect.Target != "gate.fix" {
		t.Fatalf("redirect target = %q, want gate.fix", redirect.Target)
	}
	if !strings.Contains(redirect.Reason, "approved") {
		t.Fatalf("reason %q must mention the checklist label", redirect.Reason)
	}
	if redirect.HistoryKind() != items.KindRedirect {
		t.Fatalf("checklist redirect history kind = %q, want redirect", redirect.HistoryKind())
	}

	writeFile(t, h.workdir, "REVIEW.md", "## Review\n\n- [x] approved by maintainer\n")
	if err := h.runner.Run(context.Background(), pipeline.HookPreCompletion, inv); err != nil {
		t.Fatalf("checked box must pass: %v", err)
	}
}

func TestRollbackCapForcesEscalation(t *testing.T) {
	h := newHarness(t, nil)
	inv := h.invocation(t, "address_review")

	for i := 1; i <= 3; i++ {
		err := h.runner.Run(context.Background(), pipeline.HookPreCompletion, inv)
		var redirect *Redirect
		if !errors.As(err, &redirect) {
			t.Fatalf("rollback %d: expected redirect, got %v", i, err)
		}
		if redirect.Target != "review" {
			t.Fatalf("rollback %d: target = %q, want review", i, redirect.Target)
		}
		if redirect.HistoryKind() != items.KindRollback {
			t.Fatalf("rollback %d: history kind = %q, want rollback", i, redirect.HistoryKind())
		}
	}

	err := h.runner.Run(context.Background(), pipeline.HookPreCompletion, inv)
	if !errors.Is(err, services.ErrEscalation) {
		t.Fatalf("fourth rollback must escalate, got %v", err)
	}
}

func TestOptionalHookFailureDoesNotBlock(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Stages = append(cfg.Stages, config.Stage{
			Name: "soft",
			PreCompletion: []config.Hook{
				{Kind: "file_exists", Path: "MISSING.md", Optional: true},
			},
		})
	})
	inv := h.invocation(t, "soft")
	if err := h.runner.Run(context.Background(), pipeline.HookPreCompletion, inv); err != nil {
		t.Fatalf("optional failure must not block: %v", err)
	}
}

func TestHostOnlySkippedInWorker(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Stages = append(cfg.Stages, config.Stage{
			Name: "hostgate",
			PreCompletion: []config.Hook{
				{Kind: "file_exists", Path: "HOST.md", HostOnly: true},
			},
		})
	})
	inv := h.invocation(t, "hostgate")
	inv.InWorker = true
	if err := h.runner.Run(context.Background(), pipeline.HookPreCompletion, inv); err != nil {
		t.Fatalf("host-only hook must be skipped in worker context: %v", err)
	}

	inv.InWorker = false
	if err := h.runner.Run(context.Background(), pipeline.HookPreCompletion, inv); err == nil {
		t.Fatal("host context must still run the hook")
	}
}

func TestEveryNGateOnHooks(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Stages = append(cfg.Stages, config.Stage{
			Name: "counted",
			PreCompletion: []config.Hook{
				{Kind: "file_exists", Path: "NEVER.md", EveryN: 3},
			},
		})
	})
	inv := h.invocation(t, "counted")

	// Invocations 1 and 2 are rate limited; 3 actually runs and fails.
	for i := 1; i <= 2; i++ {
		if err := h.runner.Run(context.Background(), pipeline.HookPreCompletion, inv); err != nil {
			t.Fatalf("invocation %d must be skipped by every_n: %v", i, err)
		}
	}
	if err := h.runner.Run(context.Background(), pipeline.HookPreCompletion, inv); err == nil {
		t.Fatal("third invocation must run the hook and fail")
	}
}

func TestMinIntervalGateOnHooks(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Stages = append(cfg.Stages, config.Stage{
			Name: "timed",
			PreCompletion: []config.Hook{
				{Kind: "file_exists", Path: "NEVER.md", MinIntervalSec: 60},
			},
		})
	})
	inv := h.invocation(t, "timed")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.runner.now = func() time.Time { return base }
	if err := h.runner.Run(context.Background(), pipeline.HookPreCompletion, inv); err == nil {
		t.Fatal("first invocation must run and fail")
	}

	h.runner.now = func() time.Time { return base.Add(30 * time.Second) }
	if err := h.runner.Run(context.Background(), pipeline.HookPreCompletion, inv); err != nil {
		t.Fatalf("30s later must be rate limited: %v", err)
	}

	h.runner.now = func() time.Time { return base.Add(120 * time.Second) }
	if err := h.runner.Run(context.Background(), pipeline.HookPreCompletion, inv); err == nil {
		t.Fatal("120s later must run again and fail")
	}
}

func TestUnknownKindIsWarningOnly(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Stages = append(cfg.Stages, config.Stage{
			Name: "odd",
			PreCompletion: []config.Hook{
				{Kind: "teleport_item"},
			},
		})
	})
	inv := h.invocation(t, "odd")
	if err := h.runner.Run(context.Background(), pipeline.HookPreCompletion, inv); err != nil {
		t.Fatalf("unknown kind must degrade to a warning: %v", err)
	}
}

func TestPostCompletionFailureIsNonBlocking(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Stages = append(cfg.Stages, config.Stage{
			Name: "after",
			PostCompletion: []config.Hook{
				{Kind: "merge_pr"}, // fails: no PR recorded
			},
		})
	})
	inv := h.invocation(t, "after")
	if err := h.runner.Run(context.Background(), pipeline.HookPostCompletion, inv); err != nil {
		t.Fatalf("post_completion failures must not propagate: %v", err)
	}
}

func TestOpenPRRecordsNumber(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Stages = append(cfg.Stages, config.Stage{
			Name: "ship",
			PostCompletion: []config.Hook{
				{Kind: "open_pr"},
			},
		})
	})
	inv := h.invocation(t, "ship")
	if err := h.runner.Run(context.Background(), pipeline.HookPostCompletion, inv); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.tracker.created != 1 {
		t.Fatalf("expected one PR creation, got %d", h.tracker.created)
	}
	got, err := h.store.GetByID(context.Background(), inv.Item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PRNumber != 101 {
		t.Fatalf("pr number = %d, want 101", got.PRNumber)
	}

	// Re-running must not open a second PR.
	if err := h.runner.Run(context.Background(), pipeline.HookPostCompletion, inv); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if h.tracker.created != 1 {
		t.Fatalf("open_pr must be idempotent, got %d creations", h.tracker.created)
	}
}

func TestExternalApproval(t *testing.T) {
	h := newHarness(t, nil)
	inv := h.invocation(t, "review")
	if err := h.store.SetDetails(context.Background(), inv.Item.ID, "", 55, ""); err != nil {
		t.Fatalf("set pr: %v", err)
	}
	inv.Item.PRNumber = 55

	h.tracker.status = services.PullRequest{Number: 55, Approved: false}
	if err := h.runner.Run(context.Background(), pipeline.HookPreCompletion, inv); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("unapproved PR must block: %v", err)
	}

	h.tracker.status = services.PullRequest{Number: 55, Approved: true}
	if err := h.runner.Run(context.Background(), pipeline.HookPreCompletion, inv); err != nil {
		t.Fatalf("approved PR must pass: %v", err)
	}
}

func TestRenderTemplate(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Stages = append(cfg.Stages, config.Stage{
			Name: "scaffold",
			PostStart: []config.Hook{
				{Kind: "render_template", Template: "tpl.md", Dest: "PLAN.md"},
			},
		})
	})
	writeFile(t, h.workdir, "tpl.md", "# {title}\n\nItem {id} on {stage}.\n")
	inv := h.invocation(t, "scaffold")

	if err := h.runner.Run(context.Background(), pipeline.HookPostStart, inv); err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(h.workdir, "PLAN.md"))
	if err != nil {
		t.Fatalf("read rendered: %v", err)
	}
	if !strings.Contains(string(data), "test item") || !strings.Contains(string(data), "scaffold") {
		t.Fatalf("placeholders not expanded: %s", data)
	}

	// A second run must not clobber the (possibly edited) document.
	writeFile(t, h.workdir, "PLAN.md", "edited")
	if err := h.runner.Run(context.Background(), pipeline.HookPostStart, inv); err != nil {
		t.Fatalf("second run: %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(h.workdir, "PLAN.md"))
	if string(data) != "edited" {
		t.Fatal("render_template overwrote an existing destination")
	}
}
