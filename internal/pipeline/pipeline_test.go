package pipeline

import (
	"errors"
	"testing"

	"loom/internal/config"
	"loom/internal/services"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Flows = append(cfg.Flows, config.Flow{
		Name:   "short",
		Stages: []string{"backlog", "define.refine", "research.explore", "accepted"},
		Define: []config.Stage{{Name: "accepted", ParkingLot: true}},
	})
	return &cfg
}

func mustResolver(t *testing.T, cfg *config.Config) *Resolver {
	t.Helper()
	r, err := NewResolver(cfg)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return r
}

func TestParsePathRoundTrip(t *testing.T) {
	for _, value := range []string{"backlog", "implement.code", "plan.review", "a.b"} {
		path, err := ParsePath(value)
		if err != nil {
			t.Fatalf("parse %q: %v", value, err)
		}
		if got := path.String(); got != value {
			t.Errorf("round trip %q -> %q", value, got)
		}
	}
}

func TestParsePathRejectsMalformed(t *testing.T) {
	for _, value := range []string{"", "  ", ".code", "stage."} {
		if _, err := ParsePath(value); err == nil {
			t.Errorf("expected error for %q", value)
		}
	}
}

func TestFlowExpansion(t *testing.T) {
	r := mustResolver(t, testConfig())
	paths, err := r.FlowPaths("standard")
	if err != nil {
		t.Fatalf("flow paths: %v", err)
	}
	// Bare stage names expand to their substage dot-paths in order.
	want := []string{
		"backlog", "define.refine", "research.explore", "plan.draft", "plan.review",
		"implement.code", "implement.test", "review", "address_review", "merge", "done",
	}
	if len(paths) != len(want) {
		t.Fatalf("expanded %d entries, want %d: %v", len(paths), len(want), paths)
	}
	for i, w := range want {
		if paths[i].String() != w {
			t.Errorf("entry %d = %q, want %q", i, paths[i], w)
		}
	}
}

func TestFlowExpansionFailsOnUnknownReference(t *testing.T) {
	cfg := testConfig()
	cfg.Flows = append(cfg.Flows, config.Flow{Name: "broken", Stages: []string{"backlog", "nonexistent"}})
	if _, err := NewResolver(cfg); err == nil {
		t.Fatal("expected unknown stage reference to fail at construction")
	} else if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestFlowExpansionFailsOnUnknownSubstage(t *testing.T) {
	cfg := testConfig()
	cfg.Flows = append(cfg.Flows, config.Flow{Name: "broken", Stages: []string{"plan.missing"}})
	if _, err := NewResolver(cfg); err == nil {
		t.Fatal("expected unknown substage reference to fail at construction")
	}
}

func TestNextSkipsRedirectOnly(t *testing.T) {
	r := mustResolver(t, testConfig())
	next, err := r.Next("standard", MustParsePath("review"), nil)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	// address_review is redirect-only and must be skipped.
	if next.String() != "merge" {
		t.Fatalf("next after review = %q, want merge", next)
	}
}

func TestNextTerminalReturnsCurrent(t *testing.T) {
	r := mustResolver(t, testConfig())
	current := MustParsePath("done")
	next, err := r.Next("standard", current, nil)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != current {
		t.Fatalf("terminal stage must return itself, got %q", next)
	}
}

func TestNextSkipsWhenConditionFalse(t *testing.T) {
	cfg := testConfig()
	cfg.Stages = append(cfg.Stages, config.Stage{Name: "docs", When: "needs_docs"})
	cfg.Flows = append(cfg.Flows, config.Flow{
		Name:   "cond",
		Stages: []string{"backlog", "docs", "done"},
	})
	r := mustResolver(t, cfg)

	next, err := r.Next("cond", MustParsePath("backlog"), map[string]any{"needs_docs": false})
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next.String() != "done" {
		t.Fatalf("docs must be skipped when condition is false, got %q", next)
	}

	next, err = r.Next("cond", MustParsePath("backlog"), map[string]any{"needs_docs": true})
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next.String() != "docs" {
		t.Fatalf("docs must run when condition is true, got %q", next)
	}
}

func TestNextRejectsPathOutsideFlow(t *testing.T) {
	r := mustResolver(t, testConfig())
	if _, err := r.Next("short", MustParsePath("merge"), nil); err == nil {
		t.Fatal("expected error for dot-path outside flow")
	}
}

func TestResolveRedirect(t *testing.T) {
	r := mustResolver(t, testConfig())
	current := MustParsePath("implement.code")

	cases := []struct {
		target string
		want   string
	}{
		{"implement.test", "implement.test"}, // dotted targets are absolute
		{"test", "implement.test"},           // bare substage of the current stage
		{"review", "review"},                 // bare known stage name
		{"plan", "plan.draft"},               // bare stage with substages enters the first
	}
	for _, tc := range cases {
		got, err := r.ResolveRedirect(current, tc.target)
		if err != nil {
			t.Errorf("resolve %q: %v", tc.target, err)
			continue
		}
		if got.String() != tc.want {
			t.Errorf("resolve %q = %q, want %q", tc.target, got, tc.want)
		}
	}

	if _, err := r.ResolveRedirect(current, "nowhere"); err == nil {
		t.Fatal("expected error for unresolvable redirect target")
	}
}

func TestSelectModelPrecedence(t *testing.T) {
	cfg := testConfig()
	cfg.Workflow.DefaultModel = "global"
	cfg.Roles = append(cfg.Roles, config.Role{Name: "tester", Model: "role-model"})
	cfg.Stages = append(cfg.Stages,
		config.Stage{Name: "s1", Role: "tester"},
		config.Stage{
			Name: "s2", Role: "tester", Model: "stage-model",
			Substages: []config.Substage{{Name: "a", Model: "sub-model"}, {Name: "b"}},
		},
	)
	r := mustResolver(t, cfg)

	cases := []struct {
		path string
		want string
	}{
		{"s2.a", "sub-model"},
		{"s2.b", "stage-model"},
		{"s1", "role-model"},
		{"backlog", "global"},
	}
	for _, tc := range cases {
		got, err := r.SelectModel(MustParsePath(tc.path))
		if err != nil {
			t.Fatalf("select model %q: %v", tc.path, err)
		}
		if got != tc.want {
			t.Errorf("model for %q = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestHooksForMergesStageAndSubstage(t *testing.T) {
	cfg := testConfig()
	cfg.Stages = append(cfg.Stages, config.Stage{
		Name:          "gated",
		PreCompletion: []config.Hook{{Kind: "file_exists", Path: "STAGE.md"}},
		Substages: []config.Substage{{
			Name:          "inner",
			PreCompletion: []config.Hook{{Kind: "file_exists", Path: "SUB.md"}},
		}},
	})
	r := mustResolver(t, cfg)

	hooks, err := r.HooksFor(MustParsePath("gated.inner"), HookPreCompletion)
	if err != nil {
		t.Fatalf("hooks: %v", err)
	}
	if len(hooks) != 2 {
		t.Fatalf("expected stage+substage hooks, got %d", len(hooks))
	}
	if hooks[0].Path != "STAGE.md" || hooks[1].Path != "SUB.md" {
		t.Fatalf("stage hooks must precede substage hooks: %+v", hooks)
	}
}

func TestStageFlags(t *testing.T) {
	r := mustResolver(t, testConfig())
	if !r.IsParkingLot(MustParsePath("backlog")) {
		t.Error("backlog must be a parking lot")
	}
	if !r.IsRedirectOnly(MustParsePath("address_review")) {
		t.Error("address_review must be redirect-only")
	}
	if !r.IsHumanReview(MustParsePath("review")) {
		t.Error("review must be a human review gate")
	}
	if !r.IsTerminal("standard", MustParsePath("done")) {
		t.Error("done must be terminal in the standard flow")
	}
	if r.IsTerminal("standard", MustParsePath("backlog")) {
		t.Error("backlog must not be terminal")
	}
}

func TestContainerForResolvesInheritedProfile(t *testing.T) {
	r := mustResolver(t, testConfig())

	profile, err := r.ContainerFor(MustParsePath("implement.code"))
	if err != nil {
		t.Fatalf("container for implement.code: %v", err)
	}
	if profile == nil {
		t.Fatal("implement runs in a container")
	}
	if profile.Image != "ubuntu:24.04" {
		t.Errorf("image not inherited from base: %q", profile.Image)
	}
	if profile.Env["LOOM_WORKER"] != "1" || profile.Env["GIT_AUTHOR_NAME"] != "loom" {
		t.Errorf("env not merged: %v", profile.Env)
	}

	host, err := r.ContainerFor(MustParsePath("plan.draft"))
	if err != nil {
		t.Fatalf("container for plan.draft: %v", err)
	}
	if host != nil {
		t.Errorf("plan runs on the host, got profile %q", host.Name)
	}
}

func TestNewResolverRejectsUnknownRole(t *testing.T) {
	cfg := testConfig()
	cfg.Stages = append(cfg.Stages, config.Stage{Name: "audit", Role: "no_such_role"})
	if _, err := NewResolver(cfg); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for unknown role, got %v", err)
	}
}

func TestNewResolverAllowsRolelessStages(t *testing.T) {
	// Parking lots and terminals in the stock pipeline carry no role.
	cfg := testConfig()
	if _, err := NewResolver(cfg); err != nil {
		t.Fatalf("roleless stages must load: %v", err)
	}
}

func TestNewResolverRejectsUnknownContainer(t *testing.T) {
	cfg := testConfig()
	cfg.Stages[4].Container = "missing"
	if _, err := NewResolver(cfg); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestEvalCondition(t *testing.T) {
	ctx := map[string]any{
		"pr_open":  true,
		"attempts": 2,
		"branch":   "feature/x",
	}
	cases := []struct {
		expr string
		want bool
	}{
		{"", true},
		{"pr_open", true},
		{"not pr_open", false},
		{"attempts >= 2", true},
		{"attempts > 2", false},
		{"branch == 'feature/x'", true},
		{"branch != 'main'", true},
		{"pr_open and attempts < 3", true},
		{"missing", false},
		{"missing or pr_open", true},
		{"(attempts == 1) or (attempts == 2)", true},
	}
	for _, tc := range cases {
		got, err := EvalCondition(tc.expr, ctx)
		if err != nil {
			t.Errorf("eval %q: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("eval %q = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvalConditionSyntaxErrors(t *testing.T) {
	for _, expr := range []string{"a ==", "== b", "(a", "a ===b", "'unterminated"} {
		if _, err := EvalCondition(expr, nil); err == nil {
			t.Errorf("expected syntax error for %q", expr)
		}
	}
}
