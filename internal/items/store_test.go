package items

import (
	"context"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "items.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	item, err := s.Create(ctx, "", "Fix login flow", "backlog", "standard", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if item.ID == 0 || item.IntakeKey == "" {
		t.Fatalf("item missing id or intake key: %+v", item)
	}
	if item.DotPath != "backlog" || item.Flow != "standard" {
		t.Fatalf("unexpected item: %+v", item)
	}

	got, err := s.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Title != "Fix login flow" {
		t.Fatalf("round trip failed: %+v", got)
	}

	missing, err := s.GetByID(ctx, 9999)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatal("absent item must return nil")
	}
}

func TestCreateRejectsEmptyTitle(t *testing.T) {
	s := tempStore(t)
	if _, err := s.Create(context.Background(), "", "   ", "backlog", "standard", nil); err == nil {
		t.Fatal("expected validation error for empty title")
	}
}

func TestIntakeKeyLookup(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	created, err := s.Create(ctx, "tracker-123", "Imported", "backlog", "standard", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	found, err := s.FindByIntakeKey(ctx, "tracker-123")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found == nil || found.ID != created.ID {
		t.Fatalf("intake key lookup failed: %+v", found)
	}
}

func TestRecordTransitionAppendsHistory(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	item, err := s.Create(ctx, "", "Work", "backlog", "standard", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	moved, err := s.RecordTransition(ctx, item.ID, "define.refine", KindAdvance, "")
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if moved.DotPath != "define.refine" {
		t.Fatalf("dot-path = %q, want define.refine", moved.DotPath)
	}
	if _, err := s.RecordTransition(ctx, item.ID, "review", KindRedirect, "checklist failed"); err != nil {
		t.Fatalf("redirect: %v", err)
	}

	history, err := s.History(ctx, item.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	first := history[0]
	if first.FromPath != "backlog" || first.ToPath != "define.refine" || first.Kind != KindAdvance {
		t.Fatalf("unexpected first record: %+v", first)
	}
	if history[1].Reason != "checklist failed" {
		t.Fatalf("redirect reason not recorded: %+v", history[1])
	}
}

func TestRecordTransitionMissingItem(t *testing.T) {
	s := tempStore(t)
	if _, err := s.RecordTransition(context.Background(), 42, "review", KindAdvance, ""); err == nil {
		t.Fatal("expected not found error")
	}
}

func TestInFlightExcludesRestingStates(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	mk := func(title, path string) *Item {
		item, err := s.Create(ctx, "", title, path, "standard", nil)
		if err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		return item
	}
	mk("parked", "backlog")
	active := mk("active", "implement.code")
	mk("finished", "done")

	inflight, err := s.InFlight(ctx, []string{"backlog", "done", "abandoned"})
	if err != nil {
		t.Fatalf("in flight: %v", err)
	}
	if len(inflight) != 1 || inflight[0].ID != active.ID {
		t.Fatalf("expected only the active item, got %+v", inflight)
	}
}

func TestUnblocked(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	dep, err := s.Create(ctx, "", "dependency", "implement.code", "standard", nil)
	if err != nil {
		t.Fatalf("create dep: %v", err)
	}
	blocked, err := s.Create(ctx, "", "blocked", "backlog", "standard", []int64{dep.ID})
	if err != nil {
		t.Fatalf("create blocked: %v", err)
	}
	free, err := s.Create(ctx, "", "free", "backlog", "standard", nil)
	if err != nil {
		t.Fatalf("create free: %v", err)
	}

	ready, err := s.Unblocked(ctx, "backlog", []string{"done"})
	if err != nil {
		t.Fatalf("unblocked: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != free.ID {
		t.Fatalf("expected only the dependency-free item, got %+v", ready)
	}

	if _, err := s.RecordTransition(ctx, dep.ID, "done", KindAdvance, ""); err != nil {
		t.Fatalf("finish dep: %v", err)
	}
	ready, err = s.Unblocked(ctx, "backlog", []string{"done"})
	if err != nil {
		t.Fatalf("unblocked after done: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("expected both items unblocked, got %d", len(ready))
	}
	_ = blocked
}

func TestSetDetails(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	item, err := s.Create(ctx, "", "Work", "implement.code", "standard", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetDetails(ctx, item.ID, "loom/work-1", 0, "/tmp/wt1"); err != nil {
		t.Fatalf("set details: %v", err)
	}
	if err := s.SetDetails(ctx, item.ID, "", 17, ""); err != nil {
		t.Fatalf("set pr: %v", err)
	}
	got, err := s.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Branch != "loom/work-1" || got.PRNumber != 17 || got.Worktree != "/tmp/wt1" {
		t.Fatalf("details not merged: %+v", got)
	}
}
