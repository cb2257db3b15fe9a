package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/runstate"
)

func testDispatcher(t *testing.T, mutate func(*config.Config)) (*Dispatcher, *Registry, *runstate.Store) {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	state, err := runstate.Open(filepath.Join(t.TempDir(), "runstate.toml"))
	if err != nil {
		t.Fatalf("runstate: %v", err)
	}
	registry := NewRegistry()
	return New(&cfg, registry, state, logging.NewNop()), registry, state
}

func TestFireEventRunsConfiguredActions(t *testing.T) {
	var ran []string
	d, registry, _ := testDispatcher(t, func(cfg *config.Config) {
		cfg.Events.Heartbeat = []config.EventAction{
			{Action: "first"},
			{Action: "second", Params: map[string]string{"key": "value"}},
		}
	})
	registry.Register("first", func(context.Context, map[string]string) error {
		ran = append(ran, "first")
		return nil
	})
	registry.Register("second", func(_ context.Context, params map[string]string) error {
		if params["key"] != "value" {
			t.Errorf("params not passed: %v", params)
		}
		ran = append(ran, "second")
		return nil
	})

	result := d.FireEvent(context.Background(), EventHeartbeat)
	if !result.Success || result.ActionsRun != 2 || result.ActionsSkipped != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(ran) != 2 || ran[0] != "first" || ran[1] != "second" {
		t.Fatalf("actions ran out of order: %v", ran)
	}
}

func TestFireEventUnregisteredActionIsSkipped(t *testing.T) {
	d, _, _ := testDispatcher(t, func(cfg *config.Config) {
		cfg.Events.Heartbeat = []config.EventAction{{Action: "ghost"}}
	})
	result := d.FireEvent(context.Background(), EventHeartbeat)
	if !result.Success {
		t.Fatal("unregistered action must not fail the event")
	}
	if result.ActionsSkipped != 1 || result.ActionsRun != 0 {
		t.Fatalf("unexpected tallies: %+v", result)
	}
}

func TestFireEventOptionalFailure(t *testing.T) {
	d, registry, _ := testDispatcher(t, func(cfg *config.Config) {
		cfg.Events.Heartbeat = []config.EventAction{
			{Action: "flaky", Optional: true},
			{Action: "solid"},
		}
	})
	registry.Register("flaky", func(context.Context, map[string]string) error {
		return errors.New("boom")
	})
	solidRan := false
	registry.Register("solid", func(context.Context, map[string]string) error {
		solidRan = true
		return nil
	})

	result := d.FireEvent(context.Background(), EventHeartbeat)
	if !result.Success {
		t.Fatal("optional failure must not fail the event")
	}
	if len(result.Errors) != 1 {
		t.Fatalf("optional failure must still be tallied: %+v", result)
	}
	if !solidRan {
		t.Fatal("later actions must still run")
	}
}

func TestFireEventNonOptionalFailureMarksEventFailed(t *testing.T) {
	d, registry, _ := testDispatcher(t, func(cfg *config.Config) {
		cfg.Events.Heartbeat = []config.EventAction{
			{Action: "broken"},
			{Action: "after"},
		}
	})
	registry.Register("broken", func(context.Context, map[string]string) error {
		return errors.New("hard failure")
	})
	afterRan := false
	registry.Register("after", func(context.Context, map[string]string) error {
		afterRan = true
		return nil
	})

	result := d.FireEvent(context.Background(), EventHeartbeat)
	if result.Success {
		t.Fatal("non-optional failure must fail the event")
	}
	if !afterRan {
		t.Fatal("remaining actions must still run after a failure")
	}
}

func TestHeartbeatIncrementsCounter(t *testing.T) {
	d, registry, state := testDispatcher(t, func(cfg *config.Config) {
		cfg.Events.Heartbeat = []config.EventAction{{Action: "noop"}}
	})
	registry.Register("noop", func(context.Context, map[string]string) error { return nil })

	d.FireEvent(context.Background(), EventHeartbeat)
	d.FireEvent(context.Background(), EventHeartbeat)
	if state.HeartbeatCount() != 2 {
		t.Fatalf("heartbeat count = %d, want 2", state.HeartbeatCount())
	}

	d.FireEvent(context.Background(), EventStartup)
	if state.HeartbeatCount() != 2 {
		t.Fatal("startup must not bump the heartbeat counter")
	}
}

func TestFireEventRateLimiting(t *testing.T) {
	runs := 0
	d, registry, _ := testDispatcher(t, func(cfg *config.Config) {
		cfg.Events.Heartbeat = []config.EventAction{
			{Action: "counted", EveryN: 2},
			{Action: "timed", MinIntervalSec: 300},
		}
	})
	registry.Register("counted", func(context.Context, map[string]string) error {
		runs++
		return nil
	})
	timedRuns := 0
	registry.Register("timed", func(context.Context, map[string]string) error {
		timedRuns++
		return nil
	})

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		d.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		d.FireEvent(context.Background(), EventHeartbeat)
	}
	if runs != 2 {
		t.Errorf("every_n=2 over 4 heartbeats: ran %d times, want 2", runs)
	}
	// 300s interval over 4 ticks a minute apart: only the first run fits.
	if timedRuns != 1 {
		t.Errorf("min_interval_s=300 over 4 minutes: ran %d times, want 1", timedRuns)
	}
}

func TestDefaultHeartbeatActions(t *testing.T) {
	d, registry, _ := testDispatcher(t, nil)
	var ran []string
	for _, name := range []string{"process_stages", "detect_stalls", "reconcile_statemachine", "start_unblocked"} {
		name := name
		registry.Register(name, func(context.Context, map[string]string) error {
			ran = append(ran, name)
			return nil
		})
	}
	result := d.FireEvent(context.Background(), EventHeartbeat)
	if !result.Success {
		t.Fatalf("default heartbeat failed: %+v", result)
	}
	if len(ran) == 0 || ran[0] != "process_stages" {
		t.Fatalf("process_stages must run first in defaults: %v", ran)
	}
}
