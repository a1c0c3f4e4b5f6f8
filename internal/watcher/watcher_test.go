package watcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/lesleslie/oneiric/internal/activity"
	"github.com/lesleslie/oneiric/internal/bridge"
	"github.com/lesleslie/oneiric/internal/lifecycle"
	"github.com/lesleslie/oneiric/internal/registry"
	"github.com/lesleslie/oneiric/internal/security"
	"github.com/lesleslie/oneiric/internal/watcher"
)

type stub struct{}

func setup(t *testing.T) (*registry.Registry, *lifecycle.Manager, *bridge.Bridge, *activity.Store) {
	t.Helper()
	reg := registry.New(nil)
	allowlist, err := security.NewAllowlist([]string{"*"})
	if err != nil {
		t.Fatalf("allowlist: %v", err)
	}
	lm := lifecycle.New(reg, allowlist, lifecycle.Timeouts{
		Activation: time.Second, Health: time.Second, Cleanup: time.Second, Hook: time.Second,
	}, nil, "")
	act, err := activity.Open(":memory:")
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	t.Cleanup(func() { act.Close() })
	b := bridge.New(bridge.DomainService, reg, lm, act)
	return reg, lm, b, act
}

func TestRunOnceSwapsOnSelectionChange(t *testing.T) {
	reg, lm, b, act := setup(t)
	reg.Register(registry.Candidate{Domain: bridge.DomainService, Key: "status", Provider: "v1", FactoryRef: "v1"})
	reg.Register(registry.Candidate{Domain: bridge.DomainService, Key: "status", Provider: "v2", FactoryRef: "v2"})
	lm.RegisterFactory("v1", func(ctx context.Context, c registry.Candidate) (any, error) { return &stub{}, nil })
	lm.RegisterFactory("v2", func(ctx context.Context, c registry.Candidate) (any, error) { return &stub{}, nil })

	_, _ = act, lm

	selection := map[string]string{"status": "v1"}
	source := func() (map[string]string, error) { return selection, nil }

	var events []watcher.Event
	w := watcher.New(bridge.DomainService, b, source, time.Hour, nil, func(e watcher.Event) { events = append(events, e) })

	w.RunOnce(context.Background())
	if len(events) != 1 || events[0].Kind != watcher.EventSwapped {
		t.Fatalf("expected a single swap event, got %+v", events)
	}

	selection = map[string]string{"status": "v2"}
	events = nil
	w.RunOnce(context.Background())
	if len(events) != 1 || events[0].Kind != watcher.EventSwapped || events[0].Provider != "v2" {
		t.Fatalf("expected swap to v2, got %+v", events)
	}
}

func TestRunOnceRespectsPauseAndDefersWhileDraining(t *testing.T) {
	reg, lm, b, _ := setup(t)
	reg.Register(registry.Candidate{Domain: bridge.DomainService, Key: "status", Provider: "v1", FactoryRef: "v1"})
	lm.RegisterFactory("v1", func(ctx context.Context, c registry.Candidate) (any, error) { return &stub{}, nil })

	ctx := context.Background()
	if err := b.SetPaused(ctx, "status", true, "deploy window"); err != nil {
		t.Fatalf("set paused: %v", err)
	}

	selection := map[string]string{"status": "v1"}
	source := func() (map[string]string, error) { return selection, nil }
	var events []watcher.Event
	w := watcher.New(bridge.DomainService, b, source, time.Hour, nil, func(e watcher.Event) { events = append(events, e) })

	w.RunOnce(ctx)
	if len(events) != 1 || events[0].Kind != watcher.EventPaused {
		t.Fatalf("expected paused event, got %+v", events)
	}

	if err := b.SetPaused(ctx, "status", false, ""); err != nil {
		t.Fatalf("unset paused: %v", err)
	}
	if err := b.SetDraining(ctx, "status", true, "rolling restart"); err != nil {
		t.Fatalf("set draining: %v", err)
	}

	// Reuse the same watcher: a paused key must never be recorded as seen,
	// so the unchanged selection is still retried on the next tick.
	events = nil
	w.RunOnce(ctx)
	if len(events) != 1 || events[0].Kind != watcher.EventDeferred {
		t.Fatalf("expected deferred event while draining, got %+v", events)
	}

	if err := b.SetDraining(ctx, "status", false, ""); err != nil {
		t.Fatalf("unset draining: %v", err)
	}

	// Same watcher, same unchanged selection: the veto is lifted, so the
	// still-stale key must finally swap instead of being skipped as
	// "already seen."
	events = nil
	w.RunOnce(ctx)
	if len(events) != 1 || events[0].Kind != watcher.EventSwapped {
		t.Fatalf("expected swap once the pause/drain veto is lifted, got %+v", events)
	}
}

func TestStartOnRunningWatcherErrors(t *testing.T) {
	_, _, b, _ := setup(t)
	source := func() (map[string]string, error) { return map[string]string{}, nil }
	w := watcher.New(bridge.DomainService, b, source, time.Hour, nil, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer w.Stop()

	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected error starting an already-running watcher")
	}
}

func TestStopOnStoppedWatcherIsNoOp(t *testing.T) {
	_, _, b, _ := setup(t)
	source := func() (map[string]string, error) { return map[string]string{}, nil }
	w := watcher.New(bridge.DomainService, b, source, time.Hour, nil, nil)
	w.Stop()
}
