package orchestrator_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lesleslie/oneiric/internal/activity"
	"github.com/lesleslie/oneiric/internal/lifecycle"
	"github.com/lesleslie/oneiric/internal/orchestrator"
	"github.com/lesleslie/oneiric/internal/registry"
	"github.com/lesleslie/oneiric/internal/remote"
	"github.com/lesleslie/oneiric/internal/resilience"
	"github.com/lesleslie/oneiric/internal/security"
)

type stubInstance struct{}

func setup(t *testing.T) (*registry.Registry, *lifecycle.Manager, *activity.Store) {
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
	return reg, lm, act
}

func TestStartWithoutRemoteStartsWatchersAndWritesSnapshot(t *testing.T) {
	reg, lm, act := setup(t)
	reg.Register(registry.Candidate{Domain: "adapter", Key: "status", Provider: "v1", FactoryRef: "v1"})
	lm.RegisterFactory("v1", func(ctx context.Context, c registry.Candidate) (any, error) { return &stubInstance{}, nil })

	snapPath := filepath.Join(t.TempDir(), "runtime_health.json")
	orc := orchestrator.New(orchestrator.Options{
		Registry:           reg,
		Lifecycle:          lm,
		Activity:           act,
		HealthSnapshotPath: snapPath,
		WatcherPollInterval: time.Hour,
	})

	ctx := context.Background()
	if err := orc.Start(ctx, "", 0, time.Second, resilience.DefaultRetryPolicy()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer orc.Stop()

	data, err := os.ReadFile(snapPath)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap orchestrator.HealthSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if !snap.WatchersRunning {
		t.Fatal("expected watchers_running true after start")
	}
	if snap.RemoteEnabled {
		t.Fatal("expected remote_enabled false with no loader configured")
	}
	if snap.ProcessID != os.Getpid() {
		t.Fatalf("expected process id %d, got %d", os.Getpid(), snap.ProcessID)
	}
}

func TestStartTwiceErrors(t *testing.T) {
	reg, lm, act := setup(t)
	orc := orchestrator.New(orchestrator.Options{Registry: reg, Lifecycle: lm, Activity: act, WatcherPollInterval: time.Hour})

	ctx := context.Background()
	if err := orc.Start(ctx, "", 0, time.Second, resilience.DefaultRetryPolicy()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer orc.Stop()

	if err := orc.Start(ctx, "", 0, time.Second, resilience.DefaultRetryPolicy()); err == nil {
		t.Fatal("expected error starting an already-running orchestrator")
	}
}

func TestStopWithoutStartIsNoOp(t *testing.T) {
	reg, lm, act := setup(t)
	orc := orchestrator.New(orchestrator.Options{Registry: reg, Lifecycle: lm, Activity: act, WatcherPollInterval: time.Hour})
	if err := orc.Stop(); err != nil {
		t.Fatalf("stop on never-started orchestrator: %v", err)
	}
}

func TestStopAfterStartMarksWatchersStopped(t *testing.T) {
	reg, lm, act := setup(t)
	snapPath := filepath.Join(t.TempDir(), "runtime_health.json")
	orc := orchestrator.New(orchestrator.Options{
		Registry: reg, Lifecycle: lm, Activity: act,
		HealthSnapshotPath: snapPath, WatcherPollInterval: time.Hour,
	})

	ctx := context.Background()
	if err := orc.Start(ctx, "", 0, time.Second, resilience.DefaultRetryPolicy()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := orc.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	data, err := os.ReadFile(snapPath)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap orchestrator.HealthSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.WatchersRunning {
		t.Fatal("expected watchers_running false after stop")
	}
}

// TestStartWithConfiguredRemoteManifestDoesNotDeadlock guards against a
// reentrant lock in Start's one-shot seed sync path: a configured Loader
// plus a non-empty manifestURL must not deadlock on o.mu.
func TestStartWithConfiguredRemoteManifestDoesNotDeadlock(t *testing.T) {
	const fixtureManifestJSON = `{"source":"test","entries":[{"domain":"adapter","key":"cache","provider":"redis","factory":"pkg.redis"}]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fixtureManifestJSON))
	}))
	defer server.Close()

	reg, lm, act := setup(t)
	loader := remote.NewLoader(reg, remote.Options{Breaker: resilience.DefaultBreakerConfig()})

	snapPath := filepath.Join(t.TempDir(), "runtime_health.json")
	orc := orchestrator.New(orchestrator.Options{
		Registry:            reg,
		Lifecycle:           lm,
		Activity:            act,
		Loader:              loader,
		HealthSnapshotPath:  snapPath,
		WatcherPollInterval: time.Hour,
	})

	done := make(chan error, 1)
	go func() {
		done <- orc.Start(context.Background(), server.URL, 0, time.Second, resilience.RetryPolicy{MaxAttempts: 1})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start deadlocked performing the one-shot remote manifest seed sync")
	}
	defer orc.Stop()

	cand, ok := reg.Resolve("adapter", "cache", "")
	if !ok || cand.Provider != "redis" {
		t.Fatalf("expected seed sync to register adapter/cache=redis, got %+v (ok=%v)", cand, ok)
	}

	data, err := os.ReadFile(snapPath)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap orchestrator.HealthSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.LastRemoteRegistered != 1 {
		t.Fatalf("expected snapshot to record the seed sync's registration count, got %+v", snap)
	}
}

func TestBridgesExposesAllFiveDomains(t *testing.T) {
	reg, lm, act := setup(t)
	orc := orchestrator.New(orchestrator.Options{Registry: reg, Lifecycle: lm, Activity: act})
	b := orc.Bridges()
	if b.Adapter == nil || b.Service == nil || b.Task == nil || b.Event == nil || b.Workflow == nil {
		t.Fatal("expected all five domain bridges to be non-nil")
	}
}
