package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lesleslie/oneiric/internal/lifecycle"
	"github.com/lesleslie/oneiric/internal/registry"
	"github.com/lesleslie/oneiric/internal/security"
)

type fakeInstance struct {
	id         int
	healthy    bool
	cleanedUp  int
}

func (f *fakeInstance) Health() bool { return f.healthy }
func (f *fakeInstance) Cleanup() error {
	f.cleanedUp++
	return nil
}

func newManager(t *testing.T) (*lifecycle.Manager, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil)
	allowlist, err := security.NewAllowlist([]string{"*"})
	if err != nil {
		t.Fatalf("allowlist: %v", err)
	}
	mgr := lifecycle.New(reg, allowlist, lifecycle.Timeouts{
		Activation: time.Second, Health: time.Second, Cleanup: time.Second, Hook: time.Second,
	}, nil, "")
	return mgr, reg
}

func TestHotSwapFreshnessAndCleanup(t *testing.T) {
	mgr, reg := newManager(t)
	reg.Register(registry.Candidate{Domain: "service", Key: "status", Provider: "v1", FactoryRef: "fake"})

	var instances []*fakeInstance
	mgr.RegisterFactory("fake", func(ctx context.Context, c registry.Candidate) (any, error) {
		inst := &fakeInstance{id: len(instances) + 1, healthy: true}
		instances = append(instances, inst)
		return inst, nil
	})

	ctx := context.Background()
	first, err := mgr.Activate(ctx, "service", "status", "", false)
	if err != nil {
		t.Fatalf("first activate: %v", err)
	}
	second, err := mgr.Activate(ctx, "service", "status", "", false)
	if err != nil {
		t.Fatalf("second activate: %v", err)
	}

	if first == second {
		t.Fatal("expected two distinct instance identities from successive activations")
	}

	firstInst := first.(*fakeInstance)
	if firstInst.cleanedUp != 1 {
		t.Fatalf("expected first instance cleaned up exactly once, got %d", firstInst.cleanedUp)
	}
}

func TestRollbackOnHealthFailure(t *testing.T) {
	mgr, reg := newManager(t)
	reg.Register(registry.Candidate{Domain: "service", Key: "status", Provider: "v1", FactoryRef: "good"})
	mgr.RegisterFactory("good", func(ctx context.Context, c registry.Candidate) (any, error) {
		return &fakeInstance{healthy: true}, nil
	})

	ctx := context.Background()
	firstInstance, err := mgr.Activate(ctx, "service", "status", "", false)
	if err != nil {
		t.Fatalf("initial activation: %v", err)
	}

	reg.Register(registry.Candidate{Domain: "service", Key: "status", Provider: "bad", FactoryRef: "bad", StackLevel: 10})
	mgr.RegisterFactory("bad", func(ctx context.Context, c registry.Candidate) (any, error) {
		return &fakeInstance{healthy: false}, nil
	})

	_, err = mgr.Activate(ctx, "service", "status", "", false)
	if err == nil {
		t.Fatal("expected LifecycleError on unhealthy instance")
	}

	current, ok := mgr.GetInstance("service", "status")
	if !ok || current != firstInstance {
		t.Fatalf("expected active instance to remain the pre-swap instance, got %+v (ok=%v)", current, ok)
	}

	status, ok := mgr.GetStatus("service", "status")
	if !ok || status.State != lifecycle.StateFailed {
		t.Fatalf("expected status=failed, got %+v (ok=%v)", status, ok)
	}

	firstInst := firstInstance.(*fakeInstance)
	if firstInst.cleanedUp != 0 {
		t.Fatalf("expected pre-swap instance cleanup not invoked, got %d calls", firstInst.cleanedUp)
	}
}

func TestPostSwapHooksFireOnlyOnSuccess(t *testing.T) {
	mgr, reg := newManager(t)
	reg.Register(registry.Candidate{Domain: "adapter", Key: "cache", Provider: "ok", FactoryRef: "ok"})
	mgr.RegisterFactory("ok", func(ctx context.Context, c registry.Candidate) (any, error) {
		return &fakeInstance{healthy: true}, nil
	})
	reg.Register(registry.Candidate{Domain: "adapter", Key: "cache2", Provider: "bad", FactoryRef: "bad"})
	mgr.RegisterFactory("bad", func(ctx context.Context, c registry.Candidate) (any, error) {
		return nil, errors.New("factory exploded")
	})

	postFired := 0
	mgr.AddPostSwapHook(func(ctx context.Context, domain, key string, cand registry.Candidate) error {
		postFired++
		return nil
	})

	ctx := context.Background()
	if _, err := mgr.Activate(ctx, "adapter", "cache", "", false); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if postFired != 1 {
		t.Fatalf("expected post-swap hook to fire exactly once, got %d", postFired)
	}

	if _, err := mgr.Activate(ctx, "adapter", "cache2", "", false); err == nil {
		t.Fatal("expected factory failure to propagate")
	}
	if postFired != 1 {
		t.Fatalf("expected post-swap hook not to fire on failed swap, got %d calls", postFired)
	}
}

// bareInstance implements none of the capability interfaces, so health
// must be decided entirely by the candidate's metadata callable.
type bareInstance struct{ cleanedUp int }

func TestMetadataHealthCallableGovernsHealthOverCapabilityFallback(t *testing.T) {
	mgr, reg := newManager(t)
	reg.Register(registry.Candidate{
		Domain: "service", Key: "status", Provider: "v1", FactoryRef: "bare",
		Metadata: map[string]any{
			lifecycle.HealthCheckMetadataKey: func() bool { return false },
		},
	})
	mgr.RegisterFactory("bare", func(ctx context.Context, c registry.Candidate) (any, error) {
		return &bareInstance{}, nil
	})

	_, err := mgr.Activate(context.Background(), "service", "status", "", false)
	if err == nil {
		t.Fatal("expected metadata health callable reporting false to fail activation")
	}

	reg.Register(registry.Candidate{
		Domain: "service", Key: "status2", Provider: "v1", FactoryRef: "bare-ok",
		Metadata: map[string]any{
			lifecycle.HealthCheckMetadataKey: func() bool { return true },
		},
	})
	mgr.RegisterFactory("bare-ok", func(ctx context.Context, c registry.Candidate) (any, error) {
		return &bareInstance{}, nil
	})
	if _, err := mgr.Activate(context.Background(), "service", "status2", "", false); err != nil {
		t.Fatalf("expected metadata health callable reporting true to succeed, got %v", err)
	}
}

func TestActivateUnknownCandidateReturnsCandidateNotFound(t *testing.T) {
	mgr, _ := newManager(t)
	_, err := mgr.Activate(context.Background(), "service", "missing", "", false)
	if err == nil {
		t.Fatal("expected CandidateNotFound error")
	}
}
