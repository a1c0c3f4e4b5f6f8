// Package lifecycle implements the Lifecycle Manager: health-checked,
// rollback-safe hot-swap of the active instance behind a (domain, key)
// pair, with pre/post-swap hooks, cleanup discovery, and persisted status.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	coreerrors "github.com/lesleslie/oneiric/internal/errors"
	"github.com/lesleslie/oneiric/internal/logging"
	"github.com/lesleslie/oneiric/internal/registry"
	"github.com/lesleslie/oneiric/internal/security"
)

// Factory instantiates a candidate's implementation. It is looked up from
// a registered dispatch table keyed by the candidate's FactoryRef, never
// invoked via dynamic symbol lookup.
type Factory func(ctx context.Context, candidate registry.Candidate) (any, error)

// Timeouts bounds every blocking phase of an activation.
type Timeouts struct {
	Activation time.Duration
	Health     time.Duration
	Cleanup    time.Duration
	Hook       time.Duration
}

// DefaultTimeouts returns the core's documented defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Activation: 10 * time.Second,
		Health:     5 * time.Second,
		Cleanup:    5 * time.Second,
		Hook:       5 * time.Second,
	}
}

// binding holds the currently bound instance for one (domain, key), plus
// enough context to clean it up on the next swap.
type binding struct {
	instance any
	provider string
	metadata map[string]any
}

// Manager is the Lifecycle Manager. Swaps for a single (domain, key) are
// serialized by a per-key mutex obtained from keyLocks; swaps across
// different (domain, key) pairs proceed concurrently.
type Manager struct {
	registry  *registry.Registry
	allowlist *security.Allowlist
	timeouts  Timeouts
	log       *logging.Logger

	hooks        Hooks
	cleanupHooks []NamedHook

	factoriesMu sync.RWMutex
	factories   map[string]Factory

	bindingsMu sync.Mutex
	bindings   map[string]*binding

	keyLocksMu sync.Mutex
	keyLocks   map[string]*sync.Mutex

	statuses *statusTable
}

// New creates a Manager. statusPath may be empty to disable persistence
// (e.g. in unit tests exercising in-memory-only behavior).
func New(reg *registry.Registry, allowlist *security.Allowlist, timeouts Timeouts, log *logging.Logger, statusPath string) *Manager {
	if log == nil {
		log = logging.NewFromEnv("lifecycle")
	}
	return &Manager{
		registry:  reg,
		allowlist: allowlist,
		timeouts:  timeouts,
		log:       log,
		factories: make(map[string]Factory),
		bindings:  make(map[string]*binding),
		keyLocks:  make(map[string]*sync.Mutex),
		statuses:  newStatusTable(statusPath),
	}
}

// RegisterFactory binds a factory reference string to the function that
// instantiates it.
func (m *Manager) RegisterFactory(ref string, fn Factory) {
	m.factoriesMu.Lock()
	defer m.factoriesMu.Unlock()
	m.factories[ref] = fn
}

func (m *Manager) lookupFactory(ref string) (Factory, bool) {
	m.factoriesMu.RLock()
	defer m.factoriesMu.RUnlock()
	fn, ok := m.factories[ref]
	return fn, ok
}

// AddPreSwapHook registers an anonymous pre-swap hook.
func (m *Manager) AddPreSwapHook(fn HookFunc) { m.hooks.AddPreSwap(fn) }

// AddPostSwapHook registers an anonymous post-swap hook.
func (m *Manager) AddPostSwapHook(fn HookFunc) { m.hooks.AddPostSwap(fn) }

// AddCleanupHook registers a hook invoked alongside capability-based
// cleanup of the previous instance, for callers that need custom teardown
// beyond {Cleanup, Close, Shutdown}.
func (m *Manager) AddCleanupHook(fn HookFunc) {
	m.cleanupHooks = append(m.cleanupHooks, NamedHook{Fn: fn})
}

func (m *Manager) keyLock(domain, key string) *sync.Mutex {
	m.keyLocksMu.Lock()
	defer m.keyLocksMu.Unlock()
	k := statusTableKey(domain, key)
	lock, ok := m.keyLocks[k]
	if !ok {
		lock = &sync.Mutex{}
		m.keyLocks[k] = lock
	}
	return lock
}

// Activate resolves, instantiates, health-checks, and binds the target
// candidate for (domain, key), replacing any existing binding. Caller
// cancellation of ctx is shielded: the in-flight swap runs to completion
// against its own bounded timeout and ctx's cancellation is only re-raised
// once the swap has finished and persisted its outcome.
func (m *Manager) Activate(ctx context.Context, domain, key, override string, force bool) (any, error) {
	lock := m.keyLock(domain, key)
	lock.Lock()
	defer lock.Unlock()

	cand, ok := m.registry.Resolve(domain, key, override)
	if !ok {
		return nil, coreerrors.CandidateNotFound(domain, key)
	}

	if m.allowlist != nil {
		if err := m.allowlist.Check(cand.FactoryRef); err != nil {
			return nil, err
		}
	}

	instance, swapErr := m.runSwap(ctx, domain, key, cand, force)

	if callerErr := ctx.Err(); callerErr != nil && swapErr == nil {
		return instance, callerErr
	}
	return instance, swapErr
}

// Swap is an explicit alias of Activate for call sites where "swap" better
// communicates intent (e.g. selection watchers reacting to a config
// change).
func (m *Manager) Swap(ctx context.Context, domain, key, provider string, force bool) (any, error) {
	return m.Activate(ctx, domain, key, provider, force)
}

func (m *Manager) runSwap(callerCtx context.Context, domain, key string, cand registry.Candidate, force bool) (any, error) {
	start := time.Now()

	m.statuses.update(domain, key, func(s *Status) {
		s.State = StateActivating
	})

	// Shielded: activation always runs against a background context bounded
	// only by its own timeout, so caller cancellation cannot abort a
	// half-built instance.
	activateCtx, cancel := context.WithTimeout(context.Background(), m.timeouts.Activation)
	defer cancel()

	preHookCtx, preHookCancel := context.WithTimeout(context.Background(), m.timeouts.Hook)
	preErr := m.hooks.runPreSwap(preHookCtx, domain, key, cand)
	preHookCancel()
	if preErr != nil {
		return m.fail(domain, key, cand, coreerrors.ReasonHookError, preErr, start)
	}

	fn, ok := m.lookupFactory(cand.FactoryRef)
	if !ok {
		return m.fail(domain, key, cand, coreerrors.ReasonFactoryError, fmt.Errorf("no factory registered for %q", cand.FactoryRef), start)
	}

	instance, err := fn(activateCtx, cand)
	if err != nil {
		return m.fail(domain, key, cand, coreerrors.ReasonFactoryError, err, start)
	}
	if activateCtx.Err() != nil {
		return m.fail(domain, key, cand, coreerrors.ReasonTimeout, activateCtx.Err(), start)
	}

	if !force {
		// Health checks in this core are synchronous capability probes, not
		// I/O. The probe runs without a context or deadline; Timeouts.Health
		// is not applied to it.
		healthy, checked := probeHealth(cand.Metadata, instance)
		if checked && !healthy {
			return m.fail(domain, key, cand, coreerrors.ReasonHealthFailed, fmt.Errorf("instance reported unhealthy"), start)
		}
	}

	previous := m.swapBinding(domain, key, &binding{instance: instance, provider: cand.Provider, metadata: cand.Metadata})

	if previous != nil {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), m.timeouts.Cleanup)
		if err := runCleanup(previous.instance); err != nil {
			m.log.WithContext(callerCtx).WithField("domain", domain).WithField("key", key).
				WithError(err).Warn("lifecycle: previous instance cleanup reported an error")
		}
		for _, hook := range m.cleanupHooks {
			_ = hook.Fn(cleanupCtx, domain, key, cand)
		}
		cleanupCancel()
	}

	postHookCtx, postHookCancel := context.WithTimeout(context.Background(), m.timeouts.Hook)
	postErr := m.hooks.runPostSwap(postHookCtx, domain, key, cand)
	postHookCancel()
	if postErr != nil {
		m.log.WithContext(callerCtx).WithField("domain", domain).WithField("key", key).
			WithError(postErr).Warn("lifecycle: post-swap hook reported an error after a successful swap")
	}

	duration := time.Since(start)
	previousProvider := ""
	if previous != nil {
		previousProvider = previous.provider
	}
	now := time.Now().UTC()
	m.statuses.update(domain, key, func(s *Status) {
		s.State = StateReady
		s.CurrentProvider = cand.Provider
		s.PreviousProvider = previousProvider
		s.LastSuccessAt = &now
		s.LastError = ""
		m.statuses.appendDuration(s, duration.Milliseconds())
	})

	m.log.LogSwap(callerCtx, domain, key, cand.Provider, string(StateReady), duration, nil)
	return instance, nil
}

func (m *Manager) fail(domain, key string, cand registry.Candidate, reason string, cause error, start time.Time) (any, error) {
	now := time.Now().UTC()
	lifecycleErr := coreerrors.LifecycleFailure(reason, cause.Error(), cause)

	m.statuses.update(domain, key, func(s *Status) {
		s.State = StateFailed
		s.LastFailureAt = &now
		s.LastError = lifecycleErr.Error()
	})

	m.log.LogSwap(context.Background(), domain, key, cand.Provider, string(StateFailed), time.Since(start), lifecycleErr)

	existing, _ := m.GetInstance(domain, key)
	return existing, lifecycleErr
}

// swapBinding atomically replaces the bound instance for (domain, key),
// returning the previous binding (nil if none existed).
func (m *Manager) swapBinding(domain, key string, next *binding) *binding {
	m.bindingsMu.Lock()
	defer m.bindingsMu.Unlock()
	k := statusTableKey(domain, key)
	previous := m.bindings[k]
	m.bindings[k] = next
	return previous
}

// GetInstance returns the currently bound instance for (domain, key), if any.
func (m *Manager) GetInstance(domain, key string) (any, bool) {
	m.bindingsMu.Lock()
	defer m.bindingsMu.Unlock()
	b, ok := m.bindings[statusTableKey(domain, key)]
	if !ok {
		return nil, false
	}
	return b.instance, true
}

// GetStatus returns the persisted status record for (domain, key).
func (m *Manager) GetStatus(domain, key string) (Status, bool) {
	return m.statuses.get(domain, key)
}

// ProbeHealth runs a health check against the currently bound instance,
// returning (healthy, ok). ok is false when nothing is bound.
func (m *Manager) ProbeHealth(domain, key string) (bool, bool) {
	m.bindingsMu.Lock()
	b, ok := m.bindings[statusTableKey(domain, key)]
	m.bindingsMu.Unlock()
	if !ok {
		return false, false
	}
	healthy, _ := probeHealth(b.metadata, b.instance)
	return healthy, true
}
