// Package orchestrator implements the Runtime Orchestrator: it composes
// the five domain bridges over one shared resolver, lifecycle manager, and
// activity store, starts one Selection Watcher per bridge, optionally
// starts the remote refresh loop, and persists a runtime health snapshot.
package orchestrator

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/lesleslie/oneiric/internal/activity"
	"github.com/lesleslie/oneiric/internal/bridge"
	"github.com/lesleslie/oneiric/internal/lifecycle"
	"github.com/lesleslie/oneiric/internal/logging"
	"github.com/lesleslie/oneiric/internal/registry"
	"github.com/lesleslie/oneiric/internal/remote"
	"github.com/lesleslie/oneiric/internal/resilience"
	"github.com/lesleslie/oneiric/internal/watcher"
)

// Bridges bundles the five domain bridges sharing one resolver/lifecycle
// manager/activity store.
type Bridges struct {
	Adapter  *bridge.AdapterBridge
	Service  *bridge.ServiceBridge
	Task     *bridge.TaskBridge
	Event    *bridge.EventBridge
	Workflow *bridge.WorkflowBridge
}

func (b Bridges) all() []*bridge.Bridge {
	return []*bridge.Bridge{b.Adapter.Bridge, b.Service.Bridge, b.Task.Bridge, b.Event.Bridge, b.Workflow.Bridge}
}

// Options configures an Orchestrator.
type Options struct {
	Registry  *registry.Registry
	Lifecycle *lifecycle.Manager
	Activity  *activity.Store
	Loader    *remote.Loader // nil disables the remote pipeline entirely

	HealthSnapshotPath string
	WatcherPollInterval time.Duration

	// RefreshCron, when non-empty, is a standard 5-field cron expression
	// overriding refreshInterval's fixed ticker with cron-driven timing. It
	// has no effect unless Start is given a positive refreshInterval, since
	// the refresh loop is not started otherwise.
	RefreshCron string

	// Sources supplies each domain's SelectionSource. Domains absent from
	// the map get a watcher over an always-empty selection (a no-op poll).
	Sources map[string]watcher.SelectionSource

	Log *logging.Logger
}

// Orchestrator owns the composed graph of bridges, watchers, and the
// refresh loop for the process lifetime. It follows the scoped
// acquisition idiom: Start pairs with Stop so callers can guarantee
// shutdown on every exit path (e.g. via defer).
type Orchestrator struct {
	opts    Options
	bridges Bridges
	watchers map[string]*watcher.Watcher
	refresh  *remote.RefreshLoop
	log      *logging.Logger

	mu      sync.Mutex
	running bool

	lastRemote HealthSnapshot
}

// New composes the five bridges from opts.Registry/Lifecycle/Activity.
func New(opts Options) *Orchestrator {
	log := opts.Log
	if log == nil {
		log = logging.NewFromEnv("orchestrator")
	}
	if opts.WatcherPollInterval <= 0 {
		opts.WatcherPollInterval = 5 * time.Second
	}

	bridges := Bridges{
		Adapter:  bridge.NewAdapterBridge(opts.Registry, opts.Lifecycle, opts.Activity),
		Service:  bridge.NewServiceBridge(opts.Registry, opts.Lifecycle, opts.Activity),
		Task:     bridge.NewTaskBridge(opts.Registry, opts.Lifecycle, opts.Activity),
		Event:    bridge.NewEventBridge(opts.Registry, opts.Lifecycle, opts.Activity),
		Workflow: bridge.NewWorkflowBridge(opts.Registry, opts.Lifecycle, opts.Activity),
	}

	o := &Orchestrator{opts: opts, bridges: bridges, log: log, watchers: make(map[string]*watcher.Watcher)}

	for _, b := range bridges.all() {
		source := opts.Sources[b.Domain]
		if source == nil {
			source = func() (map[string]string, error) { return map[string]string{}, nil }
		}
		domain := b.Domain
		o.watchers[domain] = watcher.New(domain, b, source, opts.WatcherPollInterval, log, func(ev watcher.Event) {
			o.log.WithContext(context.Background()).
				WithField("domain", ev.Domain).WithField("key", ev.Key).
				WithField("provider", ev.Provider).WithField("kind", string(ev.Kind)).
				Info("watcher: selection event")
		})
	}

	return o
}

// Bridges returns the composed domain bridges.
func (o *Orchestrator) Bridges() Bridges { return o.bridges }

// Start performs an optional one-shot manifest sync to seed candidates,
// starts every watcher, optionally starts the refresh loop, and writes the
// initial health snapshot.
func (o *Orchestrator) Start(ctx context.Context, manifestURL string, refreshInterval time.Duration, timeout time.Duration, retry resilience.RetryPolicy) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return errAlreadyRunning
	}

	if o.opts.Loader != nil && manifestURL != "" {
		result, err := o.opts.Loader.Sync(ctx, manifestURL, timeout, retry)
		o.recordRemoteResultLocked(result, err)
	}

	for _, w := range o.watchers {
		if err := w.Start(ctx); err != nil {
			return err
		}
	}

	if o.opts.Loader != nil && manifestURL != "" && refreshInterval > 0 {
		o.refresh = remote.NewRefreshLoop(o.opts.Loader, manifestURL, refreshInterval, timeout, retry, o.log, o.recordRemoteResult)
		if o.opts.RefreshCron != "" {
			if err := o.refresh.SetCronSchedule(o.opts.RefreshCron); err != nil {
				return err
			}
		}
		if err := o.refresh.Start(ctx); err != nil {
			return err
		}
	}

	o.running = true
	return writeSnapshot(o.opts.HealthSnapshotPath, o.snapshotLocked(true))
}

// Stop cancels every watcher and the refresh loop, awaits their
// completion, and writes a final health snapshot marking watchers
// stopped.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return nil
	}

	for _, w := range o.watchers {
		w.Stop()
	}
	if o.refresh != nil {
		o.refresh.Stop()
	}

	o.running = false
	return writeSnapshot(o.opts.HealthSnapshotPath, o.snapshotLocked(false))
}

// recordRemoteResult is the refresh loop's callback, invoked from its own
// goroutine without o.mu held.
func (o *Orchestrator) recordRemoteResult(result remote.SyncResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recordRemoteResultLocked(result, err)
}

// recordRemoteResultLocked requires o.mu to already be held by the caller
// (e.g. Start's initial seed sync, which runs inside its own lock).
func (o *Orchestrator) recordRemoteResultLocked(result remote.SyncResult, err error) {
	now := time.Now().UTC()
	o.lastRemote.LastRemoteSyncAt = &now
	o.lastRemote.LastRemoteRegistered = result.Registered
	o.lastRemote.PerDomainRegistrations = result.PerDomainCounts
	if err != nil {
		o.lastRemote.LastRemoteError = err.Error()
	} else {
		o.lastRemote.LastRemoteError = ""
	}

	_ = writeSnapshot(o.opts.HealthSnapshotPath, o.snapshotLocked(o.running))
}

func (o *Orchestrator) snapshotLocked(watchersRunning bool) HealthSnapshot {
	snap := o.lastRemote
	snap.WatchersRunning = watchersRunning
	snap.RemoteEnabled = o.opts.Loader != nil
	snap.ProcessID = os.Getpid()
	if snap.PerDomainRegistrations == nil {
		snap.PerDomainRegistrations = map[string]int{}
	}
	return snap
}
