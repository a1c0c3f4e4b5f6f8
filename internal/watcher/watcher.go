// Package watcher implements Selection Watchers: cooperative cancellable
// pollers that react to changes in a {key: provider} selection mapping by
// driving the corresponding Domain Bridge through the Lifecycle Manager.
package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lesleslie/oneiric/internal/activity"
	"github.com/lesleslie/oneiric/internal/bridge"
	"github.com/lesleslie/oneiric/internal/logging"
)

var errAlreadyRunning = errors.New("watcher: already running")

// SelectionSource yields the current {key: provider} mapping for a domain.
// The watcher calls it once per poll cycle. The sources built by
// cmd/oneiricd return the selections file as read once at startup.
type SelectionSource func() (map[string]string, error)

// EventKind names what happened to one key during a poll cycle, for
// callers that want to observe watcher activity (logging, metrics).
type EventKind string

const (
	EventSwapped EventKind = "swapped"
	EventPaused  EventKind = "paused"
	EventDeferred EventKind = "deferred"
	EventFailed  EventKind = "failed"
)

// Event is emitted once per differing key per poll cycle.
type Event struct {
	Domain   string
	Key      string
	Provider string
	Kind     EventKind
	Err      error
}

// Watcher polls one domain's SelectionSource and funnels changes through
// its Bridge.
type Watcher struct {
	domain string
	bridge *bridge.Bridge
	source SelectionSource
	poll   time.Duration
	log    *logging.Logger

	onEvent func(Event)

	mu       sync.Mutex
	lastSeen map[string]string
	cancel   context.CancelFunc
	stopped  chan struct{}
	running  bool
}

// New builds a Watcher for one domain bridge.
func New(domain string, b *bridge.Bridge, source SelectionSource, poll time.Duration, log *logging.Logger, onEvent func(Event)) *Watcher {
	if log == nil {
		log = logging.NewFromEnv("watcher")
	}
	return &Watcher{domain: domain, bridge: b, source: source, poll: poll, log: log, onEvent: onEvent, lastSeen: map[string]string{}}
}

// Start launches the watcher's poll loop. Calling Start on a running
// watcher is an error.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.stopped = make(chan struct{})
	w.running = true
	w.mu.Unlock()

	go w.run(loopCtx)
	return nil
}

// Stop cancels the watcher and awaits completion. A no-op on an
// already-stopped watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	stopped := w.stopped
	w.mu.Unlock()

	cancel()
	<-stopped
}

func (w *Watcher) run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.stopped)
	}()

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single poll cycle: it diffs the current selection
// against the last observed one and attempts a swap for every differing
// key, respecting the Activity Store. A key whose swap is paused, deferred,
// or failed is NOT recorded as seen, so it is retried on every subsequent
// poll until it resolves to a swap.
func (w *Watcher) RunOnce(ctx context.Context) []Event {
	selection, err := w.source()
	if err != nil {
		w.log.WithContext(ctx).WithError(err).Warn("watcher: failed to read selection source")
		return nil
	}

	w.mu.Lock()
	previous := w.lastSeen
	w.mu.Unlock()

	next := make(map[string]string, len(selection))
	var events []Event
	for key, provider := range selection {
		if previous[key] == provider {
			next[key] = provider
			continue
		}
		ev := w.applyChange(ctx, key, provider)
		events = append(events, ev)
		if ev.Kind == EventSwapped {
			next[key] = provider
		} else if prev, ok := previous[key]; ok {
			next[key] = prev
		}
	}

	w.mu.Lock()
	w.lastSeen = next
	w.mu.Unlock()

	return events
}

func (w *Watcher) applyChange(ctx context.Context, key, provider string) Event {
	decision, err := w.bridge.ShouldAcceptWork(ctx, key)
	if err != nil {
		return w.emit(Event{Domain: w.domain, Key: key, Provider: provider, Kind: EventFailed, Err: err})
	}

	switch decision {
	case activity.DecisionReject:
		return w.emit(Event{Domain: w.domain, Key: key, Provider: provider, Kind: EventPaused})
	case activity.DecisionDefer:
		return w.emit(Event{Domain: w.domain, Key: key, Provider: provider, Kind: EventDeferred})
	}

	if _, err := w.bridge.Use(ctx, key, provider, false); err != nil {
		return w.emit(Event{Domain: w.domain, Key: key, Provider: provider, Kind: EventFailed, Err: err})
	}
	return w.emit(Event{Domain: w.domain, Key: key, Provider: provider, Kind: EventSwapped})
}

func (w *Watcher) emit(ev Event) Event {
	if w.onEvent != nil {
		w.onEvent(ev)
	}
	return ev
}
