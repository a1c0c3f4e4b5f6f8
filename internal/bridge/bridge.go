// Package bridge implements the generic Domain Bridge: the component that
// ties one domain label (adapter, service, task, event, workflow) to the
// shared Resolver, Lifecycle Manager, and Activity Store.
package bridge

import (
	"context"
	"fmt"

	"github.com/lesleslie/oneiric/internal/activity"
	"github.com/lesleslie/oneiric/internal/lifecycle"
	"github.com/lesleslie/oneiric/internal/registry"
)

// SettingsSchema materializes a typed settings object for a provider from
// layered configuration. Bridges register one per provider that needs
// structured settings; providers without a schema get a nil settings value.
type SettingsSchema func(raw map[string]any) (any, error)

// Handle is returned by Use: the fully resolved view of one (domain, key)
// activation.
type Handle struct {
	Domain   string
	Key      string
	Provider string
	Instance any
	Settings any
	Metadata map[string]any
}

// Bridge is a generic domain bridge, parameterized by Domain.
type Bridge struct {
	Domain string

	registry  *registry.Registry
	lifecycle *lifecycle.Manager
	activity  *activity.Store

	schemas map[string]SettingsSchema
}

// New creates a Bridge for domain, sharing resolver/lifecycle/activity
// instances with every other bridge in the process.
func New(domain string, reg *registry.Registry, lm *lifecycle.Manager, act *activity.Store) *Bridge {
	return &Bridge{
		Domain:    domain,
		registry:  reg,
		lifecycle: lm,
		activity:  act,
		schemas:   make(map[string]SettingsSchema),
	}
}

// RegisterSettingsSchema binds a provider name to the schema used to
// materialize its typed settings object on activation.
func (b *Bridge) RegisterSettingsSchema(provider string, schema SettingsSchema) {
	b.schemas[provider] = schema
}

// Use resolves and activates key within this bridge's domain, returning a
// Handle. forceReload mandates a fresh activation even when the resolved
// provider is unchanged from the currently bound one (resolving the open
// question on force_reload semantics — see DESIGN.md).
func (b *Bridge) Use(ctx context.Context, key, providerOverride string, forceReload bool) (Handle, error) {
	if b.activity != nil {
		decision, err := b.activity.ShouldAcceptWork(ctx, b.Domain, key)
		if err != nil {
			return Handle{}, err
		}
		switch decision {
		case activity.DecisionReject:
			return Handle{}, fmt.Errorf("bridge: %s/%s is paused", b.Domain, key)
		case activity.DecisionDefer:
			return Handle{}, fmt.Errorf("bridge: %s/%s is draining", b.Domain, key)
		}
	}

	cand, ok := b.registry.Resolve(b.Domain, key, providerOverride)
	if !ok {
		return Handle{}, registry.CandidateNotFoundErr(b.Domain, key)
	}

	current, hasCurrent := b.lifecycle.GetInstance(b.Domain, key)
	status, _ := b.lifecycle.GetStatus(b.Domain, key)
	unchanged := hasCurrent && status.CurrentProvider == cand.Provider
	if unchanged && !forceReload {
		settings, err := b.materializeSettings(cand)
		if err != nil {
			return Handle{}, err
		}
		return Handle{Domain: b.Domain, Key: key, Provider: cand.Provider, Instance: current, Settings: settings, Metadata: cand.Metadata}, nil
	}

	instance, err := b.lifecycle.Activate(ctx, b.Domain, key, providerOverride, false)
	if err != nil {
		return Handle{}, err
	}

	settings, err := b.materializeSettings(cand)
	if err != nil {
		return Handle{}, err
	}

	return Handle{
		Domain:   b.Domain,
		Key:      key,
		Provider: cand.Provider,
		Instance: instance,
		Settings: settings,
		Metadata: cand.Metadata,
	}, nil
}

func (b *Bridge) materializeSettings(cand registry.Candidate) (any, error) {
	schema, ok := b.schemas[cand.Provider]
	if !ok {
		return nil, nil
	}
	raw, _ := cand.Metadata["settings"].(map[string]any)
	return schema(raw)
}

// ListActive returns the active candidates in this bridge's domain.
func (b *Bridge) ListActive() []registry.Candidate { return b.registry.ListActive(b.Domain) }

// ListShadowed returns the shadowed candidates in this bridge's domain.
func (b *Bridge) ListShadowed() []registry.Candidate { return b.registry.ListShadowed(b.Domain) }

// Explain returns the explain trace for (domain, key) within this bridge's domain.
func (b *Bridge) Explain(key string) []registry.TraceEntry { return b.registry.Explain(b.Domain, key) }

// SetPaused pauses or unpauses key, recording an operator note.
func (b *Bridge) SetPaused(ctx context.Context, key string, paused bool, note string) error {
	return b.activity.SetPaused(ctx, b.Domain, key, paused, note)
}

// SetDraining marks key draining or not, recording an operator note.
func (b *Bridge) SetDraining(ctx context.Context, key string, draining bool, note string) error {
	return b.activity.SetDraining(ctx, b.Domain, key, draining, note)
}

// ActivitySnapshot returns the activity state for every key in this
// bridge's domain.
func (b *Bridge) ActivitySnapshot(ctx context.Context) ([]activity.State, error) {
	return b.activity.SnapshotAll(ctx, b.Domain)
}

// ShouldAcceptWork reports the activity veto/defer decision for key within
// this bridge's domain, consulted by Selection Watchers before swapping.
func (b *Bridge) ShouldAcceptWork(ctx context.Context, key string) (activity.Decision, error) {
	if b.activity == nil {
		return activity.DecisionProceed, nil
	}
	return b.activity.ShouldAcceptWork(ctx, b.Domain, key)
}
