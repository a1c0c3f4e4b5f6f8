package bridge

import (
	"github.com/lesleslie/oneiric/internal/activity"
	"github.com/lesleslie/oneiric/internal/lifecycle"
	"github.com/lesleslie/oneiric/internal/registry"
)

// The five domain labels the core recognizes out of the box. Custom
// domains are supported by constructing a Bridge directly with New.
const (
	DomainAdapter  = "adapter"
	DomainService  = "service"
	DomainTask     = "task"
	DomainEvent    = "event"
	DomainWorkflow = "workflow"
)

// AdapterBridge ties cache/storage/HTTP/crypto-kit style adapters to the
// resolver and lifecycle manager.
type AdapterBridge struct{ *Bridge }

// NewAdapterBridge constructs the adapter-domain bridge.
func NewAdapterBridge(reg *registry.Registry, lm *lifecycle.Manager, act *activity.Store) *AdapterBridge {
	return &AdapterBridge{New(DomainAdapter, reg, lm, act)}
}

// ServiceBridge ties long-running service implementations to the resolver
// and lifecycle manager.
type ServiceBridge struct{ *Bridge }

// NewServiceBridge constructs the service-domain bridge.
func NewServiceBridge(reg *registry.Registry, lm *lifecycle.Manager, act *activity.Store) *ServiceBridge {
	return &ServiceBridge{New(DomainService, reg, lm, act)}
}

// TaskBridge ties background task implementations to the resolver and
// lifecycle manager.
type TaskBridge struct{ *Bridge }

// NewTaskBridge constructs the task-domain bridge.
func NewTaskBridge(reg *registry.Registry, lm *lifecycle.Manager, act *activity.Store) *TaskBridge {
	return &TaskBridge{New(DomainTask, reg, lm, act)}
}

// EventBridge ties event-handler implementations to the resolver and
// lifecycle manager, additionally exposing event-specific candidate
// metadata (topics, filters, fanout policy).
type EventBridge struct{ *Bridge }

// NewEventBridge constructs the event-domain bridge.
func NewEventBridge(reg *registry.Registry, lm *lifecycle.Manager, act *activity.Store) *EventBridge {
	return &EventBridge{New(DomainEvent, reg, lm, act)}
}

// Topics returns the event_topics metadata for (domain=event, key, the
// active candidate's provider).
func (e *EventBridge) Topics(key string) []string {
	cand, ok := e.registry.Resolve(DomainEvent, key, "")
	if !ok {
		return nil
	}
	return stringSliceMeta(cand.Metadata, "event_topics")
}

// FanoutPolicy returns the event_fanout_policy metadata ("broadcast" or
// "exclusive") for the active candidate of (domain=event, key).
func (e *EventBridge) FanoutPolicy(key string) string {
	cand, ok := e.registry.Resolve(DomainEvent, key, "")
	if !ok {
		return ""
	}
	policy, _ := cand.Metadata["event_fanout_policy"].(string)
	return policy
}

// WorkflowBridge ties workflow implementations to the resolver and
// lifecycle manager, exposing the DAG metadata consumed by an external
// executor.
type WorkflowBridge struct{ *Bridge }

// NewWorkflowBridge constructs the workflow-domain bridge.
func NewWorkflowBridge(reg *registry.Registry, lm *lifecycle.Manager, act *activity.Store) *WorkflowBridge {
	return &WorkflowBridge{New(DomainWorkflow, reg, lm, act)}
}

// DAG returns the workflow metadata for the active candidate of
// (domain=workflow, key), or nil if none is set.
func (w *WorkflowBridge) DAG(key string) any {
	cand, ok := w.registry.Resolve(DomainWorkflow, key, "")
	if !ok {
		return nil
	}
	return cand.Metadata["workflow"]
}

func stringSliceMeta(meta map[string]any, field string) []string {
	raw, ok := meta[field]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
