package lifecycle

import (
	"context"
	"fmt"

	"github.com/lesleslie/oneiric/internal/registry"
)

// HookFunc is a pre-swap, post-swap, or cleanup hook. It receives the
// (domain, key) being swapped and the candidate driving the swap. A pre-swap
// hook error aborts the swap before the factory is invoked, leaving the
// previous binding in place. A post-swap hook error is logged and the swap
// stands; cleanup hook errors are ignored.
type HookFunc func(ctx context.Context, domain, key string, candidate registry.Candidate) error

// NamedHook pairs a hook with a label for diagnostics.
type NamedHook struct {
	Name string
	Fn   HookFunc
}

// Hooks holds the pre-swap and post-swap hook chains. Pre-swap hooks run
// before the factory is invoked (and so before the health probe and instance
// binding); post-swap hooks run after cleanup of the previous instance.
type Hooks struct {
	preSwap  []NamedHook
	postSwap []NamedHook
}

// AddPreSwap registers an anonymous pre-swap hook.
func (h *Hooks) AddPreSwap(fn HookFunc) {
	h.AddPreSwapNamed("", fn)
}

// AddPreSwapNamed registers a named pre-swap hook.
func (h *Hooks) AddPreSwapNamed(name string, fn HookFunc) {
	h.preSwap = append(h.preSwap, NamedHook{Name: name, Fn: fn})
}

// AddPostSwap registers an anonymous post-swap hook.
func (h *Hooks) AddPostSwap(fn HookFunc) {
	h.AddPostSwapNamed("", fn)
}

// AddPostSwapNamed registers a named post-swap hook.
func (h *Hooks) AddPostSwapNamed(name string, fn HookFunc) {
	h.postSwap = append(h.postSwap, NamedHook{Name: name, Fn: fn})
}

func (h *Hooks) runPreSwap(ctx context.Context, domain, key string, cand registry.Candidate) error {
	return runHooks(ctx, h.preSwap, domain, key, cand)
}

func (h *Hooks) runPostSwap(ctx context.Context, domain, key string, cand registry.Candidate) error {
	return runHooks(ctx, h.postSwap, domain, key, cand)
}

func runHooks(ctx context.Context, hooks []NamedHook, domain, key string, cand registry.Candidate) error {
	for _, hook := range hooks {
		if err := hook.Fn(ctx, domain, key, cand); err != nil {
			if hook.Name != "" {
				return fmt.Errorf("hook %q: %w", hook.Name, err)
			}
			return err
		}
	}
	return nil
}

// Counts reports how many hooks are registered, for diagnostics/tests.
func (h *Hooks) Counts() (preSwap, postSwap int) {
	return len(h.preSwap), len(h.postSwap)
}

// Clear removes every registered hook.
func (h *Hooks) Clear() {
	h.preSwap = nil
	h.postSwap = nil
}
