// Package registry implements the Candidate Registry & Resolver: the
// deterministic 4-tier precedence engine that decides, for every
// (domain, key) pair, which registered Candidate is active.
package registry

// Candidate is an immutable registration of one implementation of a
// (domain, key) capability. Replacing a candidate means registering a new
// one with the same identity; the Registry keeps the later sequence number.
type Candidate struct {
	Domain   string
	Key      string
	Provider string

	// FactoryRef is an opaque reference invoked by the Lifecycle Manager,
	// validated against a factory allowlist before use.
	FactoryRef string

	StackLevel int // higher wins at tier 3
	Priority   int // tier-2 inferred priority; replaced by the stack-order priority when Source is listed there

	Sequence int64 // assigned at registration; strictly increasing
	Source   string // "local", "remote", "plugin", ...
	Version  string

	Metadata map[string]any
}

// Identity returns the (domain, key, provider) triple that uniquely
// identifies this candidate's registration slot.
func (c Candidate) Identity() (domain, key, provider string) {
	return c.Domain, c.Key, c.Provider
}

// Clone returns a copy of c with a fresh top-level Metadata map, so a caller
// handed a candidate from Resolve, ListActive, ListShadowed, or Explain can
// add, remove, or replace Metadata keys without touching the registry's own
// copy. The copy is shallow: nested maps and slices stay shared.
func (c Candidate) Clone() Candidate {
	if c.Metadata == nil {
		return c
	}
	clone := c
	clone.Metadata = make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}
