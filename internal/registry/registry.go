package registry

import (
	"sort"
	"sync"

	coreerrors "github.com/lesleslie/oneiric/internal/errors"
)

type domainKey struct {
	domain string
	key    string
}

// StackOrder maps a candidate's source label to an inferred numeric
// priority (tier 2 of the precedence comparison). It is supplied by the
// host environment, not guessed by the registry.
type StackOrder map[string]int

// Registry stores every registered Candidate and tracks, per (domain, key),
// which one is active. All mutation and scoring happens under a single
// lock: recomputation of the active set is part of registration itself, so
// readers never observe a window where the candidate map and the
// active/shadowed index disagree.
type Registry struct {
	mu sync.Mutex

	stackOrder StackOrder
	sequence   int64

	// candidates holds every registration, keyed by (domain,key), ordered
	// by insertion. A later registration with the same (domain,key,
	// provider) replaces the earlier entry but keeps the new sequence
	// number.
	candidates map[domainKey][]Candidate

	// active caches the winning provider per (domain,key), recomputed
	// whenever that key's candidate set changes.
	active map[domainKey]Candidate

	// overrides holds explicit selection overrides per (domain,key),
	// consulted as precedence tier 1.
	overrides map[domainKey]string
}

// New creates an empty Registry. stackOrder may be nil.
func New(stackOrder StackOrder) *Registry {
	if stackOrder == nil {
		stackOrder = StackOrder{}
	}
	return &Registry{
		stackOrder: stackOrder,
		candidates: make(map[domainKey][]Candidate),
		active:     make(map[domainKey]Candidate),
		overrides:  make(map[domainKey]string),
	}
}

// SetOverride sets or clears (provider == "") the explicit selection
// override for a (domain, key) pair and recomputes its active candidate.
func (r *Registry) SetOverride(domain, key, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dk := domainKey{domain, key}
	if provider == "" {
		delete(r.overrides, dk)
	} else {
		r.overrides[dk] = provider
	}
	r.recomputeLocked(dk)
}

// Register inserts a candidate, assigning it the next sequence number, and
// recomputes the active candidate for its (domain, key). Registering the
// same (domain, key, provider) again replaces the earlier entry.
func (r *Registry) Register(c Candidate) Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sequence++
	c.Sequence = r.sequence

	if priority, ok := r.stackOrder[c.Source]; ok {
		c.Priority = priority
	}

	dk := domainKey{c.Domain, c.Key}
	existing := r.candidates[dk]
	replaced := false
	for i, cand := range existing {
		if cand.Provider == c.Provider {
			existing[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, c)
	}
	r.candidates[dk] = existing

	r.recomputeLocked(dk)
	return c
}

// Resolve returns the active candidate for (domain, key), or the candidate
// matching override if supplied and registered. It returns ok=false when
// no matching candidate exists — an unknown (domain, key) is not an error.
func (r *Registry) Resolve(domain, key string, override string) (Candidate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dk := domainKey{domain, key}
	if override != "" {
		for _, cand := range r.candidates[dk] {
			if cand.Provider == override {
				return cand.Clone(), true
			}
		}
		return Candidate{}, false
	}

	cand, ok := r.active[dk]
	if !ok {
		return Candidate{}, false
	}
	return cand.Clone(), true
}

// ListActive returns the active candidate for every (domain, key), filtered
// to domain when non-empty.
func (r *Registry) ListActive(domain string) []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Candidate, 0, len(r.active))
	for dk, cand := range r.active {
		if domain != "" && dk.domain != domain {
			continue
		}
		out = append(out, cand.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// ListShadowed returns every non-active candidate, filtered to domain when
// non-empty.
func (r *Registry) ListShadowed(domain string) []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Candidate
	for dk, candidates := range r.candidates {
		if domain != "" && dk.domain != domain {
			continue
		}
		active, hasActive := r.active[dk]
		for _, cand := range candidates {
			if hasActive && cand.Provider == active.Provider {
				continue
			}
			out = append(out, cand.Clone())
		}
	}
	return out
}

// TraceEntry is one contender in an explain trace: the candidate plus the
// tier on which it lost to the winner ("" for the winner itself).
type TraceEntry struct {
	Candidate Candidate
	Selected  bool
	LostAt    string // "override" | "priority" | "stack_level" | "sequence" | ""
}

// Explain scores every contender for (domain, key) and returns them ordered
// by the precedence ranking, with the winner marked selected and first.
func (r *Registry) Explain(domain, key string) []TraceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	dk := domainKey{domain, key}
	candidates := append([]Candidate(nil), r.candidates[dk]...)
	override := r.overrides[dk]

	ranked := rank(candidates, override)
	trace := make([]TraceEntry, len(ranked))
	for i, cand := range ranked {
		trace[i] = TraceEntry{Candidate: cand.Clone(), Selected: i == 0}
	}
	annotateLossTiers(trace, override)
	return trace
}

// CandidateNotFoundErr returns the standard error for an absent candidate,
// for callers (e.g. the Lifecycle Manager) that must fail loudly where the
// registry itself stays silent.
func CandidateNotFoundErr(domain, key string) error {
	return coreerrors.CandidateNotFound(domain, key)
}

func (r *Registry) recomputeLocked(dk domainKey) {
	candidates := r.candidates[dk]
	if len(candidates) == 0 {
		delete(r.active, dk)
		return
	}
	ranked := rank(candidates, r.overrides[dk])
	r.active[dk] = ranked[0]
}

// rank orders candidates per the 4-tier precedence comparison: explicit
// override first, then inferred priority, then stack level, then
// registration sequence (later wins).
func rank(candidates []Candidate, override string) []Candidate {
	ranked := append([]Candidate(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]

		aOverride := override != "" && a.Provider == override
		bOverride := override != "" && b.Provider == override
		if aOverride != bOverride {
			return aOverride
		}
		if aOverride && bOverride {
			return false
		}

		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.StackLevel != b.StackLevel {
			return a.StackLevel > b.StackLevel
		}
		return a.Sequence > b.Sequence
	})
	return ranked
}

// annotateLossTiers fills in TraceEntry.LostAt for every non-winning entry,
// naming the first tier on which it differs from the winner.
func annotateLossTiers(trace []TraceEntry, override string) {
	if len(trace) == 0 {
		return
	}
	winner := trace[0].Candidate
	winnerIsOverride := override != "" && winner.Provider == override

	for i := 1; i < len(trace); i++ {
		cand := trace[i].Candidate
		switch {
		case winnerIsOverride && cand.Provider != override:
			trace[i].LostAt = "override"
		case cand.Priority != winner.Priority:
			trace[i].LostAt = "priority"
		case cand.StackLevel != winner.StackLevel:
			trace[i].LostAt = "stack_level"
		default:
			trace[i].LostAt = "sequence"
		}
	}
}
