package rules

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"mercator-hq/warden/pkg/event"
	"mercator-hq/warden/pkg/features"
)

// Stats is a point-in-time view of the registry's counters.
type Stats struct {
	// Rules is the number of compiled rules currently loaded.
	Rules int

	// DefinitionErrors counts definitions rejected at load time.
	DefinitionErrors int

	// Triggers maps rule ID to its cumulative match count. Every match
	// counts, surfaced or not.
	Triggers map[string]int64
}

// Registry holds the compiled rule set and evaluates snapshots against it.
// The rule set is replaced wholesale on reload; counters survive reloads.
type Registry struct {
	mu        sync.RWMutex
	rules     []*Rule
	protected map[string]bool
	triggers  map[string]int64
	defErrors int
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		protected: make(map[string]bool),
		triggers:  make(map[string]int64),
		logger:    logger.With("component", "rules"),
	}
}

// Load compiles the definitions and installs them as the active rule set.
// Malformed definitions are skipped and counted; loading never fails as a
// whole.
func (r *Registry) Load(defs []Definition, protected []string) {
	compiled := make([]*Rule, 0, len(defs))
	rejected := 0
	for i, def := range defs {
		rule, err := Compile(def)
		if err != nil {
			rejected++
			r.logger.Warn("rule definition rejected", "index", i, "id", def.ID, "error", err)
			continue
		}
		rule.order = len(compiled)
		compiled = append(compiled, rule)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = compiled
	r.defErrors += rejected
	r.protected = make(map[string]bool, len(protected))
	for _, c := range protected {
		r.protected[c] = true
	}
	r.logger.Info("rule set loaded", "rules", len(compiled), "rejected", rejected, "protected", len(protected))
}

// Evaluate tests every rule against the snapshot and returns the strongest
// match per category, sorted descending by (level, priority) with
// declaration order as the tiebreak. All matches, surfaced or not, count
// toward trigger statistics.
func (r *Registry) Evaluate(ctx context.Context, snap *event.Snapshot, set *features.Set) []Match {
	if snap == nil || set == nil {
		return nil
	}

	r.mu.Lock()
	var hits []*Rule
	for _, rule := range r.rules {
		if rule.matches(snap, set) {
			r.triggers[rule.ID]++
			hits = append(hits, rule)
		}
	}
	r.mu.Unlock()

	if len(hits) == 0 {
		return nil
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Level != hits[j].Level {
			return hits[i].Level > hits[j].Level
		}
		if hits[i].Priority != hits[j].Priority {
			return hits[i].Priority > hits[j].Priority
		}
		return hits[i].order < hits[j].order
	})

	seen := make(map[string]bool, len(hits))
	matches := make([]Match, 0, len(hits))
	for _, rule := range hits {
		if seen[rule.Category] {
			continue
		}
		seen[rule.Category] = true
		matches = append(matches, Match{
			RuleID:   rule.ID,
			Category: rule.Category,
			Level:    rule.Level,
			Priority: rule.Priority,
			Features: rule.Require,
			Message:  rule.renderMessage(snap),
		})
	}
	return matches
}

// Protected reports whether the category's BLOCK decisions are exempt from
// overrides.
func (r *Registry) Protected(category string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.protected[category]
}

// Stats returns a copy of the registry counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	triggers := make(map[string]int64, len(r.triggers))
	for id, n := range r.triggers {
		triggers[id] = n
	}
	return Stats{
		Rules:            len(r.rules),
		DefinitionErrors: r.defErrors,
		Triggers:         triggers,
	}
}
