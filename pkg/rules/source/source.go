package source

import (
	"context"

	"mercator-hq/warden/pkg/rules"
)

// RuleSet is one loaded batch of definitions plus the categories whose
// BLOCK decisions must never be overridden.
type RuleSet struct {
	Definitions []rules.Definition
	Protected   []string
}

// Source loads rule definitions for the registry.
type Source interface {
	// Load returns the current rule set. Implementations must be safe to
	// call repeatedly; each call reflects the source's latest content.
	Load(ctx context.Context) (*RuleSet, error)
}

// Watchable is implemented by sources that can report changes. The
// callback runs once per change batch; its error is logged by the caller,
// not the source.
type Watchable interface {
	Watch(ctx context.Context, onChange func() error) error
}

// MemorySource serves a fixed rule set.
type MemorySource struct {
	Set RuleSet
}

// NewMemorySource creates a source serving the given definitions.
func NewMemorySource(defs []rules.Definition, protected ...string) *MemorySource {
	return &MemorySource{Set: RuleSet{Definitions: defs, Protected: protected}}
}

// Load implements Source.
func (s *MemorySource) Load(ctx context.Context) (*RuleSet, error) {
	set := s.Set
	return &set, nil
}
