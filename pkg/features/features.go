package features

import (
	"context"
	"sort"

	"mercator-hq/warden/pkg/event"
)

// Feature is the name of one boolean or categorical feature, e.g.
// "tool.write" or "cmd.recursive_delete".
type Feature string

// Common features produced by the default extractor. Rule files may
// reference any feature name; these constants only cover the built-in set.
const (
	// Tool classification.
	FeatureToolRead    Feature = "tool.read"
	FeatureToolWrite   Feature = "tool.write"
	FeatureToolEdit    Feature = "tool.edit"
	FeatureToolCommand Feature = "tool.command"
	FeatureToolNetwork Feature = "tool.network"

	// Command classification.
	FeatureCmdRecursiveDelete Feature = "cmd.recursive_delete"
	FeatureCmdForceFlag       Feature = "cmd.force_flag"
	FeatureCmdPipeToShell     Feature = "cmd.pipe_to_shell"
	FeatureCmdPackageInstall  Feature = "cmd.package_install"
	FeatureCmdGitPush         Feature = "cmd.git_push"
	FeatureCmdTestRun         Feature = "cmd.test_run"

	// Target classification.
	FeatureTargetProduction Feature = "target.production"
	FeatureTargetTemp       Feature = "target.temp"
	FeatureTargetDotfile    Feature = "target.dotfile"

	// Prompt signals.
	FeaturePromptFrustration Feature = "prompt.frustration"
	FeaturePromptUrgency     Feature = "prompt.urgency"

	// Failure signals.
	FeatureToolFailed Feature = "tool.failed"
)

// Set is the typed output of feature extraction: a bag of boolean flags
// plus optional categorical values keyed by feature name.
type Set struct {
	flags  map[Feature]bool
	values map[Feature]string
}

// NewSet returns an empty feature set.
func NewSet() *Set {
	return &Set{
		flags:  make(map[Feature]bool),
		values: make(map[Feature]string),
	}
}

// Add marks a boolean feature as present.
func (s *Set) Add(f Feature) {
	s.flags[f] = true
}

// SetValue stores a categorical value and marks the feature as present.
func (s *Set) SetValue(f Feature, value string) {
	s.flags[f] = true
	s.values[f] = value
}

// Has reports whether the feature is present.
func (s *Set) Has(f Feature) bool {
	if s == nil {
		return false
	}
	return s.flags[f]
}

// Value returns the categorical value for a feature, if any.
func (s *Set) Value(f Feature) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.values[f]
	return v, ok
}

// Len returns the number of present features.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.flags)
}

// Names returns the present feature names in sorted order. Used for
// deterministic match reporting and tests.
func (s *Set) Names() []Feature {
	if s == nil {
		return nil
	}
	names := make([]Feature, 0, len(s.flags))
	for f := range s.flags {
		names = append(names, f)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Extractor turns a snapshot into a typed feature set.
//
// Implementations must be safe for concurrent use and must not retain the
// snapshot. Extraction errors are advisory: the engine falls back to an
// empty set and fails open.
type Extractor interface {
	Extract(ctx context.Context, snap *event.Snapshot) (*Set, error)
}
