package rules

import (
	"errors"
	"fmt"
	"strings"

	"mercator-hq/warden/pkg/event"
	"mercator-hq/warden/pkg/features"
)

// Level is the enforcement level a rule carries. Levels are ordered:
// OBSERVE < SUGGEST < WARN < BLOCK.
type Level int

const (
	// LevelObserve counts the match without surfacing anything.
	LevelObserve Level = iota

	// LevelSuggest attaches a non-blocking suggestion.
	LevelSuggest

	// LevelWarn attaches an advisory warning.
	LevelWarn

	// LevelBlock denies the action.
	LevelBlock
)

var levelNames = [...]string{"observe", "suggest", "warn", "block"}

// String returns the level's lowercase label.
func (l Level) String() string {
	if l < LevelObserve || l > LevelBlock {
		return fmt.Sprintf("unknown(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel parses a level label, case-insensitively.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return LevelObserve, fmt.Errorf("unknown enforcement level %q", s)
}

// ErrMalformedRule wraps all rule compilation failures.
var ErrMalformedRule = errors.New("malformed rule definition")

// Definition is the raw, declarative form of one rule as it appears in a
// rule file.
type Definition struct {
	ID       string   `yaml:"id"`
	Category string   `yaml:"category"`
	Priority int      `yaml:"priority"`
	Level    string   `yaml:"level"`
	Events   []string `yaml:"events"`
	Require  []string `yaml:"require"`
	Exclude  []string `yaml:"exclude"`
	Message  string   `yaml:"message"`
}

// Rule is the compiled, immutable form of a definition. Rules are loaded
// once and never mutated.
type Rule struct {
	ID       string
	Category string
	Priority int
	Level    Level
	Events   map[event.Type]bool
	Require  []features.Feature
	Exclude  []features.Feature
	Message  string

	// order is the declaration index, used as the final sort tiebreak.
	order int
}

// Compile validates a definition and produces an evaluable rule. All
// failures wrap ErrMalformedRule.
func Compile(def Definition) (*Rule, error) {
	if def.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedRule)
	}
	if def.Category == "" {
		return nil, fmt.Errorf("%w: rule %s: missing category", ErrMalformedRule, def.ID)
	}
	level, err := ParseLevel(def.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %s: %v", ErrMalformedRule, def.ID, err)
	}
	if len(def.Events) == 0 {
		return nil, fmt.Errorf("%w: rule %s: empty event set", ErrMalformedRule, def.ID)
	}
	events := make(map[event.Type]bool, len(def.Events))
	for _, raw := range def.Events {
		t := event.Type(raw)
		if !t.IsValid() {
			return nil, fmt.Errorf("%w: rule %s: unknown event type %q", ErrMalformedRule, def.ID, raw)
		}
		events[t] = true
	}
	if len(def.Require) == 0 {
		return nil, fmt.Errorf("%w: rule %s: empty require set", ErrMalformedRule, def.ID)
	}
	rule := &Rule{
		ID:       def.ID,
		Category: def.Category,
		Priority: def.Priority,
		Level:    level,
		Events:   events,
		Message:  def.Message,
	}
	for _, f := range def.Require {
		rule.Require = append(rule.Require, features.Feature(f))
	}
	for _, f := range def.Exclude {
		rule.Exclude = append(rule.Exclude, features.Feature(f))
	}
	return rule, nil
}

// matches reports whether the rule triggers on the given snapshot and
// feature set.
func (r *Rule) matches(snap *event.Snapshot, set *features.Set) bool {
	if !r.Events[snap.Type] {
		return false
	}
	for _, f := range r.Require {
		if !set.Has(f) {
			return false
		}
	}
	for _, f := range r.Exclude {
		if set.Has(f) {
			return false
		}
	}
	return true
}

// renderMessage expands the {rule}, {category}, {tool} and {level}
// placeholders of the rule's message template.
func (r *Rule) renderMessage(snap *event.Snapshot) string {
	msg := r.Message
	if msg == "" {
		msg = "rule {rule} ({category}) matched"
	}
	replacer := strings.NewReplacer(
		"{rule}", r.ID,
		"{category}", r.Category,
		"{tool}", snap.ToolName,
		"{level}", r.Level.String(),
	)
	return replacer.Replace(msg)
}

// Match is one rule hit for one evaluation. Ephemeral.
type Match struct {
	RuleID   string
	Category string
	Level    Level
	Priority int
	Features []features.Feature
	Message  string
}
