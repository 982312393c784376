package features

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"mercator-hq/warden/pkg/event"
)

// textPattern binds a compiled regex to the feature it produces.
type textPattern struct {
	feature Feature
	re      *regexp.Regexp
}

// RegexExtractor is the default Extractor implementation. It classifies the
// tool call by name and scans the event text against a fixed pattern table.
//
// It exists so the engine is usable standalone; production deployments are
// expected to plug in a richer extractor behind the same interface.
type RegexExtractor struct {
	logger   *slog.Logger
	patterns []textPattern
}

// NewRegexExtractor creates the default regex-based extractor.
func NewRegexExtractor(logger *slog.Logger) *RegexExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegexExtractor{
		logger:   logger,
		patterns: defaultPatterns,
	}
}

// Extract implements Extractor.
func (e *RegexExtractor) Extract(ctx context.Context, snap *event.Snapshot) (*Set, error) {
	set := NewSet()
	if snap == nil {
		return set, nil
	}

	e.classifyTool(snap, set)

	text := snap.Text()
	for _, p := range e.patterns {
		if p.re.MatchString(text) {
			set.Add(p.feature)
		}
	}

	if snap.Failed() {
		set.Add(FeatureToolFailed)
	}

	e.logger.Debug("features extracted",
		"event_type", snap.Type,
		"tool", snap.ToolName,
		"feature_count", set.Len(),
	)
	return set, nil
}

// classifyTool maps well-known tool names onto tool.* features.
func (e *RegexExtractor) classifyTool(snap *event.Snapshot, set *Set) {
	name := strings.ToLower(snap.ToolName)
	switch {
	case name == "":
		return
	case name == "read" || name == "glob" || name == "grep" || name == "ls":
		set.SetValue(FeatureToolRead, snap.ToolName)
	case name == "write" || name == "notebookedit":
		set.SetValue(FeatureToolWrite, snap.ToolName)
	case name == "edit" || name == "multiedit" || strings.Contains(name, "edit"):
		set.SetValue(FeatureToolEdit, snap.ToolName)
	case name == "bash" || name == "shell" || name == "exec":
		set.SetValue(FeatureToolCommand, snap.ToolName)
	case name == "webfetch" || name == "websearch" || strings.Contains(name, "http"):
		set.SetValue(FeatureToolNetwork, snap.ToolName)
	}
}

// defaultPatterns is the built-in pattern table. Patterns match against the
// combined prompt/tool text, case-insensitively where noted.
var defaultPatterns = []textPattern{
	{FeatureCmdRecursiveDelete, regexp.MustCompile(`\brm\s+(-[a-zA-Z]*r[a-zA-Z]*f|-[a-zA-Z]*f[a-zA-Z]*r)\b`)},
	{FeatureCmdForceFlag, regexp.MustCompile(`\s--force\b|\s-f\b`)},
	{FeatureCmdPipeToShell, regexp.MustCompile(`\b(curl|wget)\b[^|]*\|\s*(ba|z|da)?sh\b`)},
	{FeatureCmdPackageInstall, regexp.MustCompile(`\b(npm|pip|pip3|go|cargo|apt(-get)?|brew)\s+(install|get|add)\b`)},
	{FeatureCmdGitPush, regexp.MustCompile(`\bgit\s+push\b`)},
	{FeatureCmdTestRun, regexp.MustCompile(`\b(go\s+test|pytest|npm\s+(run\s+)?test|make\s+test|cargo\s+test)\b`)},
	{FeatureTargetProduction, regexp.MustCompile(`(?i)\b(prod|production|release)\b`)},
	{FeatureTargetTemp, regexp.MustCompile(`(^|[\s"'=])/(tmp|var/tmp)/`)},
	{FeatureTargetDotfile, regexp.MustCompile(`(^|/)\.[a-zA-Z][\w.-]*(rc|config|env)\b`)},
	{FeaturePromptFrustration, regexp.MustCompile(`(?i)\b(just (do|fix) it|stop asking|why (won'?t|can'?t) you|again\?!|ugh)\b`)},
	{FeaturePromptUrgency, regexp.MustCompile(`(?i)\b(asap|urgent|right now|immediately|hurry)\b`)},
}
