// Package features turns raw event text into the typed features the rule
// evaluator consumes.
//
// The Extractor interface is the boundary between the policy engine and the
// natural-language heuristics used to detect violations: the engine only
// ever sees a typed Set of boolean and categorical features, so heuristics
// can be swapped without touching rule evaluation. RegexExtractor is the
// default implementation used by the CLI and by tests.
package features
