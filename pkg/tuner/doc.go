// Package tuner implements the self-adjusting enforcement-phase controller.
//
// Each enforcement domain moves through three phases: OBSERVE (count only,
// never stronger than allow), WARN (advisory), and ENFORCE (may block once a
// pattern has occurred often enough). Phase transitions and the occurrence
// threshold are driven entirely by recorded outcome feedback: remediation
// adoption, estimated return on intervention, and the observed
// false-positive rate. ENFORCE backtracks to WARN when the false-positive
// rate degrades.
//
// Threshold adjustments are deliberately conservative: one unit per tuning
// cycle, bounded to ±30% of the configured baseline, and every adjustment is
// logged with the metrics that triggered it. The step size and bounds are
// empirically chosen; revisit them against real false-positive data before
// trusting them as optimal.
package tuner
