package ledger

import "fmt"

// Tier is a confidence-score bucket unlocking a fixed privilege set.
// Tiers are ordered: a higher tier includes every privilege below it.
type Tier int

const (
	// TierProbation permits investigation only: reads and searches.
	TierProbation Tier = iota + 1

	// TierAdvisory adds plans and suggestions, still no writes.
	TierAdvisory

	// TierSandbox adds writes confined to temporary paths.
	TierSandbox

	// TierAudited adds persistent writes, gated by a prior read of the
	// target (the audit), plus low-risk commands.
	TierAudited

	// TierTrusted adds arbitrary commands and network access.
	TierTrusted

	// TierAutonomous applies minimal gating. Dangerous-command detection
	// still applies; it is tier-independent.
	TierAutonomous
)

// tierNames is indexed by Tier-1.
var tierNames = [...]string{
	"probation",
	"advisory",
	"sandbox",
	"audited",
	"trusted",
	"autonomous",
}

// String returns the tier's human-readable label.
func (t Tier) String() string {
	if t < TierProbation || t > TierAutonomous {
		return fmt.Sprintf("unknown(%d)", int(t))
	}
	return tierNames[t-1]
}

// Confidence bands mapping scores onto tiers. The bands are half-open:
// [0,20) probation, [20,35) advisory, [35,50) sandbox, [50,70) audited,
// [70,85) trusted, [85,100] autonomous.
var tierBands = []struct {
	min  float64
	tier Tier
}{
	{85, TierAutonomous},
	{70, TierTrusted},
	{50, TierAudited},
	{35, TierSandbox},
	{20, TierAdvisory},
	{0, TierProbation},
}

// TierForConfidence maps a confidence score onto its tier.
func TierForConfidence(confidence float64) Tier {
	for _, band := range tierBands {
		if confidence >= band.min {
			return band.tier
		}
	}
	return TierProbation
}

// TierTransition is one logged tier change for a session.
type TierTransition struct {
	From Tier   `json:"from"`
	To   Tier   `json:"to"`
	Turn int    `json:"turn"`
	Why  string `json:"why,omitempty"`
}
