package ledger

import "regexp"

// dangerPattern is one entry of the fixed dangerous-operation deny-list.
type dangerPattern struct {
	name string
	re   *regexp.Regexp
}

// dangerDenyList is the fixed deny-list of dangerous-operation patterns.
// Detection is tier-independent and is the one check never downgraded by
// high confidence. The list is intentionally not configurable.
var dangerDenyList = []dangerPattern{
	{
		name: "destructive-delete",
		re: regexp.MustCompile(`\brm\s+(-[a-zA-Z]*r[a-zA-Z]*f|-[a-zA-Z]*f[a-zA-Z]*r)[a-zA-Z]*\s+(--no-preserve-root\s+)?("|')?(/|~|\$HOME|\*)(\s|$|"|')`),
	},
	{
		name: "destructive-delete",
		re:   regexp.MustCompile(`\brm\b.*--no-preserve-root`),
	},
	{
		name: "raw-device-write",
		re:   regexp.MustCompile(`\bdd\b[^|;&]*\bof=/dev/(sd|hd|nvme|vd|disk|mmcblk)`),
	},
	{
		name: "raw-device-write",
		re:   regexp.MustCompile(`>\s*/dev/(sd|hd|nvme|vd|disk|mmcblk)`),
	},
	{
		name: "raw-device-write",
		re:   regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\s`),
	},
	{
		name: "fork-bomb",
		re:   regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:`),
	},
	{
		// Named variant. RE2 has no backreferences, so this settles for any
		// function definition whose body pipes and backgrounds.
		name: "fork-bomb",
		re:   regexp.MustCompile(`\w+\(\)\s*\{[^}]*\|[^}]*&`),
	},
	{
		name: "remote-code-execution",
		re:   regexp.MustCompile(`\b(curl|wget)\b[^|;&]*\|\s*(sudo\s+)?(ba|z|da)?sh\b`),
	},
	{
		name: "remote-code-execution",
		re:   regexp.MustCompile(`\b(python3?|perl|ruby|node)\s+(-c\s+)?<\(\s*(curl|wget)\b`),
	},
	{
		name: "irreversible-permission-change",
		re:   regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]+\s+)*(0?777|a\+rwx)\s+("|')?(/|~)(\s|$|"|')`),
	},
	{
		name: "irreversible-permission-change",
		re:   regexp.MustCompile(`\bchown\s+(-[a-zA-Z]+\s+)*\S+\s+("|')?/(\s|$|"|')`),
	},
}

// DetectDanger matches input text against the fixed dangerous-operation
// deny-list and returns the first matching pattern name.
func DetectDanger(input string) (bool, string) {
	for _, p := range dangerDenyList {
		if p.re.MatchString(input) {
			return true, p.name
		}
	}
	return false, ""
}
