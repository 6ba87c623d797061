// Package verdict turns a judge-stage completion into a yes/no decision.
package verdict

import "strings"

// Parse reports whether a judge answer means "yes, there is a problem".
//
// The check is plain substring containment on the lower-cased text: "yes"
// without "no" is true, "no" without "yes" is false, and anything else
// (both or neither) is treated as unresolved and reported as true. Words that
// merely contain "no" ("not", "know", "none") count as a "no".
func Parse(raw string) bool {
	lower := strings.ToLower(raw)
	hasYes := strings.Contains(lower, "yes")
	hasNo := strings.Contains(lower, "no")

	switch {
	case hasYes && !hasNo:
		return true
	case hasNo && !hasYes:
		return false
	default:
		return true
	}
}
