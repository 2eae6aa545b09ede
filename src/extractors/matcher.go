// src/extractors/matcher.go
package extractors

import "strings"

// Column matching is an explicit ordered rule table so the priority order
// is testable in one place. Headers are normalized (letters only,
// lowercased) before testing. The first header in column order matching
// the highest-priority rule wins.

type matchRule struct {
	name  string
	match func(normalized string) bool
}

var looseTokens = []string{
	"amount", "charged", "total", "cost", "price",
	"fee", "charge", "sum", "value", "payment",
}

var amountColumnRules = []matchRule{
	{
		name:  "exact total amount charged",
		match: func(h string) bool { return h == "totalamountcharged" },
	},
	{
		name: "contains total+amount+charged",
		match: func(h string) bool {
			return strings.Contains(h, "total") &&
				strings.Contains(h, "amount") &&
				strings.Contains(h, "charged")
		},
	},
	{
		name: "loose amount token",
		match: func(h string) bool {
			for _, token := range looseTokens {
				if strings.Contains(h, token) {
					return true
				}
			}
			return false
		},
	},
}

// normalizeHeader strips every non-letter and lowercases, so that
// "Total_Amount_Charged" and "Total amount charged" compare equal.
func normalizeHeader(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return b.String()
}

// matchAmountColumn returns the index of the matched header and the index
// of the rule that matched it, or (-1, -1) when no header qualifies.
func matchAmountColumn(headers []string) (col int, rule int) {
	for ri, r := range amountColumnRules {
		for ci, h := range headers {
			if r.match(normalizeHeader(h)) {
				return ci, ri
			}
		}
	}
	return -1, -1
}

// isLooseAmountHeader reports whether a header qualifies for the repo-wide
// HTML fallback strategy (any of total/amount/charged in its text).
func isLooseAmountHeader(s string) bool {
	h := normalizeHeader(s)
	return strings.Contains(h, "total") ||
		strings.Contains(h, "amount") ||
		strings.Contains(h, "charged")
}
