// Package eligibility turns screener answers into a determination and into
// the plain-text context handed to the eligibility assistant.
package eligibility

import (
	_ "embed"
	"strings"
)

// RulesetVersion identifies the embedded rules text. Bump it whenever
// rules/medicaid_hr1.txt changes.
const RulesetVersion = "hr1-2025.1"

//go:embed rules/medicaid_hr1.txt
var rulesetText string

// Ruleset returns the program rules document given to the assistant.
func Ruleset() string {
	return strings.TrimSpace(rulesetText)
}
