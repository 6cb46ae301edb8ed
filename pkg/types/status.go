package types

// ScanStatus is the verdict of one scan.
type ScanStatus string

const (
	StatusClean          ScanStatus = "CLEAN"
	StatusCleanCode      ScanStatus = "CLEAN_CODE"
	StatusRejected       ScanStatus = "REJECTED"
	StatusWarn           ScanStatus = "WARN"
	StatusReviewRequired ScanStatus = "REVIEW_REQUIRED"
	StatusError          ScanStatus = "ERROR"
)

// Severity classifies how dangerous a matched rule is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityRank orders severities for sorting; lower sorts first.
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

// Rank returns the sort rank of s (critical first). Unknown severities sort last.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return 99
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// RuleState is the lifecycle state of a rule.
type RuleState string

const (
	StateDraft       RuleState = "draft"
	StateTesting     RuleState = "testing"
	StateCanary      RuleState = "canary"
	StateActive      RuleState = "active"
	StateDeprecated  RuleState = "deprecated"
	StateQuarantined RuleState = "quarantined"
)
