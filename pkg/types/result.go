package types

// Source tags for RuleMatch identifying which text a rule fired on.
const (
	SourceUserInput = "user_input"
	SourceCombined  = "combined"
)

// RuleMatch records a single rule hit. MatchedPreview always carries a
// redacted digest of the matched text, never the text itself.
type RuleMatch struct {
	RuleID         string   `json:"rule_id"`
	Dataset        string   `json:"dataset"`
	Severity       Severity `json:"severity"`
	MatchedPreview string   `json:"matched_preview"`
	Confidence     float64  `json:"confidence"`
	Source         string   `json:"source"`
}

// ScanResult is the response contract for one scan.
type ScanResult struct {
	Status           ScanStatus `json:"status"`
	AuditToken       string     `json:"audit_token"`
	RuleID           string     `json:"rule_id,omitempty"`
	Dataset          string     `json:"dataset,omitempty"`
	Severity         Severity   `json:"severity,omitempty"`
	ProcessingTimeMs float64    `json:"processing_time_ms"`
	RuleSetVersion   string     `json:"rule_set_version"`
	ScannerVersion   string     `json:"scanner_version"`
	Note             string     `json:"note,omitempty"`
	MLSuspicionScore *float64   `json:"ml_suspicion_score,omitempty"`

	// ScannerFailure marks a verdict produced by the fail policy after an
	// internal error rather than by a completed scan. It is not part of
	// the wire contract; the HTTP boundary feeds it to its circuit
	// breaker.
	ScannerFailure bool `json:"-"`
}
