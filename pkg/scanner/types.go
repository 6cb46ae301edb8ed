package scanner

// ReloadReport summarizes a hot-reload attempt.
type ReloadReport struct {
	Status         string  `json:"status"`
	RuleSetVersion string  `json:"rule_set_version,omitempty"`
	TotalRules     int     `json:"total_rules,omitempty"`
	ReloadTimeMs   float64 `json:"reload_time_ms,omitempty"`
	Error          string  `json:"error,omitempty"`
}
