package types

// Rule is a single detection rule with pattern and lifecycle metadata.
type Rule struct {
	ID            string    `yaml:"id" json:"id"`
	Name          string    `yaml:"name" json:"name"`
	Description   string    `yaml:"description,omitempty" json:"description,omitempty"`
	Pattern       string    `yaml:"pattern" json:"pattern"`
	Severity      Severity  `yaml:"severity" json:"severity"`
	State         RuleState `yaml:"state,omitempty" json:"state"`
	Enabled       bool      `yaml:"enabled" json:"enabled"`
	ImpactScore   float64   `yaml:"impact_score" json:"impact_score"`
	Tags          []string  `yaml:"tags,omitempty" json:"tags,omitempty"`
	PositiveTests []string  `yaml:"positive_tests,omitempty" json:"positive_tests,omitempty"`
	NegativeTests []string  `yaml:"negative_tests,omitempty" json:"negative_tests,omitempty"`
}

// Scannable reports whether the rule participates in scanning.
// Only active, enabled rules are ever evaluated against input.
func (r *Rule) Scannable() bool {
	return r.State == StateActive && r.Enabled
}

// DatasetMetadata describes one rule bundle.
type DatasetMetadata struct {
	Name           string `yaml:"name" json:"name"`
	Version        string `yaml:"version" json:"version"`
	Source         string `yaml:"source" json:"source"`
	LastUpdated    string `yaml:"last_updated" json:"last_updated"`
	TotalRules     int    `yaml:"total_rules" json:"total_rules"`
	DatasetBuildID string `yaml:"dataset_build_id" json:"dataset_build_id"`
	HMACSignature  string `yaml:"hmac_signature,omitempty" json:"hmac_signature,omitempty"`
}

// Dataset is a parsed and validated rule bundle.
type Dataset struct {
	Metadata DatasetMetadata `yaml:"metadata" json:"metadata"`
	Rules    []Rule          `yaml:"rules" json:"rules"`
}
