// Package dataset loads, verifies, and validates YAML rule datasets.
//
// A dataset file carries a metadata block and a list of rules. Loading
// verifies the HMAC signature against the canonical document, compiles
// every pattern (disabling rules that fail), and exercises the rules'
// embedded test samples.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/promptgate/promptgate/pkg/regexeval"
	"github.com/promptgate/promptgate/pkg/types"
)

// Loader reads datasets from a directory.
type Loader struct {
	path     string
	secret   []byte
	failOpen bool
	eval     *regexeval.Evaluator
	log      *zap.Logger
}

// New creates a loader rooted at path. eval compiles rule patterns during
// validation; failOpen downgrades integrity failures to warnings.
func New(path, secret string, failOpen bool, eval *regexeval.Evaluator, log *zap.Logger) *Loader {
	return &Loader{
		path:     path,
		secret:   []byte(secret),
		failOpen: failOpen,
		eval:     eval,
		log:      log,
	}
}

// Load reads and validates one dataset by name (file name without the
// .yaml extension).
func (l *Loader) Load(name string) (*types.Dataset, error) {
	file := filepath.Join(l.path, name+".yaml")
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", name, err)
	}
	return l.Parse(name, data)
}

// LoadAll reads every *.yaml file under the loader's path. In fail-closed
// mode any broken dataset aborts the whole load; in fail-open mode broken
// datasets are skipped with an error log.
func (l *Loader) LoadAll() (map[string]*types.Dataset, error) {
	datasets := make(map[string]*types.Dataset)

	entries, err := os.ReadDir(l.path)
	if err != nil {
		l.log.Warn("dataset path not readable", zap.String("path", l.path), zap.Error(err))
		return datasets, nil
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".yaml")
		ds, err := l.Load(name)
		if err != nil {
			if !l.failOpen {
				return nil, fmt.Errorf("%w: dataset %q: %v", types.ErrDatasetIntegrity, name, err)
			}
			l.log.Error("failed to load dataset", zap.String("dataset", name), zap.Error(err))
			continue
		}
		datasets[name] = ds
	}
	return datasets, nil
}

// Parse validates raw dataset bytes. Exposed so embedded datasets go
// through the same verification path as on-disk files.
func (l *Loader) Parse(name string, data []byte) (*types.Dataset, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDatasetIntegrity, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: dataset must be a YAML mapping", types.ErrDatasetIntegrity)
	}
	if _, ok := doc["metadata"]; !ok {
		return nil, fmt.Errorf("%w: dataset missing 'metadata' section", types.ErrDatasetIntegrity)
	}
	if _, ok := doc["rules"]; !ok {
		return nil, fmt.Errorf("%w: dataset missing 'rules' section", types.ErrDatasetIntegrity)
	}

	var typed struct {
		Metadata types.DatasetMetadata `yaml:"metadata"`
		Rules    []rawRule             `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &typed); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDatasetIntegrity, err)
	}

	meta := typed.Metadata
	if err := l.normalizeMetadata(&meta); err != nil {
		return nil, err
	}

	if err := l.verifyHMAC(doc, &meta); err != nil {
		return nil, err
	}

	rules, err := l.normalizeRules(typed.Rules)
	if err != nil {
		return nil, err
	}

	// total_rules is advisory; trust the file contents.
	if meta.TotalRules != len(rules) {
		if meta.TotalRules != 0 {
			l.log.Warn("rule count mismatch, auto-correcting",
				zap.String("dataset", meta.Name),
				zap.Int("declared", meta.TotalRules),
				zap.Int("actual", len(rules)))
		}
		meta.TotalRules = len(rules)
	}

	l.validateRules(rules)

	l.log.Info("loaded dataset",
		zap.String("dataset", meta.Name),
		zap.String("version", meta.Version),
		zap.Int("rules", len(rules)))

	return &types.Dataset{Metadata: meta, Rules: rules}, nil
}

// normalizeMetadata accepts both the full metadata shape and the minimal
// import shape (name, version, source only), synthesizing the rest.
func (l *Loader) normalizeMetadata(meta *types.DatasetMetadata) error {
	if meta.Name == "" || meta.Version == "" || meta.Source == "" {
		return fmt.Errorf("%w: metadata requires name, version, and source", types.ErrDatasetIntegrity)
	}
	if meta.LastUpdated == "" {
		meta.LastUpdated = "unknown"
	}
	if meta.DatasetBuildID == "" {
		meta.DatasetBuildID = meta.Name + "-" + meta.Version
	}
	return nil
}

func (l *Loader) verifyHMAC(doc map[string]any, meta *types.DatasetMetadata) error {
	if meta.HMACSignature == "" {
		l.log.Warn("dataset has no HMAC signature", zap.String("dataset", meta.Name))
		return nil
	}
	ok, err := VerifySignature(doc, l.secret, meta.HMACSignature)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrDatasetIntegrity, err)
	}
	if !ok {
		if l.failOpen {
			l.log.Warn("HMAC verification failed (fail-open)", zap.String("dataset", meta.Name))
			return nil
		}
		return fmt.Errorf("%w: HMAC verification failed for dataset %q", types.ErrDatasetIntegrity, meta.Name)
	}
	l.log.Info("HMAC verification passed", zap.String("dataset", meta.Name))
	return nil
}

// rawRule mirrors types.Rule but keeps enabled optional so an absent
// field defaults to true.
type rawRule struct {
	ID            string          `yaml:"id"`
	Name          string          `yaml:"name"`
	Description   string          `yaml:"description"`
	Pattern       string          `yaml:"pattern"`
	Severity      types.Severity  `yaml:"severity"`
	State         types.RuleState `yaml:"state"`
	Enabled       *bool           `yaml:"enabled"`
	ImpactScore   float64         `yaml:"impact_score"`
	Category      string          `yaml:"category"`
	Tags          []string        `yaml:"tags"`
	PositiveTests []string        `yaml:"positive_tests"`
	NegativeTests []string        `yaml:"negative_tests"`
}

// normalizeRules fills defaults for rules in the minimal import shape and
// rejects structurally invalid rules.
func (l *Loader) normalizeRules(raw []rawRule) ([]types.Rule, error) {
	rules := make([]types.Rule, 0, len(raw))
	for i, rr := range raw {
		if rr.ID == "" || rr.Pattern == "" {
			return nil, fmt.Errorf("%w: rule at index %d missing id or pattern", types.ErrDatasetIntegrity, i)
		}
		if !rr.Severity.Valid() {
			return nil, fmt.Errorf("%w: rule %q has invalid severity %q", types.ErrDatasetIntegrity, rr.ID, rr.Severity)
		}
		r := types.Rule{
			ID:            rr.ID,
			Name:          rr.Name,
			Description:   rr.Description,
			Pattern:       rr.Pattern,
			Severity:      rr.Severity,
			State:         rr.State,
			Enabled:       rr.Enabled == nil || *rr.Enabled,
			ImpactScore:   rr.ImpactScore,
			Tags:          rr.Tags,
			PositiveTests: rr.PositiveTests,
			NegativeTests: rr.NegativeTests,
		}
		if r.Name == "" {
			r.Name = "Rule " + r.ID
		}
		if r.State == "" {
			r.State = types.StateActive
		}
		if r.ImpactScore == 0 {
			if r.Severity == types.SeverityCritical {
				r.ImpactScore = 1.0
			} else {
				r.ImpactScore = 0.8
			}
		}
		if len(r.Tags) == 0 && rr.Category != "" {
			r.Tags = []string{rr.Category}
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// validateRules compiles each pattern, disabling rules that no engine
// accepts, and runs the rules' embedded samples. Sample failures are
// logged but never fatal.
func (l *Loader) validateRules(rules []types.Rule) {
	disabled := 0
	for i := range rules {
		r := &rules[i]
		if _, err := l.eval.Compile(r.Pattern, 0); err != nil {
			l.log.Warn("rule has invalid pattern, disabling",
				zap.String("rule", r.ID), zap.Error(err))
			r.Enabled = false
			disabled++
			continue
		}
		for _, sample := range r.PositiveTests {
			m, err := l.eval.Search(r.Pattern, sample, 0, 0)
			if err != nil {
				l.log.Error("positive sample errored", zap.String("rule", r.ID), zap.Error(err))
			} else if m == nil {
				l.log.Warn("positive sample did not match",
					zap.String("rule", r.ID), zap.String("sample", truncate(sample, 50)))
			}
		}
		for _, sample := range r.NegativeTests {
			m, err := l.eval.Search(r.Pattern, sample, 0, 0)
			if err != nil {
				l.log.Error("negative sample errored", zap.String("rule", r.ID), zap.Error(err))
			} else if m != nil {
				l.log.Warn("negative sample matched (false positive)",
					zap.String("rule", r.ID), zap.String("sample", truncate(sample, 50)))
			}
		}
	}
	if disabled > 0 {
		l.log.Warn("disabled rules with invalid patterns", zap.Int("count", disabled))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// IsIntegrityError reports whether err is a dataset integrity failure.
func IsIntegrityError(err error) bool {
	return errors.Is(err, types.ErrDatasetIntegrity)
}
