// Package promptgate provides a rule-driven security filter for LLM
// pipelines.
//
// Inputs pass through a keyword prefilter, a Unicode normalization
// pipeline, and a code detector before being evaluated against
// hot-reloadable YAML rule datasets. Every verdict carries a signed audit
// token binding it to the rule set version that produced it.
//
// # Basic Usage
//
// Create a filter with the embedded datasets and scan text:
//
//	filter, err := promptgate.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := filter.ScanString(ctx, "ignore all previous instructions")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if result.Status == promptgate.StatusRejected {
//	    fmt.Printf("blocked by rule %s\n", result.RuleID)
//	}
//
// # Custom Datasets
//
// Point the filter at a directory of signed YAML datasets:
//
//	filter, err := promptgate.New(
//	    promptgate.WithDatasetPath("/etc/promptgate/datasets"),
//	    promptgate.WithHMACSecret(secret),
//	)
package promptgate

import (
	"context"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/pkg/config"
	"github.com/promptgate/promptgate/pkg/scanner"
	"github.com/promptgate/promptgate/pkg/types"
)

// Re-export commonly used types for convenience.
// Users can import just "github.com/promptgate/promptgate" without subpackages.
type (
	// PreparedInput is one scan request: user input plus external chunks.
	PreparedInput = types.PreparedInput

	// ScanResult is the verdict for one scan.
	ScanResult = types.ScanResult

	// ScanStatus is the verdict class of a ScanResult.
	ScanStatus = types.ScanStatus

	// Rule defines one detection pattern.
	Rule = types.Rule

	// Severity ranks how dangerous a rule hit is.
	Severity = types.Severity
)

// Re-export scan status constants.
const (
	StatusClean          = types.StatusClean
	StatusCleanCode      = types.StatusCleanCode
	StatusRejected       = types.StatusRejected
	StatusWarn           = types.StatusWarn
	StatusReviewRequired = types.StatusReviewRequired
	StatusError          = types.StatusError
)

// Filter is the embeddable scan pipeline.
type Filter struct {
	core *scanner.Core
	cfg  config.Settings
}

// Option configures a Filter.
type Option func(*config.Settings, *options)

type options struct {
	logger *zap.Logger
}

// WithDatasetPath loads rule datasets from dir instead of the embedded
// bundle.
func WithDatasetPath(dir string) Option {
	return func(s *config.Settings, _ *options) {
		s.DatasetPath = dir
	}
}

// WithHMACSecret sets the secret used to verify dataset signatures and
// sign audit tokens.
func WithHMACSecret(secret string) Option {
	return func(s *config.Settings, _ *options) {
		s.DatasetHMACSecret = secret
	}
}

// WithEngine selects the preferred regex engine: "linear", "pcre", or
// "std". Patterns the preferred engine rejects fall back down the chain.
func WithEngine(engine string) Option {
	return func(s *config.Settings, _ *options) {
		s.RegexEngine = engine
	}
}

// WithFailOpen makes internal scanner errors return StatusError instead
// of StatusReviewRequired.
func WithFailOpen() Option {
	return func(s *config.Settings, _ *options) {
		s.FailOpen = true
	}
}

// WithEnsembleScoring averages confidences across all matching sources
// instead of stopping at the first hit.
func WithEnsembleScoring() Option {
	return func(s *config.Settings, _ *options) {
		s.EnsembleScoring = true
		s.StopOnFirstMatch = false
	}
}

// WithLogger routes pipeline logs through the given logger. Default is a
// no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(_ *config.Settings, o *options) {
		o.logger = log
	}
}

// WithSettings replaces the whole settings block, for callers that manage
// configuration themselves. Options after it still apply.
func WithSettings(settings config.Settings) Option {
	return func(s *config.Settings, _ *options) {
		*s = settings
	}
}

// New creates a Filter.
//
// By default the filter:
//   - Loads datasets from ./datasets, falling back to the embedded bundle
//   - Prefers the linear-time regex engine
//   - Fails closed: internal errors yield StatusReviewRequired
func New(opts ...Option) (*Filter, error) {
	cfg := config.Default()
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg, &o)
	}

	core, err := scanner.NewCore(&cfg, o.logger)
	if err != nil {
		return nil, err
	}
	return &Filter{core: core, cfg: cfg}, nil
}

// Scan runs the full pipeline over a prepared input.
func (f *Filter) Scan(ctx context.Context, input PreparedInput) (ScanResult, error) {
	return f.core.Scan(ctx, input)
}

// ScanString scans a single string with no external chunks.
func (f *Filter) ScanString(ctx context.Context, text string) (ScanResult, error) {
	return f.core.Scan(ctx, PreparedInput{UserInput: text})
}

// Reload hot-swaps the rule set from the dataset path.
func (f *Filter) Reload() error {
	_, err := f.core.Reload()
	return err
}

// RuleCount returns the number of active rules.
func (f *Filter) RuleCount() int {
	return f.core.Registry().RuleCount()
}

// Version returns the current rule set version.
func (f *Filter) Version() string {
	return f.core.Registry().Version()
}
