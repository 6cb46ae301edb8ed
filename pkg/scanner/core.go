// Package scanner runs the scan pipeline: prefilter, normalization, code
// detection, then rule evaluation over every input source.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/promptgate/promptgate/pkg/codedetect"
	"github.com/promptgate/promptgate/pkg/config"
	"github.com/promptgate/promptgate/pkg/dataset"
	"github.com/promptgate/promptgate/pkg/normalize"
	"github.com/promptgate/promptgate/pkg/prefilter"
	"github.com/promptgate/promptgate/pkg/regexeval"
	"github.com/promptgate/promptgate/pkg/registry"
	"github.com/promptgate/promptgate/pkg/types"
)

// Version is reported in every scan result.
const Version = "1.0.0"

// Core owns the pipeline components and the live rule snapshot.
type Core struct {
	cfg      *config.Settings
	eval     *regexeval.Evaluator
	norm     *normalize.Normalizer
	detector *codedetect.Detector
	hybrid   *prefilter.Hybrid
	keywords *prefilter.KeywordList
	registry *registry.Registry
	loader   *dataset.Loader
	log      *zap.Logger

	// degraded is set when the initial load failed under fail-closed.
	// Scans fail per policy until a reload succeeds; the process stays
	// up so the reload endpoint can repair it.
	degraded atomic.Bool
}

// NewCore wires the pipeline from settings and performs the initial
// dataset load. A broken dataset directory does not abort startup: the
// core comes up degraded and recovers on the next successful reload.
func NewCore(cfg *config.Settings, log *zap.Logger) (*Core, error) {
	eval := regexeval.New(cfg.RegexEngine, cfg.RegexTimeout())
	c := &Core{
		cfg:      cfg,
		eval:     eval,
		norm:     normalize.New(cfg.NormalizationEnabled, cfg.DisabledNormalizationSteps()),
		detector: codedetect.New(cfg.CodeDetectionEnabled, cfg.CodeConfidenceThreshold),
		hybrid:   prefilter.NewHybrid(cfg.BloomCapacity, cfg.BloomErrorRate, log),
		keywords: prefilter.NewKeywordList(cfg.PrefilterKeywordList()),
		registry: registry.New(log),
		loader:   dataset.New(cfg.DatasetPath, cfg.DatasetHMACSecret, cfg.FailOpen, eval, log),
		log:      log,
	}
	if err := c.loadDatasets(); err != nil {
		if !dataset.IsIntegrityError(err) {
			return nil, err
		}
		log.Error("initial dataset load failed, serving degraded until reload", zap.Error(err))
		c.degraded.Store(true)
	}
	return c, nil
}

// loadDatasets reads the dataset directory, falling back to the embedded
// datasets when the directory yields nothing, then rebuilds the registry
// snapshot and the prefilter.
func (c *Core) loadDatasets() error {
	datasets, err := c.loader.LoadAll()
	if err != nil {
		return err
	}
	if len(datasets) == 0 {
		c.log.Info("no datasets on disk, loading embedded datasets")
		datasets, err = c.loader.LoadBuiltin()
		if err != nil {
			return err
		}
	}

	c.registry.LoadDatasets(datasets)

	rules := make([]types.Rule, 0, c.registry.RuleCount())
	for _, ar := range c.registry.ActiveRules() {
		rules = append(rules, ar.Rule)
	}
	c.hybrid.BuildFromRules(rules)
	return nil
}

// Reload swaps in a fresh rule set. The compiled pattern cache is cleared
// first so stale patterns from the previous snapshot cannot linger.
func (c *Core) Reload() (ReloadReport, error) {
	start := time.Now()
	c.eval.ClearCache()
	if err := c.loadDatasets(); err != nil {
		return ReloadReport{Status: "error", Error: err.Error()}, err
	}
	c.degraded.Store(false)
	return ReloadReport{
		Status:         "success",
		RuleSetVersion: c.registry.Version(),
		TotalRules:     c.registry.RuleCount(),
		ReloadTimeMs:   float64(time.Since(start)) / float64(time.Millisecond),
	}, nil
}

// Registry exposes the rule registry for stats and health reporting.
func (c *Core) Registry() *registry.Registry { return c.registry }

// Prefilter exposes the hybrid prefilter for stats reporting.
func (c *Core) Prefilter() *prefilter.Hybrid { return c.hybrid }

// Evaluator exposes the regex evaluator for stats reporting.
func (c *Core) Evaluator() *regexeval.Evaluator { return c.eval }

// Scan runs the full pipeline over one prepared input. The rule snapshot
// and its version are captured once at entry: a reload landing mid-scan
// never splits the evaluation across two rule sets, and the result is
// stamped with the version the scan actually ran against. The error
// return is non-nil only when ctx expired; every other failure is folded
// into the result per the fail-open/fail-closed policy.
func (c *Core) Scan(ctx context.Context, input types.PreparedInput) (types.ScanResult, error) {
	start := time.Now()
	rules, version := c.registry.Snapshot()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ChunkProcessingTimeout())
	defer cancel()

	result, err := c.scanGuarded(ctx, input, rules, version, start)
	if err != nil {
		if ctx.Err() != nil {
			return types.ScanResult{}, ctx.Err()
		}
		return c.failPolicyResult(err, version, start), nil
	}
	return result, nil
}

// scanGuarded converts panics from rule evaluation into errors so a bad
// pattern cannot take down the service.
func (c *Core) scanGuarded(ctx context.Context, input types.PreparedInput, rules []registry.ActiveRule, version string, start time.Time) (result types.ScanResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("scan panicked", zap.Any("panic", r))
			err = fmt.Errorf("scan panicked: %v", r)
		}
	}()
	return c.scan(ctx, input, rules, version, start)
}

func (c *Core) scan(ctx context.Context, input types.PreparedInput, rules []registry.ActiveRule, version string, start time.Time) (types.ScanResult, error) {
	if c.degraded.Load() {
		return types.ScanResult{}, errors.New("no rule snapshot loaded")
	}

	// Allowlisted content bypasses the pipeline entirely.
	if c.allowlisted(input.UserInput) {
		return c.newResult(types.StatusClean, version, start, "Content hash allowlisted"), nil
	}

	// Stage 1: normalize the user input.
	normalized := c.norm.Normalize(input.UserInput)

	// Stage 2: hybrid prefilter over the normalized text, so obfuscation
	// stripped by normalization cannot hide a keyword from it. A miss is
	// authoritative: no rule keyword occurs, so no rule can match.
	if c.hybrid.Enabled() {
		pfStart := time.Now()
		might, keyword := c.hybrid.MightMatch(normalized)
		pfMs := float64(time.Since(pfStart)) / float64(time.Millisecond)
		if !might && len(input.ExternalChunks) == 0 {
			// Code detection still applies so fenced code gets its
			// CLEAN_CODE verdict rather than a generic clean.
			if det := c.detector.Detect(normalized); det.IsCode {
				return c.newResult(types.StatusCleanCode, version, start,
					fmt.Sprintf("Code detected (%s, confidence=%.2f)", det.Reason, det.Confidence)), nil
			}
			return c.newResult(types.StatusClean, version, start,
				fmt.Sprintf("Passed prefilter check (%.2fms)", pfMs)), nil
		}
		if might {
			c.log.Debug("prefilter hit", zap.String("keyword", keyword))
		}
	}

	// Stage 3: code detection bypass.
	if det := c.detector.Detect(normalized); det.IsCode {
		return c.newResult(types.StatusCleanCode, version, start,
			fmt.Sprintf("Code detected (%s, confidence=%.2f)", det.Reason, det.Confidence)), nil
	}

	// Stage 4: legacy keyword prefilter over normalized text.
	if c.cfg.PrefilterEnabled && len(input.ExternalChunks) == 0 && !c.keywords.Contains(normalized) {
		return c.newResult(types.StatusClean, version, start, "Passed legacy prefilter check"), nil
	}

	// Stage 5: normalize external chunks concurrently, order preserved.
	chunks, err := c.normalizeChunks(ctx, input.ExternalChunks)
	if err != nil {
		return types.ScanResult{}, err
	}

	var matches []types.RuleMatch

	// Stage 6: scan the user input.
	userMatch, err := c.scanText(ctx, rules, normalized, types.SourceUserInput)
	if err != nil {
		return types.ScanResult{}, err
	}
	if userMatch != nil {
		if c.cfg.StopOnFirstMatch && !c.cfg.EnsembleScoring {
			return c.resultFromMatch(*userMatch, version, start), nil
		}
		matches = append(matches, *userMatch)
	}

	// Stage 7: scan chunks concurrently.
	chunkMatches, err := c.scanChunks(ctx, rules, chunks)
	if err != nil {
		return types.ScanResult{}, err
	}
	if len(chunkMatches) > 0 {
		if c.cfg.StopOnFirstMatch && !c.cfg.EnsembleScoring {
			return c.resultFromMatch(chunkMatches[0], version, start), nil
		}
		matches = append(matches, chunkMatches...)
	}

	// Stage 8: scan the combined text to catch attacks split across
	// sources.
	combined := normalized
	for _, chunk := range chunks {
		combined += " " + chunk
	}
	combinedMatch, err := c.scanText(ctx, rules, combined, types.SourceCombined)
	if err != nil {
		return types.ScanResult{}, err
	}
	if combinedMatch != nil {
		if c.cfg.StopOnFirstMatch && !c.cfg.EnsembleScoring {
			return c.resultFromMatch(*combinedMatch, version, start), nil
		}
		matches = append(matches, *combinedMatch)
	}

	if len(matches) > 0 {
		if c.cfg.EnsembleScoring {
			return c.ensembleDecision(matches, version, start), nil
		}
		return c.resultFromMatch(matches[0], version, start), nil
	}

	return c.newResult(types.StatusClean, version, start, ""), nil
}

// allowlisted reports whether the raw input's SHA-256 hex digest is on
// the configured allowlist.
func (c *Core) allowlisted(text string) bool {
	hashes := c.cfg.AllowlistedHashList()
	if len(hashes) == 0 {
		return false
	}
	sum := sha256.Sum256([]byte(text))
	digest := hex.EncodeToString(sum[:])
	for _, h := range hashes {
		if strings.EqualFold(h, digest) {
			return true
		}
	}
	return false
}

// normalizeChunks runs the normalizer over every chunk with bounded
// parallelism, preserving chunk order.
func (c *Core) normalizeChunks(ctx context.Context, raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]string, len(raw))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workerLimit())
	for i, chunk := range raw {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = c.norm.Normalize(chunk)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// workerLimit bounds the fan-out; a non-positive configured value would
// make errgroup.SetLimit admit no goroutines at all.
func (c *Core) workerLimit() int {
	if n := c.cfg.ScanWorkers; n > 0 {
		return n
	}
	return 1
}

// scanChunks evaluates all chunks concurrently. Matches come back ordered
// by chunk index so stop-on-first-match is deterministic.
func (c *Core) scanChunks(ctx context.Context, rules []registry.ActiveRule, chunks []string) ([]types.RuleMatch, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	found := make([]*types.RuleMatch, len(chunks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workerLimit())
	for i, chunk := range chunks {
		g.Go(func() error {
			m, err := c.scanText(ctx, rules, chunk, fmt.Sprintf("chunk_%d", i))
			if err != nil {
				return err
			}
			found[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var matches []types.RuleMatch
	for _, m := range found {
		if m != nil {
			matches = append(matches, *m)
		}
	}
	return matches, nil
}

// scanText evaluates every rule of the pinned snapshot against text in
// severity order. Rules that time out or error are skipped; the rest of
// the set still runs.
func (c *Core) scanText(ctx context.Context, rules []registry.ActiveRule, text, source string) (*types.RuleMatch, error) {
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ruleStart := time.Now()
		m, err := c.eval.Search(rule.Pattern, text, 0, 0)
		if err != nil {
			if regexeval.IsTimeout(err) {
				c.log.Warn("regex timeout", zap.String("rule", rule.ID))
			} else {
				c.log.Error("rule evaluation failed", zap.String("rule", rule.ID), zap.Error(err))
			}
			continue
		}
		if m == nil {
			continue
		}
		c.registry.RecordMatch(rule.ID, time.Since(ruleStart))
		return &types.RuleMatch{
			RuleID:         rule.ID,
			Dataset:        rule.Dataset,
			Severity:       rule.Severity,
			MatchedPreview: RedactedPreview(m.Text),
			Confidence:     rule.ImpactScore,
			Source:         source,
		}, nil
	}
	return nil, nil
}

func (c *Core) resultFromMatch(m types.RuleMatch, version string, start time.Time) types.ScanResult {
	status := types.StatusWarn
	if m.Severity == types.SeverityCritical || m.Severity == types.SeverityHigh {
		status = types.StatusRejected
	}
	r := c.newResult(status, version, start, "Matched in "+m.Source)
	r.RuleID = m.RuleID
	r.Dataset = m.Dataset
	r.Severity = m.Severity
	return r
}

// ensembleDecision averages match confidences across all sources instead
// of trusting a single hit.
func (c *Core) ensembleDecision(matches []types.RuleMatch, version string, start time.Time) types.ScanResult {
	total := 0.0
	top := matches[0]
	for _, m := range matches {
		total += m.Confidence
		if m.Confidence > top.Confidence {
			top = m
		}
	}
	score := total / float64(len(matches))

	status := types.StatusClean
	switch {
	case score >= c.cfg.EnsembleThresholdReject:
		status = types.StatusRejected
	case score >= c.cfg.EnsembleThresholdWarn:
		status = types.StatusWarn
	}

	r := c.newResult(status, version, start,
		fmt.Sprintf("Ensemble score: %.2f (%d matches)", score, len(matches)))
	r.RuleID = top.RuleID
	r.Dataset = top.Dataset
	r.Severity = top.Severity
	return r
}

// failPolicyResult folds an internal failure into a verdict per the fail
// policy. ScannerFailure is set so the boundary can tell these apart
// from completed scans and feed its circuit breaker.
func (c *Core) failPolicyResult(err error, version string, start time.Time) types.ScanResult {
	c.log.Error("scanner error", zap.Error(err))
	msg := err.Error()
	if len(msg) > 100 {
		msg = msg[:100]
	}
	var r types.ScanResult
	if c.cfg.FailOpen {
		r = c.newResult(types.StatusError, version, start, "Scanner error (fail-open): "+msg)
	} else {
		r = c.newResult(types.StatusReviewRequired, version, start, "Scanner error (fail-closed): "+msg)
	}
	r.ScannerFailure = true
	return r
}

func (c *Core) newResult(status types.ScanStatus, version string, start time.Time, note string) types.ScanResult {
	return types.ScanResult{
		Status:           status,
		AuditToken:       GenerateAuditToken(c.cfg.DatasetHMACSecret, version, time.Now()),
		ProcessingTimeMs: float64(time.Since(start)) / float64(time.Millisecond),
		RuleSetVersion:   version,
		ScannerVersion:   Version,
		Note:             note,
	}
}
