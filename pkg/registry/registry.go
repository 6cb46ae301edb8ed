// Package registry holds the active rule set behind an atomically
// swappable snapshot, plus per-rule match analytics.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/pkg/types"
)

// execTimeWindow bounds the per-rule execution time samples kept for
// average reporting.
const execTimeWindow = 1000

// ActiveRule pairs a rule with the dataset it came from; the dataset name
// is reported in match results.
type ActiveRule struct {
	types.Rule
	Dataset string
}

// TopRule is one entry of the most-matched-rules report.
type TopRule struct {
	RuleID string `json:"rule_id"`
	Count  int64  `json:"count"`
}

// Stats is the registry snapshot reported by the stats endpoint.
type Stats struct {
	Version           string             `json:"version"`
	LoadTimestamp     time.Time          `json:"load_timestamp"`
	TotalDatasets     int                `json:"total_datasets"`
	TotalRules        int                `json:"total_rules"`
	TotalMatches      int64              `json:"total_matches"`
	TopMatchedRules   []TopRule          `json:"top_matched_rules"`
	AvgExecutionTimes map[string]float64 `json:"avg_execution_times"`
}

// Registry is safe for concurrent readers during a reload: LoadDatasets
// builds the new snapshot off to the side and swaps it under the lock.
type Registry struct {
	mu sync.RWMutex

	datasets map[string]*types.Dataset
	rules    []ActiveRule // sorted by severity, insertion order within
	version  string
	loadedAt time.Time

	matchCounts map[string]int64
	execTimes   map[string][]float64

	log *zap.Logger
}

// New creates an empty registry at version "0.0.0".
func New(log *zap.Logger) *Registry {
	return &Registry{
		datasets:    make(map[string]*types.Dataset),
		version:     "0.0.0",
		matchCounts: make(map[string]int64),
		execTimes:   make(map[string][]float64),
		log:         log,
	}
}

// LoadDatasets replaces the whole rule set atomically. Only scannable
// rules (active state, enabled) enter the snapshot. Match analytics
// survive the swap so counters span reloads.
func (r *Registry) LoadDatasets(datasets map[string]*types.Dataset) {
	newDatasets := make(map[string]*types.Dataset, len(datasets))
	var newRules []ActiveRule

	names := make([]string, 0, len(datasets))
	for name := range datasets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ds := datasets[name]
		newDatasets[ds.Metadata.Name] = ds
		for _, rule := range ds.Rules {
			if rule.Scannable() {
				newRules = append(newRules, ActiveRule{Rule: rule, Dataset: ds.Metadata.Name})
			}
		}
	}

	// Critical rules first; stable sort preserves dataset order within a
	// severity band.
	sort.SliceStable(newRules, func(i, j int) bool {
		return newRules[i].Severity.Rank() < newRules[j].Severity.Rank()
	})

	version := generateVersion(newDatasets)

	r.mu.Lock()
	r.datasets = newDatasets
	r.rules = newRules
	r.version = version
	r.loadedAt = time.Now()
	r.mu.Unlock()

	r.log.Info("rule set loaded",
		zap.Int("rules", len(newRules)),
		zap.Int("datasets", len(newDatasets)),
		zap.String("version", version))
}

// generateVersion derives a deterministic short version from the loaded
// dataset names and versions: the same datasets always produce the same
// version, regardless of load order.
func generateVersion(datasets map[string]*types.Dataset) string {
	if len(datasets) == 0 {
		return "0.0.0"
	}
	parts := make([]string, 0, len(datasets))
	for _, ds := range datasets {
		parts = append(parts, ds.Metadata.Name+":"+ds.Metadata.Version)
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "ruleset-" + hex.EncodeToString(sum[:])[:8]
}

// ActiveRules returns the current snapshot. Callers must not mutate it.
func (r *Registry) ActiveRules() []ActiveRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rules
}

// Snapshot returns the active rules together with their version as one
// consistent pair. A scan pins this pair at entry so a concurrent reload
// cannot split its evaluation across two rule sets. The slice is never
// mutated after the swap, so holding it past a reload is safe.
func (r *Registry) Snapshot() ([]ActiveRule, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rules, r.version
}

// Rule looks up one active rule by ID.
func (r *Registry) Rule(id string) (ActiveRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if rule.ID == id {
			return rule, true
		}
	}
	return ActiveRule{}, false
}

// RecordMatch notes a rule hit and its evaluation time for analytics.
func (r *Registry) RecordMatch(ruleID string, execTime time.Duration) {
	ms := float64(execTime) / float64(time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matchCounts[ruleID]++
	times := append(r.execTimes[ruleID], ms)
	if len(times) > execTimeWindow {
		times = times[len(times)-execTimeWindow:]
	}
	r.execTimes[ruleID] = times
}

// Stats reports registry analytics including the ten most matched rules.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total int64
	top := make([]TopRule, 0, len(r.matchCounts))
	for id, count := range r.matchCounts {
		total += count
		top = append(top, TopRule{RuleID: id, Count: count})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].RuleID < top[j].RuleID
	})
	if len(top) > 10 {
		top = top[:10]
	}

	avg := make(map[string]float64, len(r.execTimes))
	for id, times := range r.execTimes {
		if len(times) == 0 {
			continue
		}
		sum := 0.0
		for _, t := range times {
			sum += t
		}
		avg[id] = sum / float64(len(times))
	}

	return Stats{
		Version:           r.version,
		LoadTimestamp:     r.loadedAt,
		TotalDatasets:     len(r.datasets),
		TotalRules:        len(r.rules),
		TotalMatches:      total,
		TopMatchedRules:   top,
		AvgExecutionTimes: avg,
	}
}

// Version returns the current rule set version.
func (r *Registry) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// RuleCount returns the number of active rules.
func (r *Registry) RuleCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// DatasetCount returns the number of loaded datasets.
func (r *Registry) DatasetCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.datasets)
}
