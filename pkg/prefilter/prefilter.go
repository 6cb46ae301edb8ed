// Package prefilter rejects obviously clean inputs before regex scanning.
//
// The filter runs two stages: a bloom filter over literal keywords pulled
// out of rule patterns, then an Aho-Corasick automaton that confirms the
// bloom hit. A miss at either stage means no rule pattern can match.
package prefilter

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/cloudflare/ahocorasick"
	"go.uber.org/zap"

	"github.com/promptgate/promptgate/pkg/types"
)

const (
	minKeywordLen = 3
	windowLen     = 10
)

var (
	metachars    = regexp.MustCompile(`[\^$*+?{}()\[\]|\\]`)
	doubleQuoted = regexp.MustCompile(`"([^"]{3,})"`)
	singleQuoted = regexp.MustCompile(`'([^']{3,})'`)
)

// Hybrid is the two-stage prefilter. A zero value is disabled and passes
// everything through to the scanner.
type Hybrid struct {
	bloom     *bloomFilter
	automaton *ahocorasick.Matcher
	keywords  []string
	lengths   []int // distinct bloom key lengths, ascending
	enabled   bool

	capacity  int
	errorRate float64
	log       *zap.Logger
}

// NewHybrid builds an empty prefilter; call BuildFromRules to arm it.
func NewHybrid(capacity int, errorRate float64, log *zap.Logger) *Hybrid {
	return &Hybrid{capacity: capacity, errorRate: errorRate, log: log}
}

// BuildFromRules extracts literal keywords from every rule pattern and
// rebuilds both stages. With no extractable keywords the prefilter
// disables itself so every input reaches the scanner.
func (h *Hybrid) BuildFromRules(rules []types.Rule) {
	set := make(map[string]bool)
	for _, r := range rules {
		for _, kw := range ExtractKeywords(r.Pattern) {
			set[kw] = true
		}
	}

	if len(set) == 0 {
		h.log.Warn("no keywords extracted from rules, prefilter disabled")
		h.enabled = false
		h.bloom = nil
		h.automaton = nil
		h.keywords = nil
		h.lengths = nil
		return
	}

	keywords := make([]string, 0, len(set))
	bloom := newBloomFilter(h.capacity, h.errorRate)
	lengthSet := make(map[int]bool)
	for kw := range set {
		keywords = append(keywords, kw)
		key := bloomKey(kw)
		bloom.Add(key)
		lengthSet[len(key)] = true
	}
	lengths := make([]int, 0, len(lengthSet))
	for l := range lengthSet {
		lengths = append(lengths, l)
	}
	sort.Ints(lengths)

	h.bloom = bloom
	h.automaton = ahocorasick.NewStringMatcher(keywords)
	h.keywords = keywords
	h.lengths = lengths
	h.enabled = true

	h.log.Info("prefilter built",
		zap.Int("keywords", len(keywords)),
		zap.Int("bloom_bits_set", bloom.SetBits()))
}

// ExtractKeywords pulls literal substrings out of a regex pattern: tokens
// of length >= 3 containing a letter after metacharacter removal, plus
// quoted literals. All keywords are lowercased.
func ExtractKeywords(pattern string) []string {
	set := make(map[string]bool)

	cleaned := metachars.ReplaceAllString(pattern, " ")
	for _, token := range strings.Fields(cleaned) {
		if len(token) >= minKeywordLen && hasLetter(token) && !allDigits(token) {
			set[strings.ToLower(token)] = true
		}
	}
	for _, m := range doubleQuoted.FindAllStringSubmatch(pattern, -1) {
		set[strings.ToLower(m[1])] = true
	}
	for _, m := range singleQuoted.FindAllStringSubmatch(pattern, -1) {
		set[strings.ToLower(m[1])] = true
	}

	out := make([]string, 0, len(set))
	for kw := range set {
		out = append(out, kw)
	}
	return out
}

// MightMatch reports whether text could match any rule. A false result is
// authoritative: no rule keyword occurs in text. The returned keyword is
// the automaton hit that forced a full scan, empty when the prefilter is
// disabled.
func (h *Hybrid) MightMatch(text string) (bool, string) {
	if !h.enabled {
		return true, ""
	}

	lower := strings.ToLower(text)
	if !h.bloomCheck(lower) {
		return false, ""
	}

	hits := h.automaton.MatchThreadSafe([]byte(lower))
	if len(hits) == 0 {
		return false, ""
	}
	return true, h.keywords[hits[0]]
}

// bloomKey is the string inserted into the bloom filter for a keyword:
// the keyword itself, or its windowLen-byte prefix when longer. Probing
// slides a window of each key length over the input, so a keyword is
// found even when normalization glued it into a longer token.
func bloomKey(kw string) string {
	if len(kw) > windowLen {
		return kw[:windowLen]
	}
	return kw
}

// bloomCheck probes a sliding window at every distinct key length. Any
// keyword occurrence in lower lands exactly on one of those windows, so
// a miss here is a true negative (modulo the automaton confirming hits).
func (h *Hybrid) bloomCheck(lower string) bool {
	for _, l := range h.lengths {
		for i := 0; i+l <= len(lower); i++ {
			if h.bloom.MayContain(lower[i : i+l]) {
				return true
			}
		}
	}
	return false
}

// Enabled reports whether the prefilter is armed.
func (h *Hybrid) Enabled() bool { return h.enabled }

// KeywordCount returns the number of distinct keywords loaded.
func (h *Hybrid) KeywordCount() int { return len(h.keywords) }

// Stats summarizes the prefilter for the stats endpoint.
func (h *Hybrid) Stats() map[string]any {
	stats := map[string]any{
		"enabled":       h.enabled,
		"keyword_count": len(h.keywords),
	}
	if h.enabled {
		stats["bloom_bits_set"] = h.bloom.SetBits()
	}
	return stats
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

func allDigits(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
}
