// Package codedetect decides whether input is source code so that
// legitimate code can bypass rule scanning.
package codedetect

import (
	"regexp"
	"strings"
)

var (
	// Whitespace normalization upstream may have collapsed the newline
	// after the opening fence, so the delimiter alone decides.
	fencedBlock  = regexp.MustCompile("(?s)```\\w*\\s?.*?```")
	indentedLine = regexp.MustCompile(`(?m)^(?:    |\t)`)
	wordToken    = regexp.MustCompile(`\b\w+\b`)
)

const codePunctuation = "{}[]();:,.<>!@#$%^&*-+=|\\/?"

// Result carries the detection verdict.
type Result struct {
	IsCode     bool
	Confidence float64
	Reason     string
}

// Detector combines three weighted heuristics over the input. Any fenced
// code block short-circuits to a confident positive.
type Detector struct {
	enabled   bool
	threshold float64
}

// New builds a detector with the given confidence threshold.
func New(enabled bool, threshold float64) *Detector {
	return &Detector{enabled: enabled, threshold: threshold}
}

// Detect scores text and reports whether it crosses the code threshold.
func (d *Detector) Detect(text string) Result {
	if !d.enabled {
		return Result{Reason: "code_detection_disabled"}
	}

	if fencedBlock.MatchString(text) {
		return Result{IsCode: true, Confidence: 1.0, Reason: "fenced_code_block"}
	}

	indent := indentScore(text)
	punct := punctuationScore(text)
	keyword := keywordScore(text)

	confidence := 0.4*indent + 0.3*punct + 0.3*keyword

	return Result{
		IsCode:     confidence >= d.threshold,
		Confidence: confidence,
		Reason:     dominantReason(indent, punct, keyword),
	}
}

// indentScore is the fraction of non-blank lines starting with four spaces
// or a tab, mapped piecewise.
func indentScore(text string) float64 {
	indented := len(indentedLine.FindAllString(text, -1))
	total := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return piecewise(float64(indented)/float64(total), 0.5, 0.3, 0.1)
}

// punctuationScore is the ratio of code-characteristic punctuation to
// non-whitespace characters, mapped piecewise.
func punctuationScore(text string) float64 {
	punct, total := 0, 0
	for _, r := range text {
		if r == ' ' || r == '\n' {
			continue
		}
		total++
		if strings.ContainsRune(codePunctuation, r) {
			punct++
		}
	}
	if total == 0 {
		return 0
	}
	return piecewise(float64(punct)/float64(total), 0.3, 0.2, 0.1)
}

// keywordScore is the fraction of tokens that are keywords of one of six
// common languages, mapped piecewise.
func keywordScore(text string) float64 {
	words := wordToken.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		if languageKeywords[w] {
			hits++
		}
	}
	return piecewise(float64(hits)/float64(len(words)), 0.2, 0.1, 0.05)
}

func piecewise(ratio, full, strong, weak float64) float64 {
	switch {
	case ratio >= full:
		return 1.0
	case ratio >= strong:
		return 0.7
	case ratio >= weak:
		return 0.4
	default:
		return 0
	}
}

func dominantReason(indent, punct, keyword float64) string {
	top, reason := indent, "indentation"
	if punct > top {
		top, reason = punct, "token_ratio"
	}
	if keyword > top {
		reason = "keywords"
	}
	return "code_detected_" + reason
}
