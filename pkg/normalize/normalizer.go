// Package normalize cleans raw input text before code detection and rule
// matching. The pipeline runs ten ordered stages, each individually
// disableable by name, and is idempotent: normalize(normalize(s)) ==
// normalize(s).
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Stage names accepted by the disable list, in pipeline order.
const (
	StageUnicodeNFKC  = "unicode_nfkc"
	StageZeroWidth    = "zero_width"
	StageBidi         = "bidi"
	StageWhitespace   = "whitespace"
	StageHomoglyphs   = "homoglyphs"
	StageEmoji        = "emoji"
	StageBase64       = "base64"
	StagePDFArtifacts = "pdf_artifacts"
	StageSeparators   = "separators"
	StageControlChars = "control_chars"
)

// StageNames lists all stages in execution order.
func StageNames() []string {
	return []string{
		StageUnicodeNFKC, StageZeroWidth, StageBidi, StageWhitespace,
		StageHomoglyphs, StageEmoji, StageBase64, StagePDFArtifacts,
		StageSeparators, StageControlChars,
	}
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	base64Blob    = regexp.MustCompile(`[A-Za-z0-9+/]{50,}={0,2}`)
	softHyphenEOL = regexp.MustCompile(`-\s*\n\s*`)
	newlineRun    = regexp.MustCompile(`\n{3,}`)

	// Emoji runs are elided together with surrounding spaces so a second
	// pass over the output is a no-op.
	emojiRun = regexp.MustCompile(`[ ]*[` +
		`\x{1F600}-\x{1F64F}` + // emoticons
		`\x{1F300}-\x{1F5FF}` + // symbols & pictographs
		`\x{1F680}-\x{1F6FF}` + // transport & map symbols
		`\x{1F1E0}-\x{1F1FF}` + // regional indicators
		`\x{2702}-\x{27B0}` +
		`\x{24C2}-\x{1F251}` +
		`]+[ ]*`)
)

// Normalizer applies the pipeline with a configured set of disabled stages.
type Normalizer struct {
	enabled  bool
	disabled map[string]bool
}

// New builds a normalizer. disabledSteps holds stage names to skip.
func New(enabled bool, disabledSteps []string) *Normalizer {
	disabled := make(map[string]bool, len(disabledSteps))
	for _, s := range disabledSteps {
		disabled[s] = true
	}
	return &Normalizer{enabled: enabled, disabled: disabled}
}

// Normalize runs all enabled stages over text in order.
func (n *Normalizer) Normalize(text string) string {
	if !n.enabled {
		return text
	}
	if !n.disabled[StageUnicodeNFKC] {
		text = norm.NFKC.String(text)
	}
	if !n.disabled[StageZeroWidth] {
		text = stripRunes(text, isZeroWidth)
	}
	if !n.disabled[StageBidi] {
		text = stripRunes(text, isBidiControl)
	}
	if !n.disabled[StageWhitespace] {
		text = strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
	}
	if !n.disabled[StageHomoglyphs] {
		text = foldHomoglyphs(text)
	}
	if !n.disabled[StageEmoji] {
		text = elideEmoji(text)
	}
	if !n.disabled[StageBase64] {
		text = base64Blob.ReplaceAllString(text, "[BASE64_REMOVED]")
	}
	if !n.disabled[StagePDFArtifacts] {
		text = softHyphenEOL.ReplaceAllString(text, "")
		text = newlineRun.ReplaceAllString(text, "\n\n")
	}
	if !n.disabled[StageSeparators] {
		text = unifySeparators(text)
	}
	if !n.disabled[StageControlChars] {
		text = stripRunes(text, isStrippableControl)
	}
	return text
}

func stripRunes(text string, drop func(rune) bool) string {
	// Fast path: nothing to strip.
	if strings.IndexFunc(text, drop) < 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if !drop(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isZeroWidth(r rune) bool {
	switch r {
	case 0x200B, 0x200C, 0x200D, 0x2060, 0xFEFF, 0x180E:
		return true
	}
	return false
}

func isBidiControl(r rune) bool {
	return (r >= 0x202A && r <= 0x202E) || (r >= 0x2066 && r <= 0x2069)
}

// isStrippableControl drops Unicode category C characters, keeping the
// whitespace controls rule patterns rely on.
func isStrippableControl(r rune) bool {
	if r == '\n' || r == '\r' || r == '\t' {
		return false
	}
	return unicode.In(r, unicode.C)
}

func elideEmoji(text string) string {
	trimmed := emojiRun.ReplaceAllString(text, " ")
	if trimmed == text {
		return text
	}
	return strings.TrimSpace(trimmed)
}
