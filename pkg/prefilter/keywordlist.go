package prefilter

import "strings"

// KeywordList is the legacy substring prefilter driven by a fixed,
// configured keyword set. It runs over normalized text as a cheap second
// gate when the hybrid prefilter is disabled or inconclusive.
type KeywordList struct {
	keywords []string
}

// NewKeywordList lowercases and stores the configured keywords.
func NewKeywordList(keywords []string) *KeywordList {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return &KeywordList{keywords: out}
}

// Contains reports whether any configured keyword occurs in text.
func (k *KeywordList) Contains(text string) bool {
	if len(k.keywords) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range k.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
