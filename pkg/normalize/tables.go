package normalize

import "strings"

// homoglyphs maps Cyrillic and Greek look-alikes to ASCII equivalents.
// The table is fixed; it mirrors the characters most commonly abused to
// smuggle keywords past literal matching.
var homoglyphs = map[rune]string{
	// Cyrillic lowercase
	'а': "a", 'е': "e", 'о': "o", 'р': "p", 'с': "c", 'у': "y", 'х': "x",
	// Cyrillic uppercase
	'А': "A", 'В': "B", 'Е': "E", 'К': "K", 'М': "M", 'Н': "H", 'О': "O",
	'Р': "P", 'С': "C", 'Т': "T", 'Х': "X",
	// Greek lowercase
	'α': "a", 'β': "b", 'γ': "g", 'δ': "d", 'ε': "e", 'ζ': "z", 'η': "h",
	'θ': "th", 'ι': "i", 'κ': "k", 'λ': "l", 'μ': "m", 'ν': "n", 'ξ': "x",
	'ο': "o", 'π': "p", 'ρ': "r", 'σ': "s", 'τ': "t", 'υ': "u", 'φ': "f",
	'χ': "ch", 'ψ': "ps", 'ω': "o",
	// Greek uppercase
	'Α': "A", 'Β': "B", 'Γ': "G", 'Δ': "D", 'Ε': "E", 'Ζ': "Z", 'Η': "H",
	'Θ': "TH", 'Ι': "I", 'Κ': "K", 'Λ': "L", 'Μ': "M", 'Ν': "N", 'Ξ': "X",
	'Ο': "O", 'Π': "P", 'Ρ': "R", 'Σ': "S", 'Τ': "T", 'Υ': "U", 'Φ': "F",
	'Χ': "CH", 'Ψ': "PS", 'Ω': "O",
}

func foldHomoglyphs(text string) string {
	var b strings.Builder
	changed := false
	b.Grow(len(text))
	for _, r := range text {
		if ascii, ok := homoglyphs[r]; ok {
			b.WriteString(ascii)
			changed = true
		} else {
			b.WriteRune(r)
		}
	}
	if !changed {
		return text
	}
	return b.String()
}

// separators maps assorted dash and bullet glyphs to a plain hyphen.
var separators = map[rune]bool{
	0x2022: true, // bullet
	0x2023: true, // triangular bullet
	0x2043: true, // hyphen bullet
	0x204C: true, // black leftwards bullet
	0x204D: true, // black rightwards bullet
	0x2212: true, // minus sign
	0x2013: true, // en dash
	0x2014: true, // em dash
	0x2015: true, // horizontal bar
}

func unifySeparators(text string) string {
	return strings.Map(func(r rune) rune {
		if separators[r] {
			return '-'
		}
		return r
	}, text)
}
