package codedetect

// languageKeywords is the union of reserved words across six common
// languages. Membership is checked per lowercased token.
var languageKeywords = buildKeywordSet(
	// python
	[]string{
		"def", "class", "import", "from", "return", "if", "else", "elif",
		"for", "while", "try", "except", "finally", "with", "as", "lambda",
		"yield", "async", "await", "raise", "assert", "pass", "break", "continue",
	},
	// javascript
	[]string{
		"function", "const", "let", "var", "return", "if", "else", "for",
		"while", "switch", "case", "break", "continue", "try", "catch",
		"finally", "async", "await", "class", "extends", "import", "export",
	},
	// java
	[]string{
		"public", "private", "protected", "class", "interface", "extends",
		"implements", "static", "final", "void", "return", "if", "else",
		"for", "while", "switch", "case", "try", "catch", "finally", "throw",
	},
	// sql
	[]string{
		"select", "from", "where", "insert", "update", "delete", "create",
		"drop", "alter", "table", "join", "inner", "outer", "left", "right",
		"group", "order", "by", "having", "limit", "offset",
	},
	// go
	[]string{
		"func", "package", "import", "type", "struct", "interface", "return",
		"if", "else", "for", "range", "switch", "case", "defer", "go",
		"chan", "select", "var", "const",
	},
	// rust
	[]string{
		"fn", "let", "mut", "const", "static", "struct", "enum", "impl",
		"trait", "type", "use", "mod", "pub", "if", "else", "match",
		"loop", "while", "for", "return", "break", "continue",
	},
)

func buildKeywordSet(lists ...[]string) map[string]bool {
	set := make(map[string]bool)
	for _, list := range lists {
		for _, kw := range list {
			set[kw] = true
		}
	}
	return set
}
