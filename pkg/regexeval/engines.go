package regexeval

import (
	"fmt"
	"regexp"
	"time"

	"github.com/coregx/coregex"
	"github.com/dlclark/regexp2"

	"github.com/promptgate/promptgate/pkg/types"
)

// Engine identifies which implementation ended up executing a pattern.
type Engine int

const (
	// EngineLinear is a linear-time engine; budgets are ignored because
	// linearity is the ReDoS guarantee.
	EngineLinear Engine = iota
	// EnginePCRE is a backtracking Perl-compatible engine with extended
	// Unicode support and a hard match timeout.
	EnginePCRE
	// EngineStd is the standard library engine.
	EngineStd
)

func (e Engine) String() string {
	switch e {
	case EngineLinear:
		return "linear"
	case EnginePCRE:
		return "pcre"
	case EngineStd:
		return "std"
	}
	return "unknown"
}

// engineOrder returns the fallback chain starting at the configured engine.
// The chain never climbs back up the priority list.
func engineOrder(preferred string) []Engine {
	switch preferred {
	case "pcre", "regexp2":
		return []Engine{EnginePCRE, EngineStd}
	case "std", "re":
		return []Engine{EngineStd}
	default:
		return []Engine{EngineLinear, EnginePCRE, EngineStd}
	}
}

// compiled is one pattern bound to the engine that accepted it.
type compiled struct {
	engine Engine
	linear *coregex.Regex
	pcre   *regexp2.Regexp
	std    *regexp.Regexp
}

// Engine reports which engine compiled this pattern.
func (c *compiled) Engine() Engine { return c.engine }

func compileChain(pattern string, flags Flags, order []Engine, timeout time.Duration) (*compiled, error) {
	var lastErr error
	for _, eng := range order {
		c, err := compileOne(pattern, flags, eng, timeout)
		if err == nil {
			return c, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %q: %v", types.ErrRuleCompile, pattern, lastErr)
}

func compileOne(pattern string, flags Flags, eng Engine, timeout time.Duration) (*compiled, error) {
	switch eng {
	case EngineLinear:
		re, err := coregex.Compile(inlineFlags(flags) + pattern)
		if err != nil {
			return nil, err
		}
		return &compiled{engine: EngineLinear, linear: re}, nil
	case EnginePCRE:
		re, err := regexp2.Compile(pattern, regexp2Options(flags))
		if err != nil {
			return nil, err
		}
		re.MatchTimeout = timeout
		return &compiled{engine: EnginePCRE, pcre: re}, nil
	default:
		re, err := regexp.Compile(inlineFlags(flags) + pattern)
		if err != nil {
			return nil, err
		}
		return &compiled{engine: EngineStd, std: re}, nil
	}
}

// inlineFlags renders Flags as an inline modifier group for RE2-syntax engines.
func inlineFlags(flags Flags) string {
	if flags == 0 {
		return ""
	}
	mods := ""
	if flags&IgnoreCase != 0 {
		mods += "i"
	}
	if flags&DotAll != 0 {
		mods += "s"
	}
	if flags&Multiline != 0 {
		mods += "m"
	}
	return "(?" + mods + ")"
}

func regexp2Options(flags Flags) regexp2.RegexOptions {
	opts := regexp2.None
	if flags&IgnoreCase != 0 {
		opts |= regexp2.IgnoreCase
	}
	if flags&DotAll != 0 {
		opts |= regexp2.Singleline
	}
	if flags&Multiline != 0 {
		opts |= regexp2.Multiline
	}
	return opts
}

func (c *compiled) search(text string, budget time.Duration) (*Match, error) {
	switch c.engine {
	case EngineLinear:
		idx := c.linear.FindStringIndex(text)
		if idx == nil {
			return nil, nil
		}
		return &Match{Text: text[idx[0]:idx[1]], Start: idx[0], End: idx[1]}, nil
	case EnginePCRE:
		start := time.Now()
		m, err := c.pcre.FindStringMatch(text)
		if err != nil {
			return nil, timeoutErr(budget)
		}
		if elapsed := time.Since(start); elapsed > budget {
			return nil, timeoutErr(budget)
		}
		if m == nil {
			return nil, nil
		}
		return &Match{Text: m.String(), Start: m.Index, End: m.Index + m.Length}, nil
	default:
		idx := c.std.FindStringIndex(text)
		if idx == nil {
			return nil, nil
		}
		return &Match{Text: text[idx[0]:idx[1]], Start: idx[0], End: idx[1]}, nil
	}
}

func (c *compiled) findAll(text string, budget time.Duration) ([]Match, error) {
	switch c.engine {
	case EngineLinear:
		var out []Match
		for _, idx := range c.linear.FindAllStringIndex(text, -1) {
			out = append(out, Match{Text: text[idx[0]:idx[1]], Start: idx[0], End: idx[1]})
		}
		return out, nil
	case EnginePCRE:
		start := time.Now()
		var out []Match
		m, err := c.pcre.FindStringMatch(text)
		for m != nil && err == nil {
			out = append(out, Match{Text: m.String(), Start: m.Index, End: m.Index + m.Length})
			if time.Since(start) > budget {
				return nil, timeoutErr(budget)
			}
			m, err = c.pcre.FindNextMatch(m)
		}
		if err != nil {
			return nil, timeoutErr(budget)
		}
		if elapsed := time.Since(start); elapsed > budget {
			return nil, timeoutErr(budget)
		}
		return out, nil
	default:
		var out []Match
		for _, idx := range c.std.FindAllStringIndex(text, -1) {
			out = append(out, Match{Text: text[idx[0]:idx[1]], Start: idx[0], End: idx[1]})
		}
		return out, nil
	}
}
