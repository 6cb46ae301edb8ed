// Package regexeval executes rule patterns safely.
//
// Three engines are supported in priority order: a linear-time engine
// (coregex), a Perl-compatible engine with a hard match timeout (regexp2),
// and the standard library. The configured engine is tried first and each
// pattern falls back down the chain until one compiles. Compiled patterns
// are cached by (pattern, flags) for the lifetime of a rule snapshot.
package regexeval

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/promptgate/promptgate/pkg/types"
)

// Flags adjust pattern compilation across all engines.
type Flags int

const (
	IgnoreCase Flags = 1 << iota
	DotAll
	Multiline
)

// Match is one pattern hit.
type Match struct {
	Text  string
	Start int
	End   int
}

// Evaluator compiles and runs patterns with ReDoS protection.
type Evaluator struct {
	engine  string        // preferred engine: "linear", "pcre", or "std"
	timeout time.Duration // default budget for backtracking engines

	mu       sync.RWMutex
	cache    map[cacheKey]*compiled
	timeouts map[string]int64 // pattern -> timeout count
}

type cacheKey struct {
	pattern string
	flags   Flags
}

// New creates an evaluator. engine selects the preferred engine; timeout is
// the default per-call budget applied to backtracking engines only.
func New(engine string, timeout time.Duration) *Evaluator {
	return &Evaluator{
		engine:   engine,
		timeout:  timeout,
		cache:    make(map[cacheKey]*compiled),
		timeouts: make(map[string]int64),
	}
}

// Compile compiles pattern under the engine fallback chain and caches the
// result. Returns types.ErrRuleCompile when no engine accepts the pattern.
func (e *Evaluator) Compile(pattern string, flags Flags) (*compiled, error) {
	key := cacheKey{pattern, flags}

	e.mu.RLock()
	c, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return c, nil
	}

	c, err := compileChain(pattern, flags, engineOrder(e.engine), e.timeout)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[key] = c
	e.mu.Unlock()
	return c, nil
}

// Search finds the first occurrence of pattern in text. A nil Match with nil
// error means no match. budget overrides the default timeout when > 0; it is
// ignored for linear-time engines.
func (e *Evaluator) Search(pattern, text string, flags Flags, budget time.Duration) (*Match, error) {
	c, err := e.Compile(pattern, flags)
	if err != nil {
		return nil, err
	}
	if budget <= 0 {
		budget = e.timeout
	}
	m, err := c.search(text, budget)
	if err != nil {
		e.noteTimeout(pattern, err)
		return nil, err
	}
	return m, nil
}

// FindAll returns every non-overlapping occurrence of pattern in text.
func (e *Evaluator) FindAll(pattern, text string, flags Flags, budget time.Duration) ([]Match, error) {
	c, err := e.Compile(pattern, flags)
	if err != nil {
		return nil, err
	}
	if budget <= 0 {
		budget = e.timeout
	}
	ms, err := c.findAll(text, budget)
	if err != nil {
		e.noteTimeout(pattern, err)
		return nil, err
	}
	return ms, nil
}

// ClearCache drops all compiled patterns. Called on rule reload so the cache
// stays bounded to one snapshot's lifetime.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[cacheKey]*compiled)
	e.mu.Unlock()
}

// CacheSize returns the number of cached compiled patterns.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// TimeoutCounts returns a copy of the per-pattern timeout counters.
func (e *Evaluator) TimeoutCounts() map[string]int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]int64, len(e.timeouts))
	for k, v := range e.timeouts {
		out[k] = v
	}
	return out
}

func (e *Evaluator) noteTimeout(pattern string, err error) {
	if !IsTimeout(err) {
		return
	}
	e.mu.Lock()
	e.timeouts[pattern]++
	e.mu.Unlock()
}

// IsTimeout reports whether err is a regex budget exhaustion.
func IsTimeout(err error) bool {
	return errors.Is(err, types.ErrRegexTimeout)
}

func timeoutErr(budget time.Duration) error {
	return fmt.Errorf("%w: execution exceeded %s", types.ErrRegexTimeout, budget)
}
