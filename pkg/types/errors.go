package types

import "errors"

// Error kinds surfaced across package boundaries. Components wrap these with
// fmt.Errorf("...: %w", ...) so callers can branch with errors.Is while the
// HTTP layer maps them to status codes.
var (
	// ErrInputInvalid marks an unusable request: empty user input, oversized
	// text, NUL bytes, too many chunks. Maps to 422.
	ErrInputInvalid = errors.New("input invalid")

	// ErrRegexTimeout marks a single rule exceeding its execution budget.
	// The rule is skipped for the current request only.
	ErrRegexTimeout = errors.New("regex timeout")

	// ErrRuleCompile marks a pattern that no engine could compile. The rule
	// is disabled for the lifetime of its dataset.
	ErrRuleCompile = errors.New("rule compile failure")

	// ErrDatasetIntegrity marks a structural or authentication failure while
	// loading a bundle. Under fail-closed the previous snapshot is preserved.
	ErrDatasetIntegrity = errors.New("dataset integrity error")

	// ErrCircuitOpen marks the boundary refusing work after repeated scanner
	// failures. Maps to 503 until the cooldown elapses.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrRateLimited marks a client exceeding its request budget. Maps to 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrAuthFailure marks a missing or wrong API key. Maps to 401.
	ErrAuthFailure = errors.New("authentication failure")
)
