package types

import (
	"fmt"
	"strings"
)

// PreparedInput is the request contract for one scan.
type PreparedInput struct {
	UserInput      string            `json:"user_input"`
	ExternalChunks []string          `json:"external_chunks,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Validate enforces the input invariants and normalizes the chunk list.
// Empty chunks are dropped in place; limits of 0 disable the corresponding check.
func (p *PreparedInput) Validate(maxInputLength, maxChunks int) error {
	if strings.TrimSpace(p.UserInput) == "" {
		return fmt.Errorf("%w: user_input cannot be empty", ErrInputInvalid)
	}
	if maxInputLength > 0 && len(p.UserInput) > maxInputLength {
		return fmt.Errorf("%w: user_input exceeds %d characters", ErrInputInvalid, maxInputLength)
	}
	if strings.ContainsRune(p.UserInput, 0) {
		return fmt.Errorf("%w: user_input contains NUL bytes", ErrInputInvalid)
	}

	if p.ExternalChunks != nil {
		kept := p.ExternalChunks[:0]
		for _, chunk := range p.ExternalChunks {
			if strings.TrimSpace(chunk) != "" {
				kept = append(kept, chunk)
			}
		}
		p.ExternalChunks = kept
	}
	if maxChunks > 0 && len(p.ExternalChunks) > maxChunks {
		return fmt.Errorf("%w: too many external chunks (%d > %d)", ErrInputInvalid, len(p.ExternalChunks), maxChunks)
	}
	return nil
}
