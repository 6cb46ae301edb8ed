package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEmptyInput(t *testing.T) {
	p := PreparedInput{UserInput: "   \t  "}
	err := p.Validate(100, 10)
	assert.ErrorIs(t, err, ErrInputInvalid)
}

func TestValidateTooLong(t *testing.T) {
	p := PreparedInput{UserInput: strings.Repeat("a", 101)}
	err := p.Validate(100, 10)
	assert.ErrorIs(t, err, ErrInputInvalid)
}

func TestValidateNulByte(t *testing.T) {
	p := PreparedInput{UserInput: "hello\x00world"}
	err := p.Validate(100, 10)
	assert.ErrorIs(t, err, ErrInputInvalid)
}

func TestValidateDropsEmptyChunks(t *testing.T) {
	p := PreparedInput{
		UserInput:      "hello",
		ExternalChunks: []string{"one", "  ", "", "two"},
	}
	require.NoError(t, p.Validate(100, 10))
	assert.Equal(t, []string{"one", "two"}, p.ExternalChunks)
}

func TestValidateTooManyChunks(t *testing.T) {
	p := PreparedInput{
		UserInput:      "hello",
		ExternalChunks: []string{"a", "b", "c"},
	}
	err := p.Validate(100, 2)
	assert.ErrorIs(t, err, ErrInputInvalid)
}

func TestValidateOK(t *testing.T) {
	p := PreparedInput{UserInput: "hello"}
	assert.NoError(t, p.Validate(100, 10))
}

func TestSeverityRank(t *testing.T) {
	assert.Less(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Equal(t, 99, Severity("bogus").Rank())
}

func TestScannable(t *testing.T) {
	r := Rule{State: StateActive, Enabled: true}
	assert.True(t, r.Scannable())

	r.Enabled = false
	assert.False(t, r.Scannable())

	r = Rule{State: StateDeprecated, Enabled: true}
	assert.False(t, r.Scannable())
}
