package naming

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockfridrich/villa-sub002/internal/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"already canonical", "alice", "alice"},
		{"uppercase", "ALICE", "alice"},
		{"mixed case", "Alice", "alice"},
		{"digits kept", "agent007", "agent007"},
		{"accents stripped", "Café", "cafe"},
		{"tilde stripped", "ñoño", "nono"},
		{"multiple accents", "Ünïcôdé", "unicode"},
		{"punctuation dropped", "a_l-i.c!e", "alice"},
		{"spaces dropped", "Bob The Builder", "bobthebuilder"},
		{"trailing emoji dropped", "alice😀", "alice"},
		{"emoji only", "😀🔥", ""},
		{"empty input", "", ""},
		{"cyrillic dropped", "пётр99", "99"},
		{"truncated to max", strings.Repeat("ab", 20), strings.Repeat("ab", 15)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"alice", "Alice", "ALICE", "Café", "Ünïcôdé-77",
		"😀", "", "  padded  ", strings.Repeat("x", 64),
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestNormalizeCharset(t *testing.T) {
	// every output rune must be in [a-z0-9], whatever went in
	inputs := []string{"Ωmega", "ÆTHER", "hello world", "< script >", "ÅSA-2024"}
	for _, in := range inputs {
		for _, r := range Normalize(in) {
			ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
			assert.True(t, ok, "rune %q leaked from input %q", r, in)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected error
	}{
		{"valid minimal", "abc", nil},
		{"valid mixed", "alice99", nil},
		{"valid max length", strings.Repeat("a", 30), nil},
		{"empty", "", domain.ErrEmptyAfterNormalization},
		{"one char", "a", domain.ErrInvalidLength},
		{"two chars", "ab", domain.ErrInvalidLength},
		{"too long", strings.Repeat("a", 31), domain.ErrInvalidLength},
		{"uppercase rejected", "Alice", domain.ErrInvalidCharset},
		{"space rejected", "ali ce", domain.ErrInvalidCharset},
		{"dash rejected", "ali-ce", domain.ErrInvalidCharset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.input)
			if tt.expected == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.expected)
			}
		})
	}
}

func TestCanonicalize(t *testing.T) {
	canonical, err := Canonicalize("Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", canonical)

	_, err = Canonicalize("a")
	assert.ErrorIs(t, err, domain.ErrInvalidLength)

	_, err = Canonicalize("🔥🔥🔥")
	assert.ErrorIs(t, err, domain.ErrEmptyAfterNormalization)

	// canonicalization of an already canonical name is a no-op
	again, err := Canonicalize(canonical)
	require.NoError(t, err)
	assert.Equal(t, canonical, again)
}
