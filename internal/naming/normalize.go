// Package naming implements nickname canonicalization and the ENS namehash
// algorithm. Every component that touches a nickname (claims, availability,
// resolution, migration) goes through Canonicalize so that uniqueness,
// storage and hashing all operate on the same byte sequence.
package naming

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/rockfridrich/villa-sub002/internal/domain"
)

// Normalize maps arbitrary user input to the canonical nickname form:
// lowercase, NFD-decompose and strip combining marks, drop every character
// outside [a-z0-9], truncate to the maximum length. Pure and deterministic;
// Normalize(Normalize(x)) == Normalize(x) for all x.
func Normalize(raw string) string {
	decomposed := norm.NFD.String(strings.ToLower(raw))

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}

	// all remaining runes are single-byte ASCII
	s := b.String()
	if len(s) > domain.MAX_NICKNAME_LENGTH {
		s = s[:domain.MAX_NICKNAME_LENGTH]
	}
	return s
}

// Validate checks a canonical nickname against the registry constraints.
// It expects already-normalized input; callers that hold raw user input
// should use Canonicalize instead.
func Validate(normalized string) error {
	if normalized == "" {
		return domain.ErrEmptyAfterNormalization
	}
	for _, r := range normalized {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return domain.ErrInvalidCharset
		}
	}
	if len(normalized) < domain.MIN_NICKNAME_LENGTH || len(normalized) > domain.MAX_NICKNAME_LENGTH {
		return domain.ErrInvalidLength
	}
	return nil
}

// Canonicalize is the single normalize-then-validate path shared by every
// nickname operation. It returns the canonical form or a typed input error.
func Canonicalize(raw string) (string, error) {
	normalized := Normalize(raw)
	if err := Validate(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
