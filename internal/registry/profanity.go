package registry

import (
	"fmt"
	"os"
	"strings"

	"github.com/rockfridrich/villa-sub002/internal/adapter"
)

// ProfanityRegistry defines the interface for profanity screening of
// normalized nicknames
//
//go:generate mockgen -source=profanity.go -destination=../mocks/profanity_registry.go -package=mocks -mock_names=ProfanityRegistry=MockProfanityRegistry
type ProfanityRegistry interface {
	// IsProfane checks if a normalized nickname contains a banned term
	IsProfane(normalized string) bool

	// Size returns the number of banned terms loaded
	Size() int
}

// ProfanityData represents the structure of the profanity_list.json file:
// a flat list of banned terms
type ProfanityData []string

// profanityRegistry is the internal implementation of ProfanityRegistry
type profanityRegistry struct {
	terms []string
}

// LoadProfanityList loads the profanity registry from a JSON file.
// A missing file yields an empty registry so deployments without a curated
// list still boot; callers should log that condition via Size().
func LoadProfanityList(fs adapter.FileSystem, js adapter.JSON, filePath string) (ProfanityRegistry, error) {
	data, err := fs.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &profanityRegistry{}, nil
		}
		return nil, fmt.Errorf("failed to read profanity list file: %w", err)
	}

	var profanityData ProfanityData
	if err := js.Unmarshal(data, &profanityData); err != nil {
		return nil, fmt.Errorf("failed to parse profanity list JSON: %w", err)
	}

	reg := &profanityRegistry{
		terms: make([]string, 0, len(profanityData)),
	}

	for _, term := range profanityData {
		normalized := strings.ToLower(strings.TrimSpace(term))
		if normalized == "" {
			continue
		}
		reg.terms = append(reg.terms, normalized)
	}

	return reg, nil
}

// IsProfane checks if a normalized nickname contains a banned term.
// Matching is substring-based: "admin1ster" is rejected when "admin" is
// banned. Input is expected to be already lowercased by normalization.
func (r *profanityRegistry) IsProfane(normalized string) bool {
	if r == nil {
		return false
	}
	for _, term := range r.terms {
		if strings.Contains(normalized, term) {
			return true
		}
	}
	return false
}

// Size returns the number of banned terms loaded
func (r *profanityRegistry) Size() int {
	if r == nil {
		return 0
	}
	return len(r.terms)
}
