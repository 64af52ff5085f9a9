package catalog

import "strings"

// PublisherRule maps one canonical publisher name to the variant substrings
// that identify it.
type PublisherRule struct {
	Canonical string   `yaml:"canonical" json:"canonical"`
	Variants  []string `yaml:"variants" json:"variants"`
}

// Rules holds every table and bound the cleaner consults.
// Publishers is ordered: the first rule with a matching variant wins.
type Rules struct {
	Publishers   []PublisherRule
	FlagKeywords []string
	RatingMin    float64
	RatingMax    float64
	PagesMin     float64
	PagesMax     float64
}

// UnknownPublisher replaces a missing publisher.
const UnknownPublisher = "Unknown"

// DefaultPublishers is the canonicalization table. Order matters.
func DefaultPublishers() []PublisherRule {
	return []PublisherRule{
		{Canonical: "PENGUIN", Variants: []string{"PENGUIN", "PENGUIN BOOKS", "PENGUIN UK", "PENGUIN RANDOM HOUSE"}},
		{Canonical: "BLOOMSBURY", Variants: []string{"BLOOMSBURY", "BLOOMSBURY PUBLISHING"}},
		{Canonical: "HARPERCOLLINS", Variants: []string{"HARPERCOLLINS", "HARPER COLLINS", "HARPER"}},
		{Canonical: "MACMILLAN", Variants: []string{"MACMILLAN", "PAN MACMILLAN", "MACMILLAN UK"}},
		{Canonical: "ORION", Variants: []string{"ORION", "ORION PUBLISHING"}},
		{Canonical: "FABER", Variants: []string{"FABER", "FABER & FABER", "FABER AND FABER"}},
		{Canonical: "RANDOM HOUSE", Variants: []string{"RANDOM HOUSE", "RANDOMHOUSE"}},
	}
}

// DefaultFlagKeywords marks UK publishers. It is a superset of the canonical
// names above minus RANDOM HOUSE, plus CANONGATE and HACHETTE UK.
func DefaultFlagKeywords() []string {
	return []string{"PENGUIN", "BLOOMSBURY", "HARPERCOLLINS", "MACMILLAN", "ORION", "FABER", "CANONGATE", "HACHETTE UK"}
}

// DefaultRules returns the production rule set.
func DefaultRules() Rules {
	return Rules{
		Publishers:   DefaultPublishers(),
		FlagKeywords: DefaultFlagKeywords(),
		RatingMin:    0,
		RatingMax:    5,
		PagesMin:     10,
		PagesMax:     2000,
	}
}

// CanonicalPublisher maps a raw publisher onto its canonical name.
// Matching is a case-insensitive substring test; unmatched names come back
// trimmed, and an empty name becomes UnknownPublisher.
func CanonicalPublisher(raw string, table []PublisherRule) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UnknownPublisher
	}
	upper := strings.ToUpper(trimmed)
	for _, rule := range table {
		for _, v := range rule.Variants {
			if v != "" && strings.Contains(upper, strings.ToUpper(v)) {
				return rule.Canonical
			}
		}
	}
	return trimmed
}

// IsFlaggedPublisher reports whether the canonical publisher contains any keyword.
func IsFlaggedPublisher(canonical string, keywords []string) bool {
	upper := strings.ToUpper(canonical)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(upper, strings.ToUpper(kw)) {
			return true
		}
	}
	return false
}
