// Package identity derives the canonical identity key used to deduplicate and
// join book records across datasets.
//
// A key is either a normalized ISBN (10 or 13 characters of A-Z/0-9) or, when
// no valid ISBN exists, a composite key built from title and primary author:
//
//	COMP_<TITLE up to 30 chars>_<AUTHOR up to 20 chars>
//
// Records for which neither form can be built have no identity and are dropped
// by the caller.
package identity

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Composite key layout.
const (
	CompositePrefix    = "COMP"
	CompositeSeparator = "_"
	MaxTitleLen        = 30
	MaxAuthorLen       = 20
)

// Valid normalized identifier lengths.
const (
	ShortLen = 10
	LongLen  = 13
)

// Key is a resolved identity.
type Key struct {
	// Value is the identity key used for dedupe and joins.
	Value string
	// Identifier is the normalized ISBN, empty when Value is composite.
	Identifier string
	// Composite is true when Value was built from title and author.
	Composite bool
}

// clean uppercases s with full Unicode case mapping ("ß" becomes "SS") and
// removes every character outside A-Z and 0-9. A Caser holds state, so each
// call gets its own.
func clean(s string) string {
	upper := cases.Upper(language.Und).String(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(upper))
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeIdentifier normalizes a raw ISBN.
// - " 0-439-70818-4 " → "0439708184"
// - "978-0439708180" → "9780439708180"
// - "043970818x" → "043970818X"
// Any result whose length is not 10 or 13 yields ("", false).
func NormalizeIdentifier(raw string) (string, bool) {
	c := clean(raw)
	if len(c) != ShortLen && len(c) != LongLen {
		return "", false
	}
	return c, true
}

// PreferredIdentifier returns the normalized long form when valid, otherwise
// the normalized short form.
func PreferredIdentifier(rawLong, rawShort string) (string, bool) {
	if id, ok := NormalizeIdentifier(rawLong); ok {
		return id, true
	}
	return NormalizeIdentifier(rawShort)
}

// PrimaryAuthor returns the first comma-delimited segment of an author list.
func PrimaryAuthor(authors string) string {
	first, _, _ := strings.Cut(authors, ",")
	return first
}

// CompositeKey builds the fallback key from a title and an author list.
// Returns ("", false) when either part is empty after cleaning.
func CompositeKey(title, authors string) (string, bool) {
	t := clean(title)
	a := clean(PrimaryAuthor(authors))
	if t == "" || a == "" {
		return "", false
	}
	if len(t) > MaxTitleLen {
		t = t[:MaxTitleLen]
	}
	if len(a) > MaxAuthorLen {
		a = a[:MaxAuthorLen]
	}
	return CompositePrefix + CompositeSeparator + t + CompositeSeparator + a, true
}

// Resolve assigns an identity to a catalog record. The long identifier wins over
// the short one; the composite key is used only when neither is valid.
func Resolve(rawLong, rawShort, title, authors string) (Key, bool) {
	if id, ok := PreferredIdentifier(rawLong, rawShort); ok {
		return Key{Value: id, Identifier: id}, true
	}
	if comp, ok := CompositeKey(title, authors); ok {
		return Key{Value: comp, Composite: true}, true
	}
	return Key{}, false
}

// IsComposite reports whether key was produced by CompositeKey.
func IsComposite(key string) bool {
	return strings.HasPrefix(key, CompositePrefix+CompositeSeparator)
}
