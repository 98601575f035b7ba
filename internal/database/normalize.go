package database

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics strips diacritical marks from a string
// (e.g. "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeName normalizes a human-entered name (session titles,
// locations) for comparison: lowercase, no diacritics, dashes to
// spaces. "main-hall" and "Main Hall" resolve to the same place.
func NormalizeName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	return strings.TrimSpace(name)
}

// NameSlug renders a normalized name as a filesystem/URL-safe slug,
// used in certificate artifact paths.
func NameSlug(name string) string {
	return strings.ReplaceAll(NormalizeName(name), " ", "-")
}
