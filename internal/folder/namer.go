// Package folder canonicalizes free-text destination paths into the
// fixed filing taxonomy.
package folder

import (
	"strings"
	"unicode"
)

// Fallback is the root category used for anything outside the taxonomy.
const Fallback = "Misc"

// Roots is the closed set of allowed root categories.
var Roots = map[string]bool{
	"School":      true,
	"Finance":     true,
	"Newsletters": true,
	"Vehicle":     true,
	"Health":      true,
	"Work":        true,
	"Family":      true,
	"Home":        true,
}

// DefaultFolders maps subject keywords to destinations. Used by the
// classifier's heuristic fallback when the model is unreachable.
var DefaultFolders = map[string]string{
	"receipt":    "Finance/Receipts",
	"invoice":    "Finance/Invoices",
	"statement":  "Finance/Statements",
	"newsletter": "Newsletters",
	"promo":      "Newsletters/Promotions",
	"school":     "School",
	"tuition":    "Finance/Tuition",
}

// Normalize canonicalizes a slash-separated path: each segment is
// stripped of non-alphanumeric runs and title-cased, and a path whose
// first segment is not a known root gets Fallback prepended. It is
// idempotent and never fails; empty or fully-degenerate input becomes
// Fallback.
func Normalize(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return Fallback
	}

	var parts []string
	for _, segment := range strings.Split(path, "/") {
		cleaned := titleCase(segment)
		if cleaned != "" {
			parts = append(parts, cleaned)
		}
	}
	if len(parts) == 0 {
		return Fallback
	}
	if !Roots[parts[0]] && parts[0] != Fallback {
		parts = append([]string{Fallback}, parts...)
	}
	return strings.Join(parts, "/")
}

// titleCase replaces non-alphanumeric runs with single spaces and
// capitalizes each remaining word.
func titleCase(segment string) string {
	var b strings.Builder
	for _, r := range segment {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	for i, word := range words {
		runes := []rune(strings.ToLower(word))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
