package backend

import (
	"strings"
	"unicode"
)

// MaxKeywords caps the keywords kept per answer
const MaxKeywords = 7

// SanitizeKeywords trims keywords, drops empty ones and case-insensitive
// duplicates (first spelling wins) and keeps at most MaxKeywords.
func SanitizeKeywords(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		trimmed := strings.TrimSpace(keyword)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, trimmed)
		if len(out) == MaxKeywords {
			break
		}
	}
	return out
}

// Slug lowercases s and collapses every run of non-alphanumerics into "-"
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
