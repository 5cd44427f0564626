package country

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// codeToSlug maps ISO 3166-1 alpha-2 codes to canonical slugs.
var codeToSlug = map[string]string{
	"za": "south-africa",
	"us": "united-states",
	"gb": "united-kingdom",
	"kz": "kazakhstan",
}

// Normalize converts a country name or code into a lookup slug: lowercased,
// spaces and underscores replaced by hyphens, repeated hyphens collapsed and
// leading or trailing hyphens removed. Known country codes map to their
// canonical slug. Normalize is idempotent.
func Normalize(input string) string {
	s := cases.Lower(language.Und).String(strings.TrimSpace(input))

	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '_' || r == '\t' {
			return '-'
		}
		return r
	}, s)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")

	if slug, ok := codeToSlug[s]; ok {
		return slug
	}
	return s
}
