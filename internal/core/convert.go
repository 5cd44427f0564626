package core

// convert.go normalizes CSV headers and cells from user spreadsheets.
//
// Headers are matched case-insensitively with spaces, dashes and underscores
// treated alike, so "Postal Code", "postal-code" and "POSTAL_CODE" are one
// column. Cells lose spreadsheet artifacts such as ="..." formula wrappers.

import (
	"strings"
)

// HeaderIndex maps normalized column names to their position in a row.
type HeaderIndex map[string]int

// MakeHeaderIndex creates a HeaderIndex from a CSV header row. The first
// occurrence of a duplicated column wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if key == "" {
			continue
		}
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// Find returns the position of the first name present in the index.
func (h HeaderIndex) Find(names ...string) (int, bool) {
	for _, name := range names {
		if i, ok := h[normalizeHeader(name)]; ok {
			return i, true
		}
	}
	return 0, false
}

// normalizeHeader lowercases a header and folds runs of spaces, dashes and
// underscores into a single underscore.
func normalizeHeader(s string) string {
	s = strings.ToLower(CleanCell(s))

	var b strings.Builder
	sep := false
	for _, r := range s {
		if r == ' ' || r == '-' || r == '_' || r == '\t' {
			sep = true
			continue
		}
		if sep && b.Len() > 0 {
			b.WriteByte('_')
		}
		sep = false
		b.WriteRune(r)
	}
	return b.String()
}

// CleanCell removes common CSV artifacts from a cell value:
//   - surrounding whitespace
//   - the Excel formula wrapper ="..." or a bare leading '='
//   - surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// cell returns the cleaned value at i, or "" when the row is short.
func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return CleanCell(row[i])
}

// blankRow reports whether every cell is empty after cleaning.
func blankRow(row []string) bool {
	for _, c := range row {
		if CleanCell(c) != "" {
			return false
		}
	}
	return true
}
