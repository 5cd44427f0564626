package confirm

import (
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/JonMunkholm/addrintel/internal/address"
)

// MovedThresholdKm is the distance above which a confirmed location counts as
// a change even when the text is identical.
const MovedThresholdKm = 0.1

// DiffOp is one step of the token diff between the original and the
// confirmed address.
type DiffOp struct {
	Op        string   `json:"op"`
	Original  []string `json:"original,omitempty"`
	Confirmed []string `json:"confirmed,omitempty"`
}

// Differences describes how the confirmed address differs from the original.
type Differences struct {
	// DistanceKm is nil unless both coordinate sets exist.
	DistanceKm *float64 `json:"distance_km"`
	TextDiff   []DiffOp `json:"text_diff"`
	Unified    string   `json:"unified,omitempty"`
	Changed    bool     `json:"changed"`
}

var opNames = map[byte]string{
	'e': "equal",
	'r': "replace",
	'd': "delete",
	'i': "insert",
}

// Compare diffs the original address against the confirmed one.
func Compare(original string, lat, lon *float64, c Confirmed) Differences {
	var d Differences

	if lat != nil && lon != nil && c.Latitude != nil && c.Longitude != nil {
		km := address.HaversineKm(*lat, *lon, *c.Latitude, *c.Longitude)
		d.DistanceKm = &km
		if km > MovedThresholdKm {
			d.Changed = true
		}
	}

	a, b := tokens(original), tokens(c.Address)
	for _, oc := range difflib.NewMatcher(a, b).GetOpCodes() {
		op := DiffOp{Op: opNames[oc.Tag]}
		if oc.Tag != 'i' {
			op.Original = a[oc.I1:oc.I2]
		}
		if oc.Tag != 'd' {
			op.Confirmed = b[oc.J1:oc.J2]
		}
		if oc.Tag != 'e' {
			d.Changed = true
		}
		d.TextDiff = append(d.TextDiff, op)
	}

	if d.Changed {
		d.Unified, _ = difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        parts(original),
			B:        parts(c.Address),
			FromFile: "original",
			ToFile:   "confirmed",
			Context:  1,
		})
	}
	return d
}

// tokens splits an address into lowercase words, dropping punctuation that
// separates components.
func tokens(s string) []string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';'
	})
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return words
}

// parts splits an address into one line per comma-separated component.
func parts(s string) []string {
	var lines []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			lines = append(lines, p+"\n")
		}
	}
	return lines
}
