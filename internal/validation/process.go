// Package validation turns oracle output into a final validation result.
//
// The oracle's judgment is advisory. The confidence band, the completeness
// flag and every rule-based issue are derived again here from the returned
// fields and the country rule set, and the score is penalized for each
// deterministic check that fails. The oracle is asked to leave those checks
// out of its own score so each failure costs points once.
package validation

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/addrintel/internal/address"
	"github.com/JonMunkholm/addrintel/internal/country"
	"github.com/JonMunkholm/addrintel/internal/oracle"
)

// Band lower bounds.
const (
	HighMin   = 90
	MediumMin = 70
	LowMin    = 50
)

// IssueCode identifies a class of problem found in a result.
type IssueCode string

// Cross-check issues.
const (
	IssueProvinceUnknown  IssueCode = "province-unknown"
	IssuePostalFormat     IssueCode = "postal-format"
	IssuePostalRange      IssueCode = "postal-range"
	IssueOutOfBounds      IssueCode = "out-of-bounds"
	IssueDistanceMismatch IssueCode = "distance-mismatch"
	IssueZoneIDFormat     IssueCode = "zone-id-format"
)

// Result-level issues.
const (
	IssueBandMismatch      IssueCode = "band-mismatch"
	IssueMissingStreet     IssueCode = "missing-street"
	IssueMissingCity       IssueCode = "missing-city"
	IssueMissingProvince   IssueCode = "missing-province"
	IssueMissingPostalCode IssueCode = "missing-postal-code"
)

// Issue is a single finding.
type Issue struct {
	Code    IssueCode
	Message string
}

// String renders the issue as "<code>: <message>".
func (i Issue) String() string {
	return string(i.Code) + ": " + i.Message
}

// Clamp limits a score to 0..100.
func Clamp(score int) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}

// BandFor maps a score to its confidence band. Scores outside 0..100 are
// clamped first.
func BandFor(score int) address.Band {
	switch score = Clamp(score); {
	case score >= HighMin:
		return address.BandHigh
	case score >= MediumMin:
		return address.BandMedium
	case score >= LowMin:
		return address.BandLow
	default:
		return address.BandUnusable
	}
}

// CompletenessFor reports Complete when street, city and province are all
// present and the band is High or Medium.
func CompletenessFor(f address.Fields, band address.Band) address.Completeness {
	if f.StreetName == nil || f.City == nil || f.Province == nil {
		return address.Incomplete
	}
	if band != address.BandHigh && band != address.BandMedium {
		return address.Incomplete
	}
	return address.Complete
}

// CrossCheck checks the fields against the rule set. Absent fields are not
// checked; they are reported by Process as missing instead.
func CrossCheck(f address.Fields, cfg *country.Config) []Issue {
	var issues []Issue

	province := address.Value(f.Province)
	if province != "" {
		if _, ok := cfg.FindProvince(province); !ok {
			issues = append(issues, Issue{IssueProvinceUnknown,
				fmt.Sprintf("%q is not a province of %s", province, cfg.CountryName)})
		}
	}

	if code := address.Value(f.PostalCode); code != "" {
		issues = append(issues, checkPostalCode(code, province, cfg)...)
	}

	if lat, lon, ok := coordinates(f); ok {
		if !cfg.CoordinateBounds.Contains(lat, lon) {
			issues = append(issues, Issue{IssueOutOfBounds,
				fmt.Sprintf("coordinates (%.4f, %.4f) are outside %s", lat, lon, cfg.CountryName)})
		}
		if city := address.Value(f.City); city != "" {
			if ref, ok := cfg.ReferenceFor(city); ok {
				limit := cfg.ScoringOrDefault().DistanceThresholdKm
				if d := address.HaversineKm(lat, lon, ref.Lat, ref.Lon); d > limit {
					issues = append(issues, Issue{IssueDistanceMismatch,
						fmt.Sprintf("coordinates are %.1f km from %s (limit %.1f km)", d, city, limit)})
				}
			}
		}
	}

	if zone := address.Value(f.ZoneID); zone != "" {
		if re := cfg.ZoneIDPattern(); re != nil && !re.MatchString(zone) {
			issues = append(issues, Issue{IssueZoneIDFormat,
				fmt.Sprintf("zone id %q does not match the expected format", zone)})
		}
	}

	return issues
}

func checkPostalCode(code, province string, cfg *country.Config) []Issue {
	malformed := false
	if re := cfg.PostalFormat(); re != nil && !re.MatchString(code) {
		malformed = true
	}
	if limit := cfg.PostalCode.MaxLength; limit > 0 && len([]rune(code)) > limit {
		malformed = true
	}
	if malformed {
		// A malformed code has no meaningful range.
		return []Issue{{IssuePostalFormat,
			fmt.Sprintf("postal code %q does not match the %s format", code, cfg.CountryName)}}
	}

	ranges := cfg.PostalRangesFor(province)
	if len(ranges) == 0 {
		return nil
	}
	n, ok := country.PostalCodeValue(code)
	if !ok {
		return []Issue{{IssuePostalRange, fmt.Sprintf("postal code %q is not numeric", code)}}
	}
	for _, r := range ranges {
		if r.Contains(n) {
			return nil
		}
	}

	where := cfg.CountryName
	if p, known := cfg.FindProvince(province); known {
		where = p.Name
	}
	return []Issue{{IssuePostalRange,
		fmt.Sprintf("postal code %s is outside the ranges for %s", code, where)}}
}

func coordinates(f address.Fields) (lat, lon float64, ok bool) {
	if f.Latitude == nil || f.Longitude == nil {
		return 0, 0, false
	}
	return *f.Latitude, *f.Longitude, true
}

// penalty returns the score deduction for a cross-check issue.
func penalty(code IssueCode, p country.Penalties) int {
	switch code {
	case IssueProvinceUnknown:
		return p.Province
	case IssuePostalFormat:
		return p.PostalFormat
	case IssuePostalRange:
		return p.PostalRange
	case IssueOutOfBounds:
		return p.Bounds
	case IssueDistanceMismatch:
		return p.Distance
	case IssueZoneIDFormat:
		return p.ZoneID
	}
	return 0
}

// Outcome is the processed form of one oracle response.
type Outcome struct {
	NormalizedAddress string
	Fields            address.Fields
	Score             int
	Band              address.Band
	Completeness      address.Completeness
	Issues            []string
	Suggestions       []string

	// Checks holds the deterministic findings in the order they were found.
	Checks []Issue
}

// Process combines the oracle output with the deterministic checks.
//
// The oracle scores its reading of the address only; rule checks are left
// to CrossCheck. Its score is clamped, reduced by the penalty of each failed
// cross-check and clamped again; the band and completeness are derived from
// that. A band-mismatch issue is raised when the oracle's band disagrees
// with its own score. Deterministic issues come first, followed by whatever
// the oracle reported.
func Process(out *oracle.Output, cfg *country.Config) Outcome {
	checks := CrossCheck(out.Fields, cfg)

	reported := Clamp(out.Score)
	if want := BandFor(reported); out.Band != want {
		checks = append(checks, Issue{IssueBandMismatch,
			fmt.Sprintf("oracle reported %s but its score %d is %s", out.Band, reported, want)})
	}

	score := reported
	weights := *cfg.ScoringOrDefault().Penalties
	for _, c := range checks {
		score -= penalty(c.Code, weights)
	}
	score = Clamp(score)
	band := BandFor(score)

	checks = append(checks, missing(out.Fields)...)

	issues := make([]string, 0, len(checks)+len(out.Issues))
	for _, c := range checks {
		issues = append(issues, c.String())
	}
	issues = append(issues, out.Issues...)

	suggestions := make([]string, 0, len(out.Suggestions))
	suggestions = append(suggestions, out.Suggestions...)

	normalized := strings.TrimSpace(out.NormalizedAddress)

	return Outcome{
		NormalizedAddress: normalized,
		Fields:            out.Fields,
		Score:             score,
		Band:              band,
		Completeness:      CompletenessFor(out.Fields, band),
		Issues:            issues,
		Suggestions:       suggestions,
		Checks:            checks,
	}
}

func missing(f address.Fields) []Issue {
	var issues []Issue
	if f.StreetName == nil {
		issues = append(issues, Issue{IssueMissingStreet, "street name is missing"})
	}
	if f.City == nil {
		issues = append(issues, Issue{IssueMissingCity, "city is missing"})
	}
	if f.Province == nil {
		issues = append(issues, Issue{IssueMissingProvince, "province is missing"})
	}
	if f.PostalCode == nil {
		issues = append(issues, Issue{IssueMissingPostalCode, "postal code is missing"})
	}
	return issues
}

// HasIssue reports whether rendered issues contain one with the given code.
func HasIssue(issues []string, code IssueCode) bool {
	prefix := string(code) + ":"
	for _, s := range issues {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
