// Package country loads and caches per-country address rule sets.
//
// A rule set describes everything the validation pipeline needs to know about
// a country: abbreviation expansions, the list of provinces, postal code
// format and ranges, the coordinate bounding box, the zone identifier format
// and reference coordinates for major cities. Rule sets are read from one
// document per country (JSON, YAML or TOML) and are immutable once loaded.
package country

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// Default scoring values used when a rule set has no scoring section.
const (
	DefaultDistanceThresholdKm = 2.0

	DefaultProvincePenalty     = 30
	DefaultPostalFormatPenalty = 15
	DefaultPostalRangePenalty  = 15
	DefaultBoundsPenalty       = 25
	DefaultDistancePenalty     = 10
	DefaultZoneIDPenalty       = 5
)

// Config is a country rule set.
type Config struct {
	CountryCode       string              `json:"countryCode" yaml:"countryCode" toml:"countryCode" validate:"required,len=2"`
	CountryName       string              `json:"countryName" yaml:"countryName" toml:"countryName" validate:"required"`
	Normalization     Normalization       `json:"normalization" yaml:"normalization" toml:"normalization"`
	Provinces         []Province          `json:"provinces" yaml:"provinces" toml:"provinces" validate:"required,min=1,dive"`
	PostalCode        PostalCodeRules     `json:"postalCode" yaml:"postalCode" toml:"postalCode"`
	CoordinateBounds  Bounds              `json:"coordinateBounds" yaml:"coordinateBounds" toml:"coordinateBounds"`
	ZoneIDRegex       string              `json:"zoneIdRegex,omitempty" yaml:"zoneIdRegex,omitempty" toml:"zoneIdRegex,omitempty"`
	ReferenceGeocodes map[string]GeoPoint `json:"referenceGeocodes" yaml:"referenceGeocodes" toml:"referenceGeocodes" validate:"dive"`
	Scoring           *Scoring            `json:"scoring,omitempty" yaml:"scoring,omitempty" toml:"scoring,omitempty"`

	// Slug is the normalized key the rule set was loaded under.
	Slug string `json:"-" yaml:"-" toml:"-"`

	postalFormat *regexp.Regexp
	zoneID       *regexp.Regexp
}

// Normalization maps abbreviations to their expansions.
type Normalization struct {
	Street map[string]string `json:"street,omitempty" yaml:"street,omitempty" toml:"street,omitempty"`
	City   map[string]string `json:"city,omitempty" yaml:"city,omitempty" toml:"city,omitempty"`
	Other  map[string]string `json:"other,omitempty" yaml:"other,omitempty" toml:"other,omitempty"`
}

// Province is a first-level administrative division.
type Province struct {
	Name string `json:"name" yaml:"name" toml:"name" validate:"required"`
	Code string `json:"code" yaml:"code" toml:"code" validate:"required"`
}

// PostalCodeRules describes valid postal codes.
type PostalCodeRules struct {
	Format    string        `json:"format" yaml:"format" toml:"format"`
	MaxLength int           `json:"maxLength" yaml:"maxLength" toml:"maxLength" validate:"gte=0"`
	Ranges    []PostalRange `json:"ranges" yaml:"ranges" toml:"ranges" validate:"dive"`
}

// PostalRange is an inclusive numeric postal code range belonging to a
// province, identified by province code or name.
type PostalRange struct {
	Province string `json:"province" yaml:"province" toml:"province" validate:"required"`
	Min      int    `json:"min" yaml:"min" toml:"min" validate:"gte=0"`
	Max      int    `json:"max" yaml:"max" toml:"max" validate:"gtefield=Min"`
}

// Contains reports whether the numeric code falls inside the range.
func (r PostalRange) Contains(code int) bool {
	return code >= r.Min && code <= r.Max
}

// Bounds is a latitude/longitude bounding box in decimal degrees.
type Bounds struct {
	LatMin float64 `json:"latMin" yaml:"latMin" toml:"latMin" validate:"gte=-90,lte=90"`
	LatMax float64 `json:"latMax" yaml:"latMax" toml:"latMax" validate:"gte=-90,lte=90,gtfield=LatMin"`
	LonMin float64 `json:"lonMin" yaml:"lonMin" toml:"lonMin" validate:"gte=-180,lte=180"`
	LonMax float64 `json:"lonMax" yaml:"lonMax" toml:"lonMax" validate:"gte=-180,lte=180,gtfield=LonMin"`
}

// Contains reports whether the point lies inside the box, edges included.
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.LatMin && lat <= b.LatMax && lon >= b.LonMin && lon <= b.LonMax
}

// GeoPoint is a coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat" toml:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" yaml:"lon" toml:"lon" validate:"gte=-180,lte=180"`
}

// Scoring overrides the default cross-check threshold and penalties.
// A zero DistanceThresholdKm means the default; a nil Penalties means all
// default penalties.
type Scoring struct {
	DistanceThresholdKm float64    `json:"distanceThresholdKm,omitempty" yaml:"distanceThresholdKm,omitempty" toml:"distanceThresholdKm,omitempty" validate:"gte=0"`
	Penalties           *Penalties `json:"penalties,omitempty" yaml:"penalties,omitempty" toml:"penalties,omitempty"`
}

// Penalties are the points subtracted from the confidence score for each
// deterministic cross-check failure.
type Penalties struct {
	Province     int `json:"province" yaml:"province" toml:"province" validate:"gte=0,lte=100"`
	PostalFormat int `json:"postalFormat" yaml:"postalFormat" toml:"postalFormat" validate:"gte=0,lte=100"`
	PostalRange  int `json:"postalRange" yaml:"postalRange" toml:"postalRange" validate:"gte=0,lte=100"`
	Bounds       int `json:"bounds" yaml:"bounds" toml:"bounds" validate:"gte=0,lte=100"`
	Distance     int `json:"distance" yaml:"distance" toml:"distance" validate:"gte=0,lte=100"`
	ZoneID       int `json:"zoneId" yaml:"zoneId" toml:"zoneId" validate:"gte=0,lte=100"`
}

// DefaultPenalties returns the built-in penalty weights.
func DefaultPenalties() Penalties {
	return Penalties{
		Province:     DefaultProvincePenalty,
		PostalFormat: DefaultPostalFormatPenalty,
		PostalRange:  DefaultPostalRangePenalty,
		Bounds:       DefaultBoundsPenalty,
		Distance:     DefaultDistancePenalty,
		ZoneID:       DefaultZoneIDPenalty,
	}
}

// ScoringOrDefault returns the effective scoring section with defaults
// filled in.
func (c *Config) ScoringOrDefault() Scoring {
	s := Scoring{DistanceThresholdKm: DefaultDistanceThresholdKm}
	p := DefaultPenalties()
	s.Penalties = &p

	if c.Scoring == nil {
		return s
	}
	if c.Scoring.DistanceThresholdKm > 0 {
		s.DistanceThresholdKm = c.Scoring.DistanceThresholdKm
	}
	if c.Scoring.Penalties != nil {
		p = *c.Scoring.Penalties
		s.Penalties = &p
	}
	return s
}

// compile prepares the regular expressions. Called once by the registry.
func (c *Config) compile() error {
	if c.PostalCode.Format != "" {
		re, err := regexp.Compile(c.PostalCode.Format)
		if err != nil {
			return &fieldError{Field: "postalCode.format", Err: err}
		}
		c.postalFormat = re
	}
	if c.ZoneIDRegex != "" {
		re, err := regexp.Compile(c.ZoneIDRegex)
		if err != nil {
			return &fieldError{Field: "zoneIdRegex", Err: err}
		}
		c.zoneID = re
	}
	return nil
}

// sameFold compares two strings under Unicode case folding. A Caser holds
// state, so each comparison gets its own.
func sameFold(a, b string) bool {
	fold := cases.Fold()
	return fold.String(strings.TrimSpace(a)) == fold.String(strings.TrimSpace(b))
}

// FindProvince returns the province whose name or code matches s
// case-insensitively.
func (c *Config) FindProvince(s string) (Province, bool) {
	if strings.TrimSpace(s) == "" {
		return Province{}, false
	}
	for _, p := range c.Provinces {
		if sameFold(p.Name, s) || sameFold(p.Code, s) {
			return p, true
		}
	}
	return Province{}, false
}

// PostalFormat returns the compiled postal code pattern, or nil when the rule
// set does not define one.
func (c *Config) PostalFormat() *regexp.Regexp {
	return c.postalFormat
}

// ZoneIDPattern returns the compiled zone id pattern, or nil.
func (c *Config) ZoneIDPattern() *regexp.Regexp {
	return c.zoneID
}

// PostalRangesFor returns the ranges that apply to the named province. When
// the province is unknown every range applies.
func (c *Config) PostalRangesFor(province string) []PostalRange {
	p, ok := c.FindProvince(province)
	if !ok {
		return c.PostalCode.Ranges
	}
	var out []PostalRange
	for _, r := range c.PostalCode.Ranges {
		if sameFold(r.Province, p.Code) || sameFold(r.Province, p.Name) {
			out = append(out, r)
		}
	}
	return out
}

// PostalCodeValue parses a postal code into its numeric value, ignoring
// surrounding whitespace.
func PostalCodeValue(code string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ReferenceFor returns the reference geocode for the named city.
func (c *Config) ReferenceFor(city string) (GeoPoint, bool) {
	if strings.TrimSpace(city) == "" {
		return GeoPoint{}, false
	}
	if p, ok := c.ReferenceGeocodes[city]; ok {
		return p, true
	}
	for name, p := range c.ReferenceGeocodes {
		if sameFold(name, city) {
			return p, true
		}
	}
	return GeoPoint{}, false
}

// ProvinceNames returns province names in document order.
func (c *Config) ProvinceNames() []string {
	names := make([]string, len(c.Provinces))
	for i, p := range c.Provinces {
		names[i] = p.Name
	}
	return names
}

// ReferenceCities returns the reference city names sorted alphabetically.
func (c *Config) ReferenceCities() []string {
	cities := make([]string, 0, len(c.ReferenceGeocodes))
	for name := range c.ReferenceGeocodes {
		cities = append(cities, name)
	}
	sort.Strings(cities)
	return cities
}
