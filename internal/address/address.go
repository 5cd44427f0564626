// Package address defines the value types shared by the validation pipeline:
// the incoming query, the structured fields extracted from an address and the
// final immutable validation result.
package address

import "time"

// Band is the qualitative confidence tier derived from a numeric score.
type Band string

const (
	BandHigh     Band = "High"
	BandMedium   Band = "Medium"
	BandLow      Band = "Low"
	BandUnusable Band = "Unusable"
)

// Valid reports whether b is one of the four known bands.
func (b Band) Valid() bool {
	switch b {
	case BandHigh, BandMedium, BandLow, BandUnusable:
		return true
	}
	return false
}

// Completeness states whether an address is usable for delivery.
type Completeness string

const (
	Complete   Completeness = "Complete"
	Incomplete Completeness = "Incomplete"
)

// Valid reports whether c is one of the two known values.
func (c Completeness) Valid() bool {
	return c == Complete || c == Incomplete
}

// Query is a single address to validate.
type Query struct {
	Address string `json:"address"`
	Country string `json:"country,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// Fields holds the structured components of an address. Every component is
// optional; nil means the component was not present.
type Fields struct {
	StreetNumber *string  `json:"street_number"`
	StreetName   *string  `json:"street_name"`
	Suburb       *string  `json:"suburb"`
	City         *string  `json:"city"`
	Province     *string  `json:"province"`
	PostalCode   *string  `json:"postal_code"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	ZoneID       *string  `json:"zone_id"`
}

// HasCoordinates reports whether both latitude and longitude are set.
func (f Fields) HasCoordinates() bool {
	return f.Latitude != nil && f.Longitude != nil
}

// Result is the outcome of validating one address. Results are immutable
// once produced.
type Result struct {
	ID                string        `json:"id"`
	OriginalAddress   string        `json:"original_address"`
	NormalizedAddress string        `json:"normalized_address"`
	Fields            Fields        `json:"fields"`
	ConfidenceScore   int           `json:"confidence_score"`
	ConfidenceLevel   Band          `json:"confidence_level"`
	Completeness      Completeness  `json:"completeness"`
	Issues            []string      `json:"issues"`
	Suggestions       []string      `json:"suggestions"`
	Country           string        `json:"country"`
	Contact           string        `json:"contact,omitempty"`
	Model             string        `json:"model,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	ProcessingTime    time.Duration `json:"processing_time_ns"`
}

// Coordinates returns the result's latitude and longitude, and whether both
// were present.
func (r *Result) Coordinates() (lat, lon float64, ok bool) {
	if r == nil || !r.Fields.HasCoordinates() {
		return 0, 0, false
	}
	return *r.Fields.Latitude, *r.Fields.Longitude, true
}

// Str returns a pointer to s, or nil when s is empty.
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Float returns a pointer to f.
func Float(f float64) *float64 {
	return &f
}

// Value dereferences p, returning "" for nil.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
