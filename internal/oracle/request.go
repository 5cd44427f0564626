// Package oracle talks to the external address interpretation capability.
//
// It builds requests from a country rule set and an address, enforces the
// closed output schema on whatever comes back, and provides adapters for the
// supported LLM providers. Everything downstream of ValidateOutput works on
// typed values only.
package oracle

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/addrintel/internal/country"
)

// Template placeholders. Each appears exactly once in the base prompt.
const (
	addressPlaceholder = "{address}"
	rulesPlaceholder   = "{configurable_rules}"
)

//go:embed base_prompt.txt
var basePrompt string

// ErrEmptyAddress is returned when there is nothing to validate.
var ErrEmptyAddress = errors.New("address is empty")

// Request is an assembled oracle request.
type Request struct {
	Prompt  string
	Address string
	Country string

	// Rules is the rule set the prompt was built from.
	Rules *country.Config
}

// constraintBlock is the serialized view of a rule set given to the oracle.
type constraintBlock struct {
	Country             string                      `json:"country"`
	CountryCode         string                      `json:"countryCode"`
	Abbreviations       country.Normalization       `json:"abbreviations"`
	Provinces           []country.Province          `json:"provinces"`
	PostalCode          country.PostalCodeRules     `json:"postalCode"`
	CoordinateBounds    country.Bounds              `json:"coordinateBounds"`
	ZoneIDPattern       string                      `json:"zoneIdPattern,omitempty"`
	ReferenceGeocodes   map[string]country.GeoPoint `json:"referenceGeocodes"`
	DistanceThresholdKm float64                     `json:"distanceThresholdKm"`
}

// Assemble combines the base prompt with the address and the constraint
// block derived from cfg. Substitution happens in a single pass, so text from
// the address or the rule set is never re-scanned for placeholders. Both
// values are JSON encoded with HTML escaping, which keeps any '<' out of the
// output and so the rules section cannot be closed early.
func Assemble(addr string, cfg *country.Config) (Request, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Request{}, ErrEmptyAddress
	}
	if cfg == nil {
		return Request{}, errors.New("assemble: nil country config")
	}

	quoted, err := marshalEscaped(addr, "")
	if err != nil {
		return Request{}, fmt.Errorf("assemble: encode address: %w", err)
	}

	block, err := marshalEscaped(constraintBlock{
		Country:             cfg.CountryName,
		CountryCode:         cfg.CountryCode,
		Abbreviations:       cfg.Normalization,
		Provinces:           cfg.Provinces,
		PostalCode:          cfg.PostalCode,
		CoordinateBounds:    cfg.CoordinateBounds,
		ZoneIDPattern:       cfg.ZoneIDRegex,
		ReferenceGeocodes:   cfg.ReferenceGeocodes,
		DistanceThresholdKm: cfg.ScoringOrDefault().DistanceThresholdKm,
	}, "  ")
	if err != nil {
		return Request{}, fmt.Errorf("assemble: encode rules: %w", err)
	}

	r := strings.NewReplacer(addressPlaceholder, quoted, rulesPlaceholder, block)
	return Request{
		Prompt:  r.Replace(basePrompt),
		Address: addr,
		Country: cfg.Slug,
		Rules:   cfg,
	}, nil
}

// marshalEscaped encodes v as JSON with HTML escaping and no trailing newline.
func marshalEscaped(v any, indent string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(true)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
