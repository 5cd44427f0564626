package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JonMunkholm/addrintel/internal/address"
	"github.com/JonMunkholm/addrintel/internal/country"
	"github.com/JonMunkholm/addrintel/internal/oracle"
)

// RuleModel is the model name reported by RuleInterpreter.
const RuleModel = "rules"

// Points a RuleInterpreter deducts for each missing component.
const (
	ruleMissingStreet   = 25
	ruleMissingCity     = 20
	ruleMissingProvince = 20
	ruleMissingPostal   = 10
)

// RuleInterpreter reads addresses with the country rule set alone. It is
// the interpreter used when no model is configured.
//
// The address is split on commas. A trailing postal code, a province and a
// city with a reference geocode are taken from the end; the first remaining
// part is the street and anything between is the suburb. Abbreviations from
// the rule set are expanded first and coordinates come from the city's
// reference geocode. Rule checks are left to Process, as for any oracle.
type RuleInterpreter struct{}

// NewRuleInterpreter returns a RuleInterpreter.
func NewRuleInterpreter() *RuleInterpreter {
	return &RuleInterpreter{}
}

// Model implements oracle.Named.
func (*RuleInterpreter) Model() string {
	return RuleModel
}

// Interpret implements oracle.Interpreter. The response uses the oracle wire
// format so it passes through ValidateOutput like any other.
func (*RuleInterpreter) Interpret(ctx context.Context, req oracle.Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Rules == nil {
		return nil, errors.New("rule interpreter: request has no rule set")
	}
	return parseComponents(req.Address, req.Rules).response(req.Rules)
}

// components are the parts of an address found by parseComponents.
type components struct {
	number   string
	street   string
	suburb   string
	city     string
	province string
	postal   string
	geo      *country.GeoPoint
}

func parseComponents(addr string, cfg *country.Config) components {
	exps := expansions(cfg.Normalization)

	var parts []string
	for _, p := range strings.Split(addr, ",") {
		if p = expand(p, exps); p != "" {
			parts = append(parts, p)
		}
	}

	var c components

	for i := len(parts) - 1; i >= 0; i-- {
		words := strings.Fields(parts[i])
		if last := words[len(words)-1]; isPostalCode(last, cfg) {
			c.postal = last
			parts[i] = strings.Join(words[:len(words)-1], " ")
			break
		}
	}

	// Later parts win, so a street named after a city is only read as one
	// when nothing after it matched.
	for i := len(parts) - 1; i >= 0; i-- {
		rest, hit := splitSuffix(parts[i], func(s string) bool {
			_, ok := cfg.FindProvince(s)
			return ok
		})
		if hit != "" {
			p, _ := cfg.FindProvince(hit)
			c.province = p.Name
			parts[i] = rest
			break
		}
	}

	for i := len(parts) - 1; i >= 0; i-- {
		rest, hit := splitSuffix(parts[i], func(s string) bool {
			_, ok := cfg.ReferenceFor(s)
			return ok
		})
		if hit != "" {
			c.city = referenceName(hit, cfg)
			if geo, ok := cfg.ReferenceFor(hit); ok {
				c.geo = &geo
			}
			parts[i] = rest
			break
		}
	}

	var left []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			left = append(left, p)
		}
	}

	// Without a known city, a trailing part after the street is taken as one.
	if c.city == "" && len(left) > 1 {
		c.city = titleCase(left[len(left)-1])
		left = left[:len(left)-1]
	}

	if len(left) > 0 {
		c.number, c.street = splitStreet(left[0])
		c.suburb = titleCase(strings.Join(left[1:], ", "))
	}
	return c
}

func (c components) fields() address.Fields {
	f := address.Fields{
		StreetNumber: address.Str(c.number),
		StreetName:   address.Str(c.street),
		Suburb:       address.Str(c.suburb),
		City:         address.Str(c.city),
		Province:     address.Str(c.province),
		PostalCode:   address.Str(c.postal),
	}
	if c.geo != nil {
		f.Latitude = address.Float(c.geo.Lat)
		f.Longitude = address.Float(c.geo.Lon)
	}
	return f
}

func (c components) normalized() string {
	var out []string
	for _, s := range []string{
		strings.TrimSpace(c.number + " " + c.street),
		c.suburb, c.city, c.province, c.postal,
	} {
		if s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, ", ")
}

func (c components) response(cfg *country.Config) ([]byte, error) {
	score := 100
	fixes := []string{}
	if c.street == "" {
		score -= ruleMissingStreet
		fixes = append(fixes, "Add the street name and number")
	}
	if c.city == "" {
		score -= ruleMissingCity
		fixes = append(fixes, "Add the city name")
	}
	if c.province == "" {
		score -= ruleMissingProvince
		fixes = append(fixes, "Include the province, for example "+cfg.Provinces[0].Name)
	}
	if c.postal == "" {
		score -= ruleMissingPostal
		fixes = append(fixes, "Add the postal code")
	}
	score = Clamp(score)
	band := BandFor(score)
	f := c.fields()

	body := map[string]any{
		"normalizedAddress": c.normalized(),
		"fields": map[string]any{
			"streetNumber": f.StreetNumber,
			"streetName":   f.StreetName,
			"suburb":       f.Suburb,
			"city":         f.City,
			"province":     f.Province,
			"postalCode":   f.PostalCode,
			"latitude":     f.Latitude,
			"longitude":    f.Longitude,
			"zoneId":       nil,
		},
		"completeness":     CompletenessFor(f, band),
		"confidence":       map[string]any{"score": score, "band": band},
		"issues":           []string{},
		"recommendedFixes": fixes,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("rule interpreter: %w", err)
	}
	return data, nil
}

func isPostalCode(word string, cfg *country.Config) bool {
	if re := cfg.PostalFormat(); re != nil {
		return re.MatchString(word)
	}
	if len(word) < 3 {
		return false
	}
	for _, r := range word {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// splitSuffix finds the longest run of trailing words in part that match.
// It returns the words before the run and the run itself, or part and ""
// when nothing matches.
func splitSuffix(part string, match func(string) bool) (rest, hit string) {
	words := strings.Fields(part)
	for n := len(words); n > 0; n-- {
		tail := strings.Join(words[len(words)-n:], " ")
		if match(tail) {
			return strings.Join(words[:len(words)-n], " "), tail
		}
	}
	return part, ""
}

// referenceName returns the rule set's spelling of a reference city.
func referenceName(city string, cfg *country.Config) string {
	for _, name := range cfg.ReferenceCities() {
		if strings.EqualFold(name, city) {
			return name
		}
	}
	return titleCase(city)
}

// splitStreet separates a leading house number from the street name.
func splitStreet(s string) (number, street string) {
	words := strings.Fields(s)
	if len(words) > 0 && startsWithDigit(words[0]) {
		number, words = words[0], words[1:]
	}
	return number, titleCase(strings.Join(words, " "))
}

func startsWithDigit(s string) bool {
	for _, r := range s {
		return unicode.IsDigit(r)
	}
	return false
}

func titleCase(s string) string {
	return cases.Title(language.Und).String(strings.TrimSpace(s))
}

// expansion replaces a sequence of folded words.
type expansion struct {
	words []string
	repl  string
}

// expansions flattens the abbreviation maps, longest first so multi-word
// abbreviations win.
func expansions(n country.Normalization) []expansion {
	fold := cases.Fold()
	var out []expansion
	for _, m := range []map[string]string{n.Street, n.City, n.Other} {
		for k, v := range m {
			if w := strings.Fields(fold.String(k)); len(w) > 0 {
				out = append(out, expansion{words: w, repl: v})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].words) != len(out[j].words) {
			return len(out[i].words) > len(out[j].words)
		}
		ki, kj := strings.Join(out[i].words, " "), strings.Join(out[j].words, " ")
		if ki != kj {
			return ki < kj
		}
		return out[i].repl < out[j].repl
	})
	return out
}

// expand rewrites abbreviated words in one comma separated part. A word
// matches with or without a trailing period.
func expand(part string, exps []expansion) string {
	fold := cases.Fold()
	words := strings.Fields(part)
	folded := make([]string, len(words))
	for i, w := range words {
		folded[i] = fold.String(w)
	}

	out := make([]string, 0, len(words))
	for i := 0; i < len(words); {
		if e, ok := matchExpansion(folded[i:], exps); ok {
			out = append(out, e.repl)
			i += len(e.words)
			continue
		}
		out = append(out, words[i])
		i++
	}
	return strings.Join(out, " ")
}

func matchExpansion(words []string, exps []expansion) (expansion, bool) {
	for _, e := range exps {
		if len(e.words) > len(words) {
			continue
		}
		ok := true
		for j, w := range e.words {
			if words[j] != w && strings.TrimSuffix(words[j], ".") != w {
				ok = false
				break
			}
		}
		if ok {
			return e, true
		}
	}
	return expansion{}, false
}
