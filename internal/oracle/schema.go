package oracle

// schema.go enforces the closed output contract on oracle responses.
//
// Top level keys:
//
//	normalizedAddress  string, required
//	fields             object with exactly the 9 keys in fieldKeys, required
//	completeness       "Complete" | "Incomplete", required
//	confidence         {score: integer 0..100, band: High|Medium|Low|Unusable}, required
//	issues             []string, optional
//	recommendedFixes   []string, optional
//
// Unknown keys at the top level, inside fields or inside confidence are
// rejected. Missing optional values become null or empty.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/JonMunkholm/addrintel/internal/address"
)

// Output is a schema-conformant oracle response.
type Output struct {
	NormalizedAddress string
	Fields            address.Fields
	Completeness      address.Completeness
	Score             int
	Band              address.Band
	Issues            []string
	Suggestions       []string
}

// SchemaError describes the first contract violation found in a response.
type SchemaError struct {
	Path   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("oracle output schema: %s: %s", e.Path, e.Reason)
}

func schemaErr(path, format string, args ...any) *SchemaError {
	return &SchemaError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

var topLevelKeys = map[string]bool{
	"normalizedAddress": true,
	"fields":            true,
	"completeness":      true,
	"confidence":        true,
	"issues":            true,
	"recommendedFixes":  true,
}

var requiredKeys = []string{"normalizedAddress", "fields", "completeness", "confidence"}

var fieldKeys = map[string]bool{
	"streetNumber": true,
	"streetName":   true,
	"suburb":       true,
	"city":         true,
	"province":     true,
	"postalCode":   true,
	"latitude":     true,
	"longitude":    true,
	"zoneId":       true,
}

// ValidateOutput parses raw oracle output and enforces the schema. A
// surrounding markdown code fence is removed first.
func ValidateOutput(raw []byte) (*Output, error) {
	obj, err := decodeObject(StripFence(raw), "$")
	if err != nil {
		return nil, err
	}

	if err := rejectUnknown(obj, topLevelKeys, "$"); err != nil {
		return nil, err
	}
	for _, key := range requiredKeys {
		if isNull(obj[key]) {
			return nil, schemaErr("$."+key, "required key is missing")
		}
	}

	out := &Output{}

	if err := json.Unmarshal(obj["normalizedAddress"], &out.NormalizedAddress); err != nil {
		return nil, schemaErr("$.normalizedAddress", "must be a string")
	}

	if out.Fields, err = decodeFields(obj["fields"]); err != nil {
		return nil, err
	}

	var completeness string
	if err := json.Unmarshal(obj["completeness"], &completeness); err != nil {
		return nil, schemaErr("$.completeness", "must be a string")
	}
	out.Completeness = address.Completeness(completeness)
	if !out.Completeness.Valid() {
		return nil, schemaErr("$.completeness", "%q is not one of Complete, Incomplete", completeness)
	}

	if out.Score, out.Band, err = decodeConfidence(obj["confidence"]); err != nil {
		return nil, err
	}

	if out.Issues, err = decodeStrings(obj["issues"], "$.issues"); err != nil {
		return nil, err
	}
	if out.Suggestions, err = decodeStrings(obj["recommendedFixes"], "$.recommendedFixes"); err != nil {
		return nil, err
	}

	return out, nil
}

// StripFence removes a leading ```json (or bare ```) line and a trailing ```
// from an LLM response.
func StripFence(raw []byte) []byte {
	s := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(s, []byte("```")) {
		return s
	}
	if i := bytes.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = s[3:]
	}
	s = bytes.TrimSpace(s)
	s = bytes.TrimSuffix(s, []byte("```"))
	return bytes.TrimSpace(s)
}

func decodeObject(data []byte, path string) (map[string]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, schemaErr(path, "must be a JSON object")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, schemaErr(path, "invalid JSON: %v", err)
	}
	return obj, nil
}

func rejectUnknown(obj map[string]json.RawMessage, allowed map[string]bool, path string) error {
	var unknown []string
	for key := range obj {
		if !allowed[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return schemaErr(path, "unknown keys: %s", strings.Join(unknown, ", "))
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

func decodeFields(raw json.RawMessage) (address.Fields, error) {
	var f address.Fields

	obj, err := decodeObject(raw, "$.fields")
	if err != nil {
		return f, err
	}
	if err := rejectUnknown(obj, fieldKeys, "$.fields"); err != nil {
		return f, err
	}

	if f.StreetNumber, err = streetNumber(obj["streetNumber"]); err != nil {
		return f, err
	}
	for _, sf := range []struct {
		key string
		dst **string
	}{
		{"streetName", &f.StreetName},
		{"suburb", &f.Suburb},
		{"city", &f.City},
		{"province", &f.Province},
		{"postalCode", &f.PostalCode},
		{"zoneId", &f.ZoneID},
	} {
		if *sf.dst, err = optionalString(obj[sf.key], "$.fields."+sf.key); err != nil {
			return f, err
		}
	}
	if f.Latitude, err = optionalNumber(obj["latitude"], "$.fields.latitude"); err != nil {
		return f, err
	}
	if f.Longitude, err = optionalNumber(obj["longitude"], "$.fields.longitude"); err != nil {
		return f, err
	}
	return f, nil
}

// optionalString decodes a string or null. Blank strings become null.
func optionalString(raw json.RawMessage, path string) (*string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, schemaErr(path, "must be a string or null")
	}
	return address.Str(strings.TrimSpace(s)), nil
}

// streetNumber accepts an integer, a string or null.
func streetNumber(raw json.RawMessage) (*string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil && raw[0] != '"' {
		i, err := n.Int64()
		if err != nil {
			return nil, schemaErr("$.fields.streetNumber", "must be an integer, a string or null")
		}
		return address.Str(strconv.FormatInt(i, 10)), nil
	}
	return optionalString(raw, "$.fields.streetNumber")
}

func optionalNumber(raw json.RawMessage, path string) (*float64, error) {
	if isNull(raw) {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, schemaErr(path, "must be a number or null")
	}
	return &f, nil
}

var confidenceKeys = map[string]bool{"score": true, "band": true}

func decodeConfidence(raw json.RawMessage) (int, address.Band, error) {
	obj, err := decodeObject(raw, "$.confidence")
	if err != nil {
		return 0, "", err
	}
	if err := rejectUnknown(obj, confidenceKeys, "$.confidence"); err != nil {
		return 0, "", err
	}
	if isNull(obj["score"]) {
		return 0, "", schemaErr("$.confidence.score", "required key is missing")
	}
	if isNull(obj["band"]) {
		return 0, "", schemaErr("$.confidence.band", "required key is missing")
	}

	var score float64
	if err := json.Unmarshal(obj["score"], &score); err != nil {
		return 0, "", schemaErr("$.confidence.score", "must be an integer")
	}
	if score != math.Trunc(score) {
		return 0, "", schemaErr("$.confidence.score", "%v is not an integer", score)
	}
	if score < 0 || score > 100 {
		return 0, "", schemaErr("$.confidence.score", "%v is outside 0..100", score)
	}

	var band string
	if err := json.Unmarshal(obj["band"], &band); err != nil {
		return 0, "", schemaErr("$.confidence.band", "must be a string")
	}
	if !address.Band(band).Valid() {
		return 0, "", schemaErr("$.confidence.band", "%q is not one of High, Medium, Low, Unusable", band)
	}

	return int(score), address.Band(band), nil
}

func decodeStrings(raw json.RawMessage, path string) ([]string, error) {
	if isNull(raw) {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, schemaErr(path, "must be a list of strings")
	}
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
