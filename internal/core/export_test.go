package core

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/JonMunkholm/addrintel/internal/address"
	"github.com/JonMunkholm/addrintel/internal/batch"
)

func TestWriteResultsCSV(t *testing.T) {
	snap := batch.Snapshot{
		ID:     "job-1",
		Status: batch.StatusComplete,
		Results: []batch.RowResult{
			{
				Index:   1,
				Address: "12 main rd cape town",
				Status:  batch.RowSucceeded,
				Result: &address.Result{
					ID:                "res-1",
					OriginalAddress:   "12 main rd cape town",
					NormalizedAddress: "12 Main Road, Cape Town, Western Cape, 8001",
					Fields: address.Fields{
						StreetNumber: address.Str("12"),
						StreetName:   address.Str("Main Road"),
						City:         address.Str("Cape Town"),
						Province:     address.Str("Western Cape"),
						PostalCode:   address.Str("8001"),
						Latitude:     address.Float(-33.9249),
						Longitude:    address.Float(18.4241),
					},
					ConfidenceScore: 92,
					ConfidenceLevel: address.BandHigh,
					Completeness:    address.Complete,
					Issues:          []string{"a", "b"},
					Model:           "gemini-2.0-flash",
				},
			},
			{
				Index:     2,
				Address:   "nowhere",
				Status:    batch.RowFailed,
				Error:     "oracle call timed out",
				ErrorKind: batch.KindTimeout,
			},
		},
	}

	var buf bytes.Buffer
	if err := WriteResultsCSV(&buf, snap); err != nil {
		t.Fatalf("WriteResultsCSV() error = %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
	if len(records[0]) != len(ExportHeader) {
		t.Fatalf("header has %d columns, want %d", len(records[0]), len(ExportHeader))
	}

	col := func(rec []string, name string) string {
		for i, h := range ExportHeader {
			if h == name {
				return rec[i]
			}
		}
		t.Fatalf("no column %q", name)
		return ""
	}

	ok := records[1]
	checks := map[string]string{
		"row":              "1",
		"status":           "succeeded",
		"id":               "res-1",
		"is_valid":         "true",
		"confidence_score": "92",
		"confidence_level": "High",
		"street_address":   "12 Main Road",
		"city":             "Cape Town",
		"postal_code":      "8001",
		"latitude":         "-33.924900",
		"issues":           "a; b",
		"suburb":           "",
	}
	for name, want := range checks {
		if got := col(ok, name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}

	failed := records[2]
	if col(failed, "status") != "failed" || col(failed, "is_valid") != "false" {
		t.Errorf("failed row = %v", failed)
	}
	if col(failed, "original_address") != "nowhere" {
		t.Errorf("original_address = %q", col(failed, "original_address"))
	}
	if col(failed, "error") != "oracle call timed out" {
		t.Errorf("error = %q", col(failed, "error"))
	}
}
