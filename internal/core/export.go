package core

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/JonMunkholm/addrintel/internal/address"
	"github.com/JonMunkholm/addrintel/internal/batch"
)

// ExportHeader is the column layout of a results download.
var ExportHeader = []string{
	"row", "status", "id", "original_address", "is_valid",
	"confidence_score", "confidence_level", "normalized_address",
	"street_address", "suburb", "city", "province", "postal_code",
	"latitude", "longitude", "zone_id",
	"issues", "suggestions", "validation_method", "error",
}

// WriteResultsCSV writes one line per row of the snapshot in row order.
// Failed and cancelled rows keep their original address and carry the
// error text instead of result columns.
func WriteResultsCSV(w io.Writer, snap batch.Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return err
	}

	for _, row := range snap.Results {
		if err := cw.Write(exportRecord(row)); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func exportRecord(row batch.RowResult) []string {
	rec := make([]string, len(ExportHeader))
	rec[0] = strconv.Itoa(row.Index)
	rec[1] = string(row.Status)
	rec[3] = row.Address
	rec[19] = row.Error

	res := row.Result
	if res == nil {
		rec[4] = "false"
		return rec
	}

	f := res.Fields
	rec[2] = res.ID
	rec[3] = res.OriginalAddress
	rec[4] = strconv.FormatBool(res.Completeness == address.Complete)
	rec[5] = strconv.Itoa(res.ConfidenceScore)
	rec[6] = string(res.ConfidenceLevel)
	rec[7] = res.NormalizedAddress
	rec[8] = streetAddress(f)
	rec[9] = address.Value(f.Suburb)
	rec[10] = address.Value(f.City)
	rec[11] = address.Value(f.Province)
	rec[12] = address.Value(f.PostalCode)
	rec[13] = formatCoord(f.Latitude)
	rec[14] = formatCoord(f.Longitude)
	rec[15] = address.Value(f.ZoneID)
	rec[16] = strings.Join(res.Issues, "; ")
	rec[17] = strings.Join(res.Suggestions, "; ")
	rec[18] = res.Model
	return rec
}

func streetAddress(f address.Fields) string {
	return strings.TrimSpace(address.Value(f.StreetNumber) + " " + address.Value(f.StreetName))
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}
