package core

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/addrintel/internal/batch"
)

var (
	// ErrFileTooLarge is returned when an upload exceeds the size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrEmptyFile is returned for a CSV without data rows.
	ErrEmptyFile = errors.New("empty file: no data rows")

	// ErrNoAddressColumn is returned when neither an address column nor any
	// address component column is present.
	ErrNoAddressColumn = errors.New("missing required column: address or address components")

	// ErrNoAddresses is returned when every data row is blank.
	ErrNoAddresses = errors.New("no valid addresses found in file")
)

// Column synonyms, in priority order.
var (
	addressColumns = []string{"address", "street_address", "full_address", "address_line_1", "address1"}
	countryColumns = []string{"country", "country_code", "destination_country"}
	contactColumns = []string{"contact", "contact_number", "phone", "phone_number"}
)

// Address component columns used when there is no address column.
var (
	streetNoColumns = []string{"street_no", "streetno", "street_number", "house_number", "number"}
	streetColumns   = []string{"street", "street_name", "address_2"}
	suburbColumns   = []string{"suburb", "neighborhood", "neighbourhood", "locality"}
	cityColumns     = []string{"city", "town"}
	areaColumns     = []string{"area"}
	provinceColumns = []string{"province", "state", "region"}
	postalColumns   = []string{"postal_code", "postalcode", "postcode", "zip", "zipcode", "zip_code", "pincode"}
)

// layout records where each logical column sits in the file.
type layout struct {
	header  []string
	address int
	country int
	contact int

	streetNo, street, suburb, city, area, province, postal int
}

func find(idx HeaderIndex, names []string) int {
	if i, ok := idx.Find(names...); ok {
		return i
	}
	return -1
}

func newLayout(header []string) (layout, error) {
	idx := MakeHeaderIndex(header)
	l := layout{
		header:   header,
		address:  find(idx, addressColumns),
		country:  find(idx, countryColumns),
		contact:  find(idx, contactColumns),
		streetNo: find(idx, streetNoColumns),
		street:   find(idx, streetColumns),
		suburb:   find(idx, suburbColumns),
		city:     find(idx, cityColumns),
		area:     find(idx, areaColumns),
		province: find(idx, provinceColumns),
		postal:   find(idx, postalColumns),
	}

	if l.address < 0 && l.street < 0 && l.suburb < 0 && l.city < 0 && l.area < 0 &&
		l.province < 0 && l.postal < 0 {
		return layout{}, fmt.Errorf("%w (found: %s)", ErrNoAddressColumn, strings.Join(header, ", "))
	}
	return l, nil
}

// addressOf returns the address for row, composing it from components when
// the file has no address column or the cell is empty.
func (l layout) addressOf(row []string) string {
	if a := cell(row, l.address); a != "" {
		return a
	}

	var parts []string
	street := cell(row, l.street)
	if no := cell(row, l.streetNo); no != "" && street != "" {
		parts = append(parts, no+" "+street)
	} else if street != "" {
		parts = append(parts, street)
	}
	if s := cell(row, l.suburb); s != "" {
		parts = append(parts, s)
	}
	if c := cell(row, l.city); c != "" {
		parts = append(parts, c)
	} else if a := cell(row, l.area); a != "" {
		parts = append(parts, a)
	}
	if p := cell(row, l.province); p != "" {
		parts = append(parts, p)
	}
	if pc := cell(row, l.postal); pc != "" {
		parts = append(parts, pc)
	}
	return strings.Join(parts, ", ")
}

// source maps the original header to the row's cells.
func (l layout) source(row []string) map[string]string {
	src := make(map[string]string, len(l.header))
	for i, h := range l.header {
		name := CleanCell(h)
		if name == "" {
			continue
		}
		if _, dup := src[name]; dup {
			continue
		}
		src[name] = cell(row, i)
	}
	return src
}

// ParseBatchCSV reads an uploaded CSV into batch rows. Blank rows and rows
// without any address text are skipped. defaultCountry applies to rows
// without a country cell. maxBytes bounds the upload; zero means no limit.
func ParseBatchCSV(r io.Reader, defaultCountry string, maxBytes int64) ([]batch.Row, error) {
	cr := csv.NewReader(wrapUpload(r, maxBytes))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, csvError(err)
	}

	l, err := newLayout(header)
	if err != nil {
		return nil, err
	}

	var rows []batch.Row
	dataRows := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, csvError(err)
		}
		if blankRow(rec) {
			continue
		}
		dataRows++

		addr := l.addressOf(rec)
		if addr == "" {
			continue
		}
		country := cell(rec, l.country)
		if country == "" {
			country = defaultCountry
		}

		rows = append(rows, batch.Row{
			Index:   len(rows) + 1,
			Address: addr,
			Country: country,
			Contact: cell(rec, l.contact),
			Source:  l.source(rec),
		})
	}

	if dataRows == 0 {
		return nil, ErrEmptyFile
	}
	if len(rows) == 0 {
		return nil, ErrNoAddresses
	}
	return rows, nil
}

// csvError keeps ErrFileTooLarge visible through the csv package's wrapping.
func csvError(err error) error {
	if errors.Is(err, ErrFileTooLarge) {
		return err
	}
	return fmt.Errorf("invalid csv: %w", err)
}
