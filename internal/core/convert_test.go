package core

import "testing"

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"address", "address"},
		{"Address", "address"},
		{"Postal Code", "postal_code"},
		{"postal-code", "postal_code"},
		{"POSTAL_CODE", "postal_code"},
		{"  Street  No ", "street_no"},
		{"address__line - 1", "address_line_1"},
		{`="Contact"`, "contact"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := normalizeHeader(tt.input); got != tt.want {
				t.Errorf("normalizeHeader(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestHeaderIndexFind(t *testing.T) {
	idx := MakeHeaderIndex([]string{"Row", "Street Address", "City", "city", "Postal-Code"})

	tests := []struct {
		name   string
		names  []string
		want   int
		wantOK bool
	}{
		{"first synonym present", []string{"street_address", "address"}, 1, true},
		{"later synonym present", []string{"address", "full_address", "street address"}, 1, true},
		{"duplicate keeps first", []string{"city"}, 2, true},
		{"separator variants", []string{"postal_code"}, 4, true},
		{"missing", []string{"province", "state"}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := idx.Find(tt.names...)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Find(%v) = (%d, %v), want (%d, %v)", tt.names, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Cape Town", "Cape Town"},
		{"surrounding space", "  8001 ", "8001"},
		{"excel formula wrapper", `="0821234567"`, "0821234567"},
		{"leading equals", "=8001", "8001"},
		{"quoted", `"Main Road"`, "Main Road"},
		{"single quoted", "'0001'", "0001"},
		{"empty", "", ""},
		{"only quotes", `""`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanCell(tt.input); got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCellAndBlankRow(t *testing.T) {
	row := []string{" a ", "", `=""`}

	if got := cell(row, 0); got != "a" {
		t.Errorf("cell(0) = %q, want a", got)
	}
	if got := cell(row, 5); got != "" {
		t.Errorf("cell(5) = %q, want empty", got)
	}
	if got := cell(row, -1); got != "" {
		t.Errorf("cell(-1) = %q, want empty", got)
	}

	if blankRow(row) {
		t.Error("blankRow() = true for row with a value")
	}
	if !blankRow([]string{"", "  ", `=""`}) {
		t.Error("blankRow() = false for empty cells")
	}
	if !blankRow(nil) {
		t.Error("blankRow(nil) = false")
	}
}
