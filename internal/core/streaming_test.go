package core

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestSkipBOM(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("address,city")...),
			expected: "address,city",
		},
		{
			name:     "file without BOM",
			input:    []byte("address,city"),
			expected: "address,city",
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "partial BOM at start",
			input:    []byte{0xEF, 0xBB, 'a', 'b', 'c'},
			expected: string([]byte{0xEF, 0xBB, 'a', 'b', 'c'}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := io.ReadAll(skipBOM(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

func TestUTF8Sanitizer(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "valid ascii",
			input:    []byte("12 Main Road"),
			expected: "12 Main Road",
		},
		{
			name:     "valid multibyte",
			input:    []byte("Rue de l'Église, Genève"),
			expected: "Rue de l'Église, Genève",
		},
		{
			name:     "windows-1252 e acute",
			input:    []byte{'C', 'a', 'f', 0xE9},
			expected: "Caf?",
		},
		{
			name:     "stray continuation byte",
			input:    []byte{'a', 0x80, 'b'},
			expected: "a?b",
		},
		{
			name:     "truncated sequence at end",
			input:    []byte{'x', 0xC3},
			expected: "x?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := io.ReadAll(newUTF8Sanitizer(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

func TestUTF8Sanitizer_SplitRunes(t *testing.T) {
	input := strings.Repeat("Ümlaut straße ", 50)

	// OneByteReader splits every multibyte rune across reads.
	result, err := io.ReadAll(newUTF8Sanitizer(iotest.OneByteReader(strings.NewReader(input))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != input {
		t.Errorf("split runes were not reassembled: got %q", string(result)[:40])
	}
}

func TestSizeLimitedReader(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		limit   int64
		wantErr bool
	}{
		{"under limit", 10, 20, false},
		{"at limit", 20, 20, false},
		{"over limit", 21, 20, true},
		{"no limit", 1000, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &sizeLimitedReader{r: strings.NewReader(strings.Repeat("a", tt.size)), limit: tt.limit}
			_, err := io.ReadAll(r)
			if tt.wantErr {
				if !errors.Is(err, ErrFileTooLarge) {
					t.Errorf("error = %v, want ErrFileTooLarge", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWrapUpload(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte("address\nCaf\xe9 Road\n")...)

	result, err := io.ReadAll(wrapUpload(bytes.NewReader(input), 1024))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != "address\nCaf? Road\n" {
		t.Errorf("got %q", string(result))
	}
}
