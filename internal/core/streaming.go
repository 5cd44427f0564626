package core

// streaming.go cleans uploaded CSV bytes on the fly before they reach the
// CSV parser. Spreadsheet exports routinely carry a UTF-8 BOM, stray
// Windows-1252 bytes and no size bound; the readers here deal with each
// without buffering the whole file.

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// utf8Sanitizer replaces invalid UTF-8 bytes with '?' so a single bad byte
// cannot corrupt an address. Incomplete sequences at a read boundary are
// carried into the next read.
type utf8Sanitizer struct {
	r       io.Reader
	pending []byte
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := copy(p, s.pending)
	s.pending = s.pending[:0]

	n, err := s.r.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}
	return s.sanitize(p[:n], err == io.EOF), err
}

// sanitize rewrites data in place and returns the number of bytes to keep.
func (s *utf8Sanitizer) sanitize(data []byte, atEOF bool) int {
	if utf8.Valid(data) {
		return len(data)
	}

	w := 0
	for r := 0; r < len(data); {
		if !atEOF && !utf8.FullRune(data[r:]) {
			s.pending = append(s.pending, data[r:]...)
			return w
		}

		ch, size := utf8.DecodeRune(data[r:])
		if ch == utf8.RuneError && size == 1 {
			data[w] = '?'
			w++
			r++
			continue
		}
		copy(data[w:], data[r:r+size])
		w += size
		r += size
	}
	return w
}

// skipBOM drops a leading UTF-8 byte order mark.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// sizeLimitedReader fails with ErrFileTooLarge once more than limit bytes
// have been read.
type sizeLimitedReader struct {
	r     io.Reader
	limit int64
	read  int64
}

func (l *sizeLimitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.limit > 0 && l.read > l.limit {
		return n, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, l.limit)
	}
	return n, err
}

// wrapUpload applies the size limit, BOM removal and UTF-8 repair in that
// order. A non-positive limit disables the size check.
func wrapUpload(r io.Reader, limit int64) io.Reader {
	limited := &sizeLimitedReader{r: r, limit: limit}
	return newUTF8Sanitizer(skipBOM(limited))
}
