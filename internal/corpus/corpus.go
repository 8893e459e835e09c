// Package corpus loads training text as a sequence of runes.
package corpus

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Read loads a UTF-8 text file as a sequence of symbols. With normalize set,
// the text is converted to NFC first so composed and decomposed forms of the
// same character share one symbol.
func Read(path string, normalize bool) ([]rune, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer func() { _ = f.Close() }()

	symbols, err := ReadFrom(f, normalize)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}
	return symbols, nil
}

// ReadFrom decodes every rune from r. Invalid UTF-8 sequences are rejected
// rather than silently mapped to U+FFFD.
func ReadFrom(r io.Reader, normalize bool) ([]rune, error) {
	if normalize {
		r = transform.NewReader(r, norm.NFC)
	}
	br := bufio.NewReader(r)

	var symbols []rune
	for offset := 0; ; {
		c, size, err := br.ReadRune()
		if err == io.EOF {
			return symbols, nil
		}
		if err != nil {
			return nil, err
		}
		if c == utf8.RuneError && size == 1 {
			return nil, fmt.Errorf("invalid utf-8 at byte %d", offset)
		}
		symbols = append(symbols, c)
		offset += size
	}
}
