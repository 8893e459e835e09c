// Package vocab maps corpus runes to dense integer ids and back.
package vocab

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownSymbol is returned for a rune or id that is not in the vocabulary.
var ErrUnknownSymbol = errors.New("vocab: unknown symbol")

// Vocabulary is an immutable bijection between runes and dense ids [0, Size).
type Vocabulary struct {
	symbols []rune
	ids     map[rune]int
}

// Build creates a vocabulary from a symbol stream. Ids are assigned in order
// of first occurrence, so the same corpus always yields the same ids.
func Build(symbols []rune) *Vocabulary {
	v := &Vocabulary{ids: make(map[rune]int)}
	for _, r := range symbols {
		if _, ok := v.ids[r]; ok {
			continue
		}
		v.ids[r] = len(v.symbols)
		v.symbols = append(v.symbols, r)
	}
	return v
}

// FromSymbols restores a vocabulary whose id order is given explicitly, as
// stored in a checkpoint.
func FromSymbols(symbols []rune) (*Vocabulary, error) {
	v := &Vocabulary{
		symbols: make([]rune, len(symbols)),
		ids:     make(map[rune]int, len(symbols)),
	}
	for i, r := range symbols {
		if prev, ok := v.ids[r]; ok {
			return nil, fmt.Errorf("vocab: symbol %q repeated at ids %d and %d", r, prev, i)
		}
		v.ids[r] = i
		v.symbols[i] = r
	}
	return v, nil
}

// Size returns the number of distinct symbols.
func (v *Vocabulary) Size() int {
	return len(v.symbols)
}

// Symbols returns a copy of the symbols in id order.
func (v *Vocabulary) Symbols() []rune {
	out := make([]rune, len(v.symbols))
	copy(out, v.symbols)
	return out
}

// ID returns the id of r.
func (v *Vocabulary) ID(r rune) (int, error) {
	id, ok := v.ids[r]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSymbol, r)
	}
	return id, nil
}

// Symbol returns the rune with the given id.
func (v *Vocabulary) Symbol(id int) (rune, error) {
	if id < 0 || id >= len(v.symbols) {
		return 0, fmt.Errorf("%w: id %d outside [0,%d)", ErrUnknownSymbol, id, len(v.symbols))
	}
	return v.symbols[id], nil
}

// Contains reports whether id is a valid id.
func (v *Vocabulary) Contains(id int) bool {
	return id >= 0 && id < len(v.symbols)
}

// EncodeRunes maps every rune to its id.
func (v *Vocabulary) EncodeRunes(symbols []rune) ([]int, error) {
	ids := make([]int, len(symbols))
	for i, r := range symbols {
		id, err := v.ID(r)
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
		ids[i] = id
	}
	return ids, nil
}

// Encode converts text into ids.
func (v *Vocabulary) Encode(text string) ([]int, error) {
	return v.EncodeRunes([]rune(text))
}

// Decode converts ids back into text.
func (v *Vocabulary) Decode(ids []int) (string, error) {
	var sb strings.Builder
	sb.Grow(len(ids))
	for _, id := range ids {
		r, err := v.Symbol(id)
		if err != nil {
			return "", err
		}
		sb.WriteRune(r)
	}
	return sb.String(), nil
}
