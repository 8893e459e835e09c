package charnn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/23skdu/longbow-charnn/internal/tensor"
	"gonum.org/v1/gonum/mat"
)

// choose draws an index by cumulative weight: u is uniform in [0, total) and
// the first index whose running sum reaches u wins.
func choose(p []float64, rng *rand.Rand) (int, error) {
	var total float64
	for i, w := range p {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return 0, fmt.Errorf("%w: probability %d is %g", ErrDegenerateDistribution, i, w)
		}
		total += w
	}
	if total <= 0 || math.IsInf(total, 0) {
		return 0, fmt.Errorf("%w: total weight %g", ErrDegenerateDistribution, total)
	}

	u := rng.Float64() * total
	var running float64
	for i, w := range p {
		running += w
		if running >= u {
			return i, nil
		}
	}
	return len(p) - 1, nil
}

// generate runs the recurrence for steps symbols, starting with input first.
// While t < len(forced) the emitted symbol is forced[t]; a value is still
// drawn so the random stream advances identically either way.
func (m *Model) generate(h []float64, first int, forced []int, steps int, rng *rand.Rand) ([]int, error) {
	if err := m.checkHidden(h); err != nil {
		return nil, err
	}
	if steps < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrShape, steps)
	}
	if err := m.checkIDs("seed", append([]int{first}, forced...)); err != nil {
		return nil, err
	}

	var c chain
	state := tensor.NewVector(m.Config.HiddenSize, h)
	input := first
	out := make([]int, steps)

	for t := 0; t < steps; t++ {
		x := c.oneHot(m.Vocab.Size(), input)
		var p *mat.Dense
		state, p = m.cell(&c, x, state)
		if c.err != nil {
			return nil, fmt.Errorf("sample t=%d: %w", t, c.err)
		}

		drawn, err := choose(p.RawMatrix().Data, rng)
		if err != nil {
			return nil, fmt.Errorf("sample t=%d: %w", t, err)
		}
		if t < len(forced) {
			out[t] = forced[t]
		} else {
			out[t] = drawn
		}
		input = out[t]
	}

	generatedSymbols.Add(float64(steps - min(steps, len(forced))))
	return out, nil
}

// Sample generates n ids from hidden state h, feeding seed as the first input.
// The seed itself is not part of the result.
func (m *Model) Sample(h []float64, seed, n int, rng *rand.Rand) ([]int, error) {
	return m.generate(h, seed, nil, n, rng)
}

// Continue runs the recurrence over the seed ids, emitting each one as is, and
// then generates extra more ids. The result starts with seeds verbatim.
func (m *Model) Continue(h []float64, seeds []int, extra int, rng *rand.Rand) ([]int, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("%w: empty seed", ErrShape)
	}
	if extra < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrShape, extra)
	}
	return m.generate(h, seeds[0], seeds, len(seeds)+extra, rng)
}

// SampleText is Sample decoded through the vocabulary.
func (m *Model) SampleText(h []float64, seed, n int, rng *rand.Rand) (string, error) {
	ids, err := m.Sample(h, seed, n, rng)
	if err != nil {
		return "", err
	}
	return m.Vocab.Decode(ids)
}

// Generate continues prime for n more symbols from the zero hidden state.
func (m *Model) Generate(prime string, n int, rng *rand.Rand) (string, error) {
	seeds, err := m.Vocab.Encode(prime)
	if err != nil {
		return "", err
	}
	ids, err := m.Continue(m.ZeroState(), seeds, n, rng)
	if err != nil {
		return "", err
	}
	return m.Vocab.Decode(ids)
}
