package charnn

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-charnn/internal/tensor"
	"github.com/23skdu/longbow-charnn/internal/vocab"
	"gonum.org/v1/gonum/mat"
)

// GradClip bounds every gradient element after backpropagation.
const GradClip = 5.0

// Window is one training example: Targets[t] is the symbol following Inputs[t].
type Window struct {
	Inputs  []int
	Targets []int
}

// StepRecord is the result of one forward-backward pass.
type StepRecord struct {
	Loss   float64
	Grads  Params
	Hidden []float64 // final hidden state, carried into the next window
}

// chain threads a sticky error through a sequence of tensor operations.
// Once an operation fails every later call is a no-op returning nil.
type chain struct {
	err error
}

func (c *chain) add(a, b *mat.Dense) *mat.Dense {
	if c.err != nil {
		return nil
	}
	out, err := tensor.Add(a, b)
	c.err = err
	return out
}

func (c *chain) mul(a, b *mat.Dense) *mat.Dense {
	if c.err != nil {
		return nil
	}
	out, err := tensor.Mul(a, b)
	c.err = err
	return out
}

func (c *chain) mulElem(a, b *mat.Dense) *mat.Dense {
	if c.err != nil {
		return nil
	}
	out, err := tensor.MulElem(a, b)
	c.err = err
	return out
}

func (c *chain) outer(a, b *mat.Dense) *mat.Dense {
	if c.err != nil {
		return nil
	}
	out, err := tensor.Outer(a, b)
	c.err = err
	return out
}

func (c *chain) oneHot(n, i int) *mat.Dense {
	if c.err != nil {
		return nil
	}
	out, err := tensor.OneHot(n, i)
	c.err = err
	return out
}

func (c *chain) subFrom(s float64, a *mat.Dense) *mat.Dense {
	if c.err != nil {
		return nil
	}
	return tensor.SubFrom(s, a)
}

func (c *chain) tanh(a *mat.Dense) *mat.Dense {
	if c.err != nil {
		return nil
	}
	return tensor.Tanh(a)
}

func (c *chain) softmax(a *mat.Dense) *mat.Dense {
	if c.err != nil {
		return nil
	}
	return tensor.Softmax(a)
}

func (c *chain) clip(a *mat.Dense) *mat.Dense {
	if c.err != nil {
		return nil
	}
	out, err := tensor.Clip(a, -GradClip, GradClip)
	c.err = err
	return out
}

// cell advances the recurrence by one symbol:
//
//	h = tanh(Wxh·x + Whh·hPrev + bh)
//	p = softmax(Why·h + by)
func (m *Model) cell(c *chain, x, hPrev *mat.Dense) (h, p *mat.Dense) {
	pr := &m.params
	h = c.tanh(c.add(c.add(c.mul(pr.Wxh, x), c.mul(pr.Whh, hPrev)), pr.Bh))
	p = c.softmax(c.add(c.mul(pr.Why, h), pr.By))
	return h, p
}

func (m *Model) checkIDs(what string, ids []int) error {
	for i, id := range ids {
		if !m.Vocab.Contains(id) {
			return fmt.Errorf("%s[%d]: %w: id %d outside [0,%d)", what, i, vocab.ErrUnknownSymbol, id, m.Vocab.Size())
		}
	}
	return nil
}

func (m *Model) checkHidden(h []float64) error {
	if len(h) != m.Config.HiddenSize {
		return fmt.Errorf("%w: hidden state has %d values, want %d", ErrShape, len(h), m.Config.HiddenSize)
	}
	return nil
}

// TrainStep runs the forward and backward pass over one window starting from
// hPrev. It does not modify the model.
func (m *Model) TrainStep(w Window, hPrev []float64) (*StepRecord, error) {
	steps := m.Config.SeqLength
	if len(w.Inputs) != len(w.Targets) {
		return nil, fmt.Errorf("%w: %d inputs but %d targets", ErrShape, len(w.Inputs), len(w.Targets))
	}
	if len(w.Inputs) != steps {
		return nil, fmt.Errorf("%w: window length %d, want %d", ErrShape, len(w.Inputs), steps)
	}
	if err := m.checkIDs("inputs", w.Inputs); err != nil {
		return nil, err
	}
	if err := m.checkIDs("targets", w.Targets); err != nil {
		return nil, err
	}
	if err := m.checkHidden(hPrev); err != nil {
		return nil, err
	}

	hSize, vSize := m.Config.HiddenSize, m.Vocab.Size()
	var c chain

	// hs[t+1] is the hidden state after symbol t; hs[0] is hPrev.
	xs := make([]*mat.Dense, steps)
	hs := make([]*mat.Dense, steps+1)
	ps := make([]*mat.Dense, steps)
	hs[0] = tensor.NewVector(hSize, hPrev)

	var loss float64
	for t := 0; t < steps; t++ {
		xs[t] = c.oneHot(vSize, w.Inputs[t])
		hs[t+1], ps[t] = m.cell(&c, xs[t], hs[t])
		if c.err != nil {
			return nil, fmt.Errorf("forward t=%d: %w", t, c.err)
		}
		loss += -math.Log(ps[t].At(w.Targets[t], 0))
	}

	grads := zeroParams(hSize, vSize)
	whyT := tensor.Transpose(m.params.Why)
	whhT := tensor.Transpose(m.params.Whh)
	dhNext := tensor.Zeros(hSize, 1)

	for t := steps - 1; t >= 0; t-- {
		// softmax cross-entropy gradient: p - onehot(target)
		dy := mat.DenseCopyOf(ps[t])
		target := w.Targets[t]
		dy.Set(target, 0, dy.At(target, 0)-1)

		grads.Why = c.add(grads.Why, c.outer(dy, hs[t+1]))
		grads.By = c.add(grads.By, dy)

		dh := c.add(c.mul(whyT, dy), dhNext)
		// tanh'(a) = 1 - tanh(a)²
		h := hs[t+1]
		dhRaw := c.mulElem(c.subFrom(1, c.mulElem(h, h)), dh)
		grads.Bh = c.add(grads.Bh, dhRaw)
		grads.Wxh = c.add(grads.Wxh, c.outer(dhRaw, xs[t]))
		grads.Whh = c.add(grads.Whh, c.outer(dhRaw, hs[t]))
		dhNext = c.mul(whhT, dhRaw)

		if c.err != nil {
			return nil, fmt.Errorf("backward t=%d: %w", t, c.err)
		}
	}

	for _, g := range grads.named() {
		*g.t = c.clip(*g.t)
	}
	if c.err != nil {
		return nil, fmt.Errorf("clip gradients: %w", c.err)
	}

	return &StepRecord{
		Loss:   loss,
		Grads:  grads,
		Hidden: tensor.Values(hs[steps]),
	}, nil
}
