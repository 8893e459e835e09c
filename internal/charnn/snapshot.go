package charnn

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-charnn/internal/tensor"
	"github.com/23skdu/longbow-charnn/internal/vocab"
	"gonum.org/v1/gonum/mat"
)

// Matrix is the serializable form of a tensor, row-major.
type Matrix struct {
	Rows int       `cbor:"rows"`
	Cols int       `cbor:"cols"`
	Data []float64 `cbor:"data"`
}

func matrixOf(d *mat.Dense) Matrix {
	r, c := d.Dims()
	return Matrix{Rows: r, Cols: c, Data: tensor.Values(d)}
}

func (m Matrix) dense(name string, rows, cols int) (*mat.Dense, error) {
	if m.Rows != rows || m.Cols != cols || len(m.Data) != rows*cols {
		return nil, fmt.Errorf("%w: %s is %dx%d with %d values, want %dx%d", ErrShape, name, m.Rows, m.Cols, len(m.Data), rows, cols)
	}
	if i, ok := firstNonFinite(m.Data); !ok {
		return nil, fmt.Errorf("%w: %s[%d] is %v", ErrShape, name, i, m.Data[i])
	}
	d, err := tensor.NewMatrix(rows, cols, m.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func firstNonFinite(data []float64) (int, bool) {
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return i, false
		}
	}
	return 0, true
}

// TensorSet holds one Matrix per parameter tensor.
type TensorSet struct {
	Wxh Matrix `cbor:"wxh"`
	Whh Matrix `cbor:"whh"`
	Why Matrix `cbor:"why"`
	Bh  Matrix `cbor:"bh"`
	By  Matrix `cbor:"by"`
}

func tensorSetOf(p Params) TensorSet {
	return TensorSet{
		Wxh: matrixOf(p.Wxh),
		Whh: matrixOf(p.Whh),
		Why: matrixOf(p.Why),
		Bh:  matrixOf(p.Bh),
		By:  matrixOf(p.By),
	}
}

func (s TensorSet) params(h, v int) (Params, error) {
	var p Params
	var err error
	if p.Wxh, err = s.Wxh.dense("Wxh", h, v); err != nil {
		return p, err
	}
	if p.Whh, err = s.Whh.dense("Whh", h, h); err != nil {
		return p, err
	}
	if p.Why, err = s.Why.dense("Why", v, h); err != nil {
		return p, err
	}
	if p.Bh, err = s.Bh.dense("bh", h, 1); err != nil {
		return p, err
	}
	if p.By, err = s.By.dense("by", v, 1); err != nil {
		return p, err
	}
	return p, nil
}

// OptimizerState is the optional Adagrad state carried in a snapshot.
type OptimizerState struct {
	Step         int       `cbor:"step"`
	Accumulators TensorSet `cbor:"accumulators"`
}

// Snapshot is the checkpoint record of a model. Restore(m.Snapshot())
// reproduces m exactly.
type Snapshot struct {
	Symbols      []rune          `cbor:"symbols"`
	HiddenSize   int             `cbor:"hidden_size"`
	SeqLength    int             `cbor:"seq_length"`
	LearningRate float64         `cbor:"learning_rate"`
	Params       TensorSet       `cbor:"params"`
	Hidden       []float64       `cbor:"hidden"`
	Optimizer    *OptimizerState `cbor:"optimizer,omitempty"`
}

// Snapshot captures vocabulary, hyperparameters, parameters, hidden state and
// optimizer state.
func (m *Model) Snapshot() Snapshot {
	return Snapshot{
		Symbols:      m.Vocab.Symbols(),
		HiddenSize:   m.Config.HiddenSize,
		SeqLength:    m.Config.SeqLength,
		LearningRate: m.Config.LearningRate,
		Params:       tensorSetOf(m.params),
		Hidden:       m.HiddenState(),
		Optimizer: &OptimizerState{
			Step:         m.opt.step,
			Accumulators: tensorSetOf(m.opt.mem),
		},
	}
}

// Restore rebuilds a model from a snapshot. A snapshot without optimizer
// state yields zeroed accumulators and a step counter of zero. Non-finite
// values, negative accumulators and a negative step are rejected with ErrShape.
func Restore(s Snapshot) (*Model, error) {
	cfg := Config{
		HiddenSize:   s.HiddenSize,
		SeqLength:    s.SeqLength,
		LearningRate: s.LearningRate,
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	voc, err := vocab.FromSymbols(s.Symbols)
	if err != nil {
		return nil, err
	}
	if voc.Size() == 0 {
		return nil, fmt.Errorf("%w: snapshot has an empty vocabulary", ErrShape)
	}
	h, v := cfg.HiddenSize, voc.Size()

	params, err := s.Params.params(h, v)
	if err != nil {
		return nil, fmt.Errorf("restore params: %w", err)
	}

	opt := NewAdagrad(cfg.LearningRate, DefaultOptimizerConfig(), h, v)
	if s.Optimizer != nil {
		if s.Optimizer.Step < 0 {
			return nil, fmt.Errorf("%w: optimizer step %d is negative", ErrShape, s.Optimizer.Step)
		}
		mem, err := s.Optimizer.Accumulators.params(h, v)
		if err != nil {
			return nil, fmt.Errorf("restore accumulators: %w", err)
		}
		// accumulators only ever grow from zero
		for _, nt := range mem.named() {
			if mat.Min(*nt.t) < 0 {
				return nil, fmt.Errorf("%w: accumulator %s has a negative value", ErrShape, nt.name)
			}
		}
		opt.mem = mem
		opt.step = s.Optimizer.Step
	}

	hidden := make([]float64, h)
	if s.Hidden != nil {
		if len(s.Hidden) != h {
			return nil, fmt.Errorf("%w: hidden state has %d values, want %d", ErrShape, len(s.Hidden), h)
		}
		if i, ok := firstNonFinite(s.Hidden); !ok {
			return nil, fmt.Errorf("%w: hidden[%d] is %v", ErrShape, i, s.Hidden[i])
		}
		copy(hidden, s.Hidden)
	}

	return &Model{
		Config: cfg,
		Vocab:  voc,
		params: params,
		opt:    opt,
		hidden: hidden,
	}, nil
}
