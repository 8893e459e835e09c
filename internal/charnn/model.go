// Package charnn implements a character-level recurrent network trained by
// truncated backpropagation through time, with an Adagrad optimizer and an
// autoregressive sampler.
package charnn

import (
	"fmt"
	"math/rand"

	"github.com/23skdu/longbow-charnn/internal/tensor"
	"github.com/23skdu/longbow-charnn/internal/vocab"
	"gonum.org/v1/gonum/mat"
)

// Config holds the hyperparameters fixed for the lifetime of a model.
type Config struct {
	HiddenSize   int
	SeqLength    int
	LearningRate float64
}

// DefaultConfig returns the hyperparameters of the classic min-char-rnn setup.
func DefaultConfig() Config {
	return Config{
		HiddenSize:   100,
		SeqLength:    25,
		LearningRate: 0.1,
	}
}

func (c Config) validate() error {
	if c.HiddenSize <= 0 {
		return fmt.Errorf("charnn: hidden size must be positive, got %d", c.HiddenSize)
	}
	if c.SeqLength <= 0 {
		return fmt.Errorf("charnn: sequence length must be positive, got %d", c.SeqLength)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("charnn: learning rate must be positive, got %g", c.LearningRate)
	}
	return nil
}

// Params are the trainable tensors. Vectors are column matrices.
type Params struct {
	Wxh *mat.Dense // H x V
	Whh *mat.Dense // H x H
	Why *mat.Dense // V x H
	Bh  *mat.Dense // H x 1
	By  *mat.Dense // V x 1
}

type namedTensor struct {
	name string
	t    **mat.Dense
}

func (p *Params) named() []namedTensor {
	return []namedTensor{
		{"Wxh", &p.Wxh},
		{"Whh", &p.Whh},
		{"Why", &p.Why},
		{"bh", &p.Bh},
		{"by", &p.By},
	}
}

// Clone returns a deep copy.
func (p Params) Clone() Params {
	return Params{
		Wxh: mat.DenseCopyOf(p.Wxh),
		Whh: mat.DenseCopyOf(p.Whh),
		Why: mat.DenseCopyOf(p.Why),
		Bh:  mat.DenseCopyOf(p.Bh),
		By:  mat.DenseCopyOf(p.By),
	}
}

func zeroParams(h, v int) Params {
	return Params{
		Wxh: tensor.Zeros(h, v),
		Whh: tensor.Zeros(h, h),
		Why: tensor.Zeros(v, h),
		Bh:  tensor.Zeros(h, 1),
		By:  tensor.Zeros(v, 1),
	}
}

// Model is a vanilla tanh RNN over a fixed vocabulary. It is not safe for
// concurrent use while training; sampling only reads the parameters.
type Model struct {
	Config Config
	Vocab  *vocab.Vocabulary

	params Params
	opt    *Adagrad
	hidden []float64
}

// New builds the vocabulary from the corpus symbols and initializes the
// weights uniformly in [-0.005, 0.005). Biases start at zero.
func New(symbols []rune, cfg Config, rng *rand.Rand) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(symbols) < cfg.SeqLength+1 {
		return nil, fmt.Errorf("%w: %d symbols, need %d", ErrEmptyCorpus, len(symbols), cfg.SeqLength+1)
	}

	voc := vocab.Build(symbols)
	h, v := cfg.HiddenSize, voc.Size()

	return &Model{
		Config: cfg,
		Vocab:  voc,
		params: Params{
			Wxh: initWeights(rng, h, v),
			Whh: initWeights(rng, h, h),
			Why: initWeights(rng, v, h),
			Bh:  tensor.Zeros(h, 1),
			By:  tensor.Zeros(v, 1),
		},
		opt:    NewAdagrad(cfg.LearningRate, DefaultOptimizerConfig(), h, v),
		hidden: make([]float64, h),
	}, nil
}

func initWeights(rng *rand.Rand, r, c int) *mat.Dense {
	return tensor.Scale(tensor.AddScalar(tensor.Uniform(rng, r, c), -0.5), 0.01)
}

// Params returns a copy of the current parameters.
func (m *Model) Params() Params {
	return m.params.Clone()
}

// Accumulators returns a copy of the optimizer's squared-gradient sums.
func (m *Model) Accumulators() Params {
	return m.opt.mem.Clone()
}

// Steps returns how many updates the optimizer has applied.
func (m *Model) Steps() int {
	return m.opt.Step()
}

// VocabSize returns V.
func (m *Model) VocabSize() int {
	return m.Vocab.Size()
}

// HiddenState returns a copy of the hidden state carried by the model.
func (m *Model) HiddenState() []float64 {
	out := make([]float64, len(m.hidden))
	copy(out, m.hidden)
	return out
}

// SetHiddenState replaces the carried hidden state.
func (m *Model) SetHiddenState(h []float64) error {
	if len(h) != m.Config.HiddenSize {
		return fmt.Errorf("%w: hidden state has %d values, want %d", ErrShape, len(h), m.Config.HiddenSize)
	}
	copy(m.hidden, h)
	return nil
}

// ZeroState returns a fresh all-zero hidden state.
func (m *Model) ZeroState() []float64 {
	return make([]float64, m.Config.HiddenSize)
}

// ApplyUpdate runs one Adagrad step with the gradients of rec.
func (m *Model) ApplyUpdate(rec *StepRecord) error {
	return m.opt.Update(&m.params, &rec.Grads)
}
