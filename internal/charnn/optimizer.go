package charnn

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-charnn/internal/tensor"
	"gonum.org/v1/gonum/mat"
)

// OptimizerConfig holds the Adagrad constants.
type OptimizerConfig struct {
	// GlobalReg is the (negative) weight decay scale; the decay applied at
	// step n is GlobalReg / sqrt(n + RegOffset).
	GlobalReg float64
	RegOffset float64
	Epsilon   float64
}

// DefaultOptimizerConfig returns the constants the model is trained with.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		GlobalReg: -0.001,
		RegOffset: 100,
		Epsilon:   1e-8,
	}
}

// Adagrad scales each parameter's step by the inverse square root of its
// accumulated squared gradients, plus a decaying weight decay.
type Adagrad struct {
	cfg  OptimizerConfig
	lr   float64
	mem  Params
	step int
}

// NewAdagrad creates an optimizer with zeroed accumulators for an H x V model.
func NewAdagrad(lr float64, cfg OptimizerConfig, h, v int) *Adagrad {
	return &Adagrad{
		cfg: cfg,
		lr:  lr,
		mem: zeroParams(h, v),
	}
}

// Step returns the number of updates applied so far.
func (a *Adagrad) Step() int {
	return a.step
}

// Update applies one step to p using gradients g. The output bias gets the
// scaled gradient step but no weight decay. Nothing is modified if any
// shape disagrees.
func (a *Adagrad) Update(p, g *Params) error {
	params, grads, mems := p.named(), g.named(), a.mem.named()
	for i := range params {
		pt, gt, mt := *params[i].t, *grads[i].t, *mems[i].t
		if gt == nil || !tensor.SameShape(pt, gt) || !tensor.SameShape(pt, mt) {
			return fmt.Errorf("%w: gradient for %s", tensor.ErrDimensionMismatch, params[i].name)
		}
	}

	regTerm := a.cfg.GlobalReg / math.Sqrt(float64(a.step)+a.cfg.RegOffset)

	newParams := make([]*mat.Dense, len(params))
	newMems := make([]*mat.Dense, len(params))
	for i := range params {
		decay := params[i].name != "by"
		var err error
		newParams[i], newMems[i], err = a.update(*params[i].t, *grads[i].t, *mems[i].t, regTerm, decay)
		if err != nil {
			return fmt.Errorf("update %s: %w", params[i].name, err)
		}
	}

	for i := range params {
		*params[i].t = newParams[i]
		*mems[i].t = newMems[i]
	}
	a.step++
	return nil
}

// update computes
//
//	m' = m + g⊙g
//	θ' = θ - lr·g/sqrt(m'+ε) + regTerm·θ
//
// with the regTerm·θ term only when decay is set.
func (a *Adagrad) update(theta, g, m *mat.Dense, regTerm float64, decay bool) (*mat.Dense, *mat.Dense, error) {
	sq, err := tensor.MulElem(g, g)
	if err != nil {
		return nil, nil, err
	}
	mem, err := tensor.Add(m, sq)
	if err != nil {
		return nil, nil, err
	}

	step, err := tensor.DivElem(tensor.Scale(g, -a.lr), tensor.Sqrt(tensor.AddScalar(mem, a.cfg.Epsilon)))
	if err != nil {
		return nil, nil, err
	}
	if decay {
		if step, err = tensor.Add(step, tensor.Scale(theta, regTerm)); err != nil {
			return nil, nil, err
		}
	}

	next, err := tensor.Add(theta, step)
	if err != nil {
		return nil, nil, err
	}
	return next, mem, nil
}
