package charnn

import "errors"

var (
	// ErrShape is returned when a window, seed, or hidden state has the wrong length.
	ErrShape = errors.New("charnn: shape error")

	// ErrEmptyCorpus is returned when the corpus is shorter than one window plus its target.
	ErrEmptyCorpus = errors.New("charnn: corpus shorter than seqLength+1")

	// ErrDegenerateDistribution is returned when sampling from a probability
	// vector that sums to zero or holds non-finite values.
	ErrDegenerateDistribution = errors.New("charnn: degenerate distribution")
)
