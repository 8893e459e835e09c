package charnn

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-charnn/internal/tensor"
)

func TestSnapshotRestore(t *testing.T) {
	tr, m := newTestTrainer(t, "snapshots should round trip", TrainerConfig{MaxSteps: 6})
	require.NoError(t, tr.Run(context.Background()))

	restored, err := Restore(m.Snapshot())
	require.NoError(t, err)

	assert.Equal(t, m.Config, restored.Config)
	assert.Equal(t, m.Vocab.Symbols(), restored.Vocab.Symbols())
	assert.Equal(t, m.HiddenState(), restored.HiddenState())
	assert.Equal(t, m.Steps(), restored.Steps())

	// both models must produce identical steps from here on
	ids, err := m.Vocab.Encode("round")
	require.NoError(t, err)
	w := Window{Inputs: ids[:3], Targets: ids[1:4]}

	a, err := m.TrainStep(w, m.HiddenState())
	require.NoError(t, err)
	b, err := restored.TrainStep(w, restored.HiddenState())
	require.NoError(t, err)
	assert.Equal(t, a.Loss, b.Loss)
	assert.Equal(t, tensor.Values(a.Grads.Whh), tensor.Values(b.Grads.Whh))

	require.NoError(t, m.ApplyUpdate(a))
	require.NoError(t, restored.ApplyUpdate(b))
	pa, pb := m.Params(), restored.Params()
	for i, nt := range pa.named() {
		assert.Equal(t, tensor.Values(*nt.t), tensor.Values(*pb.named()[i].t), nt.name)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	m := goldenModel(t)
	s := m.Snapshot()
	s.Params.Wxh.Data[0] = 99
	s.Hidden[0] = 99

	assert.Equal(t, 0.1, m.Params().Wxh.At(0, 0))
	assert.Equal(t, 0.0, m.HiddenState()[0])
}

func TestRestore_Errors(t *testing.T) {
	valid := func() Snapshot {
		m, err := New([]rune("abcdabcd"), Config{HiddenSize: 3, SeqLength: 2, LearningRate: 0.1}, rand.New(rand.NewSource(1)))
		require.NoError(t, err)
		return m.Snapshot()
	}

	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"WxhShape", func(s *Snapshot) { s.Params.Wxh.Cols = 5 }},
		{"ShortData", func(s *Snapshot) { s.Params.Whh.Data = s.Params.Whh.Data[:2] }},
		{"ByShape", func(s *Snapshot) { s.Params.By.Rows = 3 }},
		{"Hidden", func(s *Snapshot) { s.Hidden = []float64{1} }},
		{"Accumulators", func(s *Snapshot) { s.Optimizer.Accumulators.Bh.Rows = 1 }},
		{"NegativeAccumulator", func(s *Snapshot) { s.Optimizer.Accumulators.Bh.Data[1] = -1 }},
		{"NaNAccumulator", func(s *Snapshot) { s.Optimizer.Accumulators.Whh.Data[0] = math.NaN() }},
		{"NegativeStep", func(s *Snapshot) { s.Optimizer.Step = -100 }},
		{"InfParam", func(s *Snapshot) { s.Params.Why.Data[2] = math.Inf(1) }},
		{"NaNParam", func(s *Snapshot) { s.Params.By.Data[0] = math.NaN() }},
		{"InfHidden", func(s *Snapshot) { s.Hidden[0] = math.Inf(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			_, err := Restore(s)
			assert.ErrorIs(t, err, ErrShape)
		})
	}

	t.Run("DuplicateSymbols", func(t *testing.T) {
		s := valid()
		s.Symbols = []rune("abca")
		_, err := Restore(s)
		assert.Error(t, err)
	})

	t.Run("BadConfig", func(t *testing.T) {
		s := valid()
		s.LearningRate = 0
		_, err := Restore(s)
		assert.Error(t, err)
	})

	t.Run("UpdateAfterRestoreStaysFinite", func(t *testing.T) {
		s := valid()
		s.Optimizer.Step = 0
		m, err := Restore(s)
		require.NoError(t, err)

		rec := &StepRecord{Grads: zeroParams(3, 4)}
		require.NoError(t, m.ApplyUpdate(rec))
		p := m.Params()
		for _, nt := range p.named() {
			for _, v := range tensor.Values(*nt.t) {
				assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), nt.name)
			}
		}
	})

	t.Run("NoOptimizerState", func(t *testing.T) {
		s := valid()
		s.Optimizer = nil
		m, err := Restore(s)
		require.NoError(t, err)
		assert.Equal(t, 0, m.Steps())
		assert.Equal(t, []float64{0, 0, 0}, tensor.Values(m.Accumulators().Bh))
	})
}
