package charnn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-charnn/internal/tensor"
	"github.com/23skdu/longbow-charnn/internal/vocab"
)

func TestChoose(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	t.Run("PointMass", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			got, err := choose([]float64{0, 1, 0}, rng)
			require.NoError(t, err)
			assert.Equal(t, 1, got)
		}
	})

	t.Run("Frequencies", func(t *testing.T) {
		counts := make([]int, 2)
		for i := 0; i < 10000; i++ {
			got, err := choose([]float64{0.25, 0.75}, rng)
			require.NoError(t, err)
			counts[got]++
		}
		assert.InDelta(t, 0.75, float64(counts[1])/10000, 0.03)
	})

	t.Run("Unnormalized", func(t *testing.T) {
		got, err := choose([]float64{0, 0, 5}, rng)
		require.NoError(t, err)
		assert.Equal(t, 2, got)
	})

	degenerate := map[string][]float64{
		"AllZero":  {0, 0, 0},
		"NaN":      {0.5, math.NaN()},
		"Infinite": {math.Inf(1), 0},
		"Empty":    {},
	}
	for name, p := range degenerate {
		t.Run(name, func(t *testing.T) {
			_, err := choose(p, rng)
			assert.ErrorIs(t, err, ErrDegenerateDistribution)
		})
	}
}

func TestSample(t *testing.T) {
	m := goldenModel(t)

	ids, err := m.Sample(m.ZeroState(), 0, 50, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	require.Len(t, ids, 50)
	for _, id := range ids {
		assert.True(t, m.Vocab.Contains(id))
	}

	again, err := m.Sample(m.ZeroState(), 0, 50, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	assert.Equal(t, ids, again, "same seed gives the same sequence")

	empty, err := m.Sample(m.ZeroState(), 0, 0, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSample_DoesNotTouchModel(t *testing.T) {
	m := goldenModel(t)
	require.NoError(t, m.SetHiddenState([]float64{0.3, 0.3}))
	before := m.Params()

	_, err := m.Sample(m.HiddenState(), 1, 20, rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	assert.Equal(t, []float64{0.3, 0.3}, m.HiddenState())
	assert.Equal(t, tensor.Values(before.Why), tensor.Values(m.Params().Why))
}

func TestSample_Errors(t *testing.T) {
	m := goldenModel(t)
	rng := rand.New(rand.NewSource(1))

	_, err := m.Sample(m.ZeroState(), 4, 5, rng)
	assert.ErrorIs(t, err, vocab.ErrUnknownSymbol)

	_, err = m.Sample([]float64{0, 0, 0}, 0, 5, rng)
	assert.ErrorIs(t, err, ErrShape)

	_, err = m.Sample(m.ZeroState(), 0, -1, rng)
	assert.ErrorIs(t, err, ErrShape)

	// exp overflows to +Inf and the normalized vector holds NaN
	m.params.By.Set(0, 0, 1000)
	_, err = m.Sample(m.ZeroState(), 0, 5, rng)
	assert.ErrorIs(t, err, ErrDegenerateDistribution)
}

func TestContinue(t *testing.T) {
	m := goldenModel(t)
	seeds := []int{3, 1, 1, 0}

	for s := int64(1); s <= 20; s++ {
		ids, err := m.Continue(m.ZeroState(), seeds, 10, rand.New(rand.NewSource(s)))
		require.NoError(t, err)
		require.Len(t, ids, 14)
		assert.Equal(t, seeds, ids[:4], "seed %d", s)
	}

	_, err := m.Continue(m.ZeroState(), nil, 10, rand.New(rand.NewSource(8)))
	assert.ErrorIs(t, err, ErrShape)
}

func TestGenerate(t *testing.T) {
	m := goldenModel(t)

	text, err := m.Generate("dab", 12, rand.New(rand.NewSource(4)))
	require.NoError(t, err)
	assert.Len(t, []rune(text), 15)
	assert.Equal(t, "dab", text[:3])
	for _, r := range text {
		assert.Contains(t, "abcd", string(r))
	}

	_, err = m.Generate("dax", 12, rand.New(rand.NewSource(4)))
	assert.ErrorIs(t, err, vocab.ErrUnknownSymbol)
}
