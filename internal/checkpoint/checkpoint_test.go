package checkpoint

import (
	"bytes"
	"context"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-charnn/internal/charnn"
)

func trainedModel(t *testing.T) *charnn.Model {
	t.Helper()
	text := "checkpoints keep every bit of the model"
	rng := rand.New(rand.NewSource(7))
	m, err := charnn.New([]rune(text), charnn.Config{HiddenSize: 6, SeqLength: 5, LearningRate: 0.1}, rng)
	require.NoError(t, err)
	ids, err := m.Vocab.Encode(text)
	require.NoError(t, err)
	tr, err := charnn.NewTrainer(m, ids, charnn.TrainerConfig{MaxSteps: 9}, rng)
	require.NoError(t, err)
	require.NoError(t, tr.Run(context.Background()))
	return m
}

func TestEncodeDecode(t *testing.T) {
	m := trainedModel(t)
	want := m.Snapshot()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, want))
	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	restored, err := charnn.Restore(got)
	require.NoError(t, err)
	assert.Equal(t, m.Steps(), restored.Steps())
	assert.Equal(t, m.HiddenState(), restored.HiddenState())
}

func TestDecode_Errors(t *testing.T) {
	t.Run("Garbage", func(t *testing.T) {
		_, err := Decode(bytes.NewReader([]byte{0xff, 0x00, 0x13}))
		assert.Error(t, err)
	})

	t.Run("Version", func(t *testing.T) {
		data, err := cbor.Marshal(envelope{Version: 99})
		require.NoError(t, err)
		_, err = Decode(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrVersion)
	})
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "model.ckpt")
	m := trainedModel(t)

	require.NoError(t, Save(ctx, path, m.Snapshot()))
	got, err := Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, m.Snapshot(), got)

	// no temp files are left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = Load(ctx, filepath.Join(dir, "missing.ckpt"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestFile_Checkpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.ckpt")
	m := trainedModel(t)

	var c charnn.Checkpointer = File{Path: path}
	require.NoError(t, c.Checkpoint(context.Background(), m.Snapshot()))

	got, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, got.Optimizer)
	assert.Equal(t, 10, got.Optimizer.Step)
}
