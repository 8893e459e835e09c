package corpus

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(path, []byte("héllo\n"), 0644))

	symbols, err := Read(path, false)
	require.NoError(t, err)
	assert.Equal(t, []rune("héllo\n"), symbols)
}

func TestRead_Missing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope.txt"), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "I/O errors keep their identity")
}

func TestReadFrom_Normalize(t *testing.T) {
	// "e" followed by a combining acute accent
	decomposed := "e\u0301"

	raw, err := ReadFrom(strings.NewReader(decomposed), false)
	require.NoError(t, err)
	assert.Len(t, raw, 2)

	nfc, err := ReadFrom(strings.NewReader(decomposed), true)
	require.NoError(t, err)
	assert.Equal(t, []rune{'é'}, nfc)
}

func TestReadFrom_InvalidUTF8(t *testing.T) {
	_, err := ReadFrom(strings.NewReader("ab\xffcd"), false)
	assert.Error(t, err)
}

func TestGenerateLorem(t *testing.T) {
	for _, count := range []int{1, 5, 10} {
		text := GenerateLorem(count, 42)
		assert.Len(t, strings.Split(text, "\n"), count)
		assert.NotEmpty(t, text)
	}

	assert.Equal(t, GenerateLorem(3, 7), GenerateLorem(3, 7))
	assert.Empty(t, GenerateLorem(0, 7))
}
