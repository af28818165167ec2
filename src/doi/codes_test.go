package doi

import (
	"bytes"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef-test"

func TestNewCodeGenerator_RejectsShortSecret(t *testing.T) {
	_, err := NewCodeGenerator("short")
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestCodeGenerator_Generate(t *testing.T) {
	g, err := NewCodeGenerator(secret)
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	for i := 0; i < 200; i++ {
		c, err := g.Generate("session-1")
		require.NoError(t, err)

		n, err := strconv.Atoi(c.Code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1000)
		assert.LessOrEqual(t, n, 9999)
		assert.True(t, ValidateCode(c.Code))
		assert.Equal(t, now.Add(24*time.Hour), c.ExpiresAt)
	}
}

func TestCodeGenerator_DeterministicForSameInputs(t *testing.T) {
	g, err := NewCodeGenerator(secret)
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	g.random = bytes.NewReader([]byte{1, 2, 3, 4})
	a, err := g.Generate("s")
	require.NoError(t, err)
	g.random = bytes.NewReader([]byte{1, 2, 3, 4})
	b, err := g.Generate("s")
	require.NoError(t, err)

	assert.Equal(t, a.Code, b.Code)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestCodeGenerator_NonceFailure(t *testing.T) {
	g, err := NewCodeGenerator(secret)
	require.NoError(t, err)
	g.random = failingReader{}

	_, err = g.Generate("s")
	assert.Error(t, err)
}

func TestValidateCode(t *testing.T) {
	valid := []string{"1000", "9999", "4821", " 4821 "}
	invalid := []string{"", "999", "0999", "10000", "12a4", "abcd", "-123"}

	for _, c := range valid {
		assert.True(t, ValidateCode(c), c)
	}
	for _, c := range invalid {
		assert.False(t, ValidateCode(c), c)
	}
}
