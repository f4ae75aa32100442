package client

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, c *Chunker) []string {
	t.Helper()
	var out []string
	for {
		chunk, err := c.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, string(chunk))
	}
}

func TestChunker(t *testing.T) {
	tests := []struct {
		name  string
		input string
		size  int
		want  []string
	}{
		{"empty", "", 4, nil},
		{"exact", "abcdefgh", 4, []string{"abcd", "efgh"}},
		{"partial tail", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"single", "hi", 125, []string{"hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewChunker(strings.NewReader(tt.input), tt.size)
			require.NoError(t, err)
			require.Equal(t, tt.want, collect(t, c))

			_, err = c.Next()
			require.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestChunkerShortReads(t *testing.T) {
	c, err := NewChunker(iotest.OneByteReader(strings.NewReader("abcdefg")), 3)
	require.NoError(t, err)
	require.Equal(t, []string{"abc", "def", "g"}, collect(t, c))
}

func TestChunkerReadError(t *testing.T) {
	boom := errors.New("boom")
	c, err := NewChunker(iotest.ErrReader(boom), 3)
	require.NoError(t, err)
	_, err = c.Next()
	require.ErrorIs(t, err, boom)
}

func TestChunkerInvalidSize(t *testing.T) {
	_, err := NewChunker(strings.NewReader("x"), 0)
	require.Error(t, err)
}
