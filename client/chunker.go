package client

import (
	"errors"
	"fmt"
	"io"
)

// Chunker splits a plaintext stream into chunks of at most Size bytes,
// reading lazily so arbitrarily long streams can be tunnelled.
type Chunker struct {
	r    io.Reader
	size int
	done bool
}

// NewChunker returns a chunker over r. A non-positive size is an error: the
// caller's domain leaves no room for data.
func NewChunker(r io.Reader, size int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	return &Chunker{r: r, size: size}, nil
}

// Size returns the maximum chunk size.
func (c *Chunker) Size() int { return c.size }

// Next returns the next chunk, or io.EOF once the stream is exhausted.
func (c *Chunker) Next() ([]byte, error) {
	if c.done {
		return nil, io.EOF
	}

	chunk := make([]byte, c.size)
	n, err := io.ReadFull(c.r, chunk)
	switch {
	case err == nil:
		return chunk, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.done = true
		return chunk[:n], nil
	case errors.Is(err, io.EOF):
		c.done = true
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("reading plaintext: %w", err)
	}
}
