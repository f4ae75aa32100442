package server

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileSink appends delivered plaintext to a file, syncing after every write
// so data acknowledged to the sender is on disk.
type FileSink struct {
	f *os.File
}

// NewFileSink opens path for appending, creating it and its directory if
// needed. With truncate set, existing content is discarded first.
func NewFileSink(path string, truncate bool) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening output file: %w", err)
	}
	return &FileSink{f: f}, nil
}

// Write appends p to the file.
func (s *FileSink) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	if err != nil {
		return n, fmt.Errorf("writing output file: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return n, fmt.Errorf("syncing output file: %w", err)
	}
	return n, nil
}

// Name returns the path of the output file.
func (s *FileSink) Name() string { return s.f.Name() }

// Close closes the file.
func (s *FileSink) Close() error {
	return s.f.Close()
}
