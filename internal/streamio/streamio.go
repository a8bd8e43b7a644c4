// Package streamio provides the file-backed byte-source and byte-sink
// adapters the engines consume: a chunked reader that signals EOF with a
// zero-length read, and a sequential writer.
package streamio

import (
	"io"
	"os"
)

// FileSource reads a file in fixed-size chunks, implementing
// sender.Source without importing the sender package (kept dependency-
// free so streamio stays a leaf).
type FileSource struct {
	f *os.File
}

// OpenFile opens path for reading as a FileSource.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{f: f}, nil
}

// ReadUpTo reads at most n bytes, returning a shorter-or-empty slice at
// EOF rather than an error: io.EOF is swallowed because the sender
// protocol treats a zero-length read as the EOF signal, not an error.
func (s *FileSource) ReadUpTo(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := s.f.Read(buf)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:read], nil
}

// Close releases the underlying file.
func (s *FileSource) Close() error { return s.f.Close() }

// FileSink writes delivered payloads to a file in the order they arrive.
type FileSink struct {
	f *os.File
}

// CreateFile creates (truncating) path for writing as a FileSink.
func CreateFile(path string) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f}, nil
}

// Write appends payload to the file.
func (s *FileSink) Write(payload []byte) error {
	_, err := s.f.Write(payload)
	return err
}

// Close releases the underlying file.
func (s *FileSink) Close() error { return s.f.Close() }
