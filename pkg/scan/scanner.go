// Package scan streams text files line by line and extracts candidate domains.
package scan

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

const readBufferSize = 64 * 1024

// ScanError reports an I/O failure while reading a file.
type ScanError struct {
	Path string
	Line int
	Err  error
}

func (e *ScanError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("scan %s (line %d): %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("scan %s: %v", e.Path, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Scanner iterates the lines of a file. Unlike bufio.Scanner it enforces no
// line length limit; memory grows only to the longest line seen.
type Scanner struct {
	path    string
	file    *os.File
	reader  *bufio.Reader
	buf     []byte
	line    string
	lineNum int
	done    bool
	err     error
}

// Open starts a new single-pass scan of path.
func Open(path string) (*Scanner, error) {
	file, err := os.Open(path) // #nosec G304 -- path is inside the run workspace.
	if err != nil {
		return nil, &ScanError{Path: path, Err: err}
	}
	return NewScanner(path, file), nil
}

// NewScanner scans r. name is only used in errors. If r is an *os.File it is
// closed by Close.
func NewScanner(name string, r io.Reader) *Scanner {
	s := &Scanner{
		path:   name,
		reader: bufio.NewReaderSize(r, readBufferSize),
	}
	if file, ok := r.(*os.File); ok {
		s.file = file
	}
	return s
}

// Next advances to the next line. It returns false at end of input or on error.
func (s *Scanner) Next() bool {
	if s.done {
		return false
	}

	s.buf = s.buf[:0]
	for {
		chunk, isPrefix, err := s.reader.ReadLine()
		if err != nil {
			s.done = true
			if !errors.Is(err, io.EOF) {
				s.err = &ScanError{Path: s.path, Line: s.lineNum + 1, Err: err}
			}
			return false
		}
		s.buf = append(s.buf, chunk...)
		if !isPrefix {
			break
		}
	}

	s.lineNum++
	s.line = string(s.buf)
	return true
}

// Line returns the current line without its line terminator.
func (s *Scanner) Line() string {
	return s.line
}

// LineNumber returns the 1-based number of the current line.
func (s *Scanner) LineNumber() int {
	return s.lineNum
}

// Err returns the first non-EOF error encountered.
func (s *Scanner) Err() error {
	return s.err
}

// Close releases the underlying file.
func (s *Scanner) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
