// Package output provides destinations for emitted source text.
package output

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Sink receives emitted text. Finish flushes and releases the destination;
// a Sink must not be used after Finish.
type Sink interface {
	Emit(s string)
	EmitByte(b byte)
	Newline()
	Finish() error
}

// WriterSink writes to an io.Writer through a buffer. The first write error
// is kept and returned by Finish.
type WriterSink struct {
	w      *bufio.Writer
	closer io.Closer
	err    error
}

// NewWriterSink wraps w. Finish flushes but does not close w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: bufio.NewWriter(w)}
}

// CreateFileSink creates (or truncates) the file at path.
func CreateFileSink(path string) (*WriterSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("cannot create %s: %w", path, err)
	}
	return &WriterSink{w: bufio.NewWriter(f), closer: f}, nil
}

func (s *WriterSink) Emit(text string) {
	if s.err == nil {
		_, s.err = s.w.WriteString(text)
	}
}

func (s *WriterSink) EmitByte(b byte) {
	if s.err == nil {
		s.err = s.w.WriteByte(b)
	}
}

func (s *WriterSink) Newline() { s.EmitByte('\n') }

// Finish flushes buffered output and closes the file, if any.
func (s *WriterSink) Finish() error {
	if s.err == nil {
		s.err = s.w.Flush()
	}
	if s.closer != nil {
		if err := s.closer.Close(); err != nil && s.err == nil {
			s.err = err
		}
		s.closer = nil
	}
	return s.err
}

// StringSink collects output in memory.
type StringSink struct {
	sb       strings.Builder
	finished bool
}

func (s *StringSink) Emit(text string) { s.sb.WriteString(text) }
func (s *StringSink) EmitByte(b byte)  { s.sb.WriteByte(b) }
func (s *StringSink) Newline()         { s.sb.WriteByte('\n') }

func (s *StringSink) Finish() error {
	s.finished = true
	return nil
}

// String returns everything emitted so far.
func (s *StringSink) String() string { return s.sb.String() }

// Finished reports whether Finish was called.
func (s *StringSink) Finished() bool { return s.finished }
