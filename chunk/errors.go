package chunk

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Chunk Error Types
// ---------------------------------------------------------------------------

var (
	ErrUnexpectedEOF     = errors.New("unexpected end of input")
	ErrUnsupportedFormat = errors.New("unsupported chunk format")
	ErrMalformedChunk    = errors.New("malformed chunk")
)

// Kind discriminates fatal chunk conditions.
type Kind uint8

const (
	UnexpectedEndOfInput Kind = iota + 1
	UnsupportedFormat
	MalformedChunk
)

var kindNames = map[Kind]string{
	UnexpectedEndOfInput: "UnexpectedEndOfInput",
	UnsupportedFormat:    "UnsupportedFormat",
	MalformedChunk:       "MalformedChunk",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func (k Kind) sentinel() error {
	switch k {
	case UnexpectedEndOfInput:
		return ErrUnexpectedEOF
	case UnsupportedFormat:
		return ErrUnsupportedFormat
	default:
		return ErrMalformedChunk
	}
}

// Error is the failure value reported for every fatal condition. Offset is
// the byte offset into the chunk, or -1 when the failure was found after
// parsing. Func is the pre-order function index and PC the instruction
// index, both -1 when unknown.
type Error struct {
	Kind   Kind
	Offset int
	Func   int
	PC     int
	Msg    string
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("chunk: ")
	sb.WriteString(e.Kind.sentinel().Error())
	if e.Offset >= 0 {
		fmt.Fprintf(&sb, " at offset %d", e.Offset)
	}
	if e.Func >= 0 {
		fmt.Fprintf(&sb, " in function %d", e.Func)
	}
	if e.PC >= 0 {
		fmt.Fprintf(&sb, " at pc %d", e.PC)
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	return sb.String()
}

// Unwrap lets errors.Is match the sentinel for the error's kind.
func (e *Error) Unwrap() error { return e.Kind.sentinel() }

func eofAt(offset int, format string, args ...any) *Error {
	return &Error{Kind: UnexpectedEndOfInput, Offset: offset, Func: -1, PC: -1, Msg: fmt.Sprintf(format, args...)}
}

func unsupportedAt(offset int, format string, args ...any) *Error {
	return &Error{Kind: UnsupportedFormat, Offset: offset, Func: -1, PC: -1, Msg: fmt.Sprintf(format, args...)}
}

func malformedAt(offset int, format string, args ...any) *Error {
	return &Error{Kind: MalformedChunk, Offset: offset, Func: -1, PC: -1, Msg: fmt.Sprintf(format, args...)}
}

// MalformedAt reports a structurally invalid instruction found after
// parsing, located by function index and pc.
func MalformedAt(fn, pc int, format string, args ...any) *Error {
	return &Error{Kind: MalformedChunk, Offset: -1, Func: fn, PC: pc, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or 0 when err is not a chunk error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}
