package emit

import (
	"math"
	"strconv"
	"strings"

	"github.com/chazu/luadec/chunk"
)

// literal renders a constant as Lua source for the given dialect.
func literal(k chunk.Constant, v chunk.Variant) string {
	switch k.Kind {
	case chunk.ConstNil:
		return "nil"
	case chunk.ConstBool:
		if k.Bool {
			return "true"
		}
		return "false"
	case chunk.ConstInt:
		return formatInt(k.Int)
	case chunk.ConstFloat:
		return formatFloat(k.Float, v)
	default:
		if k.Long && strings.IndexByte(k.Str, '\n') >= 0 {
			if s, ok := longBracket(k.Str); ok {
				return s
			}
		}
		return quote(k.Str)
	}
}

// negative reports whether the literal starts with a minus sign.
func negative(k chunk.Constant) bool {
	switch k.Kind {
	case chunk.ConstInt:
		return k.Int < 0
	case chunk.ConstFloat:
		return math.Signbit(k.Float) && !math.IsNaN(k.Float)
	}
	return false
}

func formatInt(n int64) string {
	if n == math.MinInt64 {
		// The literal 9223372036854775808 does not fit an integer.
		return "(-9223372036854775807 - 1)"
	}
	return strconv.FormatInt(n, 10)
}

// formatFloat renders the shortest text that reads back as f. Integral
// values keep a fraction under 5.3 so they stay floats.
func formatFloat(f float64, v chunk.Variant) string {
	switch {
	case math.IsNaN(f):
		return "(0/0)"
	case math.IsInf(f, 1):
		return "1e9999"
	case math.IsInf(f, -1):
		return "-1e9999"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if v == chunk.VariantB && !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// quote renders s as a double-quoted string literal.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\a':
			b.WriteString(`\a`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\v':
			b.WriteString(`\v`)
		default:
			if c < 0x20 || c == 0x7f {
				// Three digits so a following digit is not absorbed.
				b.WriteByte('\\')
				b.WriteString(strconv.Itoa(int(c) + 1000)[1:])
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// longBracket renders s between long brackets of the lowest level whose
// closing bracket does not occur in s. Carriage returns are normalized by
// the Lua lexer, so such strings are not representable.
func longBracket(s string) (string, bool) {
	if strings.IndexByte(s, '\r') >= 0 {
		return "", false
	}
	level := 0
	closed := s + "]"
	for strings.Contains(closed, "]"+strings.Repeat("=", level)+"]") {
		level++
	}
	eq := strings.Repeat("=", level)
	var b strings.Builder
	b.WriteString("[" + eq + "[")
	if s[0] == '\n' {
		// The lexer drops a newline directly after the opening bracket.
		b.WriteByte('\n')
	}
	b.WriteString(s)
	b.WriteString("]" + eq + "]")
	return b.String(), true
}
