package chunk

import (
	"math"
	"strconv"
)

// ConstKind tags a constant pool entry.
type ConstKind uint8

const (
	ConstNil ConstKind = iota
	ConstBool
	ConstInt
	ConstFloat
	ConstString
)

// Constant is one entry of a function's constant pool.
type Constant struct {
	Kind  ConstKind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	// Long is set for strings stored in long form; the emitter may render
	// them with long brackets.
	Long bool
}

// Constructors for constant pool entries.
func NilConst() Constant { return Constant{Kind: ConstNil} }
func BoolConst(b bool) Constant { return Constant{Kind: ConstBool, Bool: b} }
func IntConst(i int64) Constant { return Constant{Kind: ConstInt, Int: i} }
func FloatConst(f float64) Constant { return Constant{Kind: ConstFloat, Float: f} }
func StringConst(s string) Constant { return Constant{Kind: ConstString, Str: s} }
func LongStringConst(s string) Constant {
	return Constant{Kind: ConstString, Str: s, Long: true}
}

// IsIdentifier reports whether the constant is a string usable as a bare
// field name or global name.
func (k Constant) IsIdentifier() bool {
	return k.Kind == ConstString && IsIdentifier(k.Str)
}

// Equal compares two constants, treating NaN floats as equal to each other.
func (k Constant) Equal(o Constant) bool {
	if k.Kind != o.Kind {
		return false
	}
	switch k.Kind {
	case ConstBool:
		return k.Bool == o.Bool
	case ConstInt:
		return k.Int == o.Int
	case ConstFloat:
		if math.IsNaN(k.Float) {
			return math.IsNaN(o.Float)
		}
		return math.Float64bits(k.Float) == math.Float64bits(o.Float)
	case ConstString:
		return k.Str == o.Str && k.Long == o.Long
	}
	return true
}

// String renders the constant for listings.
func (k Constant) String() string {
	switch k.Kind {
	case ConstBool:
		return strconv.FormatBool(k.Bool)
	case ConstInt:
		return strconv.FormatInt(k.Int, 10)
	case ConstFloat:
		return strconv.FormatFloat(k.Float, 'g', -1, 64)
	case ConstString:
		return strconv.Quote(k.Str)
	}
	return "nil"
}

var keywords = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true,
	"end": true, "false": true, "for": true, "function": true, "goto": true,
	"if": true, "in": true, "local": true, "nil": true, "not": true,
	"or": true, "repeat": true, "return": true, "then": true, "true": true,
	"until": true, "while": true,
}

// IsIdentifier reports whether s is a valid name that is not a keyword.
func IsIdentifier(s string) bool {
	if s == "" || keywords[s] {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
