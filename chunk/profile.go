package chunk

import (
	"encoding/binary"
	"fmt"
)

// Variant selects the parsing strategy for headers, strings and function
// records.
type Variant uint8

const (
	// VariantA is the 5.1 layout: plain size_t string lengths with a stored
	// terminator.
	VariantA Variant = iota + 1
	// VariantB is the 5.3 layout: one size byte escaping to size_t, with an
	// implicit terminator that is not stored.
	VariantB
)

func (v Variant) String() string {
	switch v {
	case VariantA:
		return "lua51"
	case VariantB:
		return "lua53"
	default:
		return fmt.Sprintf("Variant(%d)", uint8(v))
	}
}

// StringEncoding is how string sizes are stored.
type StringEncoding uint8

const (
	StringPlainLength StringEncoding = iota
	StringInlineSmall
)

// Layout gives the bit positions of the instruction operand fields.
type Layout struct {
	OpBits, ABits, BBits, CBits uint
	AShift, BShift, CShift     uint
}

// standardLayout is the word layout shared by both variants.
var standardLayout = Layout{
	OpBits: 6, ABits: 8, BBits: 9, CBits: 9,
	AShift: 6, BShift: 23, CShift: 14,
}

// BxBits is the width of the combined Bx field.
func (l Layout) BxBits() uint { return l.BBits + l.CBits }

// MaxSBx is the bias subtracted from Bx to get sBx.
func (l Layout) MaxSBx() int { return (1<<l.BxBits())>>1 - 1 }

// RKBit is the flag marking an RK operand as a constant index.
func (l Layout) RKBit() int { return 1 << (l.BBits - 1) }

// Profile is the immutable configuration for one compiler version. It is
// selected once by ParseHeader and shared read-only afterwards.
type Profile struct {
	Variant Variant
	Version byte
	Format  byte

	ByteOrder       binary.ByteOrder
	IntSize         int
	SizeTSize       int
	InstructionSize int
	NumberSize      int
	IntegerSize     int // VariantB only
	IntegralNumbers bool

	Strings    StringEncoding
	Terminated bool // stored strings include their trailing NUL

	Layout Layout

	// FieldsPerFlush is the SETLIST batch size.
	FieldsPerFlush int

	ops []Op
	raw [numOps]int16
}

// ProfileLua51 returns the default VariantA profile (little endian, 4-byte
// int, 8-byte size_t, 8-byte double numbers).
func ProfileLua51() *Profile {
	p := &Profile{
		Variant:         VariantA,
		Version:         0x51,
		ByteOrder:       binary.LittleEndian,
		IntSize:         4,
		SizeTSize:       8,
		InstructionSize: 4,
		NumberSize:      8,
		Strings:         StringPlainLength,
		Terminated:      true,
		Layout:          standardLayout,
		FieldsPerFlush:  50,
	}
	p.setOps(lua51Ops)
	return p
}

// ProfileLua53 returns the default VariantB profile.
func ProfileLua53() *Profile {
	p := &Profile{
		Variant:         VariantB,
		Version:         0x53,
		ByteOrder:       binary.LittleEndian,
		IntSize:         4,
		SizeTSize:       8,
		InstructionSize: 4,
		NumberSize:      8,
		IntegerSize:     8,
		Strings:         StringInlineSmall,
		Layout:          standardLayout,
		FieldsPerFlush:  50,
	}
	p.setOps(lua53Ops)
	return p
}

func (p *Profile) setOps(ops []Op) {
	p.ops = ops
	for i := range p.raw {
		p.raw[i] = -1
	}
	for i, op := range ops {
		p.raw[op] = int16(i)
	}
}

// NumOpcodes is the number of raw opcodes the profile recognizes.
func (p *Profile) NumOpcodes() int { return len(p.ops) }

// Op maps a raw opcode number to its normalized opcode.
func (p *Profile) Op(raw uint8) (Op, bool) {
	if int(raw) >= len(p.ops) {
		return 0, false
	}
	return p.ops[raw], true
}

// Raw maps a normalized opcode to the raw number, or -1 when the profile
// has no such instruction.
func (p *Profile) Raw(op Op) int {
	if int(op) >= numOps {
		return -1
	}
	return int(p.raw[op])
}

// Has reports whether op exists in this profile.
func (p *Profile) Has(op Op) bool { return p.Raw(op) >= 0 }

// Mode returns the operand encoding of op under this profile.
func (p *Profile) Mode(op Op) Mode {
	if op == OpTForLoop && p.Variant == VariantB {
		return ModeAsBx
	}
	return op.Info().Mode
}

// IsTest reports whether op is a test that is always followed by a JMP.
func (p *Profile) IsTest(op Op) bool {
	if op == OpTForLoop {
		return p.Variant == VariantA
	}
	return op.Info().Test
}

// IsK reports whether an RK operand addresses the constant pool.
func (p *Profile) IsK(rk int) bool { return rk&p.Layout.RKBit() != 0 }

// KIndex strips the constant flag from an RK operand.
func (p *Profile) KIndex(rk int) int { return rk &^ p.Layout.RKBit() }

// LoadNilLast returns the last register cleared by a LOADNIL.
func (p *Profile) LoadNilLast(i Instruction) int {
	if p.Variant == VariantA {
		return i.B
	}
	return i.A + i.B
}

// Clone returns an independent copy that can be adjusted before use.
func (p *Profile) Clone() *Profile {
	c := *p
	return &c
}

func (p *Profile) String() string {
	return fmt.Sprintf("%s (int=%d size_t=%d instr=%d number=%d)",
		p.Variant, p.IntSize, p.SizeTSize, p.InstructionSize, p.NumberSize)
}
