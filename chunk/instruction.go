package chunk

import "fmt"

// Instruction is one decoded instruction word. All operand fields are
// filled regardless of mode; the mode says which ones are meaningful.
type Instruction struct {
	Op   Op
	A    int
	B    int
	C    int
	Bx   int
	SBx  int
	Ax   int
	Word uint32

	// Data marks a word that is an operand of the previous instruction
	// rather than an instruction of its own (the 5.1 SETLIST count).
	Data bool
}

// Decode splits a raw instruction word according to the profile layout.
func (p *Profile) Decode(word uint32) (Instruction, error) {
	l := p.Layout
	raw := uint8(word & (1<<l.OpBits - 1))
	op, ok := p.Op(raw)
	if !ok {
		return Instruction{}, fmt.Errorf("opcode %d outside %s range 0..%d", raw, p.Variant, len(p.ops)-1)
	}
	inst := Instruction{
		Op:   op,
		A:    int(word >> l.AShift & (1<<l.ABits - 1)),
		B:    int(word >> l.BShift & (1<<l.BBits - 1)),
		C:    int(word >> l.CShift & (1<<l.CBits - 1)),
		Bx:   int(word >> l.CShift & (1<<l.BxBits() - 1)),
		Ax:   int(word >> l.AShift),
		Word: word,
	}
	inst.SBx = inst.Bx - l.MaxSBx()
	return inst, nil
}

// DataWord wraps a raw word that carries an operand for the previous
// instruction.
func DataWord(word uint32) Instruction {
	return Instruction{Op: OpExtraArg, Ax: int(word), Word: word, Data: true}
}

// Encode packs an instruction into a word. It inverts Decode for every
// mode.
func (p *Profile) Encode(i Instruction) uint32 {
	if i.Data {
		return uint32(i.Ax)
	}
	l := p.Layout
	word := uint32(p.Raw(i.Op)) & (1<<l.OpBits - 1)
	switch p.Mode(i.Op) {
	case ModeABC:
		word |= uint32(i.A)<<l.AShift | uint32(i.B)<<l.BShift | uint32(i.C)<<l.CShift
	case ModeABx:
		word |= uint32(i.A)<<l.AShift | uint32(i.Bx)<<l.CShift
	case ModeAsBx:
		word |= uint32(i.A)<<l.AShift | uint32(i.SBx+l.MaxSBx())<<l.CShift
	case ModeAx:
		word |= uint32(i.Ax) << l.AShift
	}
	return word
}

// ABC builds a decoded ABC instruction.
func (p *Profile) ABC(op Op, a, b, c int) Instruction {
	inst, _ := p.Decode(p.Encode(Instruction{Op: op, A: a, B: b, C: c}))
	return inst
}

// ABx builds a decoded ABx instruction.
func (p *Profile) ABx(op Op, a, bx int) Instruction {
	inst, _ := p.Decode(p.Encode(Instruction{Op: op, A: a, Bx: bx}))
	return inst
}

// AsBx builds a decoded AsBx instruction.
func (p *Profile) AsBx(op Op, a, sbx int) Instruction {
	inst, _ := p.Decode(p.Encode(Instruction{Op: op, A: a, SBx: sbx}))
	return inst
}

// Target returns the absolute jump target of an AsBx instruction at pc.
func (i Instruction) Target(pc int) int { return pc + 1 + i.SBx }

func (i Instruction) String() string {
	if i.Data {
		return fmt.Sprintf("%-9s %d", "(data)", i.Ax)
	}
	info := i.Op.Info()
	switch info.Mode {
	case ModeABx:
		return fmt.Sprintf("%-9s %d %d", info.Name, i.A, i.Bx)
	case ModeAsBx:
		return fmt.Sprintf("%-9s %d %d", info.Name, i.A, i.SBx)
	case ModeAx:
		return fmt.Sprintf("%-9s %d", info.Name, i.Ax)
	}
	return fmt.Sprintf("%-9s %d %d %d", info.Name, i.A, i.B, i.C)
}
