package chunk

import (
	"fmt"
	"strings"
)

// Disassemble returns a listing of f and its nested prototypes.
func Disassemble(f *Function, p *Profile) string {
	var sb strings.Builder
	disassemble(&sb, f, p)
	return sb.String()
}

func disassemble(sb *strings.Builder, f *Function, p *Profile) {
	sb.WriteString(fmt.Sprintf("; === function %d (lines %d-%d) ===\n", f.Index, f.LineDefined, f.LastLineDefined))
	if f.Source != "" {
		sb.WriteString(fmt.Sprintf("; Source: %s\n", f.Source))
	}
	sb.WriteString(fmt.Sprintf("; Params: %d  Vararg: %v  Upvalues: %d  MaxStack: %d\n",
		f.NumParams, f.HasVarargs(), f.NumUpvalues, f.MaxStack))
	sb.WriteString("\n")

	if len(f.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, k := range f.Constants {
			display := k.String()
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, display))
		}
		sb.WriteString("\n")
	}

	if len(f.Upvalues) > 0 && p.Variant == VariantB {
		sb.WriteString("; Upvalues:\n")
		for i, uv := range f.Upvalues {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s (instack=%v, idx=%d)\n", i, f.UpvalueName(i), uv.InStack, uv.Index))
		}
		sb.WriteString("\n")
	}

	if len(f.LocVars) > 0 {
		sb.WriteString("; Locals:\n")
		for i, v := range f.LocVars {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s (pc %d-%d)\n", i, v.Name, v.StartPC, v.EndPC))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("; Code:\n")
	for pc, inst := range f.Code {
		line := disassembleInstruction(f, p, pc, inst)
		if pc < len(f.LineInfo) {
			sb.WriteString(fmt.Sprintf("%04d  %-40s ; line %d\n", pc, line, f.LineInfo[pc]))
		} else {
			sb.WriteString(fmt.Sprintf("%04d  %s\n", pc, line))
		}
	}

	for _, child := range f.Protos {
		sb.WriteString("\n")
		disassemble(sb, child, p)
	}
}

func rk(f *Function, p *Profile, v int) string {
	if p.IsK(v) {
		idx := p.KIndex(v)
		if idx < len(f.Constants) {
			return fmt.Sprintf("K%d(%s)", idx, f.Constants[idx])
		}
		return fmt.Sprintf("K%d", idx)
	}
	return fmt.Sprintf("R%d", v)
}

func kst(f *Function, idx int) string {
	if idx < len(f.Constants) {
		return fmt.Sprintf("K%d(%s)", idx, f.Constants[idx])
	}
	return fmt.Sprintf("K%d", idx)
}

// disassembleInstruction formats one instruction with resolved operands.
func disassembleInstruction(f *Function, p *Profile, pc int, i Instruction) string {
	if i.Data {
		return fmt.Sprintf("%-9s %d", "(data)", i.Ax)
	}
	name := i.Op.String()
	switch i.Op {
	case OpLoadK:
		return fmt.Sprintf("%-9s R%d %s", name, i.A, kst(f, i.Bx))
	case OpGetGlobal, OpSetGlobal:
		return fmt.Sprintf("%-9s R%d %s", name, i.A, kst(f, i.Bx))
	case OpJmp, OpForLoop, OpForPrep:
		return fmt.Sprintf("%-9s %d %d ; to %d", name, i.A, i.SBx, i.Target(pc))
	case OpTForLoop:
		if p.Variant == VariantB {
			return fmt.Sprintf("%-9s %d %d ; to %d", name, i.A, i.SBx, i.Target(pc))
		}
	case OpClosure:
		return fmt.Sprintf("%-9s R%d F%d", name, i.A, i.Bx)
	case OpGetTable, OpSelf:
		return fmt.Sprintf("%-9s R%d R%d %s", name, i.A, i.B, rk(f, p, i.C))
	case OpGetTabUp:
		return fmt.Sprintf("%-9s R%d U%d %s", name, i.A, i.B, rk(f, p, i.C))
	case OpSetTable:
		return fmt.Sprintf("%-9s R%d %s %s", name, i.A, rk(f, p, i.B), rk(f, p, i.C))
	case OpSetTabUp:
		return fmt.Sprintf("%-9s U%d %s %s", name, i.A, rk(f, p, i.B), rk(f, p, i.C))
	case OpEq, OpLt, OpLe:
		return fmt.Sprintf("%-9s %d %s %s", name, i.A, rk(f, p, i.B), rk(f, p, i.C))
	case OpExtraArg:
		return fmt.Sprintf("%-9s %d", name, i.Ax)
	}
	if i.Op.IsArith() {
		return fmt.Sprintf("%-9s R%d %s %s", name, i.A, rk(f, p, i.B), rk(f, p, i.C))
	}
	return i.String()
}
