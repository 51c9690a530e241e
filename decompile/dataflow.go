package decompile

import (
	"github.com/chazu/luadec/chunk"
	"github.com/chazu/luadec/decompile/cfg"
)

// many is the read count reported for registers read more than once or
// captured by a closure.
const many = 2

// dataflow answers register read/write questions over a function's code in
// pc order.
type dataflow struct {
	fn *chunk.Function
	p  *chunk.Profile
	g  *cfg.Graph

	// prep maps the pc of a generic-for entry jump to the A of its loop.
	prep map[int]int
	// loops are inclusive pc ranges of recognized loops.
	loops [][2]int
}

func newDataflow(fn *chunk.Function, p *chunk.Profile, g *cfg.Graph) *dataflow {
	d := &dataflow{fn: fn, p: p, g: g, prep: map[int]int{}}
	for pc, in := range fn.Code {
		if in.Op != chunk.OpJmp || g.Pseudo(pc) {
			continue
		}
		t := in.Target(pc)
		if t < 0 || t >= len(fn.Code) {
			continue
		}
		switch dst := fn.Code[t]; {
		case dst.Op == chunk.OpTForCall:
			d.prep[pc] = dst.A
		case dst.Op == chunk.OpTForLoop && p.Variant == chunk.VariantA:
			d.prep[pc] = dst.A
		}
	}
	return d
}

func (d *dataflow) top(a int) int { return max(a, d.fn.MaxStack-1) }

// reads calls visit for every register the instruction at pc reads. capture
// is set when the read is a closure capturing the register.
func (d *dataflow) reads(pc int, visit func(reg int, capture bool)) {
	in := d.fn.Code[pc]
	if d.g.Pseudo(pc) {
		if !in.Data && in.Op == chunk.OpMove {
			visit(in.B, true)
		}
		return
	}
	reg := func(r int) { visit(r, false) }
	rk := func(x int) {
		if !d.p.IsK(x) {
			visit(x, false)
		}
	}
	span := func(lo, hi int) {
		for r := lo; r <= hi; r++ {
			visit(r, false)
		}
	}

	switch op := in.Op; {
	case op == chunk.OpMove, op.IsUnary():
		reg(in.B)
	case op == chunk.OpGetTabUp:
		rk(in.C)
	case op == chunk.OpGetTable, op == chunk.OpSelf:
		reg(in.B)
		rk(in.C)
	case op == chunk.OpSetGlobal, op == chunk.OpSetUpval, op == chunk.OpTest:
		reg(in.A)
	case op == chunk.OpSetTabUp, op.IsArith(), op == chunk.OpEq, op == chunk.OpLt, op == chunk.OpLe:
		rk(in.B)
		rk(in.C)
	case op == chunk.OpSetTable:
		reg(in.A)
		rk(in.B)
		rk(in.C)
	case op == chunk.OpConcat:
		span(in.B, in.C)
	case op == chunk.OpTestSet:
		reg(in.B)
	case op == chunk.OpCall, op == chunk.OpTailCall:
		if in.B == 0 {
			span(in.A, d.top(in.A))
		} else {
			span(in.A, in.A+in.B-1)
		}
	case op == chunk.OpReturn:
		if in.B == 0 {
			span(in.A, d.top(in.A))
		} else {
			span(in.A, in.A+in.B-2)
		}
	case op == chunk.OpForLoop, op == chunk.OpForPrep, op == chunk.OpTForCall:
		span(in.A, in.A+2)
	case op == chunk.OpTForLoop:
		if d.p.Variant == chunk.VariantA {
			span(in.A, in.A+2)
		} else {
			reg(in.A + 1)
		}
	case op == chunk.OpSetList:
		if in.B == 0 {
			span(in.A, d.top(in.A))
		} else {
			span(in.A, in.A+in.B)
		}
	case op == chunk.OpClosure && d.p.Variant == chunk.VariantB:
		if in.Bx < len(d.fn.Protos) {
			for _, uv := range d.fn.Protos[in.Bx].Upvalues {
				if uv.InStack {
					visit(uv.Index, true)
				}
			}
		}
	}
}

// writes returns the inclusive register range written at pc; lo > hi when
// nothing is written.
func (d *dataflow) writes(pc int) (lo, hi int) {
	in := d.fn.Code[pc]
	if d.g.Pseudo(pc) {
		return 0, -1
	}
	switch op := in.Op; {
	case op == chunk.OpMove, op == chunk.OpLoadK, op == chunk.OpLoadKX, op == chunk.OpLoadBool,
		op == chunk.OpGetUpval, op == chunk.OpGetGlobal, op == chunk.OpGetTabUp, op == chunk.OpGetTable,
		op == chunk.OpNewTable, op.IsArith(), op.IsUnary(), op == chunk.OpConcat,
		op == chunk.OpClosure, op == chunk.OpTestSet, op == chunk.OpForPrep:
		return in.A, in.A
	case op == chunk.OpLoadNil:
		return in.A, d.p.LoadNilLast(in)
	case op == chunk.OpSelf:
		return in.A, in.A + 1
	case op == chunk.OpCall:
		if in.C == 0 {
			return in.A, in.A
		}
		return in.A, in.A + in.C - 2
	case op == chunk.OpForLoop:
		return in.A, in.A + 3
	case op == chunk.OpTForCall:
		return in.A + 3, in.A + 2 + in.C
	case op == chunk.OpTForLoop:
		if d.p.Variant == chunk.VariantA {
			return in.A + 2, in.A + 2 + in.C
		}
		return in.A, in.A
	case op == chunk.OpVararg:
		if in.B == 0 {
			return in.A, in.A
		}
		return in.A, in.A + in.B - 2
	}
	return 0, -1
}

func (d *dataflow) writesReg(pc, r int) bool {
	lo, hi := d.writes(pc)
	return r >= lo && r <= hi
}

// writesRange reports whether any instruction in [from, to] writes r.
func (d *dataflow) writesRange(from, to, r int) bool {
	for pc := from; pc <= to; pc++ {
		if d.writesReg(pc, r) {
			return true
		}
	}
	return false
}

// readsReg counts the operands of the instruction at pc that name r.
func (d *dataflow) readsReg(pc, r int) (n int, capture bool) {
	d.reads(pc, func(reg int, c bool) {
		if reg == r {
			n++
			capture = capture || c
		}
	})
	return n, capture
}

// readCount counts reads of r after the write at pc, up to the next write
// of r in pc order. Captures, and reads of a value live around an
// enclosing loop, count as many. With fill set, uses of r as the target
// table of SETTABLE or SETLIST are not counted.
func (d *dataflow) readCount(pc, r int, fill bool) int {
	if d.liveInLoop(pc, r) {
		return many
	}
	n := 0
	for q := pc + 1; q < len(d.fn.Code); q++ {
		if a, ok := d.prep[q]; ok && r >= a && r <= a+2 {
			return n + 1
		}
		in := d.fn.Code[q]
		reads, capture := d.readsReg(q, r)
		if capture {
			return many
		}
		if reads > 0 && fill && !d.g.Pseudo(q) && in.A == r &&
			(in.Op == chunk.OpSetList || in.Op == chunk.OpSetTable) {
			reads--
		}
		if n += reads; n >= many {
			return many
		}
		if in.Op == chunk.OpForPrep && !d.g.Pseudo(q) && r >= in.A && r <= in.A+2 {
			return n
		}
		if d.writesReg(q, r) {
			break
		}
	}
	return n
}

// liveInLoop reports whether pc lies in a loop whose body reads r before
// writing it, so that a value written at pc reaches the next iteration.
func (d *dataflow) liveInLoop(pc, r int) bool {
	for _, l := range d.loops {
		if pc < l[0] || pc > l[1] {
			continue
		}
		for q := l[0]; q < pc; q++ {
			if n, _ := d.readsReg(q, r); n > 0 {
				return true
			}
			if d.writesReg(q, r) {
				break
			}
		}
	}
	return false
}

// liveAt reports whether r is read at or after pc before being written,
// following unconditional jumps.
func (d *dataflow) liveAt(pc, r int) bool {
	for steps := 0; pc >= 0 && pc < len(d.fn.Code) && steps < len(d.fn.Code); steps++ {
		in := d.fn.Code[pc]
		if n, _ := d.readsReg(pc, r); n > 0 {
			return true
		}
		if d.writesReg(pc, r) {
			return false
		}
		if d.g.Pseudo(pc) {
			pc++
			continue
		}
		switch in.Op {
		case chunk.OpReturn, chunk.OpTailCall:
			return false
		case chunk.OpJmp:
			if pc == 0 || !d.p.IsTest(d.fn.Code[pc-1].Op) {
				pc = in.Target(pc)
				continue
			}
		}
		pc++
	}
	return false
}

// nextPC returns the first pc after pc that is not an operand word.
func (d *dataflow) nextPC(pc int) int {
	pc++
	for pc < len(d.fn.Code) && d.g.Pseudo(pc) {
		pc++
	}
	return pc
}
