package decompile

import (
	"fmt"
	"strings"

	"github.com/chazu/luadec/chunk"
	"github.com/chazu/luadec/decompile/ast"
)

// varargNeedsArg is the 5.1 flag for functions that define the implicit
// arg table.
const varargNeedsArg = 4

// locals binds registers to variables at each pc. With debug information
// the bindings come from the local variable records; otherwise every
// register is one variable named after it.
type locals struct {
	fn    *chunk.Function
	debug bool

	vars   []*ast.Local
	regs   []int
	starts map[int][]int

	temps  map[int]*ast.Local
	bound  map[int][]*ast.Local
	params []*ast.Local
}

func newLocals(fn *chunk.Function, p *chunk.Profile) *locals {
	l := &locals{
		fn:     fn,
		debug:  len(fn.LocVars) > 0,
		starts: map[int][]int{},
		temps:  map[int]*ast.Local{},
		bound:  map[int][]*ast.Local{},
	}

	// A record's register is the number of records still active when it
	// starts.
	for i, lv := range fn.LocVars {
		reg := 0
		for j := 0; j < i; j++ {
			o := fn.LocVars[j]
			if o.StartPC <= lv.StartPC && lv.StartPC < o.EndPC {
				reg++
			}
		}
		v := &ast.Local{Name: lv.Name, Reg: reg}
		if internalName(lv.Name) {
			v.Implicit = true
		}
		l.vars = append(l.vars, v)
		l.regs = append(l.regs, reg)
		l.starts[lv.StartPC] = append(l.starts[lv.StartPC], i)
	}

	for r := 0; r < fn.NumParams; r++ {
		var v *ast.Local
		if l.debug && r < len(l.vars) {
			v = l.vars[r]
		} else {
			v = l.temp(r)
		}
		v.Implicit, v.Declared = true, true
		l.params = append(l.params, v)
	}
	if l.debug && p.Variant == chunk.VariantA && fn.IsVararg&varargNeedsArg != 0 &&
		fn.NumParams < len(l.vars) && l.vars[fn.NumParams].Name == "arg" {
		l.vars[fn.NumParams].Implicit = true
		l.vars[fn.NumParams].Declared = true
	}
	return l
}

// internalName reports whether a debug name belongs to a compiler-generated
// variable such as a loop control slot.
func internalName(name string) bool {
	return strings.HasPrefix(name, "(") || !chunk.IsIdentifier(name)
}

// active returns the debug variable of reg live at pc, or nil.
func (l *locals) active(reg, pc int) *ast.Local {
	for i := len(l.vars) - 1; i >= 0; i-- {
		lv := l.fn.LocVars[i]
		if l.regs[i] == reg && lv.StartPC <= pc && pc < lv.EndPC {
			return l.vars[i]
		}
	}
	return nil
}

// startPC returns where the debug variable v becomes active, or -1.
func (l *locals) startPC(v *ast.Local) int {
	for i, o := range l.vars {
		if o == v {
			return l.fn.LocVars[i].StartPC
		}
	}
	return -1
}

// at returns the variable reg refers to at pc.
func (l *locals) at(reg, pc int) *ast.Local {
	if b := l.bound[reg]; len(b) > 0 {
		return b[len(b)-1]
	}
	if v := l.active(reg, pc); v != nil && !internalName(v.Name) {
		return v
	}
	return l.temp(reg)
}

// temp returns the per-register variable used when no debug record covers
// reg.
func (l *locals) temp(reg int) *ast.Local {
	v, ok := l.temps[reg]
	if !ok {
		v = &ast.Local{Name: fmt.Sprintf("r%d", reg), Reg: reg}
		l.temps[reg] = v
	}
	return v
}

// starting returns the debug variables that become active at pc, in
// register order.
func (l *locals) starting(pc int) []*ast.Local {
	var out []*ast.Local
	for _, i := range l.starts[pc] {
		if v := l.vars[i]; !v.Implicit && !v.Declared {
			out = append(out, v)
		}
	}
	return out
}

// upcoming returns the debug variable of reg that starts after pc, if any.
func (l *locals) upcoming(reg, pc int) (*ast.Local, int) {
	for i, lv := range l.fn.LocVars {
		if l.regs[i] == reg && lv.StartPC > pc && !l.vars[i].Implicit {
			return l.vars[i], lv.StartPC
		}
	}
	return nil, -1
}

// bind makes reg refer to v until the matching unbind.
func (l *locals) bind(reg int, v *ast.Local) { l.bound[reg] = append(l.bound[reg], v) }

func (l *locals) unbind(reg int) {
	if b := l.bound[reg]; len(b) > 0 {
		l.bound[reg] = b[:len(b)-1]
	}
}

// loopVar returns the variable a loop binds to reg for a body starting at
// pc, marked as declared by the loop.
func (l *locals) loopVar(reg, pc int) *ast.Local {
	v := l.active(reg, pc)
	if v == nil || internalName(v.Name) {
		v = &ast.Local{Name: fmt.Sprintf("r%d", reg), Reg: reg}
	}
	v.Implicit, v.Declared = true, true
	return v
}
