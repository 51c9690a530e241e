package decompile

import (
	"fmt"

	"github.com/chazu/luadec/chunk"
	"github.com/chazu/luadec/decompile/ast"
	"github.com/chazu/luadec/decompile/cfg"
)

// fallback translates the function block by block, with a label at every
// jump target and gotos for every transfer. All variables are declared by
// one local statement at the top.
func (f *funcDecompiler) fallback() (body *ast.Block, err error) {
	var failure *unstructured
	defer func() {
		if failure != nil && err == nil {
			err = fmt.Errorf("decompile: function %d at pc %d: %s", f.fn.Index, failure.pc, failure.msg)
		}
	}()
	defer recoverInto(&failure, &err)

	for _, v := range f.loc.vars {
		v.Declared = true
	}
	targets := map[int]bool{}
	for _, blk := range f.g.Blocks {
		if t := f.g.Target(blk.ID); t >= 0 {
			targets[f.g.Blocks[t].Start] = true
		}
	}

	for _, blk := range f.g.Blocks {
		f.flush()
		if targets[blk.Start] {
			f.out.Append(&ast.Label{Name: label(blk.Start)})
		}
		f.fallbackBlock(blk)
	}
	f.flush()

	body = f.out
	f.hoist(body)
	return body, nil
}

func label(pc int) string { return fmt.Sprintf("L%d", pc) }

func (f *funcDecompiler) gotoTarget(blk *cfg.Block) *ast.Goto {
	return &ast.Goto{Label: label(f.g.Blocks[f.g.Target(blk.ID)].Start)}
}

func (f *funcDecompiler) reg(r, pc int) *ast.RegisterRef { return ast.Ref(f.loc.at(r, pc)) }

func (f *funcDecompiler) fallbackBlock(blk *cfg.Block) {
	switch blk.Term {
	case cfg.TermFall, cfg.TermReturn:
		f.fallbackRange(blk.Start, blk.End)
	case cfg.TermJump:
		f.fallbackRange(blk.Start, blk.End-1)
		f.emit(f.gotoTarget(blk))
	case cfg.TermSkip:
		f.fallbackRange(blk.Start, blk.End)
		f.emit(f.gotoTarget(blk))
	case cfg.TermCond:
		f.fallbackRange(blk.Start, blk.End-2)
		f.fallbackTest(blk)
	case cfg.TermForPrep:
		f.fallbackRange(blk.Start, blk.End-1)
		f.flush()
		pc := blk.End
		a := f.fn.Code[pc].A
		idx := f.reg(a, pc)
		f.emit(&ast.Assign{Targets: []ast.Expr{idx}, Values: []ast.Expr{
			&ast.BinaryOp{Op: ast.OpSub, L: idx, R: f.reg(a+2, pc)},
		}})
		f.emit(f.gotoTarget(blk))
	case cfg.TermForLoop:
		f.fallbackRange(blk.Start, blk.End-1)
		f.flush()
		f.fallbackForLoop(blk)
	}
}

// fallbackRange translates [from, to], expanding TFORCALL into its call.
func (f *funcDecompiler) fallbackRange(from, to int) {
	for pc := from; pc <= to; pc++ {
		if f.g.Pseudo(pc) {
			continue
		}
		if in := f.fn.Code[pc]; in.Op == chunk.OpTForCall {
			f.flush()
			f.iteratorCall(pc, in.A, in.C)
			continue
		}
		f.step(pc)
	}
}

// iteratorCall emits R(a+3..a+2+n) = R(a)(R(a+1), R(a+2)).
func (f *funcDecompiler) iteratorCall(pc, a, n int) {
	targets := make([]ast.Expr, 0, n)
	for i := 0; i < n; i++ {
		targets = append(targets, f.reg(a+3+i, pc))
	}
	call := &ast.Call{Fn: f.reg(a, pc), Args: []ast.Expr{f.reg(a+1, pc), f.reg(a+2, pc)}, Multi: true}
	f.emit(&ast.Assign{Targets: targets, Values: []ast.Expr{call}})
}

func (f *funcDecompiler) ifGoto(cond ast.Expr, body ...ast.Stmt) {
	f.emit(&ast.If{Branches: []ast.Branch{{Cond: cond, Body: &ast.Block{Stmts: body}}}})
}

func (f *funcDecompiler) fallbackTest(blk *cfg.Block) {
	pc := blk.End - 1
	in := f.fn.Code[pc]
	jump := f.gotoTarget(blk)
	switch in.Op {
	case chunk.OpTestSet:
		f.flush()
		v := f.reg(in.B, pc)
		var c ast.Expr = v
		if in.C != 0 {
			c = ast.Negate(v)
		}
		f.ifGoto(ast.Negate(c), &ast.Assign{Targets: []ast.Expr{f.reg(in.A, pc)}, Values: []ast.Expr{v}}, jump)
	case chunk.OpTForLoop:
		f.flush()
		f.iteratorCall(pc, in.A, in.C)
		first := f.reg(in.A+3, pc)
		f.ifGoto(&ast.BinaryOp{Op: ast.OpNe, L: first, R: ast.Nil()},
			&ast.Assign{Targets: []ast.Expr{f.reg(in.A+2, pc)}, Values: []ast.Expr{first}}, jump)
	default:
		c, _ := f.cond(pc)
		f.ifGoto(ast.Negate(c), jump)
	}
}

// fallbackForLoop expands FORLOOP, or the 5.3 TFORLOOP, into a guarded
// goto back to the loop body.
func (f *funcDecompiler) fallbackForLoop(blk *cfg.Block) {
	pc := blk.End
	in := f.fn.Code[pc]
	jump := f.gotoTarget(blk)
	if in.Op != chunk.OpForLoop {
		ctl := f.reg(in.A+1, pc)
		f.ifGoto(&ast.BinaryOp{Op: ast.OpNe, L: ctl, R: ast.Nil()},
			&ast.Assign{Targets: []ast.Expr{f.reg(in.A, pc)}, Values: []ast.Expr{ctl}}, jump)
		return
	}

	idx, limit, step := f.reg(in.A, pc), f.reg(in.A+1, pc), f.reg(in.A+2, pc)
	zero := ast.Const(chunk.IntConst(0))
	f.emit(&ast.Assign{Targets: []ast.Expr{idx}, Values: []ast.Expr{&ast.BinaryOp{Op: ast.OpAdd, L: idx, R: step}}})
	cond := &ast.BinaryOp{
		Op: ast.OpOr,
		L: &ast.BinaryOp{Op: ast.OpAnd,
			L: &ast.BinaryOp{Op: ast.OpLt, L: zero, R: step},
			R: &ast.BinaryOp{Op: ast.OpLe, L: idx, R: limit}},
		R: &ast.BinaryOp{Op: ast.OpAnd,
			L: &ast.BinaryOp{Op: ast.OpLe, L: step, R: zero},
			R: &ast.BinaryOp{Op: ast.OpLe, L: limit, R: idx}},
	}
	f.ifGoto(cond, &ast.Assign{Targets: []ast.Expr{f.reg(in.A+3, pc)}, Values: []ast.Expr{idx}}, jump)
}

// hoist declares every variable of the listing at its top, once per name.
func (f *funcDecompiler) hoist(body *ast.Block) {
	var decl []*ast.Local
	names := map[string]bool{}
	for _, p := range f.loc.params {
		names[p.Name] = true
	}
	for _, s := range body.Stmts {
		ast.VisitLocals(s, func(v *ast.Local) {
			if v.Implicit && v.Declared || names[v.Name] {
				return
			}
			names[v.Name] = true
			decl = append(decl, v)
		})
	}
	if len(decl) == 0 {
		return
	}
	for _, v := range decl {
		v.Declared = true
	}
	body.Stmts = append([]ast.Stmt{&ast.LocalDecl{Locals: decl}}, body.Stmts...)
}
