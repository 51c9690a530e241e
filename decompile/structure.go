package decompile

import (
	"github.com/chazu/luadec/decompile/ast"
	"github.com/chazu/luadec/decompile/cfg"
)

// loopCtx is the innermost loop enclosing a region.
type loopCtx struct {
	exit, cont  int
	hasContinue bool
}

// region is the block range [lo, hi) translated into one statement list.
// Jumps to a follow block leave the region normally.
type region struct {
	lo, hi int
	follow map[int]bool
	loop   *loopCtx
}

func (f *funcDecompiler) newRegion(lo, hi int, follow map[int]bool, lc *loopCtx) *region {
	r := &region{lo: lo, hi: hi, follow: map[int]bool{f.canon(hi): true}, loop: lc}
	for b := range follow {
		r.follow[b] = true
	}
	return r
}

// sub returns the region [lo, hi) nested in r.
func (f *funcDecompiler) sub(r *region, lo, hi int) *region {
	var follow map[int]bool
	if hi >= r.hi || r.follow[f.canon(hi)] {
		follow = r.follow
	}
	return f.newRegion(lo, hi, follow, r.loop)
}

// structured translates the function into nested statements, or reports
// where its control flow cannot be expressed without goto.
func (f *funcDecompiler) structured() (body *ast.Block, failure *unstructured, err error) {
	defer recoverInto(&failure, &err)
	f.loops = f.findLoops()
	body = f.collect(func() {
		f.region(f.newRegion(0, len(f.g.Blocks), nil, nil))
	})
	return body, nil, nil
}

func (f *funcDecompiler) region(r *region) {
	for b := r.lo; b < r.hi; {
		if !f.g.Blocks[b].Reachable {
			b++
			continue
		}
		if l := f.loops.at(b); l != nil {
			b = f.loop(l)
			continue
		}
		b = f.block(r, b)
	}
}

// last reports whether no reachable block of r follows b.
func (f *funcDecompiler) last(r *region, b int) bool {
	for n := b + 1; n < r.hi; n++ {
		if f.g.Blocks[n].Reachable {
			return false
		}
	}
	return true
}

func (f *funcDecompiler) block(r *region, b int) int {
	blk := f.g.Blocks[b]
	switch blk.Term {
	case cfg.TermFall, cfg.TermReturn:
		f.translate(blk.Start, blk.End)
	case cfg.TermJump:
		f.translate(blk.Start, blk.End-1)
		f.jump(r, b, f.g.Target(b))
	case cfg.TermCond:
		return f.conditional(r, b)
	default:
		bail(blk.End, "%s outside of a recognized structure", blk.Term)
	}
	return b + 1
}

// jump translates an unconditional transfer from block b to block t.
func (f *funcDecompiler) jump(r *region, b, t int) {
	c := f.canon(t)
	lc := r.loop
	switch {
	case r.follow[c] && f.last(r, b):
	case lc != nil && c == lc.exit:
		f.emit(&ast.Break{})
	case lc != nil && c == lc.cont:
		lc.hasContinue = true
		f.emit(&ast.Continue{})
	default:
		bail(f.g.Blocks[b].End, "jump to B%d leaves its structure", t)
	}
}

// conditional translates the test starting at block b: a value built from
// jumps, or an if statement.
func (f *funcDecompiler) conditional(r *region, b int) int {
	if next, ok := f.loadBoolValue(r, b); ok {
		return next
	}
	if next, ok := f.logicalValue(r, b); ok {
		return next
	}
	c, ok := f.longestChain(b, r.hi, func(*condChain) bool { return true })
	if !ok {
		bail(f.g.Blocks[b].End-1, "test does not form a condition")
	}
	cond, _ := f.buildCond(c)
	f.flush()

	k, fb := c.last, c.f
	fc := f.canon(fb)
	lc := r.loop
	switch {
	case fb > k+1 && fb < r.hi:
		return f.ifElse(r, cond, k+1, fb)
	case fb == k+1:
		f.emit(&ast.If{Branches: []ast.Branch{{Cond: cond, Body: &ast.Block{}}}})
		return k + 1
	case r.follow[fc]:
		body := f.collect(func() { f.region(f.sub(r, k+1, r.hi)) })
		f.emit(&ast.If{Branches: []ast.Branch{{Cond: cond, Body: body}}})
		return r.hi
	case lc != nil && fc == lc.exit:
		f.emit(&ast.If{Branches: []ast.Branch{{Cond: negate(cond), Body: &ast.Block{Stmts: []ast.Stmt{&ast.Break{}}}}}})
		return k + 1
	case lc != nil && fc == lc.cont:
		lc.hasContinue = true
		f.emit(&ast.If{Branches: []ast.Branch{{Cond: negate(cond), Body: &ast.Block{Stmts: []ast.Stmt{&ast.Continue{}}}}}})
		return k + 1
	}
	bail(f.g.Blocks[k].End, "condition exits to B%d outside its structure", fb)
	return 0
}

// ifElse emits an if whose false edge lands at block fb inside r. When the
// block before fb ends in a forward jump past fb, that jump closes the then
// branch and [fb, target) is the else branch.
func (f *funcDecompiler) ifElse(r *region, cond ast.Expr, then, fb int) int {
	elseEnd, t := -1, -1
	if e := fb - 1; e >= then && f.g.Blocks[e].Term == cfg.TermJump {
		t = f.g.Target(e)
		tc := f.canon(t)
		forward := t > fb && t <= r.hi
		escape := r.loop != nil && (tc == r.loop.exit || tc == r.loop.cont) && !r.follow[tc]
		if (forward || r.follow[tc]) && !escape {
			elseEnd = r.hi
			if forward {
				elseEnd = t
			}
		}
	}

	stmt := &ast.If{}
	thenRegion := f.sub(r, then, fb)
	if elseEnd >= 0 {
		thenRegion.follow[f.canon(t)] = true
	}
	thenBody := f.collect(func() { f.region(thenRegion) })
	stmt.Branches = []ast.Branch{{Cond: cond, Body: thenBody}}
	if elseEnd < 0 {
		f.emit(stmt)
		return fb
	}

	elseBody := f.collect(func() { f.region(f.sub(r, fb, elseEnd)) })
	if inner, ok := soleIf(elseBody); ok && f.d.opts.FlattenElseIf {
		stmt.Branches = append(stmt.Branches, inner.Branches...)
		stmt.Else = inner.Else
	} else {
		stmt.Else = elseBody
	}
	f.emit(stmt)
	return elseEnd
}

func soleIf(b *ast.Block) (*ast.If, bool) {
	if b.Len() != 1 {
		return nil, false
	}
	s, ok := b.Stmts[0].(*ast.If)
	return s, ok
}

// ----------------------------------------------------------------------------
// Loops
// ----------------------------------------------------------------------------

func (f *funcDecompiler) loop(l *loop) int {
	l.entered = true
	switch l.kind {
	case loopNumeric:
		f.numericFor(l)
	case loopGeneric:
		f.genericFor(l)
	case loopRepeat:
		f.repeatLoop(l)
	default:
		f.whileLoop(l)
	}
	return l.latch + 1
}

// loopBody translates blocks [lo, hi) of a loop whose iteration ends at
// block cont and which leaves to the block after latch. Reaching the exit
// from the body is always a break.
func (f *funcDecompiler) loopBody(lo, hi, cont, latch int) (*ast.Block, bool) {
	lc := &loopCtx{exit: f.canon(latch + 1), cont: f.canon(cont)}
	r := f.newRegion(lo, hi, map[int]bool{lc.cont: true}, lc)
	if lc.exit != lc.cont {
		delete(r.follow, lc.exit)
	}
	body := f.collect(func() { f.region(r) })
	return body, lc.hasContinue
}

func (f *funcDecompiler) numericFor(l *loop) {
	prep := f.g.Blocks[l.entry]
	f.translate(prep.Start, prep.End-1)
	in := f.fn.Code[prep.End]
	f.enter(prep.End)
	ops, _ := f.operands(prep.End, in.A, in.A+1, in.A+2)
	f.flush()

	v := f.loc.loopVar(in.A+3, f.g.Blocks[l.header].Start)
	f.loc.bind(in.A+3, v)
	body, cont := f.loopBody(l.header, l.latch, l.latch, l.latch)
	f.loc.unbind(in.A + 3)

	f.emit(&ast.NumericFor{Var: v, Start: ops[0], Limit: ops[1], Step: ops[2], Body: body, HasContinue: cont})
}

func (f *funcDecompiler) genericFor(l *loop) {
	prep := f.g.Blocks[l.entry]
	f.translate(prep.Start, prep.End-1)
	jmp := prep.End
	a := f.df.prep[jmp]
	f.enter(jmp)
	exprs := f.forExprs(jmp, a)
	f.flush()

	n := f.fn.Code[f.g.Blocks[l.latch].Start].C
	bodyPC := f.g.Blocks[l.header].Start
	vars := make([]*ast.Local, 0, n)
	for i := 0; i < n; i++ {
		v := f.loc.loopVar(a+3+i, bodyPC)
		f.loc.bind(a+3+i, v)
		vars = append(vars, v)
	}
	body, cont := f.loopBody(l.header, l.latch, l.latch, l.latch)
	for i := n - 1; i >= 0; i-- {
		f.loc.unbind(a + 3 + i)
	}

	f.emit(&ast.GenericFor{Vars: vars, Exprs: exprs, Body: body, HasContinue: cont})
}

// forExprs returns the explist stored in the generator, state and control
// registers of a generic for.
func (f *funcDecompiler) forExprs(pc, a int) []ast.Expr {
	if pv, ok := f.pending[a]; ok && pv.span >= 2 && pv.method == "" {
		delete(f.pending, a)
		exprs := []ast.Expr{pv.expr}
		if pv.span == 2 {
			e, _ := f.take(a+2, pc)
			exprs = append(exprs, e)
		}
		return exprs
	}
	ops, _ := f.operands(pc, a, a+1, a+2)
	for len(ops) > 1 && ast.IsNil(ops[len(ops)-1]) {
		ops = ops[:len(ops)-1]
	}
	return ops
}

func (f *funcDecompiler) whileLoop(l *loop) {
	h, u := l.header, l.latch
	f.enter(f.g.Blocks[h].Start)
	f.flush()

	exit := f.canon(u + 1)
	c, ok := f.longestChain(h, u, func(c *condChain) bool {
		return f.canon(c.f) == exit && f.pure(f.g.Blocks[h].Start, f.g.Blocks[h].End-2, f.g.Blocks[h].End-1, -1)
	})
	if !ok {
		body, cont := f.loopBody(h, u+1, h, u)
		f.emit(&ast.While{Cond: ast.Bool(true), Body: body, HasContinue: cont})
		return
	}

	var cond ast.Expr
	if pre := f.collect(func() { cond, _ = f.buildCond(c) }); pre.Len() > 0 {
		bail(f.g.Blocks[h].Start, "while condition has side effects")
	}
	body, cont := f.loopBody(c.last+1, u+1, h, u)
	f.emit(&ast.While{Cond: cond, Body: body, HasContinue: cont})
}

func (f *funcDecompiler) repeatLoop(l *loop) {
	h, u := l.header, l.latch
	f.enter(f.g.Blocks[h].Start)
	f.flush()

	var until *condChain
	for c := h; c <= u && until == nil; c++ {
		if !f.condRun(c, u) {
			continue
		}
		if ch, ok := f.reduceConds(c, u); ok && f.same(ch.f, h) {
			until = ch
		}
	}
	if until == nil {
		bail(f.g.Blocks[u].End, "repeat condition does not reduce")
	}

	lc := &loopCtx{exit: f.canon(u + 1), cont: f.canon(until.first)}
	var cond ast.Expr
	body := f.collect(func() {
		f.region(f.newRegion(h, until.first, nil, lc))
		cond, _ = f.buildCond(until)
	})
	f.emit(&ast.RepeatUntil{Body: body, Cond: cond, HasContinue: lc.hasContinue})
}

// condRun reports whether blocks c..u are tests usable as one condition.
func (f *funcDecompiler) condRun(c, u int) bool {
	for j := c; j <= u; j++ {
		blk := f.g.Blocks[j]
		if blk.Term != cfg.TermCond || !f.isCondTest(blk) {
			return false
		}
		if j > c && (!f.enteredOnlyFrom(j, c, j-1) || !f.pure(blk.Start, blk.End-2, blk.End-1, -1)) {
			return false
		}
	}
	return true
}
