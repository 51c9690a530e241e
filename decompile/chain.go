package decompile

import (
	"github.com/chazu/luadec/chunk"
	"github.com/chazu/luadec/decompile/ast"
	"github.com/chazu/luadec/decompile/cfg"
)

// condTree is a short-circuit condition over consecutive test blocks. A
// leaf stands for the fall-through condition of one block's test.
type condTree struct {
	leaf   int
	op     ast.BinOp
	l, r   *condTree
	negate bool
}

func (t *condTree) not() *condTree {
	c := *t
	c.negate = !c.negate
	return &c
}

func (t *condTree) build(leaves map[int]ast.Expr) ast.Expr {
	var e ast.Expr
	if t.leaf >= 0 {
		e = leaves[t.leaf]
	} else {
		e = &ast.BinaryOp{Op: t.op, L: t.l.build(leaves), R: t.r.build(leaves)}
	}
	if t.negate {
		e = negate(e)
	}
	return e
}

// condChain is a reduced run of test blocks first..last. Execution reaches
// t when the condition holds and f otherwise; t is always last+1.
type condChain struct {
	tree        *condTree
	first, last int
	t, f        int
}

func (f *funcDecompiler) canon(b int) int { return f.g.Canon(b) }

func (f *funcDecompiler) same(a, b int) bool { return f.canon(a) == f.canon(b) }

// enteredOnlyFrom reports whether every reachable predecessor of b lies in
// blocks lo..hi.
func (f *funcDecompiler) enteredOnlyFrom(b, lo, hi int) bool {
	for _, p := range f.g.Blocks[b].Preds {
		if f.g.Blocks[p].Reachable && (p < lo || p > hi) {
			return false
		}
	}
	return true
}

// reduceConds folds the test blocks b..k into one condition, or reports
// that their jumps do not form a short-circuit expression.
func (f *funcDecompiler) reduceConds(b, k int) (*condChain, bool) {
	nodes := make([]*condChain, 0, k-b+1)
	for j := b; j <= k; j++ {
		nodes = append(nodes, &condChain{tree: &condTree{leaf: j}, first: j, last: j, t: j + 1, f: f.g.Target(j)})
	}
	for len(nodes) > 1 {
		merged := false
		for i := 0; i+1 < len(nodes) && !merged; i++ {
			n1, n2 := nodes[i], nodes[i+1]
			if n1.t != n2.first || !f.enteredOnlyFrom(n2.first, n1.first, n1.last) {
				continue
			}
			var tree *condTree
			switch {
			case f.same(n1.f, n2.f):
				tree = &condTree{leaf: -1, op: ast.OpAnd, l: n1.tree, r: n2.tree}
			case f.same(n1.f, n2.t):
				tree = &condTree{leaf: -1, op: ast.OpOr, l: n1.tree.not(), r: n2.tree}
			default:
				continue
			}
			nodes[i] = &condChain{tree: tree, first: n1.first, last: n2.last, t: n2.t, f: n2.f}
			nodes = append(nodes[:i+1], nodes[i+2:]...)
			merged = true
		}
		if !merged {
			return nil, false
		}
	}
	return nodes[0], true
}

// chainEnd returns the last block of the longest run of test blocks from b
// that could form one condition: later blocks only evaluate their test and
// are entered from inside the run.
func (f *funcDecompiler) chainEnd(b, hi int) int {
	k := b
	for j := b + 1; j < hi; j++ {
		blk := f.g.Blocks[j]
		if blk.Term != cfg.TermCond || !f.isCondTest(blk) || !f.enteredOnlyFrom(j, b, j-1) ||
			!f.pure(blk.Start, blk.End-2, blk.End-1, -1) {
			break
		}
		k = j
	}
	return k
}

// isCondTest reports whether blk ends in a test usable as a condition.
func (f *funcDecompiler) isCondTest(blk *cfg.Block) bool {
	if blk.Term != cfg.TermCond || blk.Len() < 2 {
		return false
	}
	switch f.fn.Code[blk.End-1].Op {
	case chunk.OpEq, chunk.OpLt, chunk.OpLe, chunk.OpTest:
		return true
	}
	return false
}

// longestChain reduces the longest run from b accepted by ok.
func (f *funcDecompiler) longestChain(b, hi int, ok func(*condChain) bool) (*condChain, bool) {
	if !f.isCondTest(f.g.Blocks[b]) {
		return nil, false
	}
	for k := f.chainEnd(b, hi); k >= b; k-- {
		if c, reduced := f.reduceConds(b, k); reduced && ok(c) {
			return c, true
		}
	}
	return nil, false
}

// buildCond translates the tests of c in order and assembles the condition,
// returning the lowest pc its operands evaluate. Statements before the
// first test go to the current output.
func (f *funcDecompiler) buildCond(c *condChain) (ast.Expr, int) {
	leaves := make(map[int]ast.Expr, c.last-c.first+1)
	lo := f.g.Blocks[c.last].End
	for j := c.first; j <= c.last; j++ {
		blk := f.g.Blocks[j]
		f.translate(blk.Start, blk.End-2)
		e, l := f.cond(blk.End - 1)
		leaves[j] = e
		lo = min(lo, l)
	}
	return c.tree.build(leaves), lo
}

// pure reports whether the instructions in [from, to] only compute
// temporaries that are consumed by pc limit at the latest. Writes to keep
// are exempt.
func (f *funcDecompiler) pure(from, to, limit, keep int) bool {
	for pc := from; pc <= to; pc++ {
		if f.g.Pseudo(pc) {
			continue
		}
		if len(f.loc.starting(pc)) > 0 {
			return false
		}
		in := f.fn.Code[pc]
		switch in.Op {
		case chunk.OpSetGlobal, chunk.OpSetTabUp, chunk.OpSetUpval, chunk.OpSetTable, chunk.OpSetList,
			chunk.OpClose, chunk.OpReturn, chunk.OpTailCall, chunk.OpJmp:
			return false
		case chunk.OpCall:
			if in.C != 2 {
				return false
			}
		case chunk.OpVararg:
			if in.B != 2 {
				return false
			}
		}
		lo, hi := f.df.writes(pc)
		next := f.df.nextPC(pc)
		for r := lo; r <= hi; r++ {
			if r == keep {
				continue
			}
			if len(f.loc.bound[r]) > 0 {
				return false
			}
			if v := f.loc.active(r, next); v != nil && !internalName(v.Name) {
				return false
			}
			if !f.consumedBy(pc, r, limit) {
				return false
			}
		}
	}
	return true
}

// consumedBy reports whether the value written to r at pc is read exactly
// once, at or before limit.
func (f *funcDecompiler) consumedBy(pc, r, limit int) bool {
	if f.df.readCount(pc, r, false) != 1 {
		return false
	}
	for q := pc + 1; q <= limit && q < len(f.fn.Code); q++ {
		if n, _ := f.df.readsReg(q, r); n > 0 {
			return true
		}
	}
	return false
}

// negate inverts e, distributing over and/or when every operand inverts
// without a not.
func negate(e ast.Expr) ast.Expr {
	if b, ok := e.(*ast.BinaryOp); ok && (b.Op == ast.OpAnd || b.Op == ast.OpOr) &&
		invertsCleanly(b.L) && invertsCleanly(b.R) {
		op := ast.OpAnd
		if b.Op == ast.OpAnd {
			op = ast.OpOr
		}
		return &ast.BinaryOp{Op: op, L: negate(b.L), R: negate(b.R)}
	}
	return ast.Negate(e)
}

func invertsCleanly(e ast.Expr) bool {
	switch x := e.(type) {
	case *ast.UnaryOp:
		return x.Op == ast.OpNot
	case *ast.BinaryOp:
		switch x.Op {
		case ast.OpEq, ast.OpNe:
			return true
		case ast.OpAnd, ast.OpOr:
			return invertsCleanly(x.L) && invertsCleanly(x.R)
		}
	case *ast.ConstantRef:
		return x.Value.Kind == chunk.ConstBool || x.Value.Kind == chunk.ConstNil
	}
	return false
}

// boolean reports whether e always evaluates to true or false.
func boolean(e ast.Expr) bool {
	switch x := e.(type) {
	case *ast.UnaryOp:
		return x.Op == ast.OpNot
	case *ast.BinaryOp:
		switch x.Op {
		case ast.OpEq, ast.OpNe, ast.OpLt, ast.OpLe, ast.OpGt, ast.OpGe:
			return true
		case ast.OpAnd, ast.OpOr:
			return boolean(x.L) && boolean(x.R)
		}
	case *ast.ConstantRef:
		return x.Value.Kind == chunk.ConstBool
	}
	return false
}

// ----------------------------------------------------------------------------
// Values built from jumps
// ----------------------------------------------------------------------------

// loadBoolValue recognizes a condition materialized as a boolean:
//
//	tests...; LOADBOOL r v 1; LOADBOOL r !v 0; join
func (f *funcDecompiler) loadBoolValue(r *region, b int) (int, bool) {
	var lb1, lb2 chunk.Instruction
	match := func(c *condChain) bool {
		k := c.last
		if k+3 > r.hi || c.f != k+2 {
			return false
		}
		b1, b2 := f.g.Blocks[k+1], f.g.Blocks[k+2]
		if b1.Len() != 1 || b2.Len() != 1 || b1.Term != cfg.TermSkip || b2.Term != cfg.TermFall {
			return false
		}
		lb1, lb2 = f.fn.Code[b1.Start], f.fn.Code[b2.Start]
		return lb2.Op == chunk.OpLoadBool && lb1.A == lb2.A && (lb1.B != 0) != (lb2.B != 0) &&
			f.g.Target(k+1) == k+3 && f.enteredOnlyFrom(k+1, b, k) && f.enteredOnlyFrom(k+2, b, k)
	}
	c, ok := f.longestChain(b, r.hi, match)
	if !ok {
		return 0, false
	}

	e, lo := f.buildCond(c)
	if lb1.B == 0 {
		e = negate(e)
	}
	if !boolean(e) {
		e = &ast.UnaryOp{Op: ast.OpNot, X: &ast.UnaryOp{Op: ast.OpNot, X: e}}
	}
	last := f.g.Blocks[c.last+2].Start
	f.assign(lb1.A, last, lo, e)
	return c.last + 3, true
}

// valueTree is an and/or expression over value segments.
type valueTree struct {
	seg  int
	op   ast.BinOp
	l, r *valueTree
}

func (t *valueTree) build(vals []ast.Expr) ast.Expr {
	if t.l == nil {
		return vals[t.seg]
	}
	return &ast.BinaryOp{Op: t.op, L: t.l.build(vals), R: t.r.build(vals)}
}

// valueNode is a run of segments. Unless final, the run jumps to target
// with its value when the value's truthiness selects op.
type valueNode struct {
	tree        *valueTree
	first, last int
	op          ast.BinOp
	target      int
	final       bool
}

// logicalValue recognizes `a and b or c` style values: blocks testing and
// keeping a value in one register, the last of which falls into the join
// block every jump ends at or before.
func (f *funcDecompiler) logicalValue(r *region, b int) (int, bool) {
	head := f.g.Blocks[b]
	testPC := head.End - 1
	in := f.fn.Code[testPC]
	if in.Op != chunk.OpTest && in.Op != chunk.OpTestSet {
		return 0, false
	}
	reg := in.A
	if in.Op == chunk.OpTest {
		if v := f.loc.active(reg, testPC); v != nil && !internalName(v.Name) {
			return 0, false
		}
	}

	var segs []int
	join := -1
	j := b
	for ; j < r.hi; j++ {
		blk := f.g.Blocks[j]
		if blk.Term != cfg.TermCond {
			break
		}
		t := f.fn.Code[blk.End-1]
		if t.Op != chunk.OpTest && t.Op != chunk.OpTestSet || t.A != reg {
			break
		}
		segs = append(segs, j)
		join = max(join, f.g.Target(j))
	}
	final := j
	if final >= r.hi || final+1 != join || f.g.Blocks[final].Term != cfg.TermFall {
		return 0, false
	}
	starts := map[int]int{}
	for i, s := range segs {
		starts[s] = i
	}
	starts[final] = len(segs)

	for i, s := range segs {
		blk := f.g.Blocks[s]
		if i > 0 && (!f.enteredOnlyFrom(s, b, s-1) || !f.pure(blk.Start, blk.End-2, blk.End-1, reg)) {
			return 0, false
		}
		if t := f.g.Target(s); t != join {
			if m, ok := starts[t]; !ok || m <= i+1 {
				return 0, false
			}
		}
	}
	fb := f.g.Blocks[final]
	if !f.enteredOnlyFrom(final, b, final-1) || !f.pure(fb.Start, fb.End, fb.End, reg) || !f.df.writesRange(fb.Start, fb.End, reg) {
		return 0, false
	}
	joinPC := f.g.Blocks[join].Start
	if _, start := f.loc.upcoming(reg, testPC); start != joinPC && !f.df.liveAt(joinPC, reg) {
		return 0, false
	}

	tree, ok := f.reduceValues(segs, final, join)
	if !ok {
		return 0, false
	}

	f.forced[reg] = true
	lo := fb.End
	vals := make([]ast.Expr, 0, len(segs)+1)
	for _, s := range segs {
		blk := f.g.Blocks[s]
		f.translate(blk.Start, blk.End-2)
		pc := blk.End - 1
		f.enter(pc)
		t := f.fn.Code[pc]
		x := t.A
		if t.Op == chunk.OpTestSet {
			x = t.B
		}
		v, l := f.operand(pc, x)
		vals = append(vals, v)
		lo = min(lo, l)
	}
	f.translate(fb.Start, fb.End)
	v, l := f.take(reg, fb.End)
	vals = append(vals, v)
	lo = min(lo, l)
	delete(f.forced, reg)

	f.assign(reg, fb.End, lo, tree.build(vals))
	return join, true
}

func (f *funcDecompiler) reduceValues(segs []int, final, join int) (*valueTree, bool) {
	nodes := make([]*valueNode, 0, len(segs)+1)
	for i, s := range segs {
		op := ast.OpAnd
		if f.fn.Code[f.g.Blocks[s].End-1].C != 0 {
			op = ast.OpOr
		}
		nodes = append(nodes, &valueNode{tree: &valueTree{seg: i}, first: i, last: i, op: op, target: f.g.Target(s)})
	}
	nodes = append(nodes, &valueNode{tree: &valueTree{seg: len(segs)}, first: len(segs), last: len(segs), final: true})

	startOf := func(n *valueNode) int {
		if n.first == len(segs) {
			return final
		}
		return segs[n.first]
	}

	for len(nodes) > 1 {
		merged := false
		for i := 0; i+1 < len(nodes) && !merged; i++ {
			n1, n2 := nodes[i], nodes[i+1]
			if targetsIntoExcept(nodes, startOf(n2), -1) {
				continue
			}
			join2 := &valueTree{op: n1.op, l: n1.tree, r: n2.tree}
			switch {
			case n2.final && n1.target == join:
				nodes[i] = &valueNode{tree: join2, first: n1.first, last: n2.last, final: true}
			case !n2.final && n1.target == n2.target && n1.op == n2.op:
				nodes[i] = &valueNode{tree: join2, first: n1.first, last: n2.last, op: n1.op, target: n2.target}
			case !n2.final && n1.op != n2.op && i+2 < len(nodes) && n1.target == startOf(nodes[i+2]) &&
				!targetsIntoExcept(nodes, startOf(nodes[i+2]), i):
				nodes[i] = &valueNode{tree: join2, first: n1.first, last: n2.last, op: n2.op, target: n2.target}
			default:
				continue
			}
			nodes = append(nodes[:i+1], nodes[i+2:]...)
			merged = true
		}
		if !merged {
			return nil, false
		}
	}
	return nodes[0].tree, nodes[0].final
}

// targetsIntoExcept reports whether a node other than nodes[except] jumps
// to block start.
func targetsIntoExcept(nodes []*valueNode, start, except int) bool {
	for i, m := range nodes {
		if i != except && !m.final && m.target == start {
			return true
		}
	}
	return false
}
