package decompile

import (
	"sort"

	"github.com/chazu/luadec/chunk"
	"github.com/chazu/luadec/decompile/ast"
	"github.com/chazu/luadec/decompile/cfg"
)

// pendingValue is an expression held in a register until its single
// consumer reads it.
type pendingValue struct {
	expr ast.Expr
	// lo and hi bound the pcs whose evaluation the expression contains.
	lo, hi int
	// span is the number of registers a multi-result value fills.
	span int
	// method is set for the function slot written by SELF; expr is then
	// the receiver.
	method string
	// self marks the receiver slot written by SELF.
	self bool
}

// funcDecompiler reconstructs one function.
type funcDecompiler struct {
	d     *decompiler
	fn    *chunk.Function
	p     *chunk.Profile
	g     *cfg.Graph
	df    *dataflow
	loc   *locals
	up    []upval
	loops *loopTable

	out     *ast.Block
	pending map[int]*pendingValue
	// top is one past the register holding an open multi-result value.
	top int
	// forced registers keep every write pending; used while a short-circuit
	// value is assembled.
	forced map[int]bool
}

func newFuncDecompiler(d *decompiler, fn *chunk.Function, g *cfg.Graph, up []upval) *funcDecompiler {
	return &funcDecompiler{
		d:       d,
		fn:      fn,
		p:       d.p,
		g:       g,
		df:      newDataflow(fn, d.p, g),
		loc:     newLocals(fn, d.p),
		up:      up,
		out:     &ast.Block{},
		pending: map[int]*pendingValue{},
		top:     -1,
		forced:  map[int]bool{},
	}
}

func (f *funcDecompiler) malformed(pc int, format string, args ...any) {
	panic(&fatal{err: chunk.MalformedAt(f.fn.Index, pc, format, args...)})
}

func (f *funcDecompiler) constant(pc, idx int) chunk.Constant {
	if idx < 0 || idx >= len(f.fn.Constants) {
		f.malformed(pc, "constant %d outside pool of %d", idx, len(f.fn.Constants))
	}
	return f.fn.Constants[idx]
}

// ----------------------------------------------------------------------------
// Statement output
// ----------------------------------------------------------------------------

// emit appends s after materializing every pending value, so that their
// side effects stay ahead of it.
func (f *funcDecompiler) emit(s ast.Stmt) {
	f.flush()
	f.out.Append(s)
}

// collect runs body with a fresh output block and returns it. Values still
// pending at the end are flushed into the block.
func (f *funcDecompiler) collect(body func()) *ast.Block {
	prev := f.out
	f.out = &ast.Block{}
	body()
	f.flush()
	blk := f.out
	f.out = prev
	return blk
}

// flush turns pending values into assignments in the order their
// evaluation began.
func (f *funcDecompiler) flush() {
	if len(f.pending) == 0 {
		return
	}
	regs := make([]int, 0, len(f.pending))
	for r := range f.pending {
		regs = append(regs, r)
	}
	sort.Slice(regs, func(i, j int) bool {
		a, b := f.pending[regs[i]], f.pending[regs[j]]
		if a.lo != b.lo {
			return a.lo < b.lo
		}
		if a.hi != b.hi {
			return a.hi < b.hi
		}
		return regs[i] < regs[j]
	})

	for _, r := range regs {
		pv, ok := f.pending[r]
		if !ok {
			continue
		}
		delete(f.pending, r)
		next := f.df.nextPC(pv.hi)

		if pv.method != "" {
			recv := f.loc.at(r+1, next)
			delete(f.pending, r+1)
			f.out.Append(
				&ast.Assign{Targets: []ast.Expr{ast.Ref(recv)}, Values: []ast.Expr{pv.expr}},
				&ast.Assign{
					Targets: []ast.Expr{ast.Ref(f.loc.at(r, next))},
					Values:  []ast.Expr{&ast.Index{Obj: ast.Ref(recv), Key: ast.Str(pv.method)}},
				})
			continue
		}

		targets := make([]ast.Expr, 0, pv.span)
		vars := make([]*ast.Local, 0, pv.span)
		declare := true
		for k := 0; k < max(pv.span, 1); k++ {
			v := f.loc.at(r+k, next)
			vars = append(vars, v)
			targets = append(targets, ast.Ref(v))
			declare = declare && f.declaring(v, next)
		}
		if declare {
			for _, v := range vars {
				v.Declared = true
			}
		}
		f.out.Append(&ast.Assign{Targets: targets, Values: []ast.Expr{pv.expr}, Declare: declare})
	}
}

// declaring reports whether an assignment at the instruction before pc
// introduces v.
func (f *funcDecompiler) declaring(v *ast.Local, pc int) bool {
	return !v.Declared && !v.Implicit && f.loc.startPC(v) == pc
}

// flushOverwritten materializes pending values before registers lo..hi
// are overwritten.
func (f *funcDecompiler) flushOverwritten(lo, hi int) {
	for r := lo; r <= hi; r++ {
		if _, ok := f.pending[r]; ok {
			f.flush()
			return
		}
	}
}

// enter declares the debug variables that start at pc, consuming their
// pending initial values.
func (f *funcDecompiler) enter(pc int) {
	vars := f.loc.starting(pc)
	if len(vars) == 0 {
		return
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].Reg < vars[j].Reg })

	in := f.fn.Code[pc]
	var targets, values []ast.Expr
	var bare []*ast.Local
	for i := 0; i < len(vars); i++ {
		v := vars[i]
		pv, ok := f.pending[v.Reg]
		if !ok || pv.method != "" || pv.self {
			if in.Op == chunk.OpClosure && in.A == v.Reg {
				continue
			}
			v.Declared = true
			bare = append(bare, v)
			continue
		}
		delete(f.pending, v.Reg)
		v.Declared = true
		targets = append(targets, ast.Ref(v))
		values = append(values, pv.expr)
		for k := 1; k < pv.span && i+1 < len(vars) && vars[i+1].Reg == v.Reg+k; k++ {
			i++
			vars[i].Declared = true
			targets = append(targets, ast.Ref(vars[i]))
		}
	}
	if len(targets) > 0 {
		f.emit(&ast.Assign{Targets: targets, Values: values, Declare: true})
	}
	if len(bare) > 0 {
		f.emit(&ast.LocalDecl{Locals: bare})
	}
}

// ----------------------------------------------------------------------------
// Register reads and writes
// ----------------------------------------------------------------------------

// take returns the expression reg holds at pc, consuming a pending value,
// and the lowest pc the expression evaluates.
func (f *funcDecompiler) take(reg, pc int) (ast.Expr, int) {
	pv, ok := f.pending[reg]
	if !ok {
		return ast.Ref(f.loc.at(reg, pc)), pc
	}
	if pv.method != "" {
		f.flush()
		return ast.Ref(f.loc.at(reg, pc)), pc
	}
	delete(f.pending, reg)
	return pv.expr, pv.lo
}

// operands reads RK operands in evaluation order. If pending values would
// be consumed out of the order their evaluation began, or one began before
// the previous one was complete, everything pending is materialized first.
func (f *funcDecompiler) operands(pc int, xs ...int) ([]ast.Expr, int) {
	last, ordered := -1, true
	for _, x := range xs {
		if f.p.IsK(x) {
			continue
		}
		if pv, ok := f.pending[x]; ok {
			if pv.lo <= last {
				ordered = false
			}
			last = max(last, pv.hi)
		}
	}
	if !ordered {
		f.flush()
	}

	lo := pc
	out := make([]ast.Expr, len(xs))
	for i, x := range xs {
		if f.p.IsK(x) {
			out[i] = ast.Const(f.constant(pc, f.p.KIndex(x)))
			continue
		}
		e, l := f.take(x, pc)
		out[i] = e
		lo = min(lo, l)
	}
	return out, lo
}

func (f *funcDecompiler) operand(pc, x int) (ast.Expr, int) {
	ops, lo := f.operands(pc, x)
	return ops[0], lo
}

func span(lo, hi int) []int {
	out := make([]int, 0, max(hi-lo+1, 0))
	for r := lo; r <= hi; r++ {
		out = append(out, r)
	}
	return out
}

// assign records that reg receives e at pc. A named variable gets an
// assignment statement; a temporary read exactly once stays pending so its
// consumer can inline it.
func (f *funcDecompiler) assign(reg, pc, lo int, e ast.Expr) {
	f.flushOverwritten(reg, reg)
	pv := &pendingValue{expr: e, lo: lo, hi: pc, span: 1}
	if f.forced[reg] {
		f.pending[reg] = pv
		return
	}
	next := f.df.nextPC(pc)
	stmt := func(v *ast.Local, declare bool) {
		if declare {
			v.Declared = true
		}
		f.emit(&ast.Assign{Targets: []ast.Expr{ast.Ref(v)}, Values: []ast.Expr{e}, Declare: declare})
	}

	if b := f.loc.bound[reg]; len(b) > 0 {
		stmt(b[len(b)-1], false)
		return
	}
	if v := f.loc.active(reg, next); v != nil && !internalName(v.Name) {
		if f.declaring(v, next) {
			f.pending[reg] = pv
			return
		}
		stmt(v, false)
		return
	}
	if v, start := f.loc.upcoming(reg, pc); v != nil && f.quietUntil(reg, pc, start) {
		f.pending[reg] = pv
		return
	}
	if cl, ok := e.(*ast.ClosureRef); ok && cl.Self != nil {
		stmt(f.loc.at(reg, next), false)
		return
	}
	_, table := e.(*ast.TableConstructor)
	if f.df.readCount(pc, reg, table) == 1 {
		f.pending[reg] = pv
		return
	}
	stmt(f.loc.at(reg, next), false)
}

// quietUntil reports whether reg is left untouched by the instructions
// between pc and start, all inside pc's block.
func (f *funcDecompiler) quietUntil(reg, pc, start int) bool {
	blk := f.g.Blocks[f.g.BlockOf(pc)]
	if start > blk.End+1 {
		return false
	}
	for q := pc + 1; q < start; q++ {
		if f.df.writesReg(q, reg) {
			return false
		}
	}
	return true
}

// multiAssign stores a multi-result value in n registers from a. It stays
// pending when the registers are all variables declared right after, or
// when it feeds a generic for.
func (f *funcDecompiler) multiAssign(pc, lo, a, n int, e ast.Expr) {
	switch x := e.(type) {
	case *ast.Call:
		x.Multi = true
	case *ast.Vararg:
		x.Multi = true
	}
	f.flushOverwritten(a, a+n-1)
	next := f.df.nextPC(pc)
	pv := &pendingValue{expr: e, lo: lo, hi: pc, span: n}
	if prepA, ok := f.df.prep[next]; ok && prepA == a {
		f.pending[a] = pv
		return
	}

	targets := make([]ast.Expr, 0, n)
	declare := true
	for k := 0; k < n; k++ {
		v := f.loc.at(a+k, next)
		targets = append(targets, ast.Ref(v))
		declare = declare && f.declaring(v, next)
	}
	if declare {
		f.pending[a] = pv
		return
	}
	f.emit(&ast.Assign{Targets: targets, Values: []ast.Expr{e}})
}

// ----------------------------------------------------------------------------
// Instruction translation
// ----------------------------------------------------------------------------

// translate emits the non-structural instructions in [from, to].
func (f *funcDecompiler) translate(from, to int) {
	for pc := from; pc <= to; pc++ {
		if !f.g.Pseudo(pc) {
			f.step(pc)
		}
	}
}

var arithOps = map[chunk.Op]ast.BinOp{
	chunk.OpAdd: ast.OpAdd, chunk.OpSub: ast.OpSub, chunk.OpMul: ast.OpMul,
	chunk.OpMod: ast.OpMod, chunk.OpPow: ast.OpPow, chunk.OpDiv: ast.OpDiv,
	chunk.OpIDiv: ast.OpIDiv, chunk.OpBAnd: ast.OpBAnd, chunk.OpBOr: ast.OpBOr,
	chunk.OpBXor: ast.OpBXor, chunk.OpShl: ast.OpShl, chunk.OpShr: ast.OpShr,
}

var unaryOps = map[chunk.Op]ast.UnOp{
	chunk.OpUnm: ast.OpNeg, chunk.OpNot: ast.OpNot, chunk.OpLen: ast.OpLen, chunk.OpBNot: ast.OpBNot,
}

// step translates one straight-line instruction.
func (f *funcDecompiler) step(pc int) {
	f.enter(pc)
	in := f.fn.Code[pc]
	switch op := in.Op; {
	case op == chunk.OpMove:
		v, lo := f.operand(pc, in.B)
		f.assign(in.A, pc, lo, v)
	case op == chunk.OpLoadK:
		f.assign(in.A, pc, pc, ast.Const(f.constant(pc, in.Bx)))
	case op == chunk.OpLoadKX:
		if pc+1 >= len(f.fn.Code) {
			f.malformed(pc, "LOADKX without EXTRAARG")
		}
		f.assign(in.A, pc, pc, ast.Const(f.constant(pc, f.fn.Code[pc+1].Ax)))
	case op == chunk.OpLoadBool:
		f.assign(in.A, pc, pc, ast.Bool(in.B != 0))
	case op == chunk.OpLoadNil:
		for r := in.A; r <= f.p.LoadNilLast(in); r++ {
			f.assign(r, pc, pc, ast.Nil())
		}
	case op == chunk.OpGetUpval:
		f.assign(in.A, pc, pc, f.upvalRef(in.B))
	case op == chunk.OpGetGlobal:
		f.assign(in.A, pc, pc, f.global(pc, in.Bx))
	case op == chunk.OpGetTabUp:
		key, lo := f.operand(pc, in.C)
		f.assign(in.A, pc, lo, f.tabUp(in.B, key))
	case op == chunk.OpGetTable:
		ops, lo := f.operands(pc, in.B, in.C)
		f.assign(in.A, pc, lo, &ast.Index{Obj: ops[0], Key: ops[1]})
	case op == chunk.OpSetGlobal:
		v, _ := f.operand(pc, in.A)
		f.emit(&ast.Assign{Targets: []ast.Expr{f.global(pc, in.Bx)}, Values: []ast.Expr{v}})
	case op == chunk.OpSetTabUp:
		ops, _ := f.operands(pc, in.B, in.C)
		f.emit(&ast.Assign{Targets: []ast.Expr{f.tabUp(in.A, ops[0])}, Values: []ast.Expr{ops[1]}})
	case op == chunk.OpSetUpval:
		v, _ := f.operand(pc, in.A)
		f.emit(&ast.Assign{Targets: []ast.Expr{f.upvalRef(in.B)}, Values: []ast.Expr{v}})
	case op == chunk.OpSetTable:
		f.setTable(pc, in)
	case op == chunk.OpNewTable:
		f.assign(in.A, pc, pc, &ast.TableConstructor{})
	case op == chunk.OpSelf:
		f.self(pc, in)
	case op.IsArith():
		ops, lo := f.operands(pc, in.B, in.C)
		f.assign(in.A, pc, lo, &ast.BinaryOp{Op: arithOps[op], L: ops[0], R: ops[1]})
	case op.IsUnary():
		v, lo := f.operand(pc, in.B)
		f.assign(in.A, pc, lo, &ast.UnaryOp{Op: unaryOps[op], X: v})
	case op == chunk.OpConcat:
		ops, lo := f.operands(pc, span(in.B, in.C)...)
		e := ops[len(ops)-1]
		for i := len(ops) - 2; i >= 0; i-- {
			e = &ast.BinaryOp{Op: ast.OpConcat, L: ops[i], R: e}
		}
		f.assign(in.A, pc, lo, e)
	case op == chunk.OpCall:
		f.call(pc, in)
	case op == chunk.OpTailCall:
		call, _ := f.callExpr(pc, in.A, in.B)
		call.Multi = true
		f.emit(&ast.Return{Values: []ast.Expr{call}})
	case op == chunk.OpReturn:
		f.ret(pc, in)
	case op == chunk.OpSetList:
		f.setList(pc, in)
	case op == chunk.OpClosure:
		f.closure(pc, in)
	case op == chunk.OpVararg:
		f.vararg(pc, in)
	case op == chunk.OpClose, op == chunk.OpExtraArg, op == chunk.OpJmp:
	default:
		bail(pc, "%s outside of its control structure", op)
	}
}

func (f *funcDecompiler) upvalRef(idx int) *ast.UpvalueRef {
	if idx < len(f.up) {
		return &ast.UpvalueRef{Name: f.up[idx].name, Index: idx}
	}
	return &ast.UpvalueRef{Name: upvalueName(idx), Index: idx}
}

func (f *funcDecompiler) global(pc, bx int) ast.Expr {
	k := f.constant(pc, bx)
	if k.Kind == chunk.ConstString {
		return &ast.Global{Name: k.Str}
	}
	return &ast.Index{Obj: &ast.Global{Name: "_G"}, Key: ast.Const(k)}
}

// tabUp resolves U(idx)[key]; string keys of the environment upvalue are
// globals.
func (f *funcDecompiler) tabUp(idx int, key ast.Expr) ast.Expr {
	if idx < len(f.up) && f.up[idx].env {
		if k, ok := key.(*ast.ConstantRef); ok && k.Value.Kind == chunk.ConstString {
			return &ast.Global{Name: k.Value.Str}
		}
	}
	return &ast.Index{Obj: f.upvalRef(idx), Key: key}
}

// callExpr builds the call of R(a) with b-1 arguments, or arguments up to
// the open value when b is 0.
func (f *funcDecompiler) callExpr(pc, a, b int) (*ast.Call, int) {
	last := a + b - 1
	if b == 0 {
		last = max(f.top-1, a)
	}
	f.top = -1
	regs := span(a, last)

	if pv, ok := f.pending[a]; ok && pv.method != "" && len(regs) >= 2 {
		if recv, ok := f.pending[a+1]; ok && recv.self {
			delete(f.pending, a)
			delete(f.pending, a+1)
			args, lo := f.operands(pc, regs[2:]...)
			return &ast.Call{Fn: pv.expr, Method: pv.method, Args: args}, min(lo, pv.lo)
		}
	}
	ops, lo := f.operands(pc, regs...)
	return &ast.Call{Fn: ops[0], Args: ops[1:]}, lo
}

func (f *funcDecompiler) call(pc int, in chunk.Instruction) {
	call, lo := f.callExpr(pc, in.A, in.B)
	switch {
	case in.C == 1:
		f.emit(&ast.CallStmt{Call: call})
	case in.C == 0:
		call.Multi = true
		f.flushOverwritten(in.A, in.A)
		f.pending[in.A] = &pendingValue{expr: call, lo: lo, hi: pc, span: 1}
		f.top = in.A + 1
	case in.C == 2:
		f.assign(in.A, pc, lo, call)
	default:
		f.multiAssign(pc, lo, in.A, in.C-1, call)
	}
}

func (f *funcDecompiler) ret(pc int, in chunk.Instruction) {
	if in.B == 1 {
		f.emit(&ast.Return{})
		return
	}
	last := in.A + in.B - 2
	if in.B == 0 {
		last = max(f.top-1, in.A)
		f.top = -1
	}
	vals, _ := f.operands(pc, span(in.A, last)...)
	f.emit(&ast.Return{Values: vals})
}

func (f *funcDecompiler) self(pc int, in chunk.Instruction) {
	ops, lo := f.operands(pc, in.B, in.C)
	obj, key := ops[0], ops[1]
	if k, ok := key.(*ast.ConstantRef); ok && k.Value.IsIdentifier() {
		f.flushOverwritten(in.A, in.A+1)
		f.pending[in.A+1] = &pendingValue{expr: obj, lo: lo, hi: pc, span: 1, self: true}
		f.pending[in.A] = &pendingValue{expr: obj, lo: lo, hi: pc, span: 1, method: k.Value.Str}
		return
	}
	recv := f.loc.at(in.A+1, f.df.nextPC(pc))
	f.emit(&ast.Assign{Targets: []ast.Expr{ast.Ref(recv)}, Values: []ast.Expr{obj}})
	f.assign(in.A, pc, pc, &ast.Index{Obj: ast.Ref(recv), Key: key})
}

// openTable returns the constructor pending in reg, if any.
func (f *funcDecompiler) openTable(reg int) (*pendingValue, *ast.TableConstructor) {
	if pv, ok := f.pending[reg]; ok {
		if t, ok := pv.expr.(*ast.TableConstructor); ok {
			return pv, t
		}
	}
	return nil, nil
}

// effects reports whether e calls a function and whether it reads global,
// table or upvalue state.
func effects(e ast.Expr) (calls, reads bool) {
	ast.WalkExpr(e, func(x ast.Expr) {
		switch x.(type) {
		case *ast.Call:
			calls = true
		case *ast.Global, *ast.Index, *ast.UpvalueRef:
			reads = true
		}
	})
	return calls, reads
}

// conflicts reports whether evaluating a and b in either order can differ.
func conflicts(a, b ast.Expr) bool {
	ca, ra := effects(a)
	cb, rb := effects(b)
	return ca && (cb || rb) || cb && ra
}

// overtaken reports whether a value that became pending after the table in
// reg began would move behind fields evaluated after it.
func (f *funcDecompiler) overtaken(reg int, pv *pendingValue, fields []ast.Expr) bool {
	for r, o := range f.pending {
		if r == reg || o.lo <= pv.lo {
			continue
		}
		for _, e := range fields {
			if conflicts(o.expr, e) {
				return true
			}
		}
	}
	return false
}

func (f *funcDecompiler) setTable(pc int, in chunk.Instruction) {
	if pv, t := f.openTable(in.A); t != nil {
		ops, _ := f.operands(pc, in.B, in.C)
		if f.pending[in.A] == pv && f.overtaken(in.A, pv, ops) {
			f.flush()
		}
		if f.pending[in.A] == pv {
			t.Fields = append(t.Fields, ast.TableField{Key: ops[0], Value: ops[1]})
			pv.hi = pc
			return
		}
		obj := ast.Ref(f.loc.at(in.A, pc))
		f.emit(&ast.Assign{Targets: []ast.Expr{&ast.Index{Obj: obj, Key: ops[0]}}, Values: []ast.Expr{ops[1]}})
		return
	}
	ops, _ := f.operands(pc, in.A, in.B, in.C)
	f.emit(&ast.Assign{Targets: []ast.Expr{&ast.Index{Obj: ops[0], Key: ops[1]}}, Values: []ast.Expr{ops[2]}})
}

func (f *funcDecompiler) setList(pc int, in chunk.Instruction) {
	last := in.A + in.B
	if in.B == 0 {
		last = max(f.top-1, in.A)
		f.top = -1
	}
	batch := in.C
	if batch == 0 {
		if pc+1 >= len(f.fn.Code) {
			f.malformed(pc, "SETLIST without batch word")
		}
		batch = f.fn.Code[pc+1].Ax
	}
	first := (batch-1)*f.p.FieldsPerFlush + 1

	pv, t := f.openTable(in.A)
	vals, _ := f.operands(pc, span(in.A+1, last)...)
	if t != nil && f.pending[in.A] == pv && f.overtaken(in.A, pv, vals) {
		f.flush()
	}
	if t != nil && f.pending[in.A] == pv {
		pos := 0
		for _, fl := range t.Fields {
			if fl.Key == nil {
				pos++
			}
		}
		for i, v := range vals {
			if idx := first + i; pos == idx-1 {
				t.Fields = append(t.Fields, ast.TableField{Value: v})
				pos++
			} else {
				t.Fields = append(t.Fields, ast.TableField{Key: ast.Const(chunk.IntConst(int64(idx))), Value: v})
			}
		}
		pv.hi = pc
		return
	}
	obj := ast.Ref(f.loc.at(in.A, pc))
	for i, v := range vals {
		key := ast.Const(chunk.IntConst(int64(first + i)))
		f.emit(&ast.Assign{Targets: []ast.Expr{&ast.Index{Obj: obj, Key: key}}, Values: []ast.Expr{v}})
	}
}

func (f *funcDecompiler) vararg(pc int, in chunk.Instruction) {
	switch in.B {
	case 0:
		f.flushOverwritten(in.A, in.A)
		f.pending[in.A] = &pendingValue{expr: &ast.Vararg{Multi: true}, lo: pc, hi: pc, span: 1}
		f.top = in.A + 1
	case 1:
	case 2:
		f.assign(in.A, pc, pc, &ast.Vararg{})
	default:
		f.multiAssign(pc, pc, in.A, in.B-1, &ast.Vararg{})
	}
}

// closure decompiles the nested prototype and binds its captures.
func (f *funcDecompiler) closure(pc int, in chunk.Instruction) {
	if in.Bx >= len(f.fn.Protos) {
		f.malformed(pc, "closure prototype %d outside %d", in.Bx, len(f.fn.Protos))
	}
	child := f.fn.Protos[in.Bx]
	next := f.df.nextPC(pc)

	n := len(child.Upvalues)
	if f.p.Variant == chunk.VariantA {
		n = child.NumUpvalues
	}
	var caps []*ast.Local
	var self *ast.Local
	ups := make([]upval, 0, n)
	for i := 0; i < n; i++ {
		inStack, idx := f.captureAt(pc, child, i)
		var u upval
		if inStack {
			at := pc
			if idx == in.A {
				at = next
			}
			if _, ok := f.pending[idx]; ok && idx != in.A {
				f.flush()
			}
			v := f.loc.at(idx, at)
			caps = append(caps, v)
			if idx == in.A {
				self = v
			}
			u = upval{name: v.Name, env: v.Name == envName}
		} else if idx < len(f.up) {
			u = f.up[idx]
		} else {
			u = upval{name: upvalueName(idx)}
		}
		if name := child.UpvalueName(i); name != "" {
			u.name = name
			u.env = u.env || (!inStack && name == envName)
		}
		ups = append(ups, u)
	}

	body, err := f.d.function(child, ups)
	if err != nil {
		panic(&fatal{err: err})
	}
	f.assign(in.A, pc, pc, &ast.ClosureRef{Fn: body, Captures: caps, Self: self})
}

// captureAt returns where upvalue i of child comes from.
func (f *funcDecompiler) captureAt(pc int, child *chunk.Function, i int) (inStack bool, idx int) {
	if f.p.Variant == chunk.VariantB {
		uv := child.Upvalues[i]
		return uv.InStack, uv.Index
	}
	if pc+1+i >= len(f.fn.Code) {
		f.malformed(pc, "closure capture %d past end of code", i)
	}
	w := f.fn.Code[pc+1+i]
	return w.Op == chunk.OpMove, w.B
}

// cond translates the test at pc into the condition under which
// execution falls through past its jump, and the lowest pc it evaluates.
func (f *funcDecompiler) cond(pc int) (ast.Expr, int) {
	f.enter(pc)
	in := f.fn.Code[pc]
	switch in.Op {
	case chunk.OpEq, chunk.OpLt, chunk.OpLe:
		ops, lo := f.operands(pc, in.B, in.C)
		e := compare(in.Op, ops[0], ops[1])
		if in.A != 0 {
			return ast.Negate(e), lo
		}
		return e, lo
	case chunk.OpTest, chunk.OpTestSet:
		x := in.A
		if in.Op == chunk.OpTestSet {
			x = in.B
		}
		v, lo := f.operand(pc, x)
		if in.C != 0 {
			return ast.Negate(v), lo
		}
		return v, lo
	}
	bail(pc, "%s is not a branch condition", in.Op)
	return nil, pc
}

// compare builds a comparison, keeping a literal operand on the right.
func compare(op chunk.Op, l, r ast.Expr) ast.Expr {
	bop := ast.OpEq
	switch op {
	case chunk.OpLt:
		bop = ast.OpLt
	case chunk.OpLe:
		bop = ast.OpLe
	}
	_, lk := l.(*ast.ConstantRef)
	_, rk := r.(*ast.ConstantRef)
	if lk && !rk {
		return &ast.BinaryOp{Op: bop.Mirror(), L: r, R: l}
	}
	return &ast.BinaryOp{Op: bop, L: l, R: r}
}
