// Package emit renders decompiled functions as Lua source text.
package emit

import (
	"strings"

	"github.com/chazu/luadec/chunk"
	"github.com/chazu/luadec/decompile/ast"
	"github.com/chazu/luadec/output"
)

// Options controls the rendering.
type Options struct {
	// Indent is written once per nesting level.
	Indent string
}

// DefaultOptions indents with two spaces.
func DefaultOptions() Options { return Options{Indent: "  "} }

// Render returns the source of fn as a main chunk.
func Render(fn *ast.Function, opts Options) string {
	s := &output.StringSink{}
	_ = Write(s, fn, opts)
	return s.String()
}

// Write emits the source of fn as a main chunk to sink and finishes it.
func Write(sink output.Sink, fn *ast.Function, opts Options) error {
	if opts.Indent == "" {
		opts.Indent = DefaultOptions().Indent
	}
	p := &printer{sink: sink, unit: opts.Indent, variant: fn.Variant}
	p.stmts(fn.Body, true, false)
	return sink.Finish()
}

// printer walks the tree and writes source lines to a sink.
type printer struct {
	sink    output.Sink
	unit    string
	indent  int
	variant chunk.Variant
}

func (p *printer) write(s string) { p.sink.Emit(s) }

func (p *printer) writeIndent() {
	for i := 0; i < p.indent; i++ {
		p.sink.Emit(p.unit)
	}
}

// line starts a statement line at the current indentation.
func (p *printer) line(s string) {
	p.writeIndent()
	p.write(s)
}

func (p *printer) endLine() { p.sink.Newline() }

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// stmts writes the statements of b at the current level. A function body
// drops a final bare return; a return followed by anything, including the
// trailer of a loop body, is wrapped in do ... end.
func (p *printer) stmts(b *ast.Block, body, trailer bool) {
	if b == nil {
		return
	}
	list := b.Stmts
	if n := len(list); body && n > 0 {
		if r, ok := list[n-1].(*ast.Return); ok && len(r.Values) == 0 {
			list = list[:n-1]
		}
	}
	for i, s := range list {
		if r, ok := s.(*ast.Return); ok && (i < len(list)-1 || trailer) {
			p.line("do ")
			p.ret(r)
			p.write(" end")
			p.endLine()
			continue
		}
		p.stmt(s)
	}
}

// nested writes b one level deeper, closing a loop body with the label
// continue statements jump to.
func (p *printer) nested(b *ast.Block, hasContinue bool) {
	p.indent++
	p.stmts(b, false, hasContinue)
	if hasContinue {
		p.line("::continue::")
		p.endLine()
	}
	p.indent--
}

func (p *printer) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.Assign:
		p.assign(s)
	case *ast.LocalDecl:
		p.line("local ")
		p.locals(s.Locals)
		if len(s.Values) > 0 {
			p.write(" = ")
			p.exprList(s.Values, len(s.Locals) > len(s.Values))
		}
	case *ast.CallStmt:
		p.writeIndent()
		if p.leadingParen(s.Call) {
			p.write(";")
		}
		p.expr(s.Call, precPrimary)
	case *ast.Return:
		p.writeIndent()
		p.ret(s)
	case *ast.If:
		p.ifStmt(s)
		return
	case *ast.While:
		p.line("while ")
		p.expr(s.Cond, 0)
		p.write(" do")
		p.endLine()
		p.nested(s.Body, s.HasContinue)
		p.line("end")
	case *ast.RepeatUntil:
		p.line("repeat")
		p.endLine()
		p.nested(s.Body, s.HasContinue)
		p.line("until ")
		p.expr(s.Cond, 0)
	case *ast.NumericFor:
		p.line("for " + s.Var.Name + " = ")
		p.expr(s.Start, 0)
		p.write(", ")
		p.expr(s.Limit, 0)
		if !unitStep(s.Step) {
			p.write(", ")
			p.expr(s.Step, 0)
		}
		p.write(" do")
		p.endLine()
		p.nested(s.Body, s.HasContinue)
		p.line("end")
	case *ast.GenericFor:
		p.line("for ")
		p.locals(s.Vars)
		p.write(" in ")
		p.exprList(s.Exprs, len(s.Exprs) < 3)
		p.write(" do")
		p.endLine()
		p.nested(s.Body, s.HasContinue)
		p.line("end")
	case *ast.Do:
		p.line("do")
		p.endLine()
		p.nested(s.Body, false)
		p.line("end")
	case *ast.Break:
		p.line("break")
	case *ast.Continue:
		p.line("goto continue")
	case *ast.Goto:
		p.line("goto " + s.Label)
	case *ast.Label:
		p.line("::" + s.Name + "::")
	case *ast.Comment:
		for i, l := range strings.Split(s.Text, "\n") {
			if i > 0 {
				p.endLine()
			}
			p.line("-- " + l)
		}
	}
	p.endLine()
}

func (p *printer) ret(r *ast.Return) {
	p.write("return")
	if len(r.Values) > 0 {
		p.write(" ")
		p.exprList(r.Values, true)
	}
}

func (p *printer) locals(vs []*ast.Local) {
	for i, v := range vs {
		if i > 0 {
			p.write(", ")
		}
		p.write(v.Name)
	}
}

func (p *printer) ifStmt(s *ast.If) {
	for i, br := range s.Branches {
		if i == 0 {
			p.line("if ")
		} else {
			p.line("elseif ")
		}
		p.expr(br.Cond, 0)
		p.write(" then")
		p.endLine()
		p.nested(br.Body, false)
	}
	if s.Else != nil && s.Else.Len() > 0 {
		p.line("else")
		p.endLine()
		p.nested(s.Else, false)
	}
	p.line("end")
	p.endLine()
}

func (p *printer) assign(s *ast.Assign) {
	if len(s.Targets) == 1 && len(s.Values) == 1 {
		if c, ok := s.Values[0].(*ast.ClosureRef); ok {
			if p.functionStmt(s, c) {
				return
			}
		}
	}

	values := s.Values
	if s.Declare {
		p.line("local ")
		for len(values) > 0 && ast.IsNil(values[len(values)-1]) {
			values = values[:len(values)-1]
		}
	} else {
		p.writeIndent()
	}
	for i, t := range s.Targets {
		if i > 0 {
			p.write(", ")
		}
		p.expr(t, precPrimary)
	}
	if len(values) > 0 {
		p.write(" = ")
		p.exprList(values, len(s.Targets) > len(values))
	}
}

// functionStmt writes a closure assignment with function statement sugar
// when the target allows it.
func (p *printer) functionStmt(s *ast.Assign, c *ast.ClosureRef) bool {
	if s.Declare {
		r, ok := s.Targets[0].(*ast.RegisterRef)
		if !ok || c.Self == nil || c.Self != r.Local {
			return false
		}
		p.line("local function " + r.Local.Name)
		p.funcBody(c.Fn, false)
		return true
	}

	target := s.Targets[0]
	if ix, ok := target.(*ast.Index); ok {
		fn := c.Fn
		if key, ok := nameKey(ix.Key); ok && len(fn.Params) > 0 && fn.Params[0].Name == "self" {
			if base, ok := p.funcName(ix.Obj); ok {
				p.line("function " + base + ":" + key)
				p.funcBody(fn, true)
				return true
			}
		}
	}
	name, ok := p.funcName(target)
	if !ok {
		return false
	}
	p.line("function " + name)
	p.funcBody(c.Fn, false)
	return true
}

// funcName returns the dotted name of e when it can follow "function".
func (p *printer) funcName(e ast.Expr) (string, bool) {
	switch e := e.(type) {
	case *ast.Global:
		return e.Name, chunk.IsIdentifier(e.Name)
	case *ast.RegisterRef:
		return e.Local.Name, true
	case *ast.UpvalueRef:
		return e.Name, true
	case *ast.Index:
		key, ok := nameKey(e.Key)
		if !ok {
			return "", false
		}
		base, ok := p.funcName(e.Obj)
		return base + "." + key, ok
	}
	return "", false
}

// funcBody writes the parameter list, the body and the closing end. The
// current line must already hold everything before the parameter list.
func (p *printer) funcBody(fn *ast.Function, method bool) {
	params := fn.Params
	if method {
		params = params[1:]
	}
	p.write("(")
	p.locals(params)
	if fn.Vararg {
		if len(params) > 0 {
			p.write(", ")
		}
		p.write("...")
	}
	p.write(")")
	p.endLine()
	p.indent++
	p.stmts(fn.Body, true, false)
	p.indent--
	p.line("end")
}

func unitStep(e ast.Expr) bool {
	if e == nil {
		return true
	}
	c, ok := e.(*ast.ConstantRef)
	if !ok {
		return false
	}
	switch c.Value.Kind {
	case chunk.ConstInt:
		return c.Value.Int == 1
	case chunk.ConstFloat:
		return c.Value.Float == 1
	}
	return false
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

const (
	// precAtom covers literals, constructors and function expressions:
	// they need parentheses to be called or indexed.
	precAtom = 13
	// precPrimary covers names, indexing and calls.
	precPrimary = 14
)

func (p *printer) precedence(e ast.Expr) int {
	switch e := e.(type) {
	case *ast.BinaryOp:
		return e.Op.Precedence()
	case *ast.UnaryOp:
		return ast.UnaryPrecedence
	case *ast.ConstantRef:
		if negative(e.Value) {
			return ast.UnaryPrecedence
		}
		return precAtom
	case *ast.RegisterRef, *ast.UpvalueRef, *ast.Global, *ast.Index, *ast.Call:
		return precPrimary
	}
	return precAtom
}

// expr writes e, parenthesized when it binds looser than minPrec.
func (p *printer) expr(e ast.Expr, minPrec int) {
	if p.precedence(e) < minPrec {
		p.write("(")
		p.expr(e, 0)
		p.write(")")
		return
	}

	switch e := e.(type) {
	case *ast.RegisterRef:
		p.write(e.Local.Name)
	case *ast.UpvalueRef:
		p.write(e.Name)
	case *ast.ConstantRef:
		p.write(literal(e.Value, p.variant))
	case *ast.Global:
		if chunk.IsIdentifier(e.Name) {
			p.write(e.Name)
		} else {
			p.write(p.envTable() + "[" + quote(e.Name) + "]")
		}
	case *ast.Index:
		p.expr(e.Obj, precPrimary)
		if key, ok := nameKey(e.Key); ok {
			p.write("." + key)
		} else {
			p.write("[")
			p.expr(e.Key, 0)
			p.write("]")
		}
	case *ast.Call:
		p.call(e)
	case *ast.Vararg:
		p.write("...")
	case *ast.UnaryOp:
		p.write(e.Op.String())
		if e.Op == ast.OpNeg && startsWithMinus(e.X) {
			p.write(" ")
		}
		p.expr(e.X, ast.UnaryPrecedence)
	case *ast.BinaryOp:
		prec := e.Op.Precedence()
		left, right := prec, prec+1
		if e.Op.RightAssoc() {
			left, right = prec+1, prec
		}
		p.expr(e.L, left)
		p.write(" " + e.Op.String() + " ")
		p.expr(e.R, right)
	case *ast.TableConstructor:
		p.table(e)
	case *ast.ClosureRef:
		p.write("function")
		p.funcBody(e.Fn, false)
	}
}

// envTable is the table holding globals in the current dialect.
func (p *printer) envTable() string {
	if p.variant == chunk.VariantB {
		return "_ENV"
	}
	return "_G"
}

func (p *printer) call(c *ast.Call) {
	p.expr(c.Fn, precPrimary)
	if c.Method != "" {
		if chunk.IsIdentifier(c.Method) {
			p.write(":" + c.Method)
		} else {
			p.write("[" + quote(c.Method) + "]")
			c = &ast.Call{Fn: c.Fn, Args: append([]ast.Expr{c.Fn}, c.Args...), Multi: c.Multi}
		}
	}
	p.write("(")
	p.exprList(c.Args, true)
	p.write(")")
}

func (p *printer) table(t *ast.TableConstructor) {
	if len(t.Fields) == 0 {
		p.write("{}")
		return
	}
	lastPositional := -1
	for i, f := range t.Fields {
		if f.Key == nil {
			lastPositional = i
		}
	}
	p.write("{")
	for i, f := range t.Fields {
		if i > 0 {
			p.write(", ")
		}
		switch key, ok := nameKey(f.Key); {
		case f.Key == nil:
			if i == lastPositional && i == len(t.Fields)-1 {
				p.listItem(f.Value, true)
			} else {
				p.expr(f.Value, 0)
			}
		case ok:
			p.write(key + " = ")
			p.expr(f.Value, 0)
		default:
			p.write("[")
			p.expr(f.Key, 0)
			p.write("] = ")
			p.expr(f.Value, 0)
		}
	}
	p.write("}")
}

// exprList writes a comma separated list. When open, the number of values
// the last item produces matters, and a truncated call or vararg is
// parenthesized.
func (p *printer) exprList(es []ast.Expr, open bool) {
	for i, e := range es {
		if i > 0 {
			p.write(", ")
		}
		p.listItem(e, open && i == len(es)-1)
	}
}

func (p *printer) listItem(e ast.Expr, last bool) {
	if last && !multi(e) {
		switch e.(type) {
		case *ast.Call, *ast.Vararg:
			p.write("(")
			p.expr(e, 0)
			p.write(")")
			return
		}
	}
	p.expr(e, 0)
}

func multi(e ast.Expr) bool {
	switch e := e.(type) {
	case *ast.Call:
		return e.Multi
	case *ast.Vararg:
		return e.Multi
	}
	return true
}

// nameKey returns the key as a field name when it is a string constant
// that is a valid identifier.
func nameKey(e ast.Expr) (string, bool) {
	c, ok := e.(*ast.ConstantRef)
	if !ok || c.Value.Kind != chunk.ConstString || !chunk.IsIdentifier(c.Value.Str) {
		return "", false
	}
	return c.Value.Str, true
}

func startsWithMinus(e ast.Expr) bool {
	switch e := e.(type) {
	case *ast.UnaryOp:
		return e.Op == ast.OpNeg
	case *ast.ConstantRef:
		return negative(e.Value)
	}
	return false
}

// leadingParen reports whether e is written starting with a parenthesis,
// which would continue the previous statement as a call.
func (p *printer) leadingParen(e ast.Expr) bool {
	switch e := e.(type) {
	case *ast.Call:
		return p.precedence(e.Fn) < precPrimary || p.leadingParen(e.Fn)
	case *ast.Index:
		return p.precedence(e.Obj) < precPrimary || p.leadingParen(e.Obj)
	}
	return false
}
