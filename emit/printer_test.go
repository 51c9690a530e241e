package emit

import (
	"testing"

	"github.com/chazu/luadec/chunk"
	"github.com/chazu/luadec/decompile/ast"
	"github.com/chazu/luadec/output"
)

func exprText(e ast.Expr, v chunk.Variant) string {
	s := &output.StringSink{}
	p := &printer{sink: s, unit: "  ", variant: v}
	p.expr(e, 0)
	return s.String()
}

func chunkOf(stmts ...ast.Stmt) *ast.Function {
	return &ast.Function{Vararg: true, Body: &ast.Block{Stmts: stmts}, Variant: chunk.VariantB}
}

func name(n string) *ast.RegisterRef { return ast.Ref(&ast.Local{Name: n}) }

func num(n int64) ast.Expr { return ast.Const(chunk.IntConst(n)) }

func bin(op ast.BinOp, l, r ast.Expr) ast.Expr { return &ast.BinaryOp{Op: op, L: l, R: r} }

func call(fn ast.Expr, args ...ast.Expr) *ast.Call { return &ast.Call{Fn: fn, Args: args, Multi: true} }

func TestRender_ReturnString(t *testing.T) {
	fn := chunkOf(&ast.Return{Values: []ast.Expr{ast.Str("hi")}})
	if got := Render(fn, DefaultOptions()); got != "return \"hi\"\n" {
		t.Errorf("Render = %q", got)
	}
}

func TestRender_DropsTrailingReturn(t *testing.T) {
	fn := chunkOf(
		&ast.CallStmt{Call: call(&ast.Global{Name: "print"}, ast.Str("x"))},
		&ast.Return{},
	)
	if got := Render(fn, DefaultOptions()); got != "print(\"x\")\n" {
		t.Errorf("Render = %q", got)
	}
}

func TestRender_EmptyChunk(t *testing.T) {
	if got := Render(chunkOf(&ast.Return{}), DefaultOptions()); got != "" {
		t.Errorf("Render = %q, want empty", got)
	}
}

func TestFormat_Precedence(t *testing.T) {
	a, b, c := name("a"), name("b"), name("c")
	x := name("x")
	tests := []struct {
		e    ast.Expr
		want string
	}{
		{bin(ast.OpMul, bin(ast.OpAdd, a, b), c), "(a + b) * c"},
		{bin(ast.OpAdd, a, bin(ast.OpMul, b, c)), "a + b * c"},
		{bin(ast.OpSub, a, bin(ast.OpSub, b, c)), "a - (b - c)"},
		{bin(ast.OpSub, bin(ast.OpSub, a, b), c), "a - b - c"},
		{bin(ast.OpConcat, a, bin(ast.OpConcat, b, c)), "a .. b .. c"},
		{bin(ast.OpConcat, bin(ast.OpConcat, a, b), c), "(a .. b) .. c"},
		{&ast.UnaryOp{Op: ast.OpNeg, X: bin(ast.OpPow, x, num(2))}, "-x ^ 2"},
		{bin(ast.OpPow, &ast.UnaryOp{Op: ast.OpNeg, X: x}, num(2)), "(-x) ^ 2"},
		{bin(ast.OpPow, num(-2), num(2)), "(-2) ^ 2"},
		{bin(ast.OpSub, a, num(-1)), "a - -1"},
		{&ast.UnaryOp{Op: ast.OpNot, X: bin(ast.OpEq, a, b)}, "not (a == b)"},
		{&ast.UnaryOp{Op: ast.OpNeg, X: &ast.UnaryOp{Op: ast.OpNeg, X: x}}, "- -x"},
		{bin(ast.OpOr, bin(ast.OpAnd, a, b), c), "a and b or c"},
		{bin(ast.OpAnd, a, bin(ast.OpOr, b, c)), "a and (b or c)"},
		{&ast.UnaryOp{Op: ast.OpLen, X: call(&ast.Global{Name: "f"})}, "#f()"},
	}
	for _, tt := range tests {
		if got := exprText(tt.e, chunk.VariantB); got != tt.want {
			t.Errorf("expr = %q, want %q", got, tt.want)
		}
	}
}

func TestFormat_Globals(t *testing.T) {
	g := &ast.Global{Name: "not a name"}
	if got := exprText(g, chunk.VariantA); got != `_G["not a name"]` {
		t.Errorf("5.1 global = %q", got)
	}
	if got := exprText(g, chunk.VariantB); got != `_ENV["not a name"]` {
		t.Errorf("5.3 global = %q", got)
	}
	if got := exprText(&ast.Global{Name: "end"}, chunk.VariantB); got != `_ENV["end"]` {
		t.Errorf("keyword global = %q", got)
	}
}

func TestFormat_Index(t *testing.T) {
	tbl := name("t")
	if got := exprText(&ast.Index{Obj: tbl, Key: ast.Str("x")}, chunk.VariantB); got != "t.x" {
		t.Errorf("field = %q", got)
	}
	if got := exprText(&ast.Index{Obj: tbl, Key: ast.Str("a b")}, chunk.VariantB); got != `t["a b"]` {
		t.Errorf("string key = %q", got)
	}
	if got := exprText(&ast.Index{Obj: tbl, Key: num(1)}, chunk.VariantB); got != "t[1]" {
		t.Errorf("number key = %q", got)
	}
	if got := exprText(&ast.Index{Obj: ast.Str("s"), Key: ast.Str("len")}, chunk.VariantB); got != `("s").len` {
		t.Errorf("literal object = %q", got)
	}
}

func TestFormat_Calls(t *testing.T) {
	obj := name("obj")
	m := &ast.Call{Fn: obj, Method: "m", Args: []ast.Expr{num(1)}, Multi: true}
	if got := exprText(m, chunk.VariantB); got != "obj:m(1)" {
		t.Errorf("method call = %q", got)
	}

	inner := &ast.Call{Fn: &ast.Global{Name: "f"}}
	outer := call(&ast.Global{Name: "g"}, inner)
	if got := exprText(outer, chunk.VariantB); got != "g((f()))" {
		t.Errorf("truncated argument = %q", got)
	}
	inner.Multi = true
	if got := exprText(outer, chunk.VariantB); got != "g(f())" {
		t.Errorf("open argument = %q", got)
	}

	first := call(&ast.Global{Name: "g"}, &ast.Call{Fn: &ast.Global{Name: "f"}}, num(2))
	if got := exprText(first, chunk.VariantB); got != "g(f(), 2)" {
		t.Errorf("inner argument = %q", got)
	}
}

func TestFormat_Table(t *testing.T) {
	tc := &ast.TableConstructor{Fields: []ast.TableField{
		{Value: num(1)},
		{Key: ast.Str("x"), Value: num(2)},
		{Key: name("k"), Value: num(3)},
		{Value: &ast.Vararg{Multi: true}},
	}}
	if got := exprText(tc, chunk.VariantB); got != "{1, x = 2, [k] = 3, ...}" {
		t.Errorf("table = %q", got)
	}
	if got := exprText(&ast.TableConstructor{}, chunk.VariantB); got != "{}" {
		t.Errorf("empty table = %q", got)
	}
}

func TestRender_TruncatedReturn(t *testing.T) {
	fn := chunkOf(&ast.Return{Values: []ast.Expr{&ast.Call{Fn: &ast.Global{Name: "f"}}}})
	if got := Render(fn, DefaultOptions()); got != "return (f())\n" {
		t.Errorf("Render = %q", got)
	}
}

func TestRender_FunctionSugar(t *testing.T) {
	a := &ast.Local{Name: "a", Implicit: true}
	body := &ast.Function{Params: []*ast.Local{a}, Body: &ast.Block{Stmts: []ast.Stmt{
		&ast.Return{Values: []ast.Expr{ast.Ref(a)}},
	}}}
	fn := chunkOf(&ast.Assign{
		Targets: []ast.Expr{&ast.Global{Name: "f"}},
		Values:  []ast.Expr{&ast.ClosureRef{Fn: body}},
	})
	want := "function f(a)\n  return a\nend\n"
	if got := Render(fn, DefaultOptions()); got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestRender_MethodSugar(t *testing.T) {
	self := &ast.Local{Name: "self", Implicit: true}
	x := &ast.Local{Name: "x", Implicit: true}
	body := &ast.Function{Params: []*ast.Local{self, x}, Body: &ast.Block{Stmts: []ast.Stmt{&ast.Return{}}}}
	target := &ast.Index{Obj: &ast.Index{Obj: &ast.Global{Name: "a"}, Key: ast.Str("b")}, Key: ast.Str("m")}
	fn := chunkOf(&ast.Assign{Targets: []ast.Expr{target}, Values: []ast.Expr{&ast.ClosureRef{Fn: body}}})
	if got := Render(fn, DefaultOptions()); got != "function a.b:m(x)\nend\n" {
		t.Errorf("Render = %q", got)
	}
}

func TestRender_LocalFunction(t *testing.T) {
	f := &ast.Local{Name: "fact"}
	body := &ast.Function{Vararg: true, Body: &ast.Block{Stmts: []ast.Stmt{
		&ast.Return{Values: []ast.Expr{call(ast.Ref(f), &ast.Vararg{Multi: true})}},
	}}}
	fn := chunkOf(&ast.Assign{
		Targets: []ast.Expr{ast.Ref(f)},
		Values:  []ast.Expr{&ast.ClosureRef{Fn: body, Captures: []*ast.Local{f}, Self: f}},
		Declare: true,
	})
	want := "local function fact(...)\n  return fact(...)\nend\n"
	if got := Render(fn, DefaultOptions()); got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestRender_LocalClosureWithoutSelf(t *testing.T) {
	f := &ast.Local{Name: "f"}
	body := &ast.Function{Body: &ast.Block{}}
	fn := chunkOf(&ast.Assign{
		Targets: []ast.Expr{ast.Ref(f)},
		Values:  []ast.Expr{&ast.ClosureRef{Fn: body}},
		Declare: true,
	})
	if got := Render(fn, DefaultOptions()); got != "local f = function()\nend\n" {
		t.Errorf("Render = %q", got)
	}
}

func TestRender_DeclareTrimsNils(t *testing.T) {
	fn := chunkOf(&ast.Assign{
		Targets: []ast.Expr{name("a"), name("b")},
		Values:  []ast.Expr{num(1), ast.Nil()},
		Declare: true,
	})
	if got := Render(fn, DefaultOptions()); got != "local a, b = 1\n" {
		t.Errorf("Render = %q", got)
	}
	fn = chunkOf(&ast.LocalDecl{Locals: []*ast.Local{{Name: "x"}, {Name: "y"}}})
	if got := Render(fn, DefaultOptions()); got != "local x, y\n" {
		t.Errorf("Render = %q", got)
	}
}

func TestRender_IfChain(t *testing.T) {
	a, b := name("a"), name("b")
	fn := chunkOf(&ast.If{
		Branches: []ast.Branch{
			{Cond: a, Body: &ast.Block{Stmts: []ast.Stmt{&ast.CallStmt{Call: call(&ast.Global{Name: "f"})}}}},
			{Cond: b, Body: &ast.Block{}},
		},
		Else: &ast.Block{Stmts: []ast.Stmt{&ast.CallStmt{Call: call(&ast.Global{Name: "g"})}}},
	})
	want := "if a then\n  f()\nelseif b then\nelse\n  g()\nend\n"
	if got := Render(fn, DefaultOptions()); got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestRender_Loops(t *testing.T) {
	i := &ast.Local{Name: "i", Implicit: true}
	k := &ast.Local{Name: "k", Implicit: true}
	v := &ast.Local{Name: "v", Implicit: true}
	fn := chunkOf(
		&ast.NumericFor{Var: i, Start: num(1), Limit: num(10), Step: num(1), Body: &ast.Block{}},
		&ast.NumericFor{Var: i, Start: num(10), Limit: num(1), Step: num(-1), Body: &ast.Block{}},
		&ast.GenericFor{Vars: []*ast.Local{k, v}, Exprs: []ast.Expr{call(&ast.Global{Name: "pairs"}, name("t"))}, Body: &ast.Block{}},
		&ast.While{Cond: ast.Bool(true), Body: &ast.Block{Stmts: []ast.Stmt{&ast.Break{}}}},
		&ast.RepeatUntil{Body: &ast.Block{}, Cond: name("done")},
	)
	want := "for i = 1, 10 do\nend\n" +
		"for i = 10, 1, -1 do\nend\n" +
		"for k, v in pairs(t) do\nend\n" +
		"while true do\n  break\nend\n" +
		"repeat\nuntil done\n"
	if got := Render(fn, DefaultOptions()); got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestRender_Continue(t *testing.T) {
	fn := chunkOf(&ast.While{
		Cond: name("c"),
		Body: &ast.Block{Stmts: []ast.Stmt{
			&ast.If{Branches: []ast.Branch{{Cond: name("skip"), Body: &ast.Block{Stmts: []ast.Stmt{&ast.Continue{}}}}}},
			&ast.CallStmt{Call: call(&ast.Global{Name: "work"})},
		}},
		HasContinue: true,
	})
	want := "while c do\n  if skip then\n    goto continue\n  end\n  work()\n  ::continue::\nend\n"
	if got := Render(fn, DefaultOptions()); got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestRender_NonFinalReturn(t *testing.T) {
	fn := chunkOf(
		&ast.Return{Values: []ast.Expr{num(1)}},
		&ast.CallStmt{Call: call(&ast.Global{Name: "f"})},
	)
	if got := Render(fn, DefaultOptions()); got != "do return 1 end\nf()\n" {
		t.Errorf("Render = %q", got)
	}
}

func TestRender_Indent(t *testing.T) {
	fn := chunkOf(&ast.Do{Body: &ast.Block{Stmts: []ast.Stmt{&ast.Break{}}}})
	if got := Render(fn, Options{Indent: "\t"}); got != "do\n\tbreak\nend\n" {
		t.Errorf("Render = %q", got)
	}
}

func TestRender_AmbiguousCall(t *testing.T) {
	c := &ast.Call{Fn: ast.Str("x"), Method: "rep", Args: []ast.Expr{num(2)}, Multi: true}
	fn := chunkOf(&ast.CallStmt{Call: c})
	if got := Render(fn, DefaultOptions()); got != ";(\"x\"):rep(2)\n" {
		t.Errorf("Render = %q", got)
	}
}

func TestRender_GotoAndLabels(t *testing.T) {
	fn := chunkOf(&ast.Label{Name: "L1"}, &ast.Goto{Label: "L1"})
	if got := Render(fn, DefaultOptions()); got != "::L1::\ngoto L1\n" {
		t.Errorf("Render = %q", got)
	}
}

func TestWrite_FinishesSink(t *testing.T) {
	s := &output.StringSink{}
	if err := Write(s, chunkOf(&ast.Break{}), DefaultOptions()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !s.Finished() {
		t.Error("sink not finished")
	}
	if s.String() != "break\n" {
		t.Errorf("output = %q", s.String())
	}
}
