package ast

// Blocks returns the blocks nested directly inside s, in source order.
func Blocks(s Stmt) []*Block {
	switch s := s.(type) {
	case *If:
		var out []*Block
		for _, br := range s.Branches {
			out = append(out, br.Body)
		}
		if s.Else != nil {
			out = append(out, s.Else)
		}
		return out
	case *While:
		return []*Block{s.Body}
	case *RepeatUntil:
		return []*Block{s.Body}
	case *NumericFor:
		return []*Block{s.Body}
	case *GenericFor:
		return []*Block{s.Body}
	case *Do:
		return []*Block{s.Body}
	}
	return nil
}

// IsLoop reports whether s repeats its body.
func IsLoop(s Stmt) bool {
	switch s.(type) {
	case *While, *RepeatUntil, *NumericFor, *GenericFor:
		return true
	}
	return false
}

// Exprs returns the expressions s evaluates itself, excluding those of
// nested blocks. The until condition of a repeat loop belongs to its body.
func Exprs(s Stmt) []Expr {
	switch s := s.(type) {
	case *Assign:
		return append(append([]Expr(nil), s.Targets...), s.Values...)
	case *CallStmt:
		return []Expr{s.Call}
	case *Return:
		return s.Values
	case *If:
		out := make([]Expr, 0, len(s.Branches))
		for _, br := range s.Branches {
			out = append(out, br.Cond)
		}
		return out
	case *While:
		return []Expr{s.Cond}
	case *NumericFor:
		out := []Expr{s.Start, s.Limit}
		if s.Step != nil {
			out = append(out, s.Step)
		}
		return out
	case *GenericFor:
		return s.Exprs
	case *LocalDecl:
		return s.Values
	}
	return nil
}

// WalkExpr calls fn for e and every sub-expression, parents first. Bodies
// of nested functions are not entered; their captures are.
func WalkExpr(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch x := e.(type) {
	case *Index:
		WalkExpr(x.Obj, fn)
		WalkExpr(x.Key, fn)
	case *Call:
		WalkExpr(x.Fn, fn)
		for _, a := range x.Args {
			WalkExpr(a, fn)
		}
	case *UnaryOp:
		WalkExpr(x.X, fn)
	case *BinaryOp:
		WalkExpr(x.L, fn)
		WalkExpr(x.R, fn)
	case *TableConstructor:
		for _, f := range x.Fields {
			WalkExpr(f.Key, fn)
			WalkExpr(f.Value, fn)
		}
	case *ClosureRef:
		for _, l := range x.Captures {
			if l != nil {
				fn(Ref(l))
			}
		}
	}
}

// VisitLocals calls fn for every local that s references, including
// locals it declares and those referenced in nested blocks.
func VisitLocals(s Stmt, fn func(*Local)) {
	visit := func(e Expr) {
		if r, ok := e.(*RegisterRef); ok && r.Local != nil {
			fn(r.Local)
		}
	}
	for _, e := range Exprs(s) {
		WalkExpr(e, visit)
	}
	switch s := s.(type) {
	case *RepeatUntil:
		WalkExpr(s.Cond, visit)
	case *NumericFor:
		fn(s.Var)
	case *GenericFor:
		for _, l := range s.Vars {
			fn(l)
		}
	case *LocalDecl:
		for _, l := range s.Locals {
			fn(l)
		}
	}
	for _, b := range Blocks(s) {
		for _, inner := range b.Stmts {
			VisitLocals(inner, fn)
		}
	}
}
