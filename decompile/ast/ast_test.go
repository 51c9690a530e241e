package ast

import "testing"

func TestNegate(t *testing.T) {
	x := Ref(&Local{Name: "x"})

	if got := Negate(&UnaryOp{Op: OpNot, X: x}); got != Expr(x) {
		t.Errorf("Negate(not x) = %#v, want x", got)
	}
	eq := Negate(&BinaryOp{Op: OpEq, L: x, R: Nil()})
	if b, ok := eq.(*BinaryOp); !ok || b.Op != OpNe {
		t.Errorf("Negate(x == nil) = %#v, want x ~= nil", eq)
	}
	lt := Negate(&BinaryOp{Op: OpLt, L: x, R: x})
	if u, ok := lt.(*UnaryOp); !ok || u.Op != OpNot {
		t.Errorf("Negate(x < x) = %#v, want not (x < x)", lt)
	}
	if c, ok := Negate(Nil()).(*ConstantRef); !ok || !c.Value.Bool {
		t.Errorf("Negate(nil) = %#v, want true", c)
	}
}

func TestPrecedence(t *testing.T) {
	if OpOr.Precedence() >= OpAnd.Precedence() {
		t.Error("or must bind looser than and")
	}
	if OpConcat.Precedence() >= OpAdd.Precedence() {
		t.Error(".. must bind looser than +")
	}
	if OpPow.Precedence() <= UnaryPrecedence {
		t.Error("^ must bind tighter than unary operators")
	}
	if !OpConcat.RightAssoc() || !OpPow.RightAssoc() || OpSub.RightAssoc() {
		t.Error("associativity mismatch")
	}
	if OpLt.Mirror() != OpGt || OpEq.Mirror() != OpEq {
		t.Error("Mirror mismatch")
	}
}

func TestVisitLocals(t *testing.T) {
	a, b, c := &Local{Name: "a"}, &Local{Name: "b"}, &Local{Name: "c"}
	stmt := &If{
		Branches: []Branch{{
			Cond: Ref(a),
			Body: &Block{Stmts: []Stmt{
				&Assign{Targets: []Expr{Ref(b)}, Values: []Expr{&ClosureRef{Captures: []*Local{c}}}},
			}},
		}},
	}

	seen := map[*Local]int{}
	VisitLocals(stmt, func(l *Local) { seen[l]++ })
	for _, l := range []*Local{a, b, c} {
		if seen[l] != 1 {
			t.Errorf("local %s visited %d times, want 1", l.Name, seen[l])
		}
	}
}
