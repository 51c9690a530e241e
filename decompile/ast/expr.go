// Package ast defines the structured tree produced by the decompiler:
// expressions, statements and decompiled functions.
package ast

import "github.com/chazu/luadec/chunk"

// Expr is an expression node.
type Expr interface{ exprNode() }

// Local is one source-level variable. Several registers over time may map
// to different Locals; all references to the same variable share the
// pointer.
type Local struct {
	Name string
	Reg  int
	// Declared is set once a declaration point has been chosen.
	Declared bool
	// Implicit locals (parameters, loop variables) are declared by their
	// construct and never get a local statement.
	Implicit bool
}

// BinOp is a binary operator.
type BinOp uint8

const (
	OpOr BinOp = iota
	OpAnd
	OpLt
	OpLe
	OpGt
	OpGe
	OpEq
	OpNe
	OpBOr
	OpBXor
	OpBAnd
	OpShl
	OpShr
	OpConcat
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpIDiv
	OpMod
	OpPow
)

var binOpText = [...]string{
	OpOr: "or", OpAnd: "and",
	OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=", OpEq: "==", OpNe: "~=",
	OpBOr: "|", OpBXor: "~", OpBAnd: "&", OpShl: "<<", OpShr: ">>",
	OpConcat: "..",
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpIDiv: "//", OpMod: "%",
	OpPow: "^",
}

func (op BinOp) String() string { return binOpText[op] }

// Precedence returns the binding strength of op; higher binds tighter.
func (op BinOp) Precedence() int {
	switch op {
	case OpOr:
		return 1
	case OpAnd:
		return 2
	case OpLt, OpLe, OpGt, OpGe, OpEq, OpNe:
		return 3
	case OpBOr:
		return 4
	case OpBXor:
		return 5
	case OpBAnd:
		return 6
	case OpShl, OpShr:
		return 7
	case OpConcat:
		return 8
	case OpAdd, OpSub:
		return 9
	case OpMul, OpDiv, OpIDiv, OpMod:
		return 10
	default:
		return 12
	}
}

// RightAssoc reports whether op associates to the right.
func (op BinOp) RightAssoc() bool { return op == OpConcat || op == OpPow }

// UnaryPrecedence is the binding strength of all unary operators.
const UnaryPrecedence = 11

// UnOp is a unary operator.
type UnOp uint8

const (
	OpNot UnOp = iota
	OpNeg
	OpLen
	OpBNot
)

func (op UnOp) String() string {
	switch op {
	case OpNot:
		return "not "
	case OpNeg:
		return "-"
	case OpLen:
		return "#"
	default:
		return "~"
	}
}

type (
	// RegisterRef reads a register through the variable bound to it.
	RegisterRef struct {
		Local *Local
	}

	// ConstantRef is a literal.
	ConstantRef struct {
		Value chunk.Constant
	}

	// Global is a global variable access.
	Global struct {
		Name string
	}

	// UpvalueRef reads a captured variable of the enclosing function.
	UpvalueRef struct {
		Name  string
		Index int
	}

	// Index is obj[key], rendered as obj.key when key is a name.
	Index struct {
		Obj Expr
		Key Expr
	}

	// Call is a function or method call. Multi is set when all results
	// are used (an open call).
	Call struct {
		Fn     Expr
		Method string
		Args   []Expr
		Multi  bool
	}

	UnaryOp struct {
		Op UnOp
		X  Expr
	}

	BinaryOp struct {
		Op   BinOp
		L, R Expr
	}

	// TableConstructor lists fields in evaluation order. A nil Key marks a
	// positional item.
	TableConstructor struct {
		Fields []TableField
	}

	// ClosureRef instantiates a nested function. Self is the local the
	// closure is assigned to when it captures that same variable.
	ClosureRef struct {
		Fn       *Function
		Captures []*Local
		Self     *Local
	}

	// Vararg is "...". Multi is set when all values are used.
	Vararg struct {
		Multi bool
	}
)

// TableField is one entry of a table constructor.
type TableField struct {
	Key   Expr
	Value Expr
}

func (*RegisterRef) exprNode()      {}
func (*ConstantRef) exprNode()      {}
func (*Global) exprNode()           {}
func (*UpvalueRef) exprNode()       {}
func (*Index) exprNode()            {}
func (*Call) exprNode()             {}
func (*UnaryOp) exprNode()          {}
func (*BinaryOp) exprNode()         {}
func (*TableConstructor) exprNode() {}
func (*ClosureRef) exprNode()       {}
func (*Vararg) exprNode()           {}

// Ref returns a register reference to l.
func Ref(l *Local) *RegisterRef { return &RegisterRef{Local: l} }

// Const returns a literal expression.
func Const(k chunk.Constant) *ConstantRef { return &ConstantRef{Value: k} }

// Nil returns the nil literal.
func Nil() *ConstantRef { return Const(chunk.NilConst()) }

// Bool returns a boolean literal.
func Bool(b bool) *ConstantRef { return Const(chunk.BoolConst(b)) }

// Str returns a string literal.
func Str(s string) *ConstantRef { return Const(chunk.StringConst(s)) }

// IsNil reports whether e is the nil literal.
func IsNil(e Expr) bool {
	c, ok := e.(*ConstantRef)
	return ok && c.Value.Kind == chunk.ConstNil
}

// Negate returns the logical negation of e, simplified where the result
// is equivalent.
func Negate(e Expr) Expr {
	switch x := e.(type) {
	case *UnaryOp:
		if x.Op == OpNot {
			return x.X
		}
	case *BinaryOp:
		switch x.Op {
		case OpEq:
			return &BinaryOp{Op: OpNe, L: x.L, R: x.R}
		case OpNe:
			return &BinaryOp{Op: OpEq, L: x.L, R: x.R}
		}
	case *ConstantRef:
		switch x.Value.Kind {
		case chunk.ConstNil:
			return Bool(true)
		case chunk.ConstBool:
			return Bool(!x.Value.Bool)
		}
	}
	return &UnaryOp{Op: OpNot, X: e}
}

// Mirror returns the comparison operator with its operands swapped.
func (op BinOp) Mirror() BinOp {
	switch op {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	}
	return op
}
