package ast

import "github.com/chazu/luadec/chunk"

// Stmt is a statement node.
type Stmt interface{ stmtNode() }

// Block is an ordered statement list.
type Block struct {
	Stmts []Stmt
}

// Append adds statements to the end of the block.
func (b *Block) Append(s ...Stmt) { b.Stmts = append(b.Stmts, s...) }

// Len returns the number of statements.
func (b *Block) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Stmts)
}

type (
	// Assign stores Values into Targets. With Declare set every target is
	// a Local being introduced here.
	Assign struct {
		Targets []Expr
		Values  []Expr
		Declare bool
	}

	// CallStmt is a call whose results are discarded.
	CallStmt struct {
		Call *Call
	}

	Return struct {
		Values []Expr
	}

	// If holds one or more conditional branches and an optional else.
	If struct {
		Branches []Branch
		Else     *Block
	}

	While struct {
		Cond        Expr
		Body        *Block
		HasContinue bool
	}

	RepeatUntil struct {
		Body        *Block
		Cond        Expr
		HasContinue bool
	}

	NumericFor struct {
		Var                *Local
		Start, Limit, Step Expr
		Body               *Block
		HasContinue        bool
	}

	GenericFor struct {
		Vars        []*Local
		Exprs       []Expr
		Body        *Block
		HasContinue bool
	}

	Break struct{}

	// Continue jumps to the end of the innermost loop body.
	Continue struct{}

	Goto struct {
		Label string
	}

	Label struct {
		Name string
	}

	// LocalDecl introduces locals, optionally with initial values.
	LocalDecl struct {
		Locals []*Local
		Values []Expr
	}

	Do struct {
		Body *Block
	}

	Comment struct {
		Text string
	}
)

// Branch is one condition and body of an If.
type Branch struct {
	Cond Expr
	Body *Block
}

func (*Assign) stmtNode()      {}
func (*CallStmt) stmtNode()    {}
func (*Return) stmtNode()      {}
func (*If) stmtNode()          {}
func (*While) stmtNode()       {}
func (*RepeatUntil) stmtNode() {}
func (*NumericFor) stmtNode()  {}
func (*GenericFor) stmtNode()  {}
func (*Break) stmtNode()       {}
func (*Continue) stmtNode()    {}
func (*Goto) stmtNode()        {}
func (*Label) stmtNode()       {}
func (*LocalDecl) stmtNode()   {}
func (*Do) stmtNode()          {}
func (*Comment) stmtNode()     {}

// Function is a decompiled function body.
type Function struct {
	Params []*Local
	Vararg bool
	Body   *Block
	// Proto is the prototype this function was reconstructed from.
	Proto *chunk.Function
	// Variant is the source dialect the body is written in.
	Variant chunk.Variant
}

// ID returns the pre-order index of the prototype, or -1.
func (f *Function) ID() int {
	if f.Proto == nil {
		return -1
	}
	return f.Proto.Index
}
