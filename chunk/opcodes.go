package chunk

import "fmt"

// Op is a normalized opcode. Raw opcode numbers differ between format
// versions; a Profile maps them onto this single enumeration so later
// stages never look at raw values.
type Op uint8

const (
	// ========================================================================
	// Loads and moves
	// ========================================================================

	OpMove     Op = iota // R(A) := R(B)
	OpLoadK              // R(A) := K(Bx)
	OpLoadKX             // R(A) := K(extra arg)
	OpLoadBool           // R(A) := (bool)B; if C then pc++
	OpLoadNil            // R(A..) := nil

	// ========================================================================
	// Upvalues, globals and tables
	// ========================================================================

	OpGetUpval  // R(A) := U(B)
	OpGetGlobal // R(A) := G[K(Bx)]
	OpGetTabUp  // R(A) := U(B)[RK(C)]
	OpGetTable  // R(A) := R(B)[RK(C)]
	OpSetGlobal // G[K(Bx)] := R(A)
	OpSetTabUp  // U(A)[RK(B)] := RK(C)
	OpSetUpval  // U(B) := R(A)
	OpSetTable  // R(A)[RK(B)] := RK(C)
	OpNewTable  // R(A) := {}
	OpSelf      // R(A+1) := R(B); R(A) := R(B)[RK(C)]

	// ========================================================================
	// Arithmetic and bitwise
	// ========================================================================

	OpAdd
	OpSub
	OpMul
	OpMod
	OpPow
	OpDiv
	OpIDiv
	OpBAnd
	OpBOr
	OpBXor
	OpShl
	OpShr
	OpUnm
	OpBNot
	OpNot
	OpLen
	OpConcat // R(A) := R(B).. ... ..R(C)

	// ========================================================================
	// Control flow
	// ========================================================================

	OpJmp      // pc += sBx
	OpEq       // if (RK(B) == RK(C)) ~= A then pc++
	OpLt       // if (RK(B) <  RK(C)) ~= A then pc++
	OpLe       // if (RK(B) <= RK(C)) ~= A then pc++
	OpTest     // if not (R(A) <=> C) then pc++
	OpTestSet  // if (R(B) <=> C) then R(A) := R(B) else pc++
	OpCall     // R(A), ... ,R(A+C-2) := R(A)(R(A+1), ... ,R(A+B-1))
	OpTailCall // return R(A)(R(A+1), ... ,R(A+B-1))
	OpReturn   // return R(A), ... ,R(A+B-2)
	OpForLoop
	OpForPrep
	OpTForCall
	OpTForLoop
	OpSetList // R(A)[(C-1)*FPF+i] := R(A+i), 1 <= i <= B
	OpClose
	OpClosure // R(A) := closure(KPROTO[Bx])
	OpVararg  // R(A), R(A+1), ..., R(A+B-2) = vararg
	OpExtraArg

	numOps int = iota
)

// Mode is the operand encoding of an instruction word.
type Mode uint8

const (
	ModeABC Mode = iota
	ModeABx
	ModeAsBx
	ModeAx
)

// OpInfo describes a normalized opcode.
type OpInfo struct {
	Name string
	Mode Mode
	// SetsA is true when the instruction writes register A.
	SetsA bool
	// Test is true for instructions that are always followed by a JMP.
	Test bool
}

var opTable = [numOps]OpInfo{
	OpMove:      {"MOVE", ModeABC, true, false},
	OpLoadK:     {"LOADK", ModeABx, true, false},
	OpLoadKX:    {"LOADKX", ModeABx, true, false},
	OpLoadBool:  {"LOADBOOL", ModeABC, true, false},
	OpLoadNil:   {"LOADNIL", ModeABC, true, false},
	OpGetUpval:  {"GETUPVAL", ModeABC, true, false},
	OpGetGlobal: {"GETGLOBAL", ModeABx, true, false},
	OpGetTabUp:  {"GETTABUP", ModeABC, true, false},
	OpGetTable:  {"GETTABLE", ModeABC, true, false},
	OpSetGlobal: {"SETGLOBAL", ModeABx, false, false},
	OpSetTabUp:  {"SETTABUP", ModeABC, false, false},
	OpSetUpval:  {"SETUPVAL", ModeABC, false, false},
	OpSetTable:  {"SETTABLE", ModeABC, false, false},
	OpNewTable:  {"NEWTABLE", ModeABC, true, false},
	OpSelf:      {"SELF", ModeABC, true, false},
	OpAdd:       {"ADD", ModeABC, true, false},
	OpSub:       {"SUB", ModeABC, true, false},
	OpMul:       {"MUL", ModeABC, true, false},
	OpMod:       {"MOD", ModeABC, true, false},
	OpPow:       {"POW", ModeABC, true, false},
	OpDiv:       {"DIV", ModeABC, true, false},
	OpIDiv:      {"IDIV", ModeABC, true, false},
	OpBAnd:      {"BAND", ModeABC, true, false},
	OpBOr:       {"BOR", ModeABC, true, false},
	OpBXor:      {"BXOR", ModeABC, true, false},
	OpShl:       {"SHL", ModeABC, true, false},
	OpShr:       {"SHR", ModeABC, true, false},
	OpUnm:       {"UNM", ModeABC, true, false},
	OpBNot:      {"BNOT", ModeABC, true, false},
	OpNot:       {"NOT", ModeABC, true, false},
	OpLen:       {"LEN", ModeABC, true, false},
	OpConcat:    {"CONCAT", ModeABC, true, false},
	OpJmp:       {"JMP", ModeAsBx, false, false},
	OpEq:        {"EQ", ModeABC, false, true},
	OpLt:        {"LT", ModeABC, false, true},
	OpLe:        {"LE", ModeABC, false, true},
	OpTest:      {"TEST", ModeABC, false, true},
	OpTestSet:   {"TESTSET", ModeABC, true, true},
	OpCall:      {"CALL", ModeABC, true, false},
	OpTailCall:  {"TAILCALL", ModeABC, true, false},
	OpReturn:    {"RETURN", ModeABC, false, false},
	OpForLoop:   {"FORLOOP", ModeAsBx, true, false},
	OpForPrep:   {"FORPREP", ModeAsBx, true, false},
	OpTForCall:  {"TFORCALL", ModeABC, false, false},
	OpTForLoop:  {"TFORLOOP", ModeABC, true, false},
	OpSetList:   {"SETLIST", ModeABC, false, false},
	OpClose:     {"CLOSE", ModeABC, false, false},
	OpClosure:   {"CLOSURE", ModeABx, true, false},
	OpVararg:    {"VARARG", ModeABC, true, false},
	OpExtraArg:  {"EXTRAARG", ModeAx, false, false},
}

// Info returns the description of op.
func (op Op) Info() OpInfo {
	if int(op) < numOps {
		return opTable[op]
	}
	return OpInfo{Name: fmt.Sprintf("OP_%d", uint8(op))}
}

func (op Op) String() string { return op.Info().Name }

// IsArith reports whether op is a binary arithmetic or bitwise operator.
func (op Op) IsArith() bool { return op >= OpAdd && op <= OpShr }

// IsUnary reports whether op is a unary operator.
func (op Op) IsUnary() bool { return op >= OpUnm && op <= OpLen }

// Raw opcode tables, indexed by the opcode number stored in the chunk.
var (
	lua51Ops = []Op{
		OpMove, OpLoadK, OpLoadBool, OpLoadNil, OpGetUpval, OpGetGlobal,
		OpGetTable, OpSetGlobal, OpSetUpval, OpSetTable, OpNewTable, OpSelf,
		OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow, OpUnm, OpNot, OpLen,
		OpConcat, OpJmp, OpEq, OpLt, OpLe, OpTest, OpTestSet, OpCall,
		OpTailCall, OpReturn, OpForLoop, OpForPrep, OpTForLoop, OpSetList,
		OpClose, OpClosure, OpVararg,
	}

	lua53Ops = []Op{
		OpMove, OpLoadK, OpLoadKX, OpLoadBool, OpLoadNil, OpGetUpval,
		OpGetTabUp, OpGetTable, OpSetTabUp, OpSetUpval, OpSetTable,
		OpNewTable, OpSelf, OpAdd, OpSub, OpMul, OpMod, OpPow, OpDiv, OpIDiv,
		OpBAnd, OpBOr, OpBXor, OpShl, OpShr, OpUnm, OpBNot, OpNot, OpLen,
		OpConcat, OpJmp, OpEq, OpLt, OpLe, OpTest, OpTestSet, OpCall,
		OpTailCall, OpReturn, OpForLoop, OpForPrep, OpTForCall, OpTForLoop,
		OpSetList, OpClosure, OpVararg, OpExtraArg,
	}
)
