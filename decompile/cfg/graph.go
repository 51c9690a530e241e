// Package cfg partitions a function's code into basic blocks and links them
// with typed edges.
package cfg

import (
	"fmt"
	"strings"

	"github.com/chazu/luadec/chunk"
)

// Term classifies how a block ends.
type Term uint8

const (
	TermFall    Term = iota // falls into the next block
	TermJump                // unconditional JMP
	TermCond                // test instruction fused with its JMP
	TermForPrep             // FORPREP, jumps to the loop latch
	TermForLoop             // FORLOOP, or the 5.3 TFORLOOP
	TermSkip                // LOADBOOL that skips the next instruction
	TermReturn              // RETURN or TAILCALL
)

var termNames = [...]string{"fall", "jump", "cond", "forprep", "forloop", "skip", "return"}

func (t Term) String() string { return termNames[t] }

// EdgeKind labels a successor edge.
type EdgeKind uint8

const (
	EdgeFall EdgeKind = iota
	EdgeJump
	// EdgeTrue is taken when a test skips its jump, or when a numeric or
	// generic loop continues.
	EdgeTrue
	EdgeFalse
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeFall:
		return "fall"
	case EdgeJump:
		return "jump"
	case EdgeTrue:
		return "true"
	default:
		return "false"
	}
}

// Edge is one successor of a block.
type Edge struct {
	To   int
	Kind EdgeKind
}

// Block is a maximal straight-line instruction range. Start and End are
// inclusive pcs.
type Block struct {
	ID         int
	Start, End int
	Term       Term
	Succs      []Edge
	Preds      []int
	Reachable  bool
}

// Len returns the number of instructions in the block.
func (b *Block) Len() int { return b.End - b.Start + 1 }

// Graph is the control-flow graph of one function.
type Graph struct {
	Fn      *chunk.Function
	Profile *chunk.Profile
	Blocks  []*Block

	blockOf []int
	pseudo  []bool
	paired  []bool
}

// Build constructs the graph for fn. Jumps to targets outside the code, into
// an operand word, or into the jump half of a test pair are reported as
// MalformedChunk.
func Build(fn *chunk.Function, p *chunk.Profile) (*Graph, error) {
	g := &Graph{Fn: fn, Profile: p}
	n := len(fn.Code)
	g.pseudo = markPseudo(fn, p)
	g.paired = make([]bool, n)
	g.blockOf = make([]int, n)

	for pc := 0; pc < n; pc++ {
		if g.pseudo[pc] || !p.IsTest(fn.Code[pc].Op) {
			continue
		}
		if pc+1 >= n || g.pseudo[pc+1] || fn.Code[pc+1].Op != chunk.OpJmp {
			return nil, chunk.MalformedAt(fn.Index, pc, "%s not followed by JMP", fn.Code[pc].Op)
		}
		g.paired[pc+1] = true
	}

	leader := make([]bool, n+1)
	if n > 0 {
		leader[0] = true
	}
	for pc := 0; pc < n; pc++ {
		if g.pseudo[pc] {
			continue
		}
		target, jumps, ends := g.flow(pc)
		if jumps {
			if err := g.checkTarget(pc, target); err != nil {
				return nil, err
			}
			leader[target] = true
		}
		if ends {
			leader[pc+1] = true
		}
		if fn.Code[pc].Op == chunk.OpJmp && !g.paired[pc] {
			leader[pc] = true
		}
	}

	for pc := 0; pc < n; pc++ {
		if leader[pc] {
			g.Blocks = append(g.Blocks, &Block{ID: len(g.Blocks), Start: pc})
		}
		b := g.Blocks[len(g.Blocks)-1]
		b.End = pc
		g.blockOf[pc] = b.ID
	}

	for _, b := range g.Blocks {
		g.link(b)
	}
	g.markReachable()
	return g, nil
}

// markPseudo flags words that are operands of a previous instruction: 5.1
// SETLIST counts and closure capture words, and EXTRAARG operands.
func markPseudo(fn *chunk.Function, p *chunk.Profile) []bool {
	pseudo := make([]bool, len(fn.Code))
	for pc := 0; pc < len(fn.Code); pc++ {
		in := fn.Code[pc]
		switch {
		case in.Data:
			pseudo[pc] = true
		case in.Op == chunk.OpExtraArg:
			pseudo[pc] = pc > 0 && (fn.Code[pc-1].Op == chunk.OpLoadKX ||
				fn.Code[pc-1].Op == chunk.OpSetList && fn.Code[pc-1].C == 0)
		case in.Op == chunk.OpClosure && p.Variant == chunk.VariantA:
			if in.Bx < len(fn.Protos) {
				for i := 1; i <= fn.Protos[in.Bx].NumUpvalues && pc+i < len(fn.Code); i++ {
					pseudo[pc+i] = true
				}
				pc += fn.Protos[in.Bx].NumUpvalues
			}
		}
	}
	return pseudo
}

// flow describes the control transfer of the instruction at pc: its jump
// target, whether it jumps, and whether it ends a block.
func (g *Graph) flow(pc int) (target int, jumps, ends bool) {
	in := g.Fn.Code[pc]
	switch in.Op {
	case chunk.OpJmp, chunk.OpForPrep, chunk.OpForLoop:
		return in.Target(pc), true, true
	case chunk.OpTForLoop:
		if g.Profile.Variant == chunk.VariantB {
			return in.Target(pc), true, true
		}
	case chunk.OpLoadBool:
		if in.C != 0 {
			return pc + 2, true, true
		}
	case chunk.OpReturn, chunk.OpTailCall:
		return 0, false, true
	}
	return 0, false, false
}

func (g *Graph) checkTarget(pc, target int) error {
	n := len(g.Fn.Code)
	switch {
	case target < 0 || target >= n:
		return chunk.MalformedAt(g.Fn.Index, pc, "jump target %d outside code 0..%d", target, n-1)
	case g.pseudo[target]:
		return chunk.MalformedAt(g.Fn.Index, pc, "jump target %d is an operand word", target)
	case g.paired[target]:
		return chunk.MalformedAt(g.Fn.Index, pc, "jump target %d splits a test from its jump", target)
	}
	return nil
}

func (g *Graph) link(b *Block) {
	last := g.Fn.Code[b.End]
	next := -1
	if b.End+1 < len(g.Fn.Code) {
		next = g.blockOf[b.End+1]
	}
	add := func(to int, kind EdgeKind) {
		if to < 0 {
			return
		}
		b.Succs = append(b.Succs, Edge{To: to, Kind: kind})
		dst := g.Blocks[to]
		for _, p := range dst.Preds {
			if p == b.ID {
				return
			}
		}
		dst.Preds = append(dst.Preds, b.ID)
	}

	target, jumps, _ := g.flow(b.End)
	switch {
	case g.paired[b.End]:
		b.Term = TermCond
		add(next, EdgeTrue)
		add(g.blockOf[target], EdgeFalse)
	case g.pseudo[b.End] || !jumps && last.Op != chunk.OpReturn && last.Op != chunk.OpTailCall:
		b.Term = TermFall
		add(next, EdgeFall)
	case last.Op == chunk.OpReturn || last.Op == chunk.OpTailCall:
		b.Term = TermReturn
	case last.Op == chunk.OpJmp:
		b.Term = TermJump
		add(g.blockOf[target], EdgeJump)
	case last.Op == chunk.OpForPrep:
		b.Term = TermForPrep
		add(g.blockOf[target], EdgeJump)
	case last.Op == chunk.OpLoadBool:
		b.Term = TermSkip
		add(g.blockOf[target], EdgeJump)
	default:
		b.Term = TermForLoop
		add(g.blockOf[target], EdgeTrue)
		add(next, EdgeFalse)
	}
}

func (g *Graph) markReachable() {
	if len(g.Blocks) == 0 {
		return
	}
	stack := []int{0}
	g.Blocks[0].Reachable = true
	for len(stack) > 0 {
		b := g.Blocks[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]
		for _, e := range b.Succs {
			if s := g.Blocks[e.To]; !s.Reachable {
				s.Reachable = true
				stack = append(stack, e.To)
			}
		}
	}
}

// BlockOf returns the index of the block containing pc.
func (g *Graph) BlockOf(pc int) int { return g.blockOf[pc] }

// Pseudo reports whether the word at pc is an operand of the previous
// instruction.
func (g *Graph) Pseudo(pc int) bool { return g.pseudo[pc] }

// Succ returns the successor of block b along the given edge kind, or -1.
func (g *Graph) Succ(b int, kind EdgeKind) int {
	for _, e := range g.Blocks[b].Succs {
		if e.Kind == kind {
			return e.To
		}
	}
	return -1
}

// Target returns the block a terminating jump of b transfers to: the false
// edge of a test, the jump edge of a JMP, FORPREP or skip, and the loop
// edge of FORLOOP. It returns -1 for blocks without a jump.
func (g *Graph) Target(b int) int {
	switch g.Blocks[b].Term {
	case TermCond:
		return g.Succ(b, EdgeFalse)
	case TermJump, TermForPrep, TermSkip:
		return g.Succ(b, EdgeJump)
	case TermForLoop:
		return g.Succ(b, EdgeTrue)
	}
	return -1
}

// JumpOnly reports whether b consists of a single unconditional JMP.
func (g *Graph) JumpOnly(b int) bool {
	blk := g.Blocks[b]
	return blk.Term == TermJump && blk.Start == blk.End
}

// Canon follows chains of jump-only blocks and returns the block where
// execution actually continues. Jumping to b and jumping to Canon(b) are
// equivalent.
func (g *Graph) Canon(b int) int {
	for seen := 0; b >= 0 && b < len(g.Blocks) && g.JumpOnly(b) && seen < len(g.Blocks); seen++ {
		b = g.Target(b)
	}
	return b
}

// BackEdge is an edge whose target does not start after its source.
type BackEdge struct {
	From, To int
}

// BackEdges lists back edges of reachable blocks in source order.
func (g *Graph) BackEdges() []BackEdge {
	var out []BackEdge
	for _, b := range g.Blocks {
		if !b.Reachable {
			continue
		}
		for _, e := range b.Succs {
			if g.Blocks[e.To].Start <= b.Start {
				out = append(out, BackEdge{From: b.ID, To: e.To})
			}
		}
	}
	return out
}

// String lists the blocks with their edges, one per line.
func (g *Graph) String() string {
	var sb strings.Builder
	for _, b := range g.Blocks {
		fmt.Fprintf(&sb, "B%d [%d-%d] %s", b.ID, b.Start, b.End, b.Term)
		for _, e := range b.Succs {
			fmt.Fprintf(&sb, " %s:B%d", e.Kind, e.To)
		}
		if !b.Reachable {
			sb.WriteString(" (unreachable)")
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
