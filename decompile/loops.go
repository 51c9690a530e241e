package decompile

import (
	"sort"

	"github.com/chazu/luadec/chunk"
	"github.com/chazu/luadec/decompile/cfg"
)

type loopKind uint8

const (
	loopWhile loopKind = iota
	loopRepeat
	loopNumeric
	loopGeneric
)

var loopKindNames = [...]string{"while", "repeat", "numeric for", "generic for"}

func (k loopKind) String() string { return loopKindNames[k] }

// loop is a natural loop identified by its farthest back edge.
type loop struct {
	kind loopKind
	// entry is the first block the loop statement covers: the preparation
	// block of a for loop, the header otherwise.
	entry  int
	header int
	latch  int

	entered bool
}

func (l *loop) isFor() bool { return l.kind == loopNumeric || l.kind == loopGeneric }

// loopTable holds the loops of a function ordered by entry block, outer
// loops first.
type loopTable struct {
	loops []*loop
}

// at returns the outermost loop not yet entered whose statement starts at
// block b.
func (t *loopTable) at(b int) *loop {
	for _, l := range t.loops {
		if l.entry == b && !l.entered {
			return l
		}
	}
	return nil
}

// findLoops classifies every back edge target and checks that the loops
// nest and are entered only through their header.
func (f *funcDecompiler) findLoops() *loopTable {
	latch := map[int]int{}
	for _, e := range f.g.BackEdges() {
		if u, ok := latch[e.To]; !ok || e.From > u {
			latch[e.To] = e.From
		}
	}

	headers := make([]int, 0, len(latch))
	for h := range latch {
		headers = append(headers, h)
	}
	sort.Ints(headers)

	t := &loopTable{}
	for _, h := range headers {
		t.loops = append(t.loops, f.classify(h, latch[h]))
	}
	sort.Slice(t.loops, func(i, j int) bool {
		a, b := t.loops[i], t.loops[j]
		if a.entry != b.entry {
			return a.entry < b.entry
		}
		return a.latch > b.latch
	})

	for i, l := range t.loops {
		f.checkEntries(l)
		for _, in := range t.loops[i+1:] {
			if in.entry <= l.latch && in.latch > l.latch {
				bail(f.g.Blocks[in.header].Start, "loops at blocks %d and %d overlap", l.header, in.header)
			}
		}
		f.df.loops = append(f.df.loops, [2]int{f.g.Blocks[l.header].Start, f.g.Blocks[l.latch].End})
		log.Debugf("function %d: %s loop B%d..B%d", f.fn.Index, l.kind, l.header, l.latch)
	}
	return t
}

func (f *funcDecompiler) classify(h, u int) *loop {
	ub := f.g.Blocks[u]
	code := f.fn.Code
	l := &loop{entry: h, header: h, latch: u}

	forEntry := func(term cfg.Term) {
		p := h - 1
		if p < 0 || f.g.Blocks[p].Term != term || f.g.Target(p) != u {
			bail(ub.End, "%s loop at B%d has no preparation block", l.kind, h)
		}
		l.entry = p
	}

	switch {
	case ub.Term == cfg.TermForLoop && code[ub.End].Op == chunk.OpForLoop:
		l.kind = loopNumeric
		forEntry(cfg.TermForPrep)
	case ub.Term == cfg.TermForLoop:
		if code[ub.Start].Op != chunk.OpTForCall || ub.End != ub.Start+1 {
			bail(ub.End, "TFORLOOP without TFORCALL")
		}
		l.kind = loopGeneric
		forEntry(cfg.TermJump)
	case ub.Term == cfg.TermCond && code[ub.Start].Op == chunk.OpTForLoop:
		l.kind = loopGeneric
		forEntry(cfg.TermJump)
	case ub.Term == cfg.TermCond && f.g.Target(u) == h:
		l.kind = loopRepeat
	case ub.Term == cfg.TermJump:
		l.kind = loopWhile
	default:
		bail(ub.End, "unrecognized loop latch %s", ub.Term)
	}
	return l
}

// checkEntries rejects loops whose body can be entered other than through
// the header, or through the latch from a for loop's preparation block.
func (f *funcDecompiler) checkEntries(l *loop) {
	for b := l.header; b <= l.latch; b++ {
		blk := f.g.Blocks[b]
		for _, p := range blk.Preds {
			switch {
			case !f.g.Blocks[p].Reachable:
			case p >= l.header && p <= l.latch:
			case b == l.header && !l.isFor():
			case b == l.latch && l.isFor() && p == l.entry:
			default:
				bail(blk.Start, "%s loop entered at B%d from B%d", l.kind, b, p)
			}
		}
	}
}
