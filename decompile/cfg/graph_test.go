package cfg

import (
	"errors"
	"testing"

	"github.com/chazu/luadec/chunk"
)

func build(t *testing.T, p *chunk.Profile, code ...chunk.Instruction) *Graph {
	t.Helper()
	g, err := Build(&chunk.Function{Code: code}, p)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return g
}

func TestBuildIfShape(t *testing.T) {
	p := chunk.ProfileLua51()
	g := build(t, p,
		p.ABC(chunk.OpTest, 0, 0, 0),
		p.AsBx(chunk.OpJmp, 0, 1),
		p.ABx(chunk.OpLoadK, 1, 0),
		p.ABC(chunk.OpReturn, 0, 1, 0),
	)

	if len(g.Blocks) != 3 {
		t.Fatalf("blocks = %d, want 3:\n%s", len(g.Blocks), g)
	}
	b0 := g.Blocks[0]
	if b0.Term != TermCond || b0.Start != 0 || b0.End != 1 {
		t.Errorf("B0 = %+v, want cond block [0-1]", b0)
	}
	if got := g.Succ(0, EdgeTrue); got != 1 {
		t.Errorf("true successor = B%d, want B1", got)
	}
	if got := g.Target(0); got != 2 {
		t.Errorf("false target = B%d, want B2", got)
	}
	if g.Blocks[2].Term != TermReturn || len(g.Blocks[2].Preds) != 2 {
		t.Errorf("B2 = %+v, want return block with two preds", g.Blocks[2])
	}
}

func TestBuildLoopBackEdge(t *testing.T) {
	p := chunk.ProfileLua51()
	g := build(t, p,
		p.ABC(chunk.OpTest, 0, 0, 0),
		p.AsBx(chunk.OpJmp, 0, 2),
		p.ABx(chunk.OpLoadK, 1, 0),
		p.AsBx(chunk.OpJmp, 0, -4),
		p.ABC(chunk.OpReturn, 0, 1, 0),
	)

	if len(g.Blocks) != 4 {
		t.Fatalf("blocks = %d, want 4:\n%s", len(g.Blocks), g)
	}
	if !g.JumpOnly(2) {
		t.Errorf("B2 should be jump-only:\n%s", g)
	}
	if got := g.Canon(2); got != 0 {
		t.Errorf("Canon(B2) = B%d, want B0", got)
	}
	back := g.BackEdges()
	if len(back) != 1 || back[0] != (BackEdge{From: 2, To: 0}) {
		t.Errorf("BackEdges = %v, want [{2 0}]", back)
	}
}

func TestBuildUnreachable(t *testing.T) {
	p := chunk.ProfileLua53()
	g := build(t, p,
		p.ABC(chunk.OpReturn, 0, 1, 0),
		p.ABC(chunk.OpReturn, 0, 1, 0),
	)
	if !g.Blocks[0].Reachable || g.Blocks[1].Reachable {
		t.Errorf("reachability wrong:\n%s", g)
	}
}

func TestBuildForLoop(t *testing.T) {
	p := chunk.ProfileLua53()
	g := build(t, p,
		p.AsBx(chunk.OpForPrep, 0, 1),
		p.ABx(chunk.OpLoadK, 4, 0),
		p.AsBx(chunk.OpForLoop, 0, -2),
		p.ABC(chunk.OpReturn, 0, 1, 0),
	)
	if g.Blocks[0].Term != TermForPrep || g.Target(0) != 2 {
		t.Errorf("FORPREP block wrong:\n%s", g)
	}
	if g.Blocks[2].Term != TermForLoop || g.Target(2) != 1 || g.Succ(2, EdgeFalse) != 3 {
		t.Errorf("FORLOOP block wrong:\n%s", g)
	}
}

func TestBuildMalformed(t *testing.T) {
	p := chunk.ProfileLua51()
	tests := []struct {
		name string
		code []chunk.Instruction
	}{
		{"target past end", []chunk.Instruction{
			p.AsBx(chunk.OpJmp, 0, 5),
			p.ABC(chunk.OpReturn, 0, 1, 0),
		}},
		{"test without jump", []chunk.Instruction{
			p.ABC(chunk.OpTest, 0, 0, 0),
			p.ABC(chunk.OpReturn, 0, 1, 0),
		}},
		{"jump into pair", []chunk.Instruction{
			p.AsBx(chunk.OpJmp, 0, 1),
			p.ABC(chunk.OpEq, 0, 0, 1),
			p.AsBx(chunk.OpJmp, 0, 0),
			p.ABC(chunk.OpReturn, 0, 1, 0),
		}},
		{"jump to capture word", []chunk.Instruction{
			p.AsBx(chunk.OpJmp, 0, 1),
			p.ABx(chunk.OpClosure, 0, 0),
			p.ABC(chunk.OpMove, 0, 1, 0),
			p.ABC(chunk.OpReturn, 0, 1, 0),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := &chunk.Function{Code: tt.code, Protos: []*chunk.Function{{NumUpvalues: 1}}}
			_, err := Build(fn, p)
			if !errors.Is(err, chunk.ErrMalformedChunk) {
				t.Errorf("Build = %v, want ErrMalformedChunk", err)
			}
		})
	}
}
