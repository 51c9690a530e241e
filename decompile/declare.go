package decompile

import (
	"sort"

	"github.com/chazu/luadec/decompile/ast"
)

// frame locates a statement: its index in a block, and whether that block
// is a loop body.
type frame struct {
	blk  *ast.Block
	idx  int
	loop bool
}

type occurrence struct {
	path  []frame
	write bool
}

// declCollector records, in execution order, where each undeclared
// variable is referenced.
type declCollector struct {
	path  []frame
	order []*ast.Local
	occ   map[*ast.Local][]occurrence
}

// declareLocals introduces every variable the structurer left undeclared
// at the narrowest block enclosing all its uses. A variable whose first use
// reads a value carried around a loop is declared before that loop.
func declareLocals(body *ast.Block) {
	c := &declCollector{occ: map[*ast.Local][]occurrence{}}
	c.block(body, false)

	type site struct {
		blk *ast.Block
		idx int
	}
	groups := map[site][]*ast.Local{}
	firstWrite := map[*ast.Local]bool{}
	var sites []site

	for _, v := range c.order {
		occ := c.occ[v]
		d := commonDepth(occ)
		first := occ[0]
		fr := first.path[d]
		if !first.write {
			for l := 0; l <= d; l++ {
				if first.path[l].loop && l > 0 {
					d = l - 1
					fr = first.path[d]
					break
				}
			}
		}
		s := site{fr.blk, fr.idx}
		if _, ok := groups[s]; !ok {
			sites = append(sites, s)
		}
		groups[s] = append(groups[s], v)
		firstWrite[v] = first.write && len(first.path) == d+1
	}

	// Insert from the back so earlier indices stay valid.
	sort.SliceStable(sites, func(i, j int) bool { return sites[i].idx > sites[j].idx })
	for _, s := range sites {
		vars := groups[s]
		for _, v := range vars {
			v.Declared = true
		}
		if s.idx < len(s.blk.Stmts) {
			if a, ok := s.blk.Stmts[s.idx].(*ast.Assign); ok && declaresAll(a, vars, firstWrite) {
				a.Declare = true
				continue
			}
		}
		sort.SliceStable(vars, func(i, j int) bool { return vars[i].Reg < vars[j].Reg })
		stmts := make([]ast.Stmt, 0, len(s.blk.Stmts)+1)
		stmts = append(stmts, s.blk.Stmts[:s.idx]...)
		stmts = append(stmts, &ast.LocalDecl{Locals: vars})
		s.blk.Stmts = append(stmts, s.blk.Stmts[s.idx:]...)
	}
}

// declaresAll reports whether a's targets are exactly vars, each written
// there before any read.
func declaresAll(a *ast.Assign, vars []*ast.Local, firstWrite map[*ast.Local]bool) bool {
	if a.Declare || len(a.Targets) != len(vars) {
		return false
	}
	want := map[*ast.Local]bool{}
	for _, v := range vars {
		want[v] = true
	}
	for _, t := range a.Targets {
		r, ok := t.(*ast.RegisterRef)
		if !ok || !want[r.Local] || !firstWrite[r.Local] {
			return false
		}
		delete(want, r.Local)
	}
	return len(want) == 0
}

// commonDepth returns the deepest level at which every occurrence lies in
// the same block.
func commonDepth(occ []occurrence) int {
	d := len(occ[0].path) - 1
	for _, o := range occ[1:] {
		n := min(d, len(o.path)-1)
		for l := 0; l <= n; l++ {
			if o.path[l].blk != occ[0].path[l].blk {
				n = l - 1
				break
			}
		}
		d = n
	}
	return max(d, 0)
}

func (c *declCollector) note(v *ast.Local, write bool) {
	if v == nil || v.Declared || v.Implicit {
		return
	}
	if _, ok := c.occ[v]; !ok {
		c.order = append(c.order, v)
	}
	path := append([]frame(nil), c.path...)
	c.occ[v] = append(c.occ[v], occurrence{path: path, write: write})
}

func (c *declCollector) expr(e ast.Expr) {
	ast.WalkExpr(e, func(x ast.Expr) {
		if r, ok := x.(*ast.RegisterRef); ok {
			c.note(r.Local, false)
		}
	})
}

func (c *declCollector) block(b *ast.Block, loop bool) {
	for i, s := range b.Stmts {
		c.path = append(c.path, frame{blk: b, idx: i, loop: loop})
		c.stmt(s)
		c.path = c.path[:len(c.path)-1]
	}
}

func (c *declCollector) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.Assign:
		for _, v := range s.Values {
			c.expr(v)
		}
		for _, t := range s.Targets {
			if r, ok := t.(*ast.RegisterRef); ok {
				c.note(r.Local, true)
			} else {
				c.expr(t)
			}
		}
	case *ast.If:
		for _, br := range s.Branches {
			c.expr(br.Cond)
			c.block(br.Body, false)
		}
		if s.Else != nil {
			c.block(s.Else, false)
		}
	case *ast.While:
		c.expr(s.Cond)
		c.block(s.Body, true)
	case *ast.RepeatUntil:
		c.block(s.Body, true)
		c.path = append(c.path, frame{blk: s.Body, idx: len(s.Body.Stmts), loop: true})
		c.expr(s.Cond)
		c.path = c.path[:len(c.path)-1]
	case *ast.NumericFor:
		for _, e := range ast.Exprs(s) {
			c.expr(e)
		}
		c.block(s.Body, true)
	case *ast.GenericFor:
		for _, e := range s.Exprs {
			c.expr(e)
		}
		c.block(s.Body, true)
	case *ast.Do:
		c.block(s.Body, false)
	default:
		for _, e := range ast.Exprs(s) {
			c.expr(e)
		}
	}
}
