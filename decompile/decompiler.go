// Package decompile reconstructs structured source trees from parsed
// chunks.
//
// Each function is analyzed independently: its control-flow graph is
// built, loops and conditionals are recognized over it, and register
// traffic is folded back into expressions. A function whose jumps cannot
// be expressed with structured statements is emitted as a labeled block
// listing with gotos and reported as a Warning; decompilation of the rest
// of the chunk continues.
package decompile

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/luadec/chunk"
	"github.com/chazu/luadec/decompile/ast"
	"github.com/chazu/luadec/decompile/cfg"
)

var log = commonlog.GetLogger("luadec.decompile")

// ErrEmptyChunk is returned for a chunk without a main function.
var ErrEmptyChunk = errors.New("decompile: chunk has no main function")

// WarningKind classifies a non-fatal decompilation problem.
type WarningKind uint8

const (
	// UnstructurableControlFlow means a function was emitted as a goto
	// listing.
	UnstructurableControlFlow WarningKind = iota + 1
)

func (k WarningKind) String() string {
	switch k {
	case UnstructurableControlFlow:
		return "unstructurable control flow"
	default:
		return fmt.Sprintf("WarningKind(%d)", uint8(k))
	}
}

// Warning is a non-fatal problem located by function index and pc.
type Warning struct {
	Kind WarningKind
	Func int
	PC   int
	Msg  string
}

func (w Warning) String() string {
	return fmt.Sprintf("function %d at pc %d: %s: %s", w.Func, w.PC, w.Kind, w.Msg)
}

// Options tunes reconstruction.
type Options struct {
	// FlattenElseIf merges an else branch that holds a single if into an
	// elseif chain.
	FlattenElseIf bool
}

// DefaultOptions returns the options used by the command line tool.
func DefaultOptions() Options {
	return Options{FlattenElseIf: true}
}

// Result is a decompiled chunk.
type Result struct {
	Main     *ast.Function
	Variant  chunk.Variant
	Warnings []Warning
}

// Degraded reports whether any function fell back to the goto listing.
func (r *Result) Degraded() bool { return len(r.Warnings) > 0 }

// Decompile reconstructs every function in ch. Errors are returned only
// for malformed code; unstructurable functions produce warnings.
func Decompile(ch *chunk.Chunk, opts Options) (*Result, error) {
	if ch == nil || ch.Main == nil {
		return nil, ErrEmptyChunk
	}
	d := &decompiler{p: ch.Profile, opts: opts, done: map[*chunk.Function]*ast.Function{}}

	var up []upval
	if ch.Profile.Variant == chunk.VariantB {
		for i := range ch.Main.Upvalues {
			name := ch.Main.UpvalueName(i)
			if name == "" {
				name = upvalueName(i)
				if i == 0 {
					name = envName
				}
			}
			up = append(up, upval{name: name, env: name == envName})
		}
	}

	main, err := d.function(ch.Main, up)
	if err != nil {
		return nil, err
	}
	log.Debugf("decompiled %d functions, %d warnings", ch.Main.Count(), len(d.warnings))
	return &Result{Main: main, Variant: ch.Profile.Variant, Warnings: d.warnings}, nil
}

const envName = "_ENV"

func upvalueName(i int) string { return fmt.Sprintf("u%d", i) }

// upval describes one upvalue of the function being decompiled.
type upval struct {
	name string
	// env marks the upvalue holding the global environment.
	env bool
}

// decompiler holds state shared by all functions of a chunk.
type decompiler struct {
	p        *chunk.Profile
	opts     Options
	warnings []Warning
	done     map[*chunk.Function]*ast.Function
}

func (d *decompiler) warn(w Warning) {
	log.Warningf("%s", w)
	d.warnings = append(d.warnings, w)
}

// function decompiles fn. Nested prototypes are decompiled once, when the
// CLOSURE that instantiates them is first translated.
func (d *decompiler) function(fn *chunk.Function, up []upval) (*ast.Function, error) {
	if out, ok := d.done[fn]; ok {
		return out, nil
	}
	g, err := cfg.Build(fn, d.p)
	if err != nil {
		return nil, err
	}

	f := newFuncDecompiler(d, fn, g, up)
	body, failure, err := f.structured()
	if err != nil {
		return nil, err
	}
	if failure != nil {
		d.warn(Warning{Kind: UnstructurableControlFlow, Func: fn.Index, PC: failure.pc, Msg: failure.msg})
		f = newFuncDecompiler(d, fn, g, up)
		if body, err = f.fallback(); err != nil {
			return nil, err
		}
	} else {
		declareLocals(body)
	}

	out := &ast.Function{
		Params:  f.loc.params,
		Vararg:  fn.HasVarargs(),
		Body:    body,
		Proto:   fn,
		Variant: d.p.Variant,
	}
	d.done[fn] = out
	return out, nil
}

// unstructured aborts structuring of the current function.
type unstructured struct {
	pc  int
	msg string
}

// fatal aborts decompilation with an error.
type fatal struct{ err error }

// bail unwinds the structurer. It is recovered in structured and fallback.
func bail(pc int, format string, args ...any) {
	panic(&unstructured{pc: pc, msg: fmt.Sprintf(format, args...)})
}

func recoverInto(failure **unstructured, err *error) {
	switch r := recover().(type) {
	case nil:
	case *unstructured:
		*failure = r
	case *fatal:
		*err = r.err
	default:
		panic(r)
	}
}
