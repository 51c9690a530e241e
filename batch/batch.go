// Package batch decompiles every matching chunk under a directory tree.
package batch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/luadec/catalog"
	"github.com/chazu/luadec/chunk"
	"github.com/chazu/luadec/decompile"
	"github.com/chazu/luadec/emit"
	"github.com/chazu/luadec/output"
)

var log = commonlog.GetLogger("luadec.batch")

// MaxListedFailures bounds the failures kept in a Summary.
const MaxListedFailures = 20

// Options configures a batch run.
type Options struct {
	Pattern     string
	Extension   string
	Workers     int
	StripPrefix bool

	Parse     chunk.ParseOptions
	Decompile decompile.Options
	Emit      emit.Options

	// Catalog, when set, records every file and skips content that already
	// decompiled cleanly.
	Catalog *catalog.Catalog

	// Progress is called after each file with the number finished so far.
	// Calls may come from several workers at once.
	Progress func(done, total int, rel string)
}

// Failure names a file that could not be decompiled.
type Failure struct {
	Path string
	Err  error
}

// Summary totals a batch run.
type Summary struct {
	RunID    string
	Total    int
	Success  int
	Degraded int
	Failed   int
	Skipped  int
	InBytes  int64
	OutBytes int64
	// Failures holds the first MaxListedFailures failures in path order.
	Failures []Failure
}

// Rate returns the percentage of files that produced output, counting
// skipped files as successes from an earlier run.
func (s *Summary) Rate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Success+s.Skipped) / float64(s.Total) * 100
}

func (s *Summary) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Total files:  %d\n", s.Total)
	fmt.Fprintf(&sb, "Success:      %d (%d degraded)\n", s.Success, s.Degraded)
	if s.Skipped > 0 {
		fmt.Fprintf(&sb, "Skipped:      %d\n", s.Skipped)
	}
	fmt.Fprintf(&sb, "Failed:       %d\n", s.Failed)
	fmt.Fprintf(&sb, "Success rate: %.1f%%\n", s.Rate())
	fmt.Fprintf(&sb, "Read %s, wrote %s\n", humanize.Bytes(uint64(s.InBytes)), humanize.Bytes(uint64(s.OutBytes)))
	if s.Failed > 0 {
		fmt.Fprintf(&sb, "Failed files (%d):\n", s.Failed)
		for _, f := range s.Failures {
			fmt.Fprintf(&sb, "  - %s: %v\n", f.Path, f.Err)
		}
		if extra := s.Failed - len(s.Failures); extra > 0 {
			fmt.Fprintf(&sb, "  ... and %d more\n", extra)
		}
	}
	return sb.String()
}

// Find returns the relative paths of regular files under root
// whose base name matches pattern, sorted.
func Find(root, pattern string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		ok, err := filepath.Match(pattern, d.Name())
		if err != nil {
			return err
		}
		if ok {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// StripPrefix drops a 4-byte container prefix in front of the chunk
// signature.
func StripPrefix(data []byte) []byte {
	if len(data) > 5 && data[4] == chunk.Signature[0] && data[5] == 'L' {
		return data[4:]
	}
	return data
}

// OutputPath maps a relative input path to its output location.
func OutputPath(outDir, rel, ext string) string {
	base := strings.TrimSuffix(rel, filepath.Ext(rel))
	return filepath.Join(outDir, base+ext)
}

// Run decompiles every file matching opts.Pattern under inDir into outDir.
// Failing files are counted and listed; the returned error is non-nil only
// when the walk, the catalog or ctx fails.
func Run(ctx context.Context, inDir, outDir string, opts Options) (*Summary, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Extension == "" {
		opts.Extension = ".lua"
	}

	files, err := Find(inDir, opts.Pattern)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", inDir, err)
	}
	log.Infof("found %d files matching %s in %s", len(files), opts.Pattern, inDir)

	s := &Summary{Total: len(files)}
	if len(files) == 0 {
		return s, nil
	}

	var run *catalog.Run
	if opts.Catalog != nil {
		if run, err = opts.Catalog.Begin(inDir); err != nil {
			return nil, err
		}
		s.RunID = run.ID
	}

	arenas := make(chan *chunk.Arena, opts.Workers)
	for range opts.Workers {
		arenas <- chunk.NewArena()
	}

	var mu sync.Mutex
	var failures []Failure
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, rel := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			arena := <-arenas
			defer func() { arenas <- arena }()
			arena.Reset()

			j := job{in: filepath.Join(inDir, rel), out: OutputPath(outDir, rel, opts.Extension)}
			r := j.do(arena, &opts)

			mu.Lock()
			s.InBytes += r.in
			s.OutBytes += r.out
			switch {
			case r.skipped:
				s.Skipped++
			case r.err != nil:
				s.Failed++
				failures = append(failures, Failure{Path: rel, Err: r.err})
				log.Errorf("%s: %v", rel, r.err)
			default:
				s.Success++
				if r.warnings > 0 {
					s.Degraded++
					log.Warningf("%s: %d functions fell back to goto", rel, r.warnings)
				}
			}
			done++
			n := done
			mu.Unlock()

			if opts.Progress != nil {
				opts.Progress(n, len(files), rel)
			}
			if run != nil {
				return run.Record(r.entry(rel))
			}
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	sort.Slice(failures, func(i, k int) bool { return failures[i].Path < failures[k].Path })
	if len(failures) > MaxListedFailures {
		failures = failures[:MaxListedFailures]
	}
	s.Failures = failures

	if err == nil && run != nil {
		err = run.Finish()
	}
	log.Infof("batch done: %d ok, %d degraded, %d failed, %d skipped", s.Success, s.Degraded, s.Failed, s.Skipped)
	return s, err
}

// job decompiles one file.
type job struct {
	in, out string
}

type outcome struct {
	hash     string
	in, out  int64
	warnings int
	skipped  bool
	err      error
}

func (r *outcome) entry(rel string) catalog.Entry {
	e := catalog.Entry{Path: rel, Hash: r.hash, Warnings: r.warnings, Bytes: r.out}
	switch {
	case r.skipped:
		e.Status = catalog.StatusSkipped
	case r.err != nil:
		e.Status = catalog.StatusFailed
		e.Error = r.err.Error()
	case r.warnings > 0:
		e.Status = catalog.StatusDegraded
	default:
		e.Status = catalog.StatusOK
	}
	return e
}

func (j job) do(arena *chunk.Arena, opts *Options) (r outcome) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("%s: decompiler panic: %v", j.in, p)
			r.err = fmt.Errorf("decompiler panic: %v", p)
		}
	}()

	data, err := os.ReadFile(j.in)
	if err != nil {
		r.err = err
		return
	}
	r.in = int64(len(data))
	if opts.StripPrefix {
		data = StripPrefix(data)
	}

	if opts.Catalog != nil {
		r.hash = catalog.Hash(data)
		seen, err := opts.Catalog.Seen(r.hash)
		if err != nil {
			r.err = err
			return
		}
		if seen {
			if _, err := os.Stat(j.out); err == nil {
				log.Debugf("%s unchanged, skipping", j.in)
				r.skipped = true
				return
			}
		}
	}

	po := opts.Parse
	po.Arena = arena
	ch, err := chunk.Parse(data, po)
	if err != nil {
		r.err = err
		return
	}
	res, err := decompile.Decompile(ch, opts.Decompile)
	if err != nil {
		r.err = err
		return
	}
	r.warnings = len(res.Warnings)

	if err := os.MkdirAll(filepath.Dir(j.out), 0755); err != nil {
		r.err = err
		return
	}
	sink, err := output.CreateFileSink(j.out)
	if err != nil {
		r.err = err
		return
	}
	cs := &countingSink{Sink: sink}
	r.err = emit.Write(cs, res.Main, opts.Emit)
	r.out = cs.n
	return
}

// countingSink tallies the bytes passed through to Sink.
type countingSink struct {
	output.Sink
	n int64
}

func (c *countingSink) Emit(s string) {
	c.n += int64(len(s))
	c.Sink.Emit(s)
}

func (c *countingSink) EmitByte(b byte) {
	c.n++
	c.Sink.EmitByte(b)
}

func (c *countingSink) Newline() {
	c.n++
	c.Sink.Newline()
}
