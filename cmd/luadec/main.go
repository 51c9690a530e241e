// luadec - decompiles Lua 5.1 and 5.3 bytecode chunks back to source
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/luadec/batch"
	"github.com/chazu/luadec/catalog"
	"github.com/chazu/luadec/chunk"
	"github.com/chazu/luadec/config"
	"github.com/chazu/luadec/decompile"
	"github.com/chazu/luadec/emit"
	"github.com/chazu/luadec/output"
)

func main() {
	disasm := flag.Bool("disasm", false, "Print a disassembly listing instead of source")
	model := flag.Bool("model", false, "Write the parsed chunk model as CBOR instead of source")
	outPath := flag.String("o", "", "Output file (default stdout)")
	batchMode := flag.Bool("batch", false, "Decompile every matching file under <in-dir> into <out-dir>")
	configDir := flag.String("config", "", "Directory to search for luadec.toml (default current directory)")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides luadec.toml)")
	logFile := flag.String("log", "", "Log file (overrides luadec.toml)")
	workers := flag.Int("workers", 0, "Batch workers (overrides luadec.toml)")
	pattern := flag.String("pattern", "", "Batch file pattern (overrides luadec.toml)")
	noElseIf := flag.Bool("no-elseif", false, "Keep nested else/if instead of elseif chains")
	noCatalog := flag.Bool("no-catalog", false, "Do not record or skip batch files through the catalog")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: luadec [options] <chunk>\n")
		fmt.Fprintf(os.Stderr, "       luadec -batch [options] <in-dir> <out-dir>\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  luadec init.luac              # Print source to stdout\n")
		fmt.Fprintf(os.Stderr, "  luadec -disasm init.luac      # Print instruction listing\n")
		fmt.Fprintf(os.Stderr, "  luadec -o init.lua init.luac  # Write source to a file\n")
		fmt.Fprintf(os.Stderr, "  luadec -batch scripts/ out/   # Decompile a directory tree\n")
	}
	flag.Parse()

	dir := *configDir
	if dir == "" {
		dir = "."
	}
	cfg, err := config.FindAndLoad(dir)
	if err != nil {
		fatal(err)
	}
	if *verbosity >= 0 {
		cfg.Log.Verbosity = *verbosity
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	if *workers > 0 {
		cfg.Batch.Workers = *workers
	}
	if *pattern != "" {
		cfg.Batch.Pattern = *pattern
	}
	if *noElseIf {
		cfg.Decompile.FlattenElseIf = false
	}

	var logPath *string
	if cfg.Log.File != "" {
		logPath = &cfg.Log.File
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)

	if *batchMode {
		if flag.NArg() != 2 {
			flag.Usage()
			os.Exit(2)
		}
		os.Exit(runBatch(cfg, flag.Arg(0), flag.Arg(1), !*noCatalog))
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if err := runFile(cfg, flag.Arg(0), *outPath, *disasm, *model); err != nil {
		fatal(err)
	}
}

func runFile(cfg *config.Config, path, outPath string, disasm, model bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if cfg.Batch.StripPrefix {
		data = batch.StripPrefix(data)
	}
	ch, err := chunk.Parse(data, cfg.ParseOptions())
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if ch.Trailing > 0 {
		fmt.Fprintf(os.Stderr, "warning: %s: %d trailing bytes ignored\n", path, ch.Trailing)
	}

	var sink *output.WriterSink
	if outPath == "" {
		sink = output.NewWriterSink(os.Stdout)
	} else if sink, err = output.CreateFileSink(outPath); err != nil {
		return err
	}

	switch {
	case model:
		b, err := chunk.MarshalChunk(ch)
		if err != nil {
			sink.Finish()
			return err
		}
		sink.Emit(string(b))
		return sink.Finish()
	case disasm:
		sink.Emit(chunk.Disassemble(ch.Main, ch.Profile))
		return sink.Finish()
	}

	res, err := decompile.Decompile(ch, cfg.DecompileOptions())
	if err != nil {
		sink.Finish()
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", path, w)
	}
	return emit.Write(sink, res.Main, cfg.EmitOptions())
}

func runBatch(cfg *config.Config, inDir, outDir string, useCatalog bool) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := batch.Options{
		Pattern:     cfg.Batch.Pattern,
		Extension:   cfg.Output.Extension,
		Workers:     cfg.Batch.Workers,
		StripPrefix: cfg.Batch.StripPrefix,
		Parse:       cfg.ParseOptions(),
		Decompile:   cfg.DecompileOptions(),
		Emit:        cfg.EmitOptions(),
	}

	if useCatalog && cfg.CatalogPath() != "" {
		cat, err := catalog.Open(cfg.CatalogPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer cat.Close()
		opts.Catalog = cat
	}

	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		opts.Progress = func(done, total int, rel string) {
			fmt.Fprintf(os.Stderr, "\r\033[K[%d/%d] %s", done, total, rel)
			if done == total {
				fmt.Fprintln(os.Stderr)
			}
		}
	}

	s, err := batch.Run(ctx, inDir, outDir, opts)
	if s != nil {
		fmt.Print(s)
	}
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "Batch aborted.")
		return 130
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	case s.Failed > 0:
		return 1
	}
	return 0
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
