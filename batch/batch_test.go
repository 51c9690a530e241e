package batch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/luadec/catalog"
	"github.com/chazu/luadec/chunk"
	"github.com/chazu/luadec/decompile"
	"github.com/chazu/luadec/emit"
)

// returnChunk returns the bytes of a 5.1 chunk for `return "<s>"`.
func returnChunk(s string) []byte {
	p := chunk.ProfileLua51()
	return chunk.DumpBytes(&chunk.Chunk{
		Profile: p,
		Main: &chunk.Function{
			MaxStack: 2,
			IsVararg: 2,
			Code: []chunk.Instruction{
				p.ABx(chunk.OpLoadK, 0, 0),
				p.ABC(chunk.OpReturn, 0, 2, 0),
				p.ABC(chunk.OpReturn, 0, 1, 0),
			},
			Constants: []chunk.Constant{chunk.StringConst(s)},
		},
	})
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func options() Options {
	return Options{
		Pattern:     "*.luac",
		Extension:   ".lua",
		Workers:     2,
		StripPrefix: true,
		Decompile:   decompile.DefaultOptions(),
		Emit:        emit.DefaultOptions(),
	}
}

func TestStripPrefix(t *testing.T) {
	data := append([]byte{1, 2, 3, 4}, chunk.Signature...)
	if got := StripPrefix(data); string(got) != chunk.Signature {
		t.Errorf("StripPrefix = %q", got)
	}
	plain := []byte(chunk.Signature + "\x51")
	if got := StripPrefix(plain); len(got) != len(plain) {
		t.Error("StripPrefix changed an unprefixed chunk")
	}
	if got := StripPrefix([]byte{1, 2}); len(got) != 2 {
		t.Error("StripPrefix changed a short input")
	}
}

func TestOutputPath(t *testing.T) {
	got := OutputPath("out", filepath.Join("a", "b.luac"), ".lua")
	if want := filepath.Join("out", "a", "b.lua"); got != want {
		t.Errorf("OutputPath = %q, want %q", got, want)
	}
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.luac"), nil)
	writeFile(t, filepath.Join(root, "sub", "a.luac"), nil)
	writeFile(t, filepath.Join(root, "sub", "notes.txt"), nil)

	files, err := Find(root, "*.luac")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"b.luac", filepath.Join("sub", "a.luac")}
	if len(files) != len(want) {
		t.Fatalf("files = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestRunMirrorsTree(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(in, "top.luac"), returnChunk("top"))
	writeFile(t, filepath.Join(in, "dir", "nested.luac"), append([]byte("XXXX"), returnChunk("nested")...))
	writeFile(t, filepath.Join(in, "dir", "broken.luac"), []byte("not a chunk"))

	s, err := Run(context.Background(), in, out, options())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if s.Total != 3 || s.Success != 2 || s.Failed != 1 || s.Degraded != 0 {
		t.Errorf("summary = %+v", s)
	}
	if len(s.Failures) != 1 || s.Failures[0].Path != filepath.Join("dir", "broken.luac") {
		t.Errorf("failures = %v", s.Failures)
	}

	got, err := os.ReadFile(filepath.Join(out, "dir", "nested.lua"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "return \"nested\"\n" {
		t.Errorf("nested.lua = %q", got)
	}
	if _, err := os.Stat(filepath.Join(out, "top.lua")); err != nil {
		t.Errorf("top.lua missing: %v", err)
	}
	if s.OutBytes != int64(len(`return "top"`)+1+len(got)) {
		t.Errorf("out bytes = %d", s.OutBytes)
	}

	text := s.String()
	if !strings.Contains(text, "Success rate: 66.7%") || !strings.Contains(text, "broken.luac") {
		t.Errorf("summary text = %q", text)
	}
}

func TestRunWithoutPrefixStripping(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(in, "p.luac"), append([]byte("XXXX"), returnChunk("p")...))

	opts := options()
	opts.StripPrefix = false
	s, err := Run(context.Background(), in, out, opts)
	if err != nil {
		t.Fatal(err)
	}
	if s.Failed != 1 {
		t.Errorf("prefixed chunk decoded without stripping: %+v", s)
	}
}

func TestRunEmpty(t *testing.T) {
	s, err := Run(context.Background(), t.TempDir(), t.TempDir(), options())
	if err != nil {
		t.Fatal(err)
	}
	if s.Total != 0 || s.Rate() != 0 {
		t.Errorf("summary = %+v", s)
	}
}

func TestRunSkipsCataloged(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(in, "a.luac"), returnChunk("a"))
	writeFile(t, filepath.Join(in, "b.luac"), []byte("junk"))

	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer cat.Close()

	opts := options()
	opts.Catalog = cat
	first, err := Run(context.Background(), in, out, opts)
	if err != nil {
		t.Fatal(err)
	}
	if first.Success != 1 || first.Skipped != 0 || first.RunID == "" {
		t.Errorf("first run = %+v", first)
	}

	second, err := Run(context.Background(), in, out, opts)
	if err != nil {
		t.Fatal(err)
	}
	if second.Skipped != 1 || second.Failed != 1 || second.Success != 0 {
		t.Errorf("second run = %+v", second)
	}

	entries, err := cat.Entries(second.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Status != catalog.StatusSkipped || entries[1].Status != catalog.StatusFailed {
		t.Errorf("entries = %+v", entries)
	}
}

func TestRunCanceled(t *testing.T) {
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "a.luac"), returnChunk("a"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Run(ctx, in, t.TempDir(), options()); err == nil {
		t.Error("expected context error")
	}
}

func TestProgressReportsEveryFile(t *testing.T) {
	in := t.TempDir()
	for _, n := range []string{"a", "b", "c"} {
		writeFile(t, filepath.Join(in, n+".luac"), returnChunk(n))
	}
	opts := options()
	opts.Workers = 1
	var seen []int
	opts.Progress = func(done, total int, rel string) {
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
		seen = append(seen, done)
	}
	if _, err := Run(context.Background(), in, t.TempDir(), opts); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3 || seen[2] != 3 {
		t.Errorf("progress = %v", seen)
	}
}
