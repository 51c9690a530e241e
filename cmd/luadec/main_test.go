package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/luadec/chunk"
	"github.com/chazu/luadec/config"
)

func writeChunk(t *testing.T, dir string) string {
	t.Helper()
	p := chunk.ProfileLua51()
	data := chunk.DumpBytes(&chunk.Chunk{
		Profile: p,
		Main: &chunk.Function{
			MaxStack: 2,
			IsVararg: 2,
			Code: []chunk.Instruction{
				p.ABx(chunk.OpLoadK, 0, 0),
				p.ABC(chunk.OpReturn, 0, 2, 0),
				p.ABC(chunk.OpReturn, 0, 1, 0),
			},
			Constants: []chunk.Constant{chunk.StringConst("cli")},
		},
	})
	path := filepath.Join(dir, "main.luac")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunFileSource(t *testing.T) {
	dir := t.TempDir()
	in := writeChunk(t, dir)
	out := filepath.Join(dir, "main.lua")

	if err := runFile(config.Default(), in, out, false, false); err != nil {
		t.Fatalf("runFile failed: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "return \"cli\"\n" {
		t.Errorf("source = %q", got)
	}
}

func TestRunFileDisasm(t *testing.T) {
	dir := t.TempDir()
	in := writeChunk(t, dir)
	out := filepath.Join(dir, "main.txt")

	if err := runFile(config.Default(), in, out, true, false); err != nil {
		t.Fatalf("runFile failed: %v", err)
	}
	got, _ := os.ReadFile(out)
	if !strings.Contains(string(got), "LOADK") {
		t.Errorf("listing missing LOADK:\n%s", got)
	}
}

func TestRunFileModel(t *testing.T) {
	dir := t.TempDir()
	in := writeChunk(t, dir)
	out := filepath.Join(dir, "main.cbor")

	if err := runFile(config.Default(), in, out, false, true); err != nil {
		t.Fatalf("runFile failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	ch, err := chunk.UnmarshalChunk(data)
	if err != nil {
		t.Fatalf("UnmarshalChunk failed: %v", err)
	}
	if ch.Main == nil || len(ch.Main.Code) != 3 {
		t.Errorf("model round trip lost code: %+v", ch.Main)
	}
}

func TestRunFileRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "junk.luac")
	os.WriteFile(in, []byte("junk data"), 0644)
	if err := runFile(config.Default(), in, filepath.Join(dir, "x.lua"), false, false); err == nil {
		t.Error("expected parse error")
	}
}
