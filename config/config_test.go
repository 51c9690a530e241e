package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[decompile]
flatten-elseif = false
max-depth = 50

[output]
indent = "\t"
extension = ".src.lua"

[batch]
pattern = "*.out"
workers = 8
strip-prefix = false
catalog = "cat.db"

[log]
verbosity = 3
file = "luadec.log"
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Decompile.FlattenElseIf {
		t.Error("flatten-elseif = true, want false")
	}
	if c.Decompile.MaxDepth != 50 {
		t.Errorf("max-depth = %d, want 50", c.Decompile.MaxDepth)
	}
	if c.Output.Indent != "\t" {
		t.Errorf("indent = %q, want tab", c.Output.Indent)
	}
	if c.Output.Extension != ".src.lua" {
		t.Errorf("extension = %q, want .src.lua", c.Output.Extension)
	}
	if c.Batch.Pattern != "*.out" || c.Batch.Workers != 8 || c.Batch.StripPrefix {
		t.Errorf("batch = %+v", c.Batch)
	}
	if c.Log.Verbosity != 3 || c.Log.File != "luadec.log" {
		t.Errorf("log = %+v", c.Log)
	}
	if want := filepath.Join(c.Dir, "cat.db"); c.CatalogPath() != want {
		t.Errorf("catalog path = %q, want %q", c.CatalogPath(), want)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[batch]
workers = 2
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	d := Default()
	if c.Batch.Workers != 2 {
		t.Errorf("workers = %d, want 2", c.Batch.Workers)
	}
	if c.Batch.Pattern != d.Batch.Pattern || !c.Batch.StripPrefix {
		t.Errorf("batch defaults lost: %+v", c.Batch)
	}
	if !c.Decompile.FlattenElseIf || c.Decompile.MaxDepth != d.Decompile.MaxDepth {
		t.Errorf("decompile defaults lost: %+v", c.Decompile)
	}
	if c.Output.Indent != "  " || c.Output.Extension != ".lua" {
		t.Errorf("output defaults lost: %+v", c.Output)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[batch]
workers = 0
`)
	if _, err := Load(dir); err == nil {
		t.Error("expected error for zero workers")
	}

	writeConfig(t, dir, `[decompile`)
	if _, err := Load(dir); err == nil {
		t.Error("expected parse error")
	}

	writeConfig(t, dir, `
[batch]
pattern = "[a"
`)
	if _, err := Load(dir); err == nil {
		t.Error("expected error for bad pattern")
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
[output]
extension = ".txt"
`)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c.Output.Extension != ".txt" {
		t.Errorf("extension = %q, want .txt", c.Output.Extension)
	}
	abs, _ := filepath.Abs(root)
	if c.Dir != abs {
		t.Errorf("dir = %q, want %q", c.Dir, abs)
	}
}

func TestFindAndLoadDefaults(t *testing.T) {
	c, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c == nil {
		t.Fatal("FindAndLoad returned nil without a file")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	c := Default()
	c.Decompile.FlattenElseIf = false
	c.Decompile.MaxDepth = 7
	c.Output.Indent = "    "

	if c.DecompileOptions().FlattenElseIf {
		t.Error("decompile options ignore flatten-elseif")
	}
	if c.ParseOptions().MaxDepth != 7 {
		t.Errorf("parse max depth = %d, want 7", c.ParseOptions().MaxDepth)
	}
	if c.EmitOptions().Indent != "    " {
		t.Errorf("indent = %q", c.EmitOptions().Indent)
	}
	if c.CatalogPath() != c.Batch.Catalog {
		t.Errorf("catalog path without dir = %q", c.CatalogPath())
	}
}
