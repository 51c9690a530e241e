// Package config handles luadec.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/luadec/chunk"
	"github.com/chazu/luadec/decompile"
	"github.com/chazu/luadec/emit"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "luadec.toml"

// Config represents a luadec.toml file.
type Config struct {
	Decompile Decompile `toml:"decompile"`
	Output    Output    `toml:"output"`
	Batch     Batch     `toml:"batch"`
	Log       Log       `toml:"log"`

	// Dir is the directory containing the file (set at load time); empty
	// for defaults.
	Dir string `toml:"-"`
}

// Decompile configures reconstruction.
type Decompile struct {
	FlattenElseIf bool `toml:"flatten-elseif"`
	MaxDepth      int  `toml:"max-depth"`
}

// Output configures emitted source.
type Output struct {
	Indent    string `toml:"indent"`
	Extension string `toml:"extension"`
}

// Batch configures directory decompilation.
type Batch struct {
	Pattern     string `toml:"pattern"`
	Workers     int    `toml:"workers"`
	StripPrefix bool   `toml:"strip-prefix"`
	Catalog     string `toml:"catalog"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Decompile: Decompile{FlattenElseIf: true, MaxDepth: chunk.DefaultMaxDepth},
		Output:    Output{Indent: "  ", Extension: ".lua"},
		Batch:     Batch{Pattern: "*.luac", Workers: 4, StripPrefix: true, Catalog: filepath.Join(".luadec", "catalog.db")},
		Log:       Log{Verbosity: 1},
	}
}

// Load parses luadec.toml from the given directory. Keys absent from the
// file keep their defaults.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if c.Dir, err = filepath.Abs(dir); err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a luadec.toml file, then loads
// it. Without a file the defaults are returned.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

func (c *Config) validate() error {
	switch {
	case c.Decompile.MaxDepth <= 0:
		return fmt.Errorf("decompile.max-depth must be positive, got %d", c.Decompile.MaxDepth)
	case c.Batch.Workers <= 0:
		return fmt.Errorf("batch.workers must be positive, got %d", c.Batch.Workers)
	case c.Batch.Pattern == "":
		return fmt.Errorf("batch.pattern is empty")
	}
	if _, err := filepath.Match(c.Batch.Pattern, ""); err != nil {
		return fmt.Errorf("batch.pattern %q: %w", c.Batch.Pattern, err)
	}
	return nil
}

// CatalogPath returns the catalog location, relative paths resolved
// against the configuration directory.
func (c *Config) CatalogPath() string {
	if c.Batch.Catalog == "" || filepath.IsAbs(c.Batch.Catalog) || c.Dir == "" {
		return c.Batch.Catalog
	}
	return filepath.Join(c.Dir, c.Batch.Catalog)
}

// ParseOptions returns the chunk reader options.
func (c *Config) ParseOptions() chunk.ParseOptions {
	return chunk.ParseOptions{MaxDepth: c.Decompile.MaxDepth}
}

// DecompileOptions returns the reconstruction options.
func (c *Config) DecompileOptions() decompile.Options {
	return decompile.Options{FlattenElseIf: c.Decompile.FlattenElseIf}
}

// EmitOptions returns the renderer options.
func (c *Config) EmitOptions() emit.Options {
	return emit.Options{Indent: c.Output.Indent}
}
