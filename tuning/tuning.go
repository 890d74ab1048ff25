// Package tuning handles gc.toml collector configuration.
package tuning

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jason-hall/gecko-dev/gc"
)

// Config represents a gc.toml tuning file.
type Config struct {
	Heap    Heap    `toml:"heap"`
	Slices  Slices  `toml:"slices"`
	Strings Strings `toml:"strings"`

	// Dir is the directory containing the gc.toml file (set at load time).
	Dir string `toml:"-"`
}

// Heap configures heap-wide collector behavior.
type Heap struct {
	NurseryCapacity int `toml:"nursery-capacity"`

	// Background sweeping defaults to on; the flag is spelled as a disable
	// so an absent key keeps the default.
	DisableBackgroundSweep bool `toml:"disable-background-sweep"`
}

// Slices configures incremental slice behavior.
type Slices struct {
	// BudgetMS is the default per-slice time budget in milliseconds.
	BudgetMS       int `toml:"budget-ms"`
	MarkStackLimit int `toml:"mark-stack-limit"`
}

// Strings configures string traversal and storage.
type Strings struct {
	ChunkSizeKB       int `toml:"chunk-size-kb"`
	RopeHistoryWindow int `toml:"rope-history-window"`
	RopeCheckInterval int `toml:"rope-check-interval"`
	EagerDepthLimit   int `toml:"eager-depth-limit"`
}

// Load parses a gc.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "gc.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	return &c, nil
}

// FindAndLoad walks up from startDir to find a gc.toml file, then loads and
// returns it. Returns nil if no tuning file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "gc.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Params converts the file into collector parameters, with unset values
// falling back to the built-in defaults.
func (c *Config) Params() gc.Params {
	p := gc.DefaultParams()
	if c == nil {
		return p
	}
	if c.Heap.NurseryCapacity > 0 {
		p.NurseryCapacity = c.Heap.NurseryCapacity
	}
	p.BackgroundSweep = !c.Heap.DisableBackgroundSweep
	if c.Slices.BudgetMS > 0 {
		p.DefaultSliceTime = time.Duration(c.Slices.BudgetMS) * time.Millisecond
	}
	if c.Slices.MarkStackLimit > 0 {
		p.MarkStackLimit = c.Slices.MarkStackLimit
	}
	if c.Strings.ChunkSizeKB > 0 {
		p.ChunkSize = c.Strings.ChunkSizeKB << 10
	}
	if c.Strings.RopeHistoryWindow > 0 {
		p.RopeHistoryWindow = c.Strings.RopeHistoryWindow
	}
	if c.Strings.RopeCheckInterval > 0 {
		p.RopeCheckInterval = c.Strings.RopeCheckInterval
	}
	if c.Strings.EagerDepthLimit > 0 {
		p.EagerDepthLimit = c.Strings.EagerDepthLimit
	}
	return p
}
