// Package config loads interpreter settings from YAML or TOML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"

	"github.com/zephyrtronium/tinyscript/internal/cell"
)

// Config holds the sizes and limits of a VM and where its snapshots go.
type Config struct {
	// Cells is the arena capacity.
	Cells int `yaml:"cells" toml:"cells"`
	// CallDepth bounds script function nesting.
	CallDepth int `yaml:"call-depth" toml:"call-depth"`
	// QueueSize is the event queue capacity. It must be a power of two.
	QueueSize int `yaml:"queue-size" toml:"queue-size"`
	// Watchdog is the longest a single event callback may run, as a Go
	// duration string. Empty disables the watchdog.
	Watchdog string `yaml:"watchdog" toml:"watchdog"`
	// Verbosity is the log verbosity: 0 errors only, 1 adds warnings,
	// 2 info, 3 or more debug.
	Verbosity int `yaml:"verbosity" toml:"verbosity"`
	// LogFile redirects logs from stderr when set.
	LogFile string `yaml:"log-file" toml:"log-file"`
	// Snapshot configures persistence of the variable graph.
	Snapshot Snapshot `yaml:"snapshot" toml:"snapshot"`
}

// Snapshot selects a storage backend for saved arenas.
type Snapshot struct {
	// Driver is "file" or "sqlite". Empty disables snapshots.
	Driver string `yaml:"driver" toml:"driver"`
	// Path is the directory for the file driver or the database file for
	// sqlite.
	Path string `yaml:"path" toml:"path"`
	// Name is the slot to save to and load from.
	Name string `yaml:"name" toml:"name"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Cells:     4096,
		CallDepth: 64,
		QueueSize: 64,
		Verbosity: 1,
		Snapshot:  Snapshot{Name: "default"},
	}
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Load reads a configuration file over the defaults. The format is chosen by
// extension: .yaml or .yml for YAML, .toml for TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.UnmarshalStrict(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return nil, fmt.Errorf("%w: unknown config format %q", ErrInvalid, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	switch {
	case c.Cells < 1 || c.Cells > cell.MaxCells:
		return fmt.Errorf("%w: cells must be in [1, %d], have %d", ErrInvalid, cell.MaxCells, c.Cells)
	case c.CallDepth < 1:
		return fmt.Errorf("%w: call-depth must be positive, have %d", ErrInvalid, c.CallDepth)
	case c.QueueSize < 2 || c.QueueSize&(c.QueueSize-1) != 0:
		return fmt.Errorf("%w: queue-size must be a power of two >= 2, have %d", ErrInvalid, c.QueueSize)
	case c.Verbosity < 0:
		return fmt.Errorf("%w: verbosity must not be negative", ErrInvalid)
	}
	if _, err := c.WatchdogDuration(); err != nil {
		return err
	}
	switch c.Snapshot.Driver {
	case "":
	case "file", "sqlite":
		if c.Snapshot.Path == "" {
			return fmt.Errorf("%w: snapshot driver %s needs a path", ErrInvalid, c.Snapshot.Driver)
		}
		if c.Snapshot.Name == "" {
			return fmt.Errorf("%w: snapshot name is empty", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown snapshot driver %q", ErrInvalid, c.Snapshot.Driver)
	}
	return nil
}

// WatchdogDuration parses Watchdog. An empty Watchdog gives zero.
func (c *Config) WatchdogDuration() (time.Duration, error) {
	if c.Watchdog == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Watchdog)
	if err != nil {
		return 0, fmt.Errorf("%w: watchdog: %v", ErrInvalid, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: watchdog must not be negative", ErrInvalid)
	}
	return d, nil
}
