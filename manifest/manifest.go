// Package manifest handles coven.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/coven/vm"
)

// FileName is the manifest file looked up by FindAndLoad.
const FileName = "coven.toml"

// Manifest represents a coven.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Runtime Runtime `toml:"runtime"`
	Log     Log     `toml:"log"`
	Journal Journal `toml:"journal"`

	// Dir is the directory containing the coven.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name  string `toml:"name"`
	Entry string `toml:"entry"`
}

// Runtime configures the scheduler.
type Runtime struct {
	Workers  int     `toml:"workers"`
	Shards   int     `toml:"shards"`
	Seed     *uint64 `toml:"seed"`
	MaxDepth int     `toml:"max-depth"`
	Orphans  string  `toml:"orphans"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Journal configures lifecycle event sinks. Empty paths disable a sink.
type Journal struct {
	CBOR   string `toml:"cbor"`
	SQLite string `toml:"sqlite"`
}

// Load parses a coven.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the manifest at path. Relative paths inside it resolve
// against the file's directory.
func LoadFile(path string) (*Manifest, error) {
	dir := filepath.Dir(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undec[0])
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Project.Entry == "" {
		m.Project.Entry = "main.rite"
	}
	if m.Runtime.Orphans == "" {
		m.Runtime.Orphans = string(vm.OrphansWait)
	}
	switch vm.OrphanPolicy(m.Runtime.Orphans) {
	case vm.OrphansWait, vm.OrphansBanish:
	default:
		return nil, fmt.Errorf("%s: runtime.orphans must be %q or %q, got %q",
			path, vm.OrphansWait, vm.OrphansBanish, m.Runtime.Orphans)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a coven.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Path resolves p against the manifest directory unless it is absolute or empty.
func (m *Manifest) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// EntryPath returns the absolute path of the entry ritual file.
func (m *Manifest) EntryPath() string {
	return m.Path(m.Project.Entry)
}

// Apply copies the runtime settings that are set onto cfg.
func (m *Manifest) Apply(cfg *vm.Config) {
	r := m.Runtime
	if r.Workers > 0 {
		cfg.Workers = r.Workers
	}
	if r.Shards > 0 {
		cfg.Shards = r.Shards
	}
	if r.Seed != nil {
		seed := *r.Seed
		cfg.Seed = &seed
	}
	if r.MaxDepth != 0 {
		cfg.MaxDepth = r.MaxDepth
	}
	cfg.Orphans = vm.OrphanPolicy(r.Orphans)
}
