package vm

import (
	"fmt"
	"io"
	"os"
	"runtime"
)

// OrphanPolicy decides what happens to spirits still alive when the root
// ritual finishes.
type OrphanPolicy string

const (
	// OrphansWait lets the evaluation end only once every spirit is terminal.
	OrphansWait OrphanPolicy = "wait"
	// OrphansBanish banishes every remaining spirit.
	OrphansBanish OrphanPolicy = "banish"
)

// DefaultMaxDepth bounds ritual call nesting per spirit.
const DefaultMaxDepth = 10000

// Config controls an evaluation.
type Config struct {
	// Workers is the number of spirits that may execute at once.
	Workers int
	// Shards is the shard count of the Grimoire and the Registry.
	Shards int
	// Seed seeds omen draws. Nil picks a random seed.
	Seed *uint64
	// MaxDepth bounds call nesting; zero or less means unbounded.
	MaxDepth int
	Orphans  OrphanPolicy
	// Output receives say lines. Nil means os.Stdout.
	Output io.Writer
	// Observer, if set, receives every spirit lifecycle transition.
	Observer Observer
}

// DefaultConfig returns a Config with one worker per CPU.
func DefaultConfig() Config {
	return Config{
		Workers:  runtime.NumCPU(),
		Shards:   DefaultShards,
		MaxDepth: DefaultMaxDepth,
		Orphans:  OrphansWait,
		Output:   os.Stdout,
	}
}

func (c *Config) normalize() error {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Shards <= 0 {
		c.Shards = DefaultShards
	}
	switch c.Orphans {
	case "":
		c.Orphans = OrphansWait
	case OrphansWait, OrphansBanish:
	default:
		return fmt.Errorf("unknown orphan policy %q", c.Orphans)
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
	return nil
}
