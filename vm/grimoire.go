package vm

import (
	"runtime"
	"sort"
	"sync"

	"github.com/chazu/coven/symbol"
)

// ---------------------------------------------------------------------------
// Grimoire: the store shared by every spirit of an evaluation
// ---------------------------------------------------------------------------

// DefaultShards is the shard count used when none is configured.
const DefaultShards = 32

type grimoireEntry struct {
	value   Value
	version uint64
}

type grimoireShard struct {
	mu      sync.Mutex
	entries map[symbol.Symbol]*grimoireEntry
}

// Grimoire is a key-sharded concurrent map. Each key's operations are
// linearizable; there are no multi-key transactions. Entries are never
// removed.
type Grimoire struct {
	shards []grimoireShard
}

// NewGrimoire creates an empty Grimoire with n shards.
func NewGrimoire(n int) *Grimoire {
	if n <= 0 {
		n = DefaultShards
	}
	g := &Grimoire{shards: make([]grimoireShard, n)}
	for i := range g.shards {
		g.shards[i].entries = make(map[symbol.Symbol]*grimoireEntry)
	}
	return g
}

func (g *Grimoire) shard(sym symbol.Symbol) *grimoireShard {
	return &g.shards[uint32(sym)%uint32(len(g.shards))]
}

// Declare inserts sym with value v. It fails with AlreadyBound if sym exists.
func (g *Grimoire) Declare(sym symbol.Symbol, v Value) error {
	s := g.shard(sym)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[sym]; ok {
		return alreadyBound(sym)
	}
	s.entries[sym] = &grimoireEntry{value: v}
	return nil
}

// Read returns the current value of sym.
func (g *Grimoire) Read(sym symbol.Symbol) (Value, error) {
	s := g.shard(sym)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sym]
	if !ok {
		return Nil, unbound(sym)
	}
	return e.value, nil
}

// Write overwrites an existing key.
func (g *Grimoire) Write(sym symbol.Symbol, v Value) error {
	s := g.shard(sym)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sym]
	if !ok {
		return unbound(sym)
	}
	e.value = v
	e.version++
	return nil
}

// Update replaces sym's value with f(current) atomically. f runs without
// any lock held and may be invoked more than once if other writers race it;
// the value it returns is installed only if the entry is unchanged since f
// observed it.
func (g *Grimoire) Update(sym symbol.Symbol, f func(Value) (Value, error)) (Value, error) {
	s := g.shard(sym)
	for {
		s.mu.Lock()
		e, ok := s.entries[sym]
		if !ok {
			s.mu.Unlock()
			return Nil, unbound(sym)
		}
		cur, ver := e.value, e.version
		s.mu.Unlock()

		next, err := f(cur)
		if err != nil {
			return Nil, err
		}

		s.mu.Lock()
		if e.version == ver {
			e.value = next
			e.version++
			s.mu.Unlock()
			return next, nil
		}
		s.mu.Unlock()
		runtime.Gosched()
	}
}

// Len returns the number of keys.
func (g *Grimoire) Len() int {
	n := 0
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// GrimoireEntry is one key of a Snapshot.
type GrimoireEntry struct {
	Key   string
	Value Value
}

// Snapshot copies every entry, sorted by key. Entries from different shards
// are read at different instants.
func (g *Grimoire) Snapshot() []GrimoireEntry {
	var out []GrimoireEntry
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.Lock()
		for sym, e := range s.entries {
			out = append(out, GrimoireEntry{Key: sym.String(), Value: e.value})
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
