package vm

import (
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// Registry: spirit table
// ---------------------------------------------------------------------------

type registryShard struct {
	mu      sync.RWMutex
	spirits map[SpiritID]*Spirit
}

// Registry is a sharded concurrent table of every spirit summoned in a
// session, keyed by id.
type Registry struct {
	shards []registryShard
}

// NewRegistry creates an empty registry with n shards.
func NewRegistry(n int) *Registry {
	if n <= 0 {
		n = DefaultShards
	}
	r := &Registry{shards: make([]registryShard, n)}
	for i := range r.shards {
		r.shards[i].spirits = make(map[SpiritID]*Spirit)
	}
	return r
}

func (r *Registry) shard(id SpiritID) *registryShard {
	return &r.shards[uint64(id)%uint64(len(r.shards))]
}

// Register adds s.
func (r *Registry) Register(s *Spirit) {
	sh := r.shard(s.id)
	sh.mu.Lock()
	sh.spirits[s.id] = s
	sh.mu.Unlock()
}

// Get returns the spirit with the given id.
func (r *Registry) Get(id SpiritID) (*Spirit, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.spirits[id]
	return s, ok
}

// Len returns the number of registered spirits.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		n += len(sh.spirits)
		sh.mu.RUnlock()
	}
	return n
}

// SpiritInfo is a point-in-time view of one spirit.
type SpiritInfo struct {
	ID     SpiritID
	Parent SpiritID
	Ritual string
	State  State
}

// Spirits lists every registered spirit ordered by id.
func (r *Registry) Spirits() []SpiritInfo {
	var out []SpiritInfo
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for _, s := range sh.spirits {
			out = append(out, SpiritInfo{ID: s.id, Parent: s.ParentID(), Ritual: s.ritual, State: s.State()})
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
