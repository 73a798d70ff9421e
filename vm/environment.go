package vm

import (
	"sync"

	"github.com/chazu/coven/symbol"
)

// Environment is one lexical scope. Scopes form a tree through parent
// links; closures share their captured scope by reference, so bindings are
// guarded for access from concurrent spirits.
type Environment struct {
	mu     sync.RWMutex
	vars   map[symbol.Symbol]Value
	parent *Environment
}

// NewEnvironment creates an empty scope nested in parent (nil for a root).
func NewEnvironment(parent *Environment) *Environment {
	return &Environment{parent: parent}
}

// Parent returns the enclosing scope.
func (e *Environment) Parent() *Environment { return e.parent }

// Define binds sym in this scope, shadowing any outer binding.
func (e *Environment) Define(sym symbol.Symbol, v Value) {
	e.mu.Lock()
	if e.vars == nil {
		e.vars = make(map[symbol.Symbol]Value, 4)
	}
	e.vars[sym] = v
	e.mu.Unlock()
}

// Lookup finds the nearest binding of sym.
func (e *Environment) Lookup(sym symbol.Symbol) (Value, error) {
	for s := e; s != nil; s = s.parent {
		s.mu.RLock()
		v, ok := s.vars[sym]
		s.mu.RUnlock()
		if ok {
			return v, nil
		}
	}
	return Nil, unbound(sym)
}

// Assign replaces the nearest existing binding of sym.
func (e *Environment) Assign(sym symbol.Symbol, v Value) error {
	for s := e; s != nil; s = s.parent {
		s.mu.Lock()
		if _, ok := s.vars[sym]; ok {
			s.vars[sym] = v
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
	}
	return unbound(sym)
}

// Symbols returns the names bound in this scope and all enclosing ones.
func (e *Environment) Symbols() []symbol.Symbol {
	seen := make(map[symbol.Symbol]bool)
	var out []symbol.Symbol
	for s := e; s != nil; s = s.parent {
		s.mu.RLock()
		for sym := range s.vars {
			if !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
		s.mu.RUnlock()
	}
	return out
}
