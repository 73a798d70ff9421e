// Package symbol interns identifier text into compact comparable handles.
package symbol

import "sync"

// Symbol is an interned identifier. Equal text yields an equal Symbol.
type Symbol uint32

// None is the zero Symbol; it is never returned by Intern.
const None Symbol = 0

// ---------------------------------------------------------------------------
// Table: interned identifiers
// ---------------------------------------------------------------------------

// Table interns identifier strings to unique IDs.
type Table struct {
	mu     sync.RWMutex
	byName map[string]Symbol
	byID   []string
}

// NewTable creates an empty table. ID 0 is reserved for None.
func NewTable() *Table {
	t := &Table{
		byName: make(map[string]Symbol),
		byID:   make([]string, 1, 256),
	}
	return t
}

// Intern returns the Symbol for name, creating a new one if needed.
func (t *Table) Intern(name string) Symbol {
	// Fast path: read-only lookup
	t.mu.RLock()
	if id, ok := t.byName[name]; ok {
		t.mu.RUnlock()
		return id
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock
	if id, ok := t.byName[name]; ok {
		return id
	}

	id := Symbol(len(t.byID))
	t.byName[name] = id
	t.byID = append(t.byID, name)
	return id
}

// Lookup returns the Symbol for name without interning it.
func (t *Table) Lookup(name string) (Symbol, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byName[name]
	return id, ok
}

// Name returns the text for id, or "" if id was never issued.
func (t *Table) Name(id Symbol) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if id == None || int(id) >= len(t.byID) {
		return ""
	}
	return t.byID[id]
}

// Len returns the number of interned symbols.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID) - 1
}

// All returns all interned names in ID order.
func (t *Table) All() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]string, len(t.byID)-1)
	copy(result, t.byID[1:])
	return result
}

var global = NewTable()

// Intern interns name in the process-wide table.
func Intern(name string) Symbol { return global.Intern(name) }

// Lookup finds name in the process-wide table.
func Lookup(name string) (Symbol, bool) { return global.Lookup(name) }

// String returns the identifier text of s from the process-wide table.
func (s Symbol) String() string { return global.Name(s) }
