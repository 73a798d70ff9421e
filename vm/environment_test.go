package vm

import (
	"fmt"
	"sync"
	"testing"

	"github.com/chazu/coven/symbol"
)

func TestEnvironmentDefineLookup(t *testing.T) {
	x, y := symbol.Intern("x"), symbol.Intern("y")
	root := NewEnvironment(nil)
	root.Define(x, Int64(1))

	child := NewEnvironment(root)
	child.Define(y, Int64(2))

	if v, err := child.Lookup(x); err != nil || !Equal(v, Int64(1)) {
		t.Errorf("child.Lookup(x) = %v, %v; want 1", v, err)
	}
	if _, err := root.Lookup(y); !isKind(err, UnboundSymbol) {
		t.Errorf("root.Lookup(y) error = %v, want UnboundSymbol", err)
	}

	// Shadowing leaves the outer binding alone.
	child.Define(x, Int64(10))
	if v, _ := child.Lookup(x); !Equal(v, Int64(10)) {
		t.Errorf("shadowed x = %v, want 10", v)
	}
	if v, _ := root.Lookup(x); !Equal(v, Int64(1)) {
		t.Errorf("outer x = %v, want 1", v)
	}
}

func TestEnvironmentAssign(t *testing.T) {
	x, z := symbol.Intern("x"), symbol.Intern("z")
	root := NewEnvironment(nil)
	root.Define(x, Int64(1))
	child := NewEnvironment(root)

	if err := child.Assign(x, Int64(5)); err != nil {
		t.Fatalf("Assign(x) error: %v", err)
	}
	if v, _ := root.Lookup(x); !Equal(v, Int64(5)) {
		t.Errorf("root x = %v, want 5", v)
	}
	if err := child.Assign(z, Int64(5)); !isKind(err, UnboundSymbol) {
		t.Errorf("Assign(z) error = %v, want UnboundSymbol", err)
	}
}

func TestEnvironmentSymbols(t *testing.T) {
	root := NewEnvironment(nil)
	root.Define(symbol.Intern("a"), Nil)
	child := NewEnvironment(root)
	child.Define(symbol.Intern("b"), Nil)
	child.Define(symbol.Intern("a"), Nil)

	if got := len(child.Symbols()); got != 2 {
		t.Errorf("len(Symbols()) = %d, want 2", got)
	}
}

func TestEnvironmentConcurrentAccess(t *testing.T) {
	shared := NewEnvironment(nil)
	counter := symbol.Intern("counter")
	shared.Define(counter, Int64(0))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			local := NewEnvironment(shared)
			for i := 0; i < 100; i++ {
				local.Define(symbol.Intern(fmt.Sprintf("v%d", i)), Int64(int64(i)))
				shared.Assign(counter, Int64(int64(g)))
				if _, err := local.Lookup(counter); err != nil {
					t.Errorf("Lookup(counter) error: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
}
