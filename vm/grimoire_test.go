package vm

import (
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/coven/symbol"
)

func TestGrimoireDeclare(t *testing.T) {
	g := NewGrimoire(4)
	k := symbol.Intern("candles")

	if err := g.Declare(k, Int64(13)); err != nil {
		t.Fatalf("Declare error: %v", err)
	}
	if err := g.Declare(k, Int64(1)); !isKind(err, AlreadyBound) {
		t.Errorf("second Declare error = %v, want AlreadyBound", err)
	}
	v, err := g.Read(k)
	if err != nil || !Equal(v, Int64(13)) {
		t.Errorf("Read = %v, %v; want 13", v, err)
	}
}

func TestGrimoireUnbound(t *testing.T) {
	g := NewGrimoire(4)
	k := symbol.Intern("nowhere")

	if _, err := g.Read(k); !isKind(err, UnboundSymbol) {
		t.Errorf("Read error = %v, want UnboundSymbol", err)
	}
	if err := g.Write(k, Nil); !isKind(err, UnboundSymbol) {
		t.Errorf("Write error = %v, want UnboundSymbol", err)
	}
	if _, err := g.Update(k, func(v Value) (Value, error) { return v, nil }); !isKind(err, UnboundSymbol) {
		t.Errorf("Update error = %v, want UnboundSymbol", err)
	}
}

func TestGrimoireWrite(t *testing.T) {
	g := NewGrimoire(1)
	k := symbol.Intern("bones")
	g.Declare(k, Int64(1))
	if err := g.Write(k, Text("dust")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if v, _ := g.Read(k); !Equal(v, Text("dust")) {
		t.Errorf("Read = %v, want dust", v)
	}
}

func TestGrimoireConcurrentUpdate(t *testing.T) {
	g := NewGrimoire(8)
	k := symbol.Intern("tally")
	g.Declare(k, Int64(0))

	inc := func(v Value) (Value, error) {
		n, _ := v.Integer()
		return Int(intAdd(n, Int64(1).num)), nil
	}

	var eg errgroup.Group
	for w := 0; w < 4; w++ {
		eg.Go(func() error {
			for i := 0; i < 1000; i++ {
				if _, err := g.Update(k, inc); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	v, _ := g.Read(k)
	if !Equal(v, Int64(4000)) {
		t.Errorf("tally = %v, want 4000", v)
	}
}

func TestGrimoireSnapshot(t *testing.T) {
	g := NewGrimoire(3)
	for i, name := range []string{"zeta", "alpha", "mu"} {
		g.Declare(symbol.Intern(name), Int64(int64(i)))
	}
	snap := g.Snapshot()
	if len(snap) != 3 || g.Len() != 3 {
		t.Fatalf("Snapshot() = %v, Len() = %d; want 3 entries", snap, g.Len())
	}
	want := []string{"alpha", "mu", "zeta"}
	for i := range want {
		if snap[i].Key != want[i] {
			t.Errorf("snap[%d].Key = %q, want %q", i, snap[i].Key, want[i])
		}
	}
}
