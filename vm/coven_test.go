package vm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chazu/coven/symbol"
)

func TestSummonAwaitMatchesDirectCall(t *testing.T) {
	rituals := `
		ritual sq(x) { x * x + 1 }
		ritual fact(n) { if n <= 1 { 1 } else { n * fact(n - 1) } }
		ritual greet(name) { "hail, " + name }
	`
	calls := []string{`sq(12)`, `fact(25)`, `greet("lich")`}
	for _, call := range calls {
		direct := mustEval(t, rituals+call)
		spawned := mustEval(t, rituals+"await summon "+call)
		if !Equal(direct, spawned) {
			t.Errorf("await summon %s = %v, direct = %v", call, spawned, direct)
		}
	}
}

func TestSummonManySpirits(t *testing.T) {
	v := mustEval(t, `
		ritual sq(x) { x * x }
		let a = summon sq(1)
		let b = summon sq(2)
		let c = summon sq(3)
		let d = summon sq(4)
		await a + await b + await c + await d
	`)
	wantInt(t, v, "30")
}

func TestBanishBeforeCompleteYieldsBanished(t *testing.T) {
	v := mustEval(t, `
		ritual sleeper() { while true { } }
		let h = summon sleeper()
		banish h
		await h
	`)
	if !v.IsBanished() {
		t.Errorf("await banished spirit = %v, want banished", v)
	}

	v = mustEval(t, `
		ritual sleeper() { while true { } }
		let h = summon sleeper()
		banish h
		await h == banished
	`)
	if b, _ := v.Boolean(); !b {
		t.Errorf("await h == banished = %v, want true", v)
	}
}

func TestBanishPropagatesToDescendants(t *testing.T) {
	v := mustEval(t, `
		engrave leaf = nil
		ritual spin() { while true { } }
		ritual branch() {
			inscribe leaf = summon spin()
			await recall leaf
		}
		let b = summon branch()
		while recall leaf == nil { }
		banish b
		(await b == banished) and (await recall leaf == banished)
	`)
	if ok, _ := v.Boolean(); !ok {
		t.Errorf("branch and leaf banished = %v, want true", v)
	}
}

func TestCompletedSpiritIsNotBanished(t *testing.T) {
	_, err := evalSource(t, `
		ritual pretender() { banished }
		await summon pretender()
	`)
	if !isKind(err, SpiritFailed) || !errors.Is(err, TypeMismatch) {
		t.Fatalf("spirit completing with banished: error = %v, want SpiritFailed wrapping TypeMismatch", err)
	}

	v := mustEval(t, `
		ritual relay(h) { await h }
		ritual spin() { while true { } }
		let s = summon spin()
		banish s
		ward { await summon relay(s) } rescue e { "refused" }
	`)
	if got, _ := v.Text(); got != "refused" {
		t.Errorf("relayed banished outcome = %v, want the ward handler's value", v)
	}

	v = mustEval(t, `
		ritual five() { 5 }
		let h = summon five()
		await h == banished
	`)
	if b, ok := v.Boolean(); !ok || b {
		t.Errorf("completed spirit compared to banished = %v, want false", v)
	}
}

func TestBanishSelf(t *testing.T) {
	v := mustEval(t, `
		ritual quitter() { banish self; 5 }
		await summon quitter()
	`)
	if !v.IsBanished() {
		t.Errorf("spirit that banished itself = %v, want banished", v)
	}

	out := &syncBuffer{}
	v, err := evalWith(t, `say "before"; banish self; say "after"`, testConfig(out))
	if err != nil {
		t.Fatalf("root banish self error: %v", err)
	}
	if !v.IsBanished() {
		t.Errorf("root banish self = %v, want banished", v)
	}
	if out.String() != "before\n" {
		t.Errorf("output = %q, want only \"before\"", out.String())
	}
}

func TestAwaitFailedSpirit(t *testing.T) {
	_, err := evalSource(t, `
		ritual boom() { 1 / 0 }
		await summon boom()
	`)
	if !isKind(err, SpiritFailed) {
		t.Fatalf("error = %v, want SpiritFailed", err)
	}
	if !isKind(err, ArithmeticError) {
		t.Errorf("error = %v, want it to wrap ArithmeticError", err)
	}
	var e *Error
	if errors.As(err, &e) && e.Spirit == 0 {
		t.Errorf("SpiritFailed does not name the failed spirit")
	}
}

func TestUnawaitedFailureDoesNotFailRoot(t *testing.T) {
	v := mustEval(t, `
		ritual boom() { 1 / 0 }
		summon boom()
		"fine"
	`)
	if s, _ := v.Text(); s != "fine" {
		t.Errorf("root value = %v, want fine", v)
	}
}

func TestAwaitCycleIsFatal(t *testing.T) {
	tests := []string{
		`await self`,
		`ritual waiter(h) { await h }
		 let a = summon waiter(self)
		 await a`,
		`ritual waiter(h) { await h }
		 ritual pair() {
		     let inner = summon waiter(self)
		     await inner
		 }
		 await summon pair()`,
	}
	for _, src := range tests {
		_, err := evalSource(t, src)
		if !isKind(err, InternalSchedulerError) {
			t.Errorf("Evaluate(%q) error = %v, want InternalSchedulerError", src, err)
		}
		if !IsFatal(err) {
			t.Errorf("IsFatal(%v) = false", err)
		}
	}
}

func TestWardCannotCatchSchedulerError(t *testing.T) {
	_, err := evalSource(t, `ward { await self } rescue e { "swallowed" }`)
	if !isKind(err, InternalSchedulerError) {
		t.Errorf("error = %v, want InternalSchedulerError", err)
	}
}

func TestTransmuteConcurrentIncrements(t *testing.T) {
	v := mustEval(t, `
		engrave counter = 0
		ritual bump() {
			let i = 0
			while i < 1000 {
				transmute counter += 1
				i = i + 1
			}
		}
		let a = summon bump()
		let b = summon bump()
		await a
		await b
		recall counter
	`)
	wantInt(t, v, "2000")
}

func TestTransmuteWithRitual(t *testing.T) {
	v := mustEval(t, `
		engrave pot = 3
		transmute pot with ritual (v) { v * 2 }
		transmute pot -= 1
		transmute pot *= 10
		recall pot
	`)
	wantInt(t, v, "50")

	v = mustEval(t, `
		engrave words = "eye of"
		transmute words += " newt"
	`)
	if s, _ := v.Text(); s != "eye of newt" {
		t.Errorf("transmute text = %v", v)
	}
}

func TestTransmuteRitualMustBePure(t *testing.T) {
	ops := []string{"omen", "say 1", "recall k", "summon f()", "inscribe k = 1", "banish self"}
	for _, op := range ops {
		src := `engrave k = 0
			ritual f() { 1 }
			transmute k with ritual (v) { ` + op + `; v }`
		_, err := evalSource(t, src)
		if !isKind(err, ImpureTransform) {
			t.Errorf("transmute with %q error = %v, want ImpureTransform", op, err)
		}
	}

	v := mustEval(t, `
		engrave k = 0
		let tries = ward { transmute k with ritual (v) { omen } } rescue e { "impure" }
		tries
	`)
	if s, _ := v.Text(); s != "impure" {
		t.Errorf("ward over impure transmute = %v", v)
	}
}

func TestGrimoireErrorsInScripts(t *testing.T) {
	_, err := evalSource(t, `engrave k = 1; engrave k = 2`)
	if !isKind(err, AlreadyBound) {
		t.Errorf("double engrave error = %v, want AlreadyBound", err)
	}
	_, err = evalSource(t, `recall never`)
	if !isKind(err, UnboundSymbol) {
		t.Errorf("recall error = %v, want UnboundSymbol", err)
	}
	_, err = evalSource(t, `inscribe never = 1`)
	if !isKind(err, UnboundSymbol) {
		t.Errorf("inscribe error = %v, want UnboundSymbol", err)
	}
	_, err = evalSource(t, `transmute never += 1`)
	if !isKind(err, UnboundSymbol) {
		t.Errorf("transmute error = %v, want UnboundSymbol", err)
	}
}

func TestGrimoireSharedAcrossSpirits(t *testing.T) {
	v := mustEval(t, `
		engrave message = "unset"
		ritual writer() { inscribe message = "from beyond" }
		await summon writer()
		recall message
	`)
	if s, _ := v.Text(); s != "from beyond" {
		t.Errorf("message = %v, want from beyond", v)
	}
}

const omenProgram = `
	let s = ""
	let i = 0
	while i < 40 {
		if omen { s = s + "1" } else { s = s + "0" }
		i = i + 1
	}
	s
`

func TestOmenReproducibleForSeed(t *testing.T) {
	first := mustEval(t, omenProgram)
	second := mustEval(t, omenProgram)
	if !Equal(first, second) {
		t.Errorf("omen draws differ for the same seed: %v vs %v", first, second)
	}
	s, _ := first.Text()
	if !strings.Contains(s, "0") || !strings.Contains(s, "1") {
		t.Errorf("40 fair draws = %s, want both outcomes", s)
	}

	v := mustEval(t, `omen(1) and omen(1) and omen(1)`)
	if b, _ := v.Boolean(); !b {
		t.Errorf("omen(1) = %v, want always true", v)
	}
}

func TestOmenSeedReported(t *testing.T) {
	seed := uint64(99)
	cfg := testConfig(nil)
	cfg.Seed = &seed
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if s.Seed() != 99 {
		t.Errorf("Seed() = %d, want 99", s.Seed())
	}
}

func TestOrphansWait(t *testing.T) {
	s, err := NewSession(testConfig(nil))
	if err != nil {
		t.Fatal(err)
	}
	v, err := s.Eval(context.Background(), `
		engrave finished = false
		ritual late() {
			let i = 0
			while i < 500 { i = i + 1 }
			inscribe finished = true
		}
		summon late()
		"root done"
	`)
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if str, _ := v.Text(); str != "root done" {
		t.Errorf("value = %v, want root done", v)
	}
	got, err := s.Grimoire().Read(symbol.Intern("finished"))
	if err != nil || !Equal(got, True) {
		t.Errorf("finished = %v, %v; want true", got, err)
	}
}

func TestOrphansBanish(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Orphans = OrphansBanish
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	v, err := s.Eval(context.Background(), `
		ritual forever() { while true { } }
		summon forever()
		1
	`)
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	wantInt(t, v, "1")

	for _, info := range s.Registry().Spirits() {
		if info.Ritual == "forever" && info.State != StateBanished {
			t.Errorf("orphan state = %s, want banished", info.State)
		}
	}
}

func TestContextCancellationBanishesTree(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	s, err := NewSession(testConfig(nil))
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Eval(ctx, `
		ritual spin() { while true { } }
		summon spin()
		summon spin()
		while true { }
	`)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	for _, info := range s.Registry().Spirits() {
		if info.State != StateBanished {
			t.Errorf("spirit #%d state = %s, want banished", info.ID, info.State)
		}
	}
}

func TestSessionPersistsGlobals(t *testing.T) {
	s, err := NewSession(testConfig(nil))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := s.Eval(ctx, `let x = 41; engrave total = 1; ritual inc(n) { n + 1 }`); err != nil {
		t.Fatal(err)
	}
	v, err := s.Eval(ctx, `inc(x) + recall total`)
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, v, "43")
}

func TestSpiritIDsUnique(t *testing.T) {
	s, err := NewSession(testConfig(nil))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := s.Eval(ctx, `ritual r() { 1 } await summon r(); await summon r()`); err != nil {
			t.Fatal(err)
		}
	}
	infos := s.Registry().Spirits()
	if len(infos) != 9 {
		t.Fatalf("len(Spirits()) = %d, want 9", len(infos))
	}
	seen := make(map[SpiritID]bool)
	roots := 0
	for _, info := range infos {
		if info.ID == 0 || seen[info.ID] {
			t.Errorf("duplicate or zero id %d", info.ID)
		}
		seen[info.ID] = true
		if info.Parent == 0 {
			roots++
		}
	}
	if roots != 3 {
		t.Errorf("root spirits = %d, want 3", roots)
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Observe(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func TestObserverSeesLifecycle(t *testing.T) {
	log := &eventLog{}
	cfg := testConfig(nil)
	cfg.Observer = log
	if _, err := evalWith(t, `ritual r() { 7 } await summon r()`, cfg); err != nil {
		t.Fatal(err)
	}

	byRitual := make(map[string][]State)
	for _, e := range log.events {
		byRitual[e.Ritual] = append(byRitual[e.Ritual], e.State)
	}
	want := []State{Pending, Running, Completed}
	for _, name := range []string{"main", "r"} {
		got := byRitual[name]
		if len(got) != len(want) {
			t.Errorf("%s transitions = %v, want %v", name, got, want)
			continue
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s transitions = %v, want %v", name, got, want)
				break
			}
		}
	}
}

func TestSayLinesDoNotInterleave(t *testing.T) {
	out := &syncBuffer{}
	_, err := evalWith(t, `
		ritual chant(c) {
			let line = ""
			let i = 0
			while i < 50 { line = line + c; i = i + 1 }
			let j = 0
			while j < 20 { say line; j = j + 1 }
		}
		let a = summon chant("a")
		let b = summon chant("b")
		let c = summon chant("c")
		await a; await b; await c
	`, testConfig(out))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 60 {
		t.Fatalf("got %d lines, want 60", len(lines))
	}
	for _, l := range lines {
		if len(l) != 50 || strings.Count(l, l[:1]) != 50 {
			t.Errorf("interleaved line %q", l)
		}
	}
}

func TestSingleWorkerMakesProgress(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Workers = 1
	v, err := evalWith(t, `
		engrave flag = false
		ritual setter() { inscribe flag = true }
		ritual waiter() { while not recall flag { }; "seen" }
		let w = summon waiter()
		summon setter()
		await w
	`, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := v.Text(); s != "seen" {
		t.Errorf("value = %v, want seen", v)
	}
}

func TestUnknownOrphanPolicy(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Orphans = "linger"
	if _, err := NewSession(cfg); err == nil {
		t.Errorf("NewSession accepted orphan policy %q", cfg.Orphans)
	}
}
