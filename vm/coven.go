package vm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/semaphore"

	"github.com/chazu/coven/parser"
	"github.com/chazu/coven/symbol"
)

var log = commonlog.GetLogger("coven.vm")

// ---------------------------------------------------------------------------
// Coven: scheduler and shared state
// ---------------------------------------------------------------------------

// Coven owns the state every spirit of a session shares and multiplexes
// spirits over a fixed number of worker slots.
type Coven struct {
	cfg      Config
	grimoire *Grimoire
	registry *Registry
	globals  *Environment
	slots    *semaphore.Weighted
	omen     *omen

	outMu sync.Mutex
}

// evaluation is one run of a program: its root spirit and everything the
// root summons, directly or not.
type evaluation struct {
	root *Spirit
	wg   sync.WaitGroup

	fatalOnce sync.Once
	fatal     error
}

// Session evaluates programs one after another against a persistent global
// scope, Grimoire and Registry. A REPL keeps one Session for its lifetime.
type Session struct {
	mu    sync.Mutex
	coven *Coven
}

// NewSession creates a session from cfg.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	var seed uint64
	if cfg.Seed != nil {
		seed = *cfg.Seed
	} else {
		seed = rand.Uint64()
	}
	c := &Coven{
		cfg:      cfg,
		grimoire: NewGrimoire(cfg.Shards),
		registry: NewRegistry(cfg.Shards),
		globals:  NewEnvironment(nil),
		slots:    semaphore.NewWeighted(int64(cfg.Workers)),
		omen:     newOmen(seed),
	}
	c.installNatives()
	log.Infof("session: %d workers, %d shards, omen seed %d", cfg.Workers, cfg.Shards, seed)
	return &Session{coven: c}, nil
}

// Evaluate parses src and evaluates it in a fresh session. It returns the
// root ritual's value, or the first error that ended the evaluation.
func Evaluate(ctx context.Context, src string, cfg Config) (Value, error) {
	s, err := NewSession(cfg)
	if err != nil {
		return Nil, err
	}
	return s.Eval(ctx, src)
}

// Seed returns the omen seed in use.
func (s *Session) Seed() uint64 { return s.coven.omen.seed }

// Grimoire returns the session's shared store.
func (s *Session) Grimoire() *Grimoire { return s.coven.grimoire }

// Registry returns the session's spirit table.
func (s *Session) Registry() *Registry { return s.coven.registry }

// Globals returns the top-level scope.
func (s *Session) Globals() *Environment { return s.coven.globals }

// Eval parses and runs src. A parse error aborts before any evaluation.
func (s *Session) Eval(ctx context.Context, src string) (Value, error) {
	prog, err := parser.Parse(src)
	if err != nil {
		return Nil, err
	}
	return s.Run(ctx, prog)
}

// Run evaluates prog as a new root spirit. Cancelling ctx banishes the
// whole spawn tree and Run returns ctx.Err().
func (s *Session) Run(ctx context.Context, prog *parser.Program) (Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Nil, err
	}
	c := s.coven
	ev := &evaluation{}
	root := newSpirit(nil, "main", ev, context.Background())
	ev.root = root
	c.registry.Register(root)
	c.emit(root, Pending, "")

	stop := context.AfterFunc(ctx, func() {
		log.Infof("evaluation cancelled: %v", context.Cause(ctx))
		c.banish(root)
	})
	defer stop()

	c.execute(root, func(e *evaluator) (Value, error) {
		return e.runProgram(prog)
	})

	if c.cfg.Orphans == OrphansBanish {
		c.banish(root)
	}
	ev.wg.Wait()
	root.cancel()
	c.reportUnobserved(ev)

	if ev.fatal != nil {
		return Nil, ev.fatal
	}
	state, v, err := root.Outcome()
	switch state {
	case Completed:
		return v, nil
	case Failed:
		return Nil, err
	case StateBanished:
		if ctx.Err() != nil {
			return Nil, ctx.Err()
		}
		return Banished, nil
	}
	return Nil, internalError("root spirit ended in state %s", state)
}

// execute runs body as spirit s on the calling goroutine.
func (c *Coven) execute(s *Spirit, body func(*evaluator) (Value, error)) {
	e := &evaluator{coven: c, spirit: s}
	defer func() {
		if p := recover(); p != nil {
			e.release()
			c.settle(s, Nil, internalError("spirit #%d panicked: %v", s.id, p))
		}
	}()

	if !e.acquire() {
		c.settle(s, Nil, errBanished)
		return
	}
	if !s.start() {
		e.release()
		c.settle(s, Nil, errBanished)
		return
	}
	c.emit(s, Running, "")
	log.Debugf("spirit #%d (%s) running", s.id, s.ritual)

	v, err := body(e)
	e.release()
	c.settle(s, v, err)
}

// settle records a spirit's outcome.
func (c *Coven) settle(s *Spirit, v Value, err error) {
	if errors.Is(err, errBanished) {
		c.banish(s)
		return
	}
	state, ok := s.finish(v, err)
	if !ok {
		log.Debugf("spirit #%d already %s; outcome discarded", s.id, state)
		return
	}
	if state == Failed {
		log.Debugf("spirit #%d (%s) failed: %v", s.id, s.ritual, err)
		c.emit(s, Failed, err.Error())
		if IsFatal(err) {
			c.abort(s.run, err)
		}
		return
	}
	log.Debugf("spirit #%d (%s) completed: %s", s.id, s.ritual, v.Inspect())
	c.emit(s, Completed, v.Inspect())
}

// abort ends an evaluation after a fatal error by banishing every spirit.
func (c *Coven) abort(ev *evaluation, err error) {
	ev.fatalOnce.Do(func() {
		ev.fatal = err
		log.Errorf("%v; banishing all spirits", err)
		c.banish(ev.root)
	})
}

// summon registers a spirit running r(args) under parent and starts it.
func (c *Coven) summon(parent *Spirit, r *Ritual, args []Value, pos parser.Position) *Spirit {
	child := newSpirit(parent, r.DisplayName(), parent.run, parent.ctx)
	c.registry.Register(child)
	c.emit(child, Pending, "")
	log.Debugf("spirit #%d summons #%d (%s)", parent.id, child.id, child.ritual)

	if !parent.adopt(child) {
		c.banish(child)
		return child
	}

	run := parent.run
	run.wg.Add(1)
	go func() {
		defer run.wg.Done()
		c.execute(child, func(e *evaluator) (Value, error) {
			v, err := e.callRitual(r, args, pos)
			if err == nil && v.IsBanished() {
				// Only banish can leave a spirit Banished.
				return Nil, &Error{Kind: TypeMismatch, Expected: "a completion value", Actual: v.Kind().String(), Pos: pos}
			}
			return v, err
		})
	}()
	return child
}

// banish marks s and all its descendants Banished and cancels them.
// Spirits already terminal keep their state, but their descendants are
// still banished.
func (c *Coven) banish(s *Spirit) {
	stack := []*Spirit{s}
	for len(stack) > 0 {
		sp := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		changed, kids := sp.markBanished()
		sp.cancel()
		if changed {
			log.Debugf("spirit #%d (%s) banished", sp.id, sp.ritual)
			c.emit(sp, StateBanished, "")
		}
		stack = append(stack, kids...)
	}
}

func (c *Coven) lookupSpirit(v Value) (*Spirit, error) {
	id, ok := v.Spirit()
	if !ok {
		return nil, mismatch("SpiritHandle", v)
	}
	sp, ok := c.registry.Get(id)
	if !ok {
		return nil, internalError("spirit #%d is not registered", id)
	}
	return sp, nil
}

// reportUnobserved warns about failed spirits of ev nobody awaited.
func (c *Coven) reportUnobserved(ev *evaluation) {
	for _, info := range c.registry.Spirits() {
		if info.State != Failed {
			continue
		}
		sp, ok := c.registry.Get(info.ID)
		if !ok || sp.run != ev || sp == ev.root || sp.awaited.Load() {
			continue
		}
		_, _, err := sp.Outcome()
		log.Warningf("spirit #%d (%s) failed and was never awaited: %v", sp.id, sp.ritual, err)
	}
}

func (c *Coven) say(v Value) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintln(c.cfg.Output, v.String())
	return err
}

// ---------------------------------------------------------------------------
// Await
// ---------------------------------------------------------------------------

// await blocks until target is terminal, releasing the worker slot while
// it waits.
func (e *evaluator) await(target *Spirit) (Value, error) {
	self := e.spirit
	target.awaited.Store(true)
	if target == self {
		return Nil, internalError("spirit #%d awaits itself", self.id)
	}

	select {
	case <-target.done:
		return outcome(target)
	default:
	}

	self.awaiting.Store(target)
	defer self.awaiting.Store(nil)
	if chain := waitCycle(self, target); chain != nil {
		return Nil, internalError("await cycle %s", chain)
	}

	e.release()
	select {
	case <-target.done:
	case <-self.ctx.Done():
		return Nil, errBanished
	}
	if !e.acquire() {
		return Nil, errBanished
	}
	return outcome(target)
}

type spiritChain []SpiritID

func (ch spiritChain) String() string {
	parts := make([]string, len(ch))
	for i, id := range ch {
		parts[i] = fmt.Sprintf("#%d", id)
	}
	return strings.Join(parts, " -> ")
}

// waitCycle follows the awaiting links from target and returns the chain
// if it leads back to self.
func waitCycle(self, target *Spirit) spiritChain {
	chain := spiritChain{self.id}
	seen := make(map[*Spirit]bool)
	for s := target; s != nil && !seen[s]; s = s.awaiting.Load() {
		select {
		case <-s.done:
			return nil
		default:
		}
		chain = append(chain, s.id)
		if s == self {
			return chain
		}
		seen[s] = true
	}
	return nil
}

func outcome(target *Spirit) (Value, error) {
	state, v, err := target.Outcome()
	switch state {
	case Completed:
		return v, nil
	case Failed:
		return Nil, &Error{Kind: SpiritFailed, Spirit: target.id, Cause: err}
	case StateBanished:
		return Banished, nil
	}
	return Nil, internalError("spirit #%d woke an awaiter while %s", target.id, state)
}

// ---------------------------------------------------------------------------
// Natives
// ---------------------------------------------------------------------------

// Native describes a built-in ritual bound in every session's top-level scope.
type Native struct {
	Name  string
	Arity int
	Doc   string
	fn    nativeFunc
}

var natives = []Native{
	{Name: "text", Arity: 1, Doc: "Renders any value as Text.", fn: func(_ *evaluator, args []Value) (Value, error) {
		return Text(args[0].String()), nil
	}},
	{Name: "len", Arity: 1, Doc: "Counts the characters of a Text value.", fn: func(_ *evaluator, args []Value) (Value, error) {
		s, ok := args[0].Text()
		if !ok {
			return Nil, mismatch("Text", args[0])
		}
		return Int64(int64(len([]rune(s)))), nil
	}},
	{Name: "spirits", Arity: 0, Doc: "Counts the spirits registered so far in this session.", fn: func(e *evaluator, _ []Value) (Value, error) {
		return Int64(int64(e.coven.registry.Len())), nil
	}},
}

// Natives lists the built-in rituals.
func Natives() []Native {
	out := make([]Native, len(natives))
	copy(out, natives)
	return out
}

func (c *Coven) installNatives() {
	for _, n := range natives {
		sym := symbol.Intern(n.Name)
		c.globals.Define(sym, RitualValue(&Ritual{Name: sym, native: n.fn, arity: n.Arity}))
	}
}
