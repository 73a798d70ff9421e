package vm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// SpiritID identifies a spirit. IDs start at 1 and are never reused within
// a process.
type SpiritID uint64

var nextSpiritID atomic.Uint64

// State is a spirit's lifecycle state.
type State int32

const (
	Pending State = iota
	Running
	Completed
	Failed
	StateBanished
)

var stateNames = [...]string{
	Pending:       "pending",
	Running:       "running",
	Completed:     "completed",
	Failed:        "failed",
	StateBanished: "banished",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Terminal reports whether s can no longer change.
func (s State) Terminal() bool { return s >= Completed }

// ---------------------------------------------------------------------------
// Spirit
// ---------------------------------------------------------------------------

// Spirit is one concurrently executing ritual evaluation.
type Spirit struct {
	id     SpiritID
	parent *Spirit
	ritual string
	run    *evaluation

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	state    State
	result   Value
	err      error
	children []*Spirit

	// awaiting is the spirit this one is blocked on, for cycle detection.
	awaiting atomic.Pointer[Spirit]
	awaited  atomic.Bool
}

func newSpirit(parent *Spirit, ritual string, run *evaluation, base context.Context) *Spirit {
	ctx, cancel := context.WithCancel(base)
	return &Spirit{
		id:     SpiritID(nextSpiritID.Add(1)),
		parent: parent,
		ritual: ritual,
		run:    run,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *Spirit) ID() SpiritID { return s.id }

// ParentID returns the parent's id, or 0 for a root spirit.
func (s *Spirit) ParentID() SpiritID {
	if s.parent == nil {
		return 0
	}
	return s.parent.id
}

// Ritual returns the name of the ritual the spirit runs.
func (s *Spirit) Ritual() string { return s.ritual }

// State returns the current lifecycle state.
func (s *Spirit) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome returns the terminal state with its value or error.
func (s *Spirit) Outcome() (State, Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.result, s.err
}

// Done is closed when the spirit reaches a terminal state.
func (s *Spirit) Done() <-chan struct{} { return s.done }

// adopt links child under s. A child summoned by an already banished
// parent is banished on the spot.
func (s *Spirit) adopt(child *Spirit) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateBanished {
		return false
	}
	s.children = append(s.children, child)
	return true
}

// start moves Pending to Running.
func (s *Spirit) start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Pending {
		return false
	}
	s.state = Running
	return true
}

// finish records the body's outcome unless the spirit is already terminal,
// in which case the outcome is discarded.
func (s *Spirit) finish(v Value, err error) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return s.state, false
	}
	if err != nil {
		s.state, s.err = Failed, err
	} else {
		s.state, s.result = Completed, v
	}
	close(s.done)
	return s.state, true
}

// markBanished moves a live spirit to Banished and returns its children.
// The children are returned even when s was already terminal.
func (s *Spirit) markBanished() (bool, []*Spirit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	if !s.state.Terminal() {
		s.state = StateBanished
		close(s.done)
		changed = true
	}
	kids := s.children
	s.children = nil
	return changed, kids
}
