package vm

import (
	"math/big"
	"math/rand/v2"
	"sync"
)

// omen is the evaluation's single seeded generator. Draws are serialized,
// so a fixed seed reproduces the sequence of draws.
type omen struct {
	mu   sync.Mutex
	rng  *rand.Rand
	seed uint64
}

func newOmen(seed uint64) *omen {
	return &omen{
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		seed: seed,
	}
}

// draw returns true with probability 1/odds, or 1/2 when odds is nil.
func (o *omen) draw(odds *big.Int) (bool, error) {
	if odds != nil && odds.Sign() <= 0 {
		return false, &Error{Kind: ArithmeticError, Reason: "omen odds must be at least 1"}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case odds == nil:
		return o.rng.Uint64()&1 == 0, nil
	case odds.IsUint64():
		return o.rng.Uint64N(odds.Uint64()) == 0, nil
	default:
		// Odds beyond 2^64 round down to never; the draw is still consumed.
		o.rng.Uint64()
		return false, nil
	}
}
