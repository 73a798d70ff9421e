package vm

import "math/big"

// Integer arithmetic on immutable *big.Int operands. Every result is a
// fresh allocation.

func intAdd(x, y *big.Int) *big.Int { return new(big.Int).Add(x, y) }

func intSub(x, y *big.Int) *big.Int { return new(big.Int).Sub(x, y) }

func intMul(x, y *big.Int) *big.Int { return new(big.Int).Mul(x, y) }

func intNeg(x *big.Int) *big.Int { return new(big.Int).Neg(x) }

// intDivMod returns the floor quotient and the remainder, whose sign
// follows the divisor.
func intDivMod(x, y *big.Int) (q, r *big.Int, err error) {
	if y.Sign() == 0 {
		return nil, nil, &Error{Kind: ArithmeticError, Reason: "division by zero"}
	}
	q, r = new(big.Int).QuoRem(x, y, new(big.Int))
	if r.Sign() != 0 && r.Sign() != y.Sign() {
		q.Sub(q, big.NewInt(1))
		r.Add(r, y)
	}
	return q, r, nil
}

func intDiv(x, y *big.Int) (*big.Int, error) {
	q, _, err := intDivMod(x, y)
	return q, err
}

func intMod(x, y *big.Int) (*big.Int, error) {
	_, r, err := intDivMod(x, y)
	return r, err
}
