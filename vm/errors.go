package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/coven/parser"
	"github.com/chazu/coven/symbol"
)

// ErrorKind classifies evaluation errors. Each kind is itself an error so
// callers can test with errors.Is(err, vm.ArithmeticError).
type ErrorKind int

const (
	UnboundSymbol ErrorKind = iota + 1
	AlreadyBound
	ArithmeticError
	TypeMismatch
	SpiritFailed
	InternalSchedulerError
	ImpureTransform
	DepthExceeded
)

var errorKindNames = map[ErrorKind]string{
	UnboundSymbol:          "UnboundSymbol",
	AlreadyBound:           "AlreadyBound",
	ArithmeticError:        "ArithmeticError",
	TypeMismatch:           "TypeMismatch",
	SpiritFailed:           "SpiritFailed",
	InternalSchedulerError: "InternalSchedulerError",
	ImpureTransform:        "ImpureTransform",
	DepthExceeded:          "DepthExceeded",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

func (k ErrorKind) Error() string { return k.String() }

// Error is an evaluation error raised inside a spirit.
type Error struct {
	Kind ErrorKind
	Pos  parser.Position // zero when unknown

	Symbol   symbol.Symbol // UnboundSymbol, AlreadyBound
	Expected string        // TypeMismatch
	Actual   string        // TypeMismatch
	Reason   string        // ArithmeticError, InternalSchedulerError, ImpureTransform, DepthExceeded
	Spirit   SpiritID      // SpiritFailed: the spirit that failed
	Cause    error         // SpiritFailed
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	switch e.Kind {
	case UnboundSymbol:
		fmt.Fprintf(&sb, ": %q is not bound", e.Symbol.String())
	case AlreadyBound:
		fmt.Fprintf(&sb, ": %q is already bound", e.Symbol.String())
	case TypeMismatch:
		fmt.Fprintf(&sb, ": expected %s, got %s", e.Expected, e.Actual)
	case SpiritFailed:
		fmt.Fprintf(&sb, ": spirit #%d: %v", e.Spirit, e.Cause)
	default:
		if e.Reason != "" {
			sb.WriteString(": ")
			sb.WriteString(e.Reason)
		}
	}
	if e.Pos.Line > 0 && e.Kind != SpiritFailed {
		fmt.Fprintf(&sb, " (at %d:%d)", e.Pos.Line, e.Pos.Column)
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches an ErrorKind target against this error's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

// IsFatal reports whether err must abort the whole evaluation.
func IsFatal(err error) bool {
	return errors.Is(err, InternalSchedulerError)
}

func unbound(sym symbol.Symbol) *Error {
	return &Error{Kind: UnboundSymbol, Symbol: sym}
}

func alreadyBound(sym symbol.Symbol) *Error {
	return &Error{Kind: AlreadyBound, Symbol: sym}
}

func mismatch(expected string, actual Value) *Error {
	return &Error{Kind: TypeMismatch, Expected: expected, Actual: actual.Kind().String()}
}

func internalError(format string, args ...any) *Error {
	return &Error{Kind: InternalSchedulerError, Reason: fmt.Sprintf(format, args...)}
}

// at attaches pos to err when it is an *Error without a position.
func at(pos parser.Position, err error) error {
	var e *Error
	if errors.As(err, &e) && e.Pos.Line == 0 && e.Kind != SpiritFailed {
		e.Pos = pos
	}
	return err
}

// Control flow travels up the Go call stack as sentinel errors. These are
// never *Error, so ward cannot intercept them.
var (
	errBreak    = errors.New("break")
	errContinue = errors.New("continue")
	errBanished = errors.New("spirit banished")
)

type returnSignal struct{ value Value }

func (*returnSignal) Error() string { return "return" }
