package parser

import "fmt"

// Error is a ParseError: the first syntax error found in a source text.
type Error struct {
	Pos Position
	Msg string

	// Incomplete is set when the error was caused by input ending early,
	// so more text could make the source valid.
	Incomplete bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}
