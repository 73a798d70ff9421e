package parser

import (
	"math/big"

	"github.com/chazu/coven/symbol"
)

// ---------------------------------------------------------------------------
// AST
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number, in runes
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Pos() Position
}

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt()
}

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr()
}

// Program is a parsed source file.
type Program struct {
	Body []Stmt
}

// Block is a braced statement sequence.
type Block struct {
	At    Position
	Stmts []Stmt
}

func (n *Block) Pos() Position { return n.At }

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// RitualDecl is `ritual name(params) { body }`.
type RitualDecl struct {
	At     Position
	Name   symbol.Symbol
	Params []symbol.Symbol
	Body   *Block
}

// LetStmt is `let name = value`.
type LetStmt struct {
	At    Position
	Name  symbol.Symbol
	Value Expr
}

// AssignStmt is `name = value`.
type AssignStmt struct {
	At    Position
	Name  symbol.Symbol
	Value Expr
}

// IfStmt is `if cond { } else { }`. An `else if` chain nests as a one-statement Else block.
type IfStmt struct {
	At   Position
	Cond Expr
	Then *Block
	Else *Block
}

// WhileStmt is `while cond { }`.
type WhileStmt struct {
	At   Position
	Cond Expr
	Body *Block
}

type BreakStmt struct{ At Position }

type ContinueStmt struct{ At Position }

// ReturnStmt is `return [value]`.
type ReturnStmt struct {
	At    Position
	Value Expr // nil for a bare return
}

// SayStmt is `say value`.
type SayStmt struct {
	At    Position
	Value Expr
}

// BanishStmt is `banish target`.
type BanishStmt struct {
	At     Position
	Target Expr
}

// EngraveStmt declares a Grimoire key.
type EngraveStmt struct {
	At    Position
	Key   symbol.Symbol
	Value Expr
}

// InscribeStmt overwrites an existing Grimoire key.
type InscribeStmt struct {
	At    Position
	Key   symbol.Symbol
	Value Expr
}

// TransmuteStmt atomically updates a Grimoire key. Op is TokenWith when
// Value is a transformation ritual, otherwise one of the compound assignments.
type TransmuteStmt struct {
	At    Position
	Key   symbol.Symbol
	Op    TokenType
	Value Expr
}

// ExprStmt is an expression evaluated for its value.
type ExprStmt struct {
	X Expr
}

func (n *RitualDecl) Pos() Position    { return n.At }
func (n *LetStmt) Pos() Position       { return n.At }
func (n *AssignStmt) Pos() Position    { return n.At }
func (n *IfStmt) Pos() Position        { return n.At }
func (n *WhileStmt) Pos() Position     { return n.At }
func (n *BreakStmt) Pos() Position     { return n.At }
func (n *ContinueStmt) Pos() Position  { return n.At }
func (n *ReturnStmt) Pos() Position    { return n.At }
func (n *SayStmt) Pos() Position       { return n.At }
func (n *BanishStmt) Pos() Position    { return n.At }
func (n *EngraveStmt) Pos() Position   { return n.At }
func (n *InscribeStmt) Pos() Position  { return n.At }
func (n *TransmuteStmt) Pos() Position { return n.At }
func (n *ExprStmt) Pos() Position      { return n.X.Pos() }

func (*RitualDecl) stmt()    {}
func (*LetStmt) stmt()       {}
func (*AssignStmt) stmt()    {}
func (*IfStmt) stmt()        {}
func (*WhileStmt) stmt()     {}
func (*BreakStmt) stmt()     {}
func (*ContinueStmt) stmt()  {}
func (*ReturnStmt) stmt()    {}
func (*SayStmt) stmt()       {}
func (*BanishStmt) stmt()    {}
func (*EngraveStmt) stmt()   {}
func (*InscribeStmt) stmt()  {}
func (*TransmuteStmt) stmt() {}
func (*ExprStmt) stmt()      {}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// IntLiteral is an arbitrary-precision integer literal.
type IntLiteral struct {
	At    Position
	Value *big.Int
}

// StringLiteral holds decoded text.
type StringLiteral struct {
	At    Position
	Value string
}

type BoolLiteral struct {
	At    Position
	Value bool
}

type NilLiteral struct{ At Position }

type BanishedLiteral struct{ At Position }

// SelfExpr evaluates to the current spirit's handle.
type SelfExpr struct{ At Position }

// Ident is a variable reference.
type Ident struct {
	At   Position
	Name symbol.Symbol
}

// RitualLiteral is an anonymous ritual.
type RitualLiteral struct {
	At     Position
	Params []symbol.Symbol
	Body   *Block
}

// OmenExpr is `omen` or `omen(odds)`.
type OmenExpr struct {
	At   Position
	Odds Expr // nil for a fair coin
}

// RecallExpr reads a Grimoire key.
type RecallExpr struct {
	At  Position
	Key symbol.Symbol
}

// WardExpr is `ward { body } rescue name { handler }`.
type WardExpr struct {
	At      Position
	Body    *Block
	Name    symbol.Symbol
	Handler *Block
}

// UnaryExpr is `-x` or `not x`.
type UnaryExpr struct {
	At Position
	Op TokenType
	X  Expr
}

// BinaryExpr covers arithmetic, comparison and the short-circuit operators.
type BinaryExpr struct {
	At Position
	Op TokenType
	X  Expr
	Y  Expr
}

// CallExpr is `fn(args)`.
type CallExpr struct {
	At   Position
	Fn   Expr
	Args []Expr
}

// SummonExpr spawns Call as a new spirit.
type SummonExpr struct {
	At   Position
	Call *CallExpr
}

// AwaitExpr blocks until the spirit X refers to is terminal.
type AwaitExpr struct {
	At Position
	X  Expr
}

func (n *IntLiteral) Pos() Position      { return n.At }
func (n *StringLiteral) Pos() Position   { return n.At }
func (n *BoolLiteral) Pos() Position     { return n.At }
func (n *NilLiteral) Pos() Position      { return n.At }
func (n *BanishedLiteral) Pos() Position { return n.At }
func (n *SelfExpr) Pos() Position        { return n.At }
func (n *Ident) Pos() Position           { return n.At }
func (n *RitualLiteral) Pos() Position   { return n.At }
func (n *OmenExpr) Pos() Position        { return n.At }
func (n *RecallExpr) Pos() Position      { return n.At }
func (n *WardExpr) Pos() Position        { return n.At }
func (n *UnaryExpr) Pos() Position       { return n.At }
func (n *BinaryExpr) Pos() Position      { return n.At }
func (n *CallExpr) Pos() Position        { return n.At }
func (n *SummonExpr) Pos() Position      { return n.At }
func (n *AwaitExpr) Pos() Position       { return n.At }

func (*IntLiteral) expr()      {}
func (*StringLiteral) expr()   {}
func (*BoolLiteral) expr()     {}
func (*NilLiteral) expr()      {}
func (*BanishedLiteral) expr() {}
func (*SelfExpr) expr()        {}
func (*Ident) expr()           {}
func (*RitualLiteral) expr()   {}
func (*OmenExpr) expr()        {}
func (*RecallExpr) expr()      {}
func (*WardExpr) expr()        {}
func (*UnaryExpr) expr()       {}
func (*BinaryExpr) expr()      {}
func (*CallExpr) expr()        {}
func (*SummonExpr) expr()      {}
func (*AwaitExpr) expr()       {}
