// Package parser turns ritual source text into an abstract syntax tree.
//
// Parsing is all-or-nothing: Parse returns either a complete Program or the
// first syntax error, never a partial tree.
package parser

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/chazu/coven/symbol"
)

// ---------------------------------------------------------------------------
// Parser: recursive descent
// ---------------------------------------------------------------------------

// Parser parses ritual source into an AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token

	loops int // enclosing loop depth within the current ritual body
}

// bailout carries the first error up the recursive descent.
type bailout struct{ err *Error }

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	return &Parser{lexer: NewLexer(input)}
}

// Parse parses a complete source text.
func Parse(src string) (*Program, error) {
	return NewParser(src).ParseProgram()
}

// IsIncomplete reports whether err is a parse error caused by premature end of input.
func IsIncomplete(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Incomplete
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
	if p.curToken.Type == TokenIllegal {
		panic(bailout{&Error{Pos: p.curToken.Pos, Msg: p.curToken.Literal, Incomplete: p.lexer.atEOF && p.peekToken.Type == TokenEOF}})
	}
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) errorf(format string, args ...any) {
	panic(bailout{&Error{
		Pos:        p.curToken.Pos,
		Msg:        fmt.Sprintf(format, args...),
		Incomplete: p.curTokenIs(TokenEOF),
	}})
}

func (p *Parser) describe(tok Token) string {
	switch tok.Type {
	case TokenEOF:
		return "end of input"
	case TokenIdentifier, TokenInteger:
		return fmt.Sprintf("%s %q", tok.Type, tok.Literal)
	case TokenString:
		return "string literal"
	}
	return fmt.Sprintf("%q", tok.Type.String())
}

// expect consumes a token of type t or fails.
func (p *Parser) expect(t TokenType) Token {
	tok := p.curToken
	if tok.Type != t {
		p.errorf("expected %q, got %s", t.String(), p.describe(tok))
	}
	p.nextToken()
	return tok
}

func (p *Parser) expectIdent() (symbol.Symbol, Position) {
	tok := p.curToken
	if tok.Type != TokenIdentifier {
		if tok.Type.IsKeyword() {
			p.errorf("%q is a reserved word", tok.Literal)
		}
		p.errorf("expected identifier, got %s", p.describe(tok))
	}
	p.nextToken()
	return symbol.Intern(tok.Literal), tok.Pos
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseProgram parses statements until end of input.
func (p *Parser) ParseProgram() (prog *Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			prog, err = nil, b.err
		}
	}()

	// Fill curToken and peekToken
	p.nextToken()
	p.nextToken()

	prog = &Program{}
	for !p.curTokenIs(TokenEOF) {
		if p.curTokenIs(TokenSemicolon) {
			p.nextToken()
			continue
		}
		prog.Body = append(prog.Body, p.parseStatement())
	}
	return prog, nil
}

func (p *Parser) parseBlock() *Block {
	b := &Block{At: p.expect(TokenLBrace).Pos}
	for !p.curTokenIs(TokenRBrace) {
		if p.curTokenIs(TokenEOF) {
			p.errorf("expected \"}\" to close block opened at %d:%d", b.At.Line, b.At.Column)
		}
		if p.curTokenIs(TokenSemicolon) {
			p.nextToken()
			continue
		}
		b.Stmts = append(b.Stmts, p.parseStatement())
	}
	p.nextToken()
	return b
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) parseStatement() Stmt {
	tok := p.curToken
	switch tok.Type {
	case TokenRitual:
		if p.peekTokenIs(TokenIdentifier) {
			return p.parseRitualDecl()
		}
	case TokenLet:
		p.nextToken()
		name, _ := p.expectIdent()
		p.expect(TokenAssign)
		return &LetStmt{At: tok.Pos, Name: name, Value: p.parseExpr()}
	case TokenIdentifier:
		if p.peekTokenIs(TokenAssign) {
			name, _ := p.expectIdent()
			p.nextToken()
			return &AssignStmt{At: tok.Pos, Name: name, Value: p.parseExpr()}
		}
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		p.nextToken()
		cond := p.parseExpr()
		p.loops++
		body := p.parseBlock()
		p.loops--
		return &WhileStmt{At: tok.Pos, Cond: cond, Body: body}
	case TokenBreak:
		if p.loops == 0 {
			p.errorf("break outside of loop")
		}
		p.nextToken()
		return &BreakStmt{At: tok.Pos}
	case TokenContinue:
		if p.loops == 0 {
			p.errorf("continue outside of loop")
		}
		p.nextToken()
		return &ContinueStmt{At: tok.Pos}
	case TokenReturn:
		p.nextToken()
		if p.curTokenIs(TokenRBrace) || p.curTokenIs(TokenSemicolon) || p.curTokenIs(TokenEOF) {
			return &ReturnStmt{At: tok.Pos}
		}
		return &ReturnStmt{At: tok.Pos, Value: p.parseExpr()}
	case TokenSay:
		p.nextToken()
		return &SayStmt{At: tok.Pos, Value: p.parseExpr()}
	case TokenBanish:
		p.nextToken()
		return &BanishStmt{At: tok.Pos, Target: p.parseExpr()}
	case TokenEngrave:
		p.nextToken()
		key, _ := p.expectIdent()
		p.expect(TokenAssign)
		return &EngraveStmt{At: tok.Pos, Key: key, Value: p.parseExpr()}
	case TokenInscribe:
		p.nextToken()
		key, _ := p.expectIdent()
		p.expect(TokenAssign)
		return &InscribeStmt{At: tok.Pos, Key: key, Value: p.parseExpr()}
	case TokenTransmute:
		return p.parseTransmute()
	}
	return &ExprStmt{X: p.parseExpr()}
}

func (p *Parser) parseRitualDecl() *RitualDecl {
	at := p.expect(TokenRitual).Pos
	name, _ := p.expectIdent()
	params, body := p.parseRitualRest()
	return &RitualDecl{At: at, Name: name, Params: params, Body: body}
}

// parseRitualRest parses `(params) { body }`. Loops do not cross ritual bodies.
func (p *Parser) parseRitualRest() ([]symbol.Symbol, *Block) {
	p.expect(TokenLParen)
	var params []symbol.Symbol
	seen := make(map[symbol.Symbol]bool)
	for !p.curTokenIs(TokenRParen) {
		if len(params) > 0 {
			p.expect(TokenComma)
		}
		name, pos := p.expectIdent()
		if seen[name] {
			panic(bailout{&Error{Pos: pos, Msg: fmt.Sprintf("duplicate parameter %q", name.String())}})
		}
		seen[name] = true
		params = append(params, name)
	}
	p.nextToken()

	saved := p.loops
	p.loops = 0
	body := p.parseBlock()
	p.loops = saved
	return params, body
}

func (p *Parser) parseIf() *IfStmt {
	at := p.expect(TokenIf).Pos
	s := &IfStmt{At: at, Cond: p.parseExpr(), Then: p.parseBlock()}
	if p.curTokenIs(TokenElse) {
		p.nextToken()
		if p.curTokenIs(TokenIf) {
			nested := p.parseIf()
			s.Else = &Block{At: nested.At, Stmts: []Stmt{nested}}
		} else {
			s.Else = p.parseBlock()
		}
	}
	return s
}

func (p *Parser) parseTransmute() *TransmuteStmt {
	at := p.expect(TokenTransmute).Pos
	key, _ := p.expectIdent()
	op := p.curToken.Type
	switch op {
	case TokenWith, TokenPlusAssign, TokenMinusAssign, TokenStarAssign:
		p.nextToken()
	default:
		p.errorf("expected \"with\", \"+=\", \"-=\" or \"*=\" after transmute key, got %s", p.describe(p.curToken))
	}
	return &TransmuteStmt{At: at, Key: key, Op: op, Value: p.parseExpr()}
}

// ---------------------------------------------------------------------------
// Expressions: precedence climbing
// ---------------------------------------------------------------------------

var precedences = map[TokenType]int{
	TokenOr:        1,
	TokenAnd:       2,
	TokenEq:        3,
	TokenNotEq:     3,
	TokenLess:      4,
	TokenLessEq:    4,
	TokenGreater:   4,
	TokenGreaterEq: 4,
	TokenPlus:      5,
	TokenMinus:     5,
	TokenStar:      6,
	TokenSlash:     6,
	TokenPercent:   6,
}

func (p *Parser) parseExpr() Expr {
	return p.parseBinary(1)
}

func (p *Parser) parseBinary(minPrec int) Expr {
	left := p.parseUnary()
	for {
		op := p.curToken
		prec, ok := precedences[op.Type]
		if !ok || prec < minPrec {
			return left
		}
		p.nextToken()
		right := p.parseBinary(prec + 1)
		left = &BinaryExpr{At: op.Pos, Op: op.Type, X: left, Y: right}
	}
}

func (p *Parser) parseUnary() Expr {
	tok := p.curToken
	switch tok.Type {
	case TokenMinus, TokenNot:
		p.nextToken()
		return &UnaryExpr{At: tok.Pos, Op: tok.Type, X: p.parseUnary()}
	case TokenAwait:
		p.nextToken()
		return &AwaitExpr{At: tok.Pos, X: p.parseUnary()}
	case TokenSummon:
		p.nextToken()
		call, ok := p.parsePostfix().(*CallExpr)
		if !ok {
			panic(bailout{&Error{Pos: tok.Pos, Msg: "summon requires a ritual call", Incomplete: p.curTokenIs(TokenEOF)}})
		}
		return &SummonExpr{At: tok.Pos, Call: call}
	}
	return p.parsePostfix()
}

// parsePostfix parses call suffixes. A "(" that opens a new line starts a
// new statement rather than calling the expression before it.
func (p *Parser) parsePostfix() Expr {
	x := p.parsePrimary()
	for p.curTokenIs(TokenLParen) && !p.curToken.LineStart {
		at := p.curToken.Pos
		p.nextToken()
		var args []Expr
		for !p.curTokenIs(TokenRParen) {
			if len(args) > 0 {
				p.expect(TokenComma)
			}
			args = append(args, p.parseExpr())
		}
		p.nextToken()
		x = &CallExpr{At: at, Fn: x, Args: args}
	}
	return x
}

func (p *Parser) parsePrimary() Expr {
	tok := p.curToken
	switch tok.Type {
	case TokenInteger:
		p.nextToken()
		v, ok := new(big.Int).SetString(tok.Literal, 10)
		if !ok {
			panic(bailout{&Error{Pos: tok.Pos, Msg: fmt.Sprintf("malformed integer %q", tok.Literal)}})
		}
		return &IntLiteral{At: tok.Pos, Value: v}
	case TokenString:
		p.nextToken()
		return &StringLiteral{At: tok.Pos, Value: tok.Literal}
	case TokenTrue, TokenFalse:
		p.nextToken()
		return &BoolLiteral{At: tok.Pos, Value: tok.Type == TokenTrue}
	case TokenNil:
		p.nextToken()
		return &NilLiteral{At: tok.Pos}
	case TokenBanished:
		p.nextToken()
		return &BanishedLiteral{At: tok.Pos}
	case TokenSelf:
		p.nextToken()
		return &SelfExpr{At: tok.Pos}
	case TokenIdentifier:
		p.nextToken()
		return &Ident{At: tok.Pos, Name: symbol.Intern(tok.Literal)}
	case TokenLParen:
		p.nextToken()
		x := p.parseExpr()
		p.expect(TokenRParen)
		return x
	case TokenRitual:
		p.nextToken()
		params, body := p.parseRitualRest()
		return &RitualLiteral{At: tok.Pos, Params: params, Body: body}
	case TokenOmen:
		p.nextToken()
		o := &OmenExpr{At: tok.Pos}
		if p.curTokenIs(TokenLParen) {
			p.nextToken()
			o.Odds = p.parseExpr()
			p.expect(TokenRParen)
		}
		return o
	case TokenRecall:
		p.nextToken()
		key, _ := p.expectIdent()
		return &RecallExpr{At: tok.Pos, Key: key}
	case TokenWard:
		p.nextToken()
		w := &WardExpr{At: tok.Pos, Body: p.parseBlock()}
		p.expect(TokenRescue)
		w.Name, _ = p.expectIdent()
		w.Handler = p.parseBlock()
		return w
	}
	p.errorf("unexpected %s", p.describe(tok))
	return nil
}
