package parser

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------------

// Lexer tokenizes ritual source text.
type Lexer struct {
	input     string
	pos       int  // offset of ch
	readPos   int  // offset after ch
	ch        rune // current character, 0 at EOF
	line      int
	lineStart int

	// atEOF is set when an illegal token was produced because input ran out.
	atEOF bool
	// started is set once the first token has been produced.
	started bool
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.lineStart = l.readPos
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = len(l.input)
		l.readPos = len(l.input) + 1
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
}

func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: utf8.RuneCountInString(l.input[l.lineStart:min(l.pos, len(l.input))]) + 1,
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	line := l.line
	l.skipWhitespaceAndComments()
	tok := l.scan(l.position())
	tok.LineStart = l.started && tok.Pos.Line > line
	l.started = true
	return tok
}

func (l *Lexer) scan(pos Position) Token {

	switch {
	case l.ch == 0 && l.pos >= len(l.input):
		return Token{Type: TokenEOF, Pos: pos}
	case l.ch == '"':
		return l.readString(pos)
	case isDigit(l.ch):
		return l.readNumber(pos)
	case isLetter(l.ch):
		return l.readIdentifier(pos)
	}

	ch := l.ch
	l.readChar()
	single := func(t TokenType) Token {
		return Token{Type: t, Literal: string(ch), Pos: pos}
	}
	withEq := func(plain, eq TokenType) Token {
		if l.ch == '=' {
			l.readChar()
			return Token{Type: eq, Literal: string(ch) + "=", Pos: pos}
		}
		return single(plain)
	}

	switch ch {
	case '(':
		return single(TokenLParen)
	case ')':
		return single(TokenRParen)
	case '{':
		return single(TokenLBrace)
	case '}':
		return single(TokenRBrace)
	case ',':
		return single(TokenComma)
	case ';':
		return single(TokenSemicolon)
	case '/':
		return single(TokenSlash)
	case '%':
		return single(TokenPercent)
	case '+':
		return withEq(TokenPlus, TokenPlusAssign)
	case '-':
		return withEq(TokenMinus, TokenMinusAssign)
	case '*':
		return withEq(TokenStar, TokenStarAssign)
	case '=':
		return withEq(TokenAssign, TokenEq)
	case '<':
		return withEq(TokenLess, TokenLessEq)
	case '>':
		return withEq(TokenGreater, TokenGreaterEq)
	case '!':
		if l.ch == '=' {
			l.readChar()
			return Token{Type: TokenNotEq, Literal: "!=", Pos: pos}
		}
	}
	return Token{Type: TokenIllegal, Literal: fmt.Sprintf("unexpected character %q", ch), Pos: pos}
}

// skipWhitespaceAndComments skips whitespace and # line comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
		}
		if l.ch == '#' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}
		return
	}
}

func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	for isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	lit := l.input[start:l.pos]
	if strings.HasSuffix(lit, "_") || strings.Contains(lit, "__") {
		return Token{Type: TokenIllegal, Literal: fmt.Sprintf("malformed integer %q", lit), Pos: pos}
	}
	if isLetter(l.ch) {
		return Token{Type: TokenIllegal, Literal: fmt.Sprintf("malformed integer %q", lit+string(l.ch)), Pos: pos}
	}
	return Token{Type: TokenInteger, Literal: strings.ReplaceAll(lit, "_", ""), Pos: pos}
}

func (l *Lexer) readIdentifier(pos Position) Token {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	lit := l.input[start:l.pos]
	return Token{Type: LookupIdent(lit), Literal: lit, Pos: pos}
}

// readString reads a double-quoted string. The literal holds the decoded text.
func (l *Lexer) readString(pos Position) Token {
	l.readChar() // opening quote
	var sb strings.Builder
	for {
		switch l.ch {
		case 0:
			if l.pos >= len(l.input) {
				l.atEOF = true
				return Token{Type: TokenIllegal, Literal: "unterminated string", Pos: pos}
			}
			sb.WriteRune(0)
		case '"':
			l.readChar()
			return Token{Type: TokenString, Literal: sb.String(), Pos: pos}
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '0':
				sb.WriteByte(0)
			case '"', '\\':
				sb.WriteRune(l.ch)
			case 0:
				l.atEOF = true
				return Token{Type: TokenIllegal, Literal: "unterminated string", Pos: pos}
			default:
				return Token{Type: TokenIllegal, Literal: fmt.Sprintf("unknown escape \\%c", l.ch), Pos: l.position()}
			}
		default:
			sb.WriteRune(l.ch)
		}
		l.readChar()
	}
}

func isLetter(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch)
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}
