package parser

import "fmt"

// ---------------------------------------------------------------------------
// Token types
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenIllegal

	// Literals
	TokenInteger    // 42, 1_000_000
	TokenString     // "hello"
	TokenIdentifier // candle, fib

	// Operators
	TokenPlus        // +
	TokenMinus       // -
	TokenStar        // *
	TokenSlash       // /
	TokenPercent     // %
	TokenEq          // ==
	TokenNotEq       // !=
	TokenLess        // <
	TokenLessEq      // <=
	TokenGreater     // >
	TokenGreaterEq   // >=
	TokenAssign      // =
	TokenPlusAssign  // +=
	TokenMinusAssign // -=
	TokenStarAssign  // *=

	// Delimiters
	TokenLParen    // (
	TokenRParen    // )
	TokenLBrace    // {
	TokenRBrace    // }
	TokenComma     // ,
	TokenSemicolon // ;

	// Keywords
	keywordStart
	TokenRitual
	TokenLet
	TokenIf
	TokenElse
	TokenWhile
	TokenBreak
	TokenContinue
	TokenReturn
	TokenSay
	TokenSummon
	TokenAwait
	TokenBanish
	TokenOmen
	TokenEngrave
	TokenRecall
	TokenInscribe
	TokenTransmute
	TokenWith
	TokenWard
	TokenRescue
	TokenAnd
	TokenOr
	TokenNot
	TokenSelf
	TokenTrue
	TokenFalse
	TokenNil
	TokenBanished
	keywordEnd
)

var tokenNames = map[TokenType]string{
	TokenEOF:         "EOF",
	TokenIllegal:     "ILLEGAL",
	TokenInteger:     "INTEGER",
	TokenString:      "STRING",
	TokenIdentifier:  "IDENTIFIER",
	TokenPlus:        "+",
	TokenMinus:       "-",
	TokenStar:        "*",
	TokenSlash:       "/",
	TokenPercent:     "%",
	TokenEq:          "==",
	TokenNotEq:       "!=",
	TokenLess:        "<",
	TokenLessEq:      "<=",
	TokenGreater:     ">",
	TokenGreaterEq:   ">=",
	TokenAssign:      "=",
	TokenPlusAssign:  "+=",
	TokenMinusAssign: "-=",
	TokenStarAssign:  "*=",
	TokenLParen:      "(",
	TokenRParen:      ")",
	TokenLBrace:      "{",
	TokenRBrace:      "}",
	TokenComma:       ",",
	TokenSemicolon:   ";",
	TokenRitual:      "ritual",
	TokenLet:         "let",
	TokenIf:          "if",
	TokenElse:        "else",
	TokenWhile:       "while",
	TokenBreak:       "break",
	TokenContinue:    "continue",
	TokenReturn:      "return",
	TokenSay:         "say",
	TokenSummon:      "summon",
	TokenAwait:       "await",
	TokenBanish:      "banish",
	TokenOmen:        "omen",
	TokenEngrave:     "engrave",
	TokenRecall:      "recall",
	TokenInscribe:    "inscribe",
	TokenTransmute:   "transmute",
	TokenWith:        "with",
	TokenWard:        "ward",
	TokenRescue:      "rescue",
	TokenAnd:         "and",
	TokenOr:          "or",
	TokenNot:         "not",
	TokenSelf:        "self",
	TokenTrue:        "true",
	TokenFalse:       "false",
	TokenNil:         "nil",
	TokenBanished:    "banished",
}

// String returns the name of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", t)
}

// IsKeyword reports whether t is a reserved word.
func (t TokenType) IsKeyword() bool {
	return t > keywordStart && t < keywordEnd
}

var keywords map[string]TokenType

func init() {
	keywords = make(map[string]TokenType)
	for t := keywordStart + 1; t < keywordEnd; t++ {
		keywords[tokenNames[t]] = t
	}
}

// LookupIdent returns the keyword token type for ident, or TokenIdentifier.
func LookupIdent(ident string) TokenType {
	if t, ok := keywords[ident]; ok {
		return t
	}
	return TokenIdentifier
}

// Keywords returns every reserved word.
func Keywords() []string {
	out := make([]string, 0, keywordEnd-keywordStart-1)
	for t := keywordStart + 1; t < keywordEnd; t++ {
		out = append(out, tokenNames[t])
	}
	return out
}

// Token is a lexical token.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
	// LineStart is set when a newline separates the token from the one before it.
	LineStart bool
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q) at %d:%d", t.Type, t.Literal, t.Pos.Line, t.Pos.Column)
}
