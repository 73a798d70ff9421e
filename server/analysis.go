package server

import (
	"strings"
	"unicode"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/coven/parser"
	"github.com/chazu/coven/symbol"
)

// declKind classifies a name introduced by a document.
type declKind int

const (
	declRitual declKind = iota
	declLet
	declParam
	declKey
	declRescue
)

func (k declKind) String() string {
	switch k {
	case declRitual:
		return "ritual"
	case declLet:
		return "let"
	case declParam:
		return "parameter"
	case declKey:
		return "grimoire key"
	case declRescue:
		return "rescued error"
	}
	return "name"
}

// decl is a name introduced somewhere in a document.
type decl struct {
	Name   string
	Kind   declKind
	Params []string // rituals only
	Range  protocol.Range
}

// use is an occurrence of a name in an expression or assignment.
type use struct {
	Name  string
	Range protocol.Range
}

// analysis is what the server knows about one open document.
type analysis struct {
	text  string
	lines []string
	err   *parser.Error
	decls []decl
	uses  []use
}

// analyze parses text and indexes its declarations and name uses.
// A document with a syntax error keeps only its error.
func analyze(text string) *analysis {
	a := &analysis{text: text, lines: strings.Split(text, "\n")}
	prog, err := parser.Parse(text)
	if err != nil {
		if pe, ok := err.(*parser.Error); ok {
			a.err = pe
		}
		return a
	}
	for _, st := range prog.Body {
		inspect(st, a.visit)
	}
	return a
}

func (a *analysis) visit(n parser.Node) {
	switch n := n.(type) {
	case *parser.RitualDecl:
		d := decl{Name: n.Name.String(), Kind: declRitual, Range: a.nameAfter(n.At, n.Name.String())}
		for _, p := range n.Params {
			d.Params = append(d.Params, p.String())
		}
		a.decls = append(a.decls, d)
		a.params(n.At, n.Params)
	case *parser.RitualLiteral:
		a.params(n.At, n.Params)
	case *parser.LetStmt:
		a.decls = append(a.decls, decl{Name: n.Name.String(), Kind: declLet, Range: a.nameAfter(n.At, n.Name.String())})
	case *parser.EngraveStmt:
		a.decls = append(a.decls, decl{Name: n.Key.String(), Kind: declKey, Range: a.nameAfter(n.At, n.Key.String())})
	case *parser.WardExpr:
		a.decls = append(a.decls, decl{Name: n.Name.String(), Kind: declRescue, Range: a.nameBefore(n.Handler.At, n.Name.String())})
	case *parser.AssignStmt:
		a.uses = append(a.uses, use{Name: n.Name.String(), Range: a.nameAfter(n.At, n.Name.String())})
	case *parser.Ident:
		a.uses = append(a.uses, use{Name: n.Name.String(), Range: a.nameAfter(n.At, n.Name.String())})
	}
}

func (a *analysis) params(at parser.Position, params []symbol.Symbol) {
	for _, p := range params {
		a.decls = append(a.decls, decl{Name: p.String(), Kind: declParam, Range: a.nameAfter(at, p.String())})
	}
}

// nameAfter locates name as a whole word at or after pos on the same line.
// Declarations record the position of their keyword, so the name itself is
// searched for.
func (a *analysis) nameAfter(pos parser.Position, name string) protocol.Range {
	return a.locate(pos, name, false)
}

// nameBefore is nameAfter searching backwards from pos.
func (a *analysis) nameBefore(pos parser.Position, name string) protocol.Range {
	return a.locate(pos, name, true)
}

func (a *analysis) locate(pos parser.Position, name string, backward bool) protocol.Range {
	line, col := pos.Line-1, pos.Column-1
	start := protocol.Position{Line: protocol.UInteger(max(line, 0)), Character: protocol.UInteger(max(col, 0))}
	fallback := protocol.Range{Start: start, End: start}
	if line < 0 || line >= len(a.lines) {
		return fallback
	}
	runes := []rune(a.lines[line])
	word := []rune(name)
	if col < 0 || col > len(runes) || len(word) == 0 {
		return fallback
	}
	matches := func(i int) bool {
		if i < 0 || i+len(word) > len(runes) {
			return false
		}
		for k, r := range word {
			if runes[i+k] != r {
				return false
			}
		}
		return (i == 0 || !isIdentRune(runes[i-1])) &&
			(i+len(word) == len(runes) || !isIdentRune(runes[i+len(word)]))
	}
	if backward {
		for i := col - len(word); i >= 0; i-- {
			if matches(i) {
				return runeRange(line, i, name)
			}
		}
		return fallback
	}
	for i := col; i+len(word) <= len(runes); i++ {
		if matches(i) {
			return runeRange(line, i, name)
		}
	}
	return fallback
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func runeRange(line, col int, name string) protocol.Range {
	n := len([]rune(name))
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col)},
		End:   protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col + n)},
	}
}

// lookup returns the declarations of name, in source order.
func (a *analysis) lookup(name string) []decl {
	var out []decl
	for _, d := range a.decls {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out
}

// diagnostics converts the parse error, if any, into LSP form.
func (a *analysis) diagnostics() []protocol.Diagnostic {
	if a.err == nil {
		return []protocol.Diagnostic{}
	}
	pos := protocol.Position{
		Line:      protocol.UInteger(max(a.err.Pos.Line-1, 0)),
		Character: protocol.UInteger(max(a.err.Pos.Column-1, 0)),
	}
	severity := protocol.DiagnosticSeverityError
	source := lspName
	return []protocol.Diagnostic{{
		Range:    protocol.Range{Start: pos, End: pos},
		Severity: &severity,
		Source:   &source,
		Message:  a.err.Msg,
	}}
}

// inspect calls fn for n and every node beneath it, depth first.
func inspect(n parser.Node, fn func(parser.Node)) {
	if n == nil {
		return
	}
	fn(n)
	block := func(b *parser.Block) {
		if b == nil {
			return
		}
		for _, st := range b.Stmts {
			inspect(st, fn)
		}
	}
	expr := func(e parser.Expr) {
		if e != nil {
			inspect(e, fn)
		}
	}
	switch n := n.(type) {
	case *parser.Block:
		block(n)
	case *parser.RitualDecl:
		block(n.Body)
	case *parser.LetStmt:
		expr(n.Value)
	case *parser.AssignStmt:
		expr(n.Value)
	case *parser.IfStmt:
		expr(n.Cond)
		block(n.Then)
		block(n.Else)
	case *parser.WhileStmt:
		expr(n.Cond)
		block(n.Body)
	case *parser.ReturnStmt:
		expr(n.Value)
	case *parser.SayStmt:
		expr(n.Value)
	case *parser.BanishStmt:
		expr(n.Target)
	case *parser.EngraveStmt:
		expr(n.Value)
	case *parser.InscribeStmt:
		expr(n.Value)
	case *parser.TransmuteStmt:
		expr(n.Value)
	case *parser.ExprStmt:
		expr(n.X)
	case *parser.RitualLiteral:
		block(n.Body)
	case *parser.OmenExpr:
		expr(n.Odds)
	case *parser.WardExpr:
		block(n.Body)
		block(n.Handler)
	case *parser.UnaryExpr:
		expr(n.X)
	case *parser.BinaryExpr:
		expr(n.X)
		expr(n.Y)
	case *parser.CallExpr:
		expr(n.Fn)
		for _, arg := range n.Args {
			expr(arg)
		}
	case *parser.SummonExpr:
		inspect(n.Call, fn)
	case *parser.AwaitExpr:
		expr(n.X)
	}
}
