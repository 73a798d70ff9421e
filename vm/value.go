package vm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/chazu/coven/parser"
	"github.com/chazu/coven/symbol"
)

// ---------------------------------------------------------------------------
// Value: tagged variant for every runtime value
// ---------------------------------------------------------------------------

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindInteger
	KindBoolean
	KindText
	KindRitual
	KindSpirit
	KindBanished
)

var kindNames = [...]string{
	KindNil:      "Nil",
	KindInteger:  "Integer",
	KindBoolean:  "Boolean",
	KindText:     "Text",
	KindRitual:   "Ritual",
	KindSpirit:   "SpiritHandle",
	KindBanished: "Banished",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Value is an immutable runtime value. The zero Value is Nil.
type Value struct {
	kind   Kind
	flag   bool
	num    *big.Int
	text   string
	ritual *Ritual
	spirit SpiritID
}

var (
	// Nil is the absence of a value.
	Nil = Value{}
	// Banished is the outcome of awaiting a banished spirit.
	Banished = Value{kind: KindBanished}
	// True and False are the Boolean values.
	True  = Value{kind: KindBoolean, flag: true}
	False = Value{kind: KindBoolean}
)

// Int wraps n. The caller must not mutate n afterwards.
func Int(n *big.Int) Value { return Value{kind: KindInteger, num: n} }

// Int64 returns an Integer value for n.
func Int64(n int64) Value { return Int(big.NewInt(n)) }

// Bool returns True or False.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Text returns a Text value.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// RitualValue wraps a ritual.
func RitualValue(r *Ritual) Value { return Value{kind: KindRitual, ritual: r} }

// SpiritValue returns a handle to the spirit with the given id.
func SpiritValue(id SpiritID) Value { return Value{kind: KindSpirit, spirit: id} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNil() bool { return v.kind == KindNil }

func (v Value) IsBanished() bool { return v.kind == KindBanished }

// Integer returns the integer held by v. The result must not be mutated.
func (v Value) Integer() (*big.Int, bool) {
	return v.num, v.kind == KindInteger
}

func (v Value) Boolean() (bool, bool) {
	return v.flag, v.kind == KindBoolean
}

func (v Value) Text() (string, bool) {
	return v.text, v.kind == KindText
}

func (v Value) Ritual() (*Ritual, bool) {
	return v.ritual, v.kind == KindRitual
}

func (v Value) Spirit() (SpiritID, bool) {
	return v.spirit, v.kind == KindSpirit
}

// Equal reports whether a and b are the same value. Values of different
// kinds are never equal; rituals compare by identity.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindInteger:
		return a.num.Cmp(b.num) == 0
	case KindBoolean:
		return a.flag == b.flag
	case KindText:
		return a.text == b.text
	case KindRitual:
		return a.ritual == b.ritual
	case KindSpirit:
		return a.spirit == b.spirit
	}
	return true
}

// String returns the display form used by say and text().
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return v.num.String()
	case KindBoolean:
		if v.flag {
			return "true"
		}
		return "false"
	case KindText:
		return v.text
	case KindRitual:
		return v.ritual.String()
	case KindSpirit:
		return fmt.Sprintf("<spirit #%d>", v.spirit)
	case KindBanished:
		return "banished"
	}
	return "nil"
}

// Inspect returns a source-like rendering, quoting text.
func (v Value) Inspect() string {
	if v.kind == KindText {
		var sb strings.Builder
		sb.WriteByte('"')
		for _, r := range v.text {
			switch r {
			case '"':
				sb.WriteString(`\"`)
			case '\\':
				sb.WriteString(`\\`)
			case '\n':
				sb.WriteString(`\n`)
			case '\t':
				sb.WriteString(`\t`)
			case '\r':
				sb.WriteString(`\r`)
			case 0:
				sb.WriteString(`\0`)
			default:
				sb.WriteRune(r)
			}
		}
		sb.WriteByte('"')
		return sb.String()
	}
	return v.String()
}

// ---------------------------------------------------------------------------
// Ritual: closures and natives
// ---------------------------------------------------------------------------

// nativeFunc implements a built-in ritual.
type nativeFunc func(ev *evaluator, args []Value) (Value, error)

// Ritual is a callable: either a closure over an Environment or a native.
type Ritual struct {
	Name   symbol.Symbol // None when anonymous
	Params []symbol.Symbol
	Body   *parser.Block
	Env    *Environment

	native nativeFunc
	arity  int
}

func newClosure(name symbol.Symbol, params []symbol.Symbol, body *parser.Block, env *Environment) *Ritual {
	return &Ritual{Name: name, Params: params, Body: body, Env: env, arity: len(params)}
}

// Arity returns the number of arguments the ritual takes.
func (r *Ritual) Arity() int { return r.arity }

// DisplayName returns the ritual's name, or "anonymous".
func (r *Ritual) DisplayName() string {
	if r.Name == symbol.None {
		return "anonymous"
	}
	return r.Name.String()
}

func (r *Ritual) String() string {
	if r.native != nil {
		return fmt.Sprintf("<native %s/%d>", r.DisplayName(), r.arity)
	}
	return fmt.Sprintf("<ritual %s/%d>", r.DisplayName(), r.arity)
}
