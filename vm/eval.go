package vm

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/chazu/coven/parser"
	"github.com/chazu/coven/symbol"
)

// ---------------------------------------------------------------------------
// evaluator: walks the AST on behalf of one spirit
// ---------------------------------------------------------------------------

// yieldEvery is how many loop iterations or calls a spirit runs before
// offering its worker slot to waiting spirits.
const yieldEvery = 64

type evaluator struct {
	coven  *Coven
	spirit *Spirit

	holding bool // owns a worker slot
	depth   int
	pure    int // > 0 inside a transmute ritual
	ticks   int

	// hoisted maps top-level declarations to the rituals bound before the
	// program started. Only the root evaluator has it.
	hoisted map[*parser.RitualDecl]*Ritual
}

func (e *evaluator) acquire() bool {
	if err := e.coven.slots.Acquire(e.spirit.ctx, 1); err != nil {
		return false
	}
	e.holding = true
	return true
}

func (e *evaluator) release() {
	if e.holding {
		e.coven.slots.Release(1)
		e.holding = false
	}
}

// checkpoint reports errBanished once the spirit has been banished.
func (e *evaluator) checkpoint() error {
	select {
	case <-e.spirit.ctx.Done():
		return errBanished
	default:
		return nil
	}
}

// tick is a loop back-edge or call: a cancellation check that now and then
// hands the worker slot to another spirit.
func (e *evaluator) tick() error {
	if err := e.checkpoint(); err != nil {
		return err
	}
	e.ticks++
	if e.ticks%yieldEvery == 0 && e.holding {
		e.release()
		runtime.Gosched()
		if !e.acquire() {
			return errBanished
		}
	}
	return nil
}

// suspend guards an operation that a transmute ritual must not perform,
// then checks for cancellation.
func (e *evaluator) suspend(op string, pos parser.Position) error {
	if e.pure > 0 {
		return &Error{Kind: ImpureTransform, Reason: op + " inside a transmute ritual", Pos: pos}
	}
	return e.checkpoint()
}

// ---------------------------------------------------------------------------
// Programs and statements
// ---------------------------------------------------------------------------

func (e *evaluator) runProgram(prog *parser.Program) (Value, error) {
	env := e.coven.globals
	e.hoisted = make(map[*parser.RitualDecl]*Ritual)
	for _, st := range prog.Body {
		if d, ok := st.(*parser.RitualDecl); ok {
			r := newClosure(d.Name, d.Params, d.Body, env)
			e.hoisted[d] = r
			env.Define(d.Name, RitualValue(r))
		}
	}

	v, err := e.execStmts(prog.Body, env)
	var ret *returnSignal
	if errors.As(err, &ret) {
		return ret.value, nil
	}
	return v, err
}

func (e *evaluator) execStmts(stmts []parser.Stmt, env *Environment) (Value, error) {
	result := Nil
	for _, st := range stmts {
		v, err := e.execStmt(st, env)
		if err != nil {
			return Nil, err
		}
		result = v
	}
	return result, nil
}

func (e *evaluator) execBlock(b *parser.Block, env *Environment) (Value, error) {
	return e.execStmts(b.Stmts, NewEnvironment(env))
}

func (e *evaluator) execStmt(st parser.Stmt, env *Environment) (Value, error) {
	switch n := st.(type) {
	case *parser.ExprStmt:
		return e.evalExpr(n.X, env)

	case *parser.RitualDecl:
		if r, ok := e.hoisted[n]; ok {
			return RitualValue(r), nil
		}
		r := newClosure(n.Name, n.Params, n.Body, env)
		env.Define(n.Name, RitualValue(r))
		return RitualValue(r), nil

	case *parser.LetStmt:
		v, err := e.evalExpr(n.Value, env)
		if err != nil {
			return Nil, err
		}
		env.Define(n.Name, v)
		return v, nil

	case *parser.AssignStmt:
		v, err := e.evalExpr(n.Value, env)
		if err != nil {
			return Nil, err
		}
		if err := env.Assign(n.Name, v); err != nil {
			return Nil, at(n.At, err)
		}
		return v, nil

	case *parser.IfStmt:
		cond, err := e.condition(n.Cond, env)
		if err != nil {
			return Nil, err
		}
		if cond {
			return e.execBlock(n.Then, env)
		}
		if n.Else != nil {
			return e.execBlock(n.Else, env)
		}
		return Nil, nil

	case *parser.WhileStmt:
		return e.execWhile(n, env)

	case *parser.BreakStmt:
		return Nil, errBreak

	case *parser.ContinueStmt:
		return Nil, errContinue

	case *parser.ReturnStmt:
		v := Nil
		if n.Value != nil {
			var err error
			if v, err = e.evalExpr(n.Value, env); err != nil {
				return Nil, err
			}
		}
		return Nil, &returnSignal{value: v}

	case *parser.SayStmt:
		if err := e.suspend("say", n.At); err != nil {
			return Nil, err
		}
		v, err := e.evalExpr(n.Value, env)
		if err != nil {
			return Nil, err
		}
		return Nil, e.coven.say(v)

	case *parser.BanishStmt:
		return e.execBanish(n, env)

	case *parser.EngraveStmt:
		if err := e.suspend("engrave", n.At); err != nil {
			return Nil, err
		}
		v, err := e.evalExpr(n.Value, env)
		if err != nil {
			return Nil, err
		}
		if err := e.coven.grimoire.Declare(n.Key, v); err != nil {
			return Nil, at(n.At, err)
		}
		return v, nil

	case *parser.InscribeStmt:
		if err := e.suspend("inscribe", n.At); err != nil {
			return Nil, err
		}
		v, err := e.evalExpr(n.Value, env)
		if err != nil {
			return Nil, err
		}
		if err := e.coven.grimoire.Write(n.Key, v); err != nil {
			return Nil, at(n.At, err)
		}
		return v, nil

	case *parser.TransmuteStmt:
		return e.execTransmute(n, env)
	}
	return Nil, internalError("unknown statement %T", st)
}

func (e *evaluator) execWhile(n *parser.WhileStmt, env *Environment) (Value, error) {
	for {
		if err := e.tick(); err != nil {
			return Nil, err
		}
		cond, err := e.condition(n.Cond, env)
		if err != nil {
			return Nil, err
		}
		if !cond {
			return Nil, nil
		}
		_, err = e.execBlock(n.Body, env)
		switch {
		case err == errBreak:
			return Nil, nil
		case err == errContinue, err == nil:
		default:
			return Nil, err
		}
	}
}

func (e *evaluator) execBanish(n *parser.BanishStmt, env *Environment) (Value, error) {
	if err := e.suspend("banish", n.At); err != nil {
		return Nil, err
	}
	v, err := e.evalExpr(n.Target, env)
	if err != nil {
		return Nil, err
	}
	target, err := e.coven.lookupSpirit(v)
	if err != nil {
		return Nil, at(n.At, err)
	}
	e.coven.banish(target)
	// Banishing self or an ancestor ends this spirit too.
	if err := e.checkpoint(); err != nil {
		return Nil, err
	}
	return Nil, nil
}

var compoundOps = map[parser.TokenType]parser.TokenType{
	parser.TokenPlusAssign:  parser.TokenPlus,
	parser.TokenMinusAssign: parser.TokenMinus,
	parser.TokenStarAssign:  parser.TokenStar,
}

func (e *evaluator) execTransmute(n *parser.TransmuteStmt, env *Environment) (Value, error) {
	if err := e.suspend("transmute", n.At); err != nil {
		return Nil, err
	}
	operand, err := e.evalExpr(n.Value, env)
	if err != nil {
		return Nil, err
	}

	var f func(Value) (Value, error)
	if n.Op == parser.TokenWith {
		r, ok := operand.Ritual()
		if !ok {
			return Nil, at(n.Value.Pos(), mismatch("Ritual", operand))
		}
		f = func(cur Value) (Value, error) {
			e.pure++
			defer func() { e.pure-- }()
			return e.callRitual(r, []Value{cur}, n.At)
		}
	} else {
		op := compoundOps[n.Op]
		f = func(cur Value) (Value, error) {
			return binaryOp(op, cur, operand)
		}
	}

	v, err := e.coven.grimoire.Update(n.Key, f)
	if err != nil {
		return Nil, at(n.At, err)
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (e *evaluator) evalExpr(x parser.Expr, env *Environment) (Value, error) {
	switch n := x.(type) {
	case *parser.IntLiteral:
		return Int(n.Value), nil
	case *parser.StringLiteral:
		return Text(n.Value), nil
	case *parser.BoolLiteral:
		return Bool(n.Value), nil
	case *parser.NilLiteral:
		return Nil, nil
	case *parser.BanishedLiteral:
		return Banished, nil
	case *parser.SelfExpr:
		return SpiritValue(e.spirit.id), nil

	case *parser.Ident:
		v, err := env.Lookup(n.Name)
		if err != nil {
			return Nil, at(n.At, err)
		}
		return v, nil

	case *parser.RitualLiteral:
		return RitualValue(newClosure(symbol.None, n.Params, n.Body, env)), nil

	case *parser.UnaryExpr:
		v, err := e.evalExpr(n.X, env)
		if err != nil {
			return Nil, err
		}
		return unaryOp(n.Op, v, n.At)

	case *parser.BinaryExpr:
		return e.evalBinary(n, env)

	case *parser.CallExpr:
		r, args, err := e.evalCall(n, env)
		if err != nil {
			return Nil, err
		}
		return e.callRitual(r, args, n.At)

	case *parser.SummonExpr:
		if err := e.suspend("summon", n.At); err != nil {
			return Nil, err
		}
		r, args, err := e.evalCall(n.Call, env)
		if err != nil {
			return Nil, err
		}
		child := e.coven.summon(e.spirit, r, args, n.Call.At)
		return SpiritValue(child.id), nil

	case *parser.AwaitExpr:
		if err := e.suspend("await", n.At); err != nil {
			return Nil, err
		}
		v, err := e.evalExpr(n.X, env)
		if err != nil {
			return Nil, err
		}
		target, err := e.coven.lookupSpirit(v)
		if err != nil {
			return Nil, at(n.At, err)
		}
		res, err := e.await(target)
		return res, at(n.At, err)

	case *parser.OmenExpr:
		if err := e.suspend("omen", n.At); err != nil {
			return Nil, err
		}
		var odds Value
		if n.Odds != nil {
			var err error
			if odds, err = e.evalExpr(n.Odds, env); err != nil {
				return Nil, err
			}
			if _, ok := odds.Integer(); !ok {
				return Nil, at(n.Odds.Pos(), mismatch("Integer", odds))
			}
		}
		b, err := e.coven.omen.draw(odds.num)
		if err != nil {
			return Nil, at(n.At, err)
		}
		return Bool(b), nil

	case *parser.RecallExpr:
		if err := e.suspend("recall", n.At); err != nil {
			return Nil, err
		}
		v, err := e.coven.grimoire.Read(n.Key)
		if err != nil {
			return Nil, at(n.At, err)
		}
		return v, nil

	case *parser.WardExpr:
		return e.evalWard(n, env)
	}
	return Nil, internalError("unknown expression %T", x)
}

func (e *evaluator) evalCall(n *parser.CallExpr, env *Environment) (*Ritual, []Value, error) {
	fn, err := e.evalExpr(n.Fn, env)
	if err != nil {
		return nil, nil, err
	}
	r, ok := fn.Ritual()
	if !ok {
		return nil, nil, at(n.At, mismatch("Ritual", fn))
	}
	args := make([]Value, len(n.Args))
	for i, a := range n.Args {
		if args[i], err = e.evalExpr(a, env); err != nil {
			return nil, nil, err
		}
	}
	return r, args, nil
}

// callRitual invokes r with args in a fresh scope nested in r's captured one.
func (e *evaluator) callRitual(r *Ritual, args []Value, pos parser.Position) (Value, error) {
	if len(args) != r.arity {
		return Nil, &Error{
			Kind:     TypeMismatch,
			Expected: plural(r.arity, "argument"),
			Actual:   plural(len(args), "argument"),
			Pos:      pos,
		}
	}
	if r.native != nil {
		v, err := r.native(e, args)
		return v, at(pos, err)
	}
	if err := e.tick(); err != nil {
		return Nil, err
	}
	if limit := e.coven.cfg.MaxDepth; limit > 0 && e.depth >= limit {
		return Nil, &Error{Kind: DepthExceeded, Reason: fmt.Sprintf("call depth exceeds %d", limit), Pos: pos}
	}
	e.depth++
	defer func() { e.depth-- }()

	env := NewEnvironment(r.Env)
	for i, p := range r.Params {
		env.Define(p, args[i])
	}
	v, err := e.execStmts(r.Body.Stmts, env)
	if ret, ok := err.(*returnSignal); ok {
		return ret.value, nil
	}
	return v, err
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func (e *evaluator) condition(x parser.Expr, env *Environment) (bool, error) {
	v, err := e.evalExpr(x, env)
	if err != nil {
		return false, err
	}
	b, ok := v.Boolean()
	if !ok {
		return false, at(x.Pos(), mismatch("Boolean", v))
	}
	return b, nil
}

func (e *evaluator) evalBinary(n *parser.BinaryExpr, env *Environment) (Value, error) {
	if n.Op == parser.TokenAnd || n.Op == parser.TokenOr {
		l, err := e.condition(n.X, env)
		if err != nil {
			return Nil, err
		}
		if l == (n.Op == parser.TokenOr) {
			return Bool(l), nil
		}
		r, err := e.condition(n.Y, env)
		if err != nil {
			return Nil, err
		}
		return Bool(r), nil
	}

	l, err := e.evalExpr(n.X, env)
	if err != nil {
		return Nil, err
	}
	r, err := e.evalExpr(n.Y, env)
	if err != nil {
		return Nil, err
	}
	v, err := binaryOp(n.Op, l, r)
	if err != nil {
		return Nil, at(n.At, err)
	}
	return v, nil
}

// evalWard runs the body and turns a language-level failure into the
// handler's value. Fatal errors and cancellation pass through.
func (e *evaluator) evalWard(n *parser.WardExpr, env *Environment) (Value, error) {
	v, err := e.execBlock(n.Body, env)
	if err == nil {
		return v, nil
	}
	var ve *Error
	if !errors.As(err, &ve) || IsFatal(err) {
		return Nil, err
	}
	log.Debugf("spirit #%d ward rescued: %v", e.spirit.id, err)
	henv := NewEnvironment(env)
	henv.Define(n.Name, Text(err.Error()))
	return e.execStmts(n.Handler.Stmts, henv)
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func unaryOp(op parser.TokenType, v Value, pos parser.Position) (Value, error) {
	switch op {
	case parser.TokenMinus:
		n, ok := v.Integer()
		if !ok {
			return Nil, at(pos, mismatch("Integer", v))
		}
		return Int(intNeg(n)), nil
	case parser.TokenNot:
		b, ok := v.Boolean()
		if !ok {
			return Nil, at(pos, mismatch("Boolean", v))
		}
		return Bool(!b), nil
	}
	return Nil, internalError("unknown unary operator %s", op)
}

func binaryOp(op parser.TokenType, l, r Value) (Value, error) {
	switch op {
	case parser.TokenEq:
		return Bool(Equal(l, r)), nil
	case parser.TokenNotEq:
		return Bool(!Equal(l, r)), nil
	case parser.TokenLess, parser.TokenLessEq, parser.TokenGreater, parser.TokenGreaterEq:
		c, err := compare(l, r)
		if err != nil {
			return Nil, err
		}
		switch op {
		case parser.TokenLess:
			return Bool(c < 0), nil
		case parser.TokenLessEq:
			return Bool(c <= 0), nil
		case parser.TokenGreater:
			return Bool(c > 0), nil
		default:
			return Bool(c >= 0), nil
		}
	}

	if op == parser.TokenPlus && l.Kind() == KindText {
		rs, ok := r.Text()
		if !ok {
			return Nil, mismatch("Text", r)
		}
		return Text(l.text + rs), nil
	}

	x, ok := l.Integer()
	if !ok {
		return Nil, mismatch("Integer", l)
	}
	y, ok := r.Integer()
	if !ok {
		return Nil, mismatch("Integer", r)
	}
	switch op {
	case parser.TokenPlus:
		return Int(intAdd(x, y)), nil
	case parser.TokenMinus:
		return Int(intSub(x, y)), nil
	case parser.TokenStar:
		return Int(intMul(x, y)), nil
	case parser.TokenSlash:
		q, err := intDiv(x, y)
		if err != nil {
			return Nil, err
		}
		return Int(q), nil
	case parser.TokenPercent:
		m, err := intMod(x, y)
		if err != nil {
			return Nil, err
		}
		return Int(m), nil
	}
	return Nil, internalError("unknown binary operator %s", op)
}

// compare orders two Integers or two Texts.
func compare(l, r Value) (int, error) {
	switch l.Kind() {
	case KindInteger:
		y, ok := r.Integer()
		if !ok {
			return 0, mismatch("Integer", r)
		}
		return l.num.Cmp(y), nil
	case KindText:
		y, ok := r.Text()
		if !ok {
			return 0, mismatch("Text", r)
		}
		return strings.Compare(l.text, y), nil
	}
	return 0, mismatch("Integer or Text", l)
}
