package internal

import (
	"errors"
	"fmt"

	"github.com/zephyrtronium/tinyscript/internal/cell"
)

// parser evaluates source text as it reads it. There is no syntax tree: each
// statement is parsed and executed in a single pass, and code that must not
// run (an untaken branch, a loop body after its last iteration, a function
// body at definition time) is parsed with exec off so that it has no effects
// and allocates nothing.
type parser struct {
	vm  *VM
	a   *cell.Arena
	lex *lexer

	// src is the arena string the text being parsed came from. Functions
	// defined here link it.
	src cell.Ref
	// scope is the innermost scope, and fnScope is the scope var
	// declarations go into. Both are kept alive by whoever created the
	// parser.
	scope   cell.Ref
	fnScope cell.Ref
	this    cell.Ref

	exec bool
	stop Stop
	// ret is the locked return value of a function body.
	ret cell.Ref

	inFunc bool
	loops  int
	// noIn disables the in operator while parsing for loop initializers.
	noIn bool
	// soft lets the next identifier resolve to nothing without raising a
	// ReferenceError, for typeof.
	soft bool

	// top marks the parser of a whole program, which keeps the value of the
	// last expression statement in last.
	top  bool
	last cell.Ref
}

func (vm *VM) newParser(src cell.Ref, text []byte, base int, scope cell.Ref) *parser {
	return &parser{
		vm:      vm,
		a:       vm.Arena,
		lex:     newLexer(text, base),
		src:     src,
		scope:   scope,
		fnScope: scope,
		exec:    true,
	}
}

// live reports whether the statement or expression being parsed should have
// effects.
func (p *parser) live() bool {
	return p.exec && p.stop == NoStop
}

// program runs a complete script in the global scope.
func (vm *VM) program(src cell.Ref, text []byte) (cell.Ref, error) {
	p := vm.newParser(src, text, 0, vm.Global)
	p.top = true
	for p.lex.tok.Kind != eofToken {
		if err := p.statement(); err != nil {
			p.a.Unlock(p.last)
			return cell.None, err
		}
	}
	return p.last, nil
}

// syntaxError creates a SyntaxError at the current token.
func (p *parser) syntaxError(format string, args ...interface{}) error {
	tok := p.lex.tok
	msg := fmt.Sprintf(format, args...)
	switch tok.Kind {
	case eofToken:
		return p.vm.Raise(SyntaxError, "%s at end of input", msg)
	case badToken:
		return p.vm.Raise(SyntaxError, "%v: %q at offset %d", tok.Err, tok.Value, tok.Pos)
	}
	return p.vm.Raise(SyntaxError, "%s, got %q at offset %d", msg, tok.Value, tok.Pos)
}

// expect consumes the punctuator s.
func (p *parser) expect(s string) error {
	if !p.lex.is(s) {
		return p.syntaxError("expected %q", s)
	}
	p.lex.next()
	return nil
}

// ident consumes an identifier and returns its name.
func (p *parser) ident() (string, error) {
	if p.lex.tok.Kind != identToken || isReserved(p.lex.tok.Value) {
		return "", p.syntaxError("expected identifier")
	}
	name := p.lex.tok.Value
	p.lex.next()
	return name, nil
}

// semicolon consumes an optional statement terminator.
func (p *parser) semicolon() {
	if p.lex.is(";") {
		p.lex.next()
	}
}

var reserved = map[string]bool{
	"var": true, "let": true, "const": true, "function": true, "if": true,
	"else": true, "while": true, "do": true, "for": true, "in": true,
	"break": true, "continue": true, "return": true, "throw": true,
	"try": true, "catch": true, "finally": true, "typeof": true,
	"void": true, "delete": true, "new": true, "this": true, "true": true,
	"false": true, "null": true,
}

func isReserved(s string) bool {
	return reserved[s]
}

// statement parses and executes one statement.
func (p *parser) statement() error {
	p.vm.setState(ParsingStatement)
	err := p.stmt()
	if err != nil {
		p.vm.setState(ErrorPropagating)
	}
	return err
}

func (p *parser) stmt() error {
	l := p.lex
	switch l.tok.Kind {
	case eofToken:
		return p.syntaxError("expected statement")
	case badToken:
		return p.syntaxError("")
	case punctToken:
		switch l.tok.Value {
		case "{":
			return p.block()
		case ";":
			l.next()
			return nil
		}
	case identToken:
		switch l.tok.Value {
		case "var", "let", "const":
			l.next()
			if err := p.varList(); err != nil {
				return err
			}
			p.semicolon()
			return nil
		case "function":
			return p.functionDecl()
		case "if":
			return p.ifStmt()
		case "while":
			return p.whileStmt()
		case "do":
			return p.doStmt()
		case "for":
			return p.forStmt()
		case "break", "continue":
			return p.jump()
		case "return":
			return p.returnStmt()
		case "throw":
			return p.throwStmt()
		case "try":
			return p.tryStmt()
		}
	}
	v, err := p.expression()
	if err != nil {
		return err
	}
	if p.top && p.live() {
		p.a.Unlock(p.last)
		p.last = v
	} else {
		p.a.Unlock(v)
	}
	p.semicolon()
	return nil
}

// block parses a braced statement list.
func (p *parser) block() error {
	if err := p.expect("{"); err != nil {
		return err
	}
	for !p.lex.is("}") {
		if err := p.statement(); err != nil {
			return err
		}
	}
	p.lex.next()
	return nil
}

// skip parses one statement without executing it.
func (p *parser) skip(parse func() error) error {
	saved := p.exec
	p.exec = false
	err := parse()
	p.exec = saved
	return err
}

// varList parses comma-separated declarations after var, let, or const.
func (p *parser) varList() error {
	for {
		name, err := p.ident()
		if err != nil {
			return err
		}
		if p.lex.is("=") {
			p.lex.next()
			v, err := p.assignment()
			if err != nil {
				return err
			}
			if p.live() {
				err = p.vm.wrap(p.a.Set(p.fnScope, cell.NameKey(name), v))
			}
			p.a.Unlock(v)
			if err != nil {
				return err
			}
		} else if p.live() && p.a.Find(p.fnScope, cell.NameKey(name)) == cell.None {
			if err := p.vm.wrap(p.a.Set(p.fnScope, cell.NameKey(name), cell.None)); err != nil {
				return err
			}
		}
		if !p.lex.is(",") {
			return nil
		}
		p.lex.next()
	}
}

// functionDecl defines a named function in the function scope.
func (p *parser) functionDecl() error {
	start := p.lex.save()
	p.lex.next()
	name, err := p.ident()
	if err != nil {
		return err
	}
	p.lex.restore(start)
	fn, err := p.function()
	if err != nil {
		return err
	}
	if fn == cell.None {
		return nil
	}
	defer p.a.Unlock(fn)
	return p.vm.wrap(p.a.Set(p.fnScope, cell.NameKey(name), fn))
}

// function parses a function literal starting at the function keyword. The
// body is checked for syntax but not run; when live, the result is a locked
// function cell spanning the literal's text.
func (p *parser) function() (cell.Ref, error) {
	l := p.lex
	start := l.tok.Pos
	l.next()
	if l.tok.Kind == identToken {
		if _, err := p.ident(); err != nil {
			return cell.None, err
		}
	}
	if err := p.params(func(string) error { return nil }); err != nil {
		return cell.None, err
	}
	end, err := p.body()
	if err != nil {
		return cell.None, err
	}
	if !p.live() {
		return cell.None, nil
	}
	fn, err := p.a.NewFunction(p.src, start, end-start, p.scope)
	return fn, p.vm.wrap(err)
}

// params parses a parenthesized parameter list, calling bind for each name.
func (p *parser) params(bind func(string) error) error {
	if err := p.expect("("); err != nil {
		return err
	}
	for !p.lex.is(")") {
		name, err := p.ident()
		if err != nil {
			return err
		}
		if err := bind(name); err != nil {
			return err
		}
		if !p.lex.is(",") {
			break
		}
		p.lex.next()
	}
	return p.expect(")")
}

// body skips a function body and returns the source offset just past it.
func (p *parser) body() (int, error) {
	inFunc, loops, noIn := p.inFunc, p.loops, p.noIn
	p.inFunc, p.loops, p.noIn = true, 0, false
	var end int
	err := p.skip(func() error {
		if !p.lex.is("{") {
			return p.syntaxError("expected function body")
		}
		for p.lex.next(); !p.lex.is("}"); {
			if err := p.statement(); err != nil {
				return err
			}
		}
		end = p.lex.tok.End
		p.lex.next()
		return nil
	})
	p.inFunc, p.loops, p.noIn = inFunc, loops, noIn
	return end, err
}

// condition parses a parenthesized expression and reports whether it is
// true. It is false when not live.
func (p *parser) condition() (bool, error) {
	if err := p.expect("("); err != nil {
		return false, err
	}
	v, err := p.expression()
	if err != nil {
		return false, err
	}
	t := p.live() && p.vm.truthy(v)
	p.a.Unlock(v)
	return t, p.expect(")")
}

// branch runs parse with exec narrowed by cond.
func (p *parser) branch(cond bool, parse func() error) error {
	saved := p.exec
	p.exec = saved && cond
	err := parse()
	p.exec = saved
	return err
}

func (p *parser) ifStmt() error {
	p.lex.next()
	cond, err := p.condition()
	if err != nil {
		return err
	}
	if err := p.branch(cond, p.statement); err != nil {
		return err
	}
	if p.lex.isWord("else") {
		p.lex.next()
		return p.branch(!cond, p.statement)
	}
	return nil
}

// loopBody runs a loop body statement.
func (p *parser) loopBody(run bool) error {
	p.loops++
	err := p.branch(run, p.statement)
	p.loops--
	return err
}

// loopStop handles break and continue after a body that ran, and reports
// whether the loop should end.
func (p *parser) loopStop() bool {
	switch p.stop {
	case BreakStop:
		p.stop = NoStop
		return true
	case ContinueStop:
		p.stop = NoStop
	case ReturnStop:
		return true
	}
	return false
}

func (p *parser) whileStmt() error {
	l := p.lex
	l.next()
	live := p.live()
	start := l.save()
	for {
		l.restore(start)
		cond, err := p.condition()
		if err != nil {
			return err
		}
		run := live && cond
		if err := p.loopBody(run); err != nil {
			return err
		}
		if !run || p.loopStop() {
			return nil
		}
		if err := p.vm.poll(); err != nil {
			return err
		}
	}
}

func (p *parser) doStmt() error {
	l := p.lex
	l.next()
	live := p.live()
	start := l.save()
	for {
		l.restore(start)
		if err := p.loopBody(live); err != nil {
			return err
		}
		stopped := live && p.loopStop()
		if !l.isWord("while") {
			return p.syntaxError("expected while")
		}
		l.next()
		var cond bool
		err := p.branch(!stopped, func() (err error) {
			cond, err = p.condition()
			return err
		})
		if err != nil {
			return err
		}
		if !live || stopped || !cond {
			p.semicolon()
			return nil
		}
		if err := p.vm.poll(); err != nil {
			return err
		}
	}
}

func (p *parser) forStmt() error {
	l := p.lex
	l.next()
	if err := p.expect("("); err != nil {
		return err
	}
	start := l.save()
	decl := l.isWord("var") || l.isWord("let") || l.isWord("const")
	if decl {
		l.next()
	}
	if l.tok.Kind == identToken && !isReserved(l.tok.Value) {
		name := l.tok.Value
		l.next()
		if l.isWord("in") {
			l.next()
			return p.forIn(name, decl)
		}
	}
	l.restore(start)

	// for (init; cond; update) body
	p.noIn = true
	var err error
	switch {
	case l.is(";"):
	case decl:
		l.next()
		err = p.varList()
	default:
		var v cell.Ref
		v, err = p.expression()
		p.a.Unlock(v)
	}
	p.noIn = false
	if err != nil {
		return err
	}
	if err := p.expect(";"); err != nil {
		return err
	}
	live := p.live()
	condStart := l.save()
	for {
		l.restore(condStart)
		cond := true
		if !l.is(";") {
			v, err := p.expression()
			if err != nil {
				return err
			}
			cond = p.vm.truthy(v)
			p.a.Unlock(v)
		}
		if err := p.expect(";"); err != nil {
			return err
		}
		update := l.save()
		if err := p.skip(p.optionalExpression); err != nil {
			return err
		}
		if err := p.expect(")"); err != nil {
			return err
		}
		run := live && cond
		if err := p.loopBody(run); err != nil {
			return err
		}
		if !run || p.loopStop() {
			return nil
		}
		if err := p.vm.poll(); err != nil {
			return err
		}
		l.restore(update)
		if err := p.optionalExpression(); err != nil {
			return err
		}
	}
}

// optionalExpression evaluates and discards an expression unless the next
// token closes a for loop header.
func (p *parser) optionalExpression() error {
	if p.lex.is(")") {
		return nil
	}
	v, err := p.expression()
	p.a.Unlock(v)
	return err
}

// forIn runs a for-in loop over the keys of a container. Keys are visited in
// enumeration order and bound as strings.
func (p *parser) forIn(name string, decl bool) error {
	l := p.lex
	obj, err := p.expression()
	if err != nil {
		return err
	}
	defer p.a.Unlock(obj)
	if err := p.expect(")"); err != nil {
		return err
	}
	start := l.save()
	if p.live() && p.a.Kind(obj).IsContainer() {
		it := p.a.Iterate(obj)
		defer it.Close()
		for {
			k, _, ok := it.Next()
			if !ok {
				break
			}
			key, err := p.a.NewStringFrom(k.String())
			if err != nil {
				return p.vm.wrap(err)
			}
			if decl {
				err = p.vm.wrap(p.a.Set(p.fnScope, cell.NameKey(name), key))
			} else {
				err = p.assignName(name, key)
			}
			p.a.Unlock(key)
			if err != nil {
				return err
			}
			l.restore(start)
			if err := p.loopBody(true); err != nil {
				return err
			}
			if p.loopStop() {
				break
			}
			if err := p.vm.poll(); err != nil {
				return err
			}
		}
	}
	l.restore(start)
	return p.loopBody(false)
}

// jump parses break or continue.
func (p *parser) jump() error {
	word := p.lex.tok.Value
	if p.loops == 0 {
		return p.syntaxError("%s outside of a loop", word)
	}
	p.lex.next()
	if p.live() {
		if word == "break" {
			p.stop = BreakStop
		} else {
			p.stop = ContinueStop
		}
	}
	p.semicolon()
	return nil
}

func (p *parser) returnStmt() error {
	if !p.inFunc {
		return p.syntaxError("return outside of a function")
	}
	l := p.lex
	l.next()
	var v cell.Ref
	if !l.is(";") && !l.is("}") && l.tok.Kind != eofToken {
		var err error
		if v, err = p.expression(); err != nil {
			return err
		}
	}
	if p.live() {
		p.a.Unlock(p.ret)
		p.ret = v
		p.stop = ReturnStop
	} else {
		p.a.Unlock(v)
	}
	p.semicolon()
	return nil
}

func (p *parser) throwStmt() error {
	p.lex.next()
	v, err := p.expression()
	if err != nil {
		return err
	}
	p.semicolon()
	if !p.live() {
		return nil
	}
	return p.vm.throw(v)
}

// catchable returns err as an exception a try statement may handle.
func catchable(err error) (*Exception, bool) {
	var ex *Exception
	if errors.As(err, &ex) && ex.Catchable() && ex.Category != SyntaxError {
		return ex, true
	}
	return nil, false
}

func (p *parser) tryStmt() error {
	l := p.lex
	l.next()
	live := p.live()
	start := l.save()
	pending := p.block()
	if pending != nil {
		if _, ok := catchable(pending); !ok {
			return pending
		}
		// Find the end of the try block again.
		l.restore(start)
		if err := p.skip(p.block); err != nil {
			p.vm.Discard(pending)
			return err
		}
	}
	p.vm.setState(ParsingStatement)
	handled := false
	if l.isWord("catch") {
		handled = true
		l.next()
		if err := p.expect("("); err != nil {
			p.vm.Discard(pending)
			return err
		}
		name, err := p.ident()
		if err != nil {
			p.vm.Discard(pending)
			return err
		}
		if err := p.expect(")"); err != nil {
			p.vm.Discard(pending)
			return err
		}
		if ex, ok := catchable(pending); ok {
			pending = p.catch(ex, name)
			if _, ok := catchable(pending); pending != nil && !ok {
				return pending
			}
		} else if err := p.skip(p.block); err != nil {
			return err
		}
	}
	if l.isWord("finally") {
		handled = true
		l.next()
		if !live {
			return p.skip(p.block)
		}
		stop, ret := p.stop, p.ret
		p.stop, p.ret = NoStop, cell.None
		err := p.block()
		switch {
		case err != nil:
			p.vm.Discard(pending)
			p.a.Unlock(ret)
			return err
		case p.stop != NoStop:
			// Control flow out of finally overrides the try.
			p.vm.Discard(pending)
			p.a.Unlock(ret)
			pending = nil
		default:
			p.stop, p.ret = stop, ret
		}
	}
	if !handled {
		p.vm.Discard(pending)
		return p.syntaxError("expected catch or finally")
	}
	return pending
}

// catch runs a catch block for ex with its value bound to name in a new
// scope.
func (p *parser) catch(ex *Exception, name string) error {
	a := p.a
	v, err := p.vm.exceptionValue(ex)
	if err != nil {
		p.vm.Discard(ex)
		return err
	}
	scope, err := a.NewScope(p.scope)
	if err == nil {
		err = a.Set(scope, cell.NameKey(name), v)
	}
	a.Unlock(v)
	if err != nil {
		a.Unlock(scope)
		return p.vm.wrap(err)
	}
	defer a.Unlock(scope)
	outer := p.scope
	p.scope = scope
	start := p.lex.save()
	err = p.block()
	p.scope = outer
	if _, ok := catchable(err); ok {
		p.lex.restore(start)
		if serr := p.skip(p.block); serr != nil {
			p.vm.Discard(err)
			return serr
		}
	}
	return err
}

// callFunction calls a script function. The function's text is read back out
// of its source string and parsed again from the start.
func (vm *VM) callFunction(fn, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	if vm.depth >= vm.maxDepth {
		return cell.None, vm.Raise(StackOverflow, "maximum call depth of %d exceeded", vm.maxDepth)
	}
	vm.depth++
	defer func() { vm.depth-- }()
	a := vm.Arena
	src, off, n := a.FunctionSpan(fn)
	text := make([]byte, n)
	a.Read(src, off, n, text)
	scope, err := a.NewScope(a.FunctionScope(fn))
	if err != nil {
		return cell.None, vm.wrap(err)
	}
	defer a.Unlock(scope)

	p := vm.newParser(src, text, off, scope)
	p.this = this
	p.inFunc = true
	l := p.lex
	l.next()
	if l.tok.Kind == identToken {
		l.next()
	}
	i := 0
	err = p.params(func(name string) error {
		var arg cell.Ref
		if i < len(args) {
			arg = args[i]
		}
		i++
		return vm.wrap(a.Set(scope, cell.NameKey(name), arg))
	})
	if err == nil {
		err = p.block()
	}
	if err != nil {
		a.Unlock(p.ret)
		return cell.None, err
	}
	return p.ret, nil
}

// call calls any callable value with locked arguments. The result is locked.
func (vm *VM) call(fn, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	if err := vm.poll(); err != nil {
		return cell.None, err
	}
	switch vm.Arena.Kind(fn) {
	case cell.Function:
		return vm.callFunction(fn, this, args)
	case cell.Native:
		nat := vm.natives[vm.Arena.NativeID(fn)]
		if nat.method && vm.Arena.Kind(this) != nat.recv {
			return cell.None, vm.Raise(TypeError, "%s called on %s", nat.name, vm.TypeOf(this))
		}
		if vm.depth >= vm.maxDepth {
			return cell.None, vm.Raise(StackOverflow, "maximum call depth of %d exceeded", vm.maxDepth)
		}
		vm.depth++
		defer func() { vm.depth-- }()
		return nat.fn(vm, this, args)
	}
	return cell.None, vm.Raise(TypeError, "%s is not a function", vm.TypeOf(fn))
}
