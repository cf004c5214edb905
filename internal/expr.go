package internal

import (
	"math"
	"strconv"
	"strings"

	"github.com/zephyrtronium/tinyscript/internal/cell"
)

type refKind int

const (
	// valueRef is a plain value.
	valueRef refKind = iota
	// nameRef is a variable; base is the scope holding it, or None if the
	// name is not defined anywhere.
	nameRef
	// propRef is a property; base is the value it was read from.
	propRef
)

// operand is the result of parsing an expression that might be assigned
// to. val and base are locked.
type operand struct {
	kind refKind
	val  cell.Ref
	base cell.Ref
	key  cell.Key
}

func value(v cell.Ref) operand {
	return operand{val: v}
}

// release drops the operand's locks.
func (p *parser) release(o operand) {
	p.a.Unlock(o.val)
	p.a.Unlock(o.base)
}

// rvalue drops the operand's reference part and returns its locked value.
func (p *parser) rvalue(o operand) cell.Ref {
	p.a.Unlock(o.base)
	return o.val
}

// binaryPrec holds the precedence of binary operators. Higher binds tighter.
var binaryPrec = map[string]int{
	"||": 1,
	"&&": 2,
	"|":  3,
	"^":  4,
	"&":  5,
	"==": 6, "!=": 6, "===": 6, "!==": 6,
	"<": 7, ">": 7, "<=": 7, ">=": 7, "in": 7,
	"<<": 8, ">>": 8, ">>>": 8,
	"+": 9, "-": 9,
	"*": 10, "/": 10, "%": 10,
}

var assignOps = map[string]bool{
	"=": true, "+=": true, "-=": true, "*=": true, "/=": true, "%=": true,
	"&=": true, "|=": true, "^=": true, "<<=": true, ">>=": true, ">>>=": true,
}

// expression parses a comma-separated expression and returns the locked value
// of the last one.
func (p *parser) expression() (cell.Ref, error) {
	v, err := p.assignment()
	for err == nil && p.lex.is(",") {
		p.lex.next()
		p.a.Unlock(v)
		v, err = p.assignment()
	}
	return v, err
}

// assignment parses an assignment expression.
func (p *parser) assignment() (cell.Ref, error) {
	p.vm.setState(ExecutingExpression)
	o, err := p.conditional()
	if err != nil {
		return cell.None, err
	}
	l := p.lex
	if l.tok.Kind != punctToken || !assignOps[l.tok.Value] {
		return p.rvalue(o), nil
	}
	op := l.tok.Value
	if p.live() && o.kind == valueRef {
		p.release(o)
		return cell.None, p.vm.Raise(SyntaxError, "invalid assignment target at offset %d", l.tok.Pos)
	}
	l.next()
	r, err := p.assignment()
	if err != nil || !p.live() {
		p.release(o)
		return r, err
	}
	defer p.release(o)
	if op != "=" {
		if o.kind == nameRef && o.base == cell.None {
			p.a.Unlock(r)
			return cell.None, p.vm.Raise(ReferenceError, "%s is not defined", o.key.Name)
		}
		v, err := p.vm.binaryOp(op[:len(op)-1], o.val, r)
		p.a.Unlock(r)
		if err != nil {
			return cell.None, err
		}
		r = v
	}
	if err := p.assign(o, r); err != nil {
		p.a.Unlock(r)
		return cell.None, err
	}
	return r, nil
}

// assign stores v through a reference operand.
func (p *parser) assign(o operand, v cell.Ref) error {
	switch o.kind {
	case nameRef:
		if o.base == cell.None {
			return p.vm.SetGlobal(o.key.Name, v)
		}
		return p.vm.wrap(p.a.Set(o.base, o.key, v))
	case propRef:
		return p.vm.setProperty(o.base, o.key, v)
	}
	return p.vm.Raise(SyntaxError, "invalid assignment target")
}

// assignName assigns to a variable by name.
func (p *parser) assignName(name string, v cell.Ref) error {
	scope, _, _ := p.lookup(name)
	return p.assign(operand{kind: nameRef, base: scope, key: cell.NameKey(name)}, v)
}

// lookup finds the innermost scope defining name.
func (p *parser) lookup(name string) (scope, v cell.Ref, ok bool) {
	k := cell.NameKey(name)
	for s := p.scope; s != cell.None; s = p.a.Parent(s) {
		if v, ok := p.a.Get(s, k); ok {
			return s, v, true
		}
	}
	return cell.None, cell.None, false
}

// conditional parses a ternary expression.
func (p *parser) conditional() (operand, error) {
	o, err := p.binary(1)
	if err != nil || !p.lex.is("?") {
		return o, err
	}
	c := p.rvalue(o)
	cond := p.live() && p.vm.truthy(c)
	p.a.Unlock(c)
	p.lex.next()
	var x, y cell.Ref
	err = p.branch(cond, func() (err error) {
		x, err = p.assignment()
		return err
	})
	if err != nil {
		return operand{}, err
	}
	if err := p.expect(":"); err != nil {
		p.a.Unlock(x)
		return operand{}, err
	}
	err = p.branch(!cond, func() (err error) {
		y, err = p.assignment()
		return err
	})
	if err != nil {
		p.a.Unlock(x)
		return operand{}, err
	}
	if cond {
		p.a.Unlock(y)
		return value(x), nil
	}
	p.a.Unlock(x)
	return value(y), nil
}

// binop returns the binary operator at the current token and its precedence,
// or 0 if there is none.
func (p *parser) binop() (string, int) {
	tok := p.lex.tok
	switch tok.Kind {
	case punctToken:
		return tok.Value, binaryPrec[tok.Value]
	case identToken:
		if tok.Value == "in" && !p.noIn {
			return "in", binaryPrec["in"]
		}
	}
	return "", 0
}

// binary parses binary operators of at least the given precedence, all left
// associative.
func (p *parser) binary(min int) (operand, error) {
	left, err := p.unary()
	if err != nil {
		return operand{}, err
	}
	for {
		op, prec := p.binop()
		if prec == 0 || prec < min {
			return left, nil
		}
		p.lex.next()
		lv := p.rvalue(left)
		if op == "&&" || op == "||" {
			short := p.live() && p.vm.truthy(lv) == (op == "||")
			var right operand
			err := p.branch(!short, func() (err error) {
				right, err = p.binary(prec + 1)
				return err
			})
			if err != nil {
				p.a.Unlock(lv)
				return operand{}, err
			}
			if short {
				p.release(right)
				left = value(lv)
			} else {
				p.a.Unlock(lv)
				left = value(p.rvalue(right))
			}
			continue
		}
		right, err := p.binary(prec + 1)
		if err != nil {
			p.a.Unlock(lv)
			return operand{}, err
		}
		rv := p.rvalue(right)
		if !p.live() {
			p.a.Unlock(lv)
			p.a.Unlock(rv)
			left = operand{}
			continue
		}
		r, err := p.vm.binaryOp(op, lv, rv)
		p.a.Unlock(lv)
		p.a.Unlock(rv)
		if err != nil {
			return operand{}, err
		}
		left = value(r)
	}
}

// unary parses prefix operators.
func (p *parser) unary() (operand, error) {
	l := p.lex
	var op string
	switch {
	case l.tok.Kind == punctToken:
		switch l.tok.Value {
		case "!", "-", "+", "~", "++", "--":
			op = l.tok.Value
		}
	case l.isWord("typeof"), l.isWord("void"), l.isWord("delete"):
		op = l.tok.Value
	}
	if op == "" {
		return p.postfix()
	}
	l.next()
	if op == "typeof" {
		p.soft = true
	}
	o, err := p.unary()
	p.soft = false
	if err != nil {
		return operand{}, err
	}
	if !p.live() {
		p.release(o)
		return operand{}, nil
	}
	vm := p.vm
	switch op {
	case "++", "--":
		return p.increment(o, op, true)
	case "delete":
		defer p.release(o)
		if o.kind != propRef || !p.a.Kind(o.base).IsContainer() {
			r, err := vm.newBool(o.kind == valueRef)
			return value(r), err
		}
		if p.a.Kind(o.base) == cell.Array && o.key == cell.NameKey("length") {
			r, err := vm.newBool(false)
			return value(r), err
		}
		p.a.Delete(o.base, o.key)
		r, err := vm.newBool(true)
		return value(r), err
	}
	v := p.rvalue(o)
	defer p.a.Unlock(v)
	var r cell.Ref
	switch op {
	case "!":
		r, err = vm.newBool(!vm.truthy(v))
	case "-":
		r, err = vm.newNumber(neg(vm.toNumber(v)))
	case "+":
		r, err = vm.newNumber(vm.toNumber(v))
	case "~":
		r, err = vm.newNumber(intNum(int64(^vm.toNumber(v).int32())))
	case "typeof":
		r, err = p.a.NewStringFrom(vm.TypeOf(v))
		err = vm.wrap(err)
	case "void":
		r = cell.None
	}
	return value(r), err
}

// increment applies ++ or -- to a reference. The result is the new value for
// prefix forms and the old value converted to a number for postfix ones.
func (p *parser) increment(o operand, op string, prefix bool) (operand, error) {
	defer p.release(o)
	vm := p.vm
	if o.kind == valueRef {
		return operand{}, vm.Raise(SyntaxError, "invalid %s operand", op)
	}
	if o.kind == nameRef && o.base == cell.None {
		return operand{}, vm.Raise(ReferenceError, "%s is not defined", o.key.Name)
	}
	old := vm.toNumber(o.val)
	d := intNum(1)
	if op == "--" {
		d = intNum(-1)
	}
	nv, err := vm.newNumber(add(old, d))
	if err != nil {
		return operand{}, err
	}
	if err := p.assign(o, nv); err != nil {
		p.a.Unlock(nv)
		return operand{}, err
	}
	if prefix {
		return value(nv), nil
	}
	p.a.Unlock(nv)
	r, err := vm.newNumber(old)
	return value(r), err
}

// postfix parses member access, calls, and postfix increments.
func (p *parser) postfix() (operand, error) {
	l := p.lex
	start := l.tok.Pos
	o, err := p.primary()
	if err != nil {
		return operand{}, err
	}
	for {
		switch {
		case l.is("."):
			l.next()
			if l.tok.Kind != identToken {
				p.release(o)
				return operand{}, p.syntaxError("expected property name")
			}
			name := l.tok.Value
			l.next()
			if o, err = p.member(o, cell.NameKey(name)); err != nil {
				return operand{}, err
			}
		case l.is("["):
			l.next()
			saved := p.noIn
			p.noIn = false
			k, err := p.expression()
			p.noIn = saved
			if err == nil {
				err = p.expect("]")
			}
			if err != nil {
				p.a.Unlock(k)
				p.release(o)
				return operand{}, err
			}
			var key cell.Key
			if p.live() {
				key = p.vm.toKey(o.val, k)
			}
			p.a.Unlock(k)
			if o, err = p.member(o, key); err != nil {
				return operand{}, err
			}
		case l.is("("):
			callee := strings.TrimSpace(string(l.src[start-l.base : l.tok.Pos-l.base]))
			if o, err = p.callOperand(o, callee); err != nil {
				return operand{}, err
			}
		case l.is("++"), l.is("--"):
			op := l.tok.Value
			l.next()
			if !p.live() {
				p.release(o)
				return operand{}, nil
			}
			return p.increment(o, op, false)
		default:
			return o, nil
		}
	}
}

// member replaces o with a reference to one of its properties.
func (p *parser) member(o operand, key cell.Key) (operand, error) {
	obj := p.rvalue(o)
	if !p.live() {
		p.a.Unlock(obj)
		return operand{}, nil
	}
	v, err := p.vm.getProperty(obj, key)
	if err != nil {
		p.a.Unlock(obj)
		return operand{}, err
	}
	return operand{kind: propRef, val: v, base: obj, key: key}, nil
}

// callOperand parses an argument list and calls o. Methods receive the value
// they were read from as this.
func (p *parser) callOperand(o operand, callee string) (operand, error) {
	p.lex.next()
	var args []cell.Ref
	defer func() {
		for _, arg := range args {
			p.a.Unlock(arg)
		}
	}()
	saved := p.noIn
	p.noIn = false
	for !p.lex.is(")") {
		v, err := p.assignment()
		if err != nil {
			p.noIn = saved
			p.release(o)
			return operand{}, err
		}
		args = append(args, v)
		if !p.lex.is(",") {
			break
		}
		p.lex.next()
	}
	p.noIn = saved
	if err := p.expect(")"); err != nil {
		p.release(o)
		return operand{}, err
	}
	if !p.live() {
		p.release(o)
		return operand{}, nil
	}
	defer p.release(o)
	if k := p.a.Kind(o.val); k != cell.Function && k != cell.Native {
		return operand{}, p.vm.Raise(TypeError, "%s is not a function", callee)
	}
	var this cell.Ref
	if o.kind == propRef {
		this = o.base
	}
	r, err := p.vm.call(o.val, this, args)
	p.vm.setState(ExecutingExpression)
	return value(r), err
}

// primary parses literals, names, and parenthesized expressions.
func (p *parser) primary() (operand, error) {
	l := p.lex
	soft := p.soft
	p.soft = false
	live := p.live()
	a := p.a
	vm := p.vm
	tok := l.tok
	switch tok.Kind {
	case numberToken:
		l.next()
		if !live {
			return operand{}, nil
		}
		r, err := vm.newNumber(parseLiteral(tok.Value))
		return value(r), err
	case stringToken:
		l.next()
		if !live {
			return operand{}, nil
		}
		r, err := a.NewStringFrom(tok.Value)
		return value(r), vm.wrap(err)
	case identToken:
		switch tok.Value {
		case "function":
			r, err := p.function()
			return value(r), err
		case "true", "false", "null", "undefined", "this":
			l.next()
			if !live {
				return operand{}, nil
			}
			var r cell.Ref
			var err error
			switch tok.Value {
			case "true", "false":
				r, err = vm.newBool(tok.Value == "true")
			case "null":
				r, err = a.NewNull()
				err = vm.wrap(err)
			case "this":
				r = a.Lock(p.this)
			}
			return value(r), err
		}
		if isReserved(tok.Value) {
			return operand{}, p.syntaxError("unexpected keyword")
		}
		l.next()
		if !live {
			return operand{}, nil
		}
		scope, v, ok := p.lookup(tok.Value)
		if !ok && !soft && !l.is("=") {
			return operand{}, vm.Raise(ReferenceError, "%s is not defined", tok.Value)
		}
		return operand{kind: nameRef, val: a.Lock(v), base: a.Lock(scope), key: cell.NameKey(tok.Value)}, nil
	case punctToken:
		switch tok.Value {
		case "(":
			l.next()
			saved := p.noIn
			p.noIn = false
			v, err := p.expression()
			p.noIn = saved
			if err == nil {
				err = p.expect(")")
			}
			if err != nil {
				a.Unlock(v)
				return operand{}, err
			}
			return value(v), nil
		case "[":
			return p.arrayLiteral()
		case "{":
			return p.objectLiteral()
		}
	}
	return operand{}, p.syntaxError("unexpected token")
}

func (p *parser) arrayLiteral() (operand, error) {
	l := p.lex
	l.next()
	var arr cell.Ref
	if p.live() {
		var err error
		if arr, err = p.a.NewArray(); err != nil {
			return operand{}, p.vm.wrap(err)
		}
	}
	saved := p.noIn
	p.noIn = false
	defer func() { p.noIn = saved }()
	for !l.is("]") {
		v, err := p.assignment()
		if err == nil && arr != cell.None {
			err = p.vm.wrap(p.a.Push(arr, v))
		}
		p.a.Unlock(v)
		if err != nil {
			p.a.Unlock(arr)
			return operand{}, err
		}
		if !l.is(",") {
			break
		}
		l.next()
	}
	if err := p.expect("]"); err != nil {
		p.a.Unlock(arr)
		return operand{}, err
	}
	return value(arr), nil
}

func (p *parser) objectLiteral() (operand, error) {
	l := p.lex
	l.next()
	var obj cell.Ref
	if p.live() {
		var err error
		if obj, err = p.a.NewObject(); err != nil {
			return operand{}, p.vm.wrap(err)
		}
	}
	saved := p.noIn
	p.noIn = false
	defer func() { p.noIn = saved }()
	for !l.is("}") {
		var name string
		switch l.tok.Kind {
		case identToken, stringToken:
			name = l.tok.Value
		case numberToken:
			name = formatNumber(parseLiteral(l.tok.Value))
		default:
			p.a.Unlock(obj)
			return operand{}, p.syntaxError("expected property name")
		}
		l.next()
		if err := p.expect(":"); err != nil {
			p.a.Unlock(obj)
			return operand{}, err
		}
		v, err := p.assignment()
		if err == nil && obj != cell.None {
			err = p.vm.wrap(p.a.Set(obj, cell.NameKey(name), v))
		}
		p.a.Unlock(v)
		if err != nil {
			p.a.Unlock(obj)
			return operand{}, err
		}
		if !l.is(",") {
			break
		}
		l.next()
	}
	if err := p.expect("}"); err != nil {
		p.a.Unlock(obj)
		return operand{}, err
	}
	return value(obj), nil
}

// toKey converts a value used with [] on obj to a container key. Arrays and
// strings are indexed by non-negative integers; everything else by name.
func (vm *VM) toKey(obj, k cell.Ref) cell.Key {
	a := vm.Arena
	if ko := a.Kind(obj); ko == cell.Array || ko == cell.String {
		switch a.Kind(k) {
		case cell.Int:
			if i := a.Int(k); i >= 0 {
				return cell.IndexKey(i)
			}
		case cell.Float:
			if f := a.Float(k); f >= 0 && f == math.Trunc(f) && f < 1<<53 {
				return cell.IndexKey(int64(f))
			}
		case cell.String:
			s := a.Text(k)
			if i, err := strconv.ParseInt(s, 10, 64); err == nil && i >= 0 && strconv.FormatInt(i, 10) == s {
				return cell.IndexKey(i)
			}
		}
	}
	return cell.NameKey(vm.ToString(k))
}

// getProperty reads a property of any value. The result is locked. Methods
// of primitives come from the native tables registered with AddMethods.
func (vm *VM) getProperty(obj cell.Ref, key cell.Key) (cell.Ref, error) {
	a := vm.Arena
	k := a.Kind(obj)
	switch k {
	case cell.Free, cell.Null:
		return cell.None, vm.Raise(TypeError, "cannot read property '%s' of %s", key, vm.ToString(obj))
	case cell.Object:
		if v, ok := a.Get(obj, key); ok {
			return a.Lock(v), nil
		}
	case cell.Array:
		if key == cell.NameKey("length") {
			r, err := a.NewInt(a.Length(obj))
			return r, vm.wrap(err)
		}
		if v, ok := a.Get(obj, key); ok {
			return a.Lock(v), nil
		}
	case cell.String:
		if key == cell.NameKey("length") {
			r, err := a.NewInt(int64(a.Len(obj)))
			return r, vm.wrap(err)
		}
		if key.IsIndex {
			var b [1]byte
			if key.Index >= int64(a.Len(obj)) || a.Read(obj, int(key.Index), 1, b[:]) != 1 {
				return cell.None, nil
			}
			r, err := a.NewString(b[:])
			return r, vm.wrap(err)
		}
	}
	if key.IsIndex {
		return cell.None, nil
	}
	if id, ok := vm.methods[k][key.Name]; ok {
		return vm.NewNative(id)
	}
	return cell.None, nil
}

// setProperty assigns a property. Setting length on an array truncates or
// extends it. Assignments to properties of other primitives are ignored.
func (vm *VM) setProperty(obj cell.Ref, key cell.Key, v cell.Ref) error {
	a := vm.Arena
	switch a.Kind(obj) {
	case cell.Free, cell.Null:
		return vm.Raise(TypeError, "cannot set property '%s' of %s", key, vm.ToString(obj))
	case cell.Array:
		if key == cell.NameKey("length") {
			n := vm.toNumber(v)
			if !n.isInt {
				f := n.float()
				if f < 0 || f != math.Trunc(f) || f >= 1<<32 {
					return vm.Raise(RangeError, "invalid array length %s", vm.ToString(v))
				}
				n = intNum(int64(f))
			}
			if n.i < 0 || n.i >= 1<<32 {
				return vm.Raise(RangeError, "invalid array length %s", vm.ToString(v))
			}
			a.SetLength(obj, n.i)
			return nil
		}
		fallthrough
	case cell.Object:
		return vm.wrap(a.Set(obj, key, v))
	}
	return nil
}
