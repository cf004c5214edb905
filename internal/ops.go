package internal

import (
	"bytes"
	"math"

	"github.com/zephyrtronium/tinyscript/internal/cell"
)

// binaryOp applies a non-short-circuit binary operator. The result is
// locked; the operands are not consumed.
func (vm *VM) binaryOp(op string, x, y cell.Ref) (cell.Ref, error) {
	a := vm.Arena
	switch op {
	case "+":
		if isStringy(a.Kind(x)) || isStringy(a.Kind(y)) {
			s, err := a.NewStringFrom(vm.ToString(x))
			if err != nil {
				return cell.None, vm.wrap(err)
			}
			if err := a.Append(s, []byte(vm.ToString(y))); err != nil {
				a.Unlock(s)
				return cell.None, vm.wrap(err)
			}
			return s, nil
		}
		return vm.newNumber(add(vm.toNumber(x), vm.toNumber(y)))
	case "-":
		return vm.newNumber(sub(vm.toNumber(x), vm.toNumber(y)))
	case "*":
		return vm.newNumber(mul(vm.toNumber(x), vm.toNumber(y)))
	case "/":
		return vm.newNumber(div(vm.toNumber(x), vm.toNumber(y)))
	case "%":
		return vm.newNumber(mod(vm.toNumber(x), vm.toNumber(y)))
	case "&", "|", "^", "<<", ">>", ">>>":
		return vm.newNumber(bitwise(op, vm.toNumber(x), vm.toNumber(y)))
	case "==", "!=":
		return vm.newBool(vm.looseEqual(x, y) == (op == "=="))
	case "===", "!==":
		return vm.newBool(vm.strictEqual(x, y) == (op == "==="))
	case "<", ">", "<=", ">=":
		return vm.newBool(vm.compare(op, x, y))
	case "in":
		if !a.Kind(y).IsContainer() {
			return cell.None, vm.Raise(TypeError, "cannot use 'in' to search for a key in %s", vm.TypeOf(y))
		}
		_, ok := a.Get(y, vm.toKey(y, x))
		return vm.newBool(ok)
	}
	return cell.None, vm.Raise(SyntaxError, "unknown operator %s", op)
}

// isStringy reports whether + on a value of kind k concatenates.
func isStringy(k cell.Kind) bool {
	switch k {
	case cell.String, cell.Object, cell.Array, cell.Function, cell.Native:
		return true
	}
	return false
}

func (vm *VM) newBool(b bool) (cell.Ref, error) {
	r, err := vm.Arena.NewBool(b)
	return r, vm.wrap(err)
}

// add adds two numbers. Integer sums that overflow become floats.
func add(x, y number) number {
	if x.isInt && y.isInt {
		s := x.i + y.i
		if (x.i >= 0) == (y.i >= 0) && (s >= 0) != (x.i >= 0) {
			return floatNum(float64(x.i) + float64(y.i))
		}
		return intNum(s)
	}
	return floatNum(x.float() + y.float())
}

func sub(x, y number) number {
	if x.isInt && y.isInt {
		d := x.i - y.i
		if (x.i >= 0) != (y.i >= 0) && (d >= 0) != (x.i >= 0) {
			return floatNum(float64(x.i) - float64(y.i))
		}
		return intNum(d)
	}
	return floatNum(x.float() - y.float())
}

func mul(x, y number) number {
	if x.isInt && y.isInt {
		if x.i == 0 || y.i == 0 {
			return intNum(0)
		}
		p := x.i * y.i
		if p/y.i != x.i || (x.i == -1 && y.i == math.MinInt64) || (y.i == -1 && x.i == math.MinInt64) {
			return floatNum(float64(x.i) * float64(y.i))
		}
		return intNum(p)
	}
	return floatNum(x.float() * y.float())
}

// div divides two numbers. The result is an integer only when both operands
// are integers and the division is exact.
func div(x, y number) number {
	if x.isInt && y.isInt && y.i != 0 && x.i%y.i == 0 && !(x.i == math.MinInt64 && y.i == -1) {
		return intNum(x.i / y.i)
	}
	return floatNum(x.float() / y.float())
}

// mod computes the remainder with the sign of the dividend. x % 0 is NaN.
func mod(x, y number) number {
	if x.isInt && y.isInt {
		if y.i == 0 {
			return floatNum(math.NaN())
		}
		if y.i == -1 {
			return intNum(0)
		}
		return intNum(x.i % y.i)
	}
	return floatNum(math.Mod(x.float(), y.float()))
}

func bitwise(op string, x, y number) number {
	l, r := x.int32(), y.int32()
	switch op {
	case "&":
		return intNum(int64(l & r))
	case "|":
		return intNum(int64(l | r))
	case "^":
		return intNum(int64(l ^ r))
	case "<<":
		return intNum(int64(l << (uint32(r) & 31)))
	case ">>":
		return intNum(int64(l >> (uint32(r) & 31)))
	default: // >>>
		return intNum(int64(uint32(l) >> (uint32(r) & 31)))
	}
}

func neg(x number) number {
	if x.isInt && x.i != math.MinInt64 {
		if x.i == 0 {
			return intNum(0)
		}
		return intNum(-x.i)
	}
	return floatNum(-x.float())
}

// strictEqual implements ===. Ints and floats compare by value.
func (vm *VM) strictEqual(x, y cell.Ref) bool {
	a := vm.Arena
	kx, ky := a.Kind(x), a.Kind(y)
	isNum := func(k cell.Kind) bool { return k == cell.Int || k == cell.Float }
	switch {
	case isNum(kx) && isNum(ky):
		nx, ny := vm.toNumber(x), vm.toNumber(y)
		if nx.isInt && ny.isInt {
			return nx.i == ny.i
		}
		return nx.float() == ny.float()
	case kx != ky:
		return false
	}
	switch kx {
	case cell.Free, cell.Null:
		return true
	case cell.Bool:
		return a.Bool(x) == a.Bool(y)
	case cell.String:
		return x == y || bytes.Equal(a.Bytes(x), a.Bytes(y))
	case cell.Native:
		return a.NativeID(x) == a.NativeID(y)
	}
	return x == y
}

// looseEqual implements ==.
func (vm *VM) looseEqual(x, y cell.Ref) bool {
	a := vm.Arena
	kx, ky := a.Kind(x), a.Kind(y)
	nullish := func(k cell.Kind) bool { return k == cell.Free || k == cell.Null }
	switch {
	case nullish(kx) || nullish(ky):
		return nullish(kx) && nullish(ky)
	case kx == ky:
		return vm.strictEqual(x, y)
	case isStringy(kx) && kx != cell.String && isStringy(ky) && ky != cell.String:
		return false
	case isStringy(kx) && kx != cell.String, isStringy(ky) && ky != cell.String:
		// An object against a primitive compares through its string form.
		return vm.ToString(x) == vm.ToString(y)
	}
	nx, ny := vm.toNumber(x), vm.toNumber(y)
	if nx.isInt && ny.isInt {
		return nx.i == ny.i
	}
	return nx.float() == ny.float()
}

// compare implements the relational operators. Two strings compare
// bytewise; anything else compares as numbers, and NaN compares false.
func (vm *VM) compare(op string, x, y cell.Ref) bool {
	a := vm.Arena
	var c int
	if a.Kind(x) == cell.String && a.Kind(y) == cell.String {
		c = bytes.Compare(a.Bytes(x), a.Bytes(y))
	} else {
		nx, ny := vm.toNumber(x), vm.toNumber(y)
		if nx.isInt && ny.isInt {
			switch {
			case nx.i < ny.i:
				c = -1
			case nx.i > ny.i:
				c = 1
			}
		} else {
			fx, fy := nx.float(), ny.float()
			switch {
			case math.IsNaN(fx) || math.IsNaN(fy):
				return false
			case fx < fy:
				c = -1
			case fx > fy:
				c = 1
			}
		}
	}
	switch op {
	case "<":
		return c < 0
	case ">":
		return c > 0
	case "<=":
		return c <= 0
	default:
		return c >= 0
	}
}
