package internal

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/zephyrtronium/tinyscript/internal/cell"
)

// Arg returns argument i, or None if there are fewer arguments.
func Arg(args []cell.Ref, i int) cell.Ref {
	if i < len(args) {
		return args[i]
	}
	return cell.None
}

// IntArg converts argument i to an integer, using def if it is missing or
// not a finite number.
func (vm *VM) IntArg(args []cell.Ref, i int, def int64) int64 {
	if i >= len(args) || args[i] == cell.None {
		return def
	}
	n := vm.toNumber(args[i])
	if n.isInt {
		return n.i
	}
	if math.IsNaN(n.f) || math.IsInf(n.f, 0) {
		return def
	}
	return int64(n.f)
}

// NewString allocates a string value.
func (vm *VM) NewString(s string) (cell.Ref, error) {
	r, err := vm.Arena.NewStringFrom(s)
	return r, vm.wrap(err)
}

// NewInt allocates an integer value.
func (vm *VM) NewInt(i int64) (cell.Ref, error) {
	r, err := vm.Arena.NewInt(i)
	return r, vm.wrap(err)
}

// NewFloat allocates a number from a float, keeping integral values exact.
func (vm *VM) NewFloat(f float64) (cell.Ref, error) {
	return vm.newNumber(floatNum(f))
}

// NewBool allocates a boolean value.
func (vm *VM) NewBool(b bool) (cell.Ref, error) {
	return vm.newBool(b)
}

// NewObject allocates an empty object.
func (vm *VM) NewObject() (cell.Ref, error) {
	r, err := vm.Arena.NewObject()
	return r, vm.wrap(err)
}

// SetField stores v under name in container obj.
func (vm *VM) SetField(obj cell.Ref, name string, v cell.Ref) error {
	return vm.wrap(vm.Arena.Set(obj, cell.NameKey(name), v))
}

// ToNumber converts v to a float64.
func (vm *VM) ToNumber(v cell.Ref) float64 {
	return vm.toNumber(v).float()
}

// Truthy reports whether v counts as true.
func (vm *VM) Truthy(v cell.Ref) bool {
	return vm.truthy(v)
}

// newArray builds an array from strings.
func (vm *VM) newStringArray(parts [][]byte) (cell.Ref, error) {
	a := vm.Arena
	arr, err := a.NewArray()
	if err != nil {
		return cell.None, vm.wrap(err)
	}
	for _, b := range parts {
		s, err := a.NewString(b)
		if err == nil {
			err = a.Push(arr, s)
			a.Unlock(s)
		}
		if err != nil {
			a.Unlock(arr)
			return cell.None, vm.wrap(err)
		}
	}
	return arr, nil
}

// initBuiltins installs the methods of primitives and the global functions.
func (vm *VM) initBuiltins() {
	vm.AddMethods(cell.String, map[string]NativeFn{
		"charAt":      stringCharAt,
		"charCodeAt":  stringCharCodeAt,
		"indexOf":     stringIndexOf,
		"substring":   stringSubstring,
		"toUpperCase": stringToUpperCase,
		"toLowerCase": stringToLowerCase,
		"split":       stringSplit,
		"toString":    valueToString,
	})
	vm.AddMethods(cell.Array, map[string]NativeFn{
		"push":     arrayPush,
		"pop":      arrayPop,
		"indexOf":  arrayIndexOf,
		"join":     arrayJoin,
		"toString": valueToString,
	})
	for _, k := range []cell.Kind{cell.Int, cell.Float} {
		vm.AddMethods(k, map[string]NativeFn{"toString": numberToString})
	}
	for _, k := range []cell.Kind{cell.Function, cell.Native, cell.Bool, cell.Object} {
		vm.AddMethods(k, map[string]NativeFn{"toString": valueToString})
	}
	vm.InstallObject("Object", map[string]NativeFn{"keys": objectKeys})
	vm.InstallObject("JSON", map[string]NativeFn{"stringify": jsonStringify})
	vm.InstallGlobals(map[string]NativeFn{
		"parseInt":   globalParseInt,
		"parseFloat": globalParseFloat,
		"isNaN":      globalIsNaN,
		"trace":      globalTrace,
	})
	nan, err := vm.NewFloat(math.NaN())
	if err != nil {
		vm.Fail(err)
		return
	}
	vm.Fail(vm.SetGlobal("NaN", nan))
	vm.Arena.Unlock(nan)
	inf, err := vm.NewFloat(math.Inf(1))
	if err != nil {
		vm.Fail(err)
		return
	}
	vm.Fail(vm.SetGlobal("Infinity", inf))
	vm.Arena.Unlock(inf)
}

// valueToString is a toString method.
//
// toString returns the string form of the receiver. For functions, this is
// the source text of the function.
func valueToString(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	return vm.NewString(vm.ToString(this))
}

// numberToString is a Number method.
//
// toString returns the number in the given radix, default 10.
func numberToString(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	radix := vm.IntArg(args, 0, 10)
	if radix < 2 || radix > 36 {
		return cell.None, vm.Raise(RangeError, "toString() radix must be between 2 and 36")
	}
	n := vm.toNumber(this)
	if radix == 10 {
		return vm.NewString(formatNumber(n))
	}
	if !n.isInt {
		f := n.f
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) >= 1<<63 {
			return vm.NewString(formatNumber(n))
		}
		n = intNum(int64(f))
	}
	return vm.NewString(strconv.FormatInt(n.i, int(radix)))
}

// stringCharAt is a String method.
//
// charAt returns the one-byte string at an index, or the empty string.
func stringCharAt(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	b := vm.Arena.Bytes(this)
	i := vm.IntArg(args, 0, 0)
	if i < 0 || i >= int64(len(b)) {
		return vm.NewString("")
	}
	r, err := vm.Arena.NewString(b[i : i+1])
	return r, vm.wrap(err)
}

// stringCharCodeAt is a String method.
//
// charCodeAt returns the byte at an index, or NaN.
func stringCharCodeAt(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	b := vm.Arena.Bytes(this)
	i := vm.IntArg(args, 0, 0)
	if i < 0 || i >= int64(len(b)) {
		return vm.NewFloat(math.NaN())
	}
	return vm.NewInt(int64(b[i]))
}

// stringIndexOf is a String method.
//
// indexOf returns the first index of a substring at or after an optional
// start, or -1.
func stringIndexOf(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	b := vm.Arena.Bytes(this)
	sub := []byte(vm.ToString(Arg(args, 0)))
	from := vm.IntArg(args, 1, 0)
	if from < 0 {
		from = 0
	}
	if from > int64(len(b)) {
		from = int64(len(b))
	}
	i := bytes.Index(b[from:], sub)
	if i >= 0 {
		i += int(from)
	}
	return vm.NewInt(int64(i))
}

// stringSubstring is a String method.
//
// substring returns the bytes between two indices, which are clamped to the
// string and swapped if out of order.
func stringSubstring(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	b := vm.Arena.Bytes(this)
	n := int64(len(b))
	clamp := func(i int64) int64 {
		if i < 0 {
			return 0
		}
		if i > n {
			return n
		}
		return i
	}
	start, end := clamp(vm.IntArg(args, 0, 0)), clamp(vm.IntArg(args, 1, n))
	if start > end {
		start, end = end, start
	}
	r, err := vm.Arena.NewString(b[start:end])
	return r, vm.wrap(err)
}

// stringToUpperCase is a String method.
//
// toUpperCase maps ASCII letters to upper case.
func stringToUpperCase(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	b := vm.Arena.Bytes(this)
	for i, c := range b {
		if 'a' <= c && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	r, err := vm.Arena.NewString(b)
	return r, vm.wrap(err)
}

// stringToLowerCase is a String method.
//
// toLowerCase maps ASCII letters to lower case.
func stringToLowerCase(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	b := vm.Arena.Bytes(this)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	r, err := vm.Arena.NewString(b)
	return r, vm.wrap(err)
}

// stringSplit is a String method.
//
// split divides the string at each occurrence of a separator. With no
// separator, the result holds the whole string; with an empty one, each
// byte.
func stringSplit(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	b := vm.Arena.Bytes(this)
	if Arg(args, 0) == cell.None {
		return vm.newStringArray([][]byte{b})
	}
	sep := []byte(vm.ToString(args[0]))
	var parts [][]byte
	if len(sep) == 0 {
		for i := range b {
			parts = append(parts, b[i:i+1])
		}
	} else {
		parts = bytes.Split(b, sep)
	}
	return vm.newStringArray(parts)
}

// arrayPush is an Array method.
//
// push appends its arguments and returns the new length.
func arrayPush(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	for _, arg := range args {
		if err := vm.Arena.Push(this, arg); err != nil {
			return cell.None, vm.wrap(err)
		}
	}
	return vm.NewInt(vm.Arena.Length(this))
}

// arrayPop is an Array method.
//
// pop removes and returns the last element.
func arrayPop(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	a := vm.Arena
	n := a.Length(this)
	if n == 0 {
		return cell.None, nil
	}
	v, _ := a.Get(this, cell.IndexKey(n-1))
	a.Lock(v)
	a.SetLength(this, n-1)
	return v, nil
}

// arrayIndexOf is an Array method.
//
// indexOf returns the first index holding a value strictly equal to its
// argument, or -1.
func arrayIndexOf(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	a := vm.Arena
	x := Arg(args, 0)
	n := a.Length(this)
	for i := vm.IntArg(args, 1, 0); i < n; i++ {
		if i < 0 {
			continue
		}
		if v, ok := a.Get(this, cell.IndexKey(i)); ok && vm.strictEqual(v, x) {
			return vm.NewInt(i)
		}
	}
	return vm.NewInt(-1)
}

// arrayJoin is an Array method.
//
// join concatenates the string forms of the elements with a separator,
// default ",". Undefined and null elements become empty.
func arrayJoin(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	a := vm.Arena
	sep := ","
	if Arg(args, 0) != cell.None {
		sep = vm.ToString(args[0])
	}
	var b strings.Builder
	n := a.Length(this)
	for i := int64(0); i < n; i++ {
		if i > 0 {
			b.WriteString(sep)
		}
		if v, ok := a.Get(this, cell.IndexKey(i)); ok && a.Kind(v) != cell.Null {
			b.WriteString(vm.ToString(v))
		}
	}
	return vm.NewString(b.String())
}

// objectKeys is an Object method.
//
// keys returns an array of the names of a container's entries in enumeration
// order.
func objectKeys(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	a := vm.Arena
	obj := Arg(args, 0)
	if !a.Kind(obj).IsContainer() {
		return cell.None, vm.Raise(TypeError, "Object.keys called on %s", vm.TypeOf(obj))
	}
	var keys [][]byte
	it := a.Iterate(obj)
	for {
		k, _, ok := it.Next()
		if !ok {
			break
		}
		keys = append(keys, []byte(k.String()))
	}
	it.Close()
	return vm.newStringArray(keys)
}

// jsonStringify is a JSON method.
//
// stringify returns the JSON text of a value, or undefined for values JSON
// cannot represent. Circular structures raise a TypeError.
func jsonStringify(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	s, ok, err := vm.Stringify(Arg(args, 0))
	if err != nil || !ok {
		return cell.None, err
	}
	return vm.NewString(s)
}

// globalParseInt is a global function.
//
// parseInt parses the leading integer of a string in an optional radix.
func globalParseInt(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	s := strings.TrimSpace(vm.ToString(Arg(args, 0)))
	radix := vm.IntArg(args, 1, 0)
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	if (radix == 0 || radix == 16) && len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
		radix = 16
	}
	if radix == 0 {
		radix = 10
	}
	if radix < 2 || radix > 36 {
		return vm.NewFloat(math.NaN())
	}
	end := 0
	for end < len(s) && digitValue(s[end]) < int(radix) {
		end++
	}
	if end == 0 {
		return vm.NewFloat(math.NaN())
	}
	i, err := strconv.ParseInt(s[:end], int(radix), 64)
	if err != nil {
		// Too large for an integer.
		f := 0.0
		for _, c := range []byte(s[:end]) {
			f = f*float64(radix) + float64(digitValue(c))
		}
		if neg {
			f = -f
		}
		return vm.NewFloat(f)
	}
	if neg {
		i = -i
	}
	return vm.NewInt(i)
}

func digitValue(c byte) int {
	switch {
	case '0' <= c && c <= '9':
		return int(c - '0')
	case 'a' <= c && c <= 'z':
		return int(c-'a') + 10
	case 'A' <= c && c <= 'Z':
		return int(c-'A') + 10
	}
	return 99
}

// globalParseFloat is a global function.
//
// parseFloat parses the longest prefix of a string that is a decimal number.
func globalParseFloat(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	s := strings.TrimSpace(vm.ToString(Arg(args, 0)))
	for _, inf := range []string{"Infinity", "+Infinity", "-Infinity"} {
		if strings.HasPrefix(s, inf) {
			return vm.NewFloat(parseNumber(inf).f)
		}
	}
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := 0
	for end < len(s) && isDigit(s[end]) {
		end++
		digits++
	}
	if end < len(s) && s[end] == '.' {
		end++
		for end < len(s) && isDigit(s[end]) {
			end++
			digits++
		}
	}
	if digits == 0 {
		return vm.NewFloat(math.NaN())
	}
	if end < len(s) && (s[end] == 'e' || s[end] == 'E') {
		e := end + 1
		if e < len(s) && (s[e] == '-' || s[e] == '+') {
			e++
		}
		if e < len(s) && isDigit(s[e]) {
			for e < len(s) && isDigit(s[e]) {
				e++
			}
			end = e
		}
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil && !isRangeErr(err) {
		return vm.NewFloat(math.NaN())
	}
	return vm.NewFloat(f)
}

// globalIsNaN is a global function.
//
// isNaN reports whether its argument converts to NaN.
func globalIsNaN(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	n := vm.toNumber(Arg(args, 0))
	return vm.NewBool(!n.isInt && math.IsNaN(n.f))
}

// globalTrace is a global function.
//
// trace prints the cell tree under a value, or under the global scope, with
// each cell's index and counters.
func globalTrace(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	r := Arg(args, 0)
	if r == cell.None {
		r = vm.Global
	}
	vm.Trace(vm.Stdout, r)
	return cell.None, nil
}

// Trace writes the cell tree rooted at r to w. Cells already printed are
// shown by index only.
func (vm *VM) Trace(w io.Writer, r cell.Ref) {
	seen := make(map[cell.Ref]bool)
	vm.trace(w, r, 0, seen)
}

func (vm *VM) trace(w io.Writer, r cell.Ref, depth int, seen map[cell.Ref]bool) {
	a := vm.Arena
	indent := strings.Repeat("  ", depth)
	if r == cell.None {
		fmt.Fprintf(w, "%sundefined\n", indent)
		return
	}
	k := a.Kind(r)
	if seen[r] {
		fmt.Fprintf(w, "%s#%d %v (seen)\n", indent, r, k)
		return
	}
	seen[r] = true
	fmt.Fprintf(w, "%s#%d %v refs=%d locks=%d", indent, r, k, a.Refs(r), a.Locks(r))
	switch k {
	case cell.Object, cell.Array:
		fmt.Fprintln(w)
		it := a.Iterate(r)
		defer it.Close()
		for {
			key, v, ok := it.Next()
			if !ok {
				break
			}
			if key.Name == eventsKey {
				continue
			}
			fmt.Fprintf(w, "%s  %s:\n", indent, key)
			vm.trace(w, v, depth+2, seen)
		}
	default:
		fmt.Fprintf(w, " %s\n", vm.Inspect(r))
	}
}
