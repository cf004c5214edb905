package internal

import (
	"math"
	"strconv"
	"strings"

	"github.com/zephyrtronium/tinyscript/internal/cell"
)

// number is a script number in transit between cells. Integers stay exact;
// anything else is a float.
type number struct {
	i     int64
	f     float64
	isInt bool
}

func intNum(i int64) number     { return number{i: i, isInt: true} }
func floatNum(f float64) number { return number{f: f} }

// float returns n as a float64.
func (n number) float() float64 {
	if n.isInt {
		return float64(n.i)
	}
	return n.f
}

// int32 converts n the way bitwise operators do: truncate, then wrap to 32
// bits. NaN and infinities become 0.
func (n number) int32() int32 {
	if n.isInt {
		return int32(uint32(n.i))
	}
	if math.IsNaN(n.f) || math.IsInf(n.f, 0) {
		return 0
	}
	return int32(uint32(int64(math.Mod(math.Trunc(n.f), 1<<32))))
}

// newNumber allocates an Int or Float cell for n.
func (vm *VM) newNumber(n number) (cell.Ref, error) {
	var r cell.Ref
	var err error
	if n.isInt {
		r, err = vm.Arena.NewInt(n.i)
	} else {
		r, err = vm.Arena.NewFloat(n.f)
	}
	return r, vm.wrap(err)
}

// toNumber converts any value to a number.
func (vm *VM) toNumber(v cell.Ref) number {
	a := vm.Arena
	switch a.Kind(v) {
	case cell.Int:
		return intNum(a.Int(v))
	case cell.Float:
		return floatNum(a.Float(v))
	case cell.Bool:
		if a.Bool(v) {
			return intNum(1)
		}
		return intNum(0)
	case cell.Null:
		return intNum(0)
	case cell.String:
		return parseNumber(strings.TrimSpace(a.Text(v)))
	case cell.Array:
		switch a.Length(v) {
		case 0:
			return intNum(0)
		case 1:
			if e, ok := a.Get(v, cell.IndexKey(0)); ok {
				return vm.toNumber(e)
			}
		}
	}
	return floatNum(math.NaN())
}

// parseNumber parses a complete numeric string. The empty string is 0.
func parseNumber(s string) number {
	switch s {
	case "":
		return intNum(0)
	case "Infinity", "+Infinity":
		return floatNum(math.Inf(1))
	case "-Infinity":
		return floatNum(math.Inf(-1))
	}
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		if i, err := strconv.ParseInt(s[2:], 16, 64); err == nil {
			return intNum(i)
		}
		return floatNum(math.NaN())
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return intNum(i)
	}
	// ParseFloat accepts forms scripts do not, like "inf" and "0x1p3".
	if strings.ContainsAny(s, "xXpPnN_") {
		return floatNum(math.NaN())
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil || isRangeErr(err) {
		return floatNum(f)
	}
	return floatNum(math.NaN())
}

func isRangeErr(err error) bool {
	ne, ok := err.(*strconv.NumError)
	return ok && ne.Err == strconv.ErrRange
}

// parseLiteral parses the text of a number token.
func parseLiteral(s string) number {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		if i, err := strconv.ParseUint(s[2:], 16, 64); err == nil && i <= math.MaxInt64 {
			return intNum(int64(i))
		}
		f, _ := strconv.ParseFloat(s, 64)
		return floatNum(f)
	}
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return intNum(i)
		}
	}
	f, _ := strconv.ParseFloat(s, 64)
	return floatNum(f)
}

// formatNumber renders a number the way scripts print it.
func formatNumber(n number) string {
	if n.isInt {
		return strconv.FormatInt(n.i, 10)
	}
	f := n.f
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	if abs := math.Abs(f); abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	// Go writes e+07 where scripts write e+7.
	mant, exp, _ := strings.Cut(s, "e")
	sign := exp[:1]
	exp = strings.TrimLeft(exp[1:], "0")
	return mant + "e" + sign + exp
}

// truthy reports whether v counts as true in a condition.
func (vm *VM) truthy(v cell.Ref) bool {
	a := vm.Arena
	switch a.Kind(v) {
	case cell.Free, cell.Null:
		return false
	case cell.Bool:
		return a.Bool(v)
	case cell.Int:
		return a.Int(v) != 0
	case cell.Float:
		f := a.Float(v)
		return f != 0 && !math.IsNaN(f)
	case cell.String:
		return a.Len(v) > 0
	}
	return true
}

// TypeOf returns the result of the typeof operator for v.
func (vm *VM) TypeOf(v cell.Ref) string {
	switch vm.Arena.Kind(v) {
	case cell.Free:
		return "undefined"
	case cell.Bool:
		return "boolean"
	case cell.Int, cell.Float:
		return "number"
	case cell.String:
		return "string"
	case cell.Function, cell.Native:
		return "function"
	}
	return "object"
}

// ToString converts v to text as string concatenation does. Arrays that
// contain themselves render the inner reference as empty.
func (vm *VM) ToString(v cell.Ref) string {
	var b strings.Builder
	vm.writeString(&b, v, nil)
	return b.String()
}

func (vm *VM) writeString(b *strings.Builder, v cell.Ref, path []cell.Ref) {
	a := vm.Arena
	switch a.Kind(v) {
	case cell.Free:
		b.WriteString("undefined")
	case cell.Null:
		b.WriteString("null")
	case cell.Bool:
		b.WriteString(strconv.FormatBool(a.Bool(v)))
	case cell.Int, cell.Float:
		b.WriteString(formatNumber(vm.toNumber(v)))
	case cell.String:
		b.Write(a.Bytes(v))
	case cell.Array:
		if onPath(path, v) {
			return
		}
		path = append(path, v)
		n := a.Length(v)
		for i := int64(0); i < n; i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			if e, ok := a.Get(v, cell.IndexKey(i)); ok && a.Kind(e) != cell.Null {
				vm.writeString(b, e, path)
			}
		}
	case cell.Object:
		b.WriteString("[object Object]")
	case cell.Function:
		b.WriteString(vm.functionText(v))
	case cell.Native:
		b.WriteString("function ")
		b.WriteString(vm.nativeName(v))
		b.WriteString("() { [native code] }")
	}
}

func onPath(path []cell.Ref, v cell.Ref) bool {
	for _, p := range path {
		if p == v {
			return true
		}
	}
	return false
}

// functionText returns the source text of a script function.
func (vm *VM) functionText(fn cell.Ref) string {
	src, off, n := vm.Arena.FunctionSpan(fn)
	b := make([]byte, n)
	vm.Arena.Read(src, off, n, b)
	return string(b)
}

// Inspect renders v for display, quoting strings and expanding containers.
// Containers that contain themselves show the inner reference as
// [Circular].
func (vm *VM) Inspect(v cell.Ref) string {
	var b strings.Builder
	vm.inspect(&b, v, nil)
	return b.String()
}

func (vm *VM) inspect(b *strings.Builder, v cell.Ref, path []cell.Ref) {
	a := vm.Arena
	switch k := a.Kind(v); k {
	case cell.String:
		b.WriteString(quote(a.Bytes(v), '"', false))
	case cell.Function:
		name := funcName(vm.functionText(v))
		if name == "" {
			b.WriteString("[Function]")
		} else {
			b.WriteString("[Function: " + name + "]")
		}
	case cell.Native:
		b.WriteString("[Function: " + vm.nativeName(v) + "]")
	case cell.Array, cell.Object:
		if onPath(path, v) {
			b.WriteString("[Circular]")
			return
		}
		path = append(path, v)
		if k == cell.Array {
			b.WriteByte('[')
			n := a.Length(v)
			for i := int64(0); i < n; i++ {
				if i > 0 {
					b.WriteString(", ")
				}
				e, _ := a.Get(v, cell.IndexKey(i))
				vm.inspect(b, e, path)
			}
			b.WriteByte(']')
			return
		}
		b.WriteByte('{')
		it := a.Iterate(v)
		defer it.Close()
		first := true
		for {
			key, e, ok := it.Next()
			if !ok {
				break
			}
			if first {
				b.WriteByte(' ')
				first = false
			} else {
				b.WriteString(", ")
			}
			if isIdentifier(key.String()) {
				b.WriteString(key.String())
			} else {
				b.WriteString(quote([]byte(key.String()), '"', false))
			}
			b.WriteString(": ")
			vm.inspect(b, e, path)
		}
		if !first {
			b.WriteByte(' ')
		}
		b.WriteByte('}')
	default:
		vm.writeString(b, v, nil)
	}
}

// funcName extracts the name from function source text.
func funcName(text string) string {
	l := newLexer([]byte(text), 0)
	if !l.isWord("function") {
		return ""
	}
	l.next()
	if l.tok.Kind == identToken {
		return l.tok.Value
	}
	return ""
}

func isIdentifier(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentPart(s[i]) {
			return false
		}
	}
	return true
}

// quote returns b as a quoted literal. With json set, non-ASCII bytes pass
// through and only the escapes JSON defines are used.
func quote(b []byte, q byte, json bool) string {
	var s strings.Builder
	s.WriteByte(q)
	for _, c := range b {
		switch c {
		case q, '\\':
			s.WriteByte('\\')
			s.WriteByte(c)
		case '\n':
			s.WriteString(`\n`)
		case '\r':
			s.WriteString(`\r`)
		case '\t':
			s.WriteString(`\t`)
		case '\b':
			s.WriteString(`\b`)
		case '\f':
			s.WriteString(`\f`)
		default:
			switch {
			case c < 0x20 && json:
				s.WriteString(`\u00`)
				s.WriteByte("0123456789abcdef"[c>>4])
				s.WriteByte("0123456789abcdef"[c&15])
			case c < 0x20 || c == 0x7f:
				s.WriteString(`\x`)
				s.WriteByte("0123456789abcdef"[c>>4])
				s.WriteByte("0123456789abcdef"[c&15])
			default:
				s.WriteByte(c)
			}
		}
	}
	s.WriteByte(q)
	return s.String()
}

// Stringify renders v as JSON. Undefined values and functions are omitted
// from objects and become null in arrays. Cycles raise a TypeError.
func (vm *VM) Stringify(v cell.Ref) (string, bool, error) {
	var b strings.Builder
	ok, err := vm.stringify(&b, v, nil)
	return b.String(), ok, err
}

func (vm *VM) stringify(b *strings.Builder, v cell.Ref, path []cell.Ref) (bool, error) {
	a := vm.Arena
	switch k := a.Kind(v); k {
	case cell.Free, cell.Function, cell.Native:
		return false, nil
	case cell.Null:
		b.WriteString("null")
	case cell.Bool:
		b.WriteString(strconv.FormatBool(a.Bool(v)))
	case cell.Int, cell.Float:
		n := vm.toNumber(v)
		if !n.isInt && (math.IsNaN(n.f) || math.IsInf(n.f, 0)) {
			b.WriteString("null")
		} else {
			b.WriteString(formatNumber(n))
		}
	case cell.String:
		b.WriteString(quote(a.Bytes(v), '"', true))
	case cell.Array, cell.Object:
		if onPath(path, v) {
			return false, vm.Raise(TypeError, "cannot convert circular structure to JSON")
		}
		path = append(path, v)
		if k == cell.Array {
			b.WriteByte('[')
			n := a.Length(v)
			for i := int64(0); i < n; i++ {
				if i > 0 {
					b.WriteByte(',')
				}
				e, _ := a.Get(v, cell.IndexKey(i))
				ok, err := vm.stringify(b, e, path)
				if err != nil {
					return false, err
				}
				if !ok {
					b.WriteString("null")
				}
			}
			b.WriteByte(']')
			return true, nil
		}
		b.WriteByte('{')
		it := a.Iterate(v)
		defer it.Close()
		first := true
		for {
			key, e, ok := it.Next()
			if !ok {
				break
			}
			var sub strings.Builder
			ok, err := vm.stringify(&sub, e, path)
			if err != nil {
				return false, err
			}
			if !ok {
				continue
			}
			if !first {
				b.WriteByte(',')
			}
			first = false
			b.WriteString(quote([]byte(key.String()), '"', true))
			b.WriteByte(':')
			b.WriteString(sub.String())
		}
		b.WriteByte('}')
	}
	return true, nil
}
