package cell

import "math"

// NewNull allocates a null cell.
func (a *Arena) NewNull() (Ref, error) {
	return a.Alloc(Null)
}

// NewBool allocates a boolean cell.
func (a *Arena) NewBool(v bool) (Ref, error) {
	r, err := a.Alloc(Bool)
	if err != nil {
		return None, err
	}
	if v {
		a.cells[r].num = 1
	}
	return r, nil
}

// NewInt allocates an integer cell.
func (a *Arena) NewInt(v int64) (Ref, error) {
	r, err := a.Alloc(Int)
	if err != nil {
		return None, err
	}
	a.cells[r].num = uint64(v)
	return r, nil
}

// NewFloat allocates a floating-point cell.
func (a *Arena) NewFloat(v float64) (Ref, error) {
	r, err := a.Alloc(Float)
	if err != nil {
		return None, err
	}
	a.cells[r].num = math.Float64bits(v)
	return r, nil
}

// Bool returns the value of a Bool cell.
func (a *Arena) Bool(r Ref) bool {
	return a.at(r, "bool").num != 0
}

// Int returns the value of an Int cell.
func (a *Arena) Int(r Ref) int64 {
	return int64(a.at(r, "int").num)
}

// Float returns the value of a Float cell.
func (a *Arena) Float(r Ref) float64 {
	return math.Float64frombits(a.at(r, "float").num)
}

// NewNative allocates a cell naming entry id of the native function table.
func (a *Arena) NewNative(id int) (Ref, error) {
	r, err := a.Alloc(Native)
	if err != nil {
		return None, err
	}
	a.cells[r].num = uint64(id)
	return r, nil
}

// NativeID returns the native table index of a Native cell.
func (a *Arena) NativeID(r Ref) int {
	return int(a.at(r, "native").num)
}

// NewFunction allocates a function whose text is the span [off, off+n) of
// the string src and whose captured scope is scope. The function takes
// owning references to both.
func (a *Arena) NewFunction(src Ref, off, n int, scope Ref) (Ref, error) {
	r, err := a.Alloc(Function)
	if err != nil {
		return None, err
	}
	c := &a.cells[r]
	c.aux = src
	c.first = scope
	c.num = uint64(uint32(off))<<32 | uint64(uint32(n))
	a.AddRef(src)
	a.AddRef(scope)
	return r, nil
}

// FunctionSpan returns the source string and the span of a function's text.
func (a *Arena) FunctionSpan(r Ref) (src Ref, off, n int) {
	c := a.at(r, "function")
	return c.aux, int(c.num >> 32), int(uint32(c.num))
}

// FunctionScope returns the scope captured by a function.
func (a *Arena) FunctionScope(r Ref) Ref {
	return a.at(r, "function").first
}

// NewScope allocates an empty object whose parent scope is parent. The scope
// owns its parent so closures keep their whole chain alive.
func (a *Arena) NewScope(parent Ref) (Ref, error) {
	r, err := a.Alloc(Object)
	if err != nil {
		return None, err
	}
	a.cells[r].aux = parent
	a.AddRef(parent)
	return r, nil
}

// Parent returns the parent scope of an object, or None.
func (a *Arena) Parent(r Ref) Ref {
	return a.at(r, "parent").aux
}
