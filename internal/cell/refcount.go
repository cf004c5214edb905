package cell

import (
	"fmt"
	"math"
)

// InvariantError describes a breach of the arena's ownership rules. It is
// never returned; operations that detect one panic with it, because the
// arena can no longer be trusted afterward.
type InvariantError struct {
	Ref    Ref
	Op     string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("cell: invariant violated in %s on cell %d: %s", e.Op, e.Ref, e.Reason)
}

func invariant(r Ref, op, format string, args ...interface{}) {
	panic(&InvariantError{Ref: r, Op: op, Reason: fmt.Sprintf(format, args...)})
}

// Lock adds a transient hold on r and returns r. None is returned unchanged.
func (a *Arena) Lock(r Ref) Ref {
	if r == None {
		return None
	}
	c := a.at(r, "lock")
	if c.locks == math.MaxUint16 {
		invariant(r, "lock", "lock count overflow")
	}
	c.locks++
	return r
}

// Unlock drops a transient hold on r. The cell is destroyed if nothing else
// holds or references it. Unlocking None does nothing.
func (a *Arena) Unlock(r Ref) {
	if r == None {
		return
	}
	c := a.at(r, "unlock")
	if c.locks == 0 {
		invariant(r, "unlock", "lock count underflow")
	}
	c.locks--
	if c.locks == 0 && c.refs == 0 {
		a.destroy(r)
	}
}

// AddRef records an owning link to r.
func (a *Arena) AddRef(r Ref) {
	if r == None {
		return
	}
	c := a.at(r, "addref")
	if c.refs == math.MaxUint16 {
		invariant(r, "addref", "reference count overflow")
	}
	c.refs++
}

// RemoveRef drops an owning link to r, destroying it if nothing else holds
// or references it.
func (a *Arena) RemoveRef(r Ref) {
	if r == None {
		return
	}
	c := a.at(r, "removeref")
	if c.refs == 0 {
		invariant(r, "removeref", "reference count underflow")
	}
	c.refs--
	if c.locks == 0 && c.refs == 0 {
		a.destroy(r)
	}
}

// destroy frees r and everything reachable only through it. The walk is
// iterative so deep chains cannot exhaust the stack.
func (a *Arena) destroy(r Ref) {
	base := len(a.dying)
	a.dying = append(a.dying, r)
	for len(a.dying) > base {
		x := a.dying[len(a.dying)-1]
		a.dying = a.dying[:len(a.dying)-1]
		for _, l := range a.cells[x].links() {
			if l == None {
				continue
			}
			lc := a.at(l, "destroy")
			if lc.refs == 0 {
				invariant(l, "destroy", "owned link with zero references from cell %d", x)
			}
			lc.refs--
			if lc.refs == 0 && lc.locks == 0 {
				a.dying = append(a.dying, l)
			}
		}
		a.push(x)
	}
}

// links returns the owned links of the cell.
func (c *Cell) links() [3]Ref {
	return [...]Ref{c.next, c.first, c.aux}
}

// Handle is a scoped lock on a cell. The zero Handle holds nothing.
//
//	h := a.Hold(r)
//	defer h.Release()
type Handle struct {
	a *Arena
	r Ref
}

// Hold takes a lock on r and returns a Handle that releases it.
func (a *Arena) Hold(r Ref) Handle {
	return Handle{a: a, r: a.Lock(r)}
}

// Adopt wraps an already-held lock on r, e.g. a fresh allocation, in a
// Handle.
func (a *Arena) Adopt(r Ref) Handle {
	return Handle{a: a, r: r}
}

// Ref returns the held cell.
func (h Handle) Ref() Ref {
	return h.r
}

// Release drops the lock. It is safe to call on a zero Handle.
func (h *Handle) Release() {
	if h.a != nil && h.r != None {
		h.a.Unlock(h.r)
	}
	h.r = None
}

// Detach returns the held cell and gives up responsibility for its lock.
func (h *Handle) Detach() Ref {
	r := h.r
	h.r = None
	return r
}
