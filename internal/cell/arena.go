// Package cell implements the fixed-size variable store underneath the
// interpreter. Every value a script can observe lives in a Cell inside an
// Arena, and cells refer to each other only by index, never by pointer, so a
// whole arena can be written out and read back as-is.
//
// Ownership follows two counters per cell. Refs counts owning links from
// other cells (containers, chains, scopes). Locks counts transient holds by
// native code that is working with the cell right now. A cell returns to the
// free list when both reach zero. Allocation hands the cell back with one
// lock held by the caller.
//
// An Arena is not safe for concurrent use. It belongs to one goroutine.
package cell

import (
	"errors"
	"fmt"
	"math"
)

// Ref is an index into an Arena. The zero Ref is None.
type Ref uint16

// None is the invalid Ref. Scripts see it as undefined.
const None Ref = 0

// MaxCells is the largest arena that Ref can index. Index 0 is reserved for
// None, so an arena of MaxCells cells uses indices 1 through MaxCells.
const MaxCells = math.MaxUint16

// InlineCap is the number of payload bytes carried by a single cell.
const InlineCap = 16

// ErrOutOfMemory is returned by allocation when the free list is empty.
var ErrOutOfMemory = errors.New("cell: out of memory")

// ErrArenaSize is returned by NewArena for a capacity the Ref width cannot
// address.
var ErrArenaSize = errors.New("cell: arena size out of range")

// Kind is the variant tag of a cell.
type Kind uint8

// Cell variants.
const (
	// Free cells are on the free list and hold no payload.
	Free Kind = iota
	// Null is the null sentinel.
	Null
	// Bool holds a boolean in its number payload.
	Bool
	// Int holds an int64 in its number payload.
	Int
	// Float holds float64 bits in its number payload.
	Float
	// String is the head of a string chain. Its inline bytes are the first
	// bytes of the string and next links the first fragment.
	String
	// Fragment continues a string chain.
	Fragment
	// Object is a keyed container. first links its first entry and aux may
	// link a parent scope when the object is used as a scope.
	Object
	// Array is an index-keyed container. Its number payload is its length.
	Array
	// Name is a container entry: first links the value, next links the
	// sibling entry, and aux links the key string for long names.
	Name
	// Function is a script function: aux links the source string, first
	// links the captured scope, and the number payload packs the span of
	// the function's text in the source.
	Function
	// Native is a built-in function whose number payload indexes the VM's
	// native table.
	Native
)

var kindNames = [...]string{"free", "null", "bool", "int", "float", "string", "fragment", "object", "array", "name", "function", "native"}

// String returns the name of the kind.
func (k Kind) String() string {
	if int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", k)
	}
	return kindNames[k]
}

// IsContainer returns whether cells of kind k hold entries.
func (k Kind) IsContainer() bool {
	return k == Object || k == Array
}

// Cell flags.
const (
	// flagIndex marks a Name entry whose key is an integer index.
	flagIndex uint8 = 1 << iota
	// flagMark is the collector's mark bit.
	flagMark
)

// Cell is a single fixed-size unit of storage. All link fields are owning.
type Cell struct {
	kind  Kind
	flags uint8
	n     uint8
	refs  uint16
	locks uint16
	next  Ref
	first Ref
	aux   Ref
	num   uint64
	data  [InlineCap]byte
}

// Arena is a fixed pool of cells with an intrusive free list threaded
// through the next links of free cells.
type Arena struct {
	cells []Cell
	free  Ref
	nfree int
	root  Ref

	// dying is the work list for iterative destruction.
	dying []Ref
	// marks is the collector's fixed-size mark stack.
	marks    [markStackSize]Ref
	nmarks   int
	overflow bool
}

// NewArena creates an arena holding n cells.
func NewArena(n int) (*Arena, error) {
	if n < 1 || n > MaxCells {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrArenaSize, n, MaxCells)
	}
	a := &Arena{cells: make([]Cell, n+1)}
	a.Reset()
	return a, nil
}

// Reset frees every cell in the arena, including the root.
func (a *Arena) Reset() {
	for i := range a.cells {
		a.cells[i] = Cell{}
	}
	a.free = None
	for i := len(a.cells) - 1; i > 0; i-- {
		a.cells[i].next = a.free
		a.free = Ref(i)
	}
	a.nfree = len(a.cells) - 1
	a.root = None
	a.dying = a.dying[:0]
	a.nmarks = 0
	a.overflow = false
}

// Cap returns the number of cells in the arena.
func (a *Arena) Cap() int {
	return len(a.cells) - 1
}

// FreeCount returns the number of cells on the free list.
func (a *Arena) FreeCount() int {
	return a.nfree
}

// Live returns the number of allocated cells.
func (a *Arena) Live() int {
	return a.Cap() - a.nfree
}

// Alloc takes a cell from the free list and returns it with one lock held.
func (a *Arena) Alloc(k Kind) (Ref, error) {
	r := a.free
	if r == None {
		return None, ErrOutOfMemory
	}
	c := &a.cells[r]
	a.free = c.next
	a.nfree--
	*c = Cell{kind: k, locks: 1}
	return r, nil
}

// Release returns a cell to the free list. Both counters must be zero.
// Owned links are not followed; use Unlock or RemoveRef to destroy a cell
// together with what it owns.
func (a *Arena) Release(r Ref) {
	c := a.at(r, "release")
	if c.refs != 0 || c.locks != 0 {
		invariant(r, "release", "cell still referenced (refs=%d locks=%d)", c.refs, c.locks)
	}
	a.push(r)
}

// push clears a cell and puts it on the free list without checks.
func (a *Arena) push(r Ref) {
	a.cells[r] = Cell{next: a.free}
	a.free = r
	a.nfree++
}

// at returns the cell for r, panicking on None, out-of-range, or free cells.
func (a *Arena) at(r Ref, op string) *Cell {
	if r == None || int(r) >= len(a.cells) {
		invariant(r, op, "ref out of range")
	}
	c := &a.cells[r]
	if c.kind == Free {
		invariant(r, op, "use of free cell")
	}
	return c
}

// Kind returns the kind of r. None reports Free.
func (a *Arena) Kind(r Ref) Kind {
	if r == None || int(r) >= len(a.cells) {
		return Free
	}
	return a.cells[r].kind
}

// Refs returns the owning reference count of r.
func (a *Arena) Refs(r Ref) int {
	return int(a.at(r, "refs").refs)
}

// Locks returns the transient lock count of r.
func (a *Arena) Locks(r Ref) int {
	return int(a.at(r, "locks").locks)
}

// Root returns the arena's root container.
func (a *Arena) Root() Ref {
	return a.root
}

// SetRoot makes r the root container. The arena takes an owning reference to
// r and drops its reference to any previous root.
func (a *Arena) SetRoot(r Ref) {
	if r != None {
		a.AddRef(r)
	}
	old := a.root
	a.root = r
	if old != None {
		a.RemoveRef(old)
	}
}

// Stats summarizes arena occupancy.
type Stats struct {
	Cells  int
	Free   int
	Live   int
	Locked int
}

// Stats returns the current occupancy of the arena.
func (a *Arena) Stats() Stats {
	s := Stats{Cells: a.Cap(), Free: a.nfree, Live: a.Live()}
	for i := 1; i < len(a.cells); i++ {
		if a.cells[i].kind != Free && a.cells[i].locks > 0 {
			s.Locked++
		}
	}
	return s
}
