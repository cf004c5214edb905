package cell

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// snapshotVersion identifies the encoding written by MarshalSnapshot.
const snapshotVersion = 1

// ErrLockedSnapshot is returned by MarshalSnapshot when native code still
// holds locks. Locks belong to running Go code and cannot be persisted.
var ErrLockedSnapshot = errors.New("cell: cannot snapshot arena with locked cells")

// ErrBadSnapshot is returned when a snapshot is malformed or does not fit the
// arena.
var ErrBadSnapshot = errors.New("cell: bad snapshot")

var snapshotEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cell: failed to create CBOR enc mode: %v", err))
	}
	snapshotEncMode = em
}

// snapshot is the persisted form of an arena. Free cells are omitted.
type snapshot struct {
	Version int            `cbor:"v"`
	Cap     int            `cbor:"cap"`
	Root    Ref            `cbor:"root"`
	Cells   []snapshotCell `cbor:"cells"`
}

type snapshotCell struct {
	_     struct{} `cbor:",toarray"`
	Index Ref
	Kind  Kind
	Flags uint8
	Refs  uint16
	Next  Ref
	First Ref
	Aux   Ref
	Num   uint64
	Data  []byte
}

// MarshalSnapshot encodes every allocated cell and the root. Because cells
// link by index, the encoding is the variable graph itself.
func (a *Arena) MarshalSnapshot() ([]byte, error) {
	s := snapshot{Version: snapshotVersion, Cap: a.Cap(), Root: a.root}
	for i := 1; i < len(a.cells); i++ {
		c := &a.cells[i]
		if c.kind == Free {
			continue
		}
		if c.locks != 0 {
			return nil, fmt.Errorf("%w: cell %d has %d locks", ErrLockedSnapshot, i, c.locks)
		}
		sc := snapshotCell{
			Index: Ref(i),
			Kind:  c.kind,
			Flags: c.flags &^ flagMark,
			Refs:  c.refs,
			Next:  c.next,
			First: c.first,
			Aux:   c.aux,
			Num:   c.num,
		}
		if c.n > 0 {
			sc.Data = append([]byte(nil), c.data[:c.n]...)
		}
		s.Cells = append(s.Cells, sc)
	}
	return snapshotEncMode.Marshal(&s)
}

// UnmarshalSnapshot replaces the contents of the arena with a snapshot. The
// arena must be at least as large as the one that was saved. The snapshot is
// checked for consistency before anything is replaced; on error the arena is
// unchanged.
func (a *Arena) UnmarshalSnapshot(b []byte) error {
	var s snapshot
	if err := cbor.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if s.Version != snapshotVersion {
		return fmt.Errorf("%w: version %d", ErrBadSnapshot, s.Version)
	}
	cells := make([]Cell, len(a.cells))
	for _, sc := range s.Cells {
		switch {
		case sc.Index == None || int(sc.Index) >= len(cells):
			return fmt.Errorf("%w: cell %d does not fit in %d cells", ErrBadSnapshot, sc.Index, a.Cap())
		case sc.Kind == Free || int(sc.Kind) >= len(kindNames):
			return fmt.Errorf("%w: cell %d has kind %v", ErrBadSnapshot, sc.Index, sc.Kind)
		case len(sc.Data) > InlineCap:
			return fmt.Errorf("%w: cell %d has %d inline bytes", ErrBadSnapshot, sc.Index, len(sc.Data))
		case cells[sc.Index].kind != Free:
			return fmt.Errorf("%w: cell %d appears twice", ErrBadSnapshot, sc.Index)
		}
		c := &cells[sc.Index]
		*c = Cell{
			kind:  sc.Kind,
			flags: sc.Flags &^ flagMark,
			n:     uint8(len(sc.Data)),
			refs:  sc.Refs,
			next:  sc.Next,
			first: sc.First,
			aux:   sc.Aux,
			num:   sc.Num,
		}
		copy(c.data[:], sc.Data)
	}

	// Every owning link must land on an allocated cell, and every cell's
	// reference count must equal the links into it.
	incoming := make([]int, len(cells))
	if s.Root != None {
		incoming[s.Root]++
	}
	for i := 1; i < len(cells); i++ {
		if cells[i].kind == Free {
			continue
		}
		for _, l := range cells[i].links() {
			if l == None {
				continue
			}
			if int(l) >= len(cells) || cells[l].kind == Free {
				return fmt.Errorf("%w: cell %d links to unallocated cell %d", ErrBadSnapshot, i, l)
			}
			incoming[l]++
		}
	}
	if s.Root != None && (int(s.Root) >= len(cells) || !cells[s.Root].kind.IsContainer()) {
		return fmt.Errorf("%w: root %d is not a container", ErrBadSnapshot, s.Root)
	}
	for i := 1; i < len(cells); i++ {
		if cells[i].kind == Free {
			continue
		}
		if int(cells[i].refs) != incoming[i] {
			return fmt.Errorf("%w: cell %d has %d refs but %d links", ErrBadSnapshot, i, cells[i].refs, incoming[i])
		}
		if incoming[i] == 0 {
			return fmt.Errorf("%w: cell %d is unowned", ErrBadSnapshot, i)
		}
	}

	a.cells = cells
	a.root = s.Root
	a.free = None
	a.nfree = 0
	for i := len(cells) - 1; i > 0; i-- {
		if cells[i].kind == Free {
			cells[i].next = a.free
			a.free = Ref(i)
			a.nfree++
		}
	}
	a.dying = a.dying[:0]
	a.nmarks = 0
	a.overflow = false
	return nil
}

// RemapNatives rewrites the native table index of every Native cell through
// table, where a negative entry marks an index with no replacement. Nothing
// changes if any Native cell would be left without one.
func (a *Arena) RemapNatives(table []int) error {
	for i := 1; i < len(a.cells); i++ {
		c := &a.cells[i]
		if c.kind != Native {
			continue
		}
		if c.num >= uint64(len(table)) || table[c.num] < 0 {
			return fmt.Errorf("%w: cell %d names unknown native %d", ErrBadSnapshot, i, c.num)
		}
	}
	for i := 1; i < len(a.cells); i++ {
		if c := &a.cells[i]; c.kind == Native {
			c.num = uint64(table[c.num])
		}
	}
	return nil
}
