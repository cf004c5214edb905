package cell

import "strconv"

// Key identifies an entry in a container: either a name or an integer index.
type Key struct {
	Name    string
	Index   int64
	IsIndex bool
}

// NameKey returns a Key for a named property.
func NameKey(s string) Key {
	return Key{Name: s}
}

// IndexKey returns a Key for an array element.
func IndexKey(i int64) Key {
	return Key{Index: i, IsIndex: true}
}

// String returns the key as text.
func (k Key) String() string {
	if k.IsIndex {
		return strconv.FormatInt(k.Index, 10)
	}
	return k.Name
}

// NewObject allocates an empty object.
func (a *Arena) NewObject() (Ref, error) {
	return a.Alloc(Object)
}

// NewArray allocates an empty array.
func (a *Arena) NewArray() (Ref, error) {
	return a.Alloc(Array)
}

func (a *Arena) container(r Ref, op string) *Cell {
	c := a.at(r, op)
	if !c.kind.IsContainer() {
		invariant(r, op, "not a container but %v", c.kind)
	}
	return c
}

// newEntry allocates a detached, locked entry for k.
func (a *Arena) newEntry(k Key) (Ref, error) {
	e, err := a.Alloc(Name)
	if err != nil {
		return None, err
	}
	c := &a.cells[e]
	switch {
	case k.IsIndex:
		c.flags |= flagIndex
		c.num = uint64(k.Index)
	case len(k.Name) <= InlineCap:
		c.n = uint8(copy(c.data[:], k.Name))
	default:
		s, err := a.NewStringFrom(k.Name)
		if err != nil {
			a.Unlock(e)
			return None, err
		}
		a.cells[e].aux = s
		a.AddRef(s)
		a.Unlock(s)
	}
	return e, nil
}

// keyMatches reports whether entry e has key k.
func (a *Arena) keyMatches(e Ref, k Key) bool {
	c := &a.cells[e]
	if c.flags&flagIndex != 0 {
		return k.IsIndex && int64(c.num) == k.Index
	}
	if k.IsIndex {
		return false
	}
	if c.aux != None {
		return a.Equal(c.aux, []byte(k.Name))
	}
	return string(c.data[:c.n]) == k.Name
}

// EntryKey returns the key of entry e.
func (a *Arena) EntryKey(e Ref) Key {
	c := a.at(e, "entrykey")
	if c.flags&flagIndex != 0 {
		return IndexKey(int64(c.num))
	}
	if c.aux != None {
		return NameKey(a.Text(c.aux))
	}
	return NameKey(string(c.data[:c.n]))
}

// EntryValue returns the value linked from entry e.
func (a *Arena) EntryValue(e Ref) Ref {
	return a.at(e, "entryvalue").first
}

// Find returns the entry of container r with key k, or None.
func (a *Arena) Find(r Ref, k Key) Ref {
	for e := a.container(r, "find").first; e != None; e = a.cells[e].next {
		if a.keyMatches(e, k) {
			return e
		}
	}
	return None
}

// Get returns the value stored under k in container r. The value is not
// locked. The boolean reports whether the key exists; a key holding
// undefined reports None, true.
func (a *Arena) Get(r Ref, k Key) (Ref, bool) {
	e := a.Find(r, k)
	if e == None {
		return None, false
	}
	return a.cells[e].first, true
}

// Set stores v under k in container r. An existing entry has its value
// replaced; otherwise a new entry is appended after the last one, so
// enumeration follows insertion order.
func (a *Arena) Set(r Ref, k Key, v Ref) error {
	var last Ref
	for e := a.container(r, "set").first; e != None; e = a.cells[e].next {
		if a.keyMatches(e, k) {
			a.setValue(e, v)
			return nil
		}
		last = e
	}
	e, err := a.newEntry(k)
	if err != nil {
		return err
	}
	a.cells[e].first = v
	a.AddRef(v)
	if last == None {
		a.cells[r].first = e
	} else {
		a.cells[last].next = e
	}
	a.AddRef(e)
	a.Unlock(e)
	if c := &a.cells[r]; c.kind == Array && k.IsIndex && k.Index >= int64(c.num) {
		c.num = uint64(k.Index + 1)
	}
	return nil
}

// setValue replaces the value of entry e.
func (a *Arena) setValue(e, v Ref) {
	old := a.cells[e].first
	a.AddRef(v)
	a.cells[e].first = v
	a.RemoveRef(old)
}

// Delete removes the entry with key k from container r, dropping the
// container's reference to the entry and, through it, to the value. It
// reports whether the key was present.
func (a *Arena) Delete(r Ref, k Key) bool {
	var prev Ref
	for e := a.container(r, "delete").first; e != None; e = a.cells[e].next {
		if !a.keyMatches(e, k) {
			prev = e
			continue
		}
		next := a.cells[e].next
		if prev == None {
			a.cells[r].first = next
		} else {
			a.cells[prev].next = next
		}
		a.cells[e].next = None
		a.RemoveRef(e)
		return true
	}
	return false
}

// Count returns the number of entries in container r.
func (a *Arena) Count(r Ref) int {
	n := 0
	for e := a.container(r, "count").first; e != None; e = a.cells[e].next {
		n++
	}
	return n
}

// Length returns the length of array r.
func (a *Arena) Length(r Ref) int64 {
	c := a.container(r, "length")
	return int64(c.num)
}

// SetLength sets the length of array r. Entries at or beyond the new length
// are deleted in one pass over the entries, however sparse the array is.
func (a *Arena) SetLength(r Ref, n int64) {
	var prev Ref
	for e := a.container(r, "setlength").first; e != None; {
		c := &a.cells[e]
		next := c.next
		if c.flags&flagIndex == 0 || int64(c.num) < n {
			prev = e
			e = next
			continue
		}
		if prev == None {
			a.cells[r].first = next
		} else {
			a.cells[prev].next = next
		}
		c.next = None
		a.RemoveRef(e)
		e = next
	}
	a.cells[r].num = uint64(n)
}

// Push appends v to array r.
func (a *Arena) Push(r Ref, v Ref) error {
	return a.Set(r, IndexKey(a.Length(r)), v)
}

// Iter walks the entries of a container. The entry it is positioned on is
// locked, so deleting it from the container while iterating is safe; the
// walk then ends early. Other mutations during iteration may reorder what
// remains to be visited.
type Iter struct {
	a       *Arena
	c       Ref
	cur     Ref
	started bool
}

// Iterate returns an iterator over container r. The caller must keep r
// alive for the life of the iterator and Close it when done.
func (a *Arena) Iterate(r Ref) Iter {
	a.container(r, "iterate")
	return Iter{a: a, c: r}
}

// Next advances to the next entry and returns its key and unlocked value.
func (it *Iter) Next() (Key, Ref, bool) {
	a := it.a
	var e Ref
	if !it.started {
		e = a.cells[it.c].first
		it.started = true
	} else if it.cur != None {
		e = a.cells[it.cur].next
	}
	a.Lock(e)
	a.Unlock(it.cur)
	it.cur = e
	if e == None {
		return Key{}, None, false
	}
	return a.EntryKey(e), a.cells[e].first, true
}

// Reset restarts the iteration from the first entry.
func (it *Iter) Reset() {
	it.a.Unlock(it.cur)
	it.cur = None
	it.started = false
}

// Close releases the iterator's hold on its current entry.
func (it *Iter) Close() {
	it.Reset()
}
