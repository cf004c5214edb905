package cell

import "bytes"

// NewString stores b as a chain of cells and returns the head with one lock
// held. If the arena runs out of cells partway through, every cell taken so
// far is released and ErrOutOfMemory is returned.
func (a *Arena) NewString(b []byte) (Ref, error) {
	head, err := a.Alloc(String)
	if err != nil {
		return None, err
	}
	c := &a.cells[head]
	c.n = uint8(copy(c.data[:], b))
	if rest := b[c.n:]; len(rest) > 0 {
		frag, err := a.newFragments(rest)
		if err != nil {
			a.Unlock(head)
			return None, err
		}
		a.cells[head].next = frag
		a.AddRef(frag)
		a.Unlock(frag)
	}
	return head, nil
}

// NewStringFrom is NewString for a Go string.
func (a *Arena) NewStringFrom(s string) (Ref, error) {
	return a.NewString([]byte(s))
}

// newFragments builds a detached chain of fragment cells holding b and
// returns its first cell locked. Nothing is left allocated on failure.
func (a *Arena) newFragments(b []byte) (Ref, error) {
	first, err := a.Alloc(Fragment)
	if err != nil {
		return None, err
	}
	last := first
	for {
		c := &a.cells[last]
		c.n = uint8(copy(c.data[:], b))
		b = b[c.n:]
		if len(b) == 0 {
			return first, nil
		}
		f, err := a.Alloc(Fragment)
		if err != nil {
			a.Unlock(first)
			return None, err
		}
		a.cells[last].next = f
		a.AddRef(f)
		a.Unlock(f)
		last = f
	}
}

func (a *Arena) checkString(r Ref, op string) *Cell {
	c := a.at(r, op)
	if c.kind != String && c.kind != Fragment {
		invariant(r, op, "not a string but %v", c.kind)
	}
	return c
}

// Len returns the total length of the string whose head is r. It walks the
// whole chain.
func (a *Arena) Len(r Ref) int {
	n := 0
	for c := a.checkString(r, "len"); ; c = &a.cells[c.next] {
		n += int(c.n)
		if c.next == None {
			return n
		}
	}
}

// Read copies up to n bytes of the string r starting at off into out and
// returns the number of bytes copied.
func (a *Arena) Read(r Ref, off, n int, out []byte) int {
	if n > len(out) {
		n = len(out)
	}
	if off < 0 || n <= 0 {
		return 0
	}
	w := 0
	for c := a.checkString(r, "read"); w < n; c = &a.cells[c.next] {
		if off < int(c.n) {
			w += copy(out[w:n], c.data[off:c.n])
			off = 0
		} else {
			off -= int(c.n)
		}
		if c.next == None {
			break
		}
	}
	return w
}

// Bytes returns the full contents of the string r.
func (a *Arena) Bytes(r Ref) []byte {
	b := make([]byte, a.Len(r))
	a.Read(r, 0, len(b), b)
	return b
}

// Text returns the full contents of the string r as a Go string.
func (a *Arena) Text(r Ref) string {
	return string(a.Bytes(r))
}

// Equal reports whether the string r holds exactly b.
func (a *Arena) Equal(r Ref, b []byte) bool {
	for c := a.checkString(r, "equal"); ; c = &a.cells[c.next] {
		if len(b) < int(c.n) || !bytes.Equal(c.data[:c.n], b[:c.n]) {
			return false
		}
		b = b[c.n:]
		if c.next == None {
			return len(b) == 0
		}
	}
}

// Append extends the string r with b. New fragments are built before the
// chain is touched, so on ErrOutOfMemory r is unchanged.
func (a *Arena) Append(r Ref, b []byte) error {
	last := r
	for c := a.checkString(r, "append"); c.next != None; c = &a.cells[c.next] {
		last = c.next
	}
	c := &a.cells[last]
	room := InlineCap - int(c.n)
	if room > len(b) {
		room = len(b)
	}
	var frag Ref
	if len(b) > room {
		var err error
		frag, err = a.newFragments(b[room:])
		if err != nil {
			return err
		}
	}
	c = &a.cells[last]
	c.n += uint8(copy(c.data[c.n:], b[:room]))
	if frag != None {
		c.next = frag
		a.AddRef(frag)
		a.Unlock(frag)
	}
	return nil
}

// Concat returns a new string holding the contents of x followed by y.
func (a *Arena) Concat(x, y Ref) (Ref, error) {
	r, err := a.NewString(a.Bytes(x))
	if err != nil {
		return None, err
	}
	if err := a.Append(r, a.Bytes(y)); err != nil {
		a.Unlock(r)
		return None, err
	}
	return r, nil
}
