package cell

// markStackSize bounds the collector's work list. When it fills, marking
// continues by rescanning the arena for marked cells with unmarked links.
const markStackSize = 32

// Collect reclaims cells that are allocated but unreachable: reference
// cycles that counting alone can never free. Roots are the arena's root
// container, every locked cell, and any extra refs given. Only owning links
// are followed. Returns the number of cells freed.
//
// Locked cells are always roots, so a value being built by native code is
// never collected even before it is attached anywhere.
func (a *Arena) Collect(extra ...Ref) int {
	a.nmarks = 0
	a.overflow = false
	a.mark(a.root)
	for _, r := range extra {
		a.mark(r)
	}
	for i := 1; i < len(a.cells); i++ {
		if c := &a.cells[i]; c.kind != Free && c.locks > 0 {
			a.mark(Ref(i))
			a.drain()
		}
	}
	a.drain()
	for a.overflow {
		a.overflow = false
		for i := 1; i < len(a.cells); i++ {
			c := &a.cells[i]
			if c.kind == Free || c.flags&flagMark == 0 {
				continue
			}
			for _, l := range c.links() {
				a.mark(l)
			}
			a.drain()
		}
	}

	// Links from garbage into live cells still count toward the live cells'
	// references, so drop them before the garbage disappears.
	var orphans []Ref
	for i := 1; i < len(a.cells); i++ {
		c := &a.cells[i]
		if c.kind == Free || c.flags&flagMark != 0 {
			continue
		}
		for _, l := range c.links() {
			if l == None {
				continue
			}
			lc := &a.cells[l]
			if lc.flags&flagMark == 0 {
				continue
			}
			if lc.refs == 0 {
				invariant(l, "collect", "owned link with zero references from cell %d", i)
			}
			lc.refs--
			if lc.refs == 0 && lc.locks == 0 {
				orphans = append(orphans, l)
			}
		}
	}
	freed := 0
	for i := 1; i < len(a.cells); i++ {
		c := &a.cells[i]
		switch {
		case c.kind == Free:
		case c.flags&flagMark == 0:
			a.push(Ref(i))
			freed++
		default:
			c.flags &^= flagMark
		}
	}
	// An extra root that only garbage referred to is now unowned.
	for _, r := range orphans {
		before := a.nfree
		a.destroy(r)
		freed += a.nfree - before
	}
	return freed
}

// mark sets the mark bit on r and queues it for scanning.
func (a *Arena) mark(r Ref) {
	if r == None {
		return
	}
	c := &a.cells[r]
	if c.kind == Free || c.flags&flagMark != 0 {
		return
	}
	c.flags |= flagMark
	if a.nmarks == len(a.marks) {
		a.overflow = true
		return
	}
	a.marks[a.nmarks] = r
	a.nmarks++
}

// drain scans queued cells until the mark stack is empty.
func (a *Arena) drain() {
	for a.nmarks > 0 {
		a.nmarks--
		r := a.marks[a.nmarks]
		for _, l := range a.cells[r].links() {
			a.mark(l)
		}
	}
}
