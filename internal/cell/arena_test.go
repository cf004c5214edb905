package cell

import (
	"errors"
	"testing"
)

// checkRefs verifies that every allocated cell's reference count equals the
// number of owning links into it.
func checkRefs(t *testing.T, a *Arena) {
	t.Helper()
	incoming := make([]int, len(a.cells))
	if a.root != None {
		incoming[a.root]++
	}
	for i := 1; i < len(a.cells); i++ {
		if a.cells[i].kind == Free {
			continue
		}
		for _, l := range a.cells[i].links() {
			if l == None {
				continue
			}
			if a.cells[l].kind == Free {
				t.Errorf("cell %d links to free cell %d", i, l)
				continue
			}
			incoming[l]++
		}
	}
	for i := 1; i < len(a.cells); i++ {
		c := &a.cells[i]
		if c.kind == Free {
			continue
		}
		if int(c.refs) != incoming[i] {
			t.Errorf("cell %d (%v) has %d refs, but %d links point to it", i, c.kind, c.refs, incoming[i])
		}
		if c.refs == 0 && c.locks == 0 {
			t.Errorf("cell %d (%v) is allocated but unowned", i, c.kind)
		}
	}
}

// mustPanic runs f and reports whether it panicked with an *InvariantError.
func mustPanic(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Error("no panic")
			return
		}
		if _, ok := r.(*InvariantError); !ok {
			t.Errorf("panicked with %T (%v), not *InvariantError", r, r)
		}
	}()
	f()
}

func newArena(t *testing.T, n int) *Arena {
	t.Helper()
	a, err := NewArena(n)
	if err != nil {
		t.Fatalf("NewArena(%d): %v", n, err)
	}
	return a
}

func TestNewArenaSize(t *testing.T) {
	cases := map[string]struct {
		n  int
		ok bool
	}{
		"zero":     {0, false},
		"negative": {-1, false},
		"one":      {1, true},
		"max":      {MaxCells, true},
		"too big":  {MaxCells + 1, false},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			a, err := NewArena(c.n)
			if c.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if a.Cap() != c.n || a.FreeCount() != c.n {
					t.Errorf("wrong sizes: cap %d free %d, want %d", a.Cap(), a.FreeCount(), c.n)
				}
				return
			}
			if !errors.Is(err, ErrArenaSize) {
				t.Errorf("wrong error: want ErrArenaSize, got %v", err)
			}
		})
	}
}

// TestArenaRoundTrip tests that allocating and releasing every cell restores
// the free count.
func TestArenaRoundTrip(t *testing.T) {
	const n = 64
	a := newArena(t, n)
	refs := make([]Ref, 0, n)
	seen := make(map[Ref]bool, n)
	for i := 0; i < n; i++ {
		r, err := a.Alloc(Int)
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		if r == None || seen[r] {
			t.Fatalf("alloc %d returned bad or duplicate ref %d", i, r)
		}
		seen[r] = true
		refs = append(refs, r)
	}
	if _, err := a.Alloc(Int); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("alloc from full arena: want ErrOutOfMemory, got %v", err)
	}
	if a.FreeCount() != 0 {
		t.Errorf("full arena has %d free cells", a.FreeCount())
	}
	for _, r := range refs {
		a.Unlock(r)
	}
	if a.FreeCount() != n {
		t.Errorf("wrong free count after release: want %d, got %d", n, a.FreeCount())
	}
	if s := a.Stats(); s.Live != 0 || s.Locked != 0 {
		t.Errorf("stats after release: %+v", s)
	}
}

func TestArenaRelease(t *testing.T) {
	a := newArena(t, 4)
	r, err := a.Alloc(Null)
	if err != nil {
		t.Fatal(err)
	}
	mustPanic(t, func() { a.Release(r) })
	a.AddRef(r)
	a.cells[r].locks = 0
	mustPanic(t, func() { a.Release(r) })
	a.cells[r].refs = 0
	a.Release(r)
	if a.FreeCount() != 4 {
		t.Errorf("wrong free count: %d", a.FreeCount())
	}
	mustPanic(t, func() { a.Kind(r); a.Lock(r) })
	mustPanic(t, func() { a.Int(None) })
}

func TestArenaReset(t *testing.T) {
	a := newArena(t, 8)
	obj, err := a.NewArray()
	if err != nil {
		t.Fatal(err)
	}
	a.SetRoot(obj)
	a.Unlock(obj)
	for i := 0; i < 3; i++ {
		v, err := a.NewInt(int64(i))
		if err != nil {
			t.Fatal(err)
		}
		if err := a.Push(obj, v); err != nil {
			t.Fatal(err)
		}
		a.Unlock(v)
	}
	a.Reset()
	if a.FreeCount() != 8 || a.Root() != None {
		t.Errorf("reset left free=%d root=%d", a.FreeCount(), a.Root())
	}
}

func TestStats(t *testing.T) {
	a := newArena(t, 10)
	x, _ := a.NewInt(1)
	y, _ := a.NewInt(2)
	arr, _ := a.NewArray()
	if err := a.Push(arr, y); err != nil {
		t.Fatal(err)
	}
	a.Unlock(y)
	want := Stats{Cells: 10, Free: 6, Live: 4, Locked: 2}
	if got := a.Stats(); got != want {
		t.Errorf("wrong stats: want %+v, got %+v", want, got)
	}
	a.Unlock(x)
	a.Unlock(arr)
	if got := a.Stats(); got.Live != 0 {
		t.Errorf("cells leaked: %+v", got)
	}
}
