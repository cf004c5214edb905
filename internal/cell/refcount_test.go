package cell

import "testing"

func TestLockUnlock(t *testing.T) {
	a := newArena(t, 4)
	r, _ := a.NewInt(7)
	if a.Lock(r) != r {
		t.Error("Lock returned a different ref")
	}
	if a.Locks(r) != 2 {
		t.Errorf("wrong lock count: %d", a.Locks(r))
	}
	a.Unlock(r)
	if a.Kind(r) != Int {
		t.Fatal("cell freed while still locked")
	}
	a.Unlock(r)
	if a.Kind(r) != Free {
		t.Error("cell not freed after last unlock")
	}
	mustPanic(t, func() { a.Unlock(r) })
	// None is inert.
	a.Lock(None)
	a.Unlock(None)
	a.AddRef(None)
	a.RemoveRef(None)
}

func TestUnderflow(t *testing.T) {
	a := newArena(t, 4)
	r, _ := a.NewInt(7)
	mustPanic(t, func() { a.RemoveRef(r) })
	a.Unlock(r)
}

// TestReferenceInvariant tests that locks alone never free a referenced cell
// and references alone never free a locked one.
func TestReferenceInvariant(t *testing.T) {
	a := newArena(t, 8)
	obj, _ := a.NewObject()
	v, _ := a.NewInt(1)
	if err := a.Set(obj, NameKey("v"), v); err != nil {
		t.Fatal(err)
	}
	a.Unlock(v)
	if a.Kind(v) != Int || a.Refs(v) != 1 || a.Locks(v) != 0 {
		t.Fatalf("value lost after unlock: kind %v", a.Kind(v))
	}
	a.Lock(v)
	a.Delete(obj, NameKey("v"))
	if a.Kind(v) != Int {
		t.Fatal("locked value freed on delete")
	}
	checkRefs(t, a)
	a.Unlock(v)
	if a.Kind(v) != Free {
		t.Error("value not freed after delete and unlock")
	}
	a.Unlock(obj)
	if a.Live() != 0 {
		t.Errorf("%d cells leaked", a.Live())
	}
}

// TestDestroyDeepChain tests that destroying a long chain of owned cells
// does not recurse.
func TestDestroyDeepChain(t *testing.T) {
	const n = 20000
	a := newArena(t, n)
	head, _ := a.NewArray()
	cur := head
	for i := 1; i < n; i++ {
		next, err := a.NewArray()
		if err != nil {
			t.Fatal(err)
		}
		a.cells[cur].first = next
		a.AddRef(next)
		a.Unlock(next)
		cur = next
	}
	checkRefs(t, a)
	a.Unlock(head)
	if a.FreeCount() != n {
		t.Errorf("wrong free count: want %d, got %d", n, a.FreeCount())
	}
}

func TestHandle(t *testing.T) {
	a := newArena(t, 4)
	r, _ := a.NewInt(3)
	func() {
		h := a.Adopt(r)
		defer h.Release()
		g := a.Hold(r)
		defer g.Release()
		if a.Locks(r) != 2 {
			t.Errorf("wrong lock count: %d", a.Locks(r))
		}
	}()
	if a.Kind(r) != Free {
		t.Error("handles did not release")
	}

	s, _ := a.NewInt(4)
	h := a.Adopt(s)
	if h.Detach() != s || h.Ref() != None {
		t.Error("detach did not clear the handle")
	}
	h.Release()
	if a.Locks(s) != 1 {
		t.Errorf("detached handle still released: locks %d", a.Locks(s))
	}
	a.Unlock(s)
	var z Handle
	z.Release()
}
