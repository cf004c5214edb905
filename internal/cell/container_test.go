package cell

import (
	"errors"
	"strings"
	"testing"
)

func TestContainerSetGet(t *testing.T) {
	long := strings.Repeat("k", 2*InlineCap+1)
	keys := []Key{NameKey("a"), NameKey(""), NameKey(long), IndexKey(0), IndexKey(-3), NameKey("0")}
	a := newArena(t, 64)
	obj, _ := a.NewObject()
	for i, k := range keys {
		v, _ := a.NewInt(int64(i))
		if err := a.Set(obj, k, v); err != nil {
			t.Fatalf("set %v: %v", k, err)
		}
		a.Unlock(v)
	}
	checkRefs(t, a)
	if a.Count(obj) != len(keys) {
		t.Errorf("wrong count: want %d, got %d", len(keys), a.Count(obj))
	}
	for i, k := range keys {
		v, ok := a.Get(obj, k)
		if !ok {
			t.Errorf("key %q missing", k)
			continue
		}
		if a.Int(v) != int64(i) {
			t.Errorf("key %q: want %d, got %d", k, i, a.Int(v))
		}
	}
	if _, ok := a.Get(obj, NameKey("missing")); ok {
		t.Error("found a key that was never set")
	}
	// Index 0 and name "0" are different keys.
	if a.EntryKey(a.Find(obj, IndexKey(0))) != IndexKey(0) {
		t.Error("index key round trip failed")
	}
	if a.EntryKey(a.Find(obj, NameKey(long))) != NameKey(long) {
		t.Error("long name key round trip failed")
	}
	a.Unlock(obj)
	if a.Live() != 0 {
		t.Errorf("%d cells leaked", a.Live())
	}
}

// TestContainerRefAccounting tests that replacing and deleting entries keeps
// every count exact.
func TestContainerRefAccounting(t *testing.T) {
	a := newArena(t, 16)
	obj, _ := a.NewObject()
	v1, _ := a.NewInt(1)
	v2, _ := a.NewInt(2)
	if err := a.Set(obj, NameKey("x"), v1); err != nil {
		t.Fatal(err)
	}
	if err := a.Set(obj, NameKey("y"), v1); err != nil {
		t.Fatal(err)
	}
	if a.Refs(v1) != 2 {
		t.Errorf("shared value: want 2 refs, got %d", a.Refs(v1))
	}
	if err := a.Set(obj, NameKey("x"), v2); err != nil {
		t.Fatal(err)
	}
	if a.Refs(v1) != 1 || a.Refs(v2) != 1 {
		t.Errorf("after replace: v1 refs %d, v2 refs %d", a.Refs(v1), a.Refs(v2))
	}
	// Replacing a value with itself must not free it.
	a.Unlock(v2)
	if err := a.Set(obj, NameKey("x"), v2); err != nil {
		t.Fatal(err)
	}
	if a.Kind(v2) != Int {
		t.Fatal("self-replacement freed the value")
	}
	checkRefs(t, a)
	if !a.Delete(obj, NameKey("x")) {
		t.Error("delete of present key reported false")
	}
	if a.Delete(obj, NameKey("x")) {
		t.Error("delete of absent key reported true")
	}
	if a.Kind(v2) != Free {
		t.Error("deleted value not freed")
	}
	checkRefs(t, a)
	a.Unlock(v1)
	a.Unlock(obj)
	if a.Live() != 0 {
		t.Errorf("%d cells leaked", a.Live())
	}
}

func TestContainerOrder(t *testing.T) {
	a := newArena(t, 32)
	obj, _ := a.NewObject()
	defer a.Unlock(obj)
	names := []string{"z", "a", "m", "b"}
	for _, n := range names {
		if err := a.Set(obj, NameKey(n), None); err != nil {
			t.Fatal(err)
		}
	}
	a.Delete(obj, NameKey("a"))
	if err := a.Set(obj, NameKey("a"), None); err != nil {
		t.Fatal(err)
	}
	want := []string{"z", "m", "b", "a"}
	it := a.Iterate(obj)
	defer it.Close()
	for round := 0; round < 2; round++ {
		var got []string
		for {
			k, _, ok := it.Next()
			if !ok {
				break
			}
			got = append(got, k.Name)
		}
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Errorf("round %d: want order %v, got %v", round, want, got)
		}
		it.Reset()
	}
}

// TestIterDelete tests that deleting the current entry while iterating is
// safe.
func TestIterDelete(t *testing.T) {
	a := newArena(t, 32)
	obj, _ := a.NewObject()
	for _, n := range []string{"a", "b", "c"} {
		v, _ := a.NewStringFrom(n)
		if err := a.Set(obj, NameKey(n), v); err != nil {
			t.Fatal(err)
		}
		a.Unlock(v)
	}
	it := a.Iterate(obj)
	k, _, ok := it.Next()
	if !ok || k.Name != "a" {
		t.Fatalf("first entry: %v %v", k, ok)
	}
	a.Delete(obj, k)
	if _, _, ok := it.Next(); ok {
		t.Error("iteration continued past a detached entry")
	}
	it.Close()
	checkRefs(t, a)
	if a.Count(obj) != 2 {
		t.Errorf("wrong count after delete: %d", a.Count(obj))
	}
	a.Unlock(obj)
	if a.Live() != 0 {
		t.Errorf("%d cells leaked", a.Live())
	}
}

func TestArrayLength(t *testing.T) {
	a := newArena(t, 32)
	arr, _ := a.NewArray()
	for i := 0; i < 4; i++ {
		v, _ := a.NewInt(int64(i * 10))
		if err := a.Push(arr, v); err != nil {
			t.Fatal(err)
		}
		a.Unlock(v)
	}
	if a.Length(arr) != 4 {
		t.Errorf("wrong length: %d", a.Length(arr))
	}
	if err := a.Set(arr, IndexKey(9), None); err != nil {
		t.Fatal(err)
	}
	if a.Length(arr) != 10 {
		t.Errorf("sparse set: want length 10, got %d", a.Length(arr))
	}
	a.SetLength(arr, 2)
	if a.Length(arr) != 2 || a.Count(arr) != 2 {
		t.Errorf("truncate: length %d count %d", a.Length(arr), a.Count(arr))
	}
	if v, ok := a.Get(arr, IndexKey(1)); !ok || a.Int(v) != 10 {
		t.Error("truncate lost a kept element")
	}
	checkRefs(t, a)
	a.Unlock(arr)
	if a.Live() != 0 {
		t.Errorf("%d cells leaked", a.Live())
	}
}

func TestSetLengthSparse(t *testing.T) {
	a := newArena(t, 32)
	arr, _ := a.NewArray()
	for _, i := range []int64{0, 5, 4000000000} {
		v, _ := a.NewInt(i)
		if err := a.Set(arr, IndexKey(i), v); err != nil {
			t.Fatal(err)
		}
		a.Unlock(v)
	}
	name, _ := a.NewBool(true)
	if err := a.Set(arr, NameKey("tag"), name); err != nil {
		t.Fatal(err)
	}
	a.Unlock(name)
	a.SetLength(arr, 1)
	if a.Length(arr) != 1 || a.Count(arr) != 2 {
		t.Errorf("want length 1 and 2 entries, got %d and %d", a.Length(arr), a.Count(arr))
	}
	if _, ok := a.Get(arr, IndexKey(0)); !ok {
		t.Error("lost element 0")
	}
	if _, ok := a.Get(arr, NameKey("tag")); !ok {
		t.Error("lost named entry")
	}
	checkRefs(t, a)
	a.SetLength(arr, 0)
	if a.Count(arr) != 1 {
		t.Errorf("want only the named entry, got %d entries", a.Count(arr))
	}
	a.Unlock(arr)
	if a.Live() != 0 {
		t.Errorf("%d cells leaked", a.Live())
	}
}

func TestContainerOutOfMemory(t *testing.T) {
	a := newArena(t, 3)
	obj, _ := a.NewObject()
	v, _ := a.NewInt(1)
	// One cell left: enough for an entry but not a long key's string.
	if err := a.Set(obj, NameKey(strings.Repeat("x", InlineCap+1)), v); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("want ErrOutOfMemory, got %v", err)
	}
	if a.Count(obj) != 0 || a.Refs(v) != 0 {
		t.Error("failed set modified the container")
	}
	a.Unlock(v)
	a.Unlock(obj)
	if a.Live() != 0 {
		t.Errorf("%d cells leaked", a.Live())
	}
}
