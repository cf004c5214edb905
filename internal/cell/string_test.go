package cell

import (
	"bytes"
	"errors"
	"testing"
)

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

func TestStringChain(t *testing.T) {
	cases := map[string]struct {
		n     int
		cells int
	}{
		"empty":       {0, 1},
		"short":       {5, 1},
		"inline":      {InlineCap, 1},
		"one over":    {InlineCap + 1, 2},
		"three times": {3 * InlineCap, 3},
		"ragged":      {3*InlineCap + 5, 4},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			a := newArena(t, 16)
			want := pattern(c.n)
			r, err := a.NewString(want)
			if err != nil {
				t.Fatal(err)
			}
			if a.Live() != c.cells {
				t.Errorf("wrong cell count: want %d, got %d", c.cells, a.Live())
			}
			if a.Len(r) != c.n {
				t.Errorf("wrong length: want %d, got %d", c.n, a.Len(r))
			}
			if got := a.Bytes(r); !bytes.Equal(got, want) {
				t.Errorf("wrong contents: want %q, got %q", want, got)
			}
			if !a.Equal(r, want) {
				t.Error("Equal reports false for the stored bytes")
			}
			if a.Equal(r, append(want, 'x')) {
				t.Error("Equal reports true for a longer string")
			}
			checkRefs(t, a)
			a.Unlock(r)
			if a.Live() != 0 {
				t.Errorf("%d cells leaked", a.Live())
			}
		})
	}
}

func TestStringRead(t *testing.T) {
	a := newArena(t, 16)
	src := pattern(3 * InlineCap)
	r, err := a.NewString(src)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Unlock(r)
	cases := map[string]struct {
		off, n int
	}{
		"start":          {0, 4},
		"mid fragment":   {InlineCap + 3, 5},
		"across":         {InlineCap - 2, 6},
		"across two":     {InlineCap - 1, InlineCap + 2},
		"tail":           {3*InlineCap - 3, 10},
		"past end":       {3 * InlineCap, 4},
		"whole":          {0, 3 * InlineCap},
		"negative count": {0, -1},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			out := make([]byte, 64)
			n := a.Read(r, c.off, c.n, out)
			var want []byte
			if c.n > 0 && c.off < len(src) {
				end := c.off + c.n
				if end > len(src) {
					end = len(src)
				}
				want = src[c.off:end]
			}
			if n != len(want) || !bytes.Equal(out[:n], want) {
				t.Errorf("read %d at %d: want %q, got %q", c.n, c.off, want, out[:n])
			}
		})
	}
}

func TestStringAppend(t *testing.T) {
	a := newArena(t, 16)
	r, _ := a.NewStringFrom("abc")
	want := []byte("abc")
	for _, s := range []string{"defghijklmnop", "qrstuvwxyz", "", "0123456789012345678901234"} {
		if err := a.Append(r, []byte(s)); err != nil {
			t.Fatal(err)
		}
		want = append(want, s...)
		if got := a.Bytes(r); !bytes.Equal(got, want) {
			t.Fatalf("after appending %q: want %q, got %q", s, want, got)
		}
	}
	checkRefs(t, a)
	a.Unlock(r)
	if a.Live() != 0 {
		t.Errorf("%d cells leaked", a.Live())
	}
}

// TestStringOutOfMemory tests that a string that cannot be stored leaves
// nothing behind, and that a failed append leaves the string unchanged.
func TestStringOutOfMemory(t *testing.T) {
	a := newArena(t, 3)
	if _, err := a.NewString(pattern(4 * InlineCap)); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("want ErrOutOfMemory, got %v", err)
	}
	if a.Live() != 0 {
		t.Fatalf("failed allocation left %d cells", a.Live())
	}
	r, err := a.NewString(pattern(InlineCap + 2))
	if err != nil {
		t.Fatal(err)
	}
	before := a.Bytes(r)
	if err := a.Append(r, pattern(3*InlineCap)); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("want ErrOutOfMemory, got %v", err)
	}
	if got := a.Bytes(r); !bytes.Equal(got, before) {
		t.Errorf("failed append changed the string: want %q, got %q", before, got)
	}
	if a.Live() != 2 {
		t.Errorf("failed append left %d cells, want 2", a.Live())
	}
	a.Unlock(r)
}

func TestConcat(t *testing.T) {
	a := newArena(t, 16)
	x, _ := a.NewStringFrom("hello, ")
	y, _ := a.NewStringFrom("world, this is a longer string")
	z, err := a.Concat(x, y)
	if err != nil {
		t.Fatal(err)
	}
	if got := a.Text(z); got != "hello, world, this is a longer string" {
		t.Errorf("wrong concatenation: %q", got)
	}
	a.Unlock(x)
	a.Unlock(y)
	a.Unlock(z)
	if a.Live() != 0 {
		t.Errorf("%d cells leaked", a.Live())
	}
}
