package internal_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zephyrtronium/tinyscript/config"
	"github.com/zephyrtronium/tinyscript/internal"
	"github.com/zephyrtronium/tinyscript/internal/cell"
	"github.com/zephyrtronium/tinyscript/testutils"
)

// TestNewVM tests that NewVM creates a usable VM.
func TestNewVM(t *testing.T) {
	vm := testutils.TestingVM()
	if vm == nil {
		t.Fatal("testVM is nil")
	}
	if vm.Arena.Root() != vm.Global {
		t.Errorf("root is %d, global scope is %d", vm.Arena.Root(), vm.Global)
	}
	if vm.StartTime.IsZero() {
		t.Error("VM attribute StartTime is zero")
	}
	if vm.Sched == nil {
		t.Error("VM attribute Sched is nil")
	}
	if s := vm.State(); s != internal.Idle {
		t.Errorf("new VM is %v", s)
	}
}

// TestGlobals tests that a new VM has the globals we expect.
func TestGlobals(t *testing.T) {
	vm := testutils.TestingVM()
	globals := []string{"Object", "JSON", "parseInt", "parseFloat", "isNaN", "trace", "NaN", "Infinity"}
	for _, name := range globals {
		t.Run(name, func(t *testing.T) {
			if _, ok := vm.GetGlobal(name); !ok {
				t.Fatal("no global", name)
			}
		})
	}
}

// TestNewVMTooSmall tests that NewVM fails cleanly when the arena cannot hold
// the builtins.
func TestNewVMTooSmall(t *testing.T) {
	cfg := config.Default()
	cfg.Cells = 8
	_, err := internal.NewVM(cfg)
	var ex *internal.Exception
	if !errors.As(err, &ex) || ex.Category != internal.OutOfMemory {
		t.Errorf("wrong error: %v", err)
	}
}

// TestRegisterAfterVM tests that registering a core extension after creating
// a VM panics.
func TestRegisterAfterVM(t *testing.T) {
	testutils.TestingVM()
	defer func() {
		if recover() == nil {
			t.Error("Register did not panic")
		}
	}()
	internal.Register(func(*internal.VM) {})
}

// TestEval tests that Eval renders results for display.
func TestEval(t *testing.T) {
	vm := testutils.NewTestingVM(t, nil)
	cases := map[string]struct {
		src  string
		want string
	}{
		"number":    {"1 + 1", "2"},
		"string":    {`"a" + "b"`, `"ab"`},
		"array":     {"[1, 'x', null]", `[1, "x", null]`},
		"object":    {"({a: 1, 'b c': [2]})", `{ a: 1, "b c": [2] }`},
		"empty":     {"", "undefined"},
		"statement": {"var q = 5;", "undefined"},
		"circular":  {"var c = [1]; c.push(c); c", "[1, [Circular]]"},
		"native":    {"parseInt", "[Function: parseInt]"},
		"function":  {"function named() {} named", "[Function: named]"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := vm.Eval(c.src)
			if err != nil {
				t.Fatal(err)
			}
			if got != c.want {
				t.Errorf("want %s, got %s", c.want, got)
			}
		})
	}
}

// TestInterrupt tests that Interrupt stops a running script and cannot be
// caught.
func TestInterrupt(t *testing.T) {
	cases := map[string]string{
		"loop":     "while (true) {}",
		"try":      "try { while (true) {} } catch (e) {}",
		"finally":  "try { for (;;) {} } finally { x = 1 }",
		"function": "function spin() { do {} while (true) } spin()",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			vm := testutils.NewTestingVM(t, nil)
			timer := time.AfterFunc(20*time.Millisecond, vm.Interrupt)
			defer timer.Stop()
			r, err := vm.DoString(src)
			vm.Arena.Unlock(r)
			var ex *internal.Exception
			if !errors.As(err, &ex) || ex.Category != internal.Interrupted {
				t.Fatalf("wrong error: %v", err)
			}
			if _, ok := vm.GetGlobal("x"); ok {
				t.Error("finally ran after interrupt")
			}
			if vm.State() != internal.Idle {
				t.Errorf("VM is %v after interrupt", vm.State())
			}
			if st := vm.Arena.Stats(); st.Locked != 0 {
				t.Errorf("%d cells locked after interrupt", st.Locked)
			}
			// The next script runs normally.
			r, err = vm.DoString("1")
			if err != nil {
				t.Errorf("VM did not recover: %v", err)
			}
			vm.Arena.Unlock(r)
		})
	}
}

// TestCallDepth tests that runaway recursion raises StackOverflow without
// leaking cells.
func TestCallDepth(t *testing.T) {
	cfg := config.Default()
	cfg.CallDepth = 16
	vm := testutils.NewTestingVM(t, cfg)
	r, err := vm.DoString(`
		function deep(n) { return deep(n + 1) + 1; }
		function ping(n) { var p = [n]; return pong(n + 1); }
		function pong(n) { var q = {n: n}; return ping(n + 1); }
		var seen = 0;
		function count(n) { seen = n; return n < 100 ? count(n + 1) : n; }`)
	if err != nil {
		t.Fatal(err)
	}
	vm.Arena.Unlock(r)
	for _, src := range []string{"deep(0)", "ping(0)", "pong('x')"} {
		before := vm.Arena.Live()
		r, err = vm.DoString(src)
		var ex *internal.Exception
		if !errors.As(err, &ex) || ex.Category != internal.StackOverflow {
			t.Fatalf("%s: wrong error: %v", src, err)
		}
		vm.Arena.Unlock(r)
		testutils.CheckNoLeaks(t, vm, before)
	}

	// Recursion that fits is fine; the bound counts nesting, not calls.
	testutils.SourceTestCase{Source: "count(90)", Pass: testutils.PassEqual("100")}.Run(t, vm)
	testutils.SourceTestCase{Source: "count(0)", Pass: testutils.PassFailure(internal.StackOverflow)}.Run(t, vm)
	testutils.SourceTestCase{Source: "seen", Pass: testutils.PassEqual("15")}.Run(t, vm)
	testutils.SourceTestCase{
		Source: "var r; try { deep(0) } catch (e) { r = e.name } r",
		Pass:   testutils.PassEqual(`"StackOverflow"`),
	}.Run(t, vm)
}

// TestOutOfMemory tests that filling the arena raises OutOfMemory and that the
// VM recovers once the garbage is gone.
func TestOutOfMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Cells = 512
	vm := testutils.NewTestingVM(t, cfg)
	before := vm.Arena.Live()
	testutils.SourceTestCase{
		Source: "var hog = []; while (true) hog.push('0123456789abcdefg')",
		Pass:   testutils.PassFailure(internal.OutOfMemory),
	}.Run(t, vm)
	if err := vm.SetGlobal("hog", cell.None); err != nil {
		t.Fatal(err)
	}
	// Only the global entry for hog remains.
	testutils.CheckNoLeaks(t, vm, before+1)
	testutils.SourceTestCase{Source: "hog = [1, 2, 3]; hog.length", Pass: testutils.PassEqual("3")}.Run(t, vm)
}

// TestTrace tests that trace prints the cell tree.
func TestTrace(t *testing.T) {
	var buf bytes.Buffer
	vm := testutils.NewTestingVM(t, nil, internal.WithOutput(&buf))
	r, err := vm.DoString("var tr = {inner: [1, 'two']}; trace(tr)")
	if err != nil {
		t.Fatal(err)
	}
	vm.Arena.Unlock(r)
	out := buf.String()
	for _, want := range []string{"object", "inner:", "array", "int", `"two"`} {
		if !strings.Contains(out, want) {
			t.Errorf("trace output lacks %q:\n%s", want, out)
		}
	}
}

// TestCall tests calling script functions from Go.
func TestCall(t *testing.T) {
	vm := testutils.NewTestingVM(t, nil)
	r, err := vm.DoString("function sum(a, b) { return a + b }")
	if err != nil {
		t.Fatal(err)
	}
	vm.Arena.Unlock(r)
	fn, _ := vm.GetGlobal("sum")
	x, _ := vm.NewInt(40)
	y, _ := vm.NewInt(2)
	r, err = vm.Call(fn, cell.None, x, y)
	vm.Arena.Unlock(x)
	vm.Arena.Unlock(y)
	if err != nil {
		t.Fatal(err)
	}
	defer vm.Arena.Unlock(r)
	if got := vm.Inspect(r); got != "42" {
		t.Errorf("want 42, got %s", got)
	}
}
