// Package testutils provides utilities for testing scripts in Go.
package testutils

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/zephyrtronium/tinyscript/config"
	"github.com/zephyrtronium/tinyscript/internal"
	"github.com/zephyrtronium/tinyscript/internal/cell"
)

// testVM is the VM used for all tests.
var testVM *internal.VM

var testVMInit sync.Once

// TestingVM returns a VM for testing scripts. The VM is shared by all tests
// that use this package.
func TestingVM() *internal.VM {
	testVMInit.Do(ResetTestingVM)
	return testVM
}

// ResetTestingVM reinitializes the VM returned by TestingVM. It is not safe to
// call this in parallel tests.
func ResetTestingVM() {
	vm, err := internal.NewVM(nil, internal.WithOutput(io.Discard))
	if err != nil {
		panic(err)
	}
	testVM = vm
}

// NewTestingVM creates a VM private to one test. A nil cfg uses the default
// configuration. The VM's timers are stopped when the test ends.
func NewTestingVM(t testing.TB, cfg *config.Config, opts ...internal.Option) *internal.VM {
	t.Helper()
	opts = append([]internal.Option{internal.WithOutput(io.Discard)}, opts...)
	vm, err := internal.NewVM(cfg, opts...)
	if err != nil {
		t.Fatalf("could not create VM: %v", err)
	}
	t.Cleanup(vm.Close)
	return vm
}

// A SourceTestCase is a test case containing script source code and a
// predicate to check the result.
type SourceTestCase struct {
	// Source is the script source code to execute.
	Source string
	// Pass is a predicate taking the result of executing Source. If Pass
	// returns false, then the test fails. The result is unlocked after Pass
	// returns.
	Pass func(vm *internal.VM, result cell.Ref, err error) bool
}

// TestFunc returns a test function for the test case. This uses TestingVM to
// execute the code.
func (c SourceTestCase) TestFunc(name string) func(*testing.T) {
	return func(t *testing.T) {
		c.Run(t, TestingVM())
	}
}

// Run executes the test case on a given VM.
func (c SourceTestCase) Run(t *testing.T, vm *internal.VM) {
	t.Helper()
	r, err := vm.DoString(c.Source)
	defer vm.Arena.Unlock(r)
	defer vm.Discard(err)
	if c.Pass(vm, r, err) {
		return
	}
	if err != nil {
		t.Errorf("%q produced wrong result; an exception occurred: %v", c.Source, err)
	} else {
		t.Errorf("%q produced wrong result; got %s", c.Source, vm.Inspect(r))
	}
}

// PassEqual returns a Pass function for a SourceTestCase that predicates on
// the inspected form of the result, e.g. `"abc"` for a string or `[1, 2]`
// for an array. If an error occurred, the predicate returns false.
func PassEqual(want string) func(*internal.VM, cell.Ref, error) bool {
	return func(vm *internal.VM, result cell.Ref, err error) bool {
		return err == nil && vm.Inspect(result) == want
	}
}

// PassKind returns a Pass function for a SourceTestCase that predicates on
// the kind of the result. If an error occurred, the predicate returns false.
func PassKind(want cell.Kind) func(*internal.VM, cell.Ref, error) bool {
	return func(vm *internal.VM, result cell.Ref, err error) bool {
		return err == nil && vm.Arena.Kind(result) == want
	}
}

// PassFailure returns a Pass function for a SourceTestCase that returns true
// iff the result is an exception of the given category.
func PassFailure(want internal.Category) func(*internal.VM, cell.Ref, error) bool {
	return func(vm *internal.VM, result cell.Ref, err error) bool {
		var ex *internal.Exception
		return errors.As(err, &ex) && ex.Category == want
	}
}

// PassSuccess returns a Pass function for a SourceTestCase that returns true
// iff no exception occurred.
func PassSuccess() func(*internal.VM, cell.Ref, error) bool {
	return func(vm *internal.VM, result cell.Ref, err error) bool {
		return err == nil
	}
}

// CheckNoLeaks is a testing helper that runs the cycle collector and checks
// that the VM holds exactly the cells it held before, and that no cell is
// locked.
func CheckNoLeaks(t *testing.T, vm *internal.VM, before int) {
	t.Helper()
	vm.Collect()
	st := vm.Arena.Stats()
	if st.Live != before {
		t.Errorf("live cells: want %d, have %d", before, st.Live)
	}
	if st.Locked != 0 {
		t.Errorf("%d cells still locked", st.Locked)
	}
}

// CheckFields is a testing helper to check whether a container has exactly
// the fields we expect.
func CheckFields(t *testing.T, vm *internal.VM, obj cell.Ref, fields []string) {
	t.Helper()
	a := vm.Arena
	if !a.Kind(obj).IsContainer() {
		t.Fatalf("%s is not a container", vm.Inspect(obj))
	}
	checked := make(map[string]bool, len(fields))
	for _, name := range fields {
		checked[name] = true
		t.Run("Have_"+name, func(t *testing.T) {
			if _, ok := a.Get(obj, cell.NameKey(name)); !ok {
				t.Fatal("no field", name)
			}
		})
	}
	it := a.Iterate(obj)
	defer it.Close()
	for {
		k, _, ok := it.Next()
		if !ok {
			break
		}
		name := k.String()
		t.Run("Want_"+name, func(t *testing.T) {
			if !checked[name] {
				t.Fatal("unexpected field", name)
			}
		})
	}
}

// CheckGlobals is a testing helper to check that the global scope has each of
// the given names.
func CheckGlobals(t *testing.T, vm *internal.VM, names []string) {
	t.Helper()
	for _, name := range names {
		t.Run("Have_"+name, func(t *testing.T) {
			if _, ok := vm.GetGlobal(name); !ok {
				t.Fatal("no global", name)
			}
		})
	}
}
