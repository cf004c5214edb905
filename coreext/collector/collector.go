// Package collector exposes the cycle collector and arena statistics to
// scripts.
package collector

import (
	"github.com/zephyrtronium/contains"

	"github.com/zephyrtronium/tinyscript/internal"
	"github.com/zephyrtronium/tinyscript/internal/cell"
)

// Reference counting frees most values as soon as they are dropped. The
// collector only matters for cycles, so scripts that build them can ask for
// a collection when they know they have made garbage.

func init() {
	internal.Register(initCollector)
}

func initCollector(vm *internal.VM) {
	vm.InstallObject("Collector", map[string]internal.NativeFn{
		"collect": collectorCollect,
		"stats":   collectorStats,
	})
}

// collectorCollect is a Collector method.
//
// collect runs the cycle collector and returns the number of cells freed.
func collectorCollect(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	return vm.NewInt(int64(vm.Collect()))
}

// collectorStats is a Collector method.
//
// stats returns an object describing arena occupancy: cells, live, free,
// locked, and reachable, the number of values reachable from the global
// scope. Cells that are live but neither reachable nor locked are garbage
// awaiting collection.
func collectorStats(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	st := vm.Arena.Stats()
	reachable := Reachable(vm.Arena, vm.Global)
	obj, err := vm.NewObject()
	if err != nil {
		return cell.None, err
	}
	fields := []struct {
		name string
		v    int
	}{
		{"cells", st.Cells},
		{"live", st.Live},
		{"free", st.Free},
		{"locked", st.Locked},
		{"reachable", reachable},
	}
	for _, f := range fields {
		v, err := vm.NewInt(int64(f.v))
		if err == nil {
			err = vm.SetField(obj, f.name, v)
			vm.Arena.Unlock(v)
		}
		if err != nil {
			vm.Arena.Unlock(obj)
			return cell.None, err
		}
	}
	return obj, nil
}

// Reachable counts the distinct values reachable from r, including r: the
// values of container entries, parent scopes, and the scopes and source
// strings of functions. Container entries and string fragments are part of
// the value that holds them and are not counted.
func Reachable(a *cell.Arena, r cell.Ref) int {
	if r == cell.None {
		return 0
	}
	var seen contains.Set
	seen.Add(uintptr(r))
	stack := []cell.Ref{r}
	push := func(v cell.Ref) {
		if v != cell.None && seen.Add(uintptr(v)) {
			stack = append(stack, v)
		}
	}
	n := 0
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n++
		switch a.Kind(v) {
		case cell.Object, cell.Array:
			push(a.Parent(v))
			it := a.Iterate(v)
			for {
				_, e, ok := it.Next()
				if !ok {
					break
				}
				push(e)
			}
			it.Close()
		case cell.Function:
			src, _, _ := a.FunctionSpan(v)
			push(src)
			push(a.FunctionScope(v))
		}
	}
	return n
}
