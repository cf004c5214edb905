// Package process provides the process object, which describes the
// interpreter and the board it runs on.
package process

import (
	"runtime"

	"github.com/zephyrtronium/tinyscript/internal"
	"github.com/zephyrtronium/tinyscript/internal/cell"
)

func init() {
	internal.Register(initProcess)
}

func initProcess(vm *internal.VM) {
	obj := vm.InstallObject("process", map[string]internal.NativeFn{
		"memory": processMemory,
	})
	if obj == cell.None {
		return
	}
	vm.Fail(setString(vm, obj, "version", internal.Version))
	vm.Fail(setString(vm, obj, "platform", runtime.GOOS))
	env, err := vm.NewObject()
	if err != nil {
		vm.Fail(err)
		return
	}
	defer vm.Arena.Unlock(env)
	vm.Fail(setString(vm, env, "BOARD", Board()))
	vm.Fail(setString(vm, env, "ARCH", runtime.GOARCH))
	vm.Fail(vm.SetField(obj, "env", env))
}

func setString(vm *internal.VM, obj cell.Ref, name, s string) error {
	v, err := vm.NewString(s)
	if err != nil {
		return err
	}
	defer vm.Arena.Unlock(v)
	return vm.SetField(obj, name, v)
}

// Board names the host the interpreter runs on. On unix systems this is the
// kernel version and release from uname; elsewhere it is the OS name.
func Board() string {
	if platformVersion != "" {
		return platformVersion
	}
	return runtime.GOOS
}

// processMemory is a process method.
//
// memory returns an object describing the arena in cells: free, usage, and
// total.
func processMemory(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	st := vm.Arena.Stats()
	obj, err := vm.NewObject()
	if err != nil {
		return cell.None, err
	}
	for _, f := range [...]struct {
		name string
		v    int
	}{{"free", st.Free}, {"usage", st.Live}, {"total", st.Cells}} {
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
