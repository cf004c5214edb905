package internal

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/zephyrtronium/tinyscript/internal/cell"
	"github.com/zephyrtronium/tinyscript/internal/event"
	"github.com/zephyrtronium/tinyscript/storage"
)

// ErrBusy is returned by snapshot operations while a script is running.
var ErrBusy = errors.New("tinyscript: VM is running")

// vmSnapshot is the persisted form of a VM. Native function cells hold
// indices into the native table, which depends on the extensions compiled
// in, so the table's names are saved alongside the arena to remap them.
type vmSnapshot struct {
	Arena   []byte   `cbor:"arena"`
	Natives []string `cbor:"natives"`
}

// SaveSnapshot writes the VM's variables to st under name. Timers and
// hardware watches are not part of the snapshot.
func (vm *VM) SaveSnapshot(st storage.Store, name string) error {
	if vm.depth != 0 {
		return ErrBusy
	}
	b, err := vm.MarshalSnapshot()
	if err != nil {
		return err
	}
	if err := st.Save(name, b); err != nil {
		return err
	}
	vm.log.Infof("saved snapshot %q: %d cells, %d bytes", name, vm.Arena.Live(), len(b))
	return nil
}

// MarshalSnapshot encodes the VM's variables.
func (vm *VM) MarshalSnapshot() ([]byte, error) {
	arena, err := vm.Arena.MarshalSnapshot()
	if err != nil {
		return nil, err
	}
	s := vmSnapshot{Arena: arena, Natives: make([]string, len(vm.natives))}
	for i, n := range vm.natives {
		s.Natives[i] = n.name
	}
	return cbor.Marshal(&s)
}

// LoadSnapshot replaces the VM's variables with the snapshot saved in st
// under name. On error the VM is unchanged.
func (vm *VM) LoadSnapshot(st storage.Store, name string) error {
	if vm.depth != 0 {
		return ErrBusy
	}
	b, err := st.Load(name)
	if err != nil {
		return err
	}
	if err := vm.UnmarshalSnapshot(b); err != nil {
		return fmt.Errorf("loading snapshot %q: %w", name, err)
	}
	vm.log.Infof("loaded snapshot %q: %d cells", name, vm.Arena.Live())
	return nil
}

// UnmarshalSnapshot replaces the VM's variables with an encoded snapshot.
// Running timers are stopped, and only callbacks for user events survive,
// since the timers and watches behind the others are gone.
func (vm *VM) UnmarshalSnapshot(b []byte) error {
	var s vmSnapshot
	if err := cbor.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %v", cell.ErrBadSnapshot, err)
	}
	table := make([]int, len(s.Natives))
	for i, name := range s.Natives {
		id, ok := vm.nativeIDs[name]
		if !ok {
			id = -1
		}
		table[i] = id
	}
	fresh, err := cell.NewArena(vm.Arena.Cap())
	if err != nil {
		return err
	}
	if err := fresh.UnmarshalSnapshot(s.Arena); err != nil {
		return err
	}
	if err := fresh.RemapNatives(table); err != nil {
		return err
	}
	root := fresh.Root()
	if root == cell.None || fresh.Parent(root) != cell.None {
		return fmt.Errorf("%w: root is not a global scope", cell.ErrBadSnapshot)
	}
	if ev, ok := fresh.Get(root, cell.NameKey(eventsKey)); !ok || fresh.Kind(ev) != cell.Object {
		return fmt.Errorf("%w: no callback container", cell.ErrBadSnapshot)
	}

	vm.timers.stopAll()
	vm.Arena = fresh
	vm.Global = root
	for _, k := range []event.Kind{event.Pin, event.Timer, event.Serial} {
		vm.Sched.unregisterKind(k)
	}
	return nil
}
