package internal

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"

	"github.com/zephyrtronium/tinyscript/config"
	"github.com/zephyrtronium/tinyscript/internal/cell"
)

// Version is the interpreter version, used for process.version.
const Version = "0.3.0"

// eventsKey names the hidden container of event callbacks in the global
// scope. Identifiers cannot spell it.
const eventsKey = "\xffevents"

// NativeFn is the signature of built-in functions. Arguments are locked by
// the caller for the duration of the call; the result must be returned
// locked, or None for undefined.
type NativeFn func(vm *VM, this cell.Ref, args []cell.Ref) (cell.Ref, error)

type native struct {
	name string
	fn   NativeFn
	// method natives require a receiver of kind recv.
	method bool
	recv   cell.Kind
}

// VM is an interpreter instance. A VM and its arena belong to one goroutine;
// other goroutines may only push events to Sched and call Interrupt.
type VM struct {
	// Arena holds every value scripts can reach.
	Arena *cell.Arena
	// Global is the global scope object, which is also the arena's root.
	Global cell.Ref
	// Sched dispatches events to script callbacks.
	Sched *Scheduler
	// HAL is the board the VM drives.
	HAL HAL
	// Stdout receives console output.
	Stdout io.Writer
	// StartTime is the time at which VM initialization began.
	StartTime time.Time

	natives   []native
	nativeIDs map[string]int
	// methods maps value kinds to the natives their properties expose.
	methods map[cell.Kind]map[string]int

	maxDepth  int
	depth     int
	interrupt atomic.Bool
	state     atomic.Int32

	timers timers

	cfg     *config.Config
	log     commonlog.Logger
	initErr error
}

// Option customizes a new VM.
type Option func(*VM)

// WithHAL sets the board driver.
func WithHAL(h HAL) Option {
	return func(vm *VM) { vm.HAL = h }
}

// WithOutput sets the console writer.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.Stdout = w }
}

// NewVM creates a VM with the given configuration, or the defaults if cfg is
// nil. Every registered core extension is installed.
func NewVM(cfg *config.Config, opts ...Option) (*VM, error) {
	haveVM.Store(true)
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	arena, err := cell.NewArena(cfg.Cells)
	if err != nil {
		return nil, err
	}
	vm := &VM{
		Arena:     arena,
		Stdout:    os.Stdout,
		StartTime: time.Now(),
		nativeIDs: make(map[string]int),
		methods:   make(map[cell.Kind]map[string]int),
		maxDepth:  cfg.CallDepth,
		cfg:       cfg,
		log:       commonlog.GetLogger("tinyscript.vm"),
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.timers.init()
	if err := vm.initGlobal(); err != nil {
		return nil, fmt.Errorf("tinyscript: arena too small for globals: %w", err)
	}
	if vm.Sched, err = newScheduler(vm, cfg); err != nil {
		return nil, err
	}
	vm.initBuiltins()
	for _, ext := range coreExt {
		ext(vm)
	}
	if vm.initErr != nil {
		return nil, fmt.Errorf("tinyscript: installing core extensions: %w", vm.initErr)
	}
	vm.log.Debugf("VM ready: %d of %d cells in use", arena.Live(), arena.Cap())
	return vm, nil
}

// initGlobal creates the global scope and the hidden callback container.
func (vm *VM) initGlobal() error {
	a := vm.Arena
	g, err := a.NewScope(cell.None)
	if err != nil {
		return vm.wrap(err)
	}
	a.SetRoot(g)
	a.Unlock(g)
	vm.Global = g
	ev, err := a.NewObject()
	if err != nil {
		return vm.wrap(err)
	}
	defer a.Unlock(ev)
	return vm.wrap(a.Set(g, cell.NameKey(eventsKey), ev))
}

// Config returns the configuration the VM was created with.
func (vm *VM) Config() *config.Config {
	return vm.cfg
}

// Register registers a core extension. Each function is called in the order it
// is registered; extensions that depend on other extensions need only import
// them. Register should be called from within init funcs. Panics if NewVM has
// been called.
func Register(f func(*VM)) {
	if haveVM.Load() {
		panic("tinyscript/internal: Register must be called before any VM is created")
	}
	coreExt = append(coreExt, f)
}

// coreExt is a list of core extensions that have been registered.
var coreExt = make([]func(*VM), 0, 10)

// haveVM becomes true once NewVM has been called.
var haveVM atomic.Bool

// Fail records the first error from installing builtins or a core
// extension. NewVM returns it.
func (vm *VM) Fail(err error) {
	if vm.initErr == nil && err != nil {
		vm.initErr = err
	}
}

// DefineNative adds fn to the native table under name and returns its id.
// Names are unique: redefining a name replaces its function, keeping the id,
// so snapshots can match natives by name.
func (vm *VM) DefineNative(name string, fn NativeFn) int {
	if id, ok := vm.nativeIDs[name]; ok {
		vm.natives[id].fn = fn
		return id
	}
	id := len(vm.natives)
	vm.natives = append(vm.natives, native{name: name, fn: fn})
	vm.nativeIDs[name] = id
	return id
}

// NewNative allocates a function cell for a defined native.
func (vm *VM) NewNative(id int) (cell.Ref, error) {
	r, err := vm.Arena.NewNative(id)
	return r, vm.wrap(err)
}

func (vm *VM) nativeName(r cell.Ref) string {
	id := vm.Arena.NativeID(r)
	if id < 0 || id >= len(vm.natives) {
		return "?"
	}
	n := vm.natives[id].name
	// Qualified names show only the final part.
	for i := len(n) - 1; i >= 0; i-- {
		if n[i] == '.' {
			return n[i+1:]
		}
	}
	return n
}

// SetGlobal stores v in the global scope under name.
func (vm *VM) SetGlobal(name string, v cell.Ref) error {
	return vm.wrap(vm.Arena.Set(vm.Global, cell.NameKey(name), v))
}

// GetGlobal returns the unlocked value of a global variable.
func (vm *VM) GetGlobal(name string) (cell.Ref, bool) {
	return vm.Arena.Get(vm.Global, cell.NameKey(name))
}

// InstallObject creates a global object named name whose properties are the
// given natives, and returns it unlocked. Errors are reported by NewVM.
func (vm *VM) InstallObject(name string, fns map[string]NativeFn) cell.Ref {
	a := vm.Arena
	obj, err := a.NewObject()
	if err != nil {
		vm.Fail(vm.wrap(err))
		return cell.None
	}
	defer a.Unlock(obj)
	vm.Fail(vm.SetNatives(obj, name, fns))
	vm.Fail(vm.SetGlobal(name, obj))
	return obj
}

// InstallGlobals defines each function as a global variable. Errors are
// reported by NewVM.
func (vm *VM) InstallGlobals(fns map[string]NativeFn) {
	vm.Fail(vm.SetNatives(vm.Global, "", fns))
}

// SetNatives defines each function and stores it in container obj. Natives
// are qualified by prefix in the native table. Keys are installed in sorted
// order so native ids are stable.
func (vm *VM) SetNatives(obj cell.Ref, prefix string, fns map[string]NativeFn) error {
	a := vm.Arena
	names := make([]string, 0, len(fns))
	for k := range fns {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		qual := k
		if prefix != "" {
			qual = prefix + "." + k
		}
		f, err := vm.NewNative(vm.DefineNative(qual, fns[k]))
		if err != nil {
			return err
		}
		err = a.Set(obj, cell.NameKey(k), f)
		a.Unlock(f)
		if err != nil {
			return vm.wrap(err)
		}
	}
	return nil
}

// AddMethods exposes natives as properties of every value of kind k. Calling
// one of them with a receiver of another kind raises TypeError.
func (vm *VM) AddMethods(k cell.Kind, fns map[string]NativeFn) {
	m := vm.methods[k]
	if m == nil {
		m = make(map[string]int, len(fns))
		vm.methods[k] = m
	}
	names := make([]string, 0, len(fns))
	for name := range fns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		id := vm.DefineNative(k.String()+"."+name, fns[name])
		vm.natives[id].method = true
		vm.natives[id].recv = k
		m[name] = id
	}
}

// Interrupt asks the running script to stop. It is safe to call from any
// goroutine, including signal handlers. The script unwinds with an
// uncatchable Interrupted exception at its next loop iteration or call.
func (vm *VM) Interrupt() {
	vm.interrupt.Store(true)
}

// poll returns Interrupted if an interrupt is pending.
func (vm *VM) poll() error {
	if vm.interrupt.Load() {
		return &Exception{Category: Interrupted, Message: "execution interrupted"}
	}
	return nil
}

// State returns what the evaluator is doing.
func (vm *VM) State() State {
	return State(vm.state.Load())
}

func (vm *VM) setState(s State) {
	vm.state.Store(int32(s))
}

// DoString executes src in the global scope and returns the value of its
// last expression statement, locked. The caller must unlock it.
func (vm *VM) DoString(src string) (cell.Ref, error) {
	if vm.depth == 0 {
		vm.interrupt.Store(false)
	}
	defer func() {
		if vm.depth == 0 {
			vm.setState(Idle)
		}
	}()
	a := vm.Arena
	s, err := a.NewStringFrom(src)
	if err != nil {
		return cell.None, vm.wrap(err)
	}
	defer a.Unlock(s)
	return vm.program(s, []byte(src))
}

// Eval executes src and returns the inspected result, releasing every cell
// it used. It is the form the REPL uses.
func (vm *VM) Eval(src string) (string, error) {
	r, err := vm.DoString(src)
	if err != nil {
		return "", err
	}
	defer vm.Arena.Unlock(r)
	return vm.Inspect(r), nil
}

// Call calls a script or native function with unlocked arguments; the VM
// locks them for the duration of the call. The result is locked.
func (vm *VM) Call(fn, this cell.Ref, args ...cell.Ref) (cell.Ref, error) {
	for _, arg := range args {
		vm.Arena.Lock(arg)
	}
	defer func() {
		for _, arg := range args {
			vm.Arena.Unlock(arg)
		}
	}()
	return vm.call(fn, this, args)
}

// Collect runs the cycle collector and returns the number of cells freed.
func (vm *VM) Collect() int {
	n := vm.Arena.Collect()
	if n > 0 {
		vm.log.Debugf("collected %d cells, %d free", n, vm.Arena.FreeCount())
	}
	return n
}

// Close stops all timers. Pending events are discarded.
func (vm *VM) Close() {
	vm.timers.stopAll()
}
