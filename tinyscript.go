/*
Package tinyscript implements a small JavaScript-flavoured scripting language
for microcontroller-class devices.

The interpreter runs in a fixed arena of cells. Every value, including the
global scope, every string fragment, and every object entry, is a cell, and
running out of cells raises OutOfMemory in the script rather than growing the
host's heap. Values are reference counted; a cycle collector reclaims what
reference counting cannot.

Scripts are executed directly from source. Function values keep their source
text, and each call parses the body again while evaluating it, so no syntax
tree is ever stored in the arena.

Host code talks to scripts through events. Hardware drivers push records onto
a fixed-size queue from any goroutine; the scheduler pops them on the VM's
goroutine and calls whatever function the script registered for that event:

	vm, err := tinyscript.NewVM(nil, tinyscript.WithHAL(board))
	if err != nil {
		return err
	}
	defer vm.Close()
	if _, err := vm.Eval(`setWatch(function (up) { digitalWrite(2, up) }, 5, true)`); err != nil {
		return err
	}
	return vm.Sched.Run(ctx)

The global variable graph can be saved to and restored from a storage.Store
with SaveSnapshot and LoadSnapshot.
*/
package tinyscript

import (
	"github.com/zephyrtronium/tinyscript/config"
	// Every VM gets the core extensions.
	_ "github.com/zephyrtronium/tinyscript/coreext"
	"github.com/zephyrtronium/tinyscript/internal"
	"github.com/zephyrtronium/tinyscript/internal/cell"
	"github.com/zephyrtronium/tinyscript/internal/event"
)

// A VM runs scripts.
type VM = internal.VM

// An Option configures a VM.
type Option = internal.Option

// NativeFn is the signature of functions the host exposes to scripts.
type NativeFn = internal.NativeFn

// HAL is the board a VM drives.
type HAL = internal.HAL

// An Exception is a script-visible error.
type Exception = internal.Exception

// Category classifies exceptions.
type Category = internal.Category

// Ref is a handle to a cell in a VM's arena.
type Ref = cell.Ref

// Record is a single event.
type Record = event.Record

// EventKind identifies the source type of an event.
type EventKind = event.Kind

// Event kinds.
const (
	Pin    = event.Pin
	Timer  = event.Timer
	Serial = event.Serial
	User   = event.User
)

// Exception categories.
const (
	TypeError      = internal.TypeError
	ReferenceError = internal.ReferenceError
	RangeError     = internal.RangeError
	SyntaxError    = internal.SyntaxError
	OutOfMemory    = internal.OutOfMemory
	StackOverflow  = internal.StackOverflow
	HardwareError  = internal.HardwareError
	Thrown         = internal.Thrown
	Interrupted    = internal.Interrupted
)

// State is what a VM's evaluator is doing.
type State = internal.State

// Evaluator states.
const (
	Idle                = internal.Idle
	ParsingStatement    = internal.ParsingStatement
	ExecutingExpression = internal.ExecutingExpression
	ErrorPropagating    = internal.ErrorPropagating
)

var (
	// WithHAL sets the board driver.
	WithHAL = internal.WithHAL
	// WithOutput sets where console output goes.
	WithOutput = internal.WithOutput
)

// Version is the interpreter version.
const Version = internal.Version

// NewVM creates a VM with the core extensions installed. A nil cfg uses
// config.Default.
func NewVM(cfg *config.Config, opts ...Option) (*VM, error) {
	return internal.NewVM(cfg, opts...)
}
