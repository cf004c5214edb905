package internal

import (
	"errors"
	"fmt"

	"github.com/zephyrtronium/tinyscript/internal/cell"
)

// Category classifies a script exception.
type Category int

// Exception categories.
const (
	TypeError Category = iota
	ReferenceError
	RangeError
	SyntaxError
	OutOfMemory
	StackOverflow
	HardwareError
	// Thrown is a value raised by a script throw statement.
	Thrown
	// Interrupted is raised when the host aborts a running script. It
	// cannot be caught.
	Interrupted
)

var categoryNames = [...]string{
	"TypeError", "ReferenceError", "RangeError", "SyntaxError", "OutOfMemory",
	"StackOverflow", "HardwareError", "Error", "Interrupted",
}

func (c Category) String() string {
	if c < TypeError || c > Interrupted {
		return fmt.Sprintf("Category(%d)", c)
	}
	return categoryNames[c]
}

// An Exception is a script-visible error. Exceptions travel through the
// evaluator as ordinary Go errors until a try statement catches them or they
// reach the host.
type Exception struct {
	Category Category
	Message  string
	// Value is the thrown value of a Thrown exception. The exception holds
	// a lock on it until it is caught or discarded.
	Value cell.Ref
}

// Error returns the category and message.
func (e *Exception) Error() string {
	return e.Category.String() + ": " + e.Message
}

// Catchable reports whether a try statement may handle the exception.
func (e *Exception) Catchable() bool {
	return e.Category != Interrupted
}

// Raise creates an exception to return from native code, e.g. a HAL driver
// failure as a HardwareError.
func (vm *VM) Raise(cat Category, format string, args ...interface{}) error {
	return &Exception{Category: cat, Message: fmt.Sprintf(format, args...)}
}

// wrap converts arena allocation failures into OutOfMemory exceptions.
// Other errors are returned unchanged.
func (vm *VM) wrap(err error) error {
	if errors.Is(err, cell.ErrOutOfMemory) {
		return &Exception{Category: OutOfMemory, Message: fmt.Sprintf("arena of %d cells is full", vm.Arena.Cap())}
	}
	return err
}

// throw raises v as a Thrown exception. It takes over the caller's lock on v.
func (vm *VM) throw(v cell.Ref) error {
	return &Exception{Category: Thrown, Message: vm.ToString(v), Value: v}
}

// Discard drops any cell an error holds. Hosts that consume an error from
// the VM without returning it to a script should discard it.
func (vm *VM) Discard(err error) {
	var ex *Exception
	if errors.As(err, &ex) && ex.Value != cell.None {
		vm.Arena.Unlock(ex.Value)
		ex.Value = cell.None
	}
}

// exceptionValue returns the value a catch clause binds for ex, locked. For
// thrown values, the exception's lock passes to the caller. Other exceptions
// become an object with name and message properties.
func (vm *VM) exceptionValue(ex *Exception) (cell.Ref, error) {
	if ex.Category == Thrown {
		v := ex.Value
		ex.Value = cell.None
		return v, nil
	}
	a := vm.Arena
	obj, err := a.NewObject()
	if err != nil {
		return cell.None, vm.wrap(err)
	}
	for _, kv := range [...][2]string{{"name", ex.Category.String()}, {"message", ex.Message}} {
		if err := vm.setString(obj, kv[0], kv[1]); err != nil {
			a.Unlock(obj)
			return cell.None, err
		}
	}
	return obj, nil
}

// setString stores a new string under a name in container obj.
func (vm *VM) setString(obj cell.Ref, name, s string) error {
	a := vm.Arena
	v, err := a.NewStringFrom(s)
	if err != nil {
		return vm.wrap(err)
	}
	defer a.Unlock(v)
	return vm.wrap(a.Set(obj, cell.NameKey(name), v))
}
