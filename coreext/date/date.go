// Package date provides the Date object, which works with times as integer
// milliseconds since the Unix epoch.
package date

import (
	"math"
	"time"

	"gitlab.com/variadico/lctime"

	"github.com/zephyrtronium/tinyscript/internal"
	"github.com/zephyrtronium/tinyscript/internal/cell"
)

// DefaultFormat is the format Date.format uses when none is given.
const DefaultFormat = "%Y-%m-%d %H:%M:%S %Z"

func init() {
	internal.Register(initDate)
}

func initDate(vm *internal.VM) {
	vm.InstallObject("Date", map[string]internal.NativeFn{
		"clock":  clock,
		"format": format,
		"now":    now,
		"parse":  parse,
	})
}

// Millis converts a time to milliseconds since the epoch.
func Millis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// timeArg converts argument i from milliseconds to a time in UTC.
func timeArg(vm *internal.VM, args []cell.Ref, i int) (time.Time, error) {
	ms := vm.ToNumber(internal.Arg(args, i))
	if math.IsNaN(ms) || math.IsInf(ms, 0) || math.Abs(ms) > 8.64e15 {
		return time.Time{}, vm.Raise(internal.RangeError, "invalid time value")
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

// now is a Date method.
//
// now returns the current time in milliseconds since the epoch, by the board
// clock if there is one.
func now(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	t := time.Now()
	if vm.HAL != nil {
		t = vm.HAL.Now()
	}
	return vm.NewInt(Millis(t))
}

// clock is a Date method.
//
// clock returns the number of seconds since the interpreter started.
func clock(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	return vm.NewFloat(time.Since(vm.StartTime).Seconds())
}

// format is a Date method.
//
// format(ms, fmt) renders a time in UTC using C strftime directives. See
// https://godoc.org/github.com/variadico/lctime for the full list of
// supported directives.
func format(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	t, err := timeArg(vm, args, 0)
	if err != nil {
		return cell.None, err
	}
	f := DefaultFormat
	if internal.Arg(args, 1) != cell.None {
		f = vm.ToString(args[1])
	}
	return vm.NewString(lctime.Strftime(f, t))
}

// parse is a Date method.
//
// parse(str, fmt) reads a time written with strftime directives and returns
// it in milliseconds since the epoch.
func parse(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	s := vm.ToString(internal.Arg(args, 0))
	f := DefaultFormat
	if internal.Arg(args, 1) != cell.None {
		f = vm.ToString(args[1])
	}
	// Rendering Go's reference time with the directives gives the layout.
	ref := time.Date(2006, time.January, 2, 15, 4, 5, 0, time.FixedZone("MST", -7*60*60))
	layout := lctime.Strftime(f, ref)
	t, err := time.Parse(layout, s)
	if err != nil {
		return cell.None, vm.Raise(internal.RangeError, "%q does not match %q", s, f)
	}
	return vm.NewInt(Millis(t))
}
