// Package hal provides the script functions that drive the board: pins,
// serial ports, timers, and the clock.
package hal

import (
	"math"
	"time"

	"github.com/zephyrtronium/tinyscript/internal"
	"github.com/zephyrtronium/tinyscript/internal/cell"
	"github.com/zephyrtronium/tinyscript/internal/event"
)

func init() {
	internal.Register(initHAL)
}

func initHAL(vm *internal.VM) {
	vm.InstallGlobals(map[string]internal.NativeFn{
		"digitalWrite":  digitalWrite,
		"digitalRead":   digitalRead,
		"setWatch":      setWatch,
		"clearWatch":    clearWatch,
		"setTimeout":    setTimeout,
		"setInterval":   setInterval,
		"clearTimeout":  clearTimer,
		"clearInterval": clearTimer,
		"serialWrite":   serialWrite,
		"onSerial":      onSerial,
		"getTime":       getTime,
	})
}

// source converts argument i to an event source number, which identifies a
// pin, port, or timer.
func source(vm *internal.VM, args []cell.Ref, i int, what string) (uint8, error) {
	n := vm.IntArg(args, i, -1)
	if n < 0 || n > math.MaxUint8 {
		return 0, vm.Raise(internal.RangeError, "invalid %s %s", what, vm.ToString(internal.Arg(args, i)))
	}
	return uint8(n), nil
}

// hardware converts a driver error into a script exception.
func hardware(vm *internal.VM, err error) error {
	if err == nil {
		return nil
	}
	return vm.Raise(internal.HardwareError, "%v", err)
}

// digitalWrite is a global function.
//
// digitalWrite(pin, value) drives an output pin high if value is truthy and
// low otherwise.
func digitalWrite(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	pin, err := source(vm, args, 0, "pin")
	if err != nil {
		return cell.None, err
	}
	b, err := vm.Board()
	if err != nil {
		return cell.None, err
	}
	return cell.None, hardware(vm, b.DigitalWrite(int(pin), vm.Truthy(internal.Arg(args, 1))))
}

// digitalRead is a global function.
//
// digitalRead(pin) returns the level of an input pin as a boolean.
func digitalRead(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	pin, err := source(vm, args, 0, "pin")
	if err != nil {
		return cell.None, err
	}
	b, err := vm.Board()
	if err != nil {
		return cell.None, err
	}
	v, err := b.DigitalRead(int(pin))
	if err != nil {
		return cell.None, hardware(vm, err)
	}
	return vm.NewBool(v)
}

// setWatch is a global function.
//
// setWatch(fn, pin, repeat) calls fn with the new level whenever an input pin
// changes. Unless repeat is truthy, the watch ends after the first change.
// Returns the pin, which clearWatch accepts.
func setWatch(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	pin, err := source(vm, args, 1, "pin")
	if err != nil {
		return cell.None, err
	}
	b, err := vm.Board()
	if err != nil {
		return cell.None, err
	}
	once := !vm.Truthy(internal.Arg(args, 2))
	if err := vm.Sched.Register(event.Pin, pin, internal.Arg(args, 0), once); err != nil {
		return cell.None, err
	}
	sched := vm.Sched
	err = b.Watch(int(pin), func(level bool) {
		var v uint32
		if level {
			v = 1
		}
		sched.Push(event.Record{Kind: event.Pin, Source: pin, Value: v})
	})
	if err != nil {
		vm.Sched.Unregister(event.Pin, pin)
		return cell.None, hardware(vm, err)
	}
	return vm.NewInt(int64(pin))
}

// clearWatch is a global function.
//
// clearWatch(pin) ends the watch on a pin.
func clearWatch(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	pin, err := source(vm, args, 0, "pin")
	if err != nil {
		return cell.None, err
	}
	vm.Sched.Unregister(event.Pin, pin)
	if vm.HAL != nil {
		return cell.None, hardware(vm, vm.HAL.Watch(int(pin), nil))
	}
	return cell.None, nil
}

// setTimeout is a global function.
//
// setTimeout(fn, ms) calls fn once after ms milliseconds and returns a timer
// id for clearTimeout.
func setTimeout(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	return startTimer(vm, args, false)
}

// setInterval is a global function.
//
// setInterval(fn, ms) calls fn every ms milliseconds and returns a timer id
// for clearInterval.
func setInterval(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	return startTimer(vm, args, true)
}

func startTimer(vm *internal.VM, args []cell.Ref, repeat bool) (cell.Ref, error) {
	fn := internal.Arg(args, 0)
	if k := vm.Arena.Kind(fn); k != cell.Function && k != cell.Native {
		return cell.None, vm.Raise(internal.TypeError, "timer callback must be a function, not %s", vm.TypeOf(fn))
	}
	ms := vm.ToNumber(internal.Arg(args, 1))
	if math.IsNaN(ms) || ms < 0 {
		ms = 0
	}
	if math.IsInf(ms, 0) || ms > float64(math.MaxInt64/int64(time.Millisecond)) {
		return cell.None, vm.Raise(internal.RangeError, "timer delay too long")
	}
	d := time.Duration(ms * float64(time.Millisecond))
	if repeat && d < time.Millisecond {
		// An interval of zero would flood the queue.
		d = time.Millisecond
	}
	id, err := vm.StartTimer(d, repeat)
	if err != nil {
		return cell.None, err
	}
	if err := vm.Sched.Register(event.Timer, id, fn, !repeat); err != nil {
		vm.StopTimer(id)
		return cell.None, err
	}
	return vm.NewInt(int64(id))
}

// clearTimer is a global function, both clearTimeout and clearInterval.
//
// clearTimeout(id) stops a timer. Unknown ids are ignored.
func clearTimer(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	id := vm.IntArg(args, 0, 0)
	if id <= 0 || id > math.MaxUint8 {
		return cell.None, nil
	}
	vm.StopTimer(uint8(id))
	vm.Sched.Unregister(event.Timer, uint8(id))
	return cell.None, nil
}

// serialWrite is a global function.
//
// serialWrite(port, data) transmits the string form of data on a serial port.
func serialWrite(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	port, err := source(vm, args, 0, "port")
	if err != nil {
		return cell.None, err
	}
	b, err := vm.Board()
	if err != nil {
		return cell.None, err
	}
	data := internal.Arg(args, 1)
	var p []byte
	if vm.Arena.Kind(data) == cell.String {
		p = vm.Arena.Bytes(data)
	} else {
		p = []byte(vm.ToString(data))
	}
	return cell.None, hardware(vm, b.Transmit(int(port), p))
}

// onSerial is a global function.
//
// onSerial(port, fn) calls fn with each byte received on a serial port, as a
// one-character string. A null or missing fn stops delivery.
func onSerial(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	port, err := source(vm, args, 0, "port")
	if err != nil {
		return cell.None, err
	}
	b, err := vm.Board()
	if err != nil {
		return cell.None, err
	}
	fn := internal.Arg(args, 1)
	if k := vm.Arena.Kind(fn); k == cell.Free || k == cell.Null {
		vm.Sched.Unregister(event.Serial, port)
		return cell.None, hardware(vm, b.Receive(int(port), nil))
	}
	if err := vm.Sched.Register(event.Serial, port, fn, false); err != nil {
		return cell.None, err
	}
	sched := vm.Sched
	err = b.Receive(int(port), func(c byte) {
		sched.Push(event.Record{Kind: event.Serial, Source: port, Value: uint32(c)})
	})
	if err != nil {
		vm.Sched.Unregister(event.Serial, port)
		return cell.None, hardware(vm, err)
	}
	return cell.None, nil
}

// getTime is a global function.
//
// getTime() returns the board clock in seconds since the Unix epoch. Without
// a board, it uses the host clock.
func getTime(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	now := time.Now()
	if vm.HAL != nil {
		now = vm.HAL.Now()
	}
	return vm.NewFloat(float64(now.UnixNano()) / 1e9)
}
