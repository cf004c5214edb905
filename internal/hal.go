package internal

import (
	"time"
)

// HAL is the board a VM drives. Drivers may call the callbacks given to
// Receive and Watch from any goroutine; the VM only ever enqueues events from
// them.
type HAL interface {
	// DigitalWrite sets an output pin.
	DigitalWrite(pin int, value bool) error
	// DigitalRead samples an input pin.
	DigitalRead(pin int) (bool, error)
	// Transmit writes bytes to a serial port.
	Transmit(port int, data []byte) error
	// Receive arranges for fn to be called with each byte arriving on a
	// serial port. A nil fn stops delivery.
	Receive(port int, fn func(byte)) error
	// Watch arranges for fn to be called with the new level each time an
	// input pin changes. A nil fn stops delivery.
	Watch(pin int, fn func(bool)) error
	// Now returns the board clock.
	Now() time.Time
}

// Board returns the VM's board, or a HardwareError exception if it has none.
func (vm *VM) Board() (HAL, error) {
	if vm.HAL == nil {
		return nil, vm.Raise(HardwareError, "no hardware attached")
	}
	return vm.HAL, nil
}
