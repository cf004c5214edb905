package hal

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoPin is returned by Sim for pins or ports it does not have.
var ErrNoPin = errors.New("hal: no such pin")

// Sim is a simulated board for tests and hosted runs. Output pins record the
// last level written, input pins are driven with SetInput, and serial ports
// loop through Inject and Output. It is safe for concurrent use.
type Sim struct {
	// Pins is the number of pins and serial ports.
	Pins int
	// Start is the board clock's zero. Now returns Start plus the time since
	// the Sim was created.
	Start time.Time

	mu      sync.Mutex
	created time.Time
	levels  map[int]bool
	watches map[int]func(bool)
	rx      map[int]func(byte)
	tx      map[int][]byte
}

// NewSim creates a simulated board with n pins and n serial ports whose
// clock starts at the current time.
func NewSim(n int) *Sim {
	now := time.Now()
	return &Sim{
		Pins:    n,
		Start:   now,
		created: now,
		levels:  make(map[int]bool),
		watches: make(map[int]func(bool)),
		rx:      make(map[int]func(byte)),
		tx:      make(map[int][]byte),
	}
}

func (s *Sim) check(pin int) error {
	if pin < 0 || pin >= s.Pins {
		return fmt.Errorf("%w: %d", ErrNoPin, pin)
	}
	return nil
}

// DigitalWrite sets a pin level.
func (s *Sim) DigitalWrite(pin int, value bool) error {
	if err := s.check(pin); err != nil {
		return err
	}
	s.mu.Lock()
	s.levels[pin] = value
	s.mu.Unlock()
	return nil
}

// DigitalRead returns a pin level.
func (s *Sim) DigitalRead(pin int) (bool, error) {
	if err := s.check(pin); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[pin], nil
}

// SetInput drives a pin from outside the board, notifying its watcher if the
// level changes.
func (s *Sim) SetInput(pin int, value bool) error {
	if err := s.check(pin); err != nil {
		return err
	}
	s.mu.Lock()
	old := s.levels[pin]
	s.levels[pin] = value
	fn := s.watches[pin]
	s.mu.Unlock()
	if fn != nil && old != value {
		fn(value)
	}
	return nil
}

// Watch sets the watcher of a pin.
func (s *Sim) Watch(pin int, fn func(bool)) error {
	if err := s.check(pin); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.watches, pin)
	} else {
		s.watches[pin] = fn
	}
	return nil
}

// Transmit records bytes written to a port.
func (s *Sim) Transmit(port int, data []byte) error {
	if err := s.check(port); err != nil {
		return err
	}
	s.mu.Lock()
	s.tx[port] = append(s.tx[port], data...)
	s.mu.Unlock()
	return nil
}

// Output returns and clears the bytes transmitted on a port.
func (s *Sim) Output(port int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.tx[port]
	delete(s.tx, port)
	return b
}

// Receive sets the receiver of a port.
func (s *Sim) Receive(port int, fn func(byte)) error {
	if err := s.check(port); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.rx, port)
	} else {
		s.rx[port] = fn
	}
	return nil
}

// Inject delivers bytes to a port's receiver as if they arrived on the
// wire. Bytes for a port with no receiver are lost.
func (s *Sim) Inject(port int, data []byte) {
	s.mu.Lock()
	fn := s.rx[port]
	s.mu.Unlock()
	if fn == nil {
		return
	}
	for _, c := range data {
		fn(c)
	}
}

// Now returns the board clock.
func (s *Sim) Now() time.Time {
	return s.Start.Add(time.Since(s.created))
}
