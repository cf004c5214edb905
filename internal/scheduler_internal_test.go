package internal

import "testing"

// TestWatchdogGeneration tests that a watchdog firing after its dispatch has
// ended leaves the next dispatch alone.
func TestWatchdogGeneration(t *testing.T) {
	vm, err := NewVM(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer vm.Close()
	s := vm.Sched

	late := s.arm()
	s.disarm()
	next := s.arm()
	s.expire(late)
	if vm.interrupt.Load() {
		t.Error("watchdog from a finished dispatch interrupted the next one")
	}
	s.expire(next)
	if !vm.interrupt.Load() {
		t.Error("watchdog for the running dispatch did not interrupt")
	}
	s.disarm()
	vm.interrupt.Store(false)
	s.expire(next)
	if vm.interrupt.Load() {
		t.Error("watchdog interrupted after disarm")
	}
}
