package internal

import (
	"sync"
	"time"

	"github.com/zephyrtronium/tinyscript/internal/event"
)

// timers tracks running timers by the id that their events carry as the
// source.
type timers struct {
	mu   sync.Mutex
	t    map[uint8]*time.Timer
	last uint8
}

func (ts *timers) init() {
	ts.t = make(map[uint8]*time.Timer)
}

// StartTimer starts a timer that pushes a Timer event after d, and again
// every d if repeat is set. It returns the timer's id, which is never 0.
func (vm *VM) StartTimer(d time.Duration, repeat bool) (uint8, error) {
	ts := &vm.timers
	ts.mu.Lock()
	defer ts.mu.Unlock()
	id := ts.last
	for range 255 {
		id++
		if id == 0 {
			id = 1
		}
		if ts.t[id] != nil {
			continue
		}
		ts.last = id
		var t *time.Timer
		t = time.AfterFunc(d, func() {
			ts.mu.Lock()
			if ts.t[id] != t {
				ts.mu.Unlock()
				return
			}
			if repeat {
				t.Reset(d)
			} else {
				delete(ts.t, id)
			}
			ts.mu.Unlock()
			vm.Sched.Push(event.Record{Kind: event.Timer, Source: id})
		})
		ts.t[id] = t
		return id, nil
	}
	return 0, vm.Raise(RangeError, "too many timers")
}

// StopTimer stops a timer. It reports whether the timer was running.
func (vm *VM) StopTimer(id uint8) bool {
	ts := &vm.timers
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t := ts.t[id]
	if t == nil {
		return false
	}
	t.Stop()
	delete(ts.t, id)
	return true
}

// Timers returns the number of running timers.
func (vm *VM) Timers() int {
	ts := &vm.timers
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.t)
}

func (ts *timers) stopAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for id, t := range ts.t {
		t.Stop()
		delete(ts.t, id)
	}
}
