package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"

	"github.com/zephyrtronium/tinyscript/config"
	"github.com/zephyrtronium/tinyscript/internal/cell"
	"github.com/zephyrtronium/tinyscript/internal/event"
)

// Scheduler connects the event queue to script callbacks. Producers on any
// goroutine call Push; the goroutine that owns the VM calls Step, Drain, or
// Run, which pop events one at a time and run each callback to completion.
type Scheduler struct {
	vm *VM
	q  *event.Queue

	// watchdog bounds the time of a single dispatch. Zero disables it.
	watchdog time.Duration
	// wdGen numbers dispatches so that a watchdog which fires after its
	// dispatch has ended cannot interrupt the next one.
	wdMu  sync.Mutex
	wdGen uint64

	dispatched atomic.Uint64
	failed     atomic.Uint64
	unhandled  atomic.Uint64

	log commonlog.Logger
}

func newScheduler(vm *VM, cfg *config.Config) (*Scheduler, error) {
	q, err := event.NewQueue(cfg.QueueSize)
	if err != nil {
		return nil, err
	}
	wd, err := cfg.WatchdogDuration()
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		vm:       vm,
		q:        q,
		watchdog: wd,
		log:      commonlog.GetLogger("tinyscript.scheduler"),
	}
	return s, nil
}

// Queue returns the scheduler's event queue.
func (s *Scheduler) Queue() *event.Queue {
	return s.q
}

// Push enqueues an event. It is safe to call from any goroutine, never
// blocks, and never allocates cells. It returns false if the queue was full
// and the event was dropped.
func (s *Scheduler) Push(rec event.Record) bool {
	return s.q.Push(rec)
}

// callbackKey is the name of a registration in the hidden callback container.
func callbackKey(kind event.Kind, source uint8) cell.Key {
	return cell.NameKey(fmt.Sprintf("%v:%d", kind, source))
}

// callbacks returns the hidden container of registrations.
func (s *Scheduler) callbacks() cell.Ref {
	ev, _ := s.vm.Arena.Get(s.vm.Global, cell.NameKey(eventsKey))
	return ev
}

// Register arranges for fn to be called for events of the given kind and
// source, replacing any previous registration. With once set, the
// registration is removed before its first call.
func (s *Scheduler) Register(kind event.Kind, source uint8, fn cell.Ref, once bool) error {
	vm := s.vm
	a := vm.Arena
	if k := a.Kind(fn); k != cell.Function && k != cell.Native {
		return vm.Raise(TypeError, "event callback must be a function, not %s", vm.TypeOf(fn))
	}
	reg, err := a.NewObject()
	if err != nil {
		return vm.wrap(err)
	}
	defer a.Unlock(reg)
	if err := a.Set(reg, cell.NameKey("callback"), fn); err != nil {
		return vm.wrap(err)
	}
	b, err := vm.newBool(once)
	if err != nil {
		return err
	}
	err = a.Set(reg, cell.NameKey("once"), b)
	a.Unlock(b)
	if err != nil {
		return vm.wrap(err)
	}
	return vm.wrap(a.Set(s.callbacks(), callbackKey(kind, source), reg))
}

// Unregister removes the registration for kind and source. It reports whether
// there was one.
func (s *Scheduler) Unregister(kind event.Kind, source uint8) bool {
	return s.vm.Arena.Delete(s.callbacks(), callbackKey(kind, source))
}

// Registered returns the number of registrations.
func (s *Scheduler) Registered() int {
	return s.vm.Arena.Count(s.callbacks())
}

// unregisterKind removes every registration of one kind.
func (s *Scheduler) unregisterKind(kind event.Kind) {
	a := s.vm.Arena
	ev := s.callbacks()
	var keys []cell.Key
	it := a.Iterate(ev)
	for {
		k, _, ok := it.Next()
		if !ok {
			break
		}
		keys = append(keys, k)
	}
	it.Close()
	prefix := kind.String() + ":"
	for _, k := range keys {
		if len(k.Name) > len(prefix) && k.Name[:len(prefix)] == prefix {
			a.Delete(ev, k)
		}
	}
}

// Step dispatches one event. It reports whether there was an event to
// dispatch. Errors raised by callbacks are logged and absorbed.
func (s *Scheduler) Step() bool {
	if s.q.TakeOverflow() {
		st := s.q.Stats()
		s.log.Warningf("event queue overflowed; %d events dropped so far", st.Dropped)
	}
	rec, ok := s.q.Pop()
	if !ok {
		return false
	}
	s.dispatch(rec)
	return true
}

func (s *Scheduler) dispatch(rec event.Record) {
	vm := s.vm
	a := vm.Arena
	reg, ok := a.Get(s.callbacks(), callbackKey(rec.Kind, rec.Source))
	if !ok || !a.Kind(reg).IsContainer() {
		s.unhandled.Add(1)
		s.log.Debugf("no callback for %v", rec)
		return
	}
	a.Lock(reg)
	defer a.Unlock(reg)
	fn, _ := a.Get(reg, cell.NameKey("callback"))
	once, _ := a.Get(reg, cell.NameKey("once"))
	if vm.truthy(once) {
		s.Unregister(rec.Kind, rec.Source)
	}
	arg, err := s.eventValue(rec)
	if err != nil {
		s.fail(rec, err)
		return
	}
	defer a.Unlock(arg)

	vm.interrupt.Store(false)
	if s.watchdog > 0 {
		gen := s.arm()
		t := time.AfterFunc(s.watchdog, func() { s.expire(gen) })
		defer func() {
			t.Stop()
			s.disarm()
		}()
	}
	s.dispatched.Add(1)
	var args []cell.Ref
	if arg != cell.None {
		args = []cell.Ref{arg}
	}
	r, err := vm.Call(fn, cell.None, args...)
	vm.setState(Idle)
	if err != nil {
		s.fail(rec, err)
		return
	}
	a.Unlock(r)
}

// arm starts a new watchdog generation for a dispatch and returns it.
func (s *Scheduler) arm() uint64 {
	s.wdMu.Lock()
	defer s.wdMu.Unlock()
	s.wdGen++
	return s.wdGen
}

// disarm ends the current generation. Watchdogs from it no longer interrupt.
func (s *Scheduler) disarm() {
	s.wdMu.Lock()
	s.wdGen++
	s.wdMu.Unlock()
}

// expire interrupts the VM if generation gen is still dispatching.
func (s *Scheduler) expire(gen uint64) {
	s.wdMu.Lock()
	defer s.wdMu.Unlock()
	if s.wdGen == gen {
		s.vm.Interrupt()
	}
}

// eventValue builds the argument a callback receives: the level for pin
// events, a one-byte string for serial events, and the value for user
// events. Timer callbacks receive nothing.
func (s *Scheduler) eventValue(rec event.Record) (cell.Ref, error) {
	vm := s.vm
	switch rec.Kind {
	case event.Pin:
		return vm.newBool(rec.Value != 0)
	case event.Serial:
		r, err := vm.Arena.NewString([]byte{byte(rec.Value)})
		return r, vm.wrap(err)
	case event.User:
		return vm.NewInt(int64(rec.Value))
	}
	return cell.None, nil
}

func (s *Scheduler) fail(rec event.Record, err error) {
	s.failed.Add(1)
	var ex *Exception
	if errors.As(err, &ex) && ex.Category == Interrupted {
		s.log.Warningf("callback for %v interrupted", rec)
	} else {
		s.log.Errorf("uncaught error in callback for %v: %v", rec, err)
	}
	s.vm.Discard(err)
}

// Drain dispatches events until the queue is empty and returns the number
// dispatched.
func (s *Scheduler) Drain() int {
	n := 0
	for s.Step() {
		n++
	}
	return n
}

// Run dispatches events as they arrive until ctx is done or nothing is left
// that could produce an event: no queued events, no registrations, and no
// running timers. The cycle collector runs whenever the queue goes idle
// after dispatching.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if s.Drain() > 0 {
			s.vm.Collect()
		}
		if s.q.Len() == 0 && s.Registered() == 0 && s.vm.Timers() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.q.Wake():
		}
	}
}

// SchedulerStats counts dispatches.
type SchedulerStats struct {
	event.Stats
	Dispatched uint64
	Failed     uint64
	Unhandled  uint64
}

// Stats returns the scheduler's counters.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Stats:      s.q.Stats(),
		Dispatched: s.dispatched.Load(),
		Failed:     s.failed.Load(),
		Unhandled:  s.unhandled.Load(),
	}
}
