package internal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zephyrtronium/tinyscript/config"
	"github.com/zephyrtronium/tinyscript/internal"
	"github.com/zephyrtronium/tinyscript/internal/cell"
	"github.com/zephyrtronium/tinyscript/internal/event"
	"github.com/zephyrtronium/tinyscript/testutils"
)

// setup runs src on vm and fails the test on error.
func setup(t *testing.T, vm *internal.VM, src string) {
	t.Helper()
	r, err := vm.DoString(src)
	if err != nil {
		t.Fatal(err)
	}
	vm.Arena.Unlock(r)
}

// register registers the global function name for events of one kind and
// source.
func register(t *testing.T, vm *internal.VM, kind event.Kind, source uint8, name string, once bool) {
	t.Helper()
	fn, ok := vm.GetGlobal(name)
	if !ok {
		t.Fatalf("no global %s", name)
	}
	if err := vm.Sched.Register(kind, source, fn, once); err != nil {
		t.Fatal(err)
	}
}

// TestDispatchOrder tests that events reach their callbacks in the order
// they were pushed, with their values.
func TestDispatchOrder(t *testing.T) {
	vm := testutils.NewTestingVM(t, nil)
	setup(t, vm, "var got = []; function onUser(v) { got.push(v) }")
	register(t, vm, event.User, 1, "onUser", false)
	for i := uint32(1); i <= 3; i++ {
		if !vm.Sched.Push(event.Record{Kind: event.User, Source: 1, Value: i}) {
			t.Fatal("push failed")
		}
	}
	if n := vm.Sched.Drain(); n != 3 {
		t.Errorf("dispatched %d events, want 3", n)
	}
	testutils.SourceTestCase{Source: "got", Pass: testutils.PassEqual("[1, 2, 3]")}.Run(t, vm)
	if st := vm.Sched.Stats(); st.Dispatched != 3 || st.Unhandled != 0 || st.Failed != 0 {
		t.Errorf("wrong stats: %+v", st)
	}
	if st := vm.Arena.Stats(); st.Locked != 0 {
		t.Errorf("%d cells locked after dispatch", st.Locked)
	}
}

// TestEventValues tests the argument each kind of event passes.
func TestEventValues(t *testing.T) {
	cases := map[string]struct {
		rec  event.Record
		want string
	}{
		"pin-high": {event.Record{Kind: event.Pin, Source: 4, Value: 1}, "true"},
		"pin-low":  {event.Record{Kind: event.Pin, Source: 4, Value: 0}, "false"},
		"serial":   {event.Record{Kind: event.Serial, Source: 0, Value: 'A'}, `"A"`},
		"user":     {event.Record{Kind: event.User, Source: 9, Value: 77}, "77"},
		"timer":    {event.Record{Kind: event.Timer, Source: 2}, "undefined"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			vm := testutils.NewTestingVM(t, nil)
			setup(t, vm, "var arg = null; function cb(v) { arg = v }")
			register(t, vm, c.rec.Kind, c.rec.Source, "cb", false)
			vm.Sched.Push(c.rec)
			vm.Sched.Drain()
			testutils.SourceTestCase{Source: "arg", Pass: testutils.PassEqual(c.want)}.Run(t, vm)
		})
	}
}

// TestNativeCallback tests that natives can be event callbacks.
func TestNativeCallback(t *testing.T) {
	vm := testutils.NewTestingVM(t, nil)
	var got []bool
	id := vm.DefineNative("test.pinWatcher", func(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
		got = append(got, vm.Truthy(internal.Arg(args, 0)))
		return cell.None, nil
	})
	fn, err := vm.NewNative(id)
	if err != nil {
		t.Fatal(err)
	}
	err = vm.Sched.Register(event.Pin, 2, fn, false)
	vm.Arena.Unlock(fn)
	if err != nil {
		t.Fatal(err)
	}
	vm.Sched.Push(event.Record{Kind: event.Pin, Source: 2, Value: 1})
	vm.Sched.Push(event.Record{Kind: event.Pin, Source: 3, Value: 1})
	vm.Sched.Push(event.Record{Kind: event.Pin, Source: 2, Value: 0})
	vm.Sched.Drain()
	if len(got) != 2 || !got[0] || got[1] {
		t.Errorf("wrong calls: %v", got)
	}
	if st := vm.Sched.Stats(); st.Unhandled != 1 {
		t.Errorf("want 1 unhandled event, have %d", st.Unhandled)
	}
}

// TestRegisterNotFunction tests that only functions can be callbacks.
func TestRegisterNotFunction(t *testing.T) {
	vm := testutils.NewTestingVM(t, nil)
	x, err := vm.NewInt(1)
	if err != nil {
		t.Fatal(err)
	}
	defer vm.Arena.Unlock(x)
	err = vm.Sched.Register(event.User, 0, x, false)
	var ex *internal.Exception
	if !errors.As(err, &ex) || ex.Category != internal.TypeError {
		t.Errorf("wrong error: %v", err)
	}
	if n := vm.Sched.Registered(); n != 0 {
		t.Errorf("%d registrations after failure", n)
	}
}

// TestOnce tests that once registrations are removed before their first
// call.
func TestOnce(t *testing.T) {
	vm := testutils.NewTestingVM(t, nil)
	setup(t, vm, "var calls = 0; function once() { calls++ }")
	register(t, vm, event.User, 5, "once", true)
	if n := vm.Sched.Registered(); n != 1 {
		t.Fatalf("want 1 registration, have %d", n)
	}
	vm.Sched.Push(event.Record{Kind: event.User, Source: 5})
	vm.Sched.Push(event.Record{Kind: event.User, Source: 5})
	vm.Sched.Drain()
	testutils.SourceTestCase{Source: "calls", Pass: testutils.PassEqual("1")}.Run(t, vm)
	if n := vm.Sched.Registered(); n != 0 {
		t.Errorf("want 0 registrations, have %d", n)
	}
	if st := vm.Sched.Stats(); st.Unhandled != 1 {
		t.Errorf("want 1 unhandled event, have %d", st.Unhandled)
	}
}

// TestReplace tests that registering again replaces the old callback.
func TestReplace(t *testing.T) {
	vm := testutils.NewTestingVM(t, nil)
	setup(t, vm, "var which = ''; function first() { which += 'a' } function second() { which += 'b' }")
	register(t, vm, event.User, 1, "first", false)
	register(t, vm, event.User, 1, "second", false)
	if n := vm.Sched.Registered(); n != 1 {
		t.Errorf("want 1 registration, have %d", n)
	}
	vm.Sched.Push(event.Record{Kind: event.User, Source: 1})
	vm.Sched.Drain()
	testutils.SourceTestCase{Source: "which", Pass: testutils.PassEqual(`"b"`)}.Run(t, vm)
	if !vm.Sched.Unregister(event.User, 1) {
		t.Error("Unregister found nothing")
	}
	if vm.Sched.Unregister(event.User, 1) {
		t.Error("Unregister removed twice")
	}
}

// TestOverflow tests that a full queue drops the newest events and counts
// them.
func TestOverflow(t *testing.T) {
	cfg := config.Default()
	cfg.QueueSize = 4
	vm := testutils.NewTestingVM(t, cfg)
	setup(t, vm, "var seen = []; function cb(v) { seen.push(v) }")
	register(t, vm, event.User, 0, "cb", false)
	for i := uint32(0); i < 6; i++ {
		ok := vm.Sched.Push(event.Record{Kind: event.User, Value: i})
		if ok != (i < 4) {
			t.Errorf("push %d: got %t", i, ok)
		}
	}
	st := vm.Sched.Stats()
	if st.Queued != 4 || st.Dropped != 2 || st.Episodes != 1 {
		t.Errorf("wrong stats after overflow: %+v", st)
	}
	if n := vm.Sched.Drain(); n != 4 {
		t.Errorf("dispatched %d events, want 4", n)
	}
	testutils.SourceTestCase{Source: "seen", Pass: testutils.PassEqual("[0, 1, 2, 3]")}.Run(t, vm)
	// A new episode starts once the old one has been reported.
	for i := uint32(0); i < 5; i++ {
		vm.Sched.Push(event.Record{Kind: event.User, Value: i})
	}
	if st := vm.Sched.Stats(); st.Episodes != 2 || st.Dropped != 3 {
		t.Errorf("wrong stats after second overflow: %+v", st)
	}
	vm.Sched.Drain()
}

// TestCallbackError tests that an uncaught error in a callback is absorbed
// and does not stop later events.
func TestCallbackError(t *testing.T) {
	vm := testutils.NewTestingVM(t, nil)
	setup(t, vm, "var ok = 0; function bad() { throw {big: [1, 2, 3]} } function good() { ok++ }")
	before := vm.Arena.Live()
	register(t, vm, event.User, 1, "bad", false)
	register(t, vm, event.User, 2, "good", false)
	vm.Sched.Push(event.Record{Kind: event.User, Source: 1})
	vm.Sched.Push(event.Record{Kind: event.User, Source: 2})
	vm.Sched.Drain()
	st := vm.Sched.Stats()
	if st.Failed != 1 || st.Dispatched != 2 {
		t.Errorf("wrong stats: %+v", st)
	}
	testutils.SourceTestCase{Source: "ok", Pass: testutils.PassEqual("1")}.Run(t, vm)
	vm.Sched.Unregister(event.User, 1)
	vm.Sched.Unregister(event.User, 2)
	testutils.CheckNoLeaks(t, vm, before)
}

// TestWatchdog tests that a callback running too long is interrupted and
// that the VM keeps working afterward.
func TestWatchdog(t *testing.T) {
	cfg := config.Default()
	cfg.Watchdog = "30ms"
	vm := testutils.NewTestingVM(t, cfg)
	setup(t, vm, "var after = 0; function spin() { while (true) {} } function next() { after = 1 }")
	register(t, vm, event.User, 1, "spin", false)
	register(t, vm, event.User, 2, "next", false)
	vm.Sched.Push(event.Record{Kind: event.User, Source: 1})
	vm.Sched.Push(event.Record{Kind: event.User, Source: 2})
	vm.Sched.Drain()
	if st := vm.Sched.Stats(); st.Failed != 1 {
		t.Errorf("want 1 failure, have %d", st.Failed)
	}
	if s := vm.State(); s != internal.Idle {
		t.Errorf("VM is %v after watchdog", s)
	}
	testutils.SourceTestCase{Source: "after", Pass: testutils.PassEqual("1")}.Run(t, vm)
}

// TestTimers tests one-shot timers firing in order through Run, which
// returns once nothing can produce more events.
func TestTimers(t *testing.T) {
	vm := testutils.NewTestingVM(t, nil)
	setup(t, vm, "var order = 0; function t1() { order = order * 10 + 1 } function t2() { order = order * 10 + 2 } function t3() { order = order * 10 + 3 }")
	before := vm.Arena.Live()
	for i, name := range []string{"t1", "t2", "t3"} {
		id, err := vm.StartTimer(time.Duration(i+1)*20*time.Millisecond, false)
		if err != nil {
			t.Fatal(err)
		}
		register(t, vm, event.Timer, id, name, true)
	}
	if n := vm.Timers(); n != 3 {
		t.Errorf("want 3 timers, have %d", n)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := vm.Sched.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	testutils.SourceTestCase{Source: "order", Pass: testutils.PassEqual("123")}.Run(t, vm)
	if n := vm.Timers(); n != 0 {
		t.Errorf("%d timers after run", n)
	}
	testutils.CheckNoLeaks(t, vm, before)
}

// TestIntervalCancel tests that Run keeps running a repeating timer until its
// context ends, and that stopping the timer stops its events.
func TestIntervalCancel(t *testing.T) {
	vm := testutils.NewTestingVM(t, nil)
	setup(t, vm, "var ticks = 0; function tick() { ticks++ }")
	id, err := vm.StartTimer(5*time.Millisecond, true)
	if err != nil {
		t.Fatal(err)
	}
	register(t, vm, event.Timer, id, "tick", false)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := vm.Sched.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("wrong error from Run: %v", err)
	}
	testutils.SourceTestCase{Source: "ticks > 0", Pass: testutils.PassEqual("true")}.Run(t, vm)
	if !vm.StopTimer(id) {
		t.Error("StopTimer found no timer")
	}
	if vm.StopTimer(id) {
		t.Error("StopTimer stopped twice")
	}
	vm.Sched.Unregister(event.Timer, id)
	vm.Sched.Drain()
	if err := vm.Sched.Run(context.Background()); err != nil {
		t.Errorf("Run after stopping: %v", err)
	}
}

// TestRunIdle tests that Run returns immediately with nothing to do.
func TestRunIdle(t *testing.T) {
	vm := testutils.NewTestingVM(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := vm.Sched.Run(ctx); err != nil {
		t.Errorf("Run: %v", err)
	}
}
