package collector_test

import (
	"testing"

	"github.com/zephyrtronium/tinyscript/coreext/collector"
	"github.com/zephyrtronium/tinyscript/testutils"
)

func TestRegister(t *testing.T) {
	vm := testutils.TestingVM()
	testutils.CheckGlobals(t, vm, []string{"Collector"})
	obj, _ := vm.GetGlobal("Collector")
	testutils.CheckFields(t, vm, obj, []string{"collect", "stats"})
}

func TestCollect(t *testing.T) {
	vm := testutils.NewTestingVM(t, nil)
	// Each call leaves an object and its one entry in a cycle.
	testutils.SourceTestCase{
		Source: "function mk() { var a = {}; a.self = a } mk(); mk(); Collector.collect()",
		Pass:   testutils.PassEqual("4"),
	}.Run(t, vm)
	testutils.SourceTestCase{Source: "Collector.collect()", Pass: testutils.PassEqual("0")}.Run(t, vm)
}

func TestStats(t *testing.T) {
	vm := testutils.NewTestingVM(t, nil)
	cases := map[string]testutils.SourceTestCase{
		"cells":     {Source: "Collector.stats().cells", Pass: testutils.PassEqual("4096")},
		"sum":       {Source: "var st = Collector.stats(); st.live + st.free == st.cells", Pass: testutils.PassEqual("true")},
		"reachable": {Source: "var sr = Collector.stats(); sr.reachable > 0 && sr.reachable <= sr.live", Pass: testutils.PassEqual("true")},
		"locked":    {Source: "Collector.stats().locked > 0", Pass: testutils.PassEqual("true")},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			c.Run(t, vm)
		})
	}
}

func TestReachable(t *testing.T) {
	vm := testutils.NewTestingVM(t, nil)
	cases := map[string]struct {
		src  string
		name string
		want int
	}{
		"scalar": {"var r0 = 1", "r0", 1},
		"nested": {"var r1 = {a: [1, 'x'], b: null}", "r1", 5},
		"shared": {"var sh = [1]; var r2 = {p: sh, q: sh}", "r2", 3},
		"cycle":  {"var r3 = {}; r3.me = r3", "r3", 1},
		"long":   {"var r4 = {s: 'a string long enough to need fragments'}", "r4", 2},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			r, err := vm.DoString(c.src)
			if err != nil {
				t.Fatal(err)
			}
			vm.Arena.Unlock(r)
			v, _ := vm.GetGlobal(c.name)
			if got := collector.Reachable(vm.Arena, v); got != c.want {
				t.Errorf("want %d reachable, got %d", c.want, got)
			}
		})
	}
}
