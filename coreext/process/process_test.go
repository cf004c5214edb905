package process_test

import (
	"runtime"
	"strconv"
	"testing"

	"github.com/zephyrtronium/tinyscript/coreext/process"
	"github.com/zephyrtronium/tinyscript/internal"
	"github.com/zephyrtronium/tinyscript/testutils"
)

func TestRegister(t *testing.T) {
	vm := testutils.TestingVM()
	testutils.CheckGlobals(t, vm, []string{"process"})
	obj, _ := vm.GetGlobal("process")
	testutils.CheckFields(t, vm, obj, []string{"env", "memory", "platform", "version"})
}

func TestProcess(t *testing.T) {
	cases := map[string]testutils.SourceTestCase{
		"version":  {Source: "process.version", Pass: testutils.PassEqual(strconv.Quote(internal.Version))},
		"platform": {Source: "process.platform", Pass: testutils.PassEqual(strconv.Quote(runtime.GOOS))},
		"board":    {Source: "process.env.BOARD", Pass: testutils.PassEqual(strconv.Quote(process.Board()))},
		"arch":     {Source: "process.env.ARCH", Pass: testutils.PassEqual(strconv.Quote(runtime.GOARCH))},
		"total":    {Source: "process.memory().total", Pass: testutils.PassEqual("4096")},
		"sum":      {Source: "var m = process.memory(); m.free + m.usage == m.total", Pass: testutils.PassEqual("true")},
	}
	for name, c := range cases {
		t.Run(name, c.TestFunc(name))
	}
}

func TestBoard(t *testing.T) {
	if process.Board() == "" {
		t.Error("empty board name")
	}
}
