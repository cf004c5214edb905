package tinyscript_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/zephyrtronium/tinyscript"
	"github.com/zephyrtronium/tinyscript/coreext/hal"
)

func TestNewVM(t *testing.T) {
	vm, err := tinyscript.NewVM(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer vm.Close()
	for _, name := range []string{"console", "print", "Date", "process", "Collector", "digitalWrite", "setTimeout"} {
		if _, ok := vm.GetGlobal(name); !ok {
			t.Errorf("no global %s", name)
		}
	}
}

func TestBlink(t *testing.T) {
	var out bytes.Buffer
	board := hal.NewSim(8)
	vm, err := tinyscript.NewVM(nil, tinyscript.WithHAL(board), tinyscript.WithOutput(&out))
	if err != nil {
		t.Fatal(err)
	}
	defer vm.Close()
	src := `
		var on = false, n = 0;
		var id = setInterval(function () {
			on = !on;
			digitalWrite(3, on);
			if (++n == 3) {
				clearInterval(id);
				print("done", digitalRead(3));
			}
		}, 5);
	`
	if _, err := vm.Eval(src); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := vm.Sched.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "done true\n" {
		t.Errorf("want %q, got %q", "done true\n", got)
	}
}
