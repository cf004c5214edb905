// Command tinyscript runs scripts against a simulated board, or reads
// statements interactively when no script is named.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/tliron/commonlog"
	// import for side effects
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/term"

	"github.com/zephyrtronium/tinyscript"
	"github.com/zephyrtronium/tinyscript/config"
	"github.com/zephyrtronium/tinyscript/coreext/hal"
	"github.com/zephyrtronium/tinyscript/storage"
)

var log = commonlog.GetLogger("tinyscript")

func main() {
	var (
		cfgPath  = flag.String("config", "", "configuration file (.yaml or .toml)")
		loadName = flag.String("snapshot", "", "restore the named snapshot before running")
		saveName = flag.String("save", "", "save a snapshot under this name on exit")
		pins     = flag.Int("pins", 32, "number of simulated pins")
	)
	flag.Parse()
	os.Exit(run(*cfgPath, *loadName, *saveName, *pins, flag.Args()))
}

func run(cfgPath, loadName, saveName string, pins int, scripts []string) int {
	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
	}
	var logFile *string
	if cfg.LogFile != "" {
		logFile = &cfg.LogFile
	}
	commonlog.Configure(cfg.Verbosity, logFile)

	board := hal.NewSim(pins)
	vm, err := tinyscript.NewVM(cfg, tinyscript.WithHAL(board))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer vm.Close()

	var store storage.Store
	if loadName != "" || saveName != "" {
		if cfg.Snapshot.Driver == "" {
			fmt.Fprintln(os.Stderr, "snapshots need a storage driver in the configuration")
			return 2
		}
		if store, err = storage.Open(cfg.Snapshot.Driver, cfg.Snapshot.Path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer store.Close()
	}
	if loadName != "" {
		if err := vm.LoadSnapshot(store, loadName); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		log.Infof("restored snapshot %q", loadName)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	go func() {
		// The first interrupt stops the running script. Another one while
		// idle stops waiting for events.
		for range sig {
			if vm.State() == tinyscript.Idle {
				cancel()
			}
			vm.Interrupt()
		}
	}()

	status := 0
	if len(scripts) == 0 {
		repl(ctx, vm, board, os.Stdin, os.Stdout, term.IsTerminal(int(os.Stdin.Fd())))
	} else {
		for _, path := range scripts {
			if err := runFile(vm, path); err != nil {
				fmt.Fprintln(os.Stderr, err)
				status = 1
				break
			}
		}
		if status == 0 {
			if err := vm.Sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				fmt.Fprintln(os.Stderr, err)
				status = 1
			}
		}
		flushSerial(board, os.Stdout)
	}

	if saveName != "" {
		if err := vm.SaveSnapshot(store, saveName); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		log.Infof("saved snapshot %q", saveName)
	}
	return status
}

func runFile(vm *tinyscript.VM, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	r, err := vm.DoString(string(src))
	if err != nil {
		// Only the message is reported, so release any thrown value.
		report := fmt.Errorf("%s: %v", path, err)
		vm.Discard(err)
		return report
	}
	vm.Arena.Unlock(r)
	return nil
}

// repl evaluates one line at a time, dispatching whatever events the line
// caused before reading the next. Prompts and results are only written when
// interactive.
func repl(ctx context.Context, vm *tinyscript.VM, board *hal.Sim, in io.Reader, out io.Writer, interactive bool) {
	lines := bufio.NewScanner(in)
	for ctx.Err() == nil {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !lines.Scan() {
			break
		}
		s, err := vm.Eval(lines.Text())
		vm.Sched.Drain()
		flushSerial(board, out)
		if err != nil {
			fmt.Fprintln(out, "Uncaught", err)
			vm.Discard(err)
			continue
		}
		if interactive {
			fmt.Fprintln(out, s)
		}
	}
	if err := lines.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

// flushSerial copies what scripts wrote to serial port 0 to w.
func flushSerial(board *hal.Sim, w io.Writer) {
	if b := board.Output(0); len(b) > 0 {
		w.Write(b)
	}
}
