// Package console provides script output: console.log and print write to the
// VM's output, and console.warn and console.error go to the log.
package console

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tliron/commonlog"
	"golang.org/x/text/encoding/charmap"

	"github.com/zephyrtronium/tinyscript/internal"
	"github.com/zephyrtronium/tinyscript/internal/cell"
)

var log = commonlog.GetLogger("tinyscript.console")

func init() {
	internal.Register(initConsole)
}

func initConsole(vm *internal.VM) {
	vm.InstallObject("console", map[string]internal.NativeFn{
		"log":   consoleLog,
		"warn":  consoleWarn,
		"error": consoleError,
	})
	vm.InstallGlobals(map[string]internal.NativeFn{
		"print": consoleLog,
	})
}

// Text renders arguments the way console.log does: strings as they are,
// other values inspected, separated by spaces. Strings are bytes; those that
// are not valid UTF-8 are decoded as ISO 8859-1 so the output always is.
func Text(vm *internal.VM, args []cell.Ref) string {
	var b strings.Builder
	for i, arg := range args {
		if i > 0 {
			b.WriteByte(' ')
		}
		if vm.Arena.Kind(arg) != cell.String {
			b.WriteString(vm.Inspect(arg))
			continue
		}
		p := vm.Arena.Bytes(arg)
		if !utf8.Valid(p) {
			p, _ = charmap.ISO8859_1.NewDecoder().Bytes(p)
		}
		b.Write(p)
	}
	return b.String()
}

// consoleLog is a console method and the global print.
//
// log writes its arguments and a newline to the output.
func consoleLog(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	if _, err := fmt.Fprintln(vm.Stdout, Text(vm, args)); err != nil {
		return cell.None, vm.Raise(internal.HardwareError, "console: %v", err)
	}
	return cell.None, nil
}

// consoleWarn is a console method.
//
// warn logs its arguments at warning level.
func consoleWarn(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	log.Warning(Text(vm, args))
	return cell.None, nil
}

// consoleError is a console method.
//
// error logs its arguments at error level.
func consoleError(vm *internal.VM, this cell.Ref, args []cell.Ref) (cell.Ref, error) {
	log.Error(Text(vm, args))
	return cell.None, nil
}
