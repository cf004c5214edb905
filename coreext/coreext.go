// Package coreext registers every core extension. Importing it gives each new
// VM the HAL natives, console, Date, process, and Collector objects.
package coreext

import (
	// importing for side effects
	_ "github.com/zephyrtronium/tinyscript/coreext/collector"
	_ "github.com/zephyrtronium/tinyscript/coreext/console"
	_ "github.com/zephyrtronium/tinyscript/coreext/date"
	_ "github.com/zephyrtronium/tinyscript/coreext/hal"
	_ "github.com/zephyrtronium/tinyscript/coreext/process"
)
