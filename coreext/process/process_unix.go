//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package process

import (
	"bytes"
	"fmt"

	"golang.org/x/sys/unix"
)

// platformVersion is the value of process.env.BOARD. It is declared in each
// platform-specific file so that a compilation error occurs on any platform
// on which it is not implemented.
var platformVersion = uname()

func uname() string {
	var u unix.Utsname
	if unix.Uname(&u) != nil {
		// Nothing else to try.
		return ""
	}
	v, r := u.Version[:], u.Release[:]
	return fmt.Sprintf("%s.%s", bytes.Trim(v, "\x00"), bytes.Trim(r, "\x00"))
}
