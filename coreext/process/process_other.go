//go:build !(aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris)

package process

var platformVersion string
