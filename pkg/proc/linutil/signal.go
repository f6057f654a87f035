//go:build unix

package linutil

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// SignalName returns the name of sig, for example "SIGSEGV".
func SignalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return sig.String()
}

// SignalNum returns the signal called name, with or without the SIG
// prefix.
func SignalNum(name string) (syscall.Signal, bool) {
	if len(name) < 3 || name[:3] != "SIG" {
		name = "SIG" + name
	}
	sig := unix.SignalNum(name)
	return sig, sig != 0
}
