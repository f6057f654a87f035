//go:build !unix

package linutil

import "syscall"

// SignalName returns the name of sig.
func SignalName(sig syscall.Signal) string {
	return sig.String()
}

// SignalNum is not supported on this platform.
func SignalNum(name string) (syscall.Signal, bool) {
	return 0, false
}
