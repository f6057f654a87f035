//go:build !linux || !amd64

package native

import (
	"errors"

	"github.com/tkyk0317/r-debugger/pkg/proc"
)

// ErrNativeBackendDisabled is returned when the native backend is not
// available for the current platform.
var ErrNativeBackendDisabled = errors.New("native backend is only available on linux/amd64")

// Launch returns ErrNativeBackendDisabled.
func Launch(cmd []string, wd string) (*Process, error) {
	return LaunchWithRedirects(cmd, wd, Redirects{})
}

// LaunchWithRedirects returns ErrNativeBackendDisabled.
func LaunchWithRedirects(cmd []string, _ string, _ Redirects) (*Process, error) {
	path := ""
	if len(cmd) > 0 {
		path = cmd[0]
	}
	return nil, &proc.SpawnError{Path: path, Err: ErrNativeBackendDisabled}
}

func (dbp *Process) Resume(proc.ResumeMode) error {
	panic(ErrNativeBackendDisabled)
}

func (dbp *Process) Wait() (*proc.StopEvent, error) {
	panic(ErrNativeBackendDisabled)
}

func (dbp *Process) Kill() error {
	panic(ErrNativeBackendDisabled)
}

func (dbp *Process) Interrupt() error {
	panic(ErrNativeBackendDisabled)
}

func (dbp *Process) Registers() (*proc.Registers, error) {
	panic(ErrNativeBackendDisabled)
}

func (dbp *Process) SetRegisters(*proc.Registers) error {
	panic(ErrNativeBackendDisabled)
}

func (dbp *Process) ReadMemory([]byte, uint64) (int, error) {
	panic(ErrNativeBackendDisabled)
}

func (dbp *Process) WriteMemory(uint64, []byte) (int, error) {
	panic(ErrNativeBackendDisabled)
}
