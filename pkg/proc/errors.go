package proc

import (
	"errors"
	"fmt"
	"syscall"
)

// SpawnError is returned when the target can not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (err *SpawnError) Error() string {
	return fmt.Sprintf("could not launch process %s: %v", err.Path, err.Err)
}

func (err *SpawnError) Unwrap() error {
	return err.Err
}

// InvalidStateError is returned when an operation is attempted while the
// process is in a state that does not allow it, for example reading
// registers while it is running.
type InvalidStateError struct {
	Op    string
	State ProcessState
}

func (err *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: process is %s", err.Op, err.State)
}

// UnknownBreakpointError is returned when trying to clear a breakpoint that
// does not exist.
type UnknownBreakpointError struct {
	Addr uint64
	ID   int
}

func (err *UnknownBreakpointError) Error() string {
	if err.ID > 0 {
		return fmt.Sprintf("no breakpoint with id %d", err.ID)
	}
	return fmt.Sprintf("no breakpoint at %#x", err.Addr)
}

// TruncatedBacktraceError is carried by the last frame of a backtrace that
// stopped before reaching the outermost frame.
type TruncatedBacktraceError struct {
	Depth int
	Err   error
}

func (err *TruncatedBacktraceError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("backtrace truncated at depth %d: %v", err.Depth, err.Err)
	}
	return fmt.Sprintf("backtrace truncated at depth %d", err.Depth)
}

func (err *TruncatedBacktraceError) Unwrap() error {
	return err.Err
}

// PtraceError is a failure of a kernel tracing request.
type PtraceError struct {
	Op  string
	Err syscall.Errno
}

func (err *PtraceError) Error() string {
	return fmt.Sprintf("%s: %v (errno %d)", err.Op, err.Err, int(err.Err))
}

func (err *PtraceError) Unwrap() error {
	return err.Err
}

// NewPtraceError wraps err as a PtraceError if it is an errno, it returns
// err unchanged otherwise.
func NewPtraceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return &PtraceError{Op: op, Err: errno}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// FatalError is returned when the debugger could not keep the target in a
// consistent state. The target has been killed and the session must end.
type FatalError struct {
	Err error
}

func (err *FatalError) Error() string {
	return fmt.Sprintf("fatal error, target killed: %v", err.Err)
}

func (err *FatalError) Unwrap() error {
	return err.Err
}

// ErrProcessExited indicates that the process has exited and contains both
// process id and exit status.
type ErrProcessExited struct {
	Pid    int
	Status ExitStatus
}

func (pe ErrProcessExited) Error() string {
	return fmt.Sprintf("Process %d has exited with status %s", pe.Pid, pe.Status)
}

// UnknownRegisterError is returned for register names that are not part of
// the register set.
type UnknownRegisterError struct {
	Name string
}

func (err *UnknownRegisterError) Error() string {
	return fmt.Sprintf("unknown register %q", err.Name)
}

var errCorruptFrameChain = errors.New("corrupted frame pointer chain")
