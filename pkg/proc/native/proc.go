// Package native implements proc.Process for a process traced with
// ptrace(2) on linux/amd64.
package native

import (
	"os"
	"runtime"
	"sync"
	"syscall"

	"github.com/tkyk0317/r-debugger/pkg/logflags"
	"github.com/tkyk0317/r-debugger/pkg/proc"
	"github.com/tkyk0317/r-debugger/pkg/proc/linutil"
)

// Process represents a traced process.
type Process struct {
	pid int

	mu    sync.Mutex
	state proc.ProcessState
	// waiting is true while a Wait call is blocked in wait4.
	waiting bool
	// lastMode is the mode of the last resume, used to classify SIGTRAP.
	lastMode proc.ResumeMode
	// inSyscall is true between a syscall entry stop and its exit stop.
	inSyscall bool
	// pendingSignal is delivered to the process on the next resume.
	pendingSignal syscall.Signal
	exit          proc.ExitStatus

	// ptrace requests must all come from the same thread as the one that
	// started the process. ptraceMu serializes the callers of
	// execPtraceFunc and guards ptraceClosed.
	ptraceMu       sync.Mutex
	ptraceChan     chan func()
	ptraceDoneChan chan interface{}
	ptraceClosed   bool
	closedStatus   proc.ExitStatus

	log logflags.Logger
}

// Redirects are the files used as stdin, stdout and stderr of the
// target. Nil entries are inherited from the debugger.
type Redirects [3]*os.File

// newProcess returns an initialized Process struct. Before returning,
// it will also launch a goroutine in order to handle ptrace(2)
// functions. For more information, see the documentation on
// `handlePtraceFuncs`.
func newProcess() *Process {
	dbp := &Process{
		state:          proc.StateNotStarted,
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
		log:            logflags.PtraceLogger(),
	}
	go dbp.handlePtraceFuncs()
	return dbp
}

func (dbp *Process) handlePtraceFuncs() {
	// We must ensure here that we are running on the same thread during
	// while invoking the ptrace(2) syscall. This is due to the fact that ptrace(2) expects
	// all commands after PTRACE_TRACEME to come from the same thread.
	runtime.LockOSThread()

	for fn := range dbp.ptraceChan {
		fn()
		dbp.ptraceDoneChan <- nil
	}
}

// execPtraceFunc runs fn on the ptrace thread. Once the process has been
// reaped fn is not run and proc.ErrProcessExited is returned.
func (dbp *Process) execPtraceFunc(fn func()) error {
	dbp.ptraceMu.Lock()
	defer dbp.ptraceMu.Unlock()
	if dbp.ptraceClosed {
		return proc.ErrProcessExited{Pid: dbp.pid, Status: dbp.closedStatus}
	}
	dbp.ptraceChan <- fn
	<-dbp.ptraceDoneChan
	return nil
}

// postExit stops the ptrace goroutine after the process has been reaped.
// Callers hold mu, or own dbp exclusively during Launch.
func (dbp *Process) postExit() {
	dbp.ptraceMu.Lock()
	defer dbp.ptraceMu.Unlock()
	if dbp.ptraceClosed {
		return
	}
	dbp.ptraceClosed = true
	dbp.closedStatus = dbp.exit
	close(dbp.ptraceChan)
}

// Pid returns the process ID.
func (dbp *Process) Pid() int {
	return dbp.pid
}

// State returns the current state of the process.
func (dbp *Process) State() proc.ProcessState {
	dbp.mu.Lock()
	defer dbp.mu.Unlock()
	return dbp.state
}

// ExitStatus returns how the process ended. It is only meaningful once
// State is StateExited or StateSignaled.
func (dbp *Process) ExitStatus() proc.ExitStatus {
	dbp.mu.Lock()
	defer dbp.mu.Unlock()
	return dbp.exit
}

func (dbp *Process) checkStopped(op string) error {
	dbp.mu.Lock()
	defer dbp.mu.Unlock()
	if dbp.state != proc.StateStopped {
		return &proc.InvalidStateError{Op: op, State: dbp.state}
	}
	return nil
}

// SingleStep executes one instruction and waits for the resulting stop.
func (dbp *Process) SingleStep() (*proc.StopEvent, error) {
	if err := dbp.Resume(proc.ResumeStep); err != nil {
		return nil, err
	}
	return dbp.Wait()
}

// EntryPoint returns the runtime entry point of the program, from the
// auxiliary vector.
func (dbp *Process) EntryPoint() (uint64, error) {
	return linutil.ReadEntryPoint(dbp.pid)
}

// Maps returns the memory mappings of the process.
func (dbp *Process) Maps() ([]linutil.Mapping, error) {
	return linutil.ReadMaps(dbp.pid)
}
