//go:build linux && amd64

package native

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	sys "golang.org/x/sys/unix"

	"github.com/tkyk0317/r-debugger/pkg/proc"
)

// Launch creates and begins debugging a new process. First entry in
// `cmd` is the program to run, and then rest are the arguments
// to be supplied to that process. `wd` is working directory of the program.
func Launch(cmd []string, wd string) (*Process, error) {
	return LaunchWithRedirects(cmd, wd, Redirects{})
}

// LaunchWithRedirects is like Launch but connects the standard files of
// the target to redirects.
func LaunchWithRedirects(cmd []string, wd string, redirects Redirects) (*Process, error) {
	if len(cmd) == 0 {
		return nil, &proc.SpawnError{Err: fmt.Errorf("no command")}
	}
	path, err := exec.LookPath(cmd[0])
	if err != nil {
		return nil, &proc.SpawnError{Path: cmd[0], Err: err}
	}
	if wd != "" {
		if fi, err := os.Stat(wd); err != nil || !fi.IsDir() {
			return nil, &proc.SpawnError{Path: path, Err: fmt.Errorf("invalid working directory %q", wd)}
		}
	}

	stdin, stdout, stderr := os.Stdin, os.Stdout, os.Stderr
	if redirects[0] != nil {
		stdin = redirects[0]
	}
	if redirects[1] != nil {
		stdout = redirects[1]
	}
	if redirects[2] != nil {
		stderr = redirects[2]
	}

	dbp := newProcess()
	var process *exec.Cmd
	dbp.execPtraceFunc(func() {
		process = exec.Command(path)
		process.Args = cmd
		process.Stdin = stdin
		process.Stdout = stdout
		process.Stderr = stderr
		process.SysProcAttr = &syscall.SysProcAttr{Ptrace: true, Setpgid: true}
		if wd != "" {
			process.Dir = wd
		}
		err = process.Start()
	})
	if err != nil {
		dbp.postExit()
		return nil, &proc.SpawnError{Path: path, Err: err}
	}
	dbp.pid = process.Process.Pid

	var status sys.WaitStatus
	dbp.execPtraceFunc(func() { status, err = wait(dbp.pid) })
	if err != nil {
		dbp.postExit()
		return nil, &proc.SpawnError{Path: path, Err: fmt.Errorf("waiting for target execve failed: %v", err)}
	}
	if !status.Stopped() || status.StopSignal() != syscall.SIGTRAP {
		dbp.postExit()
		return nil, &proc.SpawnError{Path: path, Err: fmt.Errorf("unexpected wait status %#x", uint32(status))}
	}

	dbp.execPtraceFunc(func() { err = ptraceSetOptions(dbp.pid, sys.PTRACE_O_TRACESYSGOOD|sys.PTRACE_O_EXITKILL) })
	if err != nil {
		dbp.execPtraceFunc(func() {
			sys.Kill(dbp.pid, sys.SIGKILL)
			wait(dbp.pid)
		})
		dbp.postExit()
		return nil, &proc.SpawnError{Path: path, Err: proc.NewPtraceError("PTRACE_SETOPTIONS", err)}
	}

	dbp.state = proc.StateStopped
	dbp.log.Debugf("launched %s, pid %d", path, dbp.pid)
	return dbp, nil
}

// Resume resumes the process. A signal received at the previous stop is
// delivered, except for SIGTRAP and SIGSTOP.
func (dbp *Process) Resume(mode proc.ResumeMode) error {
	if err := dbp.checkStopped("resume"); err != nil {
		return err
	}
	dbp.mu.Lock()
	sig := int(dbp.pendingSignal)
	dbp.pendingSignal = 0
	dbp.mu.Unlock()

	var err error
	var op string
	perr := dbp.execPtraceFunc(func() {
		switch mode {
		case proc.ResumeContinue:
			op, err = "PTRACE_CONT", ptraceCont(dbp.pid, sig)
		case proc.ResumeSyscall:
			op, err = "PTRACE_SYSCALL", ptraceSyscall(dbp.pid, sig)
		case proc.ResumeStep:
			op, err = "PTRACE_SINGLESTEP", ptraceSingleStep(dbp.pid, sig)
		default:
			op, err = "resume", fmt.Errorf("unknown resume mode %v", mode)
		}
	})
	if perr != nil {
		return perr
	}
	dbp.log.Debugf("%s pid=%d sig=%d: %v", op, dbp.pid, sig, err)
	if err != nil {
		return proc.NewPtraceError(op, err)
	}
	dbp.mu.Lock()
	defer dbp.mu.Unlock()
	if dbp.state != proc.StateStopped {
		// reaped by a concurrent Kill
		return proc.ErrProcessExited{Pid: dbp.pid, Status: dbp.exit}
	}
	dbp.state = proc.StateRunning
	dbp.lastMode = mode
	if mode != proc.ResumeSyscall {
		// no exit stop is reported for a syscall resumed this way
		dbp.inSyscall = false
	}
	return nil
}

// Wait blocks until the process stops or exits.
func (dbp *Process) Wait() (*proc.StopEvent, error) {
	dbp.mu.Lock()
	if dbp.state != proc.StateRunning {
		st := dbp.state
		dbp.mu.Unlock()
		return nil, &proc.InvalidStateError{Op: "wait", State: st}
	}
	dbp.waiting = true
	dbp.mu.Unlock()

	var status sys.WaitStatus
	var err error
	perr := dbp.execPtraceFunc(func() { status, err = wait(dbp.pid) })

	dbp.mu.Lock()
	defer dbp.mu.Unlock()
	dbp.waiting = false
	if perr != nil {
		return nil, perr
	}
	if err != nil {
		return nil, proc.NewPtraceError("wait4", err)
	}
	return dbp.classify(status)
}

// classify turns a wait status into a stop event. Called with mu held.
func (dbp *Process) classify(status sys.WaitStatus) (*proc.StopEvent, error) {
	switch {
	case status.Exited():
		dbp.state = proc.StateExited
		dbp.exit = proc.ExitStatus{Code: status.ExitStatus()}
		dbp.postExit()
		dbp.log.Debugf("pid %d exited with %d", dbp.pid, dbp.exit.Code)
		return &proc.StopEvent{Reason: proc.StopExited, Exit: dbp.exit}, nil
	case status.Signaled():
		dbp.state = proc.StateSignaled
		dbp.exit = proc.ExitStatus{Signaled: true, Signal: status.Signal()}
		dbp.postExit()
		dbp.log.Debugf("pid %d killed by %v", dbp.pid, dbp.exit.Signal)
		return &proc.StopEvent{Reason: proc.StopExited, Exit: dbp.exit}, nil
	case status.Stopped():
	default:
		return nil, fmt.Errorf("unexpected wait status %#x", uint32(status))
	}

	dbp.state = proc.StateStopped
	sig := status.StopSignal()
	dbp.log.Debugf("pid %d stopped by %v", dbp.pid, sig)
	switch {
	case sig == syscall.SIGTRAP|0x80:
		// Entry and exit stops alternate. rax can not tell them apart: it
		// is -ENOSYS at every entry and at the exit of an unimplemented
		// syscall.
		dbp.inSyscall = !dbp.inSyscall
		if dbp.inSyscall {
			return &proc.StopEvent{Reason: proc.StopSyscallEntry}, nil
		}
		return &proc.StopEvent{Reason: proc.StopSyscallExit}, nil
	case sig == syscall.SIGTRAP && dbp.lastMode == proc.ResumeStep:
		return &proc.StopEvent{Reason: proc.StopSingleStep}, nil
	case sig == syscall.SIGTRAP:
		return &proc.StopEvent{Reason: proc.StopBreakpoint}, nil
	case sig == syscall.SIGSTOP:
		return &proc.StopEvent{Reason: proc.StopSignal, Signal: sig}, nil
	default:
		dbp.pendingSignal = sig
		return &proc.StopEvent{Reason: proc.StopSignal, Signal: sig}, nil
	}
}

// Kill sends SIGKILL to the process. If no Wait call is in progress the
// process is also reaped, otherwise the pending Wait reports the exit.
// Kill may be called from any goroutine: requests racing with it fail
// with proc.ErrProcessExited or proc.InvalidStateError.
func (dbp *Process) Kill() error {
	dbp.mu.Lock()
	if !dbp.state.Alive() {
		dbp.mu.Unlock()
		return nil
	}
	if err := sys.Kill(dbp.pid, sys.SIGKILL); err != nil {
		dbp.mu.Unlock()
		return proc.NewPtraceError("kill", err)
	}
	if dbp.waiting {
		dbp.mu.Unlock()
		return nil
	}
	// mu stays held so that a concurrent Wait cannot start until the
	// process has been reaped.
	defer dbp.mu.Unlock()

	for {
		var status sys.WaitStatus
		var err error
		if perr := dbp.execPtraceFunc(func() { status, err = wait(dbp.pid) }); perr != nil {
			return nil
		}
		if err != nil {
			return proc.NewPtraceError("wait4", err)
		}
		if status.Exited() || status.Signaled() {
			dbp.classify(status)
			return nil
		}
	}
}

// Interrupt stops a running process with SIGSTOP. It may be called from
// any goroutine.
func (dbp *Process) Interrupt() error {
	if dbp.State() != proc.StateRunning {
		return nil
	}
	return sys.Kill(dbp.pid, sys.SIGSTOP)
}
