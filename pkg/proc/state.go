package proc

import (
	"fmt"
	"syscall"

	"github.com/tkyk0317/r-debugger/pkg/proc/linutil"
)

// ProcessState is the lifecycle state of the target.
type ProcessState uint8

const (
	StateNotStarted ProcessState = iota
	StateStopped
	StateRunning
	StateExited
	StateSignaled
)

func (s ProcessState) String() string {
	switch s {
	case StateNotStarted:
		return "not started"
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateSignaled:
		return "killed"
	}
	return fmt.Sprintf("ProcessState(%d)", uint8(s))
}

// Alive returns true if the process can still be resumed.
func (s ProcessState) Alive() bool {
	return s == StateStopped || s == StateRunning
}

// StopReason describes why the target stopped.
type StopReason uint8

const (
	StopNone StopReason = iota
	// StopEntry is the stop right after exec.
	StopEntry
	// StopBreakpoint is a SIGTRAP that may have been caused by a trap
	// instruction. The Target confirms it against its breakpoint map.
	StopBreakpoint
	StopSingleStep
	StopSyscallEntry
	StopSyscallExit
	// StopSignal is a signal delivered to the target.
	StopSignal
	// StopExited is reported once, when the process exits or is killed.
	StopExited
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case StopEntry:
		return "entry"
	case StopBreakpoint:
		return "breakpoint"
	case StopSingleStep:
		return "single-step"
	case StopSyscallEntry:
		return "syscall-entry"
	case StopSyscallExit:
		return "syscall-exit"
	case StopSignal:
		return "signal"
	case StopExited:
		return "exited"
	}
	return fmt.Sprintf("StopReason(%d)", uint8(r))
}

// ExitStatus is the way the target ended.
type ExitStatus struct {
	Code     int
	Signaled bool
	Signal   syscall.Signal
}

func (s ExitStatus) String() string {
	if s.Signaled {
		return fmt.Sprintf("killed by %s", linutil.SignalName(s.Signal))
	}
	return fmt.Sprintf("%d", s.Code)
}

// ShellCode returns the exit code a shell would report: the exit code, or
// 128 plus the signal number for a killed process.
func (s ExitStatus) ShellCode() int {
	if s.Signaled {
		return 128 + int(s.Signal)
	}
	return s.Code
}

// StopEvent is returned by every operation that lets the target run.
type StopEvent struct {
	Reason StopReason
	// Signal is the delivered signal for StopSignal.
	Signal syscall.Signal
	// Breakpoint is the breakpoint that was hit, set by Target.
	Breakpoint *Breakpoint
	// Exit is valid for StopExited.
	Exit ExitStatus
}

// Exited returns true if the process is gone.
func (ev *StopEvent) Exited() bool {
	return ev != nil && ev.Reason == StopExited
}

// ResumeMode selects how the process is resumed.
type ResumeMode uint8

const (
	ResumeContinue ResumeMode = iota
	ResumeSyscall
	ResumeStep
)

func (m ResumeMode) String() string {
	switch m {
	case ResumeContinue:
		return "continue"
	case ResumeSyscall:
		return "syscall"
	case ResumeStep:
		return "step"
	}
	return fmt.Sprintf("ResumeMode(%d)", uint8(m))
}
