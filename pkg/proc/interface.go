package proc

import "github.com/tkyk0317/r-debugger/pkg/proc/linutil"

// Process is a single traced process. The native backend implements it
// with ptrace; tests use a simulated implementation.
//
// Only Wait blocks. Resume returns as soon as the request has been
// handed to the kernel.
type Process interface {
	Pid() int
	State() ProcessState

	Resume(mode ResumeMode) error
	Wait() (*StopEvent, error)
	// SingleStep resumes with ResumeStep and waits for the next stop.
	SingleStep() (*StopEvent, error)

	Registers() (*Registers, error)
	SetRegisters(*Registers) error

	MemoryReadWriter

	// Kill terminates the process and reaps it.
	Kill() error

	// EntryPoint returns the runtime address of the program entry point.
	EntryPoint() (uint64, error)
	// Maps returns the memory mappings of the process.
	Maps() ([]linutil.Mapping, error)
}

// LaunchFunc starts a new traced process, stopped at its entry.
type LaunchFunc func(cmd []string, wd string) (Process, error)
