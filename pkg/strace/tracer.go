// Package strace prints the system calls made by a traced process, one
// line per call, in the format of strace(1).
package strace

import (
	"context"
	"fmt"
	"io"
	"syscall"

	"github.com/tkyk0317/r-debugger/pkg/logflags"
	"github.com/tkyk0317/r-debugger/pkg/proc"
	"github.com/tkyk0317/r-debugger/pkg/proc/linutil"
)

// Tracer runs a process to completion, stopping it at every syscall entry
// and exit.
type Tracer struct {
	Process proc.Process
	Out     io.Writer
	// Filter restricts the output to the named syscalls. All syscalls are
	// printed when it is empty.
	Filter map[string]bool
	// ShowPC prefixes each line with the address of the syscall.
	ShowPC bool
	// MaxStringLen is the number of bytes of strings and buffers printed,
	// DefaultMaxStringLen when zero.
	MaxStringLen int
	// OnEvent, if set, is called with every syscall that passes the filter
	// before it is printed.
	OnEvent func(*SyscallEvent)
}

// Run resumes the process until it ends and returns its exit status.
// Cancelling ctx kills the process.
func (t *Tracer) Run(ctx context.Context) (proc.ExitStatus, error) {
	log := logflags.StraceLogger()
	maxStr := t.MaxStringLen
	if maxStr <= 0 {
		maxStr = DefaultMaxStringLen
	}
	d := &decoder{mem: t.Process, maxStr: maxStr}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			log.Debugf("%v, killing %d", ctx.Err(), t.Process.Pid())
			if err := t.Process.Kill(); err != nil {
				log.Errorf("could not kill %d: %v", t.Process.Pid(), err)
			}
		case <-done:
		}
	}()

	// failed turns an error into the result of Run. A request that fails
	// because ctx killed the process reports the kill instead.
	failed := func(err error) (proc.ExitStatus, error) {
		if ctx.Err() == nil {
			return proc.ExitStatus{}, err
		}
		log.Debugf("stopped by %v: %v", ctx.Err(), err)
		// reap the process if the kill raced with a request
		if kerr := t.Process.Kill(); kerr != nil {
			log.Errorf("could not kill %d: %v", t.Process.Pid(), kerr)
		}
		return proc.ExitStatus{Signaled: true, Signal: syscall.SIGKILL}, ctx.Err()
	}

	var pending *SyscallEvent
	for {
		if err := t.Process.Resume(proc.ResumeSyscall); err != nil {
			return failed(err)
		}
		ev, err := t.Process.Wait()
		if err != nil {
			return failed(err)
		}
		log.Debugf("stop: %v", ev.Reason)

		switch ev.Reason {
		case proc.StopExited:
			if pending != nil {
				pending.noReturn()
				t.emit(pending)
			}
			t.printExit(ev.Exit)
			return ev.Exit, ctx.Err()

		case proc.StopSyscallEntry:
			regs, err := t.Process.Registers()
			if err != nil {
				return failed(err)
			}
			if pending != nil {
				// the previous syscall did not report an exit stop
				pending.noReturn()
				t.emit(pending)
			}
			pending = d.enter(regs)

		case proc.StopSyscallExit:
			regs, err := t.Process.Registers()
			if err != nil {
				return failed(err)
			}
			if pending == nil || pending.Number != regs.OrigRax {
				pending = d.enter(regs)
			}
			d.exit(pending, regs)
			t.emit(pending)
			pending = nil

		case proc.StopSignal:
			fmt.Fprintf(t.Out, "--- %s ---\n", linutil.SignalName(ev.Signal))
		}
	}
}

func (t *Tracer) emit(ev *SyscallEvent) {
	if len(t.Filter) > 0 && !t.Filter[ev.Name] {
		return
	}
	if t.OnEvent != nil {
		t.OnEvent(ev)
	}
	if t.ShowPC {
		fmt.Fprintf(t.Out, "[%#x] ", ev.PC)
	}
	fmt.Fprintln(t.Out, ev.String())
}

func (t *Tracer) printExit(st proc.ExitStatus) {
	if st.Signaled {
		fmt.Fprintf(t.Out, "+++ killed by %s +++\n", linutil.SignalName(st.Signal))
		return
	}
	fmt.Fprintf(t.Out, "+++ exited with %d +++\n", st.Code)
}
