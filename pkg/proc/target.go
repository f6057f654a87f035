package proc

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/tkyk0317/r-debugger/pkg/bininfo"
	"github.com/tkyk0317/r-debugger/pkg/logflags"
)

// Target represents the process being debugged together with its debug
// information and breakpoints.
//
// Every address accepted or returned by the methods of Target is a
// runtime address. Target converts from and to the link-time addresses
// used by BinInfo.
type Target struct {
	proc   Process
	launch LaunchFunc
	cmd    []string
	wd     string
	path   string
	pid    int

	// BinInfo is the debug information of the executable. It is never nil.
	BinInfo *bininfo.BinaryInfo
	// Breakpoints records every breakpoint set on the target.
	Breakpoints BreakpointMap

	// bias is the difference between runtime and link-time addresses.
	bias uint64
	exit *ExitStatus

	log logflags.Logger
}

// Launch starts cmd with launch and returns a Target stopped at the entry
// point. An executable that can not be parsed is debugged without symbols.
func Launch(launch LaunchFunc, cmd []string, wd string) (*Target, error) {
	if len(cmd) == 0 {
		return nil, &SpawnError{Err: errors.New("no command")}
	}
	path, err := exec.LookPath(cmd[0])
	if err != nil {
		return nil, &SpawnError{Path: cmd[0], Err: err}
	}
	logger := logflags.DebuggerLogger()
	bi, err := bininfo.Load(path)
	if err != nil {
		logger.Warnf("debugging without debug information: %v", err)
		bi = bininfo.Empty()
	}
	p, err := launch(cmd, wd)
	if err != nil {
		return nil, err
	}
	return newTarget(p, bi, launch, cmd, wd, path), nil
}

// NewTarget returns a Target for an already started process. launch is
// used by Restart and may be nil.
func NewTarget(p Process, bi *bininfo.BinaryInfo, launch LaunchFunc, cmd []string, wd string) *Target {
	path := ""
	if len(cmd) > 0 {
		path = cmd[0]
	}
	return newTarget(p, bi, launch, cmd, wd, path)
}

func newTarget(p Process, bi *bininfo.BinaryInfo, launch LaunchFunc, cmd []string, wd, path string) *Target {
	if bi == nil {
		bi = bininfo.Empty()
	}
	t := &Target{
		proc:        p,
		launch:      launch,
		cmd:         cmd,
		wd:          wd,
		path:        path,
		pid:         p.Pid(),
		BinInfo:     bi,
		Breakpoints: NewBreakpointMap(),
		log:         logflags.DebuggerLogger(),
	}
	t.computeBias()
	return t
}

// computeBias finds the load bias of a position independent executable,
// from the auxiliary vector or from the first mapping of the executable.
func (t *Target) computeBias() {
	t.bias = 0
	if !t.BinInfo.PIE {
		return
	}
	entry, err := t.proc.EntryPoint()
	if err == nil && entry != 0 {
		t.bias = entry - t.BinInfo.Entry
		t.log.Debugf("load bias %#x (auxv)", t.bias)
		return
	}
	maps, merr := t.proc.Maps()
	if merr != nil {
		t.log.Warnf("could not determine load bias: %v, %v", err, merr)
		return
	}
	want, _ := filepath.Abs(t.path)
	if resolved, err := filepath.EvalSymlinks(want); err == nil {
		want = resolved
	}
	for _, m := range maps {
		if m.Path == want && m.Offset == 0 {
			t.bias = m.Start
			t.log.Debugf("load bias %#x (maps)", t.bias)
			return
		}
	}
	t.log.Warnf("could not determine load bias of %s", want)
}

// Bias returns the load bias.
func (t *Target) Bias() uint64 {
	return t.bias
}

// Pid returns the pid of the target.
func (t *Target) Pid() int {
	return t.pid
}

// Cmd returns the command line of the target.
func (t *Target) Cmd() []string {
	return t.cmd
}

// Process returns the underlying process.
func (t *Target) Process() Process {
	return t.proc
}

// Exited returns the exit status of the target if it is gone.
func (t *Target) Exited() (ExitStatus, bool) {
	if t.exit == nil {
		return ExitStatus{}, false
	}
	return *t.exit, true
}

func (t *Target) checkAlive() error {
	if t.exit != nil {
		return ErrProcessExited{Pid: t.pid, Status: *t.exit}
	}
	return nil
}

func (t *Target) relocFn(fn *bininfo.Function) *bininfo.Function {
	if fn == nil || t.bias == 0 {
		return fn
	}
	c := *fn
	c.Entry += t.bias
	c.End += t.bias
	return &c
}

// PCToLocation returns the source location of the runtime address pc.
func (t *Target) PCToLocation(pc uint64) bininfo.Location {
	loc := t.BinInfo.PCToLocation(pc - t.bias)
	loc.PC = pc
	loc.Fn = t.relocFn(loc.Fn)
	return loc
}

// InCode returns true if pc is inside the code of the executable.
func (t *Target) InCode(pc uint64) bool {
	return pc != 0 && t.BinInfo.InCode(pc-t.bias)
}

// LookupFunc returns the function called name.
func (t *Target) LookupFunc(name string) (*bininfo.Function, error) {
	fn, err := t.BinInfo.LookupFunc(name)
	if err != nil {
		return nil, err
	}
	return t.relocFn(fn), nil
}

// Functions returns every function of the executable, sorted by entry.
func (t *Target) Functions() []*bininfo.Function {
	fns := t.BinInfo.Symbols.Functions()
	r := make([]*bininfo.Function, len(fns))
	for i, fn := range fns {
		r[i] = t.relocFn(fn)
	}
	return r
}

// LineToPC returns the runtime address of file:line.
func (t *Target) LineToPC(file string, line int) (uint64, *bininfo.Function, error) {
	pc, fn, err := t.BinInfo.LineToPC(file, line)
	if err != nil {
		return 0, nil, err
	}
	return pc + t.bias, t.relocFn(fn), nil
}

// LookupVariable returns the global variable called name.
func (t *Target) LookupVariable(name string) (*bininfo.Variable, error) {
	v, err := t.BinInfo.LookupVariable(name)
	if err != nil {
		return nil, err
	}
	c := *v
	c.Addr += t.bias
	return &c, nil
}

// lineAt returns the line table row covering pc.
func (t *Target) lineAt(pc uint64) (bininfo.LineEntry, bool) {
	le, ok := t.BinInfo.Lines.Find(pc - t.bias)
	if !ok || le.Line == 0 {
		return bininfo.LineEntry{}, false
	}
	le.Address += t.bias
	return le, true
}

// SetBreakpoint sets a user breakpoint at addr. Setting a breakpoint
// twice at the same address returns the existing one.
func (t *Target) SetBreakpoint(addr uint64) (*Breakpoint, error) {
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	bp, err := t.Breakpoints.Set(t.proc, addr, UserBreakpoint)
	if err != nil {
		return nil, err
	}
	bp.LinkAddr = addr - t.bias
	loc := t.PCToLocation(addr)
	bp.File, bp.Line = loc.File, loc.Line
	if loc.Fn != nil {
		bp.FunctionName = loc.Fn.Name
	}
	t.log.Debugf("breakpoint %d set at %#x", bp.ID, addr)
	return bp, nil
}

// ClearBreakpoint removes the breakpoint at addr.
func (t *Target) ClearBreakpoint(addr uint64) (*Breakpoint, error) {
	if bp, ok := t.Breakpoints.At(addr); !ok || bp.Kind != UserBreakpoint {
		return nil, &UnknownBreakpointError{Addr: addr}
	}
	if t.exit != nil {
		bp := t.Breakpoints.M[addr]
		delete(t.Breakpoints.M, addr)
		return bp, nil
	}
	return t.Breakpoints.Clear(t.proc, addr)
}

// ClearBreakpointByID removes the user breakpoint with the given ID.
func (t *Target) ClearBreakpointByID(id int) (*Breakpoint, error) {
	for addr, bp := range t.Breakpoints.M {
		if bp.Kind == UserBreakpoint && bp.ID == id {
			return t.ClearBreakpoint(addr)
		}
	}
	return nil, &UnknownBreakpointError{ID: id}
}

// Registers returns the current registers of the target.
func (t *Target) Registers() (*Registers, error) {
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	return t.proc.Registers()
}

// SetRegister changes a single register.
func (t *Target) SetRegister(name string, value uint64) error {
	regs, err := t.Registers()
	if err != nil {
		return err
	}
	if err := regs.Set(name, value); err != nil {
		return err
	}
	return t.proc.SetRegisters(regs)
}

// ReadMemory reads the memory of the target. The trap instructions of
// installed breakpoints are replaced by the original bytes.
func (t *Target) ReadMemory(buf []byte, addr uint64) (int, error) {
	if err := t.checkAlive(); err != nil {
		return 0, err
	}
	n, err := t.proc.ReadMemory(buf, addr)
	for _, bp := range t.Breakpoints.M {
		if bp.State != BreakpointInstalled || bp.Addr < addr || bp.Addr >= addr+uint64(n) {
			continue
		}
		copy(buf[bp.Addr-addr:n], bp.OriginalData)
	}
	return n, err
}

// WriteMemory writes the memory of the target. Bytes written over an
// installed breakpoint become its original data and the trap instruction
// is kept in place.
func (t *Target) WriteMemory(addr uint64, data []byte) (int, error) {
	if err := t.checkAlive(); err != nil {
		return 0, err
	}
	data = append([]byte(nil), data...)
	for _, bp := range t.Breakpoints.M {
		if bp.State != BreakpointInstalled || bp.Addr < addr || bp.Addr >= addr+uint64(len(data)) {
			continue
		}
		off := bp.Addr - addr
		copy(bp.OriginalData, data[off:])
		copy(data[off:], trapInstruction)
	}
	return t.proc.WriteMemory(addr, data)
}

// fatal is called when an error leaves the breakpoints in an unknown
// state. The breakpoints are restored as well as possible and the target
// is killed.
func (t *Target) fatal(err error) error {
	t.log.Errorf("unrecoverable error, killing target: %v", err)
	if cerr := t.Breakpoints.ClearAll(t.proc); cerr != nil {
		t.log.Errorf("could not restore breakpoints: %v", cerr)
	}
	if kerr := t.proc.Kill(); kerr != nil {
		t.log.Errorf("could not kill target: %v", kerr)
	}
	t.exit = &ExitStatus{Signaled: true, Signal: syscall.SIGKILL}
	return &FatalError{Err: err}
}

// handleStop confirms breakpoint hits and updates the target after it
// exited.
func (t *Target) handleStop(ev *StopEvent) (*StopEvent, error) {
	switch ev.Reason {
	case StopExited:
		t.exit = &ev.Exit
		t.Breakpoints.markRemoved()
		t.log.Debugf("process %d exited: %s", t.pid, ev.Exit)
	case StopBreakpoint:
		regs, err := t.proc.Registers()
		if err != nil {
			return nil, err
		}
		bp, ok := t.Breakpoints.At(regs.PC() - uint64(len(trapInstruction)))
		if !ok || bp.State != BreakpointInstalled {
			ev.Reason, ev.Signal = StopSignal, syscall.SIGTRAP
			return ev, nil
		}
		regs.SetPC(bp.Addr)
		if err := t.proc.SetRegisters(regs); err != nil {
			return nil, t.fatal(err)
		}
		bp.TotalHitCount++
		ev.Breakpoint = bp
		t.log.Debugf("breakpoint %d hit at %#x", bp.ID, bp.Addr)
	case StopSignal:
		t.log.Debugf("signal %v", ev.Signal)
	}
	return ev, nil
}

func (t *Target) resume(mode ResumeMode) (*StopEvent, error) {
	if err := t.proc.Resume(mode); err != nil {
		return nil, err
	}
	ev, err := t.proc.Wait()
	if err != nil {
		return nil, err
	}
	return t.handleStop(ev)
}

// stepOverBreakpoint executes the instruction under the breakpoint at the
// current PC, if there is one. It returns nil if no breakpoint was there.
func (t *Target) stepOverBreakpoint() (*StopEvent, error) {
	regs, err := t.proc.Registers()
	if err != nil {
		return nil, err
	}
	bp, ok := t.Breakpoints.At(regs.PC())
	if !ok || bp.State != BreakpointInstalled {
		return nil, nil
	}
	if err := t.Breakpoints.restoreOriginal(t.proc, bp); err != nil {
		return nil, t.fatal(err)
	}
	ev, err := t.proc.SingleStep()
	if err != nil {
		return nil, t.fatal(err)
	}
	if ev.Exited() {
		return t.handleStop(ev)
	}
	if err := t.Breakpoints.reinstate(t.proc, bp); err != nil {
		return nil, t.fatal(err)
	}
	return t.handleStop(ev)
}

// Continue resumes the target until it hits a breakpoint, receives a
// signal or exits.
func (t *Target) Continue() (*StopEvent, error) {
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	ev, err := t.stepOverBreakpoint()
	if err != nil {
		return nil, err
	}
	if ev != nil && ev.Reason != StopSingleStep {
		return ev, nil
	}
	return t.resume(ResumeContinue)
}

// StepInstruction executes a single machine instruction.
func (t *Target) StepInstruction() (*StopEvent, error) {
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	ev, err := t.stepOverBreakpoint()
	if err != nil || ev != nil {
		return ev, err
	}
	ev, err = t.proc.SingleStep()
	if err != nil {
		return nil, err
	}
	return t.handleStop(ev)
}

// runUntil sets a temporary breakpoint at addr and continues until it is
// hit with the stack pointer equal to sp. Hits with a different stack
// pointer belong to other activations of the same function and are
// skipped.
func (t *Target) runUntil(addr, sp uint64) (*StopEvent, error) {
	_, existed := t.Breakpoints.At(addr)
	bp, err := t.Breakpoints.Set(t.proc, addr, InternalBreakpoint)
	if err != nil {
		return nil, err
	}
	if !existed {
		bp.LinkAddr = addr - t.bias
		defer func() {
			if t.exit == nil {
				if _, ok := t.Breakpoints.At(addr); ok && bp.Kind == InternalBreakpoint {
					t.Breakpoints.Clear(t.proc, addr)
				}
			}
		}()
	}
	for {
		ev, err := t.Continue()
		if err != nil || ev.Exited() || ev.Breakpoint == nil || ev.Breakpoint.Addr != addr {
			return ev, err
		}
		regs, err := t.proc.Registers()
		if err != nil {
			return nil, err
		}
		if regs.SP() == sp {
			if ev.Breakpoint.Kind == InternalBreakpoint {
				ev.Reason, ev.Breakpoint = StopSingleStep, nil
			}
			return ev, nil
		}
		if ev.Breakpoint.Kind == UserBreakpoint {
			return ev, nil
		}
	}
}

// Next steps to the next source line of the current function, stepping
// over calls.
func (t *Target) Next() (*StopEvent, error) {
	return t.stepLine(false)
}

// Step steps to the next source line, entering called functions that have
// line information.
func (t *Target) Step() (*StopEvent, error) {
	return t.stepLine(true)
}

func (t *Target) stepLine(into bool) (*StopEvent, error) {
	regs, err := t.Registers()
	if err != nil {
		return nil, err
	}
	start, ok := t.lineAt(regs.PC())
	if !ok {
		return t.StepInstruction()
	}
	for {
		pc := regs.PC()
		inst, ierr := readInstruction(t, pc)

		var ev *StopEvent
		switch {
		case ierr == nil && inst.IsCall():
			ret, sp := pc+uint64(inst.Size), regs.SP()
			if into {
				ev, err = t.StepInstruction()
				if err != nil || ev.Reason != StopSingleStep {
					return ev, err
				}
				if regs, err = t.proc.Registers(); err != nil {
					return nil, err
				}
				if le, ok := t.lineAt(regs.PC()); ok && le.Address == regs.PC() {
					return t.finishStep(ev, regs)
				}
			}
			ev, err = t.runUntil(ret, sp)
		default:
			ev, err = t.StepInstruction()
		}
		if err != nil || ev.Exited() || ev.Reason != StopSingleStep {
			return ev, err
		}

		if regs, err = t.proc.Registers(); err != nil {
			return nil, err
		}
		le, ok := t.lineAt(regs.PC())
		if !ok {
			if ierr == nil && inst.IsRet() {
				// returned into code without line information.
				return t.Continue()
			}
			continue
		}
		if le.Address == regs.PC() && le.IsStmt && (le.File != start.File || le.Line != start.Line) {
			return t.finishStep(ev, regs)
		}
	}
}

// finishStep reports a step that ended on a user breakpoint as a hit of
// that breakpoint.
func (t *Target) finishStep(ev *StopEvent, regs *Registers) (*StopEvent, error) {
	if bp, ok := t.Breakpoints.At(regs.PC()); ok && bp.Kind == UserBreakpoint && bp.State == BreakpointInstalled {
		bp.TotalHitCount++
		ev.Reason, ev.Breakpoint = StopBreakpoint, bp
	}
	return ev, nil
}

// StepOut runs until the current function returns to its caller.
func (t *Target) StepOut() (*StopEvent, error) {
	regs, err := t.Registers()
	if err != nil {
		return nil, err
	}
	ret, cfa, _, err := innermostFrame(regs, t, t)
	if err != nil {
		return nil, err
	}
	if ret == 0 {
		return nil, errors.New("could not find the return address of the current function")
	}
	return t.runUntil(ret, cfa)
}

// Stacktrace returns the call stack of the target, at most depth frames.
func (t *Target) Stacktrace(depth int) ([]Stackframe, error) {
	regs, err := t.Registers()
	if err != nil {
		return nil, err
	}
	return Stacktrace(regs, t, t, depth), nil
}

// Disassemble decodes the instructions in [start, end).
func (t *Target) Disassemble(start, end uint64) ([]AsmInstruction, error) {
	regs, err := t.Registers()
	if err != nil {
		return nil, err
	}
	return Disassemble(t, t, start, end, regs.PC(), &t.Breakpoints)
}

// Restart kills the target if it is still running and starts it again,
// with args as new arguments if they are not nil. User breakpoints are
// reinstalled in the new process.
func (t *Target) Restart(args []string) error {
	if t.launch == nil || len(t.cmd) == 0 {
		return errors.New("restart not supported")
	}
	if t.exit == nil {
		if err := t.proc.Kill(); err != nil {
			t.log.Warnf("could not kill process %d: %v", t.pid, err)
		}
		t.Breakpoints.markRemoved()
	}
	cmd := t.cmd
	if args != nil {
		cmd = append([]string{t.cmd[0]}, args...)
	}
	p, err := t.launch(cmd, t.wd)
	if err != nil {
		t.exit = &ExitStatus{Signaled: true, Signal: syscall.SIGKILL}
		return err
	}
	t.proc, t.cmd, t.pid, t.exit = p, cmd, p.Pid(), nil
	t.computeBias()

	failed := t.Breakpoints.reinstall(p, t.bias)
	if len(failed) > 0 {
		ids := make([]string, len(failed))
		for i, bp := range failed {
			ids[i] = fmt.Sprint(bp.ID)
		}
		return fmt.Errorf("could not reinstall breakpoints %s", strings.Join(ids, ", "))
	}
	return nil
}

// Kill terminates the target. The breakpoint records are kept.
func (t *Target) Kill() error {
	if t.exit != nil {
		return nil
	}
	err := t.proc.Kill()
	t.exit = &ExitStatus{Signaled: true, Signal: syscall.SIGKILL}
	t.Breakpoints.markRemoved()
	return err
}
