package test

import (
	"encoding/binary"
	"errors"
	"syscall"

	"github.com/tkyk0317/r-debugger/pkg/proc"
	"github.com/tkyk0317/r-debugger/pkg/proc/linutil"
)

// FakeMemory is a sparse byte addressed memory. Reading a byte that was
// never written fails with EIO.
type FakeMemory map[uint64]byte

// ReadMemory implements proc.MemoryReadWriter.
func (mem FakeMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	for i := range buf {
		b, ok := mem[addr+uint64(i)]
		if !ok {
			return i, &proc.PtraceError{Op: "PTRACE_PEEKDATA", Err: syscall.EIO}
		}
		buf[i] = b
	}
	return len(buf), nil
}

// WriteMemory implements proc.MemoryReadWriter.
func (mem FakeMemory) WriteMemory(addr uint64, data []byte) (int, error) {
	for i, b := range data {
		mem[addr+uint64(i)] = b
	}
	return len(data), nil
}

// PutUint64 stores a little endian word at addr.
func (mem FakeMemory) PutUint64(addr, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	mem.WriteMemory(addr, buf[:])
}

// Fill writes n copies of b starting at addr.
func (mem FakeMemory) Fill(addr uint64, n int, b byte) {
	for i := 0; i < n; i++ {
		mem[addr+uint64(i)] = b
	}
}

// FakeStep is one instruction of a simulated execution: the address of
// the instruction and the stack and frame pointer before it executes.
type FakeStep struct {
	PC, SP, BP uint64
}

// FakeProcess simulates a process that executes a fixed sequence of
// instructions. Each step is executed unless memory holds a trap
// instruction at its address, in which case the process stops with the
// PC one byte past the trap, as the CPU would.
type FakeProcess struct {
	FakeMemory

	// Trace is the sequence of executed instructions. The process exits
	// with ExitCode after the last one.
	Trace    []FakeStep
	ExitCode int

	// FailSingleStep is returned, once, by the next SingleStep.
	FailSingleStep error

	// Entry and Mappings are returned by EntryPoint and Maps.
	Entry    uint64
	Mappings []linutil.Mapping

	// Executed records the address of every executed instruction.
	Executed []uint64

	pid   int
	cur   int
	regs  proc.Registers
	state proc.ProcessState
	mode  proc.ResumeMode
	exit  proc.ExitStatus
}

// NewFakeProcess returns a FakeProcess stopped at the first step of trace.
func NewFakeProcess(pid int, mem FakeMemory, trace []FakeStep) *FakeProcess {
	if mem == nil {
		mem = FakeMemory{}
	}
	p := &FakeProcess{FakeMemory: mem, Trace: trace, pid: pid, state: proc.StateStopped}
	if len(trace) > 0 {
		p.load(trace[0])
	}
	return p
}

func (p *FakeProcess) load(st FakeStep) {
	p.regs.Rip, p.regs.Rsp, p.regs.Rbp = st.PC, st.SP, st.BP
}

// Count returns how many times the instruction at pc was executed.
func (p *FakeProcess) Count(pc uint64) int {
	n := 0
	for _, x := range p.Executed {
		if x == pc {
			n++
		}
	}
	return n
}

func (p *FakeProcess) Pid() int                    { return p.pid }
func (p *FakeProcess) State() proc.ProcessState    { return p.state }
func (p *FakeProcess) EntryPoint() (uint64, error) { return p.entry() }

func (p *FakeProcess) entry() (uint64, error) {
	if p.Entry == 0 {
		return 0, errors.New("no entry point")
	}
	return p.Entry, nil
}

func (p *FakeProcess) Maps() ([]linutil.Mapping, error) {
	if p.Mappings == nil {
		return nil, errors.New("no mappings")
	}
	return p.Mappings, nil
}

func (p *FakeProcess) checkStopped(op string) error {
	if p.state != proc.StateStopped {
		return &proc.InvalidStateError{Op: op, State: p.state}
	}
	return nil
}

func (p *FakeProcess) ReadMemory(buf []byte, addr uint64) (int, error) {
	if err := p.checkStopped("read memory"); err != nil {
		return 0, err
	}
	return p.FakeMemory.ReadMemory(buf, addr)
}

func (p *FakeProcess) WriteMemory(addr uint64, data []byte) (int, error) {
	if err := p.checkStopped("write memory"); err != nil {
		return 0, err
	}
	return p.FakeMemory.WriteMemory(addr, data)
}

func (p *FakeProcess) Registers() (*proc.Registers, error) {
	if err := p.checkStopped("registers"); err != nil {
		return nil, err
	}
	return p.regs.Copy(), nil
}

func (p *FakeProcess) SetRegisters(regs *proc.Registers) error {
	if err := p.checkStopped("set registers"); err != nil {
		return err
	}
	p.regs = *regs
	return nil
}

func (p *FakeProcess) Resume(mode proc.ResumeMode) error {
	if err := p.checkStopped("resume"); err != nil {
		return err
	}
	p.mode = mode
	p.state = proc.StateRunning
	return nil
}

func (p *FakeProcess) SingleStep() (*proc.StopEvent, error) {
	if err := p.FailSingleStep; err != nil {
		p.FailSingleStep = nil
		return nil, err
	}
	if err := p.Resume(proc.ResumeStep); err != nil {
		return nil, err
	}
	return p.Wait()
}

func (p *FakeProcess) exitNow() *proc.StopEvent {
	p.state = proc.StateExited
	p.exit = proc.ExitStatus{Code: p.ExitCode}
	return &proc.StopEvent{Reason: proc.StopExited, Exit: p.exit}
}

func (p *FakeProcess) stop(reason proc.StopReason) *proc.StopEvent {
	p.state = proc.StateStopped
	return &proc.StopEvent{Reason: reason}
}

func (p *FakeProcess) Wait() (*proc.StopEvent, error) {
	if p.state != proc.StateRunning {
		return nil, &proc.InvalidStateError{Op: "wait", State: p.state}
	}
	if p.cur >= len(p.Trace) {
		return p.exitNow(), nil
	}
	if p.regs.Rip != p.Trace[p.cur].PC {
		// the PC was changed, continue from the next step at that address
		j := p.cur
		for j < len(p.Trace) && p.Trace[j].PC != p.regs.Rip {
			j++
		}
		if j == len(p.Trace) {
			p.state = proc.StateStopped
			return &proc.StopEvent{Reason: proc.StopSignal, Signal: syscall.SIGSEGV}, nil
		}
		p.cur = j
	}
	for {
		st := p.Trace[p.cur]
		if p.FakeMemory[st.PC] == 0xCC {
			p.load(st)
			p.regs.Rip = st.PC + 1
			if p.mode == proc.ResumeStep {
				return p.stop(proc.StopSingleStep), nil
			}
			return p.stop(proc.StopBreakpoint), nil
		}
		p.Executed = append(p.Executed, st.PC)
		p.cur++
		if p.cur >= len(p.Trace) {
			return p.exitNow(), nil
		}
		p.load(p.Trace[p.cur])
		if p.mode == proc.ResumeStep {
			return p.stop(proc.StopSingleStep), nil
		}
	}
}

func (p *FakeProcess) Kill() error {
	if !p.state.Alive() {
		return nil
	}
	p.state = proc.StateSignaled
	p.exit = proc.ExitStatus{Signaled: true, Signal: syscall.SIGKILL}
	return nil
}

// Killed returns true if Kill terminated the process.
func (p *FakeProcess) Killed() bool {
	return p.state == proc.StateSignaled && p.exit.Signal == syscall.SIGKILL
}
