package test

import (
	"errors"
	"sync"
	"syscall"

	"github.com/tkyk0317/r-debugger/pkg/proc"
	"github.com/tkyk0317/r-debugger/pkg/proc/linutil"
)

// ScriptedStop is one stop of a ScriptedProcess: the event returned by
// Wait and the registers at that stop.
type ScriptedStop struct {
	Event proc.StopEvent
	Regs  proc.Registers
}

// SyscallStops returns the entry and exit stops of a syscall.
func SyscallStops(nr uint64, ret uint64, pc uint64, args ...uint64) []ScriptedStop {
	var regs proc.Registers
	regs.OrigRax, regs.Rip = nr, pc
	dst := []*uint64{&regs.Rdi, &regs.Rsi, &regs.Rdx, &regs.R10, &regs.R8, &regs.R9}
	for i, a := range args {
		*dst[i] = a
	}
	entry, exit := regs, regs
	entry.Rax = ^uint64(syscall.ENOSYS) + 1
	exit.Rax = ret
	return []ScriptedStop{
		{Event: proc.StopEvent{Reason: proc.StopSyscallEntry}, Regs: entry},
		{Event: proc.StopEvent{Reason: proc.StopSyscallExit}, Regs: exit},
	}
}

// ScriptedProcess replays a fixed sequence of stops, whatever the resume
// mode. When the script is exhausted Wait reports an exit with ExitCode or,
// if Block is set, blocks until Kill is called.
type ScriptedProcess struct {
	FakeMemory

	Stops    []ScriptedStop
	ExitCode int
	Block    bool

	// Modes records the mode of every Resume.
	Modes []proc.ResumeMode

	mu     sync.Mutex
	pid    int
	cur    int
	regs   proc.Registers
	state  proc.ProcessState
	exit   proc.ExitStatus
	killed chan struct{}
}

// NewScriptedProcess returns a stopped ScriptedProcess.
func NewScriptedProcess(pid int, mem FakeMemory, stops []ScriptedStop) *ScriptedProcess {
	if mem == nil {
		mem = FakeMemory{}
	}
	return &ScriptedProcess{
		FakeMemory: mem,
		Stops:      stops,
		pid:        pid,
		state:      proc.StateStopped,
		killed:     make(chan struct{}),
	}
}

func (p *ScriptedProcess) Pid() int { return p.pid }

func (p *ScriptedProcess) State() proc.ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *ScriptedProcess) EntryPoint() (uint64, error) {
	return 0, errors.New("no entry point")
}

func (p *ScriptedProcess) Maps() ([]linutil.Mapping, error) {
	return nil, errors.New("no mappings")
}

func (p *ScriptedProcess) checkStopped(op string) error {
	if p.state != proc.StateStopped {
		return &proc.InvalidStateError{Op: op, State: p.state}
	}
	return nil
}

func (p *ScriptedProcess) Registers() (*proc.Registers, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkStopped("registers"); err != nil {
		return nil, err
	}
	return p.regs.Copy(), nil
}

func (p *ScriptedProcess) SetRegisters(regs *proc.Registers) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkStopped("set registers"); err != nil {
		return err
	}
	p.regs = *regs
	return nil
}

func (p *ScriptedProcess) ReadMemory(buf []byte, addr uint64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkStopped("read memory"); err != nil {
		return 0, err
	}
	return p.FakeMemory.ReadMemory(buf, addr)
}

func (p *ScriptedProcess) WriteMemory(addr uint64, data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkStopped("write memory"); err != nil {
		return 0, err
	}
	return p.FakeMemory.WriteMemory(addr, data)
}

func (p *ScriptedProcess) Resume(mode proc.ResumeMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkStopped("resume"); err != nil {
		return err
	}
	p.Modes = append(p.Modes, mode)
	p.state = proc.StateRunning
	return nil
}

func (p *ScriptedProcess) SingleStep() (*proc.StopEvent, error) {
	if err := p.Resume(proc.ResumeStep); err != nil {
		return nil, err
	}
	return p.Wait()
}

func (p *ScriptedProcess) Wait() (*proc.StopEvent, error) {
	p.mu.Lock()
	if p.state != proc.StateRunning {
		st := p.state
		p.mu.Unlock()
		return nil, &proc.InvalidStateError{Op: "wait", State: st}
	}
	if p.cur < len(p.Stops) {
		defer p.mu.Unlock()
		st := p.Stops[p.cur]
		p.cur++
		ev := st.Event
		if ev.Exited() {
			p.state = proc.StateExited
			if ev.Exit.Signaled {
				p.state = proc.StateSignaled
			}
			p.exit = ev.Exit
			return &ev, nil
		}
		p.state = proc.StateStopped
		p.regs = st.Regs
		return &ev, nil
	}
	if !p.Block {
		defer p.mu.Unlock()
		p.state = proc.StateExited
		p.exit = proc.ExitStatus{Code: p.ExitCode}
		return &proc.StopEvent{Reason: proc.StopExited, Exit: p.exit}, nil
	}
	p.mu.Unlock()

	<-p.killed
	p.mu.Lock()
	defer p.mu.Unlock()
	return &proc.StopEvent{Reason: proc.StopExited, Exit: p.exit}, nil
}

// Kill terminates the process with SIGKILL. A blocked Wait returns.
func (p *ScriptedProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.Alive() {
		return nil
	}
	p.state = proc.StateSignaled
	p.exit = proc.ExitStatus{Signaled: true, Signal: syscall.SIGKILL}
	close(p.killed)
	return nil
}
