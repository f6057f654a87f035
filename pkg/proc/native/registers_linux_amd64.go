package native

import (
	sys "golang.org/x/sys/unix"

	"github.com/tkyk0317/r-debugger/pkg/proc"
)

func registersFromPtrace(r *sys.PtraceRegs) *proc.Registers {
	return &proc.Registers{
		R15:     r.R15,
		R14:     r.R14,
		R13:     r.R13,
		R12:     r.R12,
		Rbp:     r.Rbp,
		Rbx:     r.Rbx,
		R11:     r.R11,
		R10:     r.R10,
		R9:      r.R9,
		R8:      r.R8,
		Rax:     r.Rax,
		Rcx:     r.Rcx,
		Rdx:     r.Rdx,
		Rsi:     r.Rsi,
		Rdi:     r.Rdi,
		OrigRax: r.Orig_rax,
		Rip:     r.Rip,
		Cs:      r.Cs,
		Eflags:  r.Eflags,
		Rsp:     r.Rsp,
		Ss:      r.Ss,
		FsBase:  r.Fs_base,
		GsBase:  r.Gs_base,
		Ds:      r.Ds,
		Es:      r.Es,
		Fs:      r.Fs,
		Gs:      r.Gs,
	}
}

func registersToPtrace(r *proc.Registers) *sys.PtraceRegs {
	return &sys.PtraceRegs{
		R15:      r.R15,
		R14:      r.R14,
		R13:      r.R13,
		R12:      r.R12,
		Rbp:      r.Rbp,
		Rbx:      r.Rbx,
		R11:      r.R11,
		R10:      r.R10,
		R9:       r.R9,
		R8:       r.R8,
		Rax:      r.Rax,
		Rcx:      r.Rcx,
		Rdx:      r.Rdx,
		Rsi:      r.Rsi,
		Rdi:      r.Rdi,
		Orig_rax: r.OrigRax,
		Rip:      r.Rip,
		Cs:       r.Cs,
		Eflags:   r.Eflags,
		Rsp:      r.Rsp,
		Ss:       r.Ss,
		Fs_base:  r.FsBase,
		Gs_base:  r.GsBase,
		Ds:       r.Ds,
		Es:       r.Es,
		Fs:       r.Fs,
		Gs:       r.Gs,
	}
}

// Registers returns the general purpose registers of the process.
func (dbp *Process) Registers() (*proc.Registers, error) {
	if err := dbp.checkStopped("registers"); err != nil {
		return nil, err
	}
	var regs sys.PtraceRegs
	var err error
	if perr := dbp.execPtraceFunc(func() { err = ptraceGetRegs(dbp.pid, &regs) }); perr != nil {
		return nil, perr
	}
	if err != nil {
		return nil, proc.NewPtraceError("PTRACE_GETREGS", err)
	}
	return registersFromPtrace(&regs), nil
}

// SetRegisters writes every general purpose register of the process.
func (dbp *Process) SetRegisters(regs *proc.Registers) error {
	if err := dbp.checkStopped("set registers"); err != nil {
		return err
	}
	var err error
	if perr := dbp.execPtraceFunc(func() { err = ptraceSetRegs(dbp.pid, registersToPtrace(regs)) }); perr != nil {
		return perr
	}
	dbp.log.Debugf("set registers pid=%d rip=%#x: %v", dbp.pid, regs.Rip, err)
	return proc.NewPtraceError("PTRACE_SETREGS", err)
}
