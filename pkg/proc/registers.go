package proc

import (
	"fmt"
	"strings"
)

// Registers is a snapshot of the x86-64 general purpose registers, in the
// layout of the kernel's user_regs_struct. It becomes stale as soon as the
// target is resumed.
type Registers struct {
	R15     uint64
	R14     uint64
	R13     uint64
	R12     uint64
	Rbp     uint64
	Rbx     uint64
	R11     uint64
	R10     uint64
	R9      uint64
	R8      uint64
	Rax     uint64
	Rcx     uint64
	Rdx     uint64
	Rsi     uint64
	Rdi     uint64
	OrigRax uint64
	Rip     uint64
	Cs      uint64
	Eflags  uint64
	Rsp     uint64
	Ss      uint64
	FsBase  uint64
	GsBase  uint64
	Ds      uint64
	Es      uint64
	Fs      uint64
	Gs      uint64
}

// Register is a named register value.
type Register struct {
	Name  string
	Value uint64
}

// PC returns the current program counter, i.e. the RIP CPU register.
func (r *Registers) PC() uint64 {
	return r.Rip
}

// SP returns the stack pointer location, i.e. the RSP register.
func (r *Registers) SP() uint64 {
	return r.Rsp
}

// BP returns the frame pointer, i.e. the RBP register.
func (r *Registers) BP() uint64 {
	return r.Rbp
}

// SetPC sets RIP to pc.
func (r *Registers) SetPC(pc uint64) {
	r.Rip = pc
}

// Copy returns a copy of the registers.
func (r *Registers) Copy() *Registers {
	c := *r
	return &c
}

func (r *Registers) field(name string) *uint64 {
	switch strings.ToLower(name) {
	case "r15":
		return &r.R15
	case "r14":
		return &r.R14
	case "r13":
		return &r.R13
	case "r12":
		return &r.R12
	case "rbp", "bp":
		return &r.Rbp
	case "rbx":
		return &r.Rbx
	case "r11":
		return &r.R11
	case "r10":
		return &r.R10
	case "r9":
		return &r.R9
	case "r8":
		return &r.R8
	case "rax":
		return &r.Rax
	case "rcx":
		return &r.Rcx
	case "rdx":
		return &r.Rdx
	case "rsi":
		return &r.Rsi
	case "rdi":
		return &r.Rdi
	case "orig_rax":
		return &r.OrigRax
	case "rip", "pc":
		return &r.Rip
	case "cs":
		return &r.Cs
	case "eflags", "rflags":
		return &r.Eflags
	case "rsp", "sp":
		return &r.Rsp
	case "ss":
		return &r.Ss
	case "fs_base":
		return &r.FsBase
	case "gs_base":
		return &r.GsBase
	case "ds":
		return &r.Ds
	case "es":
		return &r.Es
	case "fs":
		return &r.Fs
	case "gs":
		return &r.Gs
	}
	return nil
}

// Get returns the value of the register called name.
func (r *Registers) Get(name string) (uint64, error) {
	p := r.field(name)
	if p == nil {
		return 0, &UnknownRegisterError{Name: name}
	}
	return *p, nil
}

// Set changes the value of the register called name.
func (r *Registers) Set(name string, value uint64) error {
	p := r.field(name)
	if p == nil {
		return &UnknownRegisterError{Name: name}
	}
	*p = value
	return nil
}

// Slice returns the registers in display order.
func (r *Registers) Slice() []Register {
	return []Register{
		{"rip", r.Rip},
		{"rsp", r.Rsp},
		{"rax", r.Rax},
		{"rbx", r.Rbx},
		{"rcx", r.Rcx},
		{"rdx", r.Rdx},
		{"rdi", r.Rdi},
		{"rsi", r.Rsi},
		{"rbp", r.Rbp},
		{"r8", r.R8},
		{"r9", r.R9},
		{"r10", r.R10},
		{"r11", r.R11},
		{"r12", r.R12},
		{"r13", r.R13},
		{"r14", r.R14},
		{"r15", r.R15},
		{"orig_rax", r.OrigRax},
		{"cs", r.Cs},
		{"eflags", r.Eflags},
		{"ss", r.Ss},
		{"fs_base", r.FsBase},
		{"gs_base", r.GsBase},
		{"ds", r.Ds},
		{"es", r.Es},
		{"fs", r.Fs},
		{"gs", r.Gs},
	}
}

// FlagsString returns the set bits of eflags, for example "[IF ZF PF]".
func FlagsString(eflags uint64) string {
	names := []string{"CF", "", "PF", "", "AF", "", "ZF", "SF", "TF", "IF", "DF", "OF"}
	var out []string
	for i := len(names) - 1; i >= 0; i-- {
		if names[i] != "" && eflags&(1<<uint(i)) != 0 {
			out = append(out, names[i])
		}
	}
	return fmt.Sprintf("[%s]", strings.Join(out, " "))
}
