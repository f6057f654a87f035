//go:build linux && amd64

package native

import (
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"
)

// ptraceCont executes ptrace PTRACE_CONT
func ptraceCont(pid, sig int) error {
	return sys.PtraceCont(pid, sig)
}

// ptraceSyscall executes ptrace PTRACE_SYSCALL
func ptraceSyscall(pid, sig int) error {
	return sys.PtraceSyscall(pid, sig)
}

// ptraceSingleStep executes ptrace PTRACE_SINGLESTEP
func ptraceSingleStep(pid, sig int) error {
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, uintptr(sys.PTRACE_SINGLESTEP), uintptr(pid), uintptr(0), uintptr(sig), 0, 0)
	if e1 != 0 {
		return e1
	}
	return nil
}

// ptracePeekWord reads the aligned word at addr with PTRACE_PEEKDATA.
func ptracePeekWord(pid int, addr uint64) (uint64, error) {
	var word uint64
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, uintptr(sys.PTRACE_PEEKDATA), uintptr(pid), uintptr(addr), uintptr(unsafe.Pointer(&word)), 0, 0)
	if e1 != 0 {
		return 0, e1
	}
	return word, nil
}

// ptracePokeWord writes the aligned word at addr with PTRACE_POKEDATA.
func ptracePokeWord(pid int, addr, word uint64) error {
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, uintptr(sys.PTRACE_POKEDATA), uintptr(pid), uintptr(addr), uintptr(word), 0, 0)
	if e1 != 0 {
		return e1
	}
	return nil
}

// ptraceGetRegs returns the general purpose registers of pid.
func ptraceGetRegs(pid int, regs *sys.PtraceRegs) error {
	return sys.PtraceGetRegs(pid, regs)
}

// ptraceSetRegs changes the general purpose registers of pid.
func ptraceSetRegs(pid int, regs *sys.PtraceRegs) error {
	return sys.PtraceSetRegs(pid, regs)
}

func ptraceSetOptions(pid, options int) error {
	return sys.PtraceSetOptions(pid, options)
}

func wait(pid int) (sys.WaitStatus, error) {
	var status sys.WaitStatus
	for {
		_, err := sys.Wait4(pid, &status, sys.WALL, nil)
		if err == syscall.EINTR {
			continue
		}
		return status, err
	}
}
