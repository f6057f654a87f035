//go:build linux && amd64

package native

import (
	"github.com/tkyk0317/r-debugger/pkg/proc"
)

// ReadMemory reads len(buf) bytes at addr with PTRACE_PEEKDATA.
func (dbp *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	if err := dbp.checkStopped("read memory"); err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}
	var n int
	var err error
	perr := dbp.execPtraceFunc(func() {
		n, err = proc.ReadWords(func(addr uint64) (uint64, error) { return ptracePeekWord(dbp.pid, addr) }, buf, addr)
	})
	if perr != nil {
		return 0, perr
	}
	if err != nil {
		return n, proc.NewPtraceError("PTRACE_PEEKDATA", err)
	}
	return n, nil
}

// WriteMemory writes data at addr with PTRACE_POKEDATA. Bytes of
// partially written words are preserved.
func (dbp *Process) WriteMemory(addr uint64, data []byte) (int, error) {
	if err := dbp.checkStopped("write memory"); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	var n int
	var err error
	perr := dbp.execPtraceFunc(func() {
		n, err = proc.WriteWords(
			func(addr uint64) (uint64, error) { return ptracePeekWord(dbp.pid, addr) },
			func(addr, word uint64) error { return ptracePokeWord(dbp.pid, addr, word) },
			addr, data)
	})
	if perr != nil {
		return 0, perr
	}
	dbp.log.Debugf("write %d bytes at %#x: %v", len(data), addr, err)
	if err != nil {
		return n, proc.NewPtraceError("PTRACE_POKEDATA", err)
	}
	return n, nil
}
