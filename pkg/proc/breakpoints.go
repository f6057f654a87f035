package proc

import (
	"bytes"
	"fmt"
	"sort"
)

// BreakpointState is the state of the trap instruction of a breakpoint.
type BreakpointState uint8

const (
	// BreakpointRemoved means the original bytes are in memory and the
	// breakpoint is not active, for example after the process exited.
	BreakpointRemoved BreakpointState = iota
	// BreakpointInstalled means the trap instruction is in memory.
	BreakpointInstalled
	// BreakpointTemporarilyRestored means the original bytes have been put
	// back to execute the instruction under the breakpoint once.
	BreakpointTemporarilyRestored
)

func (s BreakpointState) String() string {
	switch s {
	case BreakpointRemoved:
		return "removed"
	case BreakpointInstalled:
		return "installed"
	case BreakpointTemporarilyRestored:
		return "temporarily restored"
	}
	return fmt.Sprintf("BreakpointState(%d)", uint8(s))
}

// BreakpointKind separates breakpoints set by the user from the ones used
// internally by next and stepout.
type BreakpointKind uint8

const (
	UserBreakpoint BreakpointKind = iota
	InternalBreakpoint
)

func (k BreakpointKind) String() string {
	if k == InternalBreakpoint {
		return "internal"
	}
	return "user"
}

var trapInstruction = []byte{0xCC}

// TrapInstruction returns the software breakpoint instruction.
func TrapInstruction() []byte {
	return append([]byte(nil), trapInstruction...)
}

// Breakpoint represents a physical breakpoint.
type Breakpoint struct {
	// ID is a unique identifier for user breakpoints, 0 for internal ones.
	ID int
	// Addr is the runtime address of the breakpoint.
	Addr uint64
	// LinkAddr is Addr in the address space of the executable file, it is
	// used to reinstall the breakpoint when the target is restarted.
	LinkAddr uint64
	// OriginalData is the memory replaced by the trap instruction.
	OriginalData []byte
	State        BreakpointState
	Kind         BreakpointKind

	FunctionName string
	File         string
	Line         int

	TotalHitCount uint64
}

func (bp *Breakpoint) String() string {
	return fmt.Sprintf("Breakpoint %d at %#x %s:%d (%d)", bp.ID, bp.Addr, bp.File, bp.Line, bp.TotalHitCount)
}

// BreakpointMap represents an (address, breakpoint) map.
type BreakpointMap struct {
	M map[uint64]*Breakpoint

	breakpointIDCounter int
}

// NewBreakpointMap creates a new BreakpointMap.
func NewBreakpointMap() BreakpointMap {
	return BreakpointMap{
		M: make(map[uint64]*Breakpoint),
	}
}

// Set installs a breakpoint at addr. If a breakpoint already exists at addr
// it is returned unchanged and memory is not touched, except that an
// internal breakpoint is promoted when the user asks for the same address.
func (bpmap *BreakpointMap) Set(mem MemoryReadWriter, addr uint64, kind BreakpointKind) (*Breakpoint, error) {
	if bp, ok := bpmap.M[addr]; ok {
		if kind == UserBreakpoint && bp.Kind == InternalBreakpoint {
			bp.Kind = UserBreakpoint
			bpmap.breakpointIDCounter++
			bp.ID = bpmap.breakpointIDCounter
		}
		return bp, nil
	}

	bp := &Breakpoint{Addr: addr, LinkAddr: addr, Kind: kind}
	if err := bpmap.install(mem, bp); err != nil {
		return nil, err
	}
	if kind == UserBreakpoint {
		bpmap.breakpointIDCounter++
		bp.ID = bpmap.breakpointIDCounter
	}
	bpmap.M[addr] = bp
	return bp, nil
}

func (bpmap *BreakpointMap) install(mem MemoryReadWriter, bp *Breakpoint) error {
	orig := make([]byte, len(trapInstruction))
	if _, err := mem.ReadMemory(orig, bp.Addr); err != nil {
		return fmt.Errorf("could not read memory at %#x: %w", bp.Addr, err)
	}
	if _, err := mem.WriteMemory(bp.Addr, trapInstruction); err != nil {
		return fmt.Errorf("could not write breakpoint at %#x: %w", bp.Addr, err)
	}
	bp.OriginalData = orig
	bp.State = BreakpointInstalled
	return nil
}

func (bpmap *BreakpointMap) uninstall(mem MemoryReadWriter, bp *Breakpoint) error {
	if bp.State == BreakpointInstalled {
		if _, err := mem.WriteMemory(bp.Addr, bp.OriginalData); err != nil {
			return fmt.Errorf("could not restore memory at %#x: %w", bp.Addr, err)
		}
	}
	bp.State = BreakpointRemoved
	return nil
}

// Clear removes the breakpoint at addr and restores the original bytes.
func (bpmap *BreakpointMap) Clear(mem MemoryReadWriter, addr uint64) (*Breakpoint, error) {
	bp, ok := bpmap.M[addr]
	if !ok {
		return nil, &UnknownBreakpointError{Addr: addr}
	}
	if err := bpmap.uninstall(mem, bp); err != nil {
		return nil, err
	}
	delete(bpmap.M, addr)
	return bp, nil
}

// ClearByID removes the user breakpoint with the given ID.
func (bpmap *BreakpointMap) ClearByID(mem MemoryReadWriter, id int) (*Breakpoint, error) {
	for addr, bp := range bpmap.M {
		if bp.Kind == UserBreakpoint && bp.ID == id {
			return bpmap.Clear(mem, addr)
		}
	}
	return nil, &UnknownBreakpointError{ID: id}
}

// ClearInternal removes every internal breakpoint.
func (bpmap *BreakpointMap) ClearInternal(mem MemoryReadWriter) error {
	var firstErr error
	for addr, bp := range bpmap.M {
		if bp.Kind != InternalBreakpoint {
			continue
		}
		if _, err := bpmap.Clear(mem, addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ClearAll restores the original bytes of every breakpoint and empties the
// map. It keeps going after a failure and returns the first error.
func (bpmap *BreakpointMap) ClearAll(mem MemoryReadWriter) error {
	var firstErr error
	for addr, bp := range bpmap.M {
		if err := bpmap.uninstall(mem, bp); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(bpmap.M, addr)
	}
	return firstErr
}

// At returns the breakpoint at addr.
func (bpmap *BreakpointMap) At(addr uint64) (*Breakpoint, bool) {
	bp, ok := bpmap.M[addr]
	return bp, ok
}

// HasUser returns true if there is at least one user breakpoint.
func (bpmap *BreakpointMap) HasUser() bool {
	for _, bp := range bpmap.M {
		if bp.Kind == UserBreakpoint {
			return true
		}
	}
	return false
}

// List returns the user breakpoints sorted by ID.
func (bpmap *BreakpointMap) List() []*Breakpoint {
	r := make([]*Breakpoint, 0, len(bpmap.M))
	for _, bp := range bpmap.M {
		if bp.Kind == UserBreakpoint {
			r = append(r, bp)
		}
	}
	sort.Slice(r, func(i, j int) bool { return r[i].ID < r[j].ID })
	return r
}

// Installed returns the sorted addresses where a trap instruction is
// currently written in memory.
func (bpmap *BreakpointMap) Installed() []uint64 {
	r := []uint64{}
	for addr, bp := range bpmap.M {
		if bp.State == BreakpointInstalled {
			r = append(r, addr)
		}
	}
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
	return r
}

// Verify checks that the memory of the target agrees with the state of
// every breakpoint.
func (bpmap *BreakpointMap) Verify(mem MemoryReadWriter) error {
	for addr, bp := range bpmap.M {
		buf := make([]byte, len(trapInstruction))
		if _, err := mem.ReadMemory(buf, addr); err != nil {
			return err
		}
		want := bp.OriginalData
		if bp.State == BreakpointInstalled {
			want = trapInstruction
		}
		if !bytes.Equal(buf, want) {
			return fmt.Errorf("breakpoint at %#x is %s but memory contains %x", addr, bp.State, buf)
		}
	}
	return nil
}

// restoreOriginal moves bp from Installed to TemporarilyRestored.
func (bpmap *BreakpointMap) restoreOriginal(mem MemoryReadWriter, bp *Breakpoint) error {
	if bp.State != BreakpointInstalled {
		return fmt.Errorf("breakpoint at %#x is %s", bp.Addr, bp.State)
	}
	if _, err := mem.WriteMemory(bp.Addr, bp.OriginalData); err != nil {
		return err
	}
	bp.State = BreakpointTemporarilyRestored
	return nil
}

// reinstate moves bp from TemporarilyRestored back to Installed.
func (bpmap *BreakpointMap) reinstate(mem MemoryReadWriter, bp *Breakpoint) error {
	if bp.State != BreakpointTemporarilyRestored {
		return fmt.Errorf("breakpoint at %#x is %s", bp.Addr, bp.State)
	}
	if _, err := mem.WriteMemory(bp.Addr, trapInstruction); err != nil {
		return err
	}
	bp.State = BreakpointInstalled
	return nil
}

// markRemoved is used when the process is gone: the records are kept so
// that they can be reinstalled by a restart.
func (bpmap *BreakpointMap) markRemoved() {
	for _, bp := range bpmap.M {
		bp.State = BreakpointRemoved
	}
}

// reinstall installs the user breakpoints in a new process whose load bias
// is bias. Internal breakpoints are dropped. Breakpoints that can not be
// installed are removed from the map and returned.
func (bpmap *BreakpointMap) reinstall(mem MemoryReadWriter, bias uint64) []*Breakpoint {
	old := bpmap.M
	bpmap.M = make(map[uint64]*Breakpoint, len(old))
	var failed []*Breakpoint
	for _, bp := range old {
		if bp.Kind != UserBreakpoint {
			continue
		}
		bp.Addr = bp.LinkAddr + bias
		bp.TotalHitCount = 0
		bp.State = BreakpointRemoved
		if err := bpmap.install(mem, bp); err != nil {
			failed = append(failed, bp)
			continue
		}
		bpmap.M[bp.Addr] = bp
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].ID < failed[j].ID })
	return failed
}
