package proc

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/tkyk0317/r-debugger/pkg/bininfo"
)

// DefaultMaxBacktraceDepth is the number of frames returned by Stacktrace
// when no depth is configured.
const DefaultMaxBacktraceDepth = 50

// FrameResolver maps runtime addresses to source locations.
type FrameResolver interface {
	PCToLocation(pc uint64) bininfo.Location
	InCode(pc uint64) bool
}

// Stackframe represents a frame in a system stack.
type Stackframe struct {
	Depth int
	// PC is the current instruction for frame 0 and the return address for
	// the others.
	PC uint64
	// Ret is the return address of this frame.
	Ret uint64
	// FrameBase is the value of the stack pointer in the caller after this
	// frame returns.
	FrameBase uint64
	// Call is the location of PC. For frames other than the innermost it
	// is resolved at PC-1 so that it points to the call instruction.
	Call bininfo.Location
	// Err is set on the last frame of a truncated backtrace, all other
	// fields are zero.
	Err error
}

type frameState uint8

const (
	// rbp holds the frame base of the function.
	stateFramed frameState = iota
	// the return address is at [rsp].
	stateBeforePush
	// rbp has been pushed but not reloaded, the return address is at
	// [rsp+8].
	stateAfterPush
)

// analyzeFrame decodes the prologue of the function starting at entry to
// find out how much of the frame has been built when the PC is at pc.
func analyzeFrame(mem MemoryReadWriter, entry, pc uint64) frameState {
	if inst, err := readInstruction(mem, pc); err == nil && inst.IsRet() {
		return stateBeforePush
	}
	if pc < entry {
		return stateFramed
	}
	cur := entry
	if pc == cur {
		return stateBeforePush
	}
	inst, err := readInstruction(mem, cur)
	if err != nil {
		return stateFramed
	}
	if inst.text == "endbr64" {
		cur += uint64(inst.Size)
		if pc == cur {
			return stateBeforePush
		}
		if inst, err = readInstruction(mem, cur); err != nil {
			return stateFramed
		}
	}
	if inst.inst == nil || inst.inst.Op != x86asm.PUSH || inst.inst.Args[0] != x86asm.RBP {
		return stateFramed
	}
	cur += uint64(inst.Size)
	if pc == cur {
		return stateAfterPush
	}
	return stateFramed
}

func readUint64(mem MemoryReadWriter, addr uint64) (uint64, error) {
	var buf [8]byte
	if _, err := mem.ReadMemory(buf[:], addr); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// innermostFrame returns the return address of the function executing at
// the current PC, the value of the stack pointer after it returns and the
// value of rbp in the caller.
func innermostFrame(regs *Registers, mem MemoryReadWriter, r FrameResolver) (ret, cfa, callerBP uint64, err error) {
	state := stateFramed
	if loc := r.PCToLocation(regs.PC()); loc.Fn != nil {
		state = analyzeFrame(mem, loc.Fn.Entry, regs.PC())
	}
	switch state {
	case stateBeforePush:
		ret, err = readUint64(mem, regs.SP())
		return ret, regs.SP() + 8, regs.BP(), err
	case stateAfterPush:
		ret, err = readUint64(mem, regs.SP()+8)
		return ret, regs.SP() + 16, regs.BP(), err
	}
	if regs.BP() == 0 {
		return 0, 0, 0, nil
	}
	ret, err = readUint64(mem, regs.BP()+8)
	if err != nil {
		return 0, 0, 0, err
	}
	callerBP, err = readUint64(mem, regs.BP())
	return ret, regs.BP() + 16, callerBP, err
}

// Stacktrace walks the frame pointer chain starting at the current PC and
// returns at most depth frames. If the walk is cut short because the
// limit was reached, memory could not be read or the chain is not
// consistent, a last frame carrying a TruncatedBacktraceError is appended.
func Stacktrace(regs *Registers, mem MemoryReadWriter, r FrameResolver, depth int) []Stackframe {
	if depth <= 0 {
		depth = DefaultMaxBacktraceDepth
	}
	truncated := func(frames []Stackframe, err error) []Stackframe {
		return append(frames, Stackframe{Depth: len(frames), Err: &TruncatedBacktraceError{Depth: len(frames), Err: err}})
	}

	pc := regs.PC()
	frames := []Stackframe{{Depth: 0, PC: pc, Call: r.PCToLocation(pc)}}
	ret, cfa, bp, err := innermostFrame(regs, mem, r)
	frames[0].Ret, frames[0].FrameBase = ret, cfa
	if err != nil {
		return truncated(frames, err)
	}

	for ret != 0 && r.InCode(ret) {
		if len(frames) >= depth {
			return truncated(frames, nil)
		}
		frame := Stackframe{Depth: len(frames), PC: ret, Call: r.PCToLocation(ret - 1)}
		frame.Call.PC = ret
		if bp == 0 {
			frames = append(frames, frame)
			break
		}
		if bp < cfa {
			frames = append(frames, frame)
			return truncated(frames, fmt.Errorf("%w: frame base %#x below %#x", errCorruptFrameChain, bp, cfa))
		}
		nret, err1 := readUint64(mem, bp+8)
		nbp, err2 := readUint64(mem, bp)
		if err1 != nil || err2 != nil {
			frames = append(frames, frame)
			if err1 == nil {
				err1 = err2
			}
			return truncated(frames, err1)
		}
		frame.Ret, frame.FrameBase = nret, bp+16
		frames = append(frames, frame)
		if nbp != 0 && nbp <= bp {
			if nret != 0 && r.InCode(nret) {
				return truncated(frames, fmt.Errorf("%w: frame base %#x not above %#x", errCorruptFrameChain, nbp, bp))
			}
			break
		}
		ret, cfa, bp = nret, bp+16, nbp
	}
	return frames
}
