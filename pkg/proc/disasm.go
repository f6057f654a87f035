package proc

import (
	"bytes"
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/tkyk0317/r-debugger/pkg/bininfo"
)

// AsmInstructionKind classifies instructions that change the control flow.
type AsmInstructionKind uint8

const (
	OtherInstruction AsmInstructionKind = iota
	CallInstruction
	RetInstruction
	JmpInstruction
	HardBreakInstruction
)

// AssemblyFlavour is the assembly syntax to display.
type AssemblyFlavour int

const (
	// GNUFlavour will disassemble using GNU assembly syntax.
	GNUFlavour AssemblyFlavour = iota
	// IntelFlavour will disassemble using Intel assembly syntax.
	IntelFlavour
)

// maxInstructionLength is the maximum length of an x86-64 instruction.
const maxInstructionLength = 15

var endbr64 = []byte{0xf3, 0x0f, 0x1e, 0xfa}

// AsmInstruction represents one assembly instruction.
type AsmInstruction struct {
	Loc bininfo.Location
	// DestLoc is the destination of a call or jump with a static target.
	DestLoc *bininfo.Location
	Bytes   []byte
	// Breakpoint is true if a user breakpoint is set on this instruction.
	Breakpoint bool
	// AtPC is true if this is the instruction the target is stopped on.
	AtPC bool
	Size int
	Kind AsmInstructionKind

	inst *x86asm.Inst
	text string
}

// decodeInstruction decodes the instruction at the start of mem, located
// at address pc.
func decodeInstruction(mem []byte, pc uint64) (AsmInstruction, error) {
	asmInst := AsmInstruction{Loc: bininfo.Location{PC: pc}}
	// older decoders do not know about CET.
	if bytes.HasPrefix(mem, endbr64) {
		asmInst.Size = len(endbr64)
		asmInst.Bytes = mem[:asmInst.Size]
		asmInst.text = "endbr64"
		return asmInst, nil
	}
	inst, err := x86asm.Decode(mem, 64)
	if err != nil {
		asmInst.Size = 1
		if len(mem) > 0 {
			asmInst.Bytes = mem[:1]
		}
		return asmInst, err
	}
	asmInst.Size = inst.Len
	asmInst.Bytes = mem[:inst.Len]
	patchPCRelX86(pc, &inst)
	asmInst.inst = &inst

	switch inst.Op {
	case x86asm.JMP, x86asm.LJMP:
		asmInst.Kind = JmpInstruction
	case x86asm.CALL, x86asm.LCALL:
		asmInst.Kind = CallInstruction
	case x86asm.RET, x86asm.LRET:
		asmInst.Kind = RetInstruction
	case x86asm.INT:
		asmInst.Kind = HardBreakInstruction
	}
	if asmInst.Kind == CallInstruction || asmInst.Kind == JmpInstruction {
		if imm, ok := inst.Args[0].(x86asm.Imm); ok {
			asmInst.DestLoc = &bininfo.Location{PC: uint64(imm)}
		}
	}
	return asmInst, nil
}

// converts PC relative arguments to absolute addresses
func patchPCRelX86(pc uint64, inst *x86asm.Inst) {
	for i := range inst.Args {
		rel, isrel := inst.Args[i].(x86asm.Rel)
		if isrel {
			inst.Args[i] = x86asm.Imm(int64(pc) + int64(rel) + int64(inst.Len))
		}
	}
}

// Text will return the assembly instructions in human readable format
// according to the flavour specified.
func (inst *AsmInstruction) Text(flavour AssemblyFlavour, symLookup func(uint64) (string, uint64)) string {
	if inst.text != "" {
		return inst.text
	}
	if inst.inst == nil {
		return "?"
	}
	if symLookup == nil {
		symLookup = func(uint64) (string, uint64) { return "", 0 }
	}
	if flavour == IntelFlavour {
		return x86asm.IntelSyntax(*inst.inst, inst.Loc.PC, symLookup)
	}
	return x86asm.GNUSyntax(*inst.inst, inst.Loc.PC, symLookup)
}

// IsCall returns true if the instruction is a CALL or LCALL instruction.
func (inst *AsmInstruction) IsCall() bool {
	return inst.Kind == CallInstruction
}

// IsRet returns true if the instruction is a RET or LRET instruction.
func (inst *AsmInstruction) IsRet() bool {
	return inst.Kind == RetInstruction
}

// Disassemble decodes the instructions in [startAddr, endAddr). Memory
// read through mem must already have breakpoints patched out. Undecodable
// bytes produce one byte "?" instructions.
func Disassemble(mem MemoryReadWriter, r FrameResolver, startAddr, endAddr, curPC uint64, bpmap *BreakpointMap) ([]AsmInstruction, error) {
	if endAddr <= startAddr {
		return nil, fmt.Errorf("invalid address range %#x-%#x", startAddr, endAddr)
	}
	buf := make([]byte, endAddr-startAddr+maxInstructionLength)
	n, err := mem.ReadMemory(buf, startAddr)
	if err != nil && n < int(endAddr-startAddr) {
		return nil, err
	}
	buf = buf[:n]

	var insts []AsmInstruction
	for pc := startAddr; pc < endAddr && pc-startAddr < uint64(len(buf)); {
		inst, _ := decodeInstruction(buf[pc-startAddr:], pc)
		if inst.Size == 0 {
			break
		}
		if r != nil {
			inst.Loc = r.PCToLocation(pc)
			if inst.DestLoc != nil {
				dest := r.PCToLocation(inst.DestLoc.PC)
				inst.DestLoc = &dest
			}
		}
		inst.AtPC = pc == curPC
		if bpmap != nil {
			if bp, ok := bpmap.At(pc); ok && bp.Kind == UserBreakpoint {
				inst.Breakpoint = true
			}
		}
		insts = append(insts, inst)
		pc += uint64(inst.Size)
	}
	return insts, nil
}

func readInstruction(mem MemoryReadWriter, pc uint64) (AsmInstruction, error) {
	buf := make([]byte, maxInstructionLength)
	n, err := mem.ReadMemory(buf, pc)
	if n == 0 && err != nil {
		return AsmInstruction{}, err
	}
	return decodeInstruction(buf[:n], pc)
}
