package strace

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/tkyk0317/r-debugger/pkg/proc"
	"github.com/tkyk0317/r-debugger/pkg/proc/linutil"
)

// DefaultMaxStringLen is the number of bytes of a string or buffer printed
// before it is truncated.
const DefaultMaxStringLen = 32

type argKind uint8

const (
	argInt argKind = iota // C int
	argLong
	argUint
	argHex
	argFd
	argDirFd // fd or AT_FDCWD
	argPath  // NUL terminated string, read at entry
	argPathOut
	argBufIn  // length in the argument at index size
	argBufOut // length from the return value
	argOpenFlags
	argOpenMode // only printed when the flags at index size create a file
	argMode
	argProt
	argMmapFlags
	argTimespec
	argSignal
	argPtr
	argClock
	argWhence
)

type retKind uint8

const (
	retInt retKind = iota
	retHex
	// retNone is for syscalls that never return.
	retNone
)

type arg struct {
	kind argKind
	size int
}

type signature struct {
	args []arg
	ret  retKind
}

var (
	aInt       = arg{kind: argInt}
	aLong      = arg{kind: argLong}
	aUint      = arg{kind: argUint}
	aHex       = arg{kind: argHex}
	aFd        = arg{kind: argFd}
	aDirFd     = arg{kind: argDirFd}
	aPath      = arg{kind: argPath}
	aPathOut   = arg{kind: argPathOut}
	aBufOut    = arg{kind: argBufOut}
	aOpenFlags = arg{kind: argOpenFlags}
	aMode      = arg{kind: argMode}
	aProt      = arg{kind: argProt}
	aMmapFlags = arg{kind: argMmapFlags}
	aTimespec  = arg{kind: argTimespec}
	aSignal    = arg{kind: argSignal}
	aPtr       = arg{kind: argPtr}
	aClock     = arg{kind: argClock}
	aWhence    = arg{kind: argWhence}
)

func bufIn(size int) arg { return arg{kind: argBufIn, size: size} }
func openMode(flags int) arg { return arg{kind: argOpenMode, size: flags} }

func sig(ret retKind, args ...arg) signature {
	return signature{args: args, ret: ret}
}

type flagName struct {
	value uint64
	name  string
}

// SyscallEvent is a completed system call.
type SyscallEvent struct {
	Number uint64
	Name   string
	Args   [6]uint64
	// Decoded holds the printed form of each argument.
	Decoded []string
	Ret     uint64
	// Result is the printed return value.
	Result string
	// NoReturn is set when the process ended before the syscall returned.
	NoReturn bool
	// PC is the address of the instruction after the syscall.
	PC uint64

	sig   signature
	known bool
}

// Failed returns true if the syscall returned an errno.
func (ev *SyscallEvent) Failed() bool {
	return !ev.NoReturn && isErrno(ev.Ret)
}

func (ev *SyscallEvent) String() string {
	var args []string
	for _, a := range ev.Decoded {
		if a != "" {
			args = append(args, a)
		}
	}
	return fmt.Sprintf("%s(%s) = %s", ev.Name, strings.Join(args, ", "), ev.Result)
}

// SyscallName returns the name of the syscall numbered nr.
func SyscallName(nr uint64) string {
	if name, ok := syscallNames[nr]; ok {
		return name
	}
	return fmt.Sprintf("syscall_%d", nr)
}

// ParseFilter parses a comma separated list of syscall names.
func ParseFilter(s string) (map[string]bool, error) {
	known := make(map[string]bool, len(syscallNames))
	for _, name := range syscallNames {
		known[name] = true
	}
	filter := make(map[string]bool)
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !known[name] {
			return nil, fmt.Errorf("unknown syscall %q", name)
		}
		filter[name] = true
	}
	return filter, nil
}

func isErrno(ret uint64) bool {
	v := int64(ret)
	return v >= -4095 && v <= -1
}

func errnoName(e syscall.Errno) string {
	if name := unix.ErrnoName(e); name != "" {
		return name
	}
	return fmt.Sprintf("errno %d", int(e))
}

func formatReturn(kind retKind, ret uint64) string {
	if kind == retNone {
		return "?"
	}
	if isErrno(ret) {
		e := syscall.Errno(-int64(ret))
		return fmt.Sprintf("-1 %s (%s)", errnoName(e), e.Error())
	}
	if kind == retHex {
		return fmt.Sprintf("%#x", ret)
	}
	return strconv.FormatInt(int64(ret), 10)
}

// decoder formats syscall arguments, reading the memory of the target.
type decoder struct {
	mem    proc.MemoryReadWriter
	maxStr int
}

// enter builds the event for a syscall entry stop and decodes the
// arguments that are only valid before the kernel runs the call.
func (d *decoder) enter(regs *proc.Registers) *SyscallEvent {
	ev := &SyscallEvent{
		Number: regs.OrigRax,
		Name:   SyscallName(regs.OrigRax),
		Args:   [6]uint64{regs.Rdi, regs.Rsi, regs.Rdx, regs.R10, regs.R8, regs.R9},
		PC:     regs.Rip,
	}
	ev.sig, ev.known = signatures[ev.Number]
	if !ev.known {
		ev.Decoded = make([]string, len(ev.Args))
		for i, v := range ev.Args {
			ev.Decoded[i] = fmt.Sprintf("%#x", v)
		}
		return ev
	}
	ev.Decoded = make([]string, len(ev.sig.args))
	for i, a := range ev.sig.args {
		if a.kind == argBufOut || a.kind == argPathOut {
			continue
		}
		ev.Decoded[i] = d.format(a, ev.Args[i], ev.Args)
	}
	return ev
}

// exit completes ev with the return value and the output buffers.
func (d *decoder) exit(ev *SyscallEvent, regs *proc.Registers) {
	ev.Ret = regs.Rax
	ret := retInt
	if ev.known {
		ret = ev.sig.ret
		if ret == retNone {
			ret = retInt
		}
		for i, a := range ev.sig.args {
			switch a.kind {
			case argBufOut:
				if isErrno(ev.Ret) {
					ev.Decoded[i] = formatPtr(ev.Args[i])
				} else {
					ev.Decoded[i] = d.buffer(ev.Args[i], int(ev.Ret))
				}
			case argPathOut:
				if isErrno(ev.Ret) {
					ev.Decoded[i] = formatPtr(ev.Args[i])
				} else {
					ev.Decoded[i] = d.cstring(ev.Args[i])
				}
			}
		}
	}
	ev.Result = formatReturn(ret, ev.Ret)
}

// noReturn completes an event whose syscall never returned.
func (ev *SyscallEvent) noReturn() {
	ev.NoReturn = true
	ev.Result = "?"
	for i, a := range ev.Decoded {
		if a == "" && ev.known && (ev.sig.args[i].kind == argBufOut || ev.sig.args[i].kind == argPathOut) {
			ev.Decoded[i] = formatPtr(ev.Args[i])
		}
	}
}

func (d *decoder) format(a arg, v uint64, args [6]uint64) string {
	switch a.kind {
	case argInt, argFd:
		return strconv.Itoa(int(int32(v)))
	case argLong:
		return strconv.FormatInt(int64(v), 10)
	case argUint:
		return strconv.FormatUint(v, 10)
	case argHex:
		return fmt.Sprintf("%#x", v)
	case argDirFd:
		if int32(v) == unix.AT_FDCWD {
			return "AT_FDCWD"
		}
		return strconv.Itoa(int(int32(v)))
	case argPath:
		return d.cstring(v)
	case argBufIn:
		return d.buffer(v, int(args[a.size]))
	case argOpenFlags:
		return formatOpenFlags(v)
	case argOpenMode:
		if args[a.size]&openCreateFlags == 0 {
			return ""
		}
		return fmt.Sprintf("%#o", v)
	case argMode:
		return fmt.Sprintf("%#o", v)
	case argProt:
		if v == 0 {
			return "PROT_NONE"
		}
		return formatFlags(v, protNames)
	case argMmapFlags:
		return formatFlags(v, mmapFlagNames)
	case argTimespec:
		return d.timespec(v)
	case argSignal:
		if v == 0 {
			return "0"
		}
		return linutil.SignalName(syscall.Signal(v))
	case argClock:
		if name, ok := clockNames[v]; ok {
			return name
		}
		return strconv.FormatUint(v, 10)
	case argWhence:
		if name, ok := whenceNames[v]; ok {
			return name
		}
		return strconv.FormatUint(v, 10)
	}
	return formatPtr(v)
}

func formatPtr(v uint64) string {
	if v == 0 {
		return "NULL"
	}
	return fmt.Sprintf("%#x", v)
}

func formatFlags(v uint64, names []flagName) string {
	var parts []string
	for _, f := range names {
		if f.value != 0 && v&f.value == f.value {
			parts = append(parts, f.name)
			v &^= f.value
		}
	}
	if v != 0 {
		parts = append(parts, fmt.Sprintf("%#x", v))
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}

func formatOpenFlags(v uint64) string {
	mode := accessModeNames[v&openAccMode]
	if mode == "" {
		mode = fmt.Sprintf("%#x", v&openAccMode)
	}
	rest := v &^ openAccMode
	if rest == 0 {
		return mode
	}
	return mode + "|" + formatFlags(rest, openFlagNames)
}

const chunkSize = 64

// cstring reads a NUL terminated string of at most maxStr bytes.
func (d *decoder) cstring(addr uint64) string {
	if addr == 0 {
		return "NULL"
	}
	var out []byte
	buf := make([]byte, chunkSize)
	for len(out) <= d.maxStr {
		n, err := d.mem.ReadMemory(buf, addr+uint64(len(out)))
		if i := bytes.IndexByte(buf[:n], 0); i >= 0 {
			out = append(out, buf[:i]...)
			break
		}
		out = append(out, buf[:n]...)
		if err != nil || n == 0 {
			if len(out) == 0 {
				return formatPtr(addr)
			}
			break
		}
	}
	if len(out) > d.maxStr {
		return quote(out[:d.maxStr], true)
	}
	return quote(out, false)
}

// buffer reads n bytes at addr, at most maxStr of them.
func (d *decoder) buffer(addr uint64, n int) string {
	if addr == 0 {
		return "NULL"
	}
	if n <= 0 {
		return `""`
	}
	size := n
	if size > d.maxStr {
		size = d.maxStr
	}
	buf := make([]byte, size)
	read, err := d.mem.ReadMemory(buf, addr)
	if err != nil && read == 0 {
		return formatPtr(addr)
	}
	return quote(buf[:read], n > read)
}

func (d *decoder) timespec(addr uint64) string {
	if addr == 0 {
		return "NULL"
	}
	buf := make([]byte, 16)
	if _, err := d.mem.ReadMemory(buf, addr); err != nil {
		return formatPtr(addr)
	}
	sec := int64(binary.LittleEndian.Uint64(buf))
	nsec := int64(binary.LittleEndian.Uint64(buf[8:]))
	return fmt.Sprintf("{tv_sec=%d, tv_nsec=%d}", sec, nsec)
}

func quote(b []byte, truncated bool) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, c := range b {
		switch c {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			if c >= 0x20 && c < 0x7f {
				sb.WriteByte(c)
			} else {
				fmt.Fprintf(&sb, `\x%02x`, c)
			}
		}
	}
	sb.WriteByte('"')
	if truncated {
		sb.WriteString("...")
	}
	return sb.String()
}
