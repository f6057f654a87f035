package terminal

import (
	"bufio"
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkyk0317/r-debugger/pkg/bininfo"
	"github.com/tkyk0317/r-debugger/pkg/config"
	"github.com/tkyk0317/r-debugger/pkg/proc"
	"github.com/tkyk0317/r-debugger/pkg/proc/linutil"
	protest "github.com/tkyk0317/r-debugger/pkg/proc/test"
)

const progSource = `#include <stdio.h>

int main(void) {
	int i;
	for (i = 0; i < 3; i++)
		count();
	return 0;
}

void count(void) {
	g_counter++;
}
`

// progBinInfo describes a program whose main function spans
// [0x1000, 0x1020) and count [0x1020, 0x1030).
func progBinInfo(source string) *bininfo.BinaryInfo {
	st := bininfo.NewSymbolTable([]*bininfo.Function{
		{Name: "main", ShortName: "main", Entry: 0x1000, End: 0x1020, File: source, Line: 3},
		{Name: "count", ShortName: "count", Entry: 0x1020, End: 0x1030, File: source, Line: 10},
	}, []*bininfo.Variable{{Name: "g_counter", Addr: 0x4000, Size: 4}})
	lt := bininfo.NewLineTable([]bininfo.LineEntry{
		{Address: 0x1000, File: source, Line: 3, IsStmt: true},
		{Address: 0x1004, File: source, Line: 4, IsStmt: true},
		{Address: 0x1008, File: source, Line: 5, IsStmt: true},
		{Address: 0x1010, File: source, Line: 7, IsStmt: true},
		{Address: 0x1020, File: source, Line: 10, IsStmt: true},
		{Address: 0x1030, EndSequence: true},
	})
	sections := []bininfo.Section{
		{Name: ".text", Addr: 0x1000, Offset: 0x1000, Size: 0x30, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Type: elf.SHT_PROGBITS},
		{Name: ".data", Addr: 0x4000, Offset: 0x3000, Size: 0x8, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Type: elf.SHT_PROGBITS},
	}
	return bininfo.New(st, lt, sections)
}

// progProcess runs the loop of main, [0x1000, 0x1010), three times and
// then exits at 0x1010.
func progProcess(pid int) *protest.FakeProcess {
	mem := protest.FakeMemory{}
	mem.Fill(0x1000, 0x40, 0x90)
	mem.Fill(0x4000, 8, 0)
	mem[0x4000] = 7
	mem.PutUint64(0x7000, 0)

	var trace []protest.FakeStep
	for i := 0; i < 3; i++ {
		for pc := uint64(0x1000); pc < 0x1010; pc++ {
			trace = append(trace, protest.FakeStep{PC: pc, SP: 0x7000})
		}
	}
	trace = append(trace, protest.FakeStep{PC: 0x1010, SP: 0x7000})
	p := protest.NewFakeProcess(pid, mem, trace)
	p.Mappings = []linutil.Mapping{{Start: 0x1000, End: 0x2000, Perms: "r-xp", Path: "/tmp/prog"}}
	return p
}

type FakeTerminal struct {
	*Term
	t      testing.TB
	out    *bytes.Buffer
	proc   *protest.FakeProcess
	procs  []*protest.FakeProcess
	source string
}

func writeSource(t testing.TB) string {
	source := filepath.Join(t.TempDir(), "prog.c")
	require.NoError(t, os.WriteFile(source, []byte(progSource), 0600))
	return source
}

func newFakeTerminal(t testing.TB, in string) *FakeTerminal {
	ft := &FakeTerminal{t: t, out: new(bytes.Buffer), source: writeSource(t)}
	ft.proc = progProcess(100)
	launch := func(cmd []string, wd string) (proc.Process, error) {
		p := progProcess(101 + len(ft.procs))
		ft.procs = append(ft.procs, p)
		return p, nil
	}
	tgt := proc.NewTarget(ft.proc, progBinInfo(ft.source), launch, []string{"prog"}, "")
	ft.Term = newTerm(tgt, &config.Config{}, nil, bufio.NewScanner(strings.NewReader(in)), ft.out, ft.out, true)
	return ft
}

func (ft *FakeTerminal) Exec(cmdstr string) (outstr string, err error) {
	ft.out.Reset()
	err = ft.cmds.Call(cmdstr, ft.Term)
	return ft.out.String(), err
}

func (ft *FakeTerminal) MustExec(cmdstr string) string {
	outstr, err := ft.Exec(cmdstr)
	if err != nil {
		ft.t.Errorf("output of %q: %q", cmdstr, outstr)
		ft.t.Fatalf("Error executing <%s>: %v", cmdstr, err)
	}
	return outstr
}

func (ft *FakeTerminal) AssertExec(cmdstr, tgt string) {
	out := ft.MustExec(cmdstr)
	if out != tgt {
		ft.t.Fatalf("Error executing %q, expected %q got %q", cmdstr, tgt, out)
	}
}

func (ft *FakeTerminal) AssertExecError(cmdstr, tgterr string) {
	_, err := ft.Exec(cmdstr)
	if err == nil {
		ft.t.Fatalf("Expected error executing %q", cmdstr)
	}
	if err.Error() != tgterr {
		ft.t.Fatalf("Expected error %q executing %q, got error %q", tgterr, cmdstr, err.Error())
	}
}

func TestBreakContinueUntilExit(t *testing.T) {
	ft := newFakeTerminal(t, "")
	src := ft.formatPath(ft.source)

	ft.AssertExec("break prog.c:5", fmt.Sprintf("Breakpoint 1 set at 0x1008 for main() %s:5\n", src))
	for i := 1; i <= 3; i++ {
		out := ft.MustExec("continue")
		assert.True(t, strings.HasPrefix(out, fmt.Sprintf("> [Breakpoint 1] main %s:5 (hits: %d) (PC: 0x1008)\n", src, i)), "hit %d: %q", i, out)
		assert.Contains(t, out, "=>   5:\t\tfor (i = 0; i < 3; i++)\n")
		assert.Contains(t, out, "     1:\t#include <stdio.h>\n")
		assert.NotContains(t, out, "  11:")
	}
	ft.AssertExec("continue", "Process 100 has exited with status 0\n")

	_, err := ft.Exec("continue")
	var pe proc.ErrProcessExited
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 100, pe.Pid)
}

func TestBreakpointsAndClear(t *testing.T) {
	ft := newFakeTerminal(t, "")
	src := ft.formatPath(ft.source)

	ft.MustExec("break prog.c:5")
	ft.AssertExec("b count", fmt.Sprintf("Breakpoint 2 set at 0x1020 for count() %s:10\n", src))
	ft.AssertExec("breakpoints", fmt.Sprintf("Breakpoint 1 at 0x1008 for main() %s:5 (0)\nBreakpoint 2 at 0x1020 for count() %s:10 (0)\n", src, src))
	assert.Equal(t, byte(0xCC), ft.proc.FakeMemory[0x1008])

	ft.AssertExec("clear 1", fmt.Sprintf("Breakpoint 1 cleared at 0x1008 for main() %s:5\n", src))
	assert.Equal(t, byte(0x90), ft.proc.FakeMemory[0x1008])
	ft.AssertExec("delete count", fmt.Sprintf("Breakpoint 2 cleared at 0x1020 for count() %s:10\n", src))

	_, err := ft.Exec("clear 7")
	var ube *proc.UnknownBreakpointError
	require.True(t, errors.As(err, &ube))
	ft.AssertExecError("clear", "not enough arguments")
	ft.AssertExecError("break", "not enough arguments")

	ft.MustExec("break *0x1004")
	ft.MustExec("break prog.c:5")
	ft.AssertExec("clearall prog.c:5", fmt.Sprintf("Breakpoint 4 cleared at 0x1008 for main() %s:5\n", src))
	ft.AssertExec("bl", fmt.Sprintf("Breakpoint 3 at 0x1004 for main() %s:4 (0)\n", src))
	ft.MustExec("clearall")
	ft.AssertExec("breakpoints", "")
	assert.Equal(t, byte(0x90), ft.proc.FakeMemory[0x1004])
}

func TestBreakUnknownSymbol(t *testing.T) {
	ft := newFakeTerminal(t, "")
	_, err := ft.Exec("break nosuchfunction")
	var snf *bininfo.SymbolNotFoundError
	require.True(t, errors.As(err, &snf))
	_, err = ft.Exec("break prog.c:0")
	require.Error(t, err)
	assert.Empty(t, ft.target.Breakpoints.List())
}

func TestStepCommands(t *testing.T) {
	ft := newFakeTerminal(t, "")
	src := ft.formatPath(ft.source)

	out := ft.MustExec("stepi")
	assert.True(t, strings.HasPrefix(out, fmt.Sprintf("> stopped (single-step) main %s:3 (PC: 0x1001)\n", src)), out)
	assert.Contains(t, out, "=>   3:\tint main(void) {\n")

	out = ft.MustExec("next")
	assert.True(t, strings.HasPrefix(out, fmt.Sprintf("> stopped (single-step) main %s:4 (PC: 0x1004)\n", src)), out)

	ft.MustExec("break prog.c:5")
	out = ft.MustExec("s")
	assert.True(t, strings.HasPrefix(out, fmt.Sprintf("> [Breakpoint 1] main %s:5 (hits: 1) (PC: 0x1008)\n", src)), out)
}

func TestSignalStop(t *testing.T) {
	ft := newFakeTerminal(t, "")
	ft.MustExec("set reg rip 0x2000")
	ft.AssertExec("continue", "> stopped (signal SIGSEGV) ?? (PC: 0x2000)\n")
}

func TestPrintAndSetVar(t *testing.T) {
	ft := newFakeTerminal(t, "")

	ft.AssertExec("print g_counter", "g_counter = 7 (0x7)\n")
	ft.AssertExec("set var g_counter 0x10", "")
	ft.AssertExec("p g_counter", "g_counter = 16 (0x10)\n")
	ft.MustExec("set var g_counter -1")
	ft.AssertExec("p g_counter", "g_counter = -1 (0xffffffff)\n")
	assert.Equal(t, byte(0), ft.proc.FakeMemory[0x4004], "set wrote past the variable")
	ft.AssertExec("print *0x4000", "*0x4000 = 4294967295 (0xffffffff)\n")

	_, err := ft.Exec("print nosuch")
	var snf *bininfo.SymbolNotFoundError
	require.True(t, errors.As(err, &snf))
	ft.AssertExecError("print", "not enough arguments")
	_, err = ft.Exec("set var g_counter")
	require.Error(t, err)
	_, err = ft.Exec("set mem g_counter 1")
	require.Error(t, err)
}

func TestRegisters(t *testing.T) {
	ft := newFakeTerminal(t, "")

	out := ft.MustExec("regs")
	assert.True(t, strings.HasPrefix(out, "     rip = 0x0000000000001000\n     rsp = 0x0000000000007000\n"), out)
	assert.Contains(t, out, "  eflags = 0x0000000000000000\t[]\n")
	assert.Equal(t, 27, strings.Count(out, "\n"))

	ft.AssertExec("set reg rax 42", "")
	ft.AssertExec("registers rax", "rax = 0x000000000000002a\n")
	assert.Equal(t, out, strings.Replace(ft.MustExec("info regs"), "0x000000000000002a", "0x0000000000000000", 1))

	_, err := ft.Exec("set reg xmm0 1")
	var ure *proc.UnknownRegisterError
	require.True(t, errors.As(err, &ure))
	_, err = ft.Exec("regs xmm0")
	require.True(t, errors.As(err, &ure))
}

func TestExamineMemory(t *testing.T) {
	ft := newFakeTerminal(t, "")

	ft.AssertExec("x g_counter", "0x4000:   0x07   0x00   0x00   0x00   \n")
	ft.AssertExec("examinemem 0x4000 2", "0x4000:   0x07   0x00   \n")
	ft.AssertExec("x -fmt dec -size 4 g_counter", "0x4000:   000000000007   \n")
	ft.AssertExec("x -count 1 -fmt bin 0x4000", "0x4000:   00000111   \n")

	ft.AssertExecError("x", "no address specified")
	ft.AssertExecError("x -count 2000 0x4000", "read memory range (count*size) must be less than or equal to 1000 bytes")
	ft.AssertExecError("x -fmt float 0x4000", `"float" is not a valid format`)
	ft.AssertExecError("x -size 9 0x4000", "size must be a positive integer (<=8)")
	ft.AssertExecError("x 0x4000 2 3", "too many arguments to examinemem")
	_, err := ft.Exec("x 0x9000")
	var pe *proc.PtraceError
	require.True(t, errors.As(err, &pe))
}

func TestBacktrace(t *testing.T) {
	ft := newFakeTerminal(t, "")
	src := ft.formatPath(ft.source)

	ft.AssertExec("bt", fmt.Sprintf("0  0x0000000000001000 in main\n   at %s:3\n", src))
	ft.AssertExecError("stack 0", "depth must be a positive number")
	ft.AssertExecError("backtrace x", "depth must be a positive number")
}

func TestPrintStackTruncated(t *testing.T) {
	ft := newFakeTerminal(t, "")
	src := ft.formatPath(ft.source)
	main := &bininfo.Function{Name: "main"}
	stack := []proc.Stackframe{
		{Depth: 0, PC: 0x1008, Call: bininfo.Location{PC: 0x1008, Fn: main, File: ft.source, Line: 5}},
		{Depth: 1, PC: 0x2000},
		{Depth: 2, Err: &proc.TruncatedBacktraceError{Depth: 2}},
	}
	var buf bytes.Buffer
	printStack(ft.Term, &buf, stack, "")
	assert.Equal(t, fmt.Sprintf("0  0x0000000000001008 in main\n   at %s:5\n1  0x0000000000002000 in ??\n(truncated)\n", src), buf.String())

	buf.Reset()
	stack[2].Err = &proc.TruncatedBacktraceError{Depth: 2, Err: errors.New("corrupt frame")}
	printStack(ft.Term, &buf, stack[1:], "")
	assert.Equal(t, "0  0x0000000000002000 in ??\n   error: backtrace truncated at depth 2: corrupt frame\n", buf.String())
}

func TestDisassemble(t *testing.T) {
	ft := newFakeTerminal(t, "")
	ft.MustExec("break *0x1004")

	out := ft.MustExec("disassemble")
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 33)
	assert.Equal(t, "TEXT main "+ft.source, lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "=>"), lines[1])
	assert.Contains(t, lines[1], "prog.c:3")
	assert.Contains(t, lines[1], "nop")
	assert.Contains(t, lines[5], "0x1004*")

	out = ft.MustExec("disass -a 0x1020 0x1022")
	assert.Equal(t, 3, strings.Count(out, "\n"))
	assert.True(t, strings.HasPrefix(out, "TEXT count "), out)
	assert.True(t, strings.HasPrefix(ft.MustExec("disassemble count"), out))
	ft.AssertExecError("disassemble -x 1", disasmUsageError.Error())
	ft.AssertExecError("disassemble -a 0x1000", disasmUsageError.Error())

	ft.MustExec("config disassemble-flavor gnu")
	assert.Contains(t, ft.MustExec("disassemble -l main"), "nop")
}

func TestListCommand(t *testing.T) {
	ft := newFakeTerminal(t, "")
	src := ft.formatPath(ft.source)

	out := ft.MustExec("list prog.c:5")
	assert.True(t, strings.HasPrefix(out, fmt.Sprintf("Showing %s:5 (PC: 0x1008)\n", src)), out)
	assert.Contains(t, out, "     5:\t\tfor (i = 0; i < 3; i++)\n")
	assert.NotContains(t, out, "=>")

	out = ft.MustExec("list")
	assert.Contains(t, out, "=>   3:\tint main(void) {\n")

	ft.MustExec("config source-list-line-count 0")
	ft.AssertExec("ls", "=>   3:\tint main(void) {\n")

	_, err := ft.Exec("list *0x2000")
	require.Error(t, err)
}

func TestInfoCommand(t *testing.T) {
	ft := newFakeTerminal(t, "")

	out := ft.MustExec("info sections")
	assert.Contains(t, out, "Idx")
	assert.Contains(t, out, ".text")
	assert.Contains(t, out, "0x00000000001000")
	assert.Contains(t, out, "SHF_ALLOC+SHF_EXECINSTR")
	assert.Equal(t, 3, strings.Count(out, "\n"))

	ft.AssertExec("info maps", "0x1000-0x2000 r-xp 00000000 /tmp/prog\n")
	ft.MustExec("break main")
	ft.AssertExec("info breakpoints", ft.MustExec("breakpoints"))

	ft.AssertExecError("info", "not enough arguments: info regs|sections|maps|breakpoints")
	ft.AssertExecError("info threads", `unknown info command "threads"`)
}

func TestFuncsCommand(t *testing.T) {
	ft := newFakeTerminal(t, "")
	ft.AssertExec("funcs", "count\nmain\n")
	ft.AssertExec("funcs ^ma", "main\n")
	_, err := ft.Exec("funcs (")
	require.Error(t, err)
}

func TestRestartCommand(t *testing.T) {
	ft := newFakeTerminal(t, "")
	ft.MustExec("break prog.c:5")

	ft.AssertExec("restart", "Process restarted with PID 101\n")
	assert.True(t, ft.proc.Killed())
	require.Len(t, ft.procs, 1)
	assert.Equal(t, byte(0xCC), ft.procs[0].FakeMemory[0x1008])
	assert.Equal(t, []string{"prog"}, ft.target.Cmd())

	ft.AssertExec("r -noargs", "Process restarted with PID 102\n")
	ft.AssertExec("restart a 'b c'", "Process restarted with PID 103\n")
	assert.Equal(t, []string{"prog", "a", "b c"}, ft.target.Cmd())

	ft.AssertExecError("restart -noargs x", "too many arguments to restart")
	_, err := ft.Exec("restart `ls`")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Backtick not supported")
}

func TestHelpAndUnknownCommand(t *testing.T) {
	ft := newFakeTerminal(t, "")

	out := ft.MustExec("help")
	assert.True(t, strings.HasPrefix(out, "The following commands are available:\n"), out)
	for _, cgd := range commandGroupDescriptions {
		assert.Contains(t, out, "\n"+cgd.description+":\n")
	}
	assert.Contains(t, out, "    break (alias: b) ")
	assert.Contains(t, out, "    quit (alias: exit | q) ")
	assert.True(t, strings.HasSuffix(out, "Type help followed by a command for full documentation.\n"))

	out = ft.MustExec("help x")
	assert.True(t, strings.HasPrefix(out, "Examine raw memory at the given address.\n"), out)

	ft.AssertExecError("help nosuch", noCmdError.Error())
	ft.AssertExecError("nosuch", noCmdError.Error())
	ft.AssertExec("", "")

	_, err := ft.Exec("quit")
	assert.Equal(t, ExitRequestError{}, err)
	assert.False(t, ft.proc.Killed(), "a command killed the target")
}

func TestConfigCommand(t *testing.T) {
	ft := newFakeTerminal(t, "")

	ft.MustExec("config max-backtrace-depth 3")
	assert.Equal(t, 3, ft.conf.GetMaxBacktraceDepth())
	ft.MustExec("config show-pc true")
	assert.True(t, ft.conf.ShowPC)

	out := ft.MustExec("config -list")
	assert.Regexp(t, `(?m)^max-backtrace-depth +3$`, out)
	assert.Regexp(t, `(?m)^max-string-len +<not defined>$`, out)

	ft.AssertExecError("config", `wrong number of arguments to "config"`)
	ft.AssertExecError("config nosuch 1", `"nosuch" is not a configuration parameter`)
	ft.AssertExecError("config max-string-len x", `argument to "max-string-len" must be a number`)
	ft.AssertExecError("config show-pc maybe", `argument to "show-pc" must be true or false`)
	ft.AssertExecError("config source-list-line-color 40", `argument to "source-list-line-color" must be an ANSI color code (30-37, 90-97)`)
	ft.AssertExecError("config disassemble-flavor att", `argument to "disassemble-flavor" must be intel or gnu`)
	ft.MustExec("config disassemble-flavor gnu")
	assert.Equal(t, "gnu", ft.conf.GetDisassembleFlavor())
	ft.MustExec("config source-list-line-color 92")
	assert.Equal(t, 92, ft.conf.SourceListLineColor)

	ft.MustExec("config alias continue go")
	assert.Equal(t, []string{"go"}, ft.conf.Aliases["continue"])
	ft.AssertExec("go", "Process 100 has exited with status 0\n")
	head, completions, _ := ft.complete("g", 1)
	assert.Equal(t, "", head)
	assert.Equal(t, []string{"go"}, completions)

	ft.MustExec("config alias go")
	assert.Empty(t, ft.conf.Aliases["continue"])
	ft.AssertExecError("go", noCmdError.Error())

	ft.AssertExecError("config alias nosuch x", `unknown command "nosuch"`)
}

func TestMergeAliasesFromConfig(t *testing.T) {
	source := writeSource(t)
	tgt := proc.NewTarget(progProcess(100), progBinInfo(source), nil, []string{"prog"}, "")
	var out bytes.Buffer
	term := newTerm(tgt, &config.Config{Aliases: map[string][]string{"backtrace": {"where"}}}, nil, nil, &out, &out, true)
	require.NoError(t, term.cmds.Call("where", term))
	assert.True(t, strings.HasPrefix(out.String(), "0  0x0000000000001000 in main\n"), out.String())
}

func TestComplete(t *testing.T) {
	ft := newFakeTerminal(t, "")

	head, completions, tail := ft.complete("br", 2)
	assert.Equal(t, "", head)
	assert.Equal(t, []string{"break", "breakpoints"}, completions)
	assert.Equal(t, "", tail)

	head, completions, _ = ft.complete("b ma", 4)
	assert.Equal(t, "b ", head)
	assert.Equal(t, []string{"main"}, completions)

	head, completions, tail = ft.complete("disassemble c rest", 13)
	assert.Equal(t, "disassemble ", head)
	assert.Equal(t, []string{"count"}, completions)
	assert.Equal(t, " rest", tail)

	_, completions, _ = ft.complete("x ma", 4)
	assert.Empty(t, completions)
}

func TestFormatPath(t *testing.T) {
	ft := newFakeTerminal(t, "")
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, "."+string(filepath.Separator)+"prog.c", ft.formatPath(filepath.Join(wd, "prog.c")))
	assert.Equal(t, "/nonexistent/prog.c", ft.formatPath("/nonexistent/prog.c"))
	assert.Equal(t, "prog.c", ft.formatPath("prog.c"))
}
