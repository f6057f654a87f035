package proc_test

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkyk0317/r-debugger/pkg/bininfo"
	"github.com/tkyk0317/r-debugger/pkg/proc"
	"github.com/tkyk0317/r-debugger/pkg/proc/linutil"
	protest "github.com/tkyk0317/r-debugger/pkg/proc/test"
)

// loopTrace returns the trace of a loop that executes the instructions in
// [start, end) n times and then one more instruction at exit.
func loopTrace(start, end uint64, n int, exit uint64) []protest.FakeStep {
	var trace []protest.FakeStep
	for i := 0; i < n; i++ {
		for pc := start; pc < end; pc++ {
			trace = append(trace, protest.FakeStep{PC: pc, SP: 0x7000})
		}
	}
	return append(trace, protest.FakeStep{PC: exit, SP: 0x7000})
}

func nopMemory(start uint64, n int) protest.FakeMemory {
	mem := protest.FakeMemory{}
	mem.Fill(start, n, 0x90)
	return mem
}

func currentPC(t *testing.T, tgt *proc.Target) uint64 {
	t.Helper()
	regs, err := tgt.Registers()
	require.NoError(t, err)
	return regs.PC()
}

func TestBreakpointSetClear(t *testing.T) {
	mem := nopMemory(0x1000, 16)
	bpmap := proc.NewBreakpointMap()

	bp, err := bpmap.Set(mem, 0x1004, proc.UserBreakpoint)
	require.NoError(t, err)
	assert.Equal(t, 1, bp.ID)
	assert.Equal(t, byte(0xCC), mem[0x1004])
	assert.Equal(t, []byte{0x90}, bp.OriginalData)
	assert.Equal(t, proc.BreakpointInstalled, bp.State)

	again, err := bpmap.Set(mem, 0x1004, proc.UserBreakpoint)
	require.NoError(t, err)
	assert.Same(t, bp, again)
	assert.Equal(t, []byte{0x90}, again.OriginalData, "original data overwritten by the trap")
	require.NoError(t, bpmap.Verify(mem))

	cleared, err := bpmap.Clear(mem, 0x1004)
	require.NoError(t, err)
	assert.Same(t, bp, cleared)
	assert.Equal(t, byte(0x90), mem[0x1004])

	_, err = bpmap.Clear(mem, 0x1004)
	var ube *proc.UnknownBreakpointError
	require.True(t, errors.As(err, &ube))
	_, err = bpmap.ClearByID(mem, 7)
	require.True(t, errors.As(err, &ube))
	assert.Equal(t, 7, ube.ID)

	_, err = bpmap.Set(mem, 0x9000, proc.UserBreakpoint)
	require.Error(t, err)
	assert.Empty(t, bpmap.M)
}

func TestBreakpointPromoteInternal(t *testing.T) {
	mem := nopMemory(0x1000, 16)
	bpmap := proc.NewBreakpointMap()

	internal, err := bpmap.Set(mem, 0x1008, proc.InternalBreakpoint)
	require.NoError(t, err)
	assert.Equal(t, 0, internal.ID)
	assert.False(t, bpmap.HasUser())
	assert.Empty(t, bpmap.List())

	user, err := bpmap.Set(mem, 0x1008, proc.UserBreakpoint)
	require.NoError(t, err)
	assert.Same(t, internal, user)
	assert.Equal(t, 1, user.ID)
	assert.Equal(t, proc.UserBreakpoint, user.Kind)
	assert.True(t, bpmap.HasUser())

	_, err = bpmap.Set(mem, 0x1002, proc.InternalBreakpoint)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x1002, 0x1008}, bpmap.Installed())
	require.NoError(t, bpmap.ClearInternal(mem))
	assert.Equal(t, []uint64{0x1008}, bpmap.Installed())
	assert.Equal(t, byte(0x90), mem[0x1002])

	require.NoError(t, bpmap.ClearAll(mem))
	assert.Empty(t, bpmap.M)
	assert.Equal(t, byte(0x90), mem[0x1008])
}

func TestContinueHitsBreakpointEveryIteration(t *testing.T) {
	p := protest.NewFakeProcess(42, nopMemory(0x1000, 32), loopTrace(0x1000, 0x1004, 10, 0x1010))
	p.ExitCode = 3
	tgt := proc.NewTarget(p, nil, nil, []string{"prog"}, "")

	bp, err := tgt.SetBreakpoint(0x1002)
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		ev, err := tgt.Continue()
		require.NoError(t, err)
		require.Equal(t, proc.StopBreakpoint, ev.Reason)
		assert.Same(t, bp, ev.Breakpoint)
		assert.Equal(t, uint64(0x1002), currentPC(t, tgt), "pc not rewound")
		assert.Equal(t, uint64(i), bp.TotalHitCount)
		require.NoError(t, tgt.Breakpoints.Verify(p))
	}

	ev, err := tgt.Continue()
	require.NoError(t, err)
	require.True(t, ev.Exited())
	assert.Equal(t, 3, ev.Exit.Code)
	assert.Equal(t, 10, p.Count(0x1002), "instruction under breakpoint not executed exactly once per iteration")
	assert.Equal(t, 10, p.Count(0x1003))

	status, exited := tgt.Exited()
	require.True(t, exited)
	assert.Equal(t, 3, status.ShellCode())

	_, err = tgt.Continue()
	var pe proc.ErrProcessExited
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 42, pe.Pid)
	_, err = tgt.Registers()
	require.True(t, errors.As(err, &pe))

	// breakpoint records survive the exit and can still be cleared.
	_, err = tgt.ClearBreakpointByID(bp.ID)
	require.NoError(t, err)
}

func TestContinueFromBreakpointAtCurrentPC(t *testing.T) {
	p := protest.NewFakeProcess(1, nopMemory(0x1000, 16), loopTrace(0x1000, 0x1004, 1, 0x1004))
	tgt := proc.NewTarget(p, nil, nil, []string{"prog"}, "")
	bp, err := tgt.SetBreakpoint(0x1000)
	require.NoError(t, err)

	ev, err := tgt.Continue()
	require.NoError(t, err)
	require.True(t, ev.Exited())
	assert.Equal(t, uint64(0), bp.TotalHitCount)
	assert.Equal(t, 1, p.Count(0x1000))
}

func TestStepInstructionOverBreakpoint(t *testing.T) {
	p := protest.NewFakeProcess(1, nopMemory(0x1000, 16), loopTrace(0x1000, 0x1008, 1, 0x1008))
	tgt := proc.NewTarget(p, nil, nil, []string{"prog"}, "")
	_, err := tgt.SetBreakpoint(0x1000)
	require.NoError(t, err)

	ev, err := tgt.StepInstruction()
	require.NoError(t, err)
	assert.Equal(t, proc.StopSingleStep, ev.Reason)
	assert.Equal(t, uint64(0x1001), currentPC(t, tgt))
	assert.Equal(t, byte(0xCC), p.FakeMemory[0x1000])
	assert.Equal(t, 1, p.Count(0x1000))

	ev, err = tgt.StepInstruction()
	require.NoError(t, err)
	assert.Equal(t, proc.StopSingleStep, ev.Reason)
	assert.Equal(t, uint64(0x1002), currentPC(t, tgt))
}

func TestHardcodedTrapIsASignal(t *testing.T) {
	mem := nopMemory(0x1000, 16)
	mem[0x1002] = 0xCC
	p := protest.NewFakeProcess(1, mem, loopTrace(0x1000, 0x1008, 1, 0x1008))
	tgt := proc.NewTarget(p, nil, nil, []string{"prog"}, "")

	ev, err := tgt.Continue()
	require.NoError(t, err)
	assert.Equal(t, proc.StopSignal, ev.Reason)
	assert.Equal(t, syscall.SIGTRAP, ev.Signal)
	assert.Nil(t, ev.Breakpoint)
	assert.Equal(t, uint64(0x1003), currentPC(t, tgt))

	ev, err = tgt.Continue()
	require.NoError(t, err)
	assert.True(t, ev.Exited())
}

func TestFatalErrorDuringStepOver(t *testing.T) {
	p := protest.NewFakeProcess(1, nopMemory(0x1000, 16), loopTrace(0x1000, 0x1004, 2, 0x1008))
	tgt := proc.NewTarget(p, nil, nil, []string{"prog"}, "")
	_, err := tgt.SetBreakpoint(0x1002)
	require.NoError(t, err)
	_, err = tgt.SetBreakpoint(0x1003)
	require.NoError(t, err)

	ev, err := tgt.Continue()
	require.NoError(t, err)
	require.Equal(t, proc.StopBreakpoint, ev.Reason)

	boom := errors.New("boom")
	p.FailSingleStep = boom
	_, err = tgt.Continue()
	var fe *proc.FatalError
	require.True(t, errors.As(err, &fe))
	assert.ErrorIs(t, err, boom)

	assert.True(t, p.Killed())
	for addr := uint64(0x1000); addr < 0x1010; addr++ {
		assert.Equal(t, byte(0x90), p.FakeMemory[addr], "trap left at %#x", addr)
	}
	_, exited := tgt.Exited()
	assert.True(t, exited)
}

func TestMemoryAccessHidesBreakpoints(t *testing.T) {
	p := protest.NewFakeProcess(1, nopMemory(0x1000, 16), loopTrace(0x1000, 0x1008, 1, 0x1008))
	tgt := proc.NewTarget(p, nil, nil, []string{"prog"}, "")
	bp, err := tgt.SetBreakpoint(0x1004)
	require.NoError(t, err)

	buf := make([]byte, 8)
	n, err := tgt.ReadMemory(buf, 0x1000)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, []byte{0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90}, buf)

	_, err = tgt.WriteMemory(0x1003, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, bp.OriginalData)
	assert.Equal(t, byte(1), p.FakeMemory[0x1003])
	assert.Equal(t, byte(0xCC), p.FakeMemory[0x1004])
	assert.Equal(t, byte(3), p.FakeMemory[0x1005])
	require.NoError(t, tgt.Breakpoints.Verify(p))

	_, err = tgt.ClearBreakpoint(0x1004)
	require.NoError(t, err)
	assert.Equal(t, byte(2), p.FakeMemory[0x1004])

	_, err = tgt.ClearBreakpoint(0x1004)
	var ube *proc.UnknownBreakpointError
	assert.True(t, errors.As(err, &ube))
}

func TestSetRegister(t *testing.T) {
	p := protest.NewFakeProcess(1, nopMemory(0x1000, 16), loopTrace(0x1000, 0x1008, 1, 0x1008))
	tgt := proc.NewTarget(p, nil, nil, []string{"prog"}, "")

	require.NoError(t, tgt.SetRegister("rax", 0xdead))
	regs, err := tgt.Registers()
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdead), regs.Rax)

	err = tgt.SetRegister("xmm0", 1)
	var ure *proc.UnknownRegisterError
	assert.True(t, errors.As(err, &ure))
}

const pieBias = 0x555555554000

func pieBinInfo() *bininfo.BinaryInfo {
	st := bininfo.NewSymbolTable([]*bininfo.Function{
		{Name: "main", ShortName: "main", Entry: 0x1000, End: 0x1010},
	}, []*bininfo.Variable{{Name: "g_counter", Addr: 0x4010, Size: 4}})
	lt := bininfo.NewLineTable([]bininfo.LineEntry{
		{Address: 0x1000, File: "/src/prog.c", Line: 3, IsStmt: true},
		{Address: 0x1004, File: "/src/prog.c", Line: 4, IsStmt: true},
		{Address: 0x1010, EndSequence: true},
	})
	bi := bininfo.New(st, lt, nil)
	bi.PIE = true
	bi.Entry = 0x1000
	return bi
}

func pieProcess(bias uint64, mapped bool) *protest.FakeProcess {
	mem := protest.FakeMemory{}
	if mapped {
		mem.Fill(bias+0x1000, 16, 0x90)
	}
	p := protest.NewFakeProcess(100, mem, loopTrace(bias+0x1000, bias+0x1008, 1, bias+0x1008))
	p.Entry = bias + 0x1000
	return p
}

func TestLoadBiasRelocation(t *testing.T) {
	tgt := proc.NewTarget(pieProcess(pieBias, true), pieBinInfo(), nil, []string{"prog"}, "")
	assert.Equal(t, uint64(pieBias), tgt.Bias())

	fn, err := tgt.LookupFunc("main")
	require.NoError(t, err)
	assert.Equal(t, uint64(pieBias+0x1000), fn.Entry)
	assert.Equal(t, uint64(0x1000), tgt.BinInfo.Symbols.FuncAt(0x1000).Entry, "relocation modified the symbol table")

	pc, fn, err := tgt.LineToPC("prog.c", 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(pieBias+0x1004), pc)
	assert.Equal(t, "main", fn.Name)

	v, err := tgt.LookupVariable("g_counter")
	require.NoError(t, err)
	assert.Equal(t, uint64(pieBias+0x4010), v.Addr)

	loc := tgt.PCToLocation(pieBias + 0x1005)
	assert.Equal(t, 4, loc.Line)
	assert.Equal(t, "main", loc.Fn.Name)

	bp, err := tgt.SetBreakpoint(pieBias + 0x1004)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1004), bp.LinkAddr)
	assert.Equal(t, "main", bp.FunctionName)
	assert.Equal(t, 4, bp.Line)
}

func TestLoadBiasFromMaps(t *testing.T) {
	p := pieProcess(pieBias, true)
	p.Entry = 0
	p.Mappings = []linutil.Mapping{
		{Start: 0x400000, End: 0x401000, Perms: "r--p", Path: "/usr/lib/libc.so.6"},
		{Start: pieBias + 0x1000, End: pieBias + 0x2000, Perms: "r-xp", Offset: 0x1000, Path: "/nonexistent/prog"},
		{Start: pieBias, End: pieBias + 0x1000, Perms: "r--p", Path: "/nonexistent/prog"},
	}
	tgt := proc.NewTarget(p, pieBinInfo(), nil, []string{"/nonexistent/prog"}, "")
	assert.Equal(t, uint64(pieBias), tgt.Bias())

	p.Mappings = nil
	tgt = proc.NewTarget(p, pieBinInfo(), nil, []string{"/nonexistent/prog"}, "")
	assert.Equal(t, uint64(0), tgt.Bias())
}

func TestRestartReinstallsBreakpoints(t *testing.T) {
	biases := []uint64{pieBias, pieBias + 0x100000, pieBias + 0x200000}
	var procs []*protest.FakeProcess
	launch := func(cmd []string, wd string) (proc.Process, error) {
		p := pieProcess(biases[len(procs)], true)
		procs = append(procs, p)
		return p, nil
	}
	p0, _ := launch(nil, "")
	tgt := proc.NewTarget(p0, pieBinInfo(), launch, []string{"prog", "x"}, "")

	bp, err := tgt.SetBreakpoint(biases[0] + 0x1004)
	require.NoError(t, err)
	ev, err := tgt.Continue()
	require.NoError(t, err)
	require.Equal(t, proc.StopBreakpoint, ev.Reason)
	assert.Equal(t, uint64(1), bp.TotalHitCount)

	require.NoError(t, tgt.Restart([]string{"a", "b"}))
	assert.True(t, procs[0].Killed())
	assert.Equal(t, []string{"prog", "a", "b"}, tgt.Cmd())
	assert.Equal(t, biases[1], tgt.Bias())
	assert.Equal(t, biases[1]+0x1004, bp.Addr)
	assert.Equal(t, uint64(0), bp.TotalHitCount)
	assert.Equal(t, byte(0xCC), procs[1].FakeMemory[bp.Addr])

	ev, err = tgt.Continue()
	require.NoError(t, err)
	require.Equal(t, proc.StopBreakpoint, ev.Reason)
	assert.Same(t, bp, ev.Breakpoint)
	assert.Equal(t, biases[1]+0x1004, currentPC(t, tgt))

	// without arguments the previous command line is reused.
	require.NoError(t, tgt.Restart(nil))
	assert.Equal(t, []string{"prog", "a", "b"}, tgt.Cmd())
}

func TestRestartReportsFailedBreakpoints(t *testing.T) {
	n := 0
	launch := func(cmd []string, wd string) (proc.Process, error) {
		n++
		return pieProcess(pieBias, n == 1), nil
	}
	p0, _ := launch(nil, "")
	tgt := proc.NewTarget(p0, pieBinInfo(), launch, []string{"prog"}, "")
	_, err := tgt.SetBreakpoint(pieBias + 0x1004)
	require.NoError(t, err)

	err = tgt.Restart(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "breakpoints 1")
	assert.Empty(t, tgt.Breakpoints.List())
}

func TestRestartAfterExit(t *testing.T) {
	var procs []*protest.FakeProcess
	launch := func(cmd []string, wd string) (proc.Process, error) {
		p := pieProcess(pieBias, true)
		procs = append(procs, p)
		return p, nil
	}
	p0, _ := launch(nil, "")
	tgt := proc.NewTarget(p0, pieBinInfo(), launch, []string{"prog"}, "")
	bp, err := tgt.SetBreakpoint(pieBias + 0x1006)
	require.NoError(t, err)
	require.NoError(t, tgt.Kill())
	assert.Equal(t, proc.BreakpointRemoved, bp.State)

	require.NoError(t, tgt.Restart(nil))
	assert.Equal(t, proc.BreakpointInstalled, bp.State)
	_, exited := tgt.Exited()
	assert.False(t, exited)
}

func TestRestartNotSupported(t *testing.T) {
	p := protest.NewFakeProcess(1, nil, nil)
	tgt := proc.NewTarget(p, nil, nil, []string{"prog"}, "")
	assert.Error(t, tgt.Restart(nil))
}
