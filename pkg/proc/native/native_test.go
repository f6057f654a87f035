//go:build linux && amd64

package native_test

import (
	"encoding/binary"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkyk0317/r-debugger/pkg/proc"
	"github.com/tkyk0317/r-debugger/pkg/proc/native"
	protest "github.com/tkyk0317/r-debugger/pkg/proc/test"
)

func TestMain(m *testing.M) {
	os.Exit(protest.RunTestsWithFixtures(m))
}

func nativeLaunch(cmd []string, wd string) (proc.Process, error) {
	p, err := native.Launch(cmd, wd)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func withTarget(t *testing.T, name string, args ...string) *proc.Target {
	t.Helper()
	fixture := protest.BuildFixture(t, name)
	tgt, err := proc.Launch(nativeLaunch, append([]string{fixture.Path}, args...), "")
	protest.SkipIfCantTrace(t, err)
	require.NoError(t, err)
	t.Cleanup(func() { tgt.Kill() })
	return tgt
}

func currentLoc(t *testing.T, tgt *proc.Target) (string, int) {
	t.Helper()
	regs, err := tgt.Registers()
	require.NoError(t, err)
	loc := tgt.PCToLocation(regs.PC())
	require.NotNil(t, loc.Fn, "no function at %#x", regs.PC())
	return loc.Fn.Name, loc.Line
}

func TestBreakpointInLoop(t *testing.T) {
	tgt := withTarget(t, "loop", "7")

	fn, err := tgt.LookupFunc("test_func")
	require.NoError(t, err)
	bp, err := tgt.SetBreakpoint(fn.Entry)
	require.NoError(t, err)
	assert.Equal(t, "test_func", bp.FunctionName)

	for i := 1; i <= 10; i++ {
		ev, err := tgt.Continue()
		require.NoError(t, err)
		require.Equal(t, proc.StopBreakpoint, ev.Reason, "iteration %d", i)
		assert.Equal(t, uint64(i), bp.TotalHitCount)
		regs, err := tgt.Registers()
		require.NoError(t, err)
		assert.Equal(t, fn.Entry, regs.PC())
		assert.Equal(t, uint64(i-1), regs.Rdi&0xffffffff, "argument of test_func")
		require.NoError(t, tgt.Breakpoints.Verify(tgt.Process()))
	}

	v, err := tgt.LookupVariable("g_counter")
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = tgt.ReadMemory(buf, v.Addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(36), binary.LittleEndian.Uint32(buf))

	ev, err := tgt.Continue()
	require.NoError(t, err)
	require.True(t, ev.Exited())
	assert.Equal(t, 7, ev.Exit.Code)
}

func TestLineBreakpointAndStepping(t *testing.T) {
	tgt := withTarget(t, "loop")

	pc, fn, err := tgt.LineToPC("loop.c", 19)
	require.NoError(t, err)
	assert.Equal(t, "main", fn.Name)
	_, err = tgt.SetBreakpoint(pc)
	require.NoError(t, err)

	ev, err := tgt.Continue()
	require.NoError(t, err)
	require.Equal(t, proc.StopBreakpoint, ev.Reason)
	name, line := currentLoc(t, tgt)
	assert.Equal(t, "main", name)
	assert.Equal(t, 19, line)

	_, err = tgt.Next()
	require.NoError(t, err)
	name, line = currentLoc(t, tgt)
	assert.Equal(t, "main", name)
	assert.Equal(t, 20, line)

	// back to line 19 on the next iteration, through the user breakpoint.
	ev, err = tgt.Continue()
	require.NoError(t, err)
	require.Equal(t, proc.StopBreakpoint, ev.Reason)

	_, err = tgt.Step()
	require.NoError(t, err)
	name, _ = currentLoc(t, tgt)
	assert.Equal(t, "test_func", name)

	_, err = tgt.StepOut()
	require.NoError(t, err)
	name, line = currentLoc(t, tgt)
	assert.Equal(t, "main", name)
	assert.Equal(t, 19, line)
}

func TestStacktraceRecursion(t *testing.T) {
	tgt := withTarget(t, "recurse", "4")

	pc, _, err := tgt.LineToPC("recurse.c", 6)
	require.NoError(t, err)
	_, err = tgt.SetBreakpoint(pc)
	require.NoError(t, err)
	ev, err := tgt.Continue()
	require.NoError(t, err)
	require.Equal(t, proc.StopBreakpoint, ev.Reason)

	frames, err := tgt.Stacktrace(50)
	require.NoError(t, err)
	var names []string
	for _, fr := range frames {
		if fr.Err != nil || fr.Call.Fn == nil {
			break
		}
		names = append(names, fr.Call.Fn.Name)
	}
	require.GreaterOrEqual(t, len(names), 6)
	assert.Equal(t, []string{"depth", "depth", "depth", "depth", "depth", "main"}, names[:6])

	frames, err = tgt.Stacktrace(3)
	require.NoError(t, err)
	require.Len(t, frames, 4)
	assert.Error(t, frames[3].Err)
}

func TestSignalDelivery(t *testing.T) {
	tgt := withTarget(t, "segv")

	ev, err := tgt.Continue()
	require.NoError(t, err)
	require.Equal(t, proc.StopSignal, ev.Reason)
	assert.Equal(t, syscall.SIGSEGV, ev.Signal)
	name, line := currentLoc(t, tgt)
	assert.Equal(t, "main", name)
	assert.Equal(t, 4, line)

	ev, err = tgt.Continue()
	require.NoError(t, err)
	require.True(t, ev.Exited())
	assert.True(t, ev.Exit.Signaled)
	assert.Equal(t, syscall.SIGSEGV, ev.Exit.Signal)
	assert.Equal(t, 139, ev.Exit.ShellCode())
}

func TestSyscallStops(t *testing.T) {
	enosys := ^uint64(syscall.ENOSYS) + 1
	for _, tc := range []struct {
		fixture string
		code    int
	}{
		{"files", 3},
		{"nosys", 0},
	} {
		t.Run(tc.fixture, func(t *testing.T) {
			fixture := protest.BuildFixture(t, tc.fixture)
			p, err := native.Launch([]string{fixture.Path}, "")
			protest.SkipIfCantTrace(t, err)
			require.NoError(t, err)
			defer p.Kill()

			entry := true
			stops := 0
			for {
				require.NoError(t, p.Resume(proc.ResumeSyscall))
				ev, err := p.Wait()
				require.NoError(t, err)
				if ev.Exited() {
					assert.Equal(t, tc.code, ev.Exit.Code)
					break
				}
				if entry {
					require.Equal(t, proc.StopSyscallEntry, ev.Reason, "stop %d", stops)
				} else {
					require.Equal(t, proc.StopSyscallExit, ev.Reason, "stop %d", stops)
					regs, err := p.Registers()
					require.NoError(t, err)
					if regs.OrigRax == 500 {
						assert.Equal(t, enosys, regs.Rax)
					}
				}
				entry = !entry
				stops++
			}
			assert.Greater(t, stops, 4)
			assert.Equal(t, proc.StateExited, p.State())
		})
	}
}

func TestKillFromAnotherGoroutine(t *testing.T) {
	fixture := protest.BuildFixture(t, "files")
	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	require.NoError(t, err)
	defer devnull.Close()

	for i := 0; i < 50; i++ {
		p, err := native.LaunchWithRedirects([]string{fixture.Path}, "", native.Redirects{nil, devnull, nil})
		protest.SkipIfCantTrace(t, err)
		require.NoError(t, err)

		killed := make(chan error, 1)
		go func() {
			time.Sleep(time.Duration(i%4) * 500 * time.Microsecond)
			killed <- p.Kill()
		}()
		for {
			if err := p.Resume(proc.ResumeSyscall); err != nil {
				break
			}
			ev, err := p.Wait()
			if err != nil || ev.Exited() {
				break
			}
			if _, err := p.Registers(); err != nil {
				break
			}
		}
		require.NoError(t, <-killed)
		require.NoError(t, p.Kill())
		assert.False(t, p.State().Alive(), "iteration %d", i)
	}
}

func TestKillStoppedProcess(t *testing.T) {
	fixture := protest.BuildFixture(t, "loop")
	p, err := native.Launch([]string{fixture.Path}, "")
	protest.SkipIfCantTrace(t, err)
	require.NoError(t, err)

	require.NoError(t, p.Kill())
	assert.Equal(t, proc.StateSignaled, p.State())
	assert.NoError(t, p.Kill())

	_, err = p.Registers()
	var ise *proc.InvalidStateError
	assert.ErrorAs(t, err, &ise)
}

func TestLaunchErrors(t *testing.T) {
	_, err := native.Launch([]string{"/nonexistent/rdbg"}, "")
	var se *proc.SpawnError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "/nonexistent/rdbg", se.Path)

	_, err = native.Launch(nil, "")
	assert.ErrorAs(t, err, &se)
}
