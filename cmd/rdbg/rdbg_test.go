package main

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	protest "github.com/tkyk0317/r-debugger/pkg/proc/test"
)

var rdbgbin string

func TestMain(m *testing.M) {
	os.Exit(protest.RunTestsWithFixtures(m))
}

// buildRdbg compiles the rdbg binary once per test run.
func buildRdbg(t *testing.T) string {
	t.Helper()
	if rdbgbin != "" {
		return rdbgbin
	}
	gocmd, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go tool not found")
	}
	dir, err := os.MkdirTemp("", "rdbg-test")
	require.NoError(t, err)
	bin := filepath.Join(dir, "rdbg")
	out, err := exec.Command(gocmd, "build", "-o", bin, "github.com/tkyk0317/r-debugger/cmd/rdbg").CombinedOutput()
	require.NoError(t, err, "go build: %s", out)
	rdbgbin = bin
	return rdbgbin
}

type result struct {
	stdout, stderr string
	code           int
}

func runRdbg(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	cmd := exec.Command(buildRdbg(t), args...)
	cmd.Env = append(os.Environ(), "XDG_CONFIG_HOME="+t.TempDir(), "TERM=dumb")
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		t.Fatalf("running rdbg: %v", err)
	}
	r := result{stdout: stdout.String(), stderr: stderr.String(), code: cmd.ProcessState.ExitCode()}
	if strings.Contains(r.stderr, "operation not permitted") {
		t.Skipf("tracing not permitted: %s", r.stderr)
	}
	return r
}

func TestDbgBreakpointInLoop(t *testing.T) {
	fixture := protest.BuildFixture(t, "loop")
	script := "break test_func\n" + strings.Repeat("continue\n", 11) + "quit\n"

	r := runRdbg(t, script, "dbg", fixture.Path)
	assert.Equal(t, 0, r.code, "stderr: %s", r.stderr)
	assert.Contains(t, r.stdout, "Breakpoint 1 set at ")
	assert.Equal(t, 10, strings.Count(r.stdout, "> [Breakpoint 1] test_func"), r.stdout)
	assert.Contains(t, r.stdout, "(hits: 10)")
	assert.NotContains(t, r.stdout, "(hits: 11)")
	assert.Contains(t, r.stdout, "counter=45\n")
	assert.Contains(t, r.stdout, "has exited with status 0\n")
}

func TestDbgInitFile(t *testing.T) {
	fixture := protest.BuildFixture(t, "loop")
	init := filepath.Join(t.TempDir(), "init")
	require.NoError(t, os.WriteFile(init, []byte("break test_func\ncontinue\n"), 0600))

	r := runRdbg(t, "print g_counter\nbt\nquit\n", "dbg", "--init", init, fixture.Path, "--", "4")
	assert.Equal(t, 0, r.code, "stderr: %s", r.stderr)
	assert.Contains(t, r.stdout, "(hits: 1)")
	assert.Contains(t, r.stdout, "g_counter = 0 (0x0)\n")
	assert.Contains(t, r.stdout, "in test_func\n")
	assert.Contains(t, r.stdout, "in main\n")
	assert.NotContains(t, r.stdout, "counter=", "the target was not killed when quitting")
}

func TestDbgCppMethodBreakpoint(t *testing.T) {
	fixture := protest.BuildFixture(t, "testcpp")
	script := "break Test::test\nbreak test_func\ncontinue\ncontinue\nbt\nprint g_calls\nclear 1\n" +
		strings.Repeat("continue\n", 3) + "quit\n"

	r := runRdbg(t, script, "dbg", fixture.Path)
	assert.Equal(t, 0, r.code, "stderr: %s", r.stderr)
	assert.Regexp(t, `Breakpoint 1 set at 0x[0-9a-f]+ for Test::test\(int\) .*testcpp\.cpp:\d+\n`, r.stdout)
	assert.Regexp(t, `Breakpoint 2 set at 0x[0-9a-f]+ for test_func\(int\) .*testcpp\.cpp:\d+\n`, r.stdout)
	assert.Equal(t, 1, strings.Count(r.stdout, "> [Breakpoint 1] Test::test(int) "), r.stdout)
	assert.Equal(t, 3, strings.Count(r.stdout, "> [Breakpoint 2] test_func(int) "), r.stdout)
	assert.Contains(t, r.stdout, "in Test::test(int)\n")
	assert.Contains(t, r.stdout, "in main\n")
	assert.Contains(t, r.stdout, "g_calls = 1 (0x1)\n")
	assert.Contains(t, r.stdout, "calls=6\n")
	assert.Contains(t, r.stdout, "has exited with status 0\n")
}

func TestTraceExitCode(t *testing.T) {
	fixture := protest.BuildFixture(t, "loop")
	targetOut := filepath.Join(t.TempDir(), "out")

	r := runRdbg(t, "", "trace", "-r", "stdout:"+targetOut, "-e", "clock_nanosleep,nanosleep,exit_group", fixture.Path, "--", "3")
	assert.Equal(t, 3, r.code, "stderr: %s", r.stderr)
	assert.Equal(t, 10, strings.Count(r.stdout, "nanosleep("), r.stdout)
	assert.Contains(t, r.stdout, "exit_group(3) = ?\n")
	assert.True(t, strings.HasSuffix(r.stdout, "+++ exited with 3 +++\n"), r.stdout)
	assert.NotContains(t, r.stdout, "write(")
	assert.Empty(t, r.stderr)

	buf, err := os.ReadFile(targetOut)
	require.NoError(t, err)
	assert.Equal(t, "counter=45\n", string(buf))
}

func TestTraceSharesStdout(t *testing.T) {
	fixture := protest.BuildFixture(t, "files")

	r := runRdbg(t, "", "trace", "-e", "write", fixture.Path)
	assert.Equal(t, 3, r.code, "stderr: %s", r.stderr)
	assert.Equal(t, "hello\nwrite(1, \"hello\\n\", 6) = 6\n+++ exited with 3 +++\n", r.stdout)
}

func TestTraceKilledBySignal(t *testing.T) {
	fixture := protest.BuildFixture(t, "segv")

	r := runRdbg(t, "", "trace", "--show-pc", fixture.Path)
	assert.Equal(t, 128+11, r.code)
	assert.Contains(t, r.stdout, "--- SIGSEGV ---\n")
	assert.True(t, strings.HasSuffix(r.stdout, "+++ killed by SIGSEGV +++\n"), r.stdout)
	assert.Contains(t, r.stdout, "[0x")
}

func TestTraceErrors(t *testing.T) {
	r := runRdbg(t, "", "trace", "-e", "nosuchsyscall", "/bin/true")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, `unknown syscall "nosuchsyscall"`)

	r = runRdbg(t, "", "dbg", "/nonexistent/program")
	assert.Equal(t, 1, r.code)
	assert.NotEmpty(t, r.stderr)
}

func TestVersion(t *testing.T) {
	r := runRdbg(t, "", "version")
	assert.Equal(t, 0, r.code)
	assert.True(t, strings.HasPrefix(r.stdout, "rdbg Debugger\nVersion: "), r.stdout)
}
