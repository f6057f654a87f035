// Package test contains helpers shared by the tests of the debugger:
// on-demand compilation of the C programs in _fixtures and a simulated
// process.
package test

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"testing"
)

// Fixture is a test binary.
type Fixture struct {
	// Name is the short name of the fixture.
	Name string
	// Path is the absolute path to the test binary.
	Path string
	// Source is the absolute path of the test binary source.
	Source string
}

// Fixtures is a map of Fixture.Name to Fixture.
var Fixtures = make(map[string]Fixture)

var fixturesMu sync.Mutex

// FindFixturesDir walks up from the current directory looking for the
// _fixtures directory.
func FindFixturesDir() string {
	parent := ".."
	fixturesDir := "_fixtures"
	for depth := 0; depth < 10; depth++ {
		if _, err := os.Stat(fixturesDir); err == nil {
			break
		}
		fixturesDir = filepath.Join(parent, fixturesDir)
	}
	return fixturesDir
}

// findCompiler returns the compiler for a source file: $CC or the first
// of cc, gcc and clang for C, $CXX or the first of c++, g++ and clang++
// for C++.
func findCompiler(source string) (string, error) {
	env, candidates, lang := "CC", []string{"cc", "gcc", "clang"}, "C"
	if filepath.Ext(source) == ".cpp" {
		env, candidates, lang = "CXX", []string{"c++", "g++", "clang++"}, "C++"
	}
	if cc := os.Getenv(env); cc != "" {
		candidates = append([]string{cc}, candidates...)
	}
	for _, c := range candidates {
		if path, err := exec.LookPath(c); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no %s compiler found", lang)
}

// BuildFixture compiles _fixtures/<name>.c, or _fixtures/<name>.cpp, with
// debug information and frame pointers. The test is skipped when no
// compiler is available.
func BuildFixture(t testing.TB, name string) Fixture {
	t.Helper()
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("fixtures are only built on linux/amd64")
	}

	fixturesMu.Lock()
	defer fixturesMu.Unlock()
	if f, ok := Fixtures[name]; ok {
		return f
	}

	fixturesDir := FindFixturesDir()
	source, err := filepath.Abs(filepath.Join(fixturesDir, name+".c"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(source); err != nil {
		source = source + "pp"
	}

	cc, err := findCompiler(source)
	if err != nil {
		t.Skip(err)
	}

	// Make a (good enough) random temporary file name
	r := make([]byte, 4)
	rand.Read(r)
	tmpfile := filepath.Join(os.TempDir(), fmt.Sprintf("%s.%s", name, hex.EncodeToString(r)))

	cmd := exec.Command(cc, "-g", "-O0", "-fno-omit-frame-pointer", "-o", tmpfile, source)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Error compiling %s: %v\n%s", source, err, out)
	}

	Fixtures[name] = Fixture{Name: name, Path: tmpfile, Source: source}
	return Fixtures[name]
}

// RunTestsWithFixtures will pre-compile test fixtures before running test
// methods. Test binaries are deleted before exiting.
func RunTestsWithFixtures(m *testing.M) int {
	status := m.Run()

	// Remove the fixtures.
	for _, f := range Fixtures {
		os.Remove(f.Path)
	}
	return status
}

// SkipIfCantTrace skips the test if err shows that this environment does
// not allow tracing processes, for example inside a container without
// CAP_SYS_PTRACE.
func SkipIfCantTrace(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		return
	}
	if errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOSYS) {
		t.Skipf("tracing not permitted: %v", err)
	}
}
