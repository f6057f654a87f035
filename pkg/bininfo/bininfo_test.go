package bininfo

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//go:noinline
func roundTripTarget(x int) int {
	return x*3 + 1
}

func loadSelf(t *testing.T) *BinaryInfo {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	bi, err := Load(exe)
	require.NoError(t, err)
	if bi.Lines.Len() == 0 {
		t.Skip("test binary built without DWARF")
	}
	return bi
}

func TestLookupFuncRoundTrip(t *testing.T) {
	bi := loadSelf(t)
	_ = roundTripTarget(1)

	const name = "github.com/tkyk0317/r-debugger/pkg/bininfo.roundTripTarget"
	fn, err := bi.LookupFunc(name)
	require.NoError(t, err)
	require.NotZero(t, fn.Entry)
	require.Greater(t, fn.End, fn.Entry)

	loc := bi.PCToLocation(fn.Entry)
	require.NotNil(t, loc.Fn)
	assert.Equal(t, name, loc.Fn.Name)
	assert.Equal(t, "bininfo_test.go", filepath.Base(loc.File))
	assert.NotZero(t, loc.Line)
	assert.True(t, bi.InCode(fn.Entry))

	pc, lfn, err := bi.LineToPC("bininfo_test.go", loc.Line)
	require.NoError(t, err)
	require.Same(t, fn, lfn)
	require.True(t, fn.Contains(pc))
}

func TestLookupFuncMissing(t *testing.T) {
	bi := loadSelf(t)
	_, err := bi.LookupFunc("this.function.does.not.exist")
	var snf *SymbolNotFoundError
	require.True(t, errors.As(err, &snf))
	require.Equal(t, "this.function.does.not.exist", snf.Name)

	_, _, err = bi.LineToPC("bininfo_test.go", 1<<20)
	require.True(t, errors.As(err, &snf))
}

func TestSections(t *testing.T) {
	bi := loadSelf(t)
	text, ok := bi.Section(".text")
	require.True(t, ok)
	require.True(t, text.Executable())
	secs := bi.Sections()
	for i := 1; i < len(secs); i++ {
		require.LessOrEqual(t, secs[i-1].Addr, secs[i].Addr)
	}
}

func TestLoadNotELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notelf")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0700))
	_, err := Load(path)
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestEmpty(t *testing.T) {
	bi := Empty()
	loc := bi.PCToLocation(0x401000)
	require.Nil(t, loc.Fn)
	require.Equal(t, "", loc.File)
	require.Equal(t, 0, loc.Line)
	_, err := bi.LookupFunc("main")
	require.Error(t, err)
	require.True(t, bi.InCode(0x401000))
	require.False(t, bi.InCode(0))
}

func TestSymbolTable(t *testing.T) {
	st := NewSymbolTable([]*Function{
		{Name: "_start", ShortName: "_start", LinkageName: "_start", Entry: 0x1000},
		{Name: "test_func(int)", ShortName: "test_func", LinkageName: "_Z9test_funci", Entry: 0x1200, End: 0x1240},
		{Name: "test_func(double)", ShortName: "test_func", LinkageName: "_Z9test_funcd", Entry: 0x1100, End: 0x1140},
		{Name: "main", ShortName: "main", LinkageName: "main", Entry: 0x1300, End: 0x1380},
		{Name: "alias_main", ShortName: "alias_main", LinkageName: "alias_main", Entry: 0x1300, End: 0x1380},
	}, []*Variable{{Name: "g_counter", LinkageName: "g_counter", Addr: 0x4010, Size: 4}})

	start := st.FuncAt(0x1050)
	require.NotNil(t, start)
	require.Equal(t, "_start", start.Name)
	require.Equal(t, uint64(0x1100), start.End, "size 0 extends to the next function")

	fns := st.Lookup("test_func")
	require.Len(t, fns, 2)
	require.Equal(t, uint64(0x1100), fns[0].Entry)

	require.Same(t, st.Lookup("main")[0], st.Lookup("alias_main")[0])
	require.Equal(t, 4, st.Len())
	require.Nil(t, st.FuncAt(0x1390))
	require.Nil(t, st.FuncAt(0x10))

	v, ok := st.Var("g_counter")
	require.True(t, ok)
	require.Equal(t, uint64(0x4010), v.Addr)

	bi := New(st, nil, nil)
	fn, err := bi.LookupFunc("test_func")
	require.NoError(t, err)
	require.Equal(t, "test_func(double)", fn.Name)
	fn, err = bi.LookupFunc("_Z9test_funci")
	require.NoError(t, err)
	require.Equal(t, "test_func(int)", fn.Name)
}

func TestSymbolTableNameIndexSorted(t *testing.T) {
	// the alias of reset is indexed while aliases are merged, before the
	// function at 0x1000 that has the same name
	st := NewSymbolTable([]*Function{
		{Name: "clear", ShortName: "clear", Entry: 0x1000, End: 0x1100},
		{Name: "reset", ShortName: "reset", Entry: 0x2000, End: 0x2100},
		{Name: "clear", ShortName: "clear", LinkageName: "clear_alias", Entry: 0x2000, End: 0x2100},
	}, nil)

	indexed := st.byName["clear"]
	require.Len(t, indexed, 2)
	assert.Equal(t, uint64(0x1000), indexed[0].Entry)
	assert.Equal(t, uint64(0x2000), indexed[1].Entry)

	fns := st.Lookup("clear")
	require.Len(t, fns, 2)
	assert.Same(t, indexed[0], fns[0])
	assert.Equal(t, uint64(0x1000), st.Lookup("clear")[0].Entry)
}

func TestDemangle(t *testing.T) {
	full, short := demangleName("_ZN4Test4testEi")
	assert.Equal(t, "Test::test(int)", full)
	assert.Equal(t, "Test::test", short)

	full, short = demangleName("test_func")
	assert.Equal(t, "test_func", full)
	assert.Equal(t, "test_func", short)
}

func TestLineTable(t *testing.T) {
	lt := NewLineTable([]LineEntry{
		{Address: 0x1000, File: "/src/loop.c", Line: 5, IsStmt: true},
		{Address: 0x1008, File: "/src/loop.c", Line: 6, IsStmt: true},
		{Address: 0x1010, File: "/src/loop.c", Line: 5, IsStmt: false},
		{Address: 0x1018, File: "/src/loop.c", Line: 7, IsStmt: true},
		{Address: 0x1020, EndSequence: true},
		{Address: 0x1020, File: "/src/other.c", Line: 1, IsStmt: true},
		{Address: 0x1030, EndSequence: true},
		{Address: 0x0f00, File: "/src/loop.c", Line: 6, IsStmt: false},
	})

	le, ok := lt.Find(0x100c)
	require.True(t, ok)
	require.Equal(t, 6, le.Line)

	le, ok = lt.Find(0x1020)
	require.True(t, ok)
	require.Equal(t, "/src/other.c", le.File)

	_, ok = lt.Find(0x1030)
	require.False(t, ok)
	_, ok = lt.Find(0x10)
	require.False(t, ok)

	pc, ok := lt.LineToPC("loop.c", 6)
	require.True(t, ok)
	require.Equal(t, uint64(0x1008), pc, "is_stmt rows win over lower addresses")

	pc, ok = lt.LineToPC("src/loop.c", 5)
	require.True(t, ok)
	require.Equal(t, uint64(0x1000), pc)

	_, ok = lt.LineToPC("op.c", 5)
	require.False(t, ok)

	require.Equal(t, []string{"/src/loop.c", "/src/other.c"}, lt.Files())
}

func TestMatchFile(t *testing.T) {
	for _, tc := range []struct {
		table, user string
		want        bool
	}{
		{"/home/u/src/loop.c", "/home/u/src/loop.c", true},
		{"/home/u/src/loop.c", "src/loop.c", true},
		{"/home/u/src/loop.c", "./src/loop.c", true},
		{"/home/u/src/loop.c", "loop.c", true},
		{"/home/u/src/loop.c", "rc/loop.c", false},
		{"/home/u/src/loop.c", "other/loop.c", false},
	} {
		assert.Equal(t, tc.want, matchFile(tc.table, tc.user), "%s vs %s", tc.table, tc.user)
	}
}

func TestDropDeadSequences(t *testing.T) {
	rows := dropDeadSequences([]LineEntry{
		{Address: 0, Line: 1},
		{Address: 8, EndSequence: true},
		{Address: 0x1000, Line: 2},
		{Address: 0x1008, EndSequence: true},
	})
	require.Len(t, rows, 2)
	require.Equal(t, uint64(0x1000), rows[0].Address)
}

func FuzzParse(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte("\x7fELF\x02\x01\x01"))
	if exe, err := os.Executable(); err == nil {
		if data, err := os.ReadFile(exe); err == nil && len(data) > 4096 {
			f.Add(data[:4096])
		}
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		bi, err := Parse(bytes.NewReader(data))
		if err != nil {
			return
		}
		bi.PCToLocation(0x401000)
		bi.InCode(0x401000)
		for _, fn := range bi.Symbols.Functions() {
			loc := bi.PCToLocation(fn.Entry)
			if loc.Fn != fn {
				t.Fatalf("entry of %q resolves to %v", fn.Name, loc.Fn)
			}
		}
	})
}
