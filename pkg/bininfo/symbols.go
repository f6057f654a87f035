package bininfo

import (
	"debug/elf"
	"sort"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// Function describes a function of the target binary.
type Function struct {
	// Name is the demangled name, including the parameter list for C++.
	Name string
	// ShortName is the demangled name without parameters.
	ShortName string
	// LinkageName is the name as it appears in the symbol table.
	LinkageName string

	Entry, End uint64 // [Entry, End) in link-time addresses

	// Declaration coordinates, only known when DWARF is present.
	File        string
	Line        int
	CompileUnit string
}

// Contains returns true if pc belongs to fn.
func (fn *Function) Contains(pc uint64) bool {
	return fn != nil && pc >= fn.Entry && pc < fn.End
}

// Variable is a global data object of the target binary.
type Variable struct {
	Name        string
	LinkageName string
	Addr        uint64
	Size        uint64
}

// SymbolTable maps address ranges to functions and names to functions and
// variables. It is immutable once built.
type SymbolTable struct {
	funcs  []*Function // sorted by Entry
	byName map[string][]*Function
	vars   map[string]*Variable
}

func newSymbolTable() *SymbolTable {
	return &SymbolTable{byName: map[string][]*Function{}, vars: map[string]*Variable{}}
}

// NewSymbolTable builds a SymbolTable from a list of functions and
// variables. Functions with a zero End extend to the next function.
func NewSymbolTable(funcs []*Function, vars []*Variable) *SymbolTable {
	st := newSymbolTable()
	st.funcs = append(st.funcs, funcs...)
	for _, v := range vars {
		st.addVar(v)
	}
	st.finish()
	return st
}

func demangleName(name string) (full, short string) {
	if !strings.HasPrefix(name, "_Z") {
		return name, name
	}
	full = demangle.Filter(name)
	short = demangle.Filter(name, demangle.NoParams)
	return full, short
}

// symbolsFromELF collects STT_FUNC and STT_OBJECT symbols, preferring the
// static symbol table and falling back to the dynamic one.
func symbolsFromELF(f *elf.File) ([]*Function, []*Variable, error) {
	syms, err := f.Symbols()
	if err != nil || len(syms) == 0 {
		var derr error
		syms, derr = f.DynamicSymbols()
		if derr != nil {
			if err == nil {
				err = derr
			}
			return nil, nil, err
		}
	}

	var funcs []*Function
	var vars []*Variable
	for _, sym := range syms {
		if sym.Value == 0 || sym.Name == "" || sym.Section == elf.SHN_UNDEF {
			continue
		}
		switch elf.ST_TYPE(sym.Info) {
		case elf.STT_FUNC:
			full, short := demangleName(sym.Name)
			funcs = append(funcs, &Function{
				Name:        full,
				ShortName:   short,
				LinkageName: sym.Name,
				Entry:       sym.Value,
				End:         sym.Value + sym.Size,
			})
		case elf.STT_OBJECT:
			_, short := demangleName(sym.Name)
			vars = append(vars, &Variable{Name: short, LinkageName: sym.Name, Addr: sym.Value, Size: sym.Size})
		}
	}
	return funcs, vars, nil
}

func (st *SymbolTable) addVar(v *Variable) {
	if _, ok := st.vars[v.Name]; !ok {
		st.vars[v.Name] = v
	}
	if v.LinkageName != "" {
		if _, ok := st.vars[v.LinkageName]; !ok {
			st.vars[v.LinkageName] = v
		}
	}
}

// finish sorts the function list, merges aliases sharing an entry point and
// builds the name index.
func (st *SymbolTable) finish() {
	sort.SliceStable(st.funcs, func(i, j int) bool { return st.funcs[i].Entry < st.funcs[j].Entry })

	merged := st.funcs[:0]
	for _, fn := range st.funcs {
		if n := len(merged); n > 0 && merged[n-1].Entry == fn.Entry {
			prev := merged[n-1]
			if fn.End > prev.End {
				prev.End = fn.End
			}
			st.index(fn.Name, prev)
			st.index(fn.ShortName, prev)
			st.index(fn.LinkageName, prev)
			continue
		}
		merged = append(merged, fn)
	}
	st.funcs = merged

	for i, fn := range st.funcs {
		if fn.End <= fn.Entry {
			if i+1 < len(st.funcs) {
				fn.End = st.funcs[i+1].Entry
			} else {
				fn.End = fn.Entry + 1
			}
		}
		st.index(fn.Name, fn)
		st.index(fn.ShortName, fn)
		st.index(fn.LinkageName, fn)
	}

	for _, fns := range st.byName {
		sort.Slice(fns, func(i, j int) bool { return fns[i].Entry < fns[j].Entry })
	}
}

func (st *SymbolTable) index(name string, fn *Function) {
	if name == "" {
		return
	}
	for _, other := range st.byName[name] {
		if other == fn {
			return
		}
	}
	st.byName[name] = append(st.byName[name], fn)
}

// FuncAt returns the function containing pc, or nil.
func (st *SymbolTable) FuncAt(pc uint64) *Function {
	i := sort.Search(len(st.funcs), func(i int) bool { return st.funcs[i].Entry > pc })
	if i == 0 {
		return nil
	}
	if fn := st.funcs[i-1]; fn.Contains(pc) {
		return fn
	}
	return nil
}

// Lookup returns the functions whose demangled name, short name or linkage
// name is name, sorted by entry point.
func (st *SymbolTable) Lookup(name string) []*Function {
	return st.byName[name]
}

// Var returns the global variable called name.
func (st *SymbolTable) Var(name string) (*Variable, bool) {
	v, ok := st.vars[name]
	return v, ok
}

// Functions returns all functions sorted by entry point.
func (st *SymbolTable) Functions() []*Function {
	return st.funcs
}

// Len returns the number of functions.
func (st *SymbolTable) Len() int {
	return len(st.funcs)
}
