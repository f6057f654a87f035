// Package bininfo reads the symbol table, section headers and DWARF line
// information of an ELF executable and answers address and name queries
// against them.
//
// All addresses handled by this package are link-time addresses.
package bininfo

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/tkyk0317/r-debugger/pkg/logflags"
)

// SymbolNotFoundError is returned when a function, variable or source
// line does not exist in the binary.
type SymbolNotFoundError struct {
	Name string
}

func (err *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("could not find %s", err.Name)
}

// Location is the source position of a program counter.
type Location struct {
	PC     uint64
	Fn     *Function
	File   string
	Line   int
	Column int
}

// Section is an ELF section header.
type Section struct {
	Name   string
	Addr   uint64
	Offset uint64
	Size   uint64
	Flags  elf.SectionFlag
	Type   elf.SectionType
}

// Executable returns true if the section contains instructions.
func (s Section) Executable() bool {
	return s.Flags&elf.SHF_EXECINSTR != 0
}

// BinaryInfo holds the debug information of one executable.
type BinaryInfo struct {
	Path string
	// Entry is e_entry of the ELF header.
	Entry uint64
	// PIE is true for ET_DYN executables, whose addresses are relocated at
	// load time.
	PIE bool

	Symbols *SymbolTable
	Lines   *LineTable

	sections []Section

	// Warnings lists the recoverable errors found while loading debug
	// information.
	Warnings []error
}

// Empty returns a BinaryInfo with no symbols and no line information. It
// is used when the executable can not be parsed: every query then reports
// that nothing is known.
func Empty() *BinaryInfo {
	return New(nil, nil, nil)
}

// New builds a BinaryInfo out of already parsed tables.
func New(symbols *SymbolTable, lines *LineTable, sections []Section) *BinaryInfo {
	if symbols == nil {
		symbols = NewSymbolTable(nil, nil)
	}
	if lines == nil {
		lines = NewLineTable(nil)
	}
	return &BinaryInfo{Symbols: symbols, Lines: lines, sections: sections}
}

// Load opens the executable at path and parses it.
func Load(path string) (*BinaryInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bi, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("could not load %s: %w", path, err)
	}
	bi.Path = path

	if logflags.BinInfo() {
		logger := logflags.BinInfoLogger()
		for _, w := range bi.Warnings {
			logger.Warnf("%s: %v", path, w)
		}
		logger.Debugf("%s: %d functions, %d line rows, pie=%v", path, bi.Symbols.Len(), bi.Lines.Len(), bi.PIE)
	}
	return bi, nil
}

// Parse reads the ELF file in r. An error is returned only if r is not an
// ELF file; missing or damaged symbol and DWARF sections produce an
// incomplete BinaryInfo and a list of Warnings.
func Parse(r io.ReaderAt) (bi *BinaryInfo, err error) {
	defer func() {
		if ierr := recover(); ierr != nil {
			bi = nil
			err = fmt.Errorf("malformed executable: %v", ierr)
		}
	}()

	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}

	bi = &BinaryInfo{Entry: f.Entry, PIE: f.Type == elf.ET_DYN}
	for _, s := range f.Sections {
		if s.Name == "" {
			continue
		}
		bi.sections = append(bi.sections, Section{
			Name:   s.Name,
			Addr:   s.Addr,
			Offset: s.Offset,
			Size:   s.Size,
			Flags:  s.Flags,
			Type:   s.Type,
		})
	}

	funcs, vars, serr := symbolsFromELF(f)
	if serr != nil && !errors.Is(serr, elf.ErrNoSymbols) {
		bi.Warnings = append(bi.Warnings, fmt.Errorf("reading symbols: %w", serr))
	}

	var rows []LineEntry
	if d, derr := f.DWARF(); derr != nil {
		bi.Warnings = append(bi.Warnings, fmt.Errorf("reading DWARF: %w", derr))
	} else {
		var dfuncs []dwarfFunc
		var warns []error
		rows, dfuncs, warns = loadDWARF(d)
		bi.Warnings = append(bi.Warnings, warns...)
		funcs = mergeDWARFFuncs(funcs, dfuncs)
	}

	bi.Lines = NewLineTable(rows)
	bi.Symbols = NewSymbolTable(funcs, vars)
	for _, fn := range bi.Symbols.Functions() {
		if fn.File == "" {
			if le, ok := bi.Lines.Find(fn.Entry); ok {
				fn.File, fn.Line = le.File, le.Line
			}
		}
	}
	return bi, nil
}

// mergeDWARFFuncs copies declaration coordinates on the symbol table
// functions and adds the subprograms that have no symbol.
func mergeDWARFFuncs(funcs []*Function, dfuncs []dwarfFunc) []*Function {
	byEntry := make(map[uint64]*Function, len(funcs))
	for _, fn := range funcs {
		if _, ok := byEntry[fn.Entry]; !ok {
			byEntry[fn.Entry] = fn
		}
	}
	for _, dfn := range dfuncs {
		fn := byEntry[dfn.entry]
		if fn == nil {
			if dfn.name == "" {
				continue
			}
			full, short := demangleName(dfn.name)
			fn = &Function{Name: full, ShortName: short, LinkageName: dfn.name, Entry: dfn.entry, End: dfn.end}
			byEntry[fn.Entry] = fn
			funcs = append(funcs, fn)
		}
		if fn.File == "" {
			fn.File, fn.Line = dfn.file, dfn.line
		}
		if fn.CompileUnit == "" {
			fn.CompileUnit = dfn.compileUnit
		}
		if fn.End <= fn.Entry {
			fn.End = dfn.end
		}
	}
	return funcs
}

// PCToLocation returns the source location of pc. Fields that can not be
// determined are left zero.
func (bi *BinaryInfo) PCToLocation(pc uint64) Location {
	loc := Location{PC: pc, Fn: bi.Symbols.FuncAt(pc)}
	if le, ok := bi.Lines.Find(pc); ok {
		loc.File, loc.Line, loc.Column = le.File, le.Line, le.Column
	}
	return loc
}

// FuncAt returns the function containing pc, or nil.
func (bi *BinaryInfo) FuncAt(pc uint64) *Function {
	return bi.Symbols.FuncAt(pc)
}

// LookupFunc returns the function called name. If several functions share
// the name, for example C++ overloads looked up without their parameters,
// the one with the lowest entry point is returned.
func (bi *BinaryInfo) LookupFunc(name string) (*Function, error) {
	fns := bi.Symbols.Lookup(name)
	if len(fns) == 0 {
		return nil, &SymbolNotFoundError{Name: name}
	}
	return fns[0], nil
}

// LineToPC returns the first address generated for file:line and the
// function containing it.
func (bi *BinaryInfo) LineToPC(file string, line int) (uint64, *Function, error) {
	pc, ok := bi.Lines.LineToPC(file, line)
	if !ok {
		return 0, nil, &SymbolNotFoundError{Name: fmt.Sprintf("%s:%d", file, line)}
	}
	return pc, bi.Symbols.FuncAt(pc), nil
}

// LookupVariable returns the global variable called name.
func (bi *BinaryInfo) LookupVariable(name string) (*Variable, error) {
	v, ok := bi.Symbols.Var(name)
	if !ok {
		return nil, &SymbolNotFoundError{Name: name}
	}
	return v, nil
}

// InCode returns true if pc falls inside an executable section. When no
// section headers are known every non-zero address is accepted.
func (bi *BinaryInfo) InCode(pc uint64) bool {
	if pc == 0 {
		return false
	}
	known := false
	for _, s := range bi.sections {
		if !s.Executable() {
			continue
		}
		known = true
		if pc >= s.Addr && pc < s.Addr+s.Size {
			return true
		}
	}
	return !known
}

// Sections returns the section headers sorted by address.
func (bi *BinaryInfo) Sections() []Section {
	r := append([]Section(nil), bi.sections...)
	sort.SliceStable(r, func(i, j int) bool { return r[i].Addr < r[j].Addr })
	return r
}

// Section returns the section called name.
func (bi *BinaryInfo) Section(name string) (Section, bool) {
	for _, s := range bi.sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}
