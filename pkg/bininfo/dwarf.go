package bininfo

import (
	"debug/dwarf"
	"errors"
	"fmt"
	"io"
)

type dwarfFunc struct {
	name        string
	entry, end  uint64
	file        string
	line        int
	compileUnit string
}

// loadDWARF reads line tables and subprogram declarations of every
// compilation unit. Errors found inside a single compilation unit are
// returned as warnings and the rest of the data is still used.
func loadDWARF(d *dwarf.Data) (rows []LineEntry, funcs []dwarfFunc, warnings []error) {
	defer func() {
		if ierr := recover(); ierr != nil {
			warnings = append(warnings, fmt.Errorf("panic while reading DWARF: %v", ierr))
		}
	}()

	rdr := d.Reader()
	var cuName string
	var files []*dwarf.LineFile
	for {
		e, err := rdr.Next()
		if err != nil {
			warnings = append(warnings, fmt.Errorf("reading debug_info: %w", err))
			return
		}
		if e == nil {
			return
		}
		switch e.Tag {
		case dwarf.TagCompileUnit:
			cuName, _ = e.Val(dwarf.AttrName).(string)
			var cuRows []LineEntry
			cuRows, files, err = readLineTable(d, e)
			if err != nil {
				warnings = append(warnings, fmt.Errorf("reading line table of %s: %w", cuName, err))
			}
			rows = append(rows, cuRows...)
		case dwarf.TagSubprogram:
			fn, ok := readSubprogram(d, e, files)
			if !ok {
				continue
			}
			fn.compileUnit = cuName
			funcs = append(funcs, fn)
		}
	}
}

func readLineTable(d *dwarf.Data, cu *dwarf.Entry) ([]LineEntry, []*dwarf.LineFile, error) {
	lr, err := d.LineReader(cu)
	if err != nil {
		return nil, nil, err
	}
	if lr == nil {
		return nil, nil, nil
	}
	var rows []LineEntry
	var le dwarf.LineEntry
	for {
		err := lr.Next(&le)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return rows, lr.Files(), err
		}
		var file string
		if le.File != nil {
			file = le.File.Name
		}
		rows = append(rows, LineEntry{
			Address:     le.Address,
			File:        file,
			Line:        le.Line,
			Column:      le.Column,
			IsStmt:      le.IsStmt,
			EndSequence: le.EndSequence,
		})
	}
	return dropDeadSequences(rows), lr.Files(), nil
}

// dropDeadSequences removes sequences the linker relocated to address
// zero, they belong to functions discarded by --gc-sections.
func dropDeadSequences(rows []LineEntry) []LineEntry {
	out := rows[:0]
	start := 0
	for i, r := range rows {
		if !r.EndSequence {
			continue
		}
		if rows[start].Address != 0 {
			out = append(out, rows[start:i+1]...)
		}
		start = i + 1
	}
	return out
}

func readSubprogram(d *dwarf.Data, e *dwarf.Entry, files []*dwarf.LineFile) (dwarfFunc, bool) {
	ranges, err := d.Ranges(e)
	if err != nil || len(ranges) == 0 {
		return dwarfFunc{}, false
	}
	fn := dwarfFunc{entry: ranges[0][0], end: ranges[0][1]}
	for _, rng := range ranges[1:] {
		if rng[0] < fn.entry {
			fn.entry = rng[0]
		}
		if rng[1] > fn.end {
			fn.end = rng[1]
		}
	}
	if fn.entry == 0 {
		return dwarfFunc{}, false
	}
	if name, ok := e.Val(dwarf.AttrLinkageName).(string); ok {
		fn.name = name
	} else if name, ok := e.Val(dwarf.AttrName).(string); ok {
		fn.name = name
	}
	if idx, ok := e.Val(dwarf.AttrDeclFile).(int64); ok && idx >= 0 && int(idx) < len(files) && files[idx] != nil {
		fn.file = files[idx].Name
	}
	if line, ok := e.Val(dwarf.AttrDeclLine).(int64); ok {
		fn.line = int(line)
	}
	return fn, true
}
