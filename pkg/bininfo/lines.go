package bininfo

import (
	"path/filepath"
	"sort"
	"strings"
)

// LineEntry is one row of the line-number program.
type LineEntry struct {
	Address     uint64
	File        string
	Line        int
	Column      int
	IsStmt      bool
	EndSequence bool
}

// LineTable is the flat, address sorted list of line rows of every
// compilation unit.
type LineTable struct {
	rows  []LineEntry
	files map[string]struct{}
}

// NewLineTable builds a LineTable from an unsorted list of rows.
func NewLineTable(rows []LineEntry) *LineTable {
	lt := &LineTable{rows: append([]LineEntry(nil), rows...), files: map[string]struct{}{}}
	sort.SliceStable(lt.rows, func(i, j int) bool {
		if lt.rows[i].Address != lt.rows[j].Address {
			return lt.rows[i].Address < lt.rows[j].Address
		}
		// an end of sequence at X terminates the previous sequence, it must
		// come before a sequence starting at X.
		return lt.rows[i].EndSequence && !lt.rows[j].EndSequence
	})
	for _, r := range lt.rows {
		if !r.EndSequence && r.File != "" {
			lt.files[r.File] = struct{}{}
		}
	}
	return lt
}

// Len returns the number of rows.
func (lt *LineTable) Len() int {
	if lt == nil {
		return 0
	}
	return len(lt.rows)
}

// Find returns the row covering pc.
func (lt *LineTable) Find(pc uint64) (LineEntry, bool) {
	if lt == nil || len(lt.rows) == 0 {
		return LineEntry{}, false
	}
	i := sort.Search(len(lt.rows), func(i int) bool { return lt.rows[i].Address > pc })
	if i == 0 {
		return LineEntry{}, false
	}
	r := lt.rows[i-1]
	if r.EndSequence {
		return LineEntry{}, false
	}
	return r, true
}

// Files returns every source file mentioned by the table, sorted.
func (lt *LineTable) Files() []string {
	if lt == nil {
		return nil
	}
	r := make([]string, 0, len(lt.files))
	for f := range lt.files {
		r = append(r, f)
	}
	sort.Strings(r)
	return r
}

// matchFile reports whether the table file name matches what the user
// typed: the same path, a path suffix on a separator boundary, or the same
// base name.
func matchFile(tableFile, userFile string) bool {
	if tableFile == userFile {
		return true
	}
	clean := filepath.Clean(userFile)
	if tableFile == clean {
		return true
	}
	if strings.HasSuffix(tableFile, "/"+strings.TrimPrefix(clean, "./")) {
		return true
	}
	if !strings.Contains(userFile, "/") {
		return filepath.Base(tableFile) == userFile
	}
	return false
}

// LineToPC returns the lowest address of a row for file:line. Rows marked
// is_stmt are preferred.
func (lt *LineTable) LineToPC(file string, line int) (uint64, bool) {
	if lt == nil {
		return 0, false
	}
	var best, bestStmt uint64
	found, foundStmt := false, false
	for _, r := range lt.rows {
		if r.EndSequence || r.Line != line || !matchFile(r.File, file) {
			continue
		}
		if r.IsStmt && (!foundStmt || r.Address < bestStmt) {
			bestStmt, foundStmt = r.Address, true
		}
		if !found || r.Address < best {
			best, found = r.Address, true
		}
	}
	if foundStmt {
		return bestStmt, true
	}
	return best, found
}
