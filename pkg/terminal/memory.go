package terminal

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
)

// prettyExamineMemory formats memArea, read at address, as rows of values
// of size bytes each.
//
// format is one of 'b', 'o', 'd' and 'x'.
func prettyExamineMemory(address uint64, memArea []byte, format byte, size int) string {
	var (
		cols      int
		colFormat string
		colBytes  = size

		addrLen int
		addrFmt string
	)

	switch format {
	case 'b':
		cols = 4 // Avoid emitting rows that are too long when using binary format
		colFormat = fmt.Sprintf("%%0%db", colBytes*8)
	case 'o':
		cols = 8
		colFormat = fmt.Sprintf("0%%0%do", colBytes*3) // Always keep one leading zero for octal.
	case 'd':
		cols = 8
		colFormat = fmt.Sprintf("%%0%dd", colBytes*3)
	case 'x':
		cols = 8
		colFormat = fmt.Sprintf("0x%%0%dx", colBytes*2) // Always keep one leading '0x' for hex.
	default:
		return fmt.Sprintf("not supported format %q\n", string(format))
	}
	colFormat += "\t"

	l := len(memArea)
	rows := l / (cols * colBytes)
	if l%(cols*colBytes) != 0 {
		rows++
	}

	// Use the length of the last address so that every row is aligned.
	if l != 0 {
		addrLen = len(fmt.Sprintf("%x", address+uint64(l)))
	}
	addrFmt = "0x%0" + strconv.Itoa(addrLen) + "x:\t"

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 3, ' ', 0)

	for i := 0; i < rows; i++ {
		fmt.Fprintf(w, addrFmt, address)

		for j := 0; j < cols; j++ {
			offset := i*(cols*colBytes) + j*colBytes
			if offset+colBytes <= len(memArea) {
				fmt.Fprintf(w, colFormat, littleEndianUint(memArea[offset:offset+colBytes]))
			}
		}
		fmt.Fprintln(w, "")
		address += uint64(cols * colBytes)
	}
	w.Flush()
	return b.String()
}

func littleEndianUint(buf []byte) uint64 {
	var tmp [8]byte
	copy(tmp[:], buf)
	return binary.LittleEndian.Uint64(tmp[:])
}
