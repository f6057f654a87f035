package proc

import "encoding/binary"

const wordSize = 8

// MemoryReadWriter reads and writes the memory of the target.
type MemoryReadWriter interface {
	ReadMemory(buf []byte, addr uint64) (n int, err error)
	WriteMemory(addr uint64, data []byte) (written int, err error)
}

// ReadWords fills buf with the memory at addr using a word granular read
// primitive. peek is called with aligned addresses only.
func ReadWords(peek func(addr uint64) (uint64, error), buf []byte, addr uint64) (int, error) {
	n := 0
	var word [wordSize]byte
	for n < len(buf) {
		cur := addr + uint64(n)
		aligned := cur &^ (wordSize - 1)
		w, err := peek(aligned)
		if err != nil {
			return n, err
		}
		binary.LittleEndian.PutUint64(word[:], w)
		n += copy(buf[n:], word[cur-aligned:])
	}
	return n, nil
}

// WriteWords writes data at addr using word granular primitives. Words
// that are only partially covered by data are read first so that the bytes
// around data are preserved.
func WriteWords(peek func(addr uint64) (uint64, error), poke func(addr, word uint64) error, addr uint64, data []byte) (int, error) {
	n := 0
	var word [wordSize]byte
	for n < len(data) {
		cur := addr + uint64(n)
		aligned := cur &^ (wordSize - 1)
		off := cur - aligned
		partial := off != 0 || len(data)-n < wordSize
		if partial {
			w, err := peek(aligned)
			if err != nil {
				return n, err
			}
			binary.LittleEndian.PutUint64(word[:], w)
		}
		c := copy(word[off:], data[n:])
		if err := poke(aligned, binary.LittleEndian.Uint64(word[:])); err != nil {
			return n, err
		}
		n += c
	}
	return n, nil
}
