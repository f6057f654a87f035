package linutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	_AT_NULL  = 0
	_AT_PHDR  = 3
	_AT_ENTRY = 9
)

// Auxv is a parsed auxiliary vector.
type Auxv map[uint64]uint64

// ParseAuxv decodes the (tag, value) pairs of an auxiliary vector up to
// AT_NULL. For a description of the format see System V Application
// Binary Interface, AMD64 Architecture Processor Supplement, section
// 3.4.3.
func ParseAuxv(auxv []byte, ptrSize int) (Auxv, error) {
	rd := bytes.NewBuffer(auxv)
	r := Auxv{}
	for {
		tag, err := readUintRaw(rd, binary.LittleEndian, ptrSize)
		if err != nil {
			return r, err
		}
		val, err := readUintRaw(rd, binary.LittleEndian, ptrSize)
		if err != nil {
			return r, err
		}
		if tag == _AT_NULL {
			return r, nil
		}
		r[tag] = val
	}
}

// EntryPointFromAuxv searches the elf auxiliary vector for the entry point
// address.
func EntryPointFromAuxv(auxv []byte, ptrSize int) uint64 {
	a, _ := ParseAuxv(auxv, ptrSize)
	return a[_AT_ENTRY]
}

// ReadEntryPoint returns AT_ENTRY of process pid.
func ReadEntryPoint(pid int) (uint64, error) {
	auxv, err := os.ReadFile(fmt.Sprintf("/proc/%d/auxv", pid))
	if err != nil {
		return 0, err
	}
	entry := EntryPointFromAuxv(auxv, 8)
	if entry == 0 {
		return 0, fmt.Errorf("no AT_ENTRY in auxiliary vector of %d", pid)
	}
	return entry, nil
}

// readUintRaw reads an integer of ptrSize bytes, with the specified byte order, from reader.
func readUintRaw(reader io.Reader, order binary.ByteOrder, ptrSize int) (uint64, error) {
	switch ptrSize {
	case 4:
		var n uint32
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return uint64(n), nil
	case 8:
		var n uint64
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return n, nil
	}
	return 0, fmt.Errorf("not supported ptr size %d", ptrSize)
}
