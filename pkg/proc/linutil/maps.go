package linutil

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Mapping is one line of /proc/<pid>/maps.
type Mapping struct {
	Start, End uint64
	Perms      string
	Offset     uint64
	Dev        string
	Inode      uint64
	Path       string
}

// Executable returns true if the mapping has execute permission.
func (m Mapping) Executable() bool {
	return strings.Contains(m.Perms, "x")
}

// Contains returns true if addr is inside the mapping.
func (m Mapping) Contains(addr uint64) bool {
	return addr >= m.Start && addr < m.End
}

// ParseMaps parses the format of /proc/<pid>/maps:
//
//	address           perms offset  dev   inode   pathname
//	00400000-00452000 r-xp 00000000 08:02 173521  /usr/bin/dbus-daemon
func ParseMaps(r io.Reader) ([]Mapping, error) {
	var maps []Mapping
	s := bufio.NewScanner(r)
	lineno := 0
	for s.Scan() {
		lineno++
		line := s.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			return nil, fmt.Errorf("maps line %d: malformed %q", lineno, line)
		}
		var m Mapping
		rng := strings.SplitN(fields[0], "-", 2)
		if len(rng) != 2 {
			return nil, fmt.Errorf("maps line %d: malformed address range %q", lineno, fields[0])
		}
		var err error
		if m.Start, err = strconv.ParseUint(rng[0], 16, 64); err != nil {
			return nil, fmt.Errorf("maps line %d: %w", lineno, err)
		}
		if m.End, err = strconv.ParseUint(rng[1], 16, 64); err != nil {
			return nil, fmt.Errorf("maps line %d: %w", lineno, err)
		}
		m.Perms = fields[1]
		if m.Offset, err = strconv.ParseUint(fields[2], 16, 64); err != nil {
			return nil, fmt.Errorf("maps line %d: %w", lineno, err)
		}
		m.Dev = fields[3]
		if m.Inode, err = strconv.ParseUint(fields[4], 10, 64); err != nil {
			return nil, fmt.Errorf("maps line %d: %w", lineno, err)
		}
		if len(fields) > 5 {
			// the path may contain spaces
			m.Path = strings.Join(fields[5:], " ")
		}
		maps = append(maps, m)
	}
	return maps, s.Err()
}

// ReadMaps returns the memory mappings of process pid.
func ReadMaps(pid int) ([]Mapping, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseMaps(f)
}
