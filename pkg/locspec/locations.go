package locspec

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tkyk0317/r-debugger/pkg/bininfo"
)

// Resolver answers the symbol and line queries needed to resolve a
// location. Addresses are the ones of the running process, *proc.Target
// implements it.
type Resolver interface {
	PCToLocation(pc uint64) bininfo.Location
	LookupFunc(name string) (*bininfo.Function, error)
	LineToPC(file string, line int) (uint64, *bininfo.Function, error)
	Functions() []*bininfo.Function
}

// LocationSpec is an interface that represents a parsed location spec string.
type LocationSpec interface {
	// Find returns all locations that match the location spec. cur is the
	// location the target is stopped at, it is used by relative specs.
	Find(r Resolver, cur bininfo.Location) ([]bininfo.Location, error)
}

// NormalLocationSpec represents a basic location spec.
// This can be a file:line, a function or func:line.
type NormalLocationSpec struct {
	Base       string
	LineOffset int
}

// RegexLocationSpec represents a regular expression
// location expression such as /^myfunc$/.
type RegexLocationSpec struct {
	FuncRegex string
}

// AddrLocationSpec represents an address when used
// as a location spec.
type AddrLocationSpec struct {
	Addr uint64
}

// OffsetLocationSpec represents a location spec that
// is an offset of the current location (file:line).
type OffsetLocationSpec struct {
	Offset int
}

// LineLocationSpec represents a line number in the current file.
type LineLocationSpec struct {
	Line int
}

// Parse will turn locStr into a parsed LocationSpec.
func Parse(locStr string) (LocationSpec, error) {
	rest := strings.TrimSpace(locStr)

	malformed := func(reason string) error {
		//lint:ignore ST1005 backwards compatibility
		return fmt.Errorf("Malformed breakpoint location \"%s\" at %d: %s", locStr, len(locStr)-len(rest), reason)
	}

	if len(rest) <= 0 {
		return nil, malformed("empty string")
	}

	switch rest[0] {
	case '+', '-':
		offset, err := strconv.Atoi(rest)
		if err != nil {
			return nil, malformed(err.Error())
		}
		return &OffsetLocationSpec{offset}, nil

	case '/':
		if len(rest) > 1 && rest[len(rest)-1] == '/' {
			rx, rest := readRegex(rest[1:])
			if len(rest) == 0 {
				return nil, malformed("non-terminated regular expression")
			}
			if len(rest) > 1 {
				return nil, malformed("no line offset can be specified for regular expression locations")
			}
			return &RegexLocationSpec{rx}, nil
		}
		return parseLocationSpecDefault(locStr, rest)

	case '*':
		addr, err := ParseValue(rest[1:])
		if err != nil {
			return nil, malformed(err.Error())
		}
		return &AddrLocationSpec{Addr: addr}, nil
	}

	if strings.HasPrefix(rest, "0x") || strings.HasPrefix(rest, "0X") {
		addr, err := strconv.ParseUint(rest[2:], 16, 64)
		if err != nil {
			return nil, malformed(err.Error())
		}
		return &AddrLocationSpec{Addr: addr}, nil
	}

	return parseLocationSpecDefault(locStr, rest)
}

func parseLocationSpecDefault(locStr, rest string) (LocationSpec, error) {
	malformed := func(reason string) error {
		//lint:ignore ST1005 backwards compatibility
		return fmt.Errorf("Malformed breakpoint location \"%s\" at %d: %s", locStr, len(locStr)-len(rest), reason)
	}

	if n, err := strconv.Atoi(rest); err == nil {
		if n <= 0 {
			return nil, malformed("line number must be positive")
		}
		return &LineLocationSpec{n}, nil
	}

	spec := &NormalLocationSpec{Base: rest, LineOffset: -1}

	// C++ names contain "::", only a trailing ":<number>" is a line.
	i := strings.LastIndex(rest, ":")
	if i < 0 || (i > 0 && rest[i-1] == ':') {
		return spec, nil
	}
	if i == 0 {
		return nil, malformed("empty file or function name")
	}
	spec.Base = rest[:i]
	var err error
	spec.LineOffset, err = strconv.Atoi(rest[i+1:])
	if err != nil || spec.LineOffset <= 0 {
		return nil, malformed("line offset negative or not a number")
	}
	return spec, nil
}

func readRegex(in string) (rx string, rest string) {
	out := make([]rune, 0, len(in))
	escaped := false
	for i, ch := range in {
		if escaped {
			if ch == '/' {
				out = append(out, '/')
			} else {
				out = append(out, '\\', ch)
			}
			escaped = false
		} else {
			switch ch {
			case '\\':
				escaped = true
			case '/':
				return string(out), in[i:]
			default:
				out = append(out, ch)
			}
		}
	}
	return string(out), ""
}

// ParseValue parses a number typed by the user. Numbers are decimal, or
// hexadecimal with a 0x prefix. A bare string of hex digits that is not a
// valid decimal number, such as "ff", is also read as hexadecimal.
func ParseValue(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v, nil
	}
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return uint64(v), nil
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

// AmbiguousLocationError is returned when the location spec
// should only return one location but returns multiple instead.
type AmbiguousLocationError struct {
	Location   string
	Candidates []bininfo.Location
}

func (ale AmbiguousLocationError) Error() string {
	var candidates []string
	for _, loc := range ale.Candidates {
		if loc.Fn != nil {
			candidates = append(candidates, loc.Fn.Name)
		} else {
			candidates = append(candidates, fmt.Sprintf("%#x", loc.PC))
		}
	}
	return fmt.Sprintf("Location \"%s\" ambiguous: %s", ale.Location, strings.Join(candidates, ", "))
}

// FindOne parses locStr and returns the single location it designates.
func FindOne(r Resolver, cur bininfo.Location, locStr string) (bininfo.Location, error) {
	spec, err := Parse(locStr)
	if err != nil {
		return bininfo.Location{}, err
	}
	locs, err := spec.Find(r, cur)
	if err != nil {
		return bininfo.Location{}, err
	}
	switch len(locs) {
	case 0:
		return bininfo.Location{}, &bininfo.SymbolNotFoundError{Name: locStr}
	case 1:
		return locs[0], nil
	}
	return bininfo.Location{}, AmbiguousLocationError{Location: locStr, Candidates: locs}
}

func locationAt(r Resolver, pc uint64) bininfo.Location {
	loc := r.PCToLocation(pc)
	loc.PC = pc
	return loc
}

// Find returns the function, the file:line or the line of the file
// declaring the function designated by the spec.
func (loc *NormalLocationSpec) Find(r Resolver, _ bininfo.Location) ([]bininfo.Location, error) {
	if loc.LineOffset < 0 {
		fn, err := r.LookupFunc(loc.Base)
		if err != nil {
			return nil, err
		}
		return []bininfo.Location{locationAt(r, fn.Entry)}, nil
	}

	pc, _, err := r.LineToPC(loc.Base, loc.LineOffset)
	if err != nil {
		var snf *bininfo.SymbolNotFoundError
		if !errors.As(err, &snf) {
			return nil, err
		}
		fn, ferr := r.LookupFunc(loc.Base)
		if ferr != nil || fn.File == "" {
			return nil, err
		}
		if pc, _, err = r.LineToPC(fn.File, loc.LineOffset); err != nil {
			return nil, err
		}
	}
	return []bininfo.Location{locationAt(r, pc)}, nil
}

// Find will search all functions in the target program and filter them via the
// regex location spec. Only functions matching the regex will be returned.
func (loc *RegexLocationSpec) Find(r Resolver, _ bininfo.Location) ([]bininfo.Location, error) {
	regex, err := regexp.Compile(loc.FuncRegex)
	if err != nil {
		return nil, fmt.Errorf("invalid filter argument: %s", err.Error())
	}
	var locs []bininfo.Location
	for _, fn := range r.Functions() {
		if regex.MatchString(fn.Name) {
			locs = append(locs, locationAt(r, fn.Entry))
		}
	}
	return locs, nil
}

// Find returns the location of the address.
func (loc *AddrLocationSpec) Find(r Resolver, _ bininfo.Location) ([]bininfo.Location, error) {
	return []bininfo.Location{locationAt(r, loc.Addr)}, nil
}

// Find returns the location after adding the offset amount to the current line number.
func (loc *OffsetLocationSpec) Find(r Resolver, cur bininfo.Location) ([]bininfo.Location, error) {
	if cur.File == "" || cur.Line == 0 {
		return nil, fmt.Errorf("could not determine current location")
	}
	if loc.Offset == 0 {
		return []bininfo.Location{cur}, nil
	}
	pc, _, err := r.LineToPC(cur.File, cur.Line+loc.Offset)
	if err != nil {
		return nil, err
	}
	return []bininfo.Location{locationAt(r, pc)}, nil
}

// Find will return the location at the given line in the current file.
func (loc *LineLocationSpec) Find(r Resolver, cur bininfo.Location) ([]bininfo.Location, error) {
	if cur.File == "" {
		return nil, fmt.Errorf("could not determine current location")
	}
	pc, _, err := r.LineToPC(cur.File, loc.Line)
	if err != nil {
		return nil, err
	}
	return []bininfo.Location{locationAt(r, pc)}, nil
}
