// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/tkyk0317/r-debugger/pkg/bininfo"
	"github.com/tkyk0317/r-debugger/pkg/locspec"
	"github.com/tkyk0317/r-debugger/pkg/proc"
	"github.com/tkyk0317/r-debugger/pkg/proc/linutil"
	"github.com/tkyk0317/r-debugger/pkg/terminal/colorize"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the rdbg terminal.
type Commands struct {
	cmds []command
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// disasmWindow is the number of bytes disassembled around an address that
// does not belong to a known function.
const disasmWindow = 64

// maxExamineLen is the largest amount of memory examinemem reads at once.
const maxExamineLen = 1000

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"break", "b"}, group: breakCmds, cmdFn: breakpoint, helpMsg: `Sets a breakpoint.

	break <location>

A location is one of:

	*<address>	the instruction at address, for example *0x401136
	0x<address>	same as *0x<address>
	<function>	the first instruction of the function
	<file>:<line>	the first statement of the line
	<line>	a line of the current file
	+<offset>	a line after the current line
	-<offset>	a line before the current line
	/<regex>/	every function matching the regular expression

See also: "help clear" and "help breakpoints"`},
		{aliases: []string{"clear", "d", "delete"}, group: breakCmds, cmdFn: clear, helpMsg: `Deletes breakpoint.

	clear <breakpoint id | location>`},
		{aliases: []string{"clearall"}, group: breakCmds, cmdFn: clearAll, helpMsg: `Deletes multiple breakpoints.

	clearall [<location>]

If called with the location argument it will delete all the breakpoints set at the specified location, otherwise it will delete every breakpoint.`},
		{aliases: []string{"breakpoints", "bp", "bl"}, group: breakCmds, cmdFn: breakpoints, helpMsg: "Print out info for active breakpoints."},
		{aliases: []string{"restart", "r"}, group: runCmds, cmdFn: restart, helpMsg: `Restart process.

	restart [-noargs | newargv...]

Kills the process and starts it again. Breakpoints are kept and installed again in the new process.

Arguments specified after restart replace the arguments of the previous run. Use "restart -noargs" to run the program without arguments.`},
		{aliases: []string{"continue", "c"}, group: runCmds, cmdFn: c.cont, helpMsg: `Run until breakpoint or program termination.

	continue

Press Ctrl-C to stop the program while it runs.`},
		{aliases: []string{"step", "s"}, group: runCmds, cmdFn: c.step, helpMsg: "Single step through program, entering the functions that have line information."},
		{aliases: []string{"stepi", "si"}, group: runCmds, cmdFn: c.stepInstruction, helpMsg: "Single step a single cpu instruction."},
		{aliases: []string{"next", "n"}, group: runCmds, cmdFn: c.next, helpMsg: "Step over to next source line."},
		{aliases: []string{"stepout", "finish"}, group: runCmds, cmdFn: c.stepout, helpMsg: "Step out of the current function."},
		{aliases: []string{"backtrace", "bt", "stack"}, group: stackCmds, cmdFn: stackCommand, helpMsg: `Print stack trace.

	backtrace [<depth>]

The default depth is the max-backtrace-depth configuration parameter.`},
		{aliases: []string{"registers", "regs"}, group: dataCmds, cmdFn: regsCommand, helpMsg: `Print contents of CPU registers.

	registers [<name>]`},
		{aliases: []string{"set"}, group: dataCmds, cmdFn: setCommand, helpMsg: `Changes the value of a register or of a global variable.

	set reg <name> <value>
	set var <symbol> <value>

Values are decimal numbers or hexadecimal numbers with a 0x prefix.`},
		{aliases: []string{"print", "p"}, group: dataCmds, cmdFn: printVar, helpMsg: `Print the value of a global variable.

	print <symbol | address>`},
		{aliases: []string{"examinemem", "x"}, group: dataCmds, cmdFn: examineMemoryCmd, helpMsg: `Examine raw memory at the given address.

	examinemem [-fmt <format>] [-count|-len <count>] [-size <size>] <address | symbol> [<count>]

Format represents the data format and the value is one of this list (default hex): bin(binary), oct(octal), dec(decimal), hex(hexadecimal).
Length is the number of values (default 1, or the size of the variable for a symbol), Size is the size of each value in bytes (default 1).

For example:

	x -fmt hex -count 20 -size 1 0xc00008af38
	x g_counter 4`},
		{aliases: []string{"disassemble", "disass"}, group: dataCmds, cmdFn: disassCommand, helpMsg: `Disassembler.

	disassemble [-a <start> <end>] [-l <location>] [<location>]

If no argument is specified the function containing the current PC is disassembled.

	-a <start> <end>	disassembles the specified address range
	-l <location>		disassembles the function containing the location

The syntax is set by the disassemble-flavor configuration parameter.`},
		{aliases: []string{"list", "ls", "l"}, group: otherCmds, cmdFn: listCommand, helpMsg: `Show source code.

	list [<location>]

Show source around current point or provided location.`},
		{aliases: []string{"info"}, group: dataCmds, cmdFn: infoCommand, helpMsg: `Print information about the target.

	info regs
	info sections
	info maps
	info breakpoints`},
		{aliases: []string{"funcs"}, group: otherCmds, cmdFn: funcs, helpMsg: `Print list of functions.

	funcs [<regex>]

If regex is specified only the functions matching it will be returned.`},
		{aliases: []string{"source"}, group: otherCmds, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of rdbg commands.

	source <path>`},
		{aliases: []string{"config"}, group: otherCmds, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"quit", "exit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the debugger.

	quit

The debugged process is killed if it is still running.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// If the command is an empty string it does nothing.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// name returns the name of the command matching cmdstr or an empty
// string.
func (c *Commands) name(cmdstr string) string {
	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.aliases[0]
		}
	}
	return ""
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var noCmdError = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return noCmdError
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return noCmdError
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

func split2PartsBySpace(s string) []string {
	v := strings.SplitN(s, " ", 2)
	for i := range v {
		v[i] = strings.TrimSpace(v[i])
	}
	return v
}

// splitArgs splits a command line into words, honoring quotes.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal commandline '%s'", args)
	}
	return v[0], nil
}

func restart(t *Term, args string) error {
	resetArgs, newArgv, err := parseNewArgv(args)
	if err != nil {
		return err
	}
	var cmdArgs []string
	if resetArgs {
		cmdArgs = newArgv
		if cmdArgs == nil {
			cmdArgs = []string{}
		}
	}

	oldPid := t.target.Pid()
	err = t.target.Restart(cmdArgs)
	if _, exited := t.target.Exited(); !exited && t.target.Pid() != oldPid {
		fmt.Fprintln(t.stdout, "Process restarted with PID", t.target.Pid())
	}
	return err
}

func parseNewArgv(args string) (resetArgs bool, newArgv []string, err error) {
	w, err := splitArgs(args)
	if err != nil {
		return false, nil, err
	}
	if len(w) == 0 {
		return false, nil, nil
	}
	if w[0] == "-noargs" {
		if len(w) > 1 {
			return false, nil, fmt.Errorf("too many arguments to restart")
		}
		return true, nil, nil
	}
	return true, w, nil
}

// runAndPrint lets the target run with fn and prints where it stopped.
func (t *Term) runAndPrint(fn func() (*proc.StopEvent, error)) error {
	ev, err := t.run(fn)
	if err != nil {
		return err
	}
	t.printStop(ev)
	return nil
}

func (c *Commands) cont(t *Term, args string) error {
	return t.runAndPrint(t.target.Continue)
}

func (c *Commands) step(t *Term, args string) error {
	return t.runAndPrint(t.target.Step)
}

func (c *Commands) stepInstruction(t *Term, args string) error {
	return t.runAndPrint(t.target.StepInstruction)
}

func (c *Commands) next(t *Term, args string) error {
	return t.runAndPrint(t.target.Next)
}

func (c *Commands) stepout(t *Term, args string) error {
	return t.runAndPrint(t.target.StepOut)
}

// currentLocation returns the location of the PC of the stopped target.
func (t *Term) currentLocation() (bininfo.Location, error) {
	regs, err := t.target.Registers()
	if err != nil {
		return bininfo.Location{}, err
	}
	loc := t.target.PCToLocation(regs.PC())
	loc.PC = regs.PC()
	return loc, nil
}

// findLocations resolves a location typed by the user. Relative locations
// are resolved against the current PC.
func (t *Term) findLocations(args string) ([]bininfo.Location, error) {
	spec, err := locspec.Parse(args)
	if err != nil {
		return nil, err
	}
	cur, _ := t.currentLocation()
	locs, err := spec.Find(t.target, cur)
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, &bininfo.SymbolNotFoundError{Name: args}
	}
	return locs, nil
}

func (t *Term) findLocation(args string) (bininfo.Location, error) {
	locs, err := t.findLocations(args)
	if err != nil {
		return bininfo.Location{}, err
	}
	if len(locs) > 1 {
		return bininfo.Location{}, locspec.AmbiguousLocationError{Location: args, Candidates: locs}
	}
	return locs[0], nil
}

func breakpoint(t *Term, args string) error {
	if args == "" {
		return fmt.Errorf("not enough arguments")
	}
	locs, err := t.findLocations(args)
	if err != nil {
		return err
	}
	for _, loc := range locs {
		bp, err := t.target.SetBreakpoint(loc.PC)
		if err != nil {
			return err
		}
		fmt.Fprintf(t.stdout, "%s set at %s\n", formatBreakpointName(bp), t.formatBreakpointLocation(bp))
	}
	return nil
}

func clear(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("not enough arguments")
	}
	var bp *proc.Breakpoint
	if id, err := strconv.Atoi(args); err == nil {
		bp, err = t.target.ClearBreakpointByID(id)
		if err != nil {
			return err
		}
	} else {
		loc, err := t.findLocation(args)
		if err != nil {
			return err
		}
		bp, err = t.target.ClearBreakpoint(loc.PC)
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(t.stdout, "%s cleared at %s\n", formatBreakpointName(bp), t.formatBreakpointLocation(bp))
	return nil
}

func clearAll(t *Term, args string) error {
	var locPCs map[uint64]struct{}
	if args != "" {
		locs, err := t.findLocations(args)
		if err != nil {
			return err
		}
		locPCs = make(map[uint64]struct{})
		for _, loc := range locs {
			locPCs[loc.PC] = struct{}{}
		}
	}

	for _, bp := range t.target.Breakpoints.List() {
		if locPCs != nil {
			if _, ok := locPCs[bp.Addr]; !ok {
				continue
			}
		}

		if _, err := t.target.ClearBreakpoint(bp.Addr); err != nil {
			fmt.Fprintf(t.stdout, "Couldn't delete %s at %s: %s\n", formatBreakpointName(bp), t.formatBreakpointLocation(bp), err)
			continue
		}
		fmt.Fprintf(t.stdout, "%s cleared at %s\n", formatBreakpointName(bp), t.formatBreakpointLocation(bp))
	}
	return nil
}

func breakpoints(t *Term, args string) error {
	for _, bp := range t.target.Breakpoints.List() {
		fmt.Fprintf(t.stdout, "%s at %v (%d)\n", formatBreakpointName(bp), t.formatBreakpointLocation(bp), bp.TotalHitCount)
	}
	return nil
}

// readValue parses an address or a number typed by the user.
func readValue(s string) (uint64, error) {
	v, err := locspec.ParseValue(strings.TrimPrefix(s, "*"))
	if err != nil {
		return 0, fmt.Errorf("wrong argument: %q is not a number", s)
	}
	return v, nil
}

// resolveAddress returns the address and the size of a global variable,
// or the address typed by the user with a size of 0.
func (t *Term) resolveAddress(s string) (name string, addr, size uint64, err error) {
	v, verr := t.target.LookupVariable(s)
	if verr == nil {
		return v.Name, v.Addr, v.Size, nil
	}
	addr, err = locspec.ParseValue(strings.TrimPrefix(s, "*"))
	if err != nil {
		return "", 0, 0, verr
	}
	return fmt.Sprintf("*%#x", addr), addr, 0, nil
}

// valueSize returns the number of bytes print and set read and write for
// a variable of the given size.
func valueSize(size uint64) int {
	if size == 0 || size > 8 {
		return 8
	}
	return int(size)
}

func printVar(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("not enough arguments")
	}
	name, addr, size, err := t.resolveAddress(args)
	if err != nil {
		return err
	}
	n := valueSize(size)
	buf := make([]byte, 8)
	if _, err := t.target.ReadMemory(buf[:n], addr); err != nil {
		return err
	}
	v := binary.LittleEndian.Uint64(buf)
	shift := uint(64 - 8*n)
	signed := int64(v<<shift) >> shift
	fmt.Fprintf(t.stdout, "%s = %d (%#x)\n", name, signed, v)
	return nil
}

func setCommand(t *Term, args string) error {
	v := strings.Fields(args)
	if len(v) != 3 {
		return fmt.Errorf("wrong number of arguments: set reg <name> <value> or set var <symbol> <value>")
	}
	val, err := readValue(v[2])
	if err != nil {
		return err
	}
	switch v[0] {
	case "reg", "register":
		return t.target.SetRegister(v[1], val)
	case "var", "variable":
		_, addr, size, err := t.resolveAddress(v[1])
		if err != nil {
			return err
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, val)
		_, err = t.target.WriteMemory(addr, buf[:valueSize(size)])
		return err
	}
	return fmt.Errorf("unknown set target %q, expected reg or var", v[0])
}

func examineMemoryCmd(t *Term, args string) error {
	v := strings.Fields(args)

	var (
		address  uint64
		varSize  uint64
		haveAddr bool
		ok       bool
	)

	// Default value
	priFmt := byte('x')
	count := 1
	size := 1
	countSet := false

	var positional []string
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case "-fmt":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -fmt")
			}
			fmtMapToPriFmt := map[string]byte{
				"oct":         'o',
				"octal":       'o',
				"hex":         'x',
				"hexadecimal": 'x',
				"dec":         'd',
				"decimal":     'd',
				"bin":         'b',
				"binary":      'b',
			}
			priFmt, ok = fmtMapToPriFmt[v[i]]
			if !ok {
				return fmt.Errorf("%q is not a valid format", v[i])
			}
		case "-count", "-len":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -count/-len")
			}
			var err error
			count, err = strconv.Atoi(v[i])
			if err != nil || count <= 0 {
				return fmt.Errorf("count/len must be a positive integer")
			}
			countSet = true
		case "-size":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -size")
			}
			var err error
			size, err = strconv.Atoi(v[i])
			if err != nil || size <= 0 || size > 8 {
				return fmt.Errorf("size must be a positive integer (<=8)")
			}
		default:
			if strings.HasPrefix(v[i], "-") && len(positional) == 0 {
				return fmt.Errorf("unknown option %q", v[i])
			}
			positional = append(positional, v[i])
		}
	}

	switch len(positional) {
	case 2:
		n, err := strconv.Atoi(positional[1])
		if err != nil || n <= 0 {
			return fmt.Errorf("count/len must be a positive integer")
		}
		count, countSet = n, true
		fallthrough
	case 1:
		var err error
		_, address, varSize, err = t.resolveAddress(positional[0])
		if err != nil {
			return err
		}
		haveAddr = true
	case 0:
	default:
		return fmt.Errorf("too many arguments to examinemem")
	}

	if !haveAddr {
		return fmt.Errorf("no address specified")
	}
	if !countSet && varSize > 0 {
		count = int((varSize + uint64(size) - 1) / uint64(size))
	}

	if count*size > maxExamineLen {
		return fmt.Errorf("read memory range (count*size) must be less than or equal to %d bytes", maxExamineLen)
	}

	memArea := make([]byte, count*size)
	n, err := t.target.ReadMemory(memArea, address)
	if err != nil {
		return err
	}
	fmt.Fprint(t.stdout, prettyExamineMemory(address, memArea[:n], priFmt, size))
	return nil
}

func funcs(t *Term, args string) error {
	var re *regexp.Regexp
	if args != "" {
		var err error
		re, err = regexp.Compile(args)
		if err != nil {
			return fmt.Errorf("invalid filter argument: %s", err)
		}
	}
	seen := make(map[string]bool)
	var names []string
	for _, fn := range t.target.Functions() {
		if seen[fn.Name] || (re != nil && !re.MatchString(fn.Name)) {
			continue
		}
		seen[fn.Name] = true
		names = append(names, fn.Name)
	}
	sort.Strings(names)
	t.stdout.PageMaybe(nil)
	defer t.stdout.Reset()
	for _, name := range names {
		fmt.Fprintln(t.stdout, name)
	}
	return nil
}

func regsCommand(t *Term, args string) error {
	regs, err := t.target.Registers()
	if err != nil {
		return err
	}
	if args != "" {
		v, err := regs.Get(args)
		if err != nil {
			return err
		}
		fmt.Fprintf(t.stdout, "%s = 0x%016x\n", args, v)
		return nil
	}
	fmt.Fprint(t.stdout, formatRegisters(regs.Slice()))
	return nil
}

func formatRegisters(regs []proc.Register) string {
	maxlen := 0
	for _, reg := range regs {
		if n := len(reg.Name); n > maxlen {
			maxlen = n
		}
	}

	var buf bytes.Buffer
	for _, reg := range regs {
		fmt.Fprintf(&buf, "%*s = 0x%016x", maxlen, reg.Name, reg.Value)
		if reg.Name == "eflags" {
			fmt.Fprintf(&buf, "\t%s", proc.FlagsString(reg.Value))
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

func infoCommand(t *Term, args string) error {
	switch args {
	case "regs", "registers":
		return regsCommand(t, "")
	case "sections":
		return infoSections(t)
	case "maps":
		return infoMaps(t)
	case "breakpoints", "break", "b":
		return breakpoints(t, "")
	case "":
		return fmt.Errorf("not enough arguments: info regs|sections|maps|breakpoints")
	}
	return fmt.Errorf("unknown info command %q", args)
}

func infoSections(t *Term) error {
	sections := t.target.BinInfo.Sections()
	if len(sections) == 0 {
		return errors.New("no section information")
	}
	t.stdout.PageMaybe(nil)
	defer t.stdout.Reset()
	w := tabwriter.NewWriter(t.stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "Idx\tName\tAddress\tOffset\tSize\tFlags")
	for i, s := range sections {
		addr := s.Addr
		if addr != 0 {
			addr += t.target.Bias()
		}
		fmt.Fprintf(w, "%d\t%s\t%#016x\t%#08x\t%#08x\t%s\n", i, s.Name, addr, s.Offset, s.Size, s.Flags)
	}
	return w.Flush()
}

func infoMaps(t *Term) error {
	if status, exited := t.target.Exited(); exited {
		return proc.ErrProcessExited{Pid: t.target.Pid(), Status: status}
	}
	maps, err := t.target.Process().Maps()
	if err != nil {
		return err
	}
	for _, m := range maps {
		fmt.Fprintf(t.stdout, "%#x-%#x %s %08x %s\n", m.Start, m.End, m.Perms, m.Offset, m.Path)
	}
	return nil
}

func stackCommand(t *Term, args string) error {
	depth := t.conf.GetMaxBacktraceDepth()
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n <= 0 {
			return fmt.Errorf("depth must be a positive number")
		}
		depth = n
	}
	stack, err := t.target.Stacktrace(depth)
	if err != nil {
		return err
	}
	t.stdout.PageMaybe(nil)
	defer t.stdout.Reset()
	printStack(t, t.stdout, stack, "")
	return nil
}

func listCommand(t *Term, args string) error {
	var (
		loc       bininfo.Location
		err       error
		showArrow bool
	)
	if args == "" {
		loc, err = t.currentLocation()
		showArrow = true
	} else {
		loc, err = t.findLocation(args)
	}
	if err != nil {
		return err
	}
	if loc.File == "" {
		return fmt.Errorf("no source information for %#x", loc.PC)
	}
	if !showArrow {
		fmt.Fprintf(t.stdout, "Showing %s:%d (PC: %#x)\n", t.formatPath(loc.File), loc.Line, loc.PC)
	}
	return t.printfile(loc.File, loc.Line, showArrow)
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}
	return c.executeFile(t, args)
}

var disasmUsageError = errors.New("wrong number of arguments: disassemble [-a <start> <end>] [-l <location>]")

// disassembleAround disassembles the function containing loc, or a short
// window starting at loc when no function is known there.
func (t *Term) disassembleAround(loc bininfo.Location) ([]proc.AsmInstruction, error) {
	if loc.Fn != nil && loc.Fn.End > loc.Fn.Entry {
		return t.target.Disassemble(loc.Fn.Entry, loc.Fn.End)
	}
	return t.target.Disassemble(loc.PC, loc.PC+disasmWindow)
}

func disassCommand(t *Term, args string) error {
	var cmd, rest string

	if args != "" {
		argv := split2PartsBySpace(args)
		switch {
		case len(argv) == 2 && (argv[0] == "-a" || argv[0] == "-l"):
			cmd, rest = argv[0], argv[1]
		case strings.HasPrefix(argv[0], "-"):
			return disasmUsageError
		default:
			cmd, rest = "-l", args
		}
	}

	flavor := proc.IntelFlavour
	if t.conf.GetDisassembleFlavor() == "gnu" {
		flavor = proc.GNUFlavour
	}

	var disasm []proc.AsmInstruction
	var disasmErr error

	switch cmd {
	case "":
		loc, err := t.currentLocation()
		if err != nil {
			return err
		}
		disasm, disasmErr = t.disassembleAround(loc)
	case "-a":
		v := strings.Fields(rest)
		if len(v) != 2 {
			return disasmUsageError
		}
		startpc, err := readValue(v[0])
		if err != nil {
			return err
		}
		endpc, err := readValue(v[1])
		if err != nil {
			return err
		}
		disasm, disasmErr = t.target.Disassemble(startpc, endpc)
	case "-l":
		loc, err := t.findLocation(rest)
		if err != nil {
			return err
		}
		disasm, disasmErr = t.disassembleAround(loc)
	}

	if disasmErr != nil {
		return disasmErr
	}

	t.stdout.PageMaybe(nil)
	defer t.stdout.Reset()
	disasmPrint(disasm, t.stdout, flavor, t.symLookup, true)

	return nil
}

// symLookup returns the function containing addr and its entry point.
func (t *Term) symLookup(addr uint64) (string, uint64) {
	loc := t.target.PCToLocation(addr)
	if loc.Fn == nil {
		return "", 0
	}
	return loc.Fn.Name, loc.Fn.Entry
}

func digits(n int) int {
	if n <= 0 {
		return 1
	}
	return int(math.Floor(math.Log10(float64(n)))) + 1
}

const stacktraceTruncatedMessage = "(truncated)"

func printStack(t *Term, out io.Writer, stack []proc.Stackframe, ind string) {
	if len(stack) == 0 {
		return
	}

	d := digits(len(stack) - 1)
	fmtstr := "%s%" + strconv.Itoa(d) + "d  0x%016x in %s\n"
	s := ind + strings.Repeat(" ", d+2+len(ind))

	for i := range stack {
		if stack[i].Err != nil {
			var tbe *proc.TruncatedBacktraceError
			if errors.As(stack[i].Err, &tbe) && tbe.Err == nil {
				fmt.Fprintf(out, "%s"+stacktraceTruncatedMessage+"\n", ind)
				continue
			}
			fmt.Fprintf(out, "%serror: %s\n", s, stack[i].Err)
			continue
		}
		fmt.Fprintf(out, fmtstr, ind, i, stack[i].PC, fnName(stack[i].Call))
		if stack[i].Call.File != "" {
			fmt.Fprintf(out, "%sat %s:%d\n", s, t.formatPath(stack[i].Call.File), stack[i].Call.Line)
		}
	}
}

func fnName(loc bininfo.Location) string {
	if loc.Fn == nil {
		return "??"
	}
	return loc.Fn.Name
}

// formatLocation returns "function file:line", or only the function when
// there is no line information.
func (t *Term) formatLocation(loc bininfo.Location) string {
	if loc.File == "" {
		return fnName(loc)
	}
	return fmt.Sprintf("%s %s:%d", fnName(loc), t.formatPath(loc.File), loc.Line)
}

// formatPath shortens paths below the working directory.
func (t *Term) formatPath(path string) string {
	wd, err := os.Getwd()
	if err != nil || !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(wd, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return "." + string(filepath.Separator) + rel
}

// printStop prints where the target stopped and the source around it.
func (t *Term) printStop(ev *proc.StopEvent) {
	if ev.Exited() {
		fmt.Fprintln(t.stdout, proc.ErrProcessExited{Pid: t.target.Pid(), Status: ev.Exit})
		return
	}
	loc, err := t.currentLocation()
	if err != nil {
		fmt.Fprintf(t.stderr, "could not read the current location: %v\n", err)
		return
	}
	switch {
	case ev.Breakpoint != nil:
		fmt.Fprintf(t.stdout, "> [%s] %s (hits: %d) (PC: %#x)\n", formatBreakpointName(ev.Breakpoint), t.formatLocation(loc), ev.Breakpoint.TotalHitCount, loc.PC)
	case ev.Reason == proc.StopSignal:
		fmt.Fprintf(t.stdout, "> stopped (signal %s) %s (PC: %#x)\n", linutil.SignalName(ev.Signal), t.formatLocation(loc), loc.PC)
	default:
		fmt.Fprintf(t.stdout, "> stopped (%s) %s (PC: %#x)\n", ev.Reason, t.formatLocation(loc), loc.PC)
	}
	if loc.File == "" {
		return
	}
	if err := t.printfile(loc.File, loc.Line, true); err != nil {
		t.log.Debugf("listing %s: %v", loc.File, err)
	}
}

func (t *Term) printfile(filename string, line int, showArrow bool) error {
	if filename == "" {
		return nil
	}

	lineCount := t.conf.GetSourceListLineCount()
	arrowLine := 0
	if showArrow {
		arrowLine = line
	}

	data, modTime, err := t.sources.get(filename)
	if err != nil {
		return err
	}

	if exe := t.target.BinInfo.Path; exe != "" {
		if fi, err := os.Stat(exe); err == nil && modTime.After(fi.ModTime()) {
			fmt.Fprintln(t.stdout, "Warning: listing may not match stale executable")
		}
	}

	return colorize.Print(t.stdout, filename, bytes.NewReader(data), line-lineCount, line+lineCount+1, arrowLine, t.colorEscapes, "")
}

// ExitRequestError is returned when the user
// exits rdbg.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			var fe *proc.FatalError
			if errors.As(err, &fe) {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}

func formatBreakpointName(bp *proc.Breakpoint) string {
	return fmt.Sprintf("Breakpoint %d", bp.ID)
}

func (t *Term) formatBreakpointLocation(bp *proc.Breakpoint) string {
	var out bytes.Buffer
	fmt.Fprintf(&out, "%#x", bp.Addr)
	if bp.FunctionName == "" && bp.File == "" {
		return out.String()
	}
	fmt.Fprintf(&out, " for ")
	switch {
	case strings.HasSuffix(bp.FunctionName, ")"):
		fmt.Fprintf(&out, "%s ", bp.FunctionName)
	case bp.FunctionName != "":
		fmt.Fprintf(&out, "%s() ", bp.FunctionName)
	}
	if bp.File != "" {
		fmt.Fprintf(&out, "%s:%d", t.formatPath(bp.File), bp.Line)
	}
	return strings.TrimSuffix(out.String(), " ")
}
