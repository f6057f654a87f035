package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/tkyk0317/r-debugger/pkg/config"
	"github.com/tkyk0317/r-debugger/pkg/logflags"
	"github.com/tkyk0317/r-debugger/pkg/proc"
	"github.com/tkyk0317/r-debugger/pkg/terminal/colorize"
)

const (
	historyFile                 string = ".rdbg_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiBlack     = 30
	ansiRed       = 31
	ansiGreen     = 32
	ansiYellow    = 33
	ansiBlue      = 34
	ansiMagenta   = 35
	ansiCyan      = 36
	ansiWhite     = 37
	ansiBrBlack   = 90
	ansiBrRed     = 91
	ansiBrGreen   = 92
	ansiBrYellow  = 93
	ansiBrBlue    = 94
	ansiBrMagenta = 95
	ansiBrCyan    = 96
	ansiBrWhite   = 97
)

func validLineColor(c int) bool {
	return (c >= ansiBlack && c <= ansiWhite) || (c >= ansiBrBlack && c <= ansiBrWhite)
}

// interrupter is implemented by process backends that can be stopped
// while they run.
type interrupter interface {
	Interrupt() error
}

// Term represents the terminal running rdbg.
type Term struct {
	target   *proc.Target
	conf     *config.Config
	prompt   string
	line     *liner.State
	input    *bufio.Scanner
	cmds     *Commands
	dumb     bool
	stdout   *pagingWriter
	stderr   io.Writer
	InitFile string

	colorEscapes map[colorize.Style]string
	sources      *sourceCache

	cmdNames  *trie.Trie
	funcNames *trie.Trie

	runningMu sync.Mutex
	running   bool

	log logflags.Logger
}

// New returns a new Term reading commands from the standard input. Line
// editing and history are only enabled when stdin is a terminal.
func New(target *proc.Target, conf *config.Config) *Term {
	var line *liner.State
	var in *bufio.Scanner
	if isatty.IsTerminal(os.Stdin.Fd()) {
		line = liner.NewLiner()
	} else {
		in = bufio.NewScanner(os.Stdin)
	}

	var w io.Writer
	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb" || !isatty.IsTerminal(os.Stdout.Fd())
	if dumb {
		w = os.Stdout
	} else {
		w = colorable.NewColorableStdout()
	}
	return newTerm(target, conf, line, in, w, os.Stderr, dumb)
}

func newTerm(target *proc.Target, conf *config.Config, line *liner.State, in *bufio.Scanner, out, errOut io.Writer, dumb bool) *Term {
	if conf == nil {
		conf = &config.Config{}
	}

	cmds := DebugCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if !validLineColor(conf.SourceListLineColor) {
		conf.SourceListLineColor = ansiBlue
	}

	t := &Term{
		target:  target,
		conf:    conf,
		prompt:  "(rdbg) ",
		line:    line,
		input:   in,
		cmds:    cmds,
		dumb:    dumb,
		stdout:  &pagingWriter{w: out},
		stderr:  errOut,
		sources: newSourceCache(sourceCacheSize),
		log:     logflags.DebuggerLogger(),
	}

	if !dumb {
		t.colorEscapes = map[colorize.Style]string{
			colorize.NormalStyle:  terminalResetEscapeCode,
			colorize.KeywordStyle: fmt.Sprintf(terminalHighlightEscapeCode, ansiYellow),
			colorize.StringStyle:  fmt.Sprintf(terminalHighlightEscapeCode, ansiGreen),
			colorize.NumberStyle:  fmt.Sprintf(terminalHighlightEscapeCode, ansiBrCyan),
			colorize.CommentStyle: fmt.Sprintf(terminalHighlightEscapeCode, ansiBrMagenta),
			colorize.ArrowStyle:   fmt.Sprintf(terminalHighlightEscapeCode, ansiYellow),
			colorize.LineNoStyle:  fmt.Sprintf(terminalHighlightEscapeCode, conf.SourceListLineColor),
		}
	}

	t.buildCompletions()
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

// buildCompletions indexes command aliases and function names for tab
// completion.
func (t *Term) buildCompletions() {
	t.cmdNames = trie.New()
	for _, cmd := range t.cmds.cmds {
		for _, alias := range cmd.aliases {
			if _, ok := t.cmdNames.Find(alias); !ok {
				t.cmdNames.Add(alias, nil)
			}
		}
	}
	t.funcNames = trie.New()
	if t.target == nil {
		return
	}
	for _, fn := range t.target.BinInfo.Symbols.Functions() {
		for _, name := range []string{fn.Name, fn.ShortName} {
			if name == "" {
				continue
			}
			if _, ok := t.funcNames.Find(name); !ok {
				t.funcNames.Add(name, nil)
			}
		}
	}
}

// locationCommands take a location as their argument.
var locationCommands = map[string]bool{
	"break": true, "clear": true, "clearall": true, "list": true, "disassemble": true,
}

// complete returns the candidates for the word under the cursor: command
// names for the first word, function names for the argument of a command
// taking a location.
func (t *Term) complete(line string, pos int) (head string, completions []string, tail string) {
	if pos > len(line) {
		pos = len(line)
	}
	head, tail = line[:pos], line[pos:]
	start := strings.LastIndexAny(head, " \t") + 1
	word := head[start:]
	head = head[:start]

	fields := strings.Fields(head)
	switch {
	case len(fields) == 0:
		completions = t.cmdNames.PrefixSearch(strings.ToLower(word))
	case len(fields) == 1 && locationCommands[t.cmds.name(fields[0])]:
		completions = t.funcNames.PrefixSearch(word)
	}
	sort.Strings(completions)
	return head, completions, tail
}

func (t *Term) setRunning(running bool) {
	t.runningMu.Lock()
	t.running = running
	t.runningMu.Unlock()
}

// run executes fn, which lets the target run. SIGINT stops the target
// while fn is in progress.
func (t *Term) run(fn func() (*proc.StopEvent, error)) (*proc.StopEvent, error) {
	t.setRunning(true)
	defer t.setRunning(false)
	return fn()
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.runningMu.Lock()
		running := t.running
		t.runningMu.Unlock()
		if !running || t.target == nil {
			continue
		}
		fmt.Fprintf(t.stderr, "received SIGINT, stopping process (will not forward signal)\n")
		p, ok := t.target.Process().(interrupter)
		if !ok {
			continue
		}
		if err := p.Interrupt(); err != nil {
			fmt.Fprintf(t.stderr, "%v\n", err)
		}
	}
}

// Run begins running rdbg in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	// Stop the target on SIGINT
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	if t.line != nil {
		t.line.SetWordCompleter(t.complete)
		t.loadHistory()
	}

	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			var fe *proc.FatalError
			if errors.As(err, &fe) {
				fmt.Fprintln(t.stderr, err)
				t.handleExit()
				return 1, err
			}
			fmt.Fprintf(t.stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			var fe *proc.FatalError
			if errors.As(err, &fe) {
				fmt.Fprintln(t.stderr, err)
				t.handleExit()
				return 1, err
			}
			var pe proc.ErrProcessExited
			if errors.As(err, &pe) {
				fmt.Fprintln(t.stderr, err.Error())
			} else {
				fmt.Fprintf(t.stderr, "Command failed: %s\n", err)
			}
		}
	}
}

// Println prints a line to the terminal.
func (t *Term) Println(prefix, str string) {
	if !t.dumb {
		terminalColorEscapeCode := fmt.Sprintf(terminalHighlightEscapeCode, t.conf.SourceListLineColor)
		prefix = fmt.Sprintf("%s%s%s", terminalColorEscapeCode, prefix, terminalResetEscapeCode)
	}
	fmt.Fprintf(t.stdout, "%s%s\n", prefix, str)
}

func (t *Term) promptForInput() (string, error) {
	if t.line == nil {
		if !t.input.Scan() {
			if err := t.input.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return strings.TrimSpace(t.input.Text()), nil
	}

	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) loadHistory() {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Fprintf(t.stderr, "Unable to load history file: %v.\n", err)
		return
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Fprintf(t.stderr, "Unable to open history file: %v. History will not be saved for this session.\n", err)
			return
		}
	}

	if _, err := t.line.ReadHistory(f); err != nil {
		t.log.Debugf("reading history: %v", err)
	}
	f.Close()
}

func (t *Term) saveHistory() {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Fprintln(t.stderr, "Error saving history file:", err)
		return
	}
	f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := t.line.WriteHistory(f); err != nil {
		fmt.Fprintln(t.stderr, "readline history error:", err)
	}
}

// handleExit saves the history and kills the target if it is still
// alive.
func (t *Term) handleExit() (int, error) {
	if t.line != nil {
		t.saveHistory()
	}
	if t.target == nil {
		return 0, nil
	}
	if _, exited := t.target.Exited(); !exited {
		if err := t.target.Kill(); err != nil {
			return 1, err
		}
	}
	return 0, nil
}
