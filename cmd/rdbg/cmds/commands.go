package cmds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tkyk0317/r-debugger/pkg/config"
	"github.com/tkyk0317/r-debugger/pkg/logflags"
	"github.com/tkyk0317/r-debugger/pkg/proc"
	"github.com/tkyk0317/r-debugger/pkg/proc/native"
	"github.com/tkyk0317/r-debugger/pkg/strace"
	"github.com/tkyk0317/r-debugger/pkg/terminal"
	"github.com/tkyk0317/r-debugger/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// initFile is the path to initialization file.
	initFile string
	// workingDir is the working directory for running the program.
	workingDir string
	// redirects specifies redirect rules for stdin, stdout and stderr
	redirects []string

	traceShowPC      bool
	traceFilter      string
	traceStringLimit int

	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const rdbgCommandLongDesc = `rdbg is a debugger for native ELF programs.

It runs a program under ptrace(2) in one of two modes: 'trace' prints every
system call the program makes, 'dbg' starts an interactive session with
breakpoints, stepping, backtraces and memory inspection.

Pass flags to the program you are debugging using ` + "`--`" + `, for example:

` + "`rdbg dbg ./loop -- 3`"

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	var err error
	conf, err = config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}

	// Main rdbg root command.
	rootCommand = &cobra.Command{
		Use:   "rdbg",
		Short: "rdbg is a debugger for native ELF programs.",
		Long:  rdbgCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugger logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'rdbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'rdbg help log').")
	rootCommand.PersistentFlags().StringVar(&workingDir, "wd", "", "Working directory for running the program.")
	rootCommand.PersistentFlags().StringArrayVarP(&redirects, "redirect", "r", []string{}, `Specifies a redirect rule for target process (see 'rdbg help redirect')`)

	// 'trace' subcommand.
	traceCommand := &cobra.Command{
		Use:   "trace [flags] <path/to/binary> [-- args...]",
		Short: "Execute a binary and print the system calls it makes.",
		Long: `Execute a binary and print the system calls it makes.

Each system call is printed to standard output when it returns, with its
decoded arguments and its return value. Signals received by the program are
printed and delivered to it. rdbg exits with the exit code of the program, or
128 plus the signal number if the program was killed by a signal.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a path to a binary")
			}
			return nil
		},
		Run: traceCmd,
	}
	traceCommand.Flags().BoolVar(&traceShowPC, "show-pc", false, "Prefix each system call with the address it was made from.")
	traceCommand.Flags().StringVarP(&traceFilter, "filter", "e", "", "Comma separated list of the system calls to print.")
	traceCommand.Flags().IntVarP(&traceStringLimit, "string-limit", "s", 0, "Maximum number of bytes printed for strings and buffers.")
	rootCommand.AddCommand(traceCommand)

	// 'dbg' subcommand.
	dbgCommand := &cobra.Command{
		Use:   "dbg [flags] <path/to/binary> [-- args...]",
		Short: "Execute a binary, and begin a debug session.",
		Long: `Execute a binary and begin a debug session.

The program is stopped before its first instruction. Type 'help' at the
prompt for the list of commands. The program should be compiled with -g to
get source level information.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a path to a binary")
			}
			return nil
		},
		Run: dbgCmd,
	}
	dbgCommand.Flags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")
	rootCommand.AddCommand(dbgCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rdbg Debugger\n%s\n", version.RdbgVersion)
			if verbose {
				fmt.Printf("%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	debugger	Log debugger commands
	ptrace		Log every ptrace request and wait status
	bininfo		Log recoverable errors reading the symbol table and .debug_line
	strace		Log the stops of the syscall tracer

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

Setting the environment variable ` + logflags.BacktraceEnv + `=1 prints a Go
stack trace when rdbg fails internally.
`,
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "redirect",
		Short: "Help about file redirection.",
		Long: `The standard file descriptors of the target process can be controlled using the '-r' option.

For example:

	-r stdin:/path/to/file
	-r stdout:/path/to/file
	-r stderr:/path/to/file

will redirect the standard input of the target process to /path/to/file, the
standard output to /path/to/file and the standard error to /path/to/file
respectively.

A rule without the 'stdin:' prefix is accepted for standard input:

	-r /path/to/file

Files redirected as standard output and standard error are truncated.
`,
	})

	rootCommand.SetGlobalNormalizationFunc(normalizeFlagName)
	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// normalizeFlagName accepts underscores in place of dashes in flag names.
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func traceCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		err := logflags.Setup(log, logOutput, logDest)
		defer logflags.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}

		processArgs, err := processArgs(cmd, args)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		filter, err := strace.ParseFilter(traceFilter)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		files, closeFiles, err := openRedirects(redirects)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer closeFiles()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		tracer := &strace.Tracer{
			Out:          os.Stdout,
			Filter:       filter,
			ShowPC:       traceShowPC || conf.ShowPC,
			MaxStringLen: traceStringLimit,
		}
		if tracer.MaxStringLen <= 0 {
			tracer.MaxStringLen = conf.GetMaxStringLen()
		}
		return execTrace(ctx, tracer, processArgs, files)
	}()
	os.Exit(status)
}

// execTrace launches processArgs and traces it until it ends. It returns
// the exit code of rdbg.
func execTrace(ctx context.Context, tracer *strace.Tracer, processArgs []string, files native.Redirects) int {
	p, err := native.LaunchWithRedirects(processArgs, workingDir, files)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	tracer.Process = p
	status, err := tracer.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		if p.State().Alive() {
			p.Kill()
		}
		return 1
	}
	return status.ShellCode()
}

func dbgCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		err := logflags.Setup(log, logOutput, logDest)
		defer logflags.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}

		processArgs, err := processArgs(cmd, args)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		files, closeFiles, err := openRedirects(redirects)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer closeFiles()

		target, err := proc.Launch(launcher(files), processArgs, workingDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return execute(target, conf, os.Stderr)
	}()
	os.Exit(status)
}

// launcher returns a proc.LaunchFunc starting native processes with the
// given standard files.
func launcher(files native.Redirects) proc.LaunchFunc {
	return func(cmd []string, wd string) (proc.Process, error) {
		p, err := native.LaunchWithRedirects(cmd, wd, files)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// execute runs an interactive session on target and returns the exit
// code of rdbg.
func execute(target *proc.Target, conf *config.Config, errOut io.Writer) int {
	term := terminal.New(target, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Fprintln(errOut, err)
		var fe *proc.FatalError
		if errors.As(err, &fe) && logflags.Backtrace() {
			errOut.Write(debug.Stack())
		}
	}
	return status
}

// processArgs returns the command line of the target: the binary, which
// must be the only argument before "--", followed by everything after it.
func processArgs(cmd *cobra.Command, args []string) ([]string, error) {
	rdbgArgs, targetArgs := splitArgs(cmd, args)
	switch len(rdbgArgs) {
	case 0:
		return nil, errors.New("you must provide a path to a binary")
	case 1:
	default:
		return nil, fmt.Errorf("unexpected arguments %q, pass arguments to the program after --", strings.Join(rdbgArgs[1:], " "))
	}
	return append([]string{rdbgArgs[0]}, targetArgs...), nil
}

func splitArgs(cmd *cobra.Command, args []string) ([]string, []string) {
	if cmd.ArgsLenAtDash() >= 0 {
		return args[:cmd.ArgsLenAtDash()], args[cmd.ArgsLenAtDash():]
	}
	return args, []string{}
}

// parseRedirects parses the rules of the --redirect flag, into the names
// of the files used as stdin, stdout and stderr.
func parseRedirects(redirects []string) ([3]string, error) {
	r := [3]string{}
	names := [3]string{"stdin", "stdout", "stderr"}
	for _, redirect := range redirects {
		idx := 0
		for i, name := range names {
			pfx := name + ":"
			if strings.HasPrefix(redirect, pfx) {
				idx = i
				redirect = redirect[len(pfx):]
				break
			}
		}
		if r[idx] != "" {
			return r, fmt.Errorf("redirect error: %s redirected twice", names[idx])
		}
		r[idx] = redirect
	}
	return r, nil
}

// openRedirects opens the files named by the redirect rules. The returned
// function closes them.
func openRedirects(rules []string) (native.Redirects, func(), error) {
	var files native.Redirects
	closeFiles := func() {
		for _, f := range files {
			if f != nil {
				f.Close()
			}
		}
	}
	names, err := parseRedirects(rules)
	if err != nil {
		return files, closeFiles, err
	}
	for i, name := range names {
		if name == "" {
			continue
		}
		var f *os.File
		if i == 0 {
			f, err = os.Open(name)
		} else {
			f, err = os.Create(name)
		}
		if err != nil {
			closeFiles()
			return native.Redirects{}, func() {}, fmt.Errorf("redirect error: %v", err)
		}
		files[i] = f
	}
	return files, closeFiles, nil
}
