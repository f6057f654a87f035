package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/tkyk0317/r-debugger/cmd/rdbg/cmds"
	"github.com/tkyk0317/r-debugger/pkg/logflags"
)

func main() {
	logflags.SetupBacktrace()
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "rdbg: internal error: %v\n", r)
			if logflags.Backtrace() {
				os.Stderr.Write(debug.Stack())
			} else {
				fmt.Fprintf(os.Stderr, "run with %s=1 to print a backtrace\n", logflags.BacktraceEnv)
			}
			os.Exit(2)
		}
	}()
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
