// Package logflags configures the loggers of the individual rdbg layers.
package logflags

import (
	"errors"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"
)

var debugger = false
var ptrace = false
var binInfo = false
var strace = false
var backtrace = false

var logOut io.WriteCloser

// Debugger returns true if the debugger package should log.
func Debugger() bool {
	return debugger
}

// DebuggerLogger returns a logger for the debugger package.
func DebuggerLogger() Logger {
	return makeFlaggableLogger(debugger, Fields{"layer": "debugger"})
}

// Ptrace returns true if every request sent to the ptrace backend should
// be logged.
func Ptrace() bool {
	return ptrace
}

// PtraceLogger returns a logger for the native ptrace backend.
func PtraceLogger() Logger {
	return makeFlaggableLogger(ptrace, Fields{"layer": "ptrace"})
}

// BinInfo returns true if recoverable errors found while loading debug
// information should be logged.
func BinInfo() bool {
	return binInfo
}

// BinInfoLogger returns a logger for the bininfo package.
func BinInfoLogger() Logger {
	return makeFlaggableLogger(binInfo, Fields{"layer": "bininfo"})
}

// Strace returns true if the syscall tracer should log its stop handling.
func Strace() bool {
	return strace
}

// StraceLogger returns a logger for the syscall tracer.
func StraceLogger() Logger {
	return makeFlaggableLogger(strace, Fields{"layer": "strace"})
}

// Backtrace returns true if internal failures should be reported with a
// full Go stack trace.
func Backtrace() bool {
	return backtrace
}

// BacktraceEnv is the environment variable read by SetupBacktrace.
const BacktraceEnv = "RDBG_BACKTRACE"

// SetupBacktrace reads BacktraceEnv once. Any value other than "", "0" or
// "false" enables backtraces.
func SetupBacktrace() {
	switch v := strings.ToLower(os.Getenv(BacktraceEnv)); v {
	case "", "0", "false", "off":
		backtrace = false
	default:
		backtrace = true
	}
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "rdbg-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return err
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "debugger"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "debugger":
			debugger = true
		case "ptrace":
			ptrace = true
		case "bininfo":
			binInfo = true
		case "strace":
			strace = true
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}
