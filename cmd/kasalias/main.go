package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"kasalias/internal/addr2line"
	"kasalias/internal/tools"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "core":
		err = cmdCore(os.Args[2:])
	case "modules":
		err = cmdModules(os.Args[2:])
	case "status":
		err = cmdStatus(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode keeps failure categories stable for build-system callers:
// 1 usage/input, 2 external tool, 3 resolver I/O, 4 interrupted.
func exitCode(err error) int {
	var terr *tools.ToolError
	switch {
	case errors.Is(err, context.Canceled):
		return 4
	case errors.As(err, &terr):
		return 2
	case errors.Is(err, addr2line.ErrResolver):
		return 3
	}
	return 1
}

func newLogger(verbose bool) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	opt := level.AllowInfo()
	if verbose {
		opt = level.AllowDebug()
	}
	return log.With(level.NewFilter(logger, opt), "ts", log.DefaultTimestampUTC)
}

func parseSeparator(s string) (byte, error) {
	if len(s) != 1 {
		return 0, fmt.Errorf("--separator must be a single character")
	}
	return s[0], nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `kasalias — alias synthesis for duplicated kernel symbols

Usage:
  kasalias core    --nm-data <file> --image <file> --outfile <file> --state-dir <dir> --addr2line <path>
  kasalias modules --state-dir <dir> --addr2line <path>
  kasalias status  --state-dir <dir>

core flags:
  --nm-data <file>       address-sorted symbol dump of the image
  --image <file>         linked image the resolver runs against
  --outfile <file>       decorated symbol dump to write
  --modules-list <file>  file listing module objects, one per line

modules flags:
  --objdump <path>       section lister binary (default objdump)
  --objcopy <path>       symbol editor binary (default objcopy)
  --batch-limit <n>      aliases per editor invocation (default 50)
  --module <file>        extra out-of-tree module object (repeatable)

shared flags:
  --state-dir <dir>      journal and snapshot directory
  --addr2line <path>     debug-info resolver binary
  --nm <path>            symbol dumper binary (default nm)
  --basedir <dir>        source prefix stripped from resolved locations
  --separator <c>        alias separator character (default @)
  --data                 alias duplicated data symbols too
  --linker-map <file>    fall back to map attribution for unresolved addresses
  --exclude <re>         exclusion pattern, repeatable (replaces the built-in list)
  --report <file>        write a JSON run report
  --verbose              debug logging
`)
}
