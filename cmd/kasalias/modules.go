package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"kasalias/internal/objcopy"
	"kasalias/internal/pipeline"
)

func cmdModules(args []string) error {
	fs := pflag.NewFlagSet("modules", pflag.ContinueOnError)
	stateDir := fs.String("state-dir", "", "journal and snapshot directory")
	resolver := fs.String("addr2line", "", "debug-info resolver binary")
	nmPath := fs.String("nm", "nm", "symbol dumper binary")
	objdumpPath := fs.String("objdump", "objdump", "section lister binary")
	objcopyPath := fs.String("objcopy", "objcopy", "symbol editor binary")
	batchLimit := fs.Int("batch-limit", objcopy.DefaultBatchLimit, "aliases per editor invocation")
	extra := fs.StringArray("module", nil, "extra out-of-tree module object (repeatable)")
	basedir := fs.String("basedir", "", "source prefix stripped from resolved locations")
	separator := fs.String("separator", "@", "alias separator character")
	dataMode := fs.Bool("data", false, "alias duplicated data symbols too")
	linkerMap := fs.String("linker-map", "", "linker map for fallback attribution")
	report := fs.String("report", "", "JSON run report destination")
	excludes := fs.StringArray("exclude", nil, "exclusion pattern (replaces the built-in list)")
	verbose := fs.Bool("verbose", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *stateDir == "" {
		return fmt.Errorf("--state-dir is required")
	}
	if *resolver == "" {
		return fmt.Errorf("--addr2line is required")
	}
	if *batchLimit < 1 {
		return fmt.Errorf("--batch-limit must be at least 1")
	}
	sep, err := parseSeparator(*separator)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(pipeline.Config{
		StateDir:    *stateDir,
		Modules:     *extra,
		Addr2line:   *resolver,
		NmPath:      *nmPath,
		ObjdumpPath: *objdumpPath,
		ObjcopyPath: *objcopyPath,
		BaseDir:     *basedir,
		Separator:   sep,
		DataMode:    *dataMode,
		BatchLimit:  *batchLimit,
		Excludes:    *excludes,
		LinkerMap:   *linkerMap,
		Report:      *report,
	}, newLogger(*verbose))
	return p.Modules(ctx)
}
