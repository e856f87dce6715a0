package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"kasalias/internal/pipeline"
)

func cmdCore(args []string) error {
	fs := pflag.NewFlagSet("core", pflag.ContinueOnError)
	nmData := fs.String("nm-data", "", "address-sorted symbol dump of the image")
	image := fs.String("image", "", "linked image the resolver runs against")
	outfile := fs.String("outfile", "", "decorated dump destination")
	stateDir := fs.String("state-dir", "", "journal and snapshot directory")
	modulesList := fs.String("modules-list", "", "file listing module objects, one per line")
	nmPath := fs.String("nm", "nm", "symbol dumper binary for listed modules")
	resolver := fs.String("addr2line", "", "debug-info resolver binary")
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
	if *nmData == "" {
		return fmt.Errorf("--nm-data is required")
	}
	if *image == "" {
		return fmt.Errorf("--image is required")
	}
	if *outfile == "" {
		return fmt.Errorf("--outfile is required")
	}
	if *stateDir == "" {
		return fmt.Errorf("--state-dir is required")
	}
	if *resolver == "" {
		return fmt.Errorf("--addr2line is required")
	}
	sep, err := parseSeparator(*separator)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(pipeline.Config{
		StateDir:    *stateDir,
		NmData:      *nmData,
		Image:       *image,
		Outfile:     *outfile,
		ModulesList: *modulesList,
		Addr2line:   *resolver,
		NmPath:      *nmPath,
		BaseDir:     *basedir,
		Separator:   sep,
		DataMode:    *dataMode,
		Excludes:    *excludes,
		LinkerMap:   *linkerMap,
		Report:      *report,
	}, newLogger(*verbose))
	return p.Core(ctx)
}
