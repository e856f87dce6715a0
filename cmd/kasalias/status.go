package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"kasalias/internal/journal"
)

func cmdStatus(args []string) error {
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
	stateDir := fs.String("state-dir", "", "journal and snapshot directory")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *stateDir == "" {
		return fmt.Errorf("--state-dir is required")
	}

	afs := afero.NewOsFs()
	j := journal.New(afs, *stateDir)
	if err := j.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Printf("no journal at %s\n", journal.JournalPath(*stateDir))
			return nil
		}
		return err
	}

	counts := map[journal.State]int{}
	for _, e := range j.Entries() {
		fmt.Printf("%-12s %s\n", e.State, e.Path)
		counts[e.State]++
	}
	fmt.Printf("\n%d modules: %d pending, %d in-progress, %d done\n",
		j.Len(), counts[journal.Pending], counts[journal.InProgress], counts[journal.Done])

	for _, path := range []string{journal.FrequencyPath(*stateDir), journal.SymbolsPath(*stateDir)} {
		ok, err := afero.Exists(afs, path)
		if err != nil {
			return err
		}
		state := "missing"
		if ok {
			state = "present"
		}
		fmt.Printf("%s: %s\n", path, state)
	}
	return nil
}
