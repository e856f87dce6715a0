// Package output writes aliasing results to files.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"kasalias/internal/symdump"
)

// WriteDump emits the symbol dump with aliases folded in: every input
// record prints unchanged and in order, and each alias follows its
// original immediately with the same address and kind. aliases runs
// parallel to records; an empty string means no alias.
func WriteDump(w io.Writer, records []symdump.Record, aliases []string) error {
	bw := bufio.NewWriter(w)
	for i, rec := range records {
		if _, err := fmt.Fprintf(bw, "%s %c %s\n", rec.AddrText, rec.Kind, rec.Name); err != nil {
			return fmt.Errorf("output: dump: %w", err)
		}
		if i < len(aliases) && aliases[i] != "" {
			if _, err := fmt.Fprintf(bw, "%s %c %s\n", rec.AddrText, rec.Kind, aliases[i]); err != nil {
				return fmt.Errorf("output: dump: %w", err)
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("output: dump: %w", err)
	}
	return nil
}

// Counts aggregates the per-run tallies.
type Counts struct {
	Scanned      int `json:"scanned"`
	Duplicates   int `json:"duplicates"`
	Aliased      int `json:"aliased"`
	NoDecoration int `json:"no_decoration"`
	NoSection    int `json:"no_section"`
	Excluded     int `json:"excluded"`
}

// ObjectReport is one object's slice of the run report.
type ObjectReport struct {
	Path    string `json:"path"`
	Aliased int    `json:"aliased"`
	Skipped string `json:"skipped,omitempty"`
}

// Report summarizes one aliasing action.
type Report struct {
	Action  string         `json:"action"`
	Objects []ObjectReport `json:"objects,omitempty"`
	Totals  Counts         `json:"totals"`
}

// WriteReportJSON writes the run report as indented JSON.
func WriteReportJSON(fs afero.Fs, path string, r *Report) error {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
