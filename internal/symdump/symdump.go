// Package symdump parses textual symbol-table dumps (nm output) and
// accounts symbol-name frequencies across any number of dumps.
package symdump

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Record is one symbol-table line. The address is kept both parsed and as
// the original hex text: downstream tools (addr2line queries, objcopy
// arguments) want the text exactly as the dumper printed it.
type Record struct {
	Addr     uint64
	AddrText string
	Kind     byte
	Name     string
}

// IsText reports whether the symbol lives in a text section.
func (r Record) IsText() bool { return r.Kind == 'T' || r.Kind == 't' }

// IsData reports whether the symbol lives in a data-family section
// (.data, .rodata or .bss).
func (r Record) IsData() bool {
	switch r.Kind {
	case 'D', 'd', 'R', 'r', 'B', 'b':
		return true
	}
	return false
}

// Global reports the linkage encoded in the kind letter's case.
func (r Record) Global() bool { return r.Kind >= 'A' && r.Kind <= 'Z' }

// Parse reads a symbol dump and returns its records in input order.
// Dumps are address-sorted by the producer and later stages rely on that
// order, so Parse never reorders. Lines with fewer than three fields, an
// unparsable address or a malformed kind letter are skipped: blank and
// malformed lines are expected in symbol dumps.
func Parse(r io.Reader) ([]Record, error) {
	var records []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		if len(fields[1]) != 1 {
			continue
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			continue
		}
		records = append(records, Record{
			Addr:     addr,
			AddrText: fields[0],
			Kind:     fields[1][0],
			// Symbol names may contain embedded spaces; rejoin the tail.
			Name: strings.Join(fields[2:], " "),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("symdump: scan: %w", err)
	}
	return records, nil
}

// Frequency counts how many times each symbol name occurs across every
// dump folded into it. Built once, read-only afterward.
type Frequency map[string]int

// Fold adds one dump's records to the count. It may be called once per
// scanned object; partitioning records across calls does not change the
// resulting counts.
func (f Frequency) Fold(records []Record) {
	for _, r := range records {
		f[r.Name]++
	}
}

// Duplicated reports whether name occurs more than once in the corpus.
func (f Frequency) Duplicated(name string) bool { return f[name] > 1 }
