// Package filter decides which duplicate symbols are candidates for alias
// synthesis.
package filter

import (
	"fmt"

	"github.com/grafana/regexp"

	"kasalias/internal/sections"
	"kasalias/internal/symdump"
)

// DefaultExcludes matches symbol names that need no alias: either the
// compiler already made them unique with a per-unit counter, or they are
// instrumentation scaffolding nobody symbolizes by name. Decorating them
// only adds resolver load. The set is build-environment tuning, not a
// protocol requirement; override it through Config.Excludes.
var DefaultExcludes = []string{
	`^__compound_literal\.[0-9]+$`,
	`^__[wm]?key\.[0-9]+$`,
	`^_?__tpstrtab(_|\.)`,
	`^__UNIQUE_ID_`,
	`^__cfi_`,
	`^__pfx_`,
	`\.cfi_jt$`,
	`\.cfi$`,
	`\.[0-9]+$`,
}

// Config carries the filter tuning. Read-only after New.
type Config struct {
	// DataMode admits data-family symbols (.data/.rodata/.bss) in
	// addition to text symbols.
	DataMode bool
	// Excludes replaces DefaultExcludes when non-nil.
	Excludes []string
}

// Filter is a pure predicate over (record, section membership). The
// frequency check is deliberately not here: callers test Frequency first
// so unique names never reach the filter, let alone the resolver.
type Filter struct {
	dataMode bool
	excludes []*regexp.Regexp
}

// New compiles the exclusion patterns.
func New(cfg Config) (*Filter, error) {
	patterns := cfg.Excludes
	if patterns == nil {
		patterns = DefaultExcludes
	}
	f := &Filter{dataMode: cfg.DataMode}
	for _, pat := range patterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("filter: compile %q: %w", pat, err)
		}
		f.excludes = append(f.excludes, re)
	}
	return f, nil
}

// Candidate reports whether the record may be aliased in an object with
// the given section membership (nil when membership is unknown, as for
// the core image). Rules apply in order:
//
//  1. symbols in init/exit sections are rejected: their storage is
//     discarded after module load;
//  2. symbols absent from a known membership map are rejected: no
//     resolvable storage to alias;
//  3. without data mode only text symbols pass, with it data-family
//     kinds pass too, anything else never does;
//  4. names matching an exclusion pattern are rejected.
func (f *Filter) Candidate(rec symdump.Record, secs *sections.Map) bool {
	if secs.Discarded(rec.Name) {
		return false
	}
	if secs != nil {
		if _, ok := secs.SectionOf(rec.Name); !ok {
			return false
		}
	}
	if !rec.IsText() && !(f.dataMode && rec.IsData()) {
		return false
	}
	for _, re := range f.excludes {
		if re.MatchString(rec.Name) {
			return false
		}
	}
	return true
}
