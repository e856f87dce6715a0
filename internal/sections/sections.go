// Package sections maps symbols to the concrete sections that hold them
// inside one object file. Object files rarely carry a plain .text or
// .data: the real names come suffixed (.text.unlikely, .data.rel.ro), and
// init/exit sections are discarded after module load, so callers need both
// a symbol→section lookup and a discarded-membership test.
package sections

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Families are the section-name substrings worth aliasing into. A concrete
// section is retained when its name contains one of these and its size is
// non-zero.
var families = []string{".text", ".rodata", ".data", ".bss"}

// Lister runs the external section lister against an object file.
// Headers returns the section-header table ("show headers" mode); Symbols
// returns the symbol table restricted to one named section.
type Lister interface {
	Headers(ctx context.Context, object string) ([]byte, error)
	Symbols(ctx context.Context, object, section string) ([]byte, error)
}

// Section is one row of the section-header listing.
type Section struct {
	Name string
	Size uint64
}

// ParseHeaders extracts sections from a header listing. Rows start with a
// numeric index column; every other line (banner, flag continuation) is
// skipped.
func ParseHeaders(listing []byte) []Section {
	var secs []Section
	sc := bufio.NewScanner(bytes.NewReader(listing))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 || !allDigits(fields[0]) {
			continue
		}
		size, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			continue
		}
		secs = append(secs, Section{Name: fields[1], Size: size})
	}
	return secs
}

// ParseSymbols extracts the symbol names from a per-section symbol listing.
// Symbol rows start with a hex address and end with the name; the name is
// the last field (scope flags and the .hidden marker sit in between).
func ParseSymbols(listing []byte) []string {
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(listing))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || !allHex(fields[0]) {
			continue
		}
		names = append(names, fields[len(fields)-1])
	}
	return names
}

// Map holds one object file's symbol→section membership plus the best
// concrete section per family for kind-based fallback.
type Map struct {
	byName map[string]string
	family map[string]string
}

// Locate lists the object's sections, keeps the non-zero ones matching a
// family substring, and records which retained section each symbol is
// defined in. The first discovered mapping for a name wins when the
// listing itself repeats it.
func Locate(ctx context.Context, lister Lister, object string) (*Map, error) {
	headers, err := lister.Headers(ctx, object)
	if err != nil {
		return nil, fmt.Errorf("sections: %s: %w", object, err)
	}

	m := &Map{
		byName: make(map[string]string),
		family: make(map[string]string),
	}
	exact := make(map[string]bool)

	for _, sec := range ParseHeaders(headers) {
		fam := familyOf(sec.Name)
		if fam == "" || sec.Size == 0 {
			continue
		}
		// Init/exit sections stay in the membership map so their symbols
		// can be excluded, but they never serve as an alias target.
		if !discardedName(sec.Name) {
			switch {
			case sec.Name == fam:
				m.family[fam] = sec.Name
				exact[fam] = true
			case !exact[fam] && m.family[fam] == "":
				m.family[fam] = sec.Name
			}
		}

		listing, err := lister.Symbols(ctx, object, sec.Name)
		if err != nil {
			return nil, fmt.Errorf("sections: %s %s: %w", object, sec.Name, err)
		}
		for _, name := range ParseSymbols(listing) {
			if _, ok := m.byName[name]; !ok {
				m.byName[name] = sec.Name
			}
		}
	}
	return m, nil
}

// SectionOf returns the concrete section a symbol is defined in.
func (m *Map) SectionOf(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	sec, ok := m.byName[name]
	return sec, ok
}

// Discarded reports whether the symbol sits in an init/exit section whose
// backing storage is thrown away after module load.
func (m *Map) Discarded(name string) bool {
	if m == nil {
		return false
	}
	sec, ok := m.byName[name]
	return ok && discardedName(sec)
}

// FamilyFor returns the object's concrete section for the family implied
// by a symbol kind letter, or "" when the object has none.
func (m *Map) FamilyFor(kind byte) string {
	if m == nil {
		return ""
	}
	return m.family[KindFamily(kind)]
}

// KindFamily maps a symbol kind letter to its section family.
func KindFamily(kind byte) string {
	switch kind {
	case 'T', 't':
		return ".text"
	case 'D', 'd':
		return ".data"
	case 'R', 'r':
		return ".rodata"
	case 'B', 'b':
		return ".bss"
	}
	return ""
}

func familyOf(section string) string {
	for _, fam := range families {
		if strings.Contains(section, fam) {
			return fam
		}
	}
	return ""
}

func discardedName(section string) bool {
	return strings.Contains(section, ".init") || strings.Contains(section, ".exit")
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func allHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
