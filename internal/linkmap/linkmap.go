// Package linkmap reads linker map files and attributes image addresses
// to the object files that own them.
package linkmap

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/grafana/regexp"
	"github.com/pkg/errors"
)

// Range is one mapped span of the image.
type Range struct {
	Section string
	Addr    uint64
	Size    uint64
	File    string
}

var rowRE = regexp.MustCompile(`^\s*(\S+)\s+0x([0-9a-f]+)\s+0x([0-9a-f]+)\s+(.*)$`)

// Map holds parsed ranges sorted by address.
type Map struct {
	ranges []Range
}

// Parse reads a GNU ld style map. Rows without an owning file are
// dropped: outer section rows carry no file, load-address annotations
// carry several tokens, symbol rows fail the pattern outright.
func Parse(r io.Reader) (*Map, error) {
	var ranges []Range
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		m := rowRE.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		file := strings.TrimSpace(m[4])
		if file == "" || strings.ContainsRune(file, ' ') {
			continue
		}
		addr, err := strconv.ParseUint(m[2], 16, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseUint(m[3], 16, 64)
		if err != nil || size == 0 {
			continue
		}
		ranges = append(ranges, Range{Section: m[1], Addr: addr, Size: size, File: file})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "linkmap: read")
	}
	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].Addr < ranges[j].Addr })
	return &Map{ranges: ranges}, nil
}

// Len reports how many owned ranges were parsed.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.ranges)
}

// Lookup returns the file owning addr within [Addr, Addr+Size].
func (m *Map) Lookup(addr uint64) (string, bool) {
	if m == nil || len(m.ranges) == 0 {
		return "", false
	}
	i := sort.Search(len(m.ranges), func(i int) bool { return m.ranges[i].Addr > addr })
	for j := i - 1; j >= 0; j-- {
		r := m.ranges[j]
		if addr <= r.Addr+r.Size {
			return r.File, true
		}
		// Ranges are disjoint apart from duplicated start addresses.
		if j == 0 || m.ranges[j-1].Addr != r.Addr {
			break
		}
	}
	return "", false
}
