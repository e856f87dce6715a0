package journal

import (
	"bufio"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"

	"kasalias/internal/symdump"
)

// blockEnd terminates every module block in the symbol snapshot.
const blockEnd = "---"

// SaveFrequency writes the cross-unit frequency snapshot as sorted
// `name:count` lines.
func SaveFrequency(fs afero.Fs, dir string, freq symdump.Frequency) error {
	names := lo.Keys(freq)
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(freq[name]))
		b.WriteByte('\n')
	}
	return writeWhole(fs, FrequencyPath(dir), []byte(b.String()))
}

// LoadFrequency reads the frequency snapshot back. Names may contain
// ':' so the count is split off at the last one.
func LoadFrequency(fs afero.Fs, dir string) (symdump.Frequency, error) {
	path := FrequencyPath(dir)
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "journal: open %s", path)
	}
	defer f.Close()

	freq := symdump.Frequency{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		idx := strings.LastIndexByte(line, ':')
		if idx <= 0 {
			return nil, errors.Errorf("journal: %s: malformed line %q", path, line)
		}
		count, err := strconv.Atoi(line[idx+1:])
		if err != nil || count < 1 {
			return nil, errors.Errorf("journal: %s: bad count in %q", path, line)
		}
		freq[line[:idx]] = count
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "journal: read %s", path)
	}
	return freq, nil
}

// ModuleSymbols is one module's snapshotted symbol list, in dump order.
type ModuleSymbols struct {
	Path    string
	Records []symdump.Record
}

// SaveSymbols writes the per-module symbol snapshot: a path line, one
// `addr kind name` line per record, and a terminator after every block.
func SaveSymbols(fs afero.Fs, dir string, mods []ModuleSymbols) error {
	var b strings.Builder
	for _, m := range mods {
		b.WriteString(m.Path)
		b.WriteByte('\n')
		for _, rec := range m.Records {
			b.WriteString(rec.AddrText)
			b.WriteByte(' ')
			b.WriteByte(rec.Kind)
			b.WriteByte(' ')
			b.WriteString(rec.Name)
			b.WriteByte('\n')
		}
		b.WriteString(blockEnd)
		b.WriteByte('\n')
	}
	return writeWhole(fs, SymbolsPath(dir), []byte(b.String()))
}

// LoadSymbols reads the symbol snapshot back, preserving module and
// record order.
func LoadSymbols(fs afero.Fs, dir string) ([]ModuleSymbols, error) {
	path := SymbolsPath(dir)
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "journal: open %s", path)
	}
	defer f.Close()

	var mods []ModuleSymbols
	var cur *ModuleSymbols
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if cur == nil {
			if strings.TrimSpace(line) == "" {
				continue
			}
			mods = append(mods, ModuleSymbols{Path: line})
			cur = &mods[len(mods)-1]
			continue
		}
		if line == blockEnd {
			cur = nil
			continue
		}
		rec, err := parseRecordLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "journal: %s", path)
		}
		cur.Records = append(cur.Records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "journal: read %s", path)
	}
	if cur != nil {
		return nil, errors.Errorf("journal: %s: truncated block for %s", path, cur.Path)
	}
	return mods, nil
}

func parseRecordLine(line string) (symdump.Record, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 || len(parts[1]) != 1 {
		return symdump.Record{}, errors.Errorf("malformed record %q", line)
	}
	addr, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return symdump.Record{}, errors.Errorf("bad address in %q", line)
	}
	return symdump.Record{
		Addr:     addr,
		AddrText: parts[0],
		Kind:     parts[1][0],
		Name:     parts[2],
	}, nil
}
