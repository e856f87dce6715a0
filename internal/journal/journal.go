// Package journal persists the state shared between the two build
// passes: a per-module three-state journal, the cross-unit symbol
// frequency snapshot, and per-module symbol-list snapshots. Every file
// is plain text, human-diffable, and rewritten whole on save.
package journal

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// State tracks how far one module has progressed.
type State int

const (
	Pending    State = 0
	InProgress State = 1
	Done       State = 2
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InProgress:
		return "in-progress"
	case Done:
		return "done"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Entry is one journaled module.
type Entry struct {
	Path  string
	State State
}

// State-directory layout.
func JournalPath(dir string) string   { return filepath.Join(dir, "modules.journal") }
func FrequencyPath(dir string) string { return filepath.Join(dir, "symbols.freq") }
func SymbolsPath(dir string) string   { return filepath.Join(dir, "modules.symtab") }

// Journal is the ordered module journal, one `path:state` line per
// entry. Entry order is preserved across save/load so resumed runs walk
// modules in the original order.
type Journal struct {
	fs      afero.Fs
	path    string
	entries []Entry
	byPath  map[string]int
}

func New(fs afero.Fs, dir string) *Journal {
	return &Journal{fs: fs, path: JournalPath(dir), byPath: map[string]int{}}
}

// Load replaces the in-memory journal with the persisted one.
func (j *Journal) Load() error {
	f, err := j.fs.Open(j.path)
	if err != nil {
		return errors.Wrapf(err, "journal: open %s", j.path)
	}
	defer f.Close()

	entries := []Entry{}
	byPath := map[string]int{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		idx := strings.LastIndexByte(line, ':')
		if idx <= 0 {
			return errors.Errorf("journal: %s: malformed line %q", j.path, line)
		}
		state, err := strconv.Atoi(line[idx+1:])
		if err != nil || state < int(Pending) || state > int(Done) {
			return errors.Errorf("journal: %s: bad state in %q", j.path, line)
		}
		path := line[:idx]
		byPath[path] = len(entries)
		entries = append(entries, Entry{Path: path, State: State(state)})
	}
	if err := sc.Err(); err != nil {
		return errors.Wrapf(err, "journal: read %s", j.path)
	}
	j.entries = entries
	j.byPath = byPath
	return nil
}

// Save rewrites the journal file whole.
func (j *Journal) Save() error {
	var b strings.Builder
	for _, e := range j.entries {
		b.WriteString(e.Path)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(int(e.State)))
		b.WriteByte('\n')
	}
	return writeWhole(j.fs, j.path, []byte(b.String()))
}

// Add appends path as pending. Adding a known path keeps its state.
func (j *Journal) Add(path string) {
	if _, ok := j.byPath[path]; ok {
		return
	}
	j.byPath[path] = len(j.entries)
	j.entries = append(j.entries, Entry{Path: path, State: Pending})
}

// SetState updates a journaled module.
func (j *Journal) SetState(path string, s State) error {
	idx, ok := j.byPath[path]
	if !ok {
		return errors.Errorf("journal: unknown module %s", path)
	}
	j.entries[idx].State = s
	return nil
}

// State reports the journaled state of path.
func (j *Journal) State(path string) (State, bool) {
	idx, ok := j.byPath[path]
	if !ok {
		return Pending, false
	}
	return j.entries[idx].State, true
}

// Entries returns the journal in order. Callers must not mutate it.
func (j *Journal) Entries() []Entry { return j.entries }

func (j *Journal) Len() int { return len(j.entries) }

// writeWhole rewrites path in one shot through a sibling temp file.
func writeWhole(fs afero.Fs, path string, data []byte) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "journal: mkdir %s", filepath.Dir(path))
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "journal: write %s", tmp)
	}
	if err := fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "journal: replace %s", path)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "journal: rename %s", path)
	}
	return nil
}
