// Package objcopy renders alias insertions into object-editor arguments
// and applies them in bounded batches with a crash-safe backup scheme.
package objcopy

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// DefaultBatchLimit bounds how many alias symbols one editor invocation
// carries, keeping the argument list well under platform argv limits.
const DefaultBatchLimit = 50

// Symbol is one alias to inject into an object file.
type Symbol struct {
	Name     string // complete alias name, decoration included
	Section  string
	AddrText string // address exactly as the symbol dump printed it
	Global   bool
}

// Visibility returns the editor flag keyword for the symbol's binding.
func (s Symbol) Visibility() string {
	if s.Global {
		return "global"
	}
	return "local"
}

// Arg renders the editor's add-symbol argument.
func (s Symbol) Arg() string {
	return s.Name + "=" + s.Section + ":0x" + s.AddrText + "," + s.Visibility()
}

// Batch accumulates symbols up to a flush ceiling.
type Batch struct {
	limit int
	syms  []Symbol
}

func NewBatch(limit int) *Batch {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	return &Batch{limit: limit}
}

// Add appends s and reports whether the batch reached its ceiling.
func (b *Batch) Add(s Symbol) bool {
	b.syms = append(b.syms, s)
	return len(b.syms) >= b.limit
}

func (b *Batch) Len() int { return len(b.syms) }

// Take hands the accumulated symbols over and resets the batch.
func (b *Batch) Take() []Symbol {
	s := b.syms
	b.syms = nil
	return s
}

// Editor rewrites src into dst with the given symbols added.
type Editor interface {
	AddSymbols(ctx context.Context, src, dst string, syms []Symbol) error
}

// BackupPath returns where the pristine copy of object is parked while
// aliases are applied.
func BackupPath(object string) string { return object + ".orig" }

func stagePath(object string) string { return object + ".stage" }

// Mutator applies successive batches to one object file. The first
// flush parks the pristine object at <object>.orig and leaves it there;
// later flushes go through a transient <object>.stage instead, so a
// crash at any point can fall back to the untouched original. A Mutator
// must not be reused after a failed Apply.
type Mutator struct {
	fs      afero.Fs
	editor  Editor
	object  string
	flushes int
}

func NewMutator(fs afero.Fs, editor Editor, object string) *Mutator {
	return &Mutator{fs: fs, editor: editor, object: object}
}

// Apply runs one editor invocation over syms. On editor failure the
// object is restored from the pristine backup before returning.
func (m *Mutator) Apply(ctx context.Context, syms []Symbol) error {
	if len(syms) == 0 {
		return nil
	}
	backup := BackupPath(m.object)
	src := backup
	if m.flushes > 0 {
		src = stagePath(m.object)
		_ = m.fs.Remove(src)
	} else if ok, _ := afero.Exists(m.fs, backup); ok {
		return errors.Errorf("objcopy: stale backup %s, restore first", backup)
	}
	if err := m.fs.Rename(m.object, src); err != nil {
		return errors.Wrapf(err, "objcopy: park %s", m.object)
	}
	if err := m.editor.AddSymbols(ctx, src, m.object, syms); err != nil {
		m.revert()
		return errors.Wrapf(err, "objcopy: alias %s", m.object)
	}
	if src != backup {
		_ = m.fs.Remove(src)
	}
	m.flushes++
	return nil
}

// revert wipes any partial output and puts the pristine bytes back.
func (m *Mutator) revert() {
	_ = m.fs.Remove(m.object)
	_ = m.fs.Rename(BackupPath(m.object), m.object)
	_ = m.fs.Remove(stagePath(m.object))
}

// Restore implements crash recovery for one object: when a pristine
// backup is present it is renamed over the object, clobbering any
// partial rewrite, and a stale stage copy is dropped. Reports whether a
// backup was consumed.
func (m *Mutator) Restore() (bool, error) {
	backup := BackupPath(m.object)
	ok, err := afero.Exists(m.fs, backup)
	if err != nil {
		return false, errors.Wrapf(err, "objcopy: probe %s", backup)
	}
	if !ok {
		return false, nil
	}
	if err := m.fs.Remove(m.object); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, errors.Wrapf(err, "objcopy: drop partial %s", m.object)
	}
	if err := m.fs.Rename(backup, m.object); err != nil {
		return false, errors.Wrapf(err, "objcopy: restore %s", m.object)
	}
	_ = m.fs.Remove(stagePath(m.object))
	return true, nil
}
