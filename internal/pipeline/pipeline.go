// Package pipeline runs the two aliasing passes: the core pass that
// accounts symbol frequencies across the whole build and decorates the
// image dump, and the modules pass that injects aliases into module
// objects under journal control.
package pipeline

import (
	"bytes"
	"context"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"

	"kasalias/internal/addr2line"
	"kasalias/internal/filter"
	"kasalias/internal/journal"
	"kasalias/internal/linkmap"
	"kasalias/internal/objcopy"
	"kasalias/internal/output"
	"kasalias/internal/sections"
	"kasalias/internal/symdump"
	"kasalias/internal/tools"
)

// Config carries everything both passes read.
type Config struct {
	StateDir    string
	NmData      string   // core: pre-dumped image symbol table
	Image       string   // core: image binary the resolver runs against
	Outfile     string   // core: decorated dump destination
	ModulesList string   // core: file listing module object paths
	Modules     []string // modules: extra out-of-tree objects
	Addr2line   string
	NmPath      string
	ObjdumpPath string
	ObjcopyPath string
	BaseDir     string
	Separator   byte
	DataMode    bool
	BatchLimit  int
	Excludes    []string
	LinkerMap   string
	Report      string
}

// Dumper produces an address-sorted symbol dump for an object.
type Dumper interface {
	Dump(ctx context.Context, object string) ([]byte, error)
}

// Resolver answers one address query at a time.
type Resolver interface {
	Resolve(addrText string) (string, error)
	Close() error
}

// ResolverOpener starts a resolver against one object file.
type ResolverOpener func(ctx context.Context, command, object string) (Resolver, error)

// Pipeline wires the collaborators for one run. New fills every field
// with the real implementation; tests substitute fakes.
type Pipeline struct {
	Config Config
	FS     afero.Fs
	Logger log.Logger
	Nm     Dumper
	Lister sections.Lister
	Editor objcopy.Editor
	Open   ResolverOpener

	filter *filter.Filter
	decor  addr2line.Decorator
	lmap   *linkmap.Map
}

func New(cfg Config, logger log.Logger) *Pipeline {
	if cfg.Separator == 0 {
		cfg.Separator = addr2line.DefaultSeparator
	}
	if cfg.NmPath == "" {
		cfg.NmPath = "nm"
	}
	if cfg.ObjdumpPath == "" {
		cfg.ObjdumpPath = "objdump"
	}
	if cfg.ObjcopyPath == "" {
		cfg.ObjcopyPath = "objcopy"
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Pipeline{
		Config: cfg,
		FS:     afero.NewOsFs(),
		Logger: logger,
		Nm:     tools.Nm{Path: cfg.NmPath},
		Lister: tools.Objdump{Path: cfg.ObjdumpPath},
		Editor: tools.Objcopy{Path: cfg.ObjcopyPath},
		Open: func(ctx context.Context, command, object string) (Resolver, error) {
			return addr2line.Open(ctx, command, object)
		},
	}
}

func (p *Pipeline) setup() error {
	f, err := filter.New(filter.Config{DataMode: p.Config.DataMode, Excludes: p.Config.Excludes})
	if err != nil {
		return err
	}
	p.filter = f
	p.decor = addr2line.NewDecorator(p.Config.Separator, p.Config.BaseDir)
	if p.Config.LinkerMap != "" {
		mf, err := p.FS.Open(p.Config.LinkerMap)
		if err != nil {
			return errors.Wrap(err, "pipeline: open linker map")
		}
		defer mf.Close()
		m, err := linkmap.Parse(mf)
		if err != nil {
			return err
		}
		p.lmap = m
		level.Debug(p.Logger).Log("msg", "linker map loaded", "ranges", m.Len())
	}
	return nil
}

// Core runs the frequency-accounting pass: it folds the image and every
// listed module into one shared frequency table, persists the state the
// modules pass will reload, and emits the image's decorated dump.
func (p *Pipeline) Core(ctx context.Context) (retErr error) {
	if err := p.setup(); err != nil {
		return err
	}
	cfg := p.Config

	data, err := afero.ReadFile(p.FS, cfg.NmData)
	if err != nil {
		return errors.Wrap(err, "pipeline: read image dump")
	}
	records, err := symdump.Parse(bytes.NewReader(data))
	if err != nil {
		return err
	}

	freq := symdump.Frequency{}
	freq.Fold(records)

	j := journal.New(p.FS, cfg.StateDir)
	var mods []journal.ModuleSymbols
	if cfg.ModulesList != "" {
		paths, err := p.readList(cfg.ModulesList)
		if err != nil {
			return err
		}
		for _, path := range paths {
			if err := ctx.Err(); err != nil {
				return errors.Wrap(err, "pipeline: interrupted")
			}
			recs, err := p.dumpModule(ctx, path)
			if err != nil {
				return err
			}
			freq.Fold(recs)
			mods = append(mods, journal.ModuleSymbols{Path: path, Records: recs})
			j.Add(path)
		}
	}

	// Persist before decorating: the modules pass reloads exactly this.
	if err := journal.SaveFrequency(p.FS, cfg.StateDir, freq); err != nil {
		return err
	}
	if err := journal.SaveSymbols(p.FS, cfg.StateDir, mods); err != nil {
		return err
	}
	if err := j.Save(); err != nil {
		return err
	}
	level.Debug(p.Logger).Log("msg", "state persisted",
		"dir", cfg.StateDir, "modules", j.Len(), "names", len(freq))

	stats := output.Counts{}
	aliases := make([]string, len(records))
	res, err := p.Open(ctx, cfg.Addr2line, cfg.Image)
	if err != nil {
		return err
	}
	defer p.closeResolver(res, cfg.Image)

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "pipeline: interrupted")
		}
		stats.Scanned++
		if !freq.Duplicated(rec.Name) {
			continue
		}
		stats.Duplicates++
		if !p.filter.Candidate(rec, nil) {
			stats.Excluded++
			continue
		}
		dec, ok, err := p.decorate(res, rec)
		if err != nil {
			return err
		}
		if !ok {
			stats.NoDecoration++
			continue
		}
		aliases[i] = rec.Name + dec
		stats.Aliased++
	}

	out, err := p.FS.Create(cfg.Outfile)
	if err != nil {
		return errors.Wrap(err, "pipeline: create outfile")
	}
	defer out.Close()
	if err := output.WriteDump(out, records, aliases); err != nil {
		return err
	}

	p.logStats("core pass complete", stats)
	return p.report("core", []output.ObjectReport{{Path: cfg.Image, Aliased: stats.Aliased}}, stats)
}

// Modules runs the aliasing pass over every journaled module, resuming
// wherever a previous invocation stopped.
func (p *Pipeline) Modules(ctx context.Context) (retErr error) {
	if err := p.setup(); err != nil {
		return err
	}
	cfg := p.Config

	j := journal.New(p.FS, cfg.StateDir)
	if err := j.Load(); err != nil {
		return err
	}
	freq, err := journal.LoadFrequency(p.FS, cfg.StateDir)
	if err != nil {
		return err
	}
	mods, err := journal.LoadSymbols(p.FS, cfg.StateDir)
	if err != nil {
		return err
	}
	symsFor := lo.Associate(mods, func(m journal.ModuleSymbols) (string, []symdump.Record) {
		return m.Path, m.Records
	})

	// Journal state must reach disk on every failure path so a rerun
	// can pick up where this one stopped.
	defer func() {
		if retErr == nil {
			return
		}
		if err := j.Save(); err != nil {
			level.Error(p.Logger).Log("msg", "journal flush failed", "err", err)
		}
	}()

	// Out-of-tree modules join the journal on first sight; their
	// symbols fold into the shared frequency exactly once.
	added := false
	for _, path := range cfg.Modules {
		if _, known := j.State(path); known {
			continue
		}
		recs, err := p.dumpModule(ctx, path)
		if err != nil {
			return err
		}
		freq.Fold(recs)
		mods = append(mods, journal.ModuleSymbols{Path: path, Records: recs})
		symsFor[path] = recs
		j.Add(path)
		added = true
	}
	if added {
		if err := journal.SaveFrequency(p.FS, cfg.StateDir, freq); err != nil {
			return err
		}
		if err := journal.SaveSymbols(p.FS, cfg.StateDir, mods); err != nil {
			return err
		}
		if err := j.Save(); err != nil {
			return err
		}
	}

	stats := output.Counts{}
	var objects []output.ObjectReport
	for _, entry := range j.Entries() {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "pipeline: interrupted")
		}
		if entry.State == journal.Done {
			objects = append(objects, output.ObjectReport{Path: entry.Path, Skipped: "done"})
			continue
		}
		recs, known := symsFor[entry.Path]
		if !known {
			return errors.Errorf("pipeline: no symbol snapshot for %s", entry.Path)
		}
		obj, err := p.processModule(ctx, j, freq, recs, entry, &stats)
		if err != nil {
			return err
		}
		objects = append(objects, obj)
	}

	p.logStats("modules pass complete", stats)
	return p.report("modules", objects, stats)
}

// processModule aliases one module object under journal control.
func (p *Pipeline) processModule(ctx context.Context, j *journal.Journal, freq symdump.Frequency, recs []symdump.Record, entry journal.Entry, stats *output.Counts) (output.ObjectReport, error) {
	report := output.ObjectReport{Path: entry.Path}
	mut := objcopy.NewMutator(p.FS, p.Editor, entry.Path)

	// A leftover backup always means an unclean earlier attempt: put
	// the pristine bytes back before doing anything else.
	restored, err := mut.Restore()
	if err != nil {
		return report, err
	}
	if restored {
		level.Info(p.Logger).Log("msg", "restored unclean module", "path", entry.Path)
	}

	// The in-progress mark goes to disk before the first rename.
	if err := j.SetState(entry.Path, journal.InProgress); err != nil {
		return report, err
	}
	if err := j.Save(); err != nil {
		return report, err
	}

	if len(recs) == 0 {
		return report, p.markDone(j, entry.Path)
	}

	if fi, err := p.FS.Stat(entry.Path); err == nil {
		level.Debug(p.Logger).Log("msg", "aliasing module", "path", entry.Path,
			"size", humanize.Bytes(uint64(fi.Size())), "symbols", len(recs))
	}

	secs, err := sections.Locate(ctx, p.Lister, entry.Path)
	if err != nil {
		return report, err
	}

	res, err := p.Open(ctx, p.Config.Addr2line, entry.Path)
	if err != nil {
		return report, err
	}
	defer p.closeResolver(res, entry.Path)

	batch := objcopy.NewBatch(p.Config.BatchLimit)
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return report, errors.Wrap(err, "pipeline: interrupted")
		}
		stats.Scanned++
		if !freq.Duplicated(rec.Name) {
			continue
		}
		stats.Duplicates++
		if !p.filter.Candidate(rec, secs) {
			stats.Excluded++
			continue
		}
		dec, ok, err := p.decorate(res, rec)
		if err != nil {
			return report, err
		}
		if !ok {
			stats.NoDecoration++
			continue
		}
		section, ok := secs.SectionOf(rec.Name)
		if !ok {
			section = secs.FamilyFor(rec.Kind)
		}
		if section == "" {
			stats.NoSection++
			level.Warn(p.Logger).Log("msg", "no section for symbol",
				"path", entry.Path, "symbol", rec.Name)
			continue
		}
		full := batch.Add(objcopy.Symbol{
			Name:     rec.Name + dec,
			Section:  section,
			AddrText: rec.AddrText,
			Global:   rec.Global(),
		})
		stats.Aliased++
		report.Aliased++
		if full {
			if err := mut.Apply(ctx, batch.Take()); err != nil {
				return report, err
			}
		}
	}
	if err := mut.Apply(ctx, batch.Take()); err != nil {
		return report, err
	}

	return report, p.markDone(j, entry.Path)
}

// decorate asks the resolver for rec's location, falling back to
// linker-map attribution when the answer carries no information.
func (p *Pipeline) decorate(res Resolver, rec symdump.Record) (string, bool, error) {
	loc, err := res.Resolve(rec.AddrText)
	if err != nil {
		return "", false, err
	}
	if dec, ok := p.decor.Decorate(loc); ok {
		return dec, true, nil
	}
	if p.lmap != nil {
		if file, ok := p.lmap.Lookup(rec.Addr); ok {
			if dec, ok := p.decor.Decorate(file); ok {
				return dec, true, nil
			}
		}
	}
	return "", false, nil
}

func (p *Pipeline) dumpModule(ctx context.Context, path string) ([]symdump.Record, error) {
	dump, err := p.Nm.Dump(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "pipeline: dump %s", path)
	}
	return symdump.Parse(bytes.NewReader(dump))
}

func (p *Pipeline) readList(path string) ([]string, error) {
	data, err := afero.ReadFile(p.FS, path)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: read modules list")
	}
	var paths []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		paths = append(paths, line)
	}
	return paths, nil
}

func (p *Pipeline) markDone(j *journal.Journal, path string) error {
	if err := j.SetState(path, journal.Done); err != nil {
		return err
	}
	return j.Save()
}

func (p *Pipeline) closeResolver(res Resolver, object string) {
	if err := res.Close(); err != nil {
		level.Warn(p.Logger).Log("msg", "resolver close", "object", object, "err", err)
	}
}

func (p *Pipeline) logStats(msg string, s output.Counts) {
	level.Info(p.Logger).Log("msg", msg,
		"scanned", s.Scanned,
		"duplicates", s.Duplicates,
		"aliased", s.Aliased,
		"no_decoration", s.NoDecoration,
		"no_section", s.NoSection,
		"excluded", s.Excluded,
	)
}

func (p *Pipeline) report(action string, objects []output.ObjectReport, totals output.Counts) error {
	if p.Config.Report == "" {
		return nil
	}
	return output.WriteReportJSON(p.FS, p.Config.Report, &output.Report{
		Action:  action,
		Objects: objects,
		Totals:  totals,
	})
}
