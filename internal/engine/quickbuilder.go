package engine

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/smw-build/callisto/internal/assembler"
	"github.com/smw-build/callisto/internal/callistoerr"
	"github.com/smw-build/callisto/internal/cleanup"
	"github.com/smw-build/callisto/internal/config"
	"github.com/smw-build/callisto/internal/conflict"
	"github.com/smw-build/callisto/internal/dependency"
	"github.com/smw-build/callisto/internal/descriptor"
	"github.com/smw-build/callisto/internal/insertable"
	"github.com/smw-build/callisto/internal/marker"
	"github.com/smw-build/callisto/internal/pathutil"
	"github.com/smw-build/callisto/internal/projectasm"
	"github.com/smw-build/callisto/internal/report"
	"github.com/smw-build/callisto/internal/romfile"
)

// QuickBuilder reinserts only the units whose dependencies changed since
// the last Build Report, starting from the previous output ROM instead
// of the clean ROM. Any condition it cannot satisfy raises
// *callistoerr.MustRebuildError, whose caller falls back to a
// Rebuilder.Build.
type QuickBuilder struct {
	Config  *config.Configuration
	Factory Factory
	Version projectasm.Version
}

// Build runs the quick-build decision procedure and, if nothing forces a
// full rebuild, reinserts only the stale units.
func (q *QuickBuilder) Build(ctx context.Context) (*Result, error) {
	cfg := q.Config
	projectRoot, _ := cfg.ProjectRoot.Get()
	outputRomPath, _ := cfg.OutputRom.Get()
	temporaryFolder, _ := cfg.TemporaryFolder.Get()

	rep, err := report.Load(pathutil.BuildReportPath(projectRoot))
	if err != nil {
		return nil, err
	}
	if rep == nil {
		return nil, callistoerr.NewMustRebuildError("no build report found, a full rebuild is required")
	}
	if rep.FileFormatVersion != report.FileFormatVersion {
		return nil, callistoerr.NewMustRebuildError("build report format version %d is incompatible with %d",
			rep.FileFormatVersion, report.FileFormatVersion)
	}

	order, err := cfg.BuildOrder()
	if err != nil {
		return nil, err
	}
	if !rep.SameBuildOrder(order) {
		return nil, callistoerr.NewMustRebuildError("build order has changed since the last build")
	}
	if len(rep.Entries) != len(order) {
		return nil, callistoerr.NewMustRebuildError("build report does not cover the full build order")
	}

	currentLevels := map[int]struct{}{}
	for _, lvl := range levelsFromSourceDir(cfg.Levels.OrDefault("")) {
		currentLevels[lvl] = struct{}{}
	}
	if missing := rep.MissingLevels(currentLevels); len(missing) > 0 {
		return nil, callistoerr.NewMustRebuildError("level(s) %v are missing from the build but were previously inserted", missing)
	}

	units := make([]insertable.Insertable, len(order))
	for i, d := range order {
		unit, err := q.Factory.Build(d)
		if err != nil {
			return nil, err
		}
		units[i] = unit
	}

	mustReinsert := make([]bool, len(order))
	for i, unit := range units {
		// Entries are stored in build order; the same patch or module path
		// may appear more than once, so the lookup is positional rather
		// than by descriptor.
		entry := rep.Entries[i]
		if entry.Descriptor != unit.Descriptor() {
			return nil, callistoerr.NewMustRebuildError("build report entry %d does not match %s", i, unit.Descriptor().String(projectRoot))
		}

		for _, dep := range unit.ConfigurationDependencies() {
			prior, ok := entry.ConfigurationDependencies[dep.Key]
			if !ok || dep.ValueChanged(prior) {
				if dep.Policy == dependency.Rebuild {
					return nil, callistoerr.NewMustRebuildError(
						"configuration %q changed and requires a full rebuild", dep.Key)
				}
				mustReinsert[i] = true
			}
		}

		for _, dep := range entry.ResourceDependencies {
			if dep.Changed() {
				if dep.Policy == dependency.Rebuild {
					return nil, callistoerr.NewMustRebuildError(
						"resource %q changed and requires a full rebuild", dep.Path)
				}
				mustReinsert[i] = true
			}
		}

		if d := unit.Descriptor(); d.Symbol == descriptor.Module {
			if mc, ok := cfg.ModuleConfigurations[d.Name]; ok && !sameOutputPaths(mc.RealOutputPaths, entry.ModuleOutputs) {
				mustReinsert[i] = true
			}
		}
	}

	anyWork := false
	for _, m := range mustReinsert {
		if m {
			anyWork = true
			break
		}
	}
	if !anyWork {
		// Every entry is up to date: leave the artifact, the report, and
		// the Marker's timestamp untouched.
		return nil, nil
	}

	succeeded := false
	defer func() {
		if !succeeded {
			os.RemoveAll(temporaryFolder)
		}
	}()

	rom, err := romfile.ReadUnheadered(outputRomPath)
	if err != nil {
		return nil, xerrors.Errorf("reading previous output ROM: %w", err)
	}
	rom = append([]byte(nil), rom...)

	userModuleDir := pathutil.UserModuleDirectory(projectRoot)
	oldSymbolsDir := pathutil.ModuleOldSymbolsDirectory(projectRoot)

	profileName, _ := cfg.ConfigName.Get()
	asmContent := projectasm.Generate(profileName, userModuleDir, q.Version)
	if err := projectasm.WriteIfDifferent(asmContent, pathutil.CallistoAsmPath(projectRoot)); err != nil {
		return nil, xerrors.Errorf("writing project include file: %w", err)
	}

	policy, err := conflict.ParsePolicy(cfg.CheckConflicts.OrDefault(""))
	if err != nil {
		return nil, callistoerr.NewConfigError("%v", err)
	}
	conflictMap := conflict.NewMap()
	var conflictWorker *conflict.Worker
	if policy != conflict.None {
		conflictWorker = conflict.NewWorker(policy, conflictMap)
	}
	closeWorker := func() {
		if conflictWorker != nil {
			conflictWorker.Close()
		}
	}

	newEntries := make([]report.Entry, len(units))
	for i, unit := range units {
		entry := rep.Entries[i]

		if !mustReinsert[i] {
			newEntries[i] = entry
			if d := unit.Descriptor(); d.Symbol == descriptor.Module {
				if err := restoreModuleImprint(oldSymbolsDir, userModuleDir, entry.ModuleOutputs); err != nil {
					closeWorker()
					return nil, err
				}
			}
			continue
		}

		if d := unit.Descriptor(); d.Symbol == descriptor.Module {
			ledgerPath := pathutil.ModuleCleanupFile(projectRoot, d.Name)
			cleaned, err := cleanup.Clean(ctx, moduleAssembler(unit), ledgerPath, rom)
			if err != nil {
				closeWorker()
				return nil, err
			}
			rom = cleaned
			// Keep the pre-reinsertion imprint around in case a later quick
			// build needs to restore it without reinserting.
			cacheImprints(oldSymbolsDir, entry.ModuleOutputs)
		}

		if err := unit.Init(ctx); err != nil {
			closeWorker()
			return nil, xerrors.Errorf("initializing %s: %w", unit.Descriptor().String(projectRoot), err)
		}

		before := append([]byte(nil), rom...)
		rom, err = unit.Insert(ctx, rom)
		if err != nil {
			closeWorker()
			return nil, xerrors.Errorf("reinserting %s: %w", unit.Descriptor().String(projectRoot), err)
		}

		if conflictWorker != nil {
			conflictWorker.Enqueue(conflict.Job{
				Before: before,
				After:  append([]byte(nil), rom...),
				Writer: unit.Descriptor().String(projectRoot),
			})
		}

		newEntry := report.Entry{
			Descriptor:               unit.Descriptor(),
			ConfigurationDependencies: unit.ConfigurationDependencies(),
		}

		if hr, ok := unit.(insertable.HijackReporter); ok {
			newEntry.Hijacks = hr.Hijacks()
			if hijacksRegressed(entry.Hijacks, newEntry.Hijacks) {
				closeWorker()
				return nil, callistoerr.NewMustRebuildError(
					"patch %s no longer hijacks a previously hijacked address", unit.Descriptor().String(projectRoot))
			}
		}
		if mr, ok := unit.(insertable.ModuleOutputReporter); ok {
			newEntry.ModuleOutputs = mr.ModuleOutputs()
			cacheImprints(oldSymbolsDir, newEntry.ModuleOutputs)
		}

		if wr, ok := unit.(insertable.WrittenBlockReporter); ok {
			addresses := make([]int, 0, len(wr.WrittenBlocks()))
			for _, b := range wr.WrittenBlocks() {
				addresses = append(addresses, b.SNESOffset)
			}
			if err := writeModuleCleanupLedger(projectRoot, unit.Descriptor(), addresses); err != nil {
				closeWorker()
				return nil, err
			}
		}

		deps, err := unit.ResourceDependencies(ctx)
		if err != nil {
			closeWorker()
			return nil, err
		}
		newEntry.ResourceDependencies = deps

		newEntries[i] = newEntry
	}

	var conflictLog string
	if conflictWorker != nil {
		conflictWorker.Close()
		entries := conflictMap.Report(ignoredNames(cfg, projectRoot))
		if len(entries) > 0 {
			conflictLog = conflict.RenderLog(entries)
			for _, e := range entries {
				log.Print(e.String(true))
			}
		}
	}

	rep.Entries = newEntries
	rep.InsertedLevels = levelsFromSourceDir(cfg.Levels.OrDefault(""))
	if err := report.Save(pathutil.BuildReportPath(projectRoot), rep); err != nil {
		return nil, err
	}

	extractables := configuredExtractables(cfg)
	buildTime := time.Now().Unix()
	if err := marker.Insert(rom, extractables, buildTime); err != nil {
		return nil, xerrors.Errorf("stamping marker: %w", err)
	}

	if err := renameio.WriteFile(outputRomPath, rom, 0o644); err != nil {
		return nil, xerrors.Errorf("writing output ROM: %w", err)
	}
	if err := marker.StampProvenance(outputRomPath, pathutil.LastRomSyncPath(projectRoot), buildTime); err != nil {
		return nil, err
	}
	succeeded = true
	if err := os.RemoveAll(temporaryFolder); err != nil {
		log.Printf("warning: failed to clean up temporary build folder: %v", err)
	}

	return &Result{Report: rep, ConflictLog: conflictLog, OutputRomPath: outputRomPath}, nil
}

// sameOutputPaths reports whether two module-output path sets are equal
// regardless of order.
func sameOutputPaths(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, p := range a {
		counts[p]++
	}
	for _, p := range b {
		counts[p]--
	}
	for _, c := range counts {
		if c != 0 {
			return false
		}
	}
	return true
}

func ignoredNames(cfg *config.Configuration, projectRoot string) map[string]bool {
	out := make(map[string]bool, len(cfg.IgnoredConflictSymbols))
	for _, d := range cfg.IgnoredConflictSymbols {
		out[d.String(projectRoot)] = true
	}
	return out
}

// hijacksRegressed reports whether any address the patch previously
// hijacked is no longer among its current hijacks, the signal that a
// dependency the Build Report didn't track changed the patch's
// behavior.
func hijacksRegressed(previous, current []report.Hijack) bool {
	covered := map[int]struct{}{}
	for _, h := range current {
		for addr := range h.Addresses() {
			covered[addr] = struct{}{}
		}
	}
	for _, h := range previous {
		for addr := range h.Addresses() {
			if _, ok := covered[addr]; !ok {
				return true
			}
		}
	}
	return false
}

// restoreModuleImprint copies a module's cached imprint file(s) back into
// the active module directory when the module itself was not reinserted,
// so downstream units can still incsrc them. An imprint that is neither
// active nor cached can only be recreated by reinserting every module, so
// it escalates to a full rebuild.
func restoreModuleImprint(oldSymbolsDir, userModuleDir string, outputs []string) error {
	for _, p := range outputs {
		dst := filepath.Join(userModuleDir, filepath.Base(p))
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		src := filepath.Join(oldSymbolsDir, filepath.Base(p))
		data, err := os.ReadFile(src)
		if err != nil {
			return callistoerr.NewMustRebuildError(
				"imprint file %s is missing from the build cache", filepath.Base(p))
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return xerrors.Errorf("restoring module imprint %s: %w", dst, err)
		}
	}
	return nil
}

// moduleAssembler recovers the assembler a Module unit was built with, so
// cleanup.Clean can reuse the same invocation contract.
func moduleAssembler(unit insertable.Insertable) assembler.Assembler {
	m, ok := unit.(*insertable.Module)
	if !ok {
		panic("quick build selected cleanup for a non-Module descriptor")
	}
	return m.Assembler
}
