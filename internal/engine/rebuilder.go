package engine

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/smw-build/callisto/internal/callistoerr"
	"github.com/smw-build/callisto/internal/cleanup"
	"github.com/smw-build/callisto/internal/conflict"
	"github.com/smw-build/callisto/internal/config"
	"github.com/smw-build/callisto/internal/descriptor"
	"github.com/smw-build/callisto/internal/insertable"
	"github.com/smw-build/callisto/internal/marker"
	"github.com/smw-build/callisto/internal/pathutil"
	"github.com/smw-build/callisto/internal/projectasm"
	"github.com/smw-build/callisto/internal/report"
	"github.com/smw-build/callisto/internal/romfile"
)

// Rebuilder performs a full, from-scratch build: it starts from a fresh
// copy of the clean ROM, and every unit in build order runs against the
// result of the units before it.
type Rebuilder struct {
	Config  *config.Configuration
	Factory Factory
	Version projectasm.Version
}

// Result is what a full build produces, for cmd/callisto to report.
type Result struct {
	Report        *report.Report
	ConflictLog   string
	OutputRomPath string
}

// Build runs the full pipeline: validate, regenerate the project include
// file, resolve the build order, instantiate and insert every unit with a
// one-unit init lookahead, diff write conflicts in the background, stamp
// the Marker, and write the output ROM.
func (r *Rebuilder) Build(ctx context.Context) (*Result, error) {
	cfg := r.Config
	projectRoot, _ := cfg.ProjectRoot.Get()
	cleanRomPath, _ := cfg.CleanRom.Get()
	outputRomPath, _ := cfg.OutputRom.Get()
	temporaryFolder, _ := cfg.TemporaryFolder.Get()

	warnings, err := romfile.CheckCleanRom(cleanRomPath)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w.Message)
	}

	if err := os.MkdirAll(pathutil.ModuleCleanupDirectory(projectRoot), 0o755); err != nil {
		return nil, xerrors.Errorf("creating module cleanup cache: %w", err)
	}
	if err := os.MkdirAll(pathutil.ModuleOldSymbolsDirectory(projectRoot), 0o755); err != nil {
		return nil, xerrors.Errorf("creating module symbol cache: %w", err)
	}
	userModuleDir := pathutil.UserModuleDirectory(projectRoot)
	if err := os.RemoveAll(userModuleDir); err != nil {
		return nil, xerrors.Errorf("clearing module imprint directory: %w", err)
	}
	if err := os.MkdirAll(userModuleDir, 0o755); err != nil {
		return nil, xerrors.Errorf("creating module imprint directory: %w", err)
	}
	if err := os.MkdirAll(temporaryFolder, 0o755); err != nil {
		return nil, xerrors.Errorf("creating temporary build folder: %w", err)
	}
	succeeded := false
	defer func() {
		// On any failure the scratch workspace is removed; the output
		// artifact is never partially overwritten since it is produced by
		// a rename as the final step.
		if !succeeded {
			os.RemoveAll(temporaryFolder)
		}
	}()

	profileName, _ := cfg.ConfigName.Get()
	asmContent := projectasm.Generate(profileName, userModuleDir, r.Version)
	callistoAsmPath := pathutil.CallistoAsmPath(projectRoot)
	if err := projectasm.WriteIfDifferent(asmContent, callistoAsmPath); err != nil {
		return nil, xerrors.Errorf("writing project include file: %w", err)
	}

	order, err := cfg.BuildOrder()
	if err != nil {
		return nil, err
	}

	units := make([]insertable.Insertable, len(order))
	for i, d := range order {
		unit, err := r.Factory.Build(d)
		if err != nil {
			return nil, err
		}
		units[i] = unit
	}

	rom, err := romfile.ReadUnheadered(cleanRomPath)
	if err != nil {
		return nil, xerrors.Errorf("reading clean ROM: %w", err)
	}
	rom = append([]byte(nil), rom...)

	policy, err := conflict.ParsePolicy(cfg.CheckConflicts.OrDefault(""))
	if err != nil {
		return nil, callistoerr.NewConfigError("%v", err)
	}
	conflictMap := conflict.NewMap()
	var conflictWorker *conflict.Worker
	if policy != conflict.None {
		conflictWorker = conflict.NewWorker(policy, conflictMap)
	}

	ignoredConflictSymbols := make(map[string]bool, len(cfg.IgnoredConflictSymbols))
	for _, d := range cfg.IgnoredConflictSymbols {
		ignoredConflictSymbols[d.String(projectRoot)] = true
	}

	rep := report.New()
	rep.BuildOrder = order

	incomplete := false

	initCtx, cancelInit := context.WithCancel(ctx)
	defer cancelInit()
	initDone := prefetchInit(initCtx, units)

	oldSymbolsDir := pathutil.ModuleOldSymbolsDirectory(projectRoot)

	for i, unit := range units {
		if err := <-initDone[i]; err != nil {
			if conflictWorker != nil {
				conflictWorker.Close()
			}
			return nil, xerrors.Errorf("initializing %s: %w", unit.Descriptor().String(projectRoot), err)
		}

		before := append([]byte(nil), rom...)

		rom, err = unit.Insert(ctx, rom)
		if err != nil {
			if conflictWorker != nil {
				conflictWorker.Close()
			}
			return nil, xerrors.Errorf("inserting %s: %w", unit.Descriptor().String(projectRoot), err)
		}

		if conflictWorker != nil {
			// The worker owns both buffers from here on; the next unit may
			// mutate rom in place, so hand over a snapshot.
			conflictWorker.Enqueue(conflict.Job{
				Before: before,
				After:  append([]byte(nil), rom...),
				Writer: unit.Descriptor().String(projectRoot),
			})
		}

		entry := report.Entry{
			Descriptor:               unit.Descriptor(),
			ConfigurationDependencies: unit.ConfigurationDependencies(),
		}

		if hr, ok := unit.(insertable.HijackReporter); ok {
			entry.Hijacks = hr.Hijacks()
		}
		if mr, ok := unit.(insertable.ModuleOutputReporter); ok {
			entry.ModuleOutputs = mr.ModuleOutputs()
			cacheImprints(oldSymbolsDir, entry.ModuleOutputs)
		}

		deps, err := unit.ResourceDependencies(ctx)
		if err != nil {
			var notFound *callistoerr.NoDependencyReportError
			if xerrors.As(err, &notFound) {
				log.Printf("warning: %v", err)
				incomplete = true
			} else {
				if conflictWorker != nil {
					conflictWorker.Close()
				}
				return nil, err
			}
		} else {
			entry.ResourceDependencies = deps
		}

		rep.Entries = append(rep.Entries, entry)

		if unit.Descriptor().Symbol == descriptor.Levels {
			rep.InsertedLevels = levelsFromSourceDir(cfg.Levels.OrDefault(""))
		}

		if wr, ok := unit.(insertable.WrittenBlockReporter); ok {
			addresses := make([]int, 0, len(wr.WrittenBlocks()))
			for _, b := range wr.WrittenBlocks() {
				addresses = append(addresses, b.SNESOffset)
			}
			if err := writeModuleCleanupLedger(projectRoot, unit.Descriptor(), addresses); err != nil {
				if conflictWorker != nil {
					conflictWorker.Close()
				}
				return nil, err
			}
		}
	}

	var conflictLog string
	if conflictWorker != nil {
		conflictWorker.Close()
		entries := conflictMap.Report(ignoredConflictSymbols)
		if len(entries) > 0 {
			conflictLog = conflict.RenderLog(entries)
			for _, e := range entries {
				log.Print(e.String(true))
			}
		}
	}

	buildReportPath := pathutil.BuildReportPath(projectRoot)
	if incomplete {
		if err := report.Delete(buildReportPath); err != nil {
			return nil, err
		}
		rep = nil
	} else {
		if err := report.Save(buildReportPath, rep); err != nil {
			return nil, err
		}
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

// prefetchInit runs every unit's Init on a single background goroutine,
// handing each result over an unbuffered channel: Init for unit i+1 runs
// concurrently with Insert for unit i but never gets more than one unit
// ahead of the foreground pipeline. Cancel ctx to release the
// goroutine when the pipeline aborts early.
func prefetchInit(ctx context.Context, units []insertable.Insertable) []chan error {
	done := make([]chan error, len(units))
	for i := range units {
		done[i] = make(chan error)
	}
	go func() {
		for i, unit := range units {
			select {
			case done[i] <- unit.Init(ctx):
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}

// cacheImprints copies a module's just-emitted imprint files into the
// old-symbols cache, so a later quick build can restore them for modules
// it does not reinsert.
func cacheImprints(oldSymbolsDir string, outputs []string) {
	for _, p := range outputs {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		os.WriteFile(filepath.Join(oldSymbolsDir, filepath.Base(p)), data, 0o644)
	}
}

func writeModuleCleanupLedger(projectRoot string, d descriptor.Descriptor, addresses []int) error {
	ledgerPath := pathutil.ModuleCleanupFile(projectRoot, d.Name)
	if err := os.MkdirAll(filepath.Dir(ledgerPath), 0o755); err != nil {
		return xerrors.Errorf("creating module cleanup ledger directory: %w", err)
	}
	return cleanup.Write(ledgerPath, addresses)
}

func configuredExtractables(cfg *config.Configuration) []marker.ExtractableType {
	var out []marker.ExtractableType
	check := func(v config.Variable[string], t marker.ExtractableType) {
		if _, ok := v.Get(); ok {
			out = append(out, t)
		}
	}
	check(cfg.Graphics, marker.ExtractGraphics)
	check(cfg.ExGraphics, marker.ExtractExGraphics)
	check(cfg.SharedPalettes, marker.ExtractSharedPalettes)
	check(cfg.Map16, marker.ExtractMap16)
	check(cfg.Credits, marker.ExtractCredits)
	check(cfg.TitleScreen, marker.ExtractTitleScreen)
	check(cfg.Overworld, marker.ExtractOverworld)
	check(cfg.GlobalExAnimation, marker.ExtractGlobalExAnimation)
	check(cfg.Levels, marker.ExtractLevels)
	return out
}

// levelsFromSourceDir enumerates the level numbers present under a
// levels source directory, named "<number>.asm" or "<number>.mwl".
func levelsFromSourceDir(dir string) []int {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var levels []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		stem := name[:len(name)-len(filepath.Ext(name))]
		if n, err := strconv.Atoi(stem); err == nil {
			levels = append(levels, n)
		}
	}
	return levels
}
