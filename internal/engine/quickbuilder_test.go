package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/xerrors"

	"github.com/smw-build/callisto/internal/assembler"
	"github.com/smw-build/callisto/internal/callistoerr"
	"github.com/smw-build/callisto/internal/callistotest"
	"github.com/smw-build/callisto/internal/cleanup"
	"github.com/smw-build/callisto/internal/config"
	"github.com/smw-build/callisto/internal/dependency"
	"github.com/smw-build/callisto/internal/descriptor"
	"github.com/smw-build/callisto/internal/engine"
	"github.com/smw-build/callisto/internal/insertable"
	"github.com/smw-build/callisto/internal/pathutil"
	"github.com/smw-build/callisto/internal/report"
)

func quickBuild(cfg *config.Configuration, f engine.Factory) (*engine.Result, error) {
	qb := &engine.QuickBuilder{Config: cfg, Factory: f, Version: testVersion}
	return qb.Build(context.Background())
}

// touch bumps a file's mtime past its captured dependency timestamp.
func touch(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
}

func mustRebuildErr(t *testing.T, err error) {
	t.Helper()
	var mustRebuild *callistoerr.MustRebuildError
	if !xerrors.As(err, &mustRebuild) {
		t.Fatalf("quick build = %v, want *callistoerr.MustRebuildError", err)
	}
}

func TestQuickBuildNoChangeDoesNothing(t *testing.T) {
	cfg, _, unit := patchProject(t)
	rebuild(t, cfg, mapFactory{unit.desc: unit})

	outputRom, _ := cfg.OutputRom.Get()
	before, err := os.ReadFile(outputRom)
	if err != nil {
		t.Fatal(err)
	}

	fresh := &fakePatch{fakeUnit: fakeUnit{desc: unit.desc, resDeps: unit.resDeps}, hijacks: unit.hijacks}
	result, err := quickBuild(cfg, mapFactory{fresh.desc: fresh})
	if err != nil {
		t.Fatalf("quick build: %v", err)
	}
	if result != nil {
		t.Fatal("quick build with no changed dependencies did work, want nil result")
	}
	if fresh.inserts != 0 {
		t.Errorf("quick build inserted %d times, want 0", fresh.inserts)
	}

	after, err := os.ReadFile(outputRom)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("quick build with no work modified the output artifact")
	}
}

func TestQuickBuildReinsertsOnlyChangedUnit(t *testing.T) {
	cfg, _ := twoPatchProject(t)
	order, err := cfg.BuildOrder()
	if err != nil {
		t.Fatal(err)
	}

	units := mapFactory{}
	for _, d := range order {
		units[d] = &fakeUnit{desc: d, resDeps: dependency.NewSet(dependency.NewResource(d.Name, dependency.Reinsert))}
	}
	rebuild(t, cfg, units)

	touch(t, order[0].Name)

	freshA := &fakeUnit{desc: order[0], resDeps: units[order[0]].(*fakeUnit).resDeps}
	freshB := &fakeUnit{desc: order[1], resDeps: units[order[1]].(*fakeUnit).resDeps}
	result, err := quickBuild(cfg, mapFactory{order[0]: freshA, order[1]: freshB})
	if err != nil {
		t.Fatalf("quick build: %v", err)
	}
	if result == nil {
		t.Fatal("quick build after a content change did nothing")
	}
	if freshA.inserts != 1 {
		t.Errorf("changed unit inserted %d times, want 1", freshA.inserts)
	}
	if freshB.inserts != 0 {
		t.Errorf("unchanged unit inserted %d times, want 0", freshB.inserts)
	}
}

func TestQuickBuildRebuildPolicyResourceEscalates(t *testing.T) {
	cfg, root, unit := patchProject(t)
	include := filepath.Join(root, "patches", "include.asm")
	callistotest.WriteSource(t, include, ";\n")
	unit.resDeps.Add(dependency.NewResource(include, dependency.Rebuild))
	rebuild(t, cfg, mapFactory{unit.desc: unit})

	touch(t, include)

	fresh := &fakePatch{fakeUnit: fakeUnit{desc: unit.desc, resDeps: unit.resDeps}}
	_, err := quickBuild(cfg, mapFactory{fresh.desc: fresh})
	mustRebuildErr(t, err)
	if fresh.inserts != 0 {
		t.Errorf("escalating quick build performed %d insertions, want 0", fresh.inserts)
	}
}

func TestQuickBuildRebuildPolicyConfigEscalates(t *testing.T) {
	cfg, _, unit := patchProject(t)
	unit.configDeps = dependency.NewConfigurationSet(dependency.Configuration{
		Key: "clean_rom", Value: "roms/clean-v1.smc", Policy: dependency.Rebuild,
	})
	rebuild(t, cfg, mapFactory{unit.desc: unit})

	fresh := &fakePatch{fakeUnit: fakeUnit{
		desc:    unit.desc,
		resDeps: unit.resDeps,
		configDeps: dependency.NewConfigurationSet(dependency.Configuration{
			Key: "clean_rom", Value: "roms/clean-v2.smc", Policy: dependency.Rebuild,
		}),
	}}
	_, err := quickBuild(cfg, mapFactory{fresh.desc: fresh})
	mustRebuildErr(t, err)
}

func TestQuickBuildReinsertPolicyConfigReinserts(t *testing.T) {
	cfg, _, unit := patchProject(t)
	unit.configDeps = dependency.NewConfigurationSet(dependency.Configuration{
		Key: "settings.module_header", Value: "a.asm", Policy: dependency.Reinsert,
	})
	rebuild(t, cfg, mapFactory{unit.desc: unit})

	fresh := &fakePatch{fakeUnit: fakeUnit{
		desc:    unit.desc,
		resDeps: unit.resDeps,
		configDeps: dependency.NewConfigurationSet(dependency.Configuration{
			Key: "settings.module_header", Value: "b.asm", Policy: dependency.Reinsert,
		}),
	}, hijacks: unit.hijacks}
	result, err := quickBuild(cfg, mapFactory{fresh.desc: fresh})
	if err != nil {
		t.Fatalf("quick build: %v", err)
	}
	if result == nil || fresh.inserts != 1 {
		t.Errorf("reinsert-policy config change: result=%v inserts=%d, want one reinsertion", result, fresh.inserts)
	}
}

func TestQuickBuildBuildOrderChangeEscalates(t *testing.T) {
	cfg, root, unit := patchProject(t)
	rebuild(t, cfg, mapFactory{unit.desc: unit})

	extra := filepath.Join(root, "patches", "extra.asm")
	callistotest.WriteSource(t, extra, "nop\n")
	cfg.Patches = append(cfg.Patches, extra)

	d2, _ := descriptor.New(descriptor.Patch, extra)
	fresh := &fakePatch{fakeUnit: fakeUnit{desc: unit.desc, resDeps: unit.resDeps}}
	extraUnit := &fakeUnit{desc: d2}
	_, err := quickBuild(cfg, mapFactory{fresh.desc: fresh, d2: extraUnit})
	mustRebuildErr(t, err)
}

func TestQuickBuildMissingReportEscalates(t *testing.T) {
	cfg, _, unit := patchProject(t)
	_, err := quickBuild(cfg, mapFactory{unit.desc: unit})
	mustRebuildErr(t, err)
}

func TestQuickBuildRemovedLevelEscalates(t *testing.T) {
	cfg, root := testProject(t)
	levelsDir := filepath.Join(root, "levels")
	callistotest.WriteFile(t, filepath.Join(levelsDir, "1.mwl"), []byte("l1"))
	callistotest.WriteFile(t, filepath.Join(levelsDir, "105.mwl"), []byte("l105"))
	cfg.Levels = config.NewVariable("resources.levels", levelsDir)
	cfg.BuildOrderNames = []string{"Levels"}

	d, _ := descriptor.New(descriptor.Levels, "")
	stable := filepath.Join(root, "stable.txt")
	callistotest.WriteFile(t, stable, []byte("x"))
	unit := &fakeUnit{desc: d, resDeps: dependency.NewSet(dependency.NewResource(stable, dependency.Reinsert))}
	rebuild(t, cfg, mapFactory{d: unit})

	if err := os.Remove(filepath.Join(levelsDir, "105.mwl")); err != nil {
		t.Fatal(err)
	}

	fresh := &fakeUnit{desc: d, resDeps: unit.resDeps}
	_, err := quickBuild(cfg, mapFactory{d: fresh})
	mustRebuildErr(t, err)
	if fresh.inserts != 0 {
		t.Errorf("level-removal escalation performed %d insertions, want 0", fresh.inserts)
	}
}

func TestQuickBuildHijackRegressionEscalates(t *testing.T) {
	cfg, _, unit := patchProject(t)
	rebuild(t, cfg, mapFactory{unit.desc: unit})

	touch(t, unit.desc.Name)

	// The edited patch no longer covers the last previously hijacked byte.
	fresh := &fakePatch{
		fakeUnit: fakeUnit{desc: unit.desc, resDeps: unit.resDeps},
		hijacks:  []report.Hijack{{Offset: 0x100, Length: 1}},
	}
	_, err := quickBuild(cfg, mapFactory{fresh.desc: fresh})
	mustRebuildErr(t, err)
}

func TestQuickBuildHijackSupersetCompletes(t *testing.T) {
	cfg, root, unit := patchProject(t)
	rebuild(t, cfg, mapFactory{unit.desc: unit})

	touch(t, unit.desc.Name)

	fresh := &fakePatch{
		fakeUnit: fakeUnit{desc: unit.desc, resDeps: unit.resDeps},
		hijacks:  []report.Hijack{{Offset: 0x100, Length: 4}},
	}
	result, err := quickBuild(cfg, mapFactory{fresh.desc: fresh})
	if err != nil {
		t.Fatalf("quick build: %v", err)
	}
	if result == nil || fresh.inserts != 1 {
		t.Fatalf("superset hijacks: result=%v inserts=%d, want one reinsertion", result, fresh.inserts)
	}

	rep, err := report.Load(pathutil.BuildReportPath(root))
	if err != nil || rep == nil {
		t.Fatalf("loading refreshed build report: %v (report=%v)", err, rep)
	}
	entry, ok := rep.EntryFor(unit.desc)
	if !ok {
		t.Fatal("refreshed report missing the patch entry")
	}
	if len(entry.Hijacks) != 1 || entry.Hijacks[0].Length != 4 {
		t.Errorf("stored hijacks = %+v, want the updated (0x100, 4) interval", entry.Hijacks)
	}
}

// The same patch path may legally appear at more than one build-order
// position, with different accumulated ROM state and therefore different
// hijacks. Report entries must be matched positionally, or the second
// occurrence gets compared against the first occurrence's hijacks and
// spuriously escalates.
func TestQuickBuildDuplicateDescriptorUsesPositionalEntries(t *testing.T) {
	cfg, root := testProject(t)
	p := filepath.Join(root, "patches", "twice.asm")
	callistotest.WriteSource(t, p, "nop\n")
	cfg.Patches = []string{p}
	cfg.BuildOrderNames = []string{"patches/twice.asm", "patches/twice.asm"}

	hijacksByPosition := [][]report.Hijack{
		{{Offset: 0x100, Length: 2}},
		{{Offset: 0x200, Length: 2}},
	}
	next := 0
	factory := funcFactory(func(d descriptor.Descriptor) (insertable.Insertable, error) {
		u := &fakePatch{
			fakeUnit: fakeUnit{
				desc:    d,
				resDeps: dependency.NewSet(dependency.NewResource(p, dependency.Reinsert)),
			},
			hijacks: hijacksByPosition[next%2],
		}
		next++
		return u, nil
	})

	rebuild(t, cfg, factory)

	touch(t, p)
	next = 0
	result, err := quickBuild(cfg, factory)
	if err != nil {
		t.Fatalf("quick build with a duplicated build-order entry: %v", err)
	}
	if result == nil {
		t.Fatal("quick build after a content change did nothing")
	}
}

// moduleProject wires a real insertable.Module against a fake assembler
// that reports one freespace block and one label, and that emits the
// .dependencies side-channel file module insertions are expected to leave
// behind.
func moduleProject(t *testing.T) (*config.Configuration, string, string, *assembler.Fake, funcFactory) {
	t.Helper()
	cfg, root := testProject(t)
	modPath := filepath.Join(root, "modules", "m.asm")
	callistotest.WriteSource(t, modPath, "freespace\nLabel:\n")
	cfg.Modules = []string{modPath}
	cfg.BuildOrderNames = []string{"Modules"}

	fake := &assembler.Fake{Handler: func(req assembler.Request) (*assembler.Result, error) {
		if strings.Contains(string(req.Source), "autoclean") {
			return &assembler.Result{ROM: req.ROM}, nil
		}
		callistotest.WriteFile(t, filepath.Join(filepath.Dir(modPath), ".dependencies"), []byte("m.asm\n"))
		return &assembler.Result{
			ROM: req.ROM,
			WrittenBlocks: []assembler.WrittenBlock{
				{SNESOffset: 0x309000, PCOffset: 0x108000, NumBytes: 16},
			},
			Labels: []assembler.Label{{Name: "Label", Location: 0x309000}},
		}, nil
	}}

	factory := funcFactory(func(d descriptor.Descriptor) (insertable.Insertable, error) {
		if d.Symbol != descriptor.Module {
			return nil, xerrors.Errorf("unexpected descriptor %v", d)
		}
		return insertable.NewModule(fake, root, d.Name,
			pathutil.UserModuleDirectory(root), pathutil.CallistoAsmPath(root), cfg.Modules, nil), nil
	})
	return cfg, root, modPath, fake, factory
}

func TestQuickBuildModuleCleanupAndReinsertion(t *testing.T) {
	cfg, root, modPath, fake, factory := moduleProject(t)
	rebuild(t, cfg, factory)

	ledgerPath := pathutil.ModuleCleanupFile(root, modPath)
	addresses, err := cleanup.Read(ledgerPath)
	if err != nil {
		t.Fatalf("reading cleanup ledger after rebuild: %v", err)
	}
	if len(addresses) != 1 || addresses[0] != 0x309000 {
		t.Fatalf("ledger addresses = %v, want [0x309000]", addresses)
	}

	touch(t, modPath)

	callsBefore := len(fake.Calls)
	result, err := quickBuild(cfg, factory)
	if err != nil {
		t.Fatalf("quick build: %v", err)
	}
	if result == nil {
		t.Fatal("quick build after a module edit did nothing")
	}

	calls := fake.Calls[callsBefore:]
	if len(calls) != 2 {
		t.Fatalf("quick build made %d assembler calls, want cleanup + reinsert", len(calls))
	}
	if !strings.Contains(string(calls[0].Source), "autoclean $309000") {
		t.Errorf("first assembler call %q is not the autoclean pass", calls[0].Source)
	}

	if _, err := cleanup.Read(ledgerPath); err != nil {
		t.Errorf("cleanup ledger not rewritten after reinsertion: %v", err)
	}
}

func TestQuickBuildMissingLedgerEscalates(t *testing.T) {
	cfg, root, modPath, _, factory := moduleProject(t)
	rebuild(t, cfg, factory)

	if err := os.Remove(pathutil.ModuleCleanupFile(root, modPath)); err != nil {
		t.Fatal(err)
	}
	touch(t, modPath)

	_, err := quickBuild(cfg, factory)
	mustRebuildErr(t, err)
}

func TestQuickBuildRestoresImprintForUnchangedModule(t *testing.T) {
	cfg, root, _, _, moduleFactory := moduleProject(t)

	// Add a patch after the module so the quick build has work to do while
	// the module itself stays untouched.
	patchPath := filepath.Join(root, "patches", "p.asm")
	callistotest.WriteSource(t, patchPath, "nop\n")
	cfg.Patches = []string{patchPath}
	cfg.BuildOrderNames = []string{"Modules", "Patches"}

	pd, _ := descriptor.New(descriptor.Patch, patchPath)
	newPatchUnit := func() *fakePatch {
		return &fakePatch{fakeUnit: fakeUnit{
			desc:    pd,
			resDeps: dependency.NewSet(dependency.NewResource(patchPath, dependency.Reinsert)),
		}}
	}
	factory := funcFactory(func(d descriptor.Descriptor) (insertable.Insertable, error) {
		if d == pd {
			return newPatchUnit(), nil
		}
		return moduleFactory(d)
	})

	rebuild(t, cfg, factory)

	imprintPath := filepath.Join(pathutil.UserModuleDirectory(root), "m.asm")
	if _, err := os.Stat(imprintPath); err != nil {
		t.Fatalf("rebuild emitted no imprint file: %v", err)
	}
	if err := os.Remove(imprintPath); err != nil {
		t.Fatal(err)
	}

	touch(t, patchPath)
	result, err := quickBuild(cfg, factory)
	if err != nil {
		t.Fatalf("quick build: %v", err)
	}
	if result == nil {
		t.Fatal("quick build after a patch edit did nothing")
	}

	if _, err := os.Stat(imprintPath); err != nil {
		t.Errorf("unchanged module's imprint file not restored from the build cache: %v", err)
	}
}

func TestQuickBuildMissingImprintEverywhereEscalates(t *testing.T) {
	cfg, root, _, _, moduleFactory := moduleProject(t)

	patchPath := filepath.Join(root, "patches", "p.asm")
	callistotest.WriteSource(t, patchPath, "nop\n")
	cfg.Patches = []string{patchPath}
	cfg.BuildOrderNames = []string{"Modules", "Patches"}

	pd, _ := descriptor.New(descriptor.Patch, patchPath)
	factory := funcFactory(func(d descriptor.Descriptor) (insertable.Insertable, error) {
		if d == pd {
			return &fakePatch{fakeUnit: fakeUnit{
				desc:    pd,
				resDeps: dependency.NewSet(dependency.NewResource(patchPath, dependency.Reinsert)),
			}}, nil
		}
		return moduleFactory(d)
	})

	rebuild(t, cfg, factory)

	callistotest.RemoveAll(t, filepath.Join(pathutil.UserModuleDirectory(root), "m.asm"))
	callistotest.RemoveAll(t, filepath.Join(pathutil.ModuleOldSymbolsDirectory(root), "m.asm"))

	touch(t, patchPath)
	_, err := quickBuild(cfg, factory)
	mustRebuildErr(t, err)
}
