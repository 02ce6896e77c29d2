package engine_test

import (
	"context"
	"path/filepath"
	"testing"

	"golang.org/x/xerrors"

	"github.com/smw-build/callisto/internal/callistotest"
	"github.com/smw-build/callisto/internal/config"
	"github.com/smw-build/callisto/internal/dependency"
	"github.com/smw-build/callisto/internal/descriptor"
	"github.com/smw-build/callisto/internal/engine"
	"github.com/smw-build/callisto/internal/insertable"
	"github.com/smw-build/callisto/internal/projectasm"
	"github.com/smw-build/callisto/internal/report"
)

var testVersion = projectasm.Version{Major: 1, Minor: 0, Patch: 0}

// mapFactory hands out pre-built units by descriptor.
type mapFactory map[descriptor.Descriptor]insertable.Insertable

func (f mapFactory) Build(d descriptor.Descriptor) (insertable.Insertable, error) {
	u, ok := f[d]
	if !ok {
		return nil, xerrors.Errorf("no unit registered for %v", d)
	}
	return u, nil
}

// funcFactory builds a fresh unit per call, for unit kinds that carry
// per-build state.
type funcFactory func(d descriptor.Descriptor) (insertable.Insertable, error)

func (f funcFactory) Build(d descriptor.Descriptor) (insertable.Insertable, error) {
	return f(d)
}

// fakeUnit is a scriptable Insertable for driving the builders without
// real assembler or tool invocations.
type fakeUnit struct {
	desc       descriptor.Descriptor
	writeAt    int
	writeBytes []byte
	configDeps dependency.ConfigurationSet
	resDeps    dependency.Set
	depErr     error
	insertErr  error
	inserts    int
}

func (u *fakeUnit) Descriptor() descriptor.Descriptor { return u.desc }

func (u *fakeUnit) Init(ctx context.Context) error { return nil }

func (u *fakeUnit) Insert(ctx context.Context, rom []byte) ([]byte, error) {
	if u.insertErr != nil {
		return nil, u.insertErr
	}
	u.inserts++
	copy(rom[u.writeAt:], u.writeBytes)
	return rom, nil
}

func (u *fakeUnit) ConfigurationDependencies() dependency.ConfigurationSet {
	if u.configDeps == nil {
		return dependency.NewConfigurationSet()
	}
	return u.configDeps
}

func (u *fakeUnit) ResourceDependencies(ctx context.Context) (dependency.Set, error) {
	if u.depErr != nil {
		return nil, u.depErr
	}
	return u.resDeps, nil
}

// fakePatch additionally reports hijacks, like insertable.Patch.
type fakePatch struct {
	fakeUnit
	hijacks []report.Hijack
}

func (p *fakePatch) Hijacks() []report.Hijack { return p.hijacks }

// testProject builds a minimal resolved configuration over a temp project
// root with a valid clean ROM.
func testProject(t *testing.T) (*config.Configuration, string) {
	t.Helper()
	root := t.TempDir()
	cleanRom := filepath.Join(root, "clean.smc")
	callistotest.WriteCleanRom(t, cleanRom)
	return &config.Configuration{
		ProjectRoot:     config.NewVariable("project_root", root),
		CleanRom:        config.NewVariable("clean_rom", cleanRom),
		OutputRom:       config.NewVariable("output_rom", filepath.Join(root, "out.smc")),
		TemporaryFolder: config.NewVariable("temporary_folder", filepath.Join(root, ".callisto", ".temp")),
		ConfigName:      config.NewVariable("config_name", "test"),
		CheckConflicts:  config.NewVariable("settings.check_conflicts", "all"),
	}, root
}

func rebuild(t *testing.T, cfg *config.Configuration, f engine.Factory) *engine.Result {
	t.Helper()
	rb := &engine.Rebuilder{Config: cfg, Factory: f, Version: testVersion}
	result, err := rb.Build(context.Background())
	if err != nil {
		t.Fatalf("Rebuilder.Build: %v", err)
	}
	return result
}
