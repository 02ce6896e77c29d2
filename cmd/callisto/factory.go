package main

import (
	"context"

	"github.com/smw-build/callisto/internal/assembler"
	"github.com/smw-build/callisto/internal/config"
	"github.com/smw-build/callisto/internal/dependency"
	"github.com/smw-build/callisto/internal/descriptor"
	"github.com/smw-build/callisto/internal/insertable"
	"github.com/smw-build/callisto/internal/pathutil"
	"github.com/smw-build/callisto/internal/tool"
)

// projectFactory turns a resolved descriptor into the concrete
// insertable.Insertable that performs its work. It is constructed once
// per build from the resolved Configuration and an already-instantiated
// assembler.
type projectFactory struct {
	cfg             *config.Configuration
	asm             assembler.Assembler
	moduleNames     []string
	includePaths    []string
	callistoAsmFile string
	imprintDir      string
}

func newProjectFactory(cfg *config.Configuration, asm assembler.Assembler) *projectFactory {
	projectRoot, _ := cfg.ProjectRoot.Get()
	var includePaths []string
	if projectRoot != "" {
		includePaths = append(includePaths, projectRoot)
	}
	return &projectFactory{
		cfg:             cfg,
		asm:             asm,
		moduleNames:     cfg.Modules,
		includePaths:    includePaths,
		callistoAsmFile: pathutil.CallistoAsmPath(projectRoot),
		imprintDir:      pathutil.UserModuleDirectory(projectRoot),
	}
}

func (f *projectFactory) Build(d descriptor.Descriptor) (insertable.Insertable, error) {
	projectRoot, _ := f.cfg.ProjectRoot.Get()

	switch d.Symbol {
	case descriptor.InitialPatch:
		flips, haveFlips := f.cfg.Flips.Get()
		patch, havePatch := f.cfg.InitialPatch.Get()
		if haveFlips && havePatch {
			cleanRom, _ := f.cfg.CleanRom.Get()
			temporaryFolder, _ := f.cfg.TemporaryFolder.Get()
			return insertable.NewInitialPatch(flips, patch, cleanRom, temporaryFolder), nil
		}
		return newFixedResourceInsertable(f.cfg, d.Symbol), nil

	case descriptor.Patch:
		return insertable.NewPatch(f.asm, projectRoot, d.Name, f.includePaths), nil

	case descriptor.Module:
		m := insertable.NewModule(f.asm, projectRoot, d.Name, f.imprintDir, f.callistoAsmFile,
			f.moduleNames, f.includePaths)
		if header, ok := f.cfg.ModuleHeader.Get(); ok {
			m.ModuleHeaderFile = header
		}
		return m, nil

	case descriptor.ExternalTool:
		tc, ok := f.cfg.GenericToolConfigurations[d.Name]
		if !ok {
			tc = config.ToolConfig{}
		}
		temporaryFolder, _ := f.cfg.TemporaryFolder.Get()
		outputRom, _ := f.cfg.OutputRom.Get()
		spec := tool.Spec{
			Name:             d.Name,
			Executable:       tc.Executable,
			Options:          tc.Options,
			WorkingDirectory: tc.WorkingDirectory,
			TakesUserInput:   f.cfg.AllowUserInput,
			PassROM:          tc.PassROM,
			ROMPath:          pathutil.TemporaryRomPath(temporaryFolder, outputRom),
			CallistoDir:      pathutil.CallistoDirectory(projectRoot),
		}
		staticDeps := dependency.NewSet(dependency.NewResource(tc.Executable, dependency.Rebuild))
		for _, p := range tc.StaticDependencies {
			staticDeps.Add(dependency.NewResource(p, dependency.Rebuild))
		}
		return insertable.NewExternalTool(d.Name, spec, tc.DependencyReportPath,
			staticDeps, dependency.NewConfigurationSet()), nil

	default:
		return newFixedResourceInsertable(f.cfg, d.Symbol), nil
	}
}

// newFixedResourceInsertable builds the DirectoryInsertable for a fixed
// resource symbol (Graphics, Map16, Levels, ...). The byte-format surgery
// those kinds perform is out of scope; sourceDirInserter is
// a no-op placeholder that still exercises the dependency-tracking
// bookkeeping DirectoryInsertable owns.
func newFixedResourceInsertable(cfg *config.Configuration, symbol descriptor.Symbol) insertable.Insertable {
	sourceDir := sourceDirFor(cfg, symbol)
	return insertable.NewDirectoryInsertable(symbol, sourceDir, sourceDirInserter)
}

func sourceDirInserter(ctx context.Context, rom []byte, sourceDir string) ([]byte, error) {
	return rom, nil
}

func sourceDirFor(cfg *config.Configuration, symbol descriptor.Symbol) string {
	switch symbol {
	case descriptor.Graphics:
		d, _ := cfg.Graphics.Get()
		return d
	case descriptor.ExGraphics:
		d, _ := cfg.ExGraphics.Get()
		return d
	case descriptor.SharedPalettes:
		d, _ := cfg.SharedPalettes.Get()
		return d
	case descriptor.Map16:
		d, _ := cfg.Map16.Get()
		return d
	case descriptor.Credits:
		d, _ := cfg.Credits.Get()
		return d
	case descriptor.GlobalExAnimation:
		d, _ := cfg.GlobalExAnimation.Get()
		return d
	case descriptor.Overworld:
		d, _ := cfg.Overworld.Get()
		return d
	case descriptor.TitleScreen:
		d, _ := cfg.TitleScreen.Get()
		return d
	case descriptor.Levels:
		d, _ := cfg.Levels.Get()
		return d
	case descriptor.InitialPatch:
		d, _ := cfg.InitialPatch.Get()
		return d
	default:
		return ""
	}
}
