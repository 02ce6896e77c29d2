package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/smw-build/callisto/internal/callistoerr"
	"github.com/smw-build/callisto/internal/config"
	"github.com/smw-build/callisto/internal/descriptor"
)

// profileDocument is this command's own minimal JSON profile format:
// just enough structure to drive the engine package against a real
// project directory, not a general configuration language. See
// DESIGN.md.
type profileDocument struct {
	ProjectRoot     string `json:"project_root"`
	CleanRom        string `json:"clean_rom"`
	OutputRom       string `json:"output_rom"`
	TemporaryFolder string `json:"temporary_folder"`
	RomSize         *int   `json:"rom_size"`

	Flips              string `json:"flips"`
	AllowUserInput     bool   `json:"allow_user_input"`
	CheckPendingSave   bool   `json:"check_pending_save"`
	CheckConflicts     string `json:"check_conflicts"`
	ConflictLogFile    string `json:"conflict_log_file"`
	UseTextMap16Format *bool  `json:"use_text_map16_format"`
	ModuleHeader       string `json:"module_header"`

	Levels            string `json:"levels"`
	Graphics          string `json:"graphics"`
	ExGraphics        string `json:"ex_graphics"`
	SharedPalettes    string `json:"shared_palettes"`
	Map16             string `json:"map16"`
	Credits           string `json:"credits"`
	GlobalExAnimation string `json:"global_exanimation"`
	Overworld         string `json:"overworld"`
	TitleScreen       string `json:"title_screen"`
	InitialPatch      string `json:"initial_patch"`

	Patches []string `json:"patches"`
	Modules []string `json:"modules"`

	Tools         map[string]toolDocument   `json:"tools"`
	ModuleConfigs map[string]moduleDocument `json:"module_configurations"`

	IgnoredConflictPaths []string `json:"ignored_conflict_paths"`
	IgnoredConflictTools []string `json:"ignored_conflict_tools"`

	BuildOrder []string `json:"build_order"`
}

type toolDocument struct {
	Executable           string   `json:"executable"`
	Options              string   `json:"options"`
	WorkingDirectory     string   `json:"working_directory"`
	PassRom              bool     `json:"pass_rom"`
	DependencyReportPath string   `json:"dependency_report_path"`
	StaticDependencies   []string `json:"static_dependencies"`
}

type moduleDocument struct {
	OutputPaths []string `json:"output_paths"`
}

// profilePath returns "<project>/.callisto/profiles/<name>.json", this
// command's own convention for a named project profile document.
func profilePath(projectRoot, profileName string) string {
	return filepath.Join(projectRoot, ".callisto", "profiles", profileName+".json")
}

// listProfiles enumerates the profile documents configured for a project,
// for the "profiles" verb.
func listProfiles(projectRoot string) ([]string, error) {
	dir := filepath.Join(projectRoot, ".callisto", "profiles")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Errorf("listing profiles: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name()[:len(e.Name())-len(".json")])
	}
	return names, nil
}

// loadConfiguration reads and resolves a project's named profile into an
// internal/config.Configuration.
func loadConfiguration(projectRoot, profileName string) (*config.Configuration, error) {
	path := profilePath(projectRoot, profileName)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, callistoerr.NewConfigError("no profile %q configured for project %s", profileName, projectRoot)
		}
		return nil, xerrors.Errorf("reading profile %s: %w", path, err)
	}

	var doc profileDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, callistoerr.NewConfigError("parsing profile %s: %v", path, err)
	}

	root := doc.ProjectRoot
	if root == "" {
		root = projectRoot
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, callistoerr.NewConfigError("resolving project root: %v", err)
	}

	cfg := &config.Configuration{
		ProjectRoot:      config.NewVariable("project_root", root),
		CleanRom:         optionalPath("clean_rom", doc.CleanRom, root),
		OutputRom:        optionalPath("output_rom", doc.OutputRom, root),
		TemporaryFolder:  optionalPath("temporary_folder", orDefault(doc.TemporaryFolder, filepath.Join(root, ".callisto", ".temp")), root),
		ConfigName:       config.NewVariable("config_name", profileName),
		AllowUserInput:   doc.AllowUserInput,
		CheckPendingSave: doc.CheckPendingSave,
		Flips:            optionalPath("flips", doc.Flips, root),
		CheckConflicts:   optionalString("check_conflicts", doc.CheckConflicts),
		ConflictLogFile:  optionalPath("conflict_log_file", doc.ConflictLogFile, root),
		ModuleHeader:     optionalPath("module_header", doc.ModuleHeader, root),

		Levels:            optionalPath("levels", doc.Levels, root),
		Graphics:          optionalPath("graphics", doc.Graphics, root),
		ExGraphics:        optionalPath("ex_graphics", doc.ExGraphics, root),
		SharedPalettes:    optionalPath("shared_palettes", doc.SharedPalettes, root),
		Map16:             optionalPath("map16", doc.Map16, root),
		Credits:           optionalPath("credits", doc.Credits, root),
		GlobalExAnimation: optionalPath("global_exanimation", doc.GlobalExAnimation, root),
		Overworld:         optionalPath("overworld", doc.Overworld, root),
		TitleScreen:       optionalPath("title_screen", doc.TitleScreen, root),
		InitialPatch:      optionalPath("initial_patch", doc.InitialPatch, root),

		Patches: absolutizeAll(root, doc.Patches),
		Modules: absolutizeAll(root, doc.Modules),

		BuildOrderNames: doc.BuildOrder,
	}

	if doc.RomSize != nil {
		cfg.RomSize = config.NewVariable("rom_size", *doc.RomSize)
	} else {
		cfg.RomSize = config.NewUnsetVariable[int]("rom_size")
	}
	if doc.UseTextMap16Format != nil {
		cfg.UseTextMap16Format = config.NewVariable("use_text_map16_format", *doc.UseTextMap16Format)
	} else {
		cfg.UseTextMap16Format = config.NewUnsetVariable[bool]("use_text_map16_format")
	}

	if len(doc.Tools) > 0 {
		cfg.GenericToolConfigurations = make(map[string]config.ToolConfig, len(doc.Tools))
		for name, t := range doc.Tools {
			cfg.GenericToolConfigurations[name] = config.ToolConfig{
				Executable:           absolutize(root, t.Executable),
				Options:              t.Options,
				WorkingDirectory:     absolutize(root, t.WorkingDirectory),
				PassROM:              t.PassRom,
				DependencyReportPath: absolutize(root, t.DependencyReportPath),
				StaticDependencies:   absolutizeAll(root, t.StaticDependencies),
			}
		}
	}
	if len(doc.ModuleConfigs) > 0 {
		cfg.ModuleConfigurations = make(map[string]config.ModuleConfig, len(doc.ModuleConfigs))
		for name, m := range doc.ModuleConfigs {
			// Keyed by the module's canonical absolute path so lookups by
			// descriptor name line up.
			cfg.ModuleConfigurations[absolutize(root, name)] = config.ModuleConfig{RealOutputPaths: absolutizeAll(root, m.OutputPaths)}
		}
	}

	for _, p := range doc.IgnoredConflictPaths {
		abs := absolutize(root, p)
		symbol := descriptor.Patch
		for _, m := range cfg.Modules {
			if absolutize(root, m) == abs {
				symbol = descriptor.Module
				break
			}
		}
		d, err := descriptor.New(symbol, abs)
		if err != nil {
			return nil, callistoerr.NewConfigError("%v", err)
		}
		cfg.IgnoredConflictSymbols = append(cfg.IgnoredConflictSymbols, d)
	}
	for _, name := range doc.IgnoredConflictTools {
		d, err := descriptor.New(descriptor.ExternalTool, name)
		if err != nil {
			return nil, callistoerr.NewConfigError("%v", err)
		}
		cfg.IgnoredConflictSymbols = append(cfg.IgnoredConflictSymbols, d)
	}

	return cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func absolutize(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func absolutizeAll(root string, paths []string) []string {
	if paths == nil {
		return nil
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = absolutize(root, p)
	}
	return out
}

func optionalPath(name, value, root string) config.Variable[string] {
	if value == "" {
		return config.NewUnsetVariable[string](name)
	}
	return config.NewVariable(name, absolutize(root, value))
}

func optionalString(name, value string) config.Variable[string] {
	if value == "" {
		return config.NewUnsetVariable[string](name)
	}
	return config.NewVariable(name, value)
}
