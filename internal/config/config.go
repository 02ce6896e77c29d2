// Package config holds the engine's view of a resolved project
// configuration. Configuration is the already-resolved value the rest of
// the engine consumes; parsing whatever file format a frontend chooses
// is that frontend's concern.
package config

import "github.com/smw-build/callisto/internal/descriptor"

// ToolConfig describes one configured external tool.
type ToolConfig struct {
	Executable       string
	Options          string
	WorkingDirectory string
	// PassROM indicates the tool is invoked with the current ROM as
	// input/output, as opposed to being a side-effect-only tool (e.g. one
	// that only writes documentation): the scratch ROM is written out,
	// its path is passed as the last argument, and the file is read back
	// after the tool exits.
	PassROM bool
	// DependencyReportPath is where the tool writes its .dependencies-style
	// report, if it produces one. Empty means the tool reports no
	// dependencies and forces a full rebuild next time.
	DependencyReportPath string
	// StaticDependencies are extra resource paths to track for the tool
	// beyond its executable (e.g. its data directory).
	StaticDependencies []string
}

// ModuleConfig describes the per-module settings the build order resolver
// and the module-output-change check need.
type ModuleConfig struct {
	// RealOutputPaths is the set of label-imprint file paths this module
	// is configured to emit (module_outputs in the Build Report).
	RealOutputPaths []string
}

// Configuration is the fully-resolved project configuration for one build.
type Configuration struct {
	ProjectRoot     Variable[string]
	CleanRom        Variable[string]
	OutputRom       Variable[string]
	TemporaryFolder Variable[string]
	ConfigName      Variable[string]
	RomSize         Variable[int]

	AllowUserInput    bool
	CheckPendingSave  bool
	// Flips is the BPS patcher executable used to apply the initial patch.
	Flips             Variable[string]
	CheckConflicts    Variable[string] // "none" | "hijacks" | "all"
	ConflictLogFile   Variable[string]
	UseTextMap16Format Variable[bool]
	ModuleHeader      Variable[string]

	Levels            Variable[string]
	Graphics          Variable[string]
	ExGraphics        Variable[string]
	SharedPalettes    Variable[string]
	Map16             Variable[string]
	Credits           Variable[string]
	GlobalExAnimation Variable[string]
	Overworld         Variable[string]
	TitleScreen       Variable[string]
	InitialPatch      Variable[string]

	// Patches and Modules are the full configured lists, used to expand
	// the "Patches"/"Modules" build-order shorthands.
	Patches []string
	Modules []string

	GenericToolConfigurations map[string]ToolConfig
	ModuleConfigurations      map[string]ModuleConfig

	IgnoredConflictSymbols []descriptor.Descriptor

	// BuildOrderNames is the human-authored order before expansion: each
	// entry is either a fixed-resource symbol name, "Patches", "Modules",
	// an external tool name, or a literal path.
	BuildOrderNames []string
}

// variables lists every Variable field for dotted-key lookup. Order
// doesn't matter; entries are walked once per ValueByKey call.
func (c *Configuration) variables() []anyValue {
	return []anyValue{
		c.ProjectRoot, c.CleanRom, c.OutputRom, c.TemporaryFolder, c.ConfigName, c.RomSize,
		c.Flips, c.CheckConflicts, c.ConflictLogFile, c.UseTextMap16Format, c.ModuleHeader,
		c.Levels, c.Graphics, c.ExGraphics, c.SharedPalettes, c.Map16, c.Credits,
		c.GlobalExAnimation, c.Overworld, c.TitleScreen, c.InitialPatch,
	}
}

// ValueByKey returns the current value of a configuration variable by
// its dotted name, for the quick-build policy comparisons. Returns nil
// if the key is unknown or unset.
func (c *Configuration) ValueByKey(key string) interface{} {
	for _, v := range c.variables() {
		if v.key() == key {
			val, _ := v.value()
			return val
		}
	}
	return nil
}
