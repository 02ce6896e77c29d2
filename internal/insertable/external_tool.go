package insertable

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/smw-build/callisto/internal/callistoerr"
	"github.com/smw-build/callisto/internal/dependency"
	"github.com/smw-build/callisto/internal/descriptor"
	"github.com/smw-build/callisto/internal/romfile"
	"github.com/smw-build/callisto/internal/tool"
)

// ExternalTool runs a configured, user-supplied binary (a generic build
// step; the BPS patcher is driven by InitialPatch instead) against the
// scratch ROM.
type ExternalTool struct {
	Name                 string
	Spec                 tool.Spec
	DependencyReportPath string // empty if the tool is configured with none
	StaticDependencies   dependency.Set

	configDeps dependency.ConfigurationSet
}

func NewExternalTool(name string, spec tool.Spec, dependencyReportPath string, staticDeps dependency.Set, configDeps dependency.ConfigurationSet) *ExternalTool {
	return &ExternalTool{
		Name:                 name,
		Spec:                 spec,
		DependencyReportPath: dependencyReportPath,
		StaticDependencies:   staticDeps,
		configDeps:           configDeps,
	}
}

func (t *ExternalTool) Descriptor() descriptor.Descriptor {
	d, _ := descriptor.New(descriptor.ExternalTool, t.Name)
	return d
}

func (t *ExternalTool) Init(ctx context.Context) error { return nil }

// Insert runs the tool. Unlike the other unit kinds, the tool operates on
// the temporary ROM file on disk (t.Spec.ROMPath), not an in-memory
// buffer, since it is an opaque external process: the scratch ROM is
// materialized before the run and read back (header stripped) afterwards.
// Tools configured without PassROM leave the ROM untouched.
func (t *ExternalTool) Insert(ctx context.Context, rom []byte) ([]byte, error) {
	if t.DependencyReportPath != "" {
		removeIfExists(t.DependencyReportPath)
	}

	if t.Spec.PassROM {
		if err := os.MkdirAll(filepath.Dir(t.Spec.ROMPath), 0o755); err != nil {
			return nil, xerrors.Errorf("creating temporary ROM folder for %s: %w", t.Name, err)
		}
		if err := os.WriteFile(t.Spec.ROMPath, rom, 0o644); err != nil {
			return nil, xerrors.Errorf("writing temporary ROM for %s: %w", t.Name, err)
		}
	}

	if err := tool.Run(ctx, t.Spec); err != nil {
		return nil, err
	}

	if t.Spec.PassROM {
		out, err := romfile.ReadUnheadered(t.Spec.ROMPath)
		if err != nil {
			return nil, xerrors.Errorf("reading temporary ROM back after %s: %w", t.Name, err)
		}
		return out, nil
	}
	return rom, nil
}

func (t *ExternalTool) ConfigurationDependencies() dependency.ConfigurationSet {
	return t.configDeps
}

func (t *ExternalTool) ResourceDependencies(ctx context.Context) (dependency.Set, error) {
	deps := dependency.NewSet()
	for _, d := range t.StaticDependencies {
		deps.Add(d)
	}

	if t.DependencyReportPath == "" {
		return nil, callistoerr.NewNoDependencyReportError(
			"no dependency report file configured for external tool %s", t.Name)
	}

	reported, err := extractReportedDependencies(t.DependencyReportPath, dependency.Rebuild)
	if err != nil {
		return nil, err
	}
	for _, d := range reported {
		deps.Add(d)
	}
	return deps, nil
}

func removeIfExists(path string) {
	os.Remove(path)
}
