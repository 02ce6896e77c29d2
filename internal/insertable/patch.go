package insertable

import (
	"context"
	"os"
	"path/filepath"

	"github.com/smw-build/callisto/internal/assembler"
	"github.com/smw-build/callisto/internal/callistoerr"
	"github.com/smw-build/callisto/internal/dependency"
	"github.com/smw-build/callisto/internal/descriptor"
	"github.com/smw-build/callisto/internal/report"
	"github.com/smw-build/callisto/internal/romfile"
)

// Patch is an assembly unit that may hijack original-game addresses.
type Patch struct {
	Assembler    assembler.Assembler
	Path         string
	ProjectRoot  string
	IncludePaths []string

	hijacks []report.Hijack
}

// NewPatch constructs a Patch. Its ConfigurationDependencies register the
// project root as a Rebuild-policy configuration dependency.
func NewPatch(asm assembler.Assembler, projectRoot, path string, includePaths []string) *Patch {
	return &Patch{Assembler: asm, Path: path, ProjectRoot: projectRoot, IncludePaths: includePaths}
}

func (p *Patch) Descriptor() descriptor.Descriptor {
	d, _ := descriptor.New(descriptor.Patch, p.Path)
	return d
}

func (p *Patch) Init(ctx context.Context) error { return nil }

func (p *Patch) Insert(ctx context.Context, rom []byte) ([]byte, error) {
	if _, err := os.Stat(p.Path); err != nil {
		return nil, callistoerr.NewResourceNotFoundError("patch %s does not exist", p.Path)
	}

	dir := filepath.Dir(p.Path)
	os.Remove(filepath.Join(dir, dependencyReportName))

	source, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, err
	}

	result, err := p.Assembler.Assemble(ctx, assembler.Request{
		SourceName:       p.Path,
		Source:           source,
		ROM:              rom,
		IncludePaths:     p.IncludePaths,
		WorkingDirectory: dir,
	})
	if err != nil {
		return nil, callistoerr.NewInsertionFailedError("failed to apply patch %s: %v", p.Path, err)
	}

	p.hijacks = p.hijacks[:0]
	for _, block := range result.WrittenBlocks {
		if block.PCOffset < romfile.CleanRomSize {
			p.hijacks = append(p.hijacks, report.Hijack{Offset: block.PCOffset, Length: block.NumBytes})
		}
	}

	return result.ROM, nil
}

func (p *Patch) ConfigurationDependencies() dependency.ConfigurationSet {
	return dependency.NewConfigurationSet(dependency.Configuration{
		Key:    "project_root",
		Value:  p.ProjectRoot,
		Policy: dependency.Rebuild,
	})
}

func (p *Patch) ResourceDependencies(ctx context.Context) (dependency.Set, error) {
	reportPath := filepath.Join(filepath.Dir(p.Path), dependencyReportName)
	deps, err := extractReportedDependencies(reportPath, dependency.Rebuild)
	if err != nil {
		return nil, err
	}
	deps.Add(dependency.NewResource(p.Path, dependency.Reinsert))
	return deps, nil
}

func (p *Patch) Hijacks() []report.Hijack { return p.hijacks }
