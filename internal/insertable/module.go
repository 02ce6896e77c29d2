package insertable

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/smw-build/callisto/internal/assembler"
	"github.com/smw-build/callisto/internal/callistoerr"
	"github.com/smw-build/callisto/internal/dependency"
	"github.com/smw-build/callisto/internal/descriptor"
	"github.com/smw-build/callisto/internal/romfile"
)

// missingFreespaceWarningID is the warning id the assembler reports when
// a module writes without an org/freespace directive.
const missingFreespaceWarningID = 1008

// Module is an assembly unit that relocates into freespace and must be
// cleanly reclaimable on reinsertion.
type Module struct {
	Assembler        assembler.Assembler
	Path             string
	ProjectRoot      string
	ImprintDirectory string
	CallistoAsmFile  string
	ModuleHeaderFile string // empty if unset
	OtherModuleNames map[string]struct{}
	IncludePaths     []string

	patchSource   string
	writtenBlocks []assembler.WrittenBlock
	outputPaths   []string
}

func NewModule(asm assembler.Assembler, projectRoot, path, imprintDirectory, callistoAsmFile string, otherModulePaths []string, includePaths []string) *Module {
	others := make(map[string]struct{}, len(otherModulePaths))
	for _, p := range otherModulePaths {
		others[ModuleName(p)] = struct{}{}
	}
	return &Module{
		Assembler:        asm,
		Path:             path,
		ProjectRoot:      projectRoot,
		ImprintDirectory: imprintDirectory,
		CallistoAsmFile:  callistoAsmFile,
		OtherModuleNames: others,
		IncludePaths:     includePaths,
	}
}

// ModuleName derives a module's exported-label prefix from its source
// path (stem, spaces replaced with underscores).
func ModuleName(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.ReplaceAll(stem, " ", "_")
}

func (m *Module) Descriptor() descriptor.Descriptor {
	d, _ := descriptor.New(descriptor.Module, m.Path)
	return d
}

func (m *Module) Init(ctx context.Context) error {
	if _, err := os.Stat(m.Path); err != nil {
		return callistoerr.NewResourceNotFoundError("module %s does not exist", m.Path)
	}

	var src strings.Builder
	src.WriteString("warnings disable W1011\n")
	src.WriteString("if read1($00FFD5) == $23\nsa1rom\nelse\nlorom\nendif\n")

	if filepath.Ext(m.Path) == ".asm" {
		if m.ModuleHeaderFile != "" {
			fmt.Fprintf(&src, "incsrc \"%s\"\n\n", filepath.ToSlash(m.ModuleHeaderFile))
		}
		fmt.Fprintf(&src, "incsrc \"%s\"\n", filepath.ToSlash(m.Path))
	} else {
		fmt.Fprintf(&src, "incbin \"%s\" -> %s\n", filepath.ToSlash(m.Path), ModuleName(m.Path))
	}

	m.patchSource = src.String()
	return nil
}

func (m *Module) Insert(ctx context.Context, rom []byte) ([]byte, error) {
	dir := filepath.Dir(m.Path)
	os.Remove(filepath.Join(dir, dependencyReportName))

	result, err := m.Assembler.Assemble(ctx, assembler.Request{
		SourceName:       "temp.asm",
		Source:           []byte(m.patchSource),
		ROM:              rom,
		IncludePaths:     m.IncludePaths,
		WorkingDirectory: dir,
	})
	if err != nil {
		return nil, callistoerr.NewInsertionFailedError("failed to apply module %s: %v", m.Path, err)
	}

	for _, w := range result.Warnings {
		if w.ID == missingFreespaceWarningID {
			return nil, callistoerr.NewInsertionFailedError(
				"module %s is missing a freespace command", m.relativePath())
		}
	}

	if err := m.verifyNonHijacking(result.WrittenBlocks); err != nil {
		return nil, err
	}
	if err := m.verifyWrittenBlockCoverage(result.WrittenBlocks, result.Labels); err != nil {
		return nil, err
	}

	m.writtenBlocks = result.WrittenBlocks
	if err := m.emitImprintFile(result.Labels); err != nil {
		return nil, err
	}

	return result.ROM, nil
}

func (m *Module) relativePath() string {
	rel, err := filepath.Rel(m.ProjectRoot, m.Path)
	if err != nil {
		return m.Path
	}
	return rel
}

func (m *Module) verifyNonHijacking(blocks []assembler.WrittenBlock) error {
	for _, b := range blocks {
		if b.PCOffset < romfile.CleanRomSize {
			return callistoerr.NewInsertionFailedError(
				"module %s targets SNES address $%06X (unheadered); modules must not modify original game code",
				m.relativePath(), b.SNESOffset)
		}
	}
	return nil
}

func (m *Module) verifyWrittenBlockCoverage(blocks []assembler.WrittenBlock, labels []assembler.Label) error {
	for _, b := range blocks {
		start, end := b.SNESOffset, b.SNESOffset+b.NumBytes
		covered := false
		for _, l := range labels {
			low, high := l.Location, l.Location|0x800000
			if (low >= start && low < end) || (high >= start && high < end) {
				covered = true
				break
			}
		}
		if !covered {
			return callistoerr.NewInsertionFailedError(
				"module %s contains a freespace block with no labels and cannot be cleaned up", m.relativePath())
		}
	}
	return nil
}

func (m *Module) emitImprintFile(labels []assembler.Label) error {
	if err := os.MkdirAll(m.ImprintDirectory, 0o755); err != nil {
		return err
	}

	moduleName := ModuleName(m.Path)
	outputPath := filepath.Join(m.ImprintDirectory, moduleName+".asm")

	var b bytes.Buffer
	fmt.Fprintf(&b, "incsrc \"%s\"\n\n", filepath.ToSlash(m.CallistoAsmFile))

	if len(labels) == 0 {
		return callistoerr.NewInsertionFailedError(
			"module %s contains no labels, this will cause a freespace leak", moduleName)
	}

	if filepath.Ext(m.Path) != ".asm" {
		if len(labels) > 1 {
			return callistoerr.NewInsertionFailedError(
				"binary module %s unexpectedly contains more than one label", moduleName)
		}
		fmt.Fprintf(&b, "%s = $%06X\n", moduleName, labels[0].Location)
		fmt.Fprintf(&b, "!%s = $%06X\n", moduleName, labels[0].Location)
	} else {
		for _, l := range labels {
			if strings.HasPrefix(l.Name, ":") {
				continue // relatively named label
			}
			if strings.Contains(l.Name, ".") {
				continue // struct field
			}
			if owner, ok := labelOwner(l.Name); ok && owner != moduleName {
				if _, isOther := m.OtherModuleNames[owner]; isOther {
					continue // belongs to an imported module
				}
			}
			fmt.Fprintf(&b, "%s_%s = $%06X\n", moduleName, l.Name, l.Location)
			fmt.Fprintf(&b, "!%s_%s = $%06X\n", moduleName, l.Name, l.Location)
		}
	}

	if err := os.WriteFile(outputPath, b.Bytes(), 0o644); err != nil {
		return err
	}
	m.outputPaths = []string{outputPath}
	return nil
}

// labelOwner extracts the module-name prefix of a label up to its first
// underscore, the naming convention used to filter out imported modules'
// own labels.
func labelOwner(name string) (string, bool) {
	idx := strings.IndexByte(name, '_')
	if idx < 0 {
		return "", false
	}
	return name[:idx], true
}

func (m *Module) ConfigurationDependencies() dependency.ConfigurationSet {
	set := dependency.NewConfigurationSet(dependency.Configuration{
		Key:    "project_root",
		Value:  m.ProjectRoot,
		Policy: dependency.Rebuild,
	})
	if m.ModuleHeaderFile != "" {
		set.Add(dependency.Configuration{
			Key:    "module_header",
			Value:  m.ModuleHeaderFile,
			Policy: dependency.Reinsert,
		})
	}
	return set
}

func (m *Module) ResourceDependencies(ctx context.Context) (dependency.Set, error) {
	if filepath.Ext(m.Path) != ".asm" {
		os.Remove(filepath.Join(filepath.Dir(m.Path), dependencyReportName))
		return dependency.NewSet(dependency.NewResource(m.Path, dependency.Reinsert)), nil
	}

	reportPath := filepath.Join(filepath.Dir(m.Path), dependencyReportName)
	deps, err := extractReportedDependencies(reportPath, dependency.Rebuild)
	if err != nil {
		return nil, err
	}
	if m.ModuleHeaderFile != "" {
		deps.Add(dependency.NewResource(m.ModuleHeaderFile, dependency.Reinsert))
	}
	deps.Add(dependency.NewResource(m.Path, dependency.Reinsert))
	return deps, nil
}

func (m *Module) WrittenBlocks() []assembler.WrittenBlock { return m.writtenBlocks }
func (m *Module) ModuleOutputs() []string                 { return m.outputPaths }
