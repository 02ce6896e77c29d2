// Package insertable implements the insertable protocol: the uniform
// init/insert/report-dependencies contract every build-order unit obeys,
// plus the concrete unit kinds (Patch, Module, ExternalTool, and the
// fixed-resource-directory kind).
package insertable

import (
	"bufio"
	"context"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/smw-build/callisto/internal/assembler"
	"github.com/smw-build/callisto/internal/callistoerr"
	"github.com/smw-build/callisto/internal/dependency"
	"github.com/smw-build/callisto/internal/descriptor"
	"github.com/smw-build/callisto/internal/report"
)

// Insertable is the uniform contract every build-order unit satisfies.
type Insertable interface {
	Descriptor() descriptor.Descriptor

	// Init prepares scratch state. May run on a background goroutine one
	// unit ahead of the pipeline; must be idempotent and must not touch
	// the live artifact.
	Init(ctx context.Context) error

	// Insert mutates rom (an unheadered scratch ROM buffer) and returns
	// the resulting bytes.
	Insert(ctx context.Context, rom []byte) ([]byte, error)

	// ConfigurationDependencies returns the set accumulated during
	// construction and Insert.
	ConfigurationDependencies() dependency.ConfigurationSet

	// ResourceDependencies returns the set determined at the end of
	// Insert; may fail with *callistoerr.NoDependencyReportError.
	ResourceDependencies(ctx context.Context) (dependency.Set, error)
}

// HijackReporter is implemented by units that can write into the
// original-game region (Patch).
type HijackReporter interface {
	Hijacks() []report.Hijack
}

// WrittenBlockReporter is implemented by units whose freespace writes
// must be tracked for later reclamation (Module).
type WrittenBlockReporter interface {
	WrittenBlocks() []assembler.WrittenBlock
}

// ModuleOutputReporter is implemented by units that emit label-imprint
// files (Module).
type ModuleOutputReporter interface {
	ModuleOutputs() []string
}

const dependencyReportName = ".dependencies"

// extractReportedDependencies reads the side-channel .dependencies file
// at reportPath, resolving relative paths against its directory, then
// deletes it. Returns *callistoerr.NoDependencyReportError if absent.
func extractReportedDependencies(reportPath string, policy dependency.Policy) (dependency.Set, error) {
	f, err := os.Open(reportPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, callistoerr.NewNoDependencyReportError("no dependency report found at %s", reportPath)
		}
		return nil, xerrors.Errorf("reading dependency report: %w", err)
	}

	deps := dependency.NewSet()
	scanner := bufio.NewScanner(f)
	dir := filepath.Dir(reportPath)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		path := line
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		deps.Add(dependency.NewResource(abs, policy))
	}
	f.Close()
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Errorf("parsing dependency report: %w", err)
	}

	os.Remove(reportPath)
	return deps, nil
}

// treeExpand enumerates folderOrFile and, if it is a directory, every
// entry beneath it, each tagged with policy.
func treeExpand(folderOrFile string, policy dependency.Policy) dependency.Set {
	deps := dependency.NewSet(dependency.NewResource(folderOrFile, policy))

	info, err := os.Stat(folderOrFile)
	if err != nil || !info.IsDir() {
		return deps
	}

	filepath.Walk(folderOrFile, func(path string, info os.FileInfo, err error) error {
		if err != nil || path == folderOrFile {
			return nil
		}
		deps.Add(dependency.NewResource(path, policy))
		return nil
	})
	return deps
}
