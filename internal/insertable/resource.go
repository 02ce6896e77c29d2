package insertable

import (
	"context"

	"github.com/smw-build/callisto/internal/dependency"
	"github.com/smw-build/callisto/internal/descriptor"
)

// Inserter performs the actual resource-format byte surgery for one fixed
// resource kind (graphics, ExGraphics, map16, overworld, level, ...). The
// formats themselves are out of scope; DirectoryInsertable
// only owns the dependency-tracking and build-order bookkeeping around
// whatever Inserter a caller supplies.
type Inserter func(ctx context.Context, rom []byte, sourceDir string) ([]byte, error)

// DirectoryInsertable is the fixed-resource-kind unit: its resource
// dependency is the configured source directory, tree-expanded with
// Rebuild policy.
type DirectoryInsertable struct {
	Symbol    descriptor.Symbol
	SourceDir string
	Insert_   Inserter

	deps dependency.Set
}

func NewDirectoryInsertable(symbol descriptor.Symbol, sourceDir string, ins Inserter) *DirectoryInsertable {
	return &DirectoryInsertable{Symbol: symbol, SourceDir: sourceDir, Insert_: ins}
}

func (d *DirectoryInsertable) Descriptor() descriptor.Descriptor {
	desc, _ := descriptor.New(d.Symbol, "")
	return desc
}

func (d *DirectoryInsertable) Init(ctx context.Context) error { return nil }

func (d *DirectoryInsertable) Insert(ctx context.Context, rom []byte) ([]byte, error) {
	out, err := d.Insert_(ctx, rom, d.SourceDir)
	if err != nil {
		return nil, err
	}
	d.deps = treeExpand(d.SourceDir, dependency.Rebuild)
	return out, nil
}

func (d *DirectoryInsertable) ConfigurationDependencies() dependency.ConfigurationSet {
	return dependency.NewConfigurationSet()
}

func (d *DirectoryInsertable) ResourceDependencies(ctx context.Context) (dependency.Set, error) {
	if d.deps == nil {
		return treeExpand(d.SourceDir, dependency.Rebuild), nil
	}
	return d.deps, nil
}
