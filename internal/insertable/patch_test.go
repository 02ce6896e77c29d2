package insertable

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/xerrors"

	"github.com/smw-build/callisto/internal/assembler"
	"github.com/smw-build/callisto/internal/callistoerr"
	"github.com/smw-build/callisto/internal/descriptor"
)

func TestPatchInsertAppliesAndCollectsHijacks(t *testing.T) {
	dir := t.TempDir()
	patchPath := filepath.Join(dir, "a.asm")
	if err := os.WriteFile(patchPath, []byte("nop\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	fake := &assembler.Fake{Handler: func(req assembler.Request) (*assembler.Result, error) {
		return &assembler.Result{
			ROM: req.ROM,
			WrittenBlocks: []assembler.WrittenBlock{
				{SNESOffset: 0x8000, PCOffset: 0x10, NumBytes: 4},
			},
		}, nil
	}}

	p := NewPatch(fake, "/proj", patchPath, nil)
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := p.Insert(context.Background(), make([]byte, 0x80000)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	hijacks := p.Hijacks()
	if len(hijacks) != 1 || hijacks[0].Offset != 0x10 || hijacks[0].Length != 4 {
		t.Errorf("Hijacks() = %+v, want a single (0x10, 4) hijack", hijacks)
	}
}

func TestPatchInsertMissingFileIsResourceNotFound(t *testing.T) {
	p := NewPatch(&assembler.Fake{}, "/proj", filepath.Join(t.TempDir(), "missing.asm"), nil)
	_, err := p.Insert(context.Background(), make([]byte, 0x80000))
	var notFound *callistoerr.ResourceNotFoundError
	if !xerrors.As(err, &notFound) {
		t.Errorf("Insert on a missing patch = %v, want *callistoerr.ResourceNotFoundError", err)
	}
}

func TestPatchInsertAssemblerFailureIsInsertionFailed(t *testing.T) {
	dir := t.TempDir()
	patchPath := filepath.Join(dir, "a.asm")
	os.WriteFile(patchPath, []byte("nop\n"), 0o644)

	fake := &assembler.Fake{Handler: func(req assembler.Request) (*assembler.Result, error) {
		return nil, &assembler.AssembleError{Errors: []string{"bad opcode"}}
	}}
	p := NewPatch(fake, "/proj", patchPath, nil)
	_, err := p.Insert(context.Background(), make([]byte, 0x80000))
	var insertionFailed *callistoerr.InsertionFailedError
	if !xerrors.As(err, &insertionFailed) {
		t.Errorf("Insert on assembler failure = %v, want *callistoerr.InsertionFailedError", err)
	}
}

func TestPatchDescriptor(t *testing.T) {
	p := NewPatch(&assembler.Fake{}, "/proj", "/proj/patches/a.asm", nil)
	d := p.Descriptor()
	if d.Symbol != descriptor.Patch || d.Name != "/proj/patches/a.asm" {
		t.Errorf("Descriptor() = %+v, want Patch(/proj/patches/a.asm)", d)
	}
}

func TestPatchResourceDependenciesWithoutReportIsNoDependencyReport(t *testing.T) {
	dir := t.TempDir()
	patchPath := filepath.Join(dir, "a.asm")
	os.WriteFile(patchPath, []byte("nop\n"), 0o644)

	p := NewPatch(&assembler.Fake{}, "/proj", patchPath, nil)
	_, err := p.ResourceDependencies(context.Background())
	var noReport *callistoerr.NoDependencyReportError
	if !xerrors.As(err, &noReport) {
		t.Errorf("ResourceDependencies without a .dependencies file = %v, want *callistoerr.NoDependencyReportError", err)
	}
}

func TestPatchResourceDependenciesReadsReport(t *testing.T) {
	dir := t.TempDir()
	patchPath := filepath.Join(dir, "a.asm")
	os.WriteFile(patchPath, []byte("nop\n"), 0o644)
	os.WriteFile(filepath.Join(dir, dependencyReportName), []byte("included.asm\n"), 0o644)

	p := NewPatch(&assembler.Fake{}, "/proj", patchPath, nil)
	deps, err := p.ResourceDependencies(context.Background())
	if err != nil {
		t.Fatalf("ResourceDependencies: %v", err)
	}
	if _, ok := deps[patchPath]; !ok {
		t.Error("ResourceDependencies did not include the patch's own path")
	}
	if _, ok := deps[filepath.Join(dir, "included.asm")]; !ok {
		t.Error("ResourceDependencies did not include the reported dependency")
	}
}
