package insertable

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/smw-build/callisto/internal/callistoerr"
	"github.com/smw-build/callisto/internal/dependency"
	"github.com/smw-build/callisto/internal/descriptor"
	"github.com/smw-build/callisto/internal/romfile"
)

// InitialPatch seeds the build by applying the project's base BPS patch.
// Init precompiles the patch against the clean ROM (the BPS patcher is an
// opaque external binary, so this is the one unit whose real work can run
// on the init-prefetch goroutine); Insert swaps the patched image in as
// the new working ROM.
type InitialPatch struct {
	PatcherPath  string
	PatchPath    string
	CleanRomPath string
	TemporaryDir string

	patchedRom []byte
}

func NewInitialPatch(patcherPath, patchPath, cleanRomPath, temporaryDir string) *InitialPatch {
	return &InitialPatch{
		PatcherPath:  patcherPath,
		PatchPath:    patchPath,
		CleanRomPath: cleanRomPath,
		TemporaryDir: temporaryDir,
	}
}

func (p *InitialPatch) Descriptor() descriptor.Descriptor {
	d, _ := descriptor.New(descriptor.InitialPatch, "")
	return d
}

func (p *InitialPatch) Init(ctx context.Context) error {
	if _, err := os.Stat(p.PatchPath); err != nil {
		return callistoerr.NewResourceNotFoundError("initial patch %s does not exist", p.PatchPath)
	}
	if _, err := os.Stat(p.PatcherPath); err != nil {
		return callistoerr.NewToolNotFoundError("BPS patcher executable not found at %s", p.PatcherPath)
	}
	if err := os.MkdirAll(p.TemporaryDir, 0o755); err != nil {
		return xerrors.Errorf("creating temporary folder for initial patch: %w", err)
	}

	outPath := filepath.Join(p.TemporaryDir, "initial_patch.smc")
	cmd := exec.CommandContext(ctx, p.PatcherPath, "--apply", p.PatchPath, p.CleanRomPath, outPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return callistoerr.NewInsertionFailedError(
			"applying initial patch %s failed: %v: %s", p.PatchPath, err, stderr.String())
	}

	rom, err := romfile.ReadUnheadered(outPath)
	if err != nil {
		return xerrors.Errorf("reading patched ROM: %w", err)
	}
	os.Remove(outPath)
	p.patchedRom = rom
	return nil
}

func (p *InitialPatch) Insert(ctx context.Context, rom []byte) ([]byte, error) {
	if p.patchedRom == nil {
		if err := p.Init(ctx); err != nil {
			return nil, err
		}
	}
	out := append([]byte(nil), p.patchedRom...)
	// A BPS output smaller than the working image must not shrink it; the
	// tail keeps whatever was there before.
	if len(out) < len(rom) {
		out = append(out, rom[len(out):]...)
	}
	return out, nil
}

func (p *InitialPatch) ConfigurationDependencies() dependency.ConfigurationSet {
	return dependency.NewConfigurationSet(
		dependency.Configuration{Key: "initial_patch", Value: p.PatchPath, Policy: dependency.Rebuild},
		dependency.Configuration{Key: "clean_rom", Value: p.CleanRomPath, Policy: dependency.Rebuild},
	)
}

func (p *InitialPatch) ResourceDependencies(ctx context.Context) (dependency.Set, error) {
	return dependency.NewSet(
		dependency.NewResource(p.PatchPath, dependency.Rebuild),
		dependency.NewResource(p.CleanRomPath, dependency.Rebuild),
		dependency.NewResource(p.PatcherPath, dependency.Rebuild),
	), nil
}
