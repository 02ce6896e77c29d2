package engine

import (
	"context"
	"os"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/smw-build/callisto/internal/config"
	"github.com/smw-build/callisto/internal/marker"
	"github.com/smw-build/callisto/internal/pathutil"
	"github.com/smw-build/callisto/internal/romfile"
)

// Extractor pulls one export class's resources back out of rom into
// destDir. The resource formats themselves (graphics, level, map16, ...)
// are the extractor's business; Saver only owns which classes need
// extracting and when.
type Extractor func(ctx context.Context, rom []byte, destDir string) error

// Saver pulls resources back out of an artifact, guided by the Marker.
type Saver struct {
	Config     *config.Configuration
	Extractors map[marker.ExtractableType]Extractor
	// DestDirs maps an export class to the directory its extractor
	// should populate (the same source directories insertion reads from).
	DestDirs map[marker.ExtractableType]string
	// MaxThreads caps how many extractors run at once (the -max-threads
	// flag). Zero or negative means no cap.
	MaxThreads int
}

// SaveResult reports what Save decided and did.
type SaveResult struct {
	Extracted []marker.ExtractableType
	Fresh     bool
}

// Save computes need_export = configured_classes \ marker_bitfield_classes
// and runs each class's extractor, unless the Marker's embedded timestamp
// disagrees with the artifact's filesystem mtime and the cache file (an
// out-of-band edit), in which case every configured class is exported
// regardless of the bitfield.
func (s *Saver) Save(ctx context.Context) (*SaveResult, error) {
	cfg := s.Config
	projectRoot, _ := cfg.ProjectRoot.Get()
	outputRomPath, _ := cfg.OutputRom.Get()

	rom, err := romfile.ReadUnheadered(outputRomPath)
	if err != nil {
		return nil, xerrors.Errorf("reading artifact for export: %w", err)
	}

	configured := configuredExtractables(cfg)

	prov, err := marker.CheckProvenance(rom, outputRomPath, pathutil.LastRomSyncPath(projectRoot))
	if err != nil {
		return nil, err
	}

	var needExport []marker.ExtractableType
	switch {
	case !prov.Present || !prov.Fresh:
		// Unknown provenance or an out-of-band edit: the bitfield can't
		// be trusted to reflect what's actually in the ROM, so export
		// every configured class.
		needExport = configured
	default:
		needExport = subtractBitfield(configured, prov.Bitfield)
	}

	// Export classes are independent of one another; extract them
	// concurrently.
	eg, ctx := errgroup.WithContext(ctx)
	if s.MaxThreads > 0 {
		eg.SetLimit(s.MaxThreads)
	}
	for _, class := range needExport {
		extractor, ok := s.Extractors[class]
		if !ok {
			continue
		}
		class := class
		destDir := s.DestDirs[class]
		eg.Go(func() error {
			if err := extractor(ctx, rom, destDir); err != nil {
				return xerrors.Errorf("exporting %s: %w", class, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &SaveResult{Extracted: needExport, Fresh: prov.Present && prov.Fresh}, nil
}

// NeedsExport reports whether a pending build should run an implicit
// export first (the --no-export flag lets the caller skip this).
func (s *Saver) NeedsExport() (bool, error) {
	cfg := s.Config
	outputRomPath, _ := cfg.OutputRom.Get()
	if _, err := os.Stat(outputRomPath); err != nil {
		return false, nil
	}
	rom, err := romfile.ReadUnheadered(outputRomPath)
	if err != nil {
		return false, xerrors.Errorf("reading artifact: %w", err)
	}
	projectRoot, _ := cfg.ProjectRoot.Get()
	prov, err := marker.CheckProvenance(rom, outputRomPath, pathutil.LastRomSyncPath(projectRoot))
	if err != nil {
		return false, err
	}
	if !prov.Present || !prov.Fresh {
		return true, nil
	}
	return len(subtractBitfield(configuredExtractables(cfg), prov.Bitfield)) > 0, nil
}

func subtractBitfield(configured []marker.ExtractableType, bitfield uint16) []marker.ExtractableType {
	var out []marker.ExtractableType
	for _, c := range configured {
		if bitfield&(1<<uint(c)) == 0 {
			out = append(out, c)
		}
	}
	return out
}
