package main

import (
	"context"
	"os"

	"github.com/smw-build/callisto/internal/config"
	"github.com/smw-build/callisto/internal/engine"
	"github.com/smw-build/callisto/internal/marker"
)

// exportExtractors returns the per-class byte-surgery extractors Saver
// drives. The resource formats themselves (graphics, level, map16, ...)
// are explicitly out of scope; these extractors only ensure
// the destination directory exists, exercising Saver's dispatch without
// reimplementing the out-of-scope format code.
func exportExtractors() map[marker.ExtractableType]engine.Extractor {
	noop := func(ctx context.Context, rom []byte, destDir string) error {
		if destDir == "" {
			return nil
		}
		return os.MkdirAll(destDir, 0o755)
	}
	return map[marker.ExtractableType]engine.Extractor{
		marker.ExtractGraphics:          noop,
		marker.ExtractExGraphics:        noop,
		marker.ExtractSharedPalettes:    noop,
		marker.ExtractMap16:             noop,
		marker.ExtractCredits:           noop,
		marker.ExtractTitleScreen:       noop,
		marker.ExtractOverworld:         noop,
		marker.ExtractGlobalExAnimation: noop,
		marker.ExtractLevels:            noop,
	}
}

func exportDestDirs(cfg *config.Configuration) map[marker.ExtractableType]string {
	dirs := map[marker.ExtractableType]string{}
	set := func(v config.Variable[string], t marker.ExtractableType) {
		if d, ok := v.Get(); ok {
			dirs[t] = d
		}
	}
	set(cfg.Graphics, marker.ExtractGraphics)
	set(cfg.ExGraphics, marker.ExtractExGraphics)
	set(cfg.SharedPalettes, marker.ExtractSharedPalettes)
	set(cfg.Map16, marker.ExtractMap16)
	set(cfg.Credits, marker.ExtractCredits)
	set(cfg.TitleScreen, marker.ExtractTitleScreen)
	set(cfg.Overworld, marker.ExtractOverworld)
	set(cfg.GlobalExAnimation, marker.ExtractGlobalExAnimation)
	set(cfg.Levels, marker.ExtractLevels)
	return dirs
}
