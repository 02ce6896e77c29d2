package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smw-build/callisto/internal/config"
	"github.com/smw-build/callisto/internal/engine"
	"github.com/smw-build/callisto/internal/marker"
	"github.com/smw-build/callisto/internal/pathutil"
	"github.com/smw-build/callisto/internal/romfile"
)

// saverProject writes an output artifact stamped with a marker naming the
// given extractables, with provenance recorded as fresh.
func saverProject(t *testing.T, stamped []marker.ExtractableType) (*config.Configuration, string) {
	t.Helper()
	cfg, root := testProject(t)
	cfg.Graphics = config.NewVariable("resources.graphics", filepath.Join(root, "graphics"))
	cfg.Levels = config.NewVariable("resources.levels", filepath.Join(root, "levels"))

	rom := make([]byte, romfile.CleanRomSize)
	const timestamp = int64(1700000000)
	if err := marker.Insert(rom, stamped, timestamp); err != nil {
		t.Fatal(err)
	}
	outputRom, _ := cfg.OutputRom.Get()
	if err := os.WriteFile(outputRom, rom, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(pathutil.CacheDirectory(root), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := marker.StampProvenance(outputRom, pathutil.LastRomSyncPath(root), timestamp); err != nil {
		t.Fatal(err)
	}
	return cfg, root
}

// recordingSaver wires a Saver whose extractors record the classes they
// ran for. Extractors run concurrently, so the record is mutex-guarded.
func recordingSaver(cfg *config.Configuration) (*engine.Saver, *[]marker.ExtractableType) {
	var mu sync.Mutex
	var ran []marker.ExtractableType
	extractors := map[marker.ExtractableType]engine.Extractor{}
	for _, class := range []marker.ExtractableType{marker.ExtractGraphics, marker.ExtractLevels} {
		class := class
		extractors[class] = func(ctx context.Context, rom []byte, destDir string) error {
			mu.Lock()
			ran = append(ran, class)
			mu.Unlock()
			return nil
		}
	}
	return &engine.Saver{Config: cfg, Extractors: extractors}, &ran
}

func TestSaveFreshArtifactExportsOnlyMissingClasses(t *testing.T) {
	cfg, _ := saverProject(t, []marker.ExtractableType{marker.ExtractGraphics})

	saver, ran := recordingSaver(cfg)
	result, err := saver.Save(context.Background())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !result.Fresh {
		t.Error("Fresh = false for a just-stamped artifact")
	}
	if len(*ran) != 1 || (*ran)[0] != marker.ExtractLevels {
		t.Errorf("extractors ran for %v, want only levels (graphics already in the bitfield)", *ran)
	}
}

func TestSaveTouchedArtifactExportsEverything(t *testing.T) {
	cfg, _ := saverProject(t, []marker.ExtractableType{marker.ExtractGraphics})

	outputRom, _ := cfg.OutputRom.Get()
	info, err := os.Stat(outputRom)
	if err != nil {
		t.Fatal(err)
	}
	later := info.ModTime().Add(time.Hour)
	if err := os.Chtimes(outputRom, later, later); err != nil {
		t.Fatal(err)
	}

	saver, ran := recordingSaver(cfg)
	result, err := saver.Save(context.Background())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if result.Fresh {
		t.Error("Fresh = true after an out-of-band edit")
	}
	if len(*ran) != 2 {
		t.Errorf("extractors ran for %v, want every configured class after an out-of-band edit", *ran)
	}
}

func TestSaveMaxThreadsCapsConcurrency(t *testing.T) {
	cfg, _ := saverProject(t, nil)

	var mu sync.Mutex
	running, peak := 0, 0
	extractors := map[marker.ExtractableType]engine.Extractor{}
	for _, class := range []marker.ExtractableType{marker.ExtractGraphics, marker.ExtractLevels} {
		extractors[class] = func(ctx context.Context, rom []byte, destDir string) error {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return nil
		}
	}

	saver := &engine.Saver{Config: cfg, Extractors: extractors, MaxThreads: 1}
	if _, err := saver.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if peak > 1 {
		t.Errorf("%d extractors ran at once with MaxThreads = 1", peak)
	}
}

func TestNeedsExportFalseWhenBitfieldCoversConfiguration(t *testing.T) {
	cfg, _ := saverProject(t, []marker.ExtractableType{marker.ExtractGraphics, marker.ExtractLevels})

	saver, _ := recordingSaver(cfg)
	needed, err := saver.NeedsExport()
	if err != nil {
		t.Fatalf("NeedsExport: %v", err)
	}
	if needed {
		t.Error("NeedsExport = true for a fresh artifact whose bitfield covers every configured class")
	}
}

func TestNeedsExportTrueWhenConfigurationAddsClass(t *testing.T) {
	cfg, _ := saverProject(t, []marker.ExtractableType{marker.ExtractGraphics})

	saver, _ := recordingSaver(cfg)
	needed, err := saver.NeedsExport()
	if err != nil {
		t.Fatalf("NeedsExport: %v", err)
	}
	if !needed {
		t.Error("NeedsExport = false despite a configured class missing from the bitfield")
	}
}

func TestNeedsExportFalseWithoutArtifact(t *testing.T) {
	cfg, _ := testProject(t)
	saver := &engine.Saver{Config: cfg}
	needed, err := saver.NeedsExport()
	if err != nil {
		t.Fatalf("NeedsExport: %v", err)
	}
	if needed {
		t.Error("NeedsExport = true with no artifact on disk")
	}
}
