// Package pathutil centralizes the .callisto project cache layout.
package pathutil

import "path/filepath"

const (
	callistoDirName        = ".callisto"
	cacheDirName            = ".cache"
	buildReportName         = "build_report.json"
	modulesDirName          = "modules"
	cleanupDirName          = "cleanup"
	oldSymbolsDirName       = "old_symbols"
	userModuleDirName       = "modules"
	callistoAsmName         = "callisto.asm"
	lastRomSyncName         = "last_rom_sync.json"
)

// CallistoDirectory returns "<project>/.callisto".
func CallistoDirectory(projectRoot string) string {
	return filepath.Join(projectRoot, callistoDirName)
}

// CacheDirectory returns "<project>/.callisto/.cache".
func CacheDirectory(projectRoot string) string {
	return filepath.Join(CallistoDirectory(projectRoot), cacheDirName)
}

// BuildReportPath returns "<project>/.callisto/.cache/build_report.json".
func BuildReportPath(projectRoot string) string {
	return filepath.Join(CacheDirectory(projectRoot), buildReportName)
}

// ModuleCleanupDirectory returns
// "<project>/.callisto/.cache/modules/cleanup".
func ModuleCleanupDirectory(projectRoot string) string {
	return filepath.Join(CacheDirectory(projectRoot), modulesDirName, cleanupDirName)
}

// ModuleOldSymbolsDirectory returns
// "<project>/.callisto/.cache/modules/old_symbols", the last-build cache
// of module imprint files used to restore imprints for modules that were
// not reinserted.
func ModuleOldSymbolsDirectory(projectRoot string) string {
	return filepath.Join(CacheDirectory(projectRoot), modulesDirName, oldSymbolsDirName)
}

// UserModuleDirectory returns "<project>/.callisto/modules", where active
// module imprint files live.
func UserModuleDirectory(projectRoot string) string {
	return filepath.Join(CallistoDirectory(projectRoot), userModuleDirName)
}

// CallistoAsmPath returns "<project>/.callisto/callisto.asm".
func CallistoAsmPath(projectRoot string) string {
	return filepath.Join(CallistoDirectory(projectRoot), callistoAsmName)
}

// LastRomSyncPath returns the cache file mirroring the Marker's embedded
// timestamp, used to detect out-of-band ROM edits.
func LastRomSyncPath(projectRoot string) string {
	return filepath.Join(CacheDirectory(projectRoot), lastRomSyncName)
}

// ModuleCleanupFile returns the .addr ledger path for a module, keyed by
// its source path without the extension.
func ModuleCleanupFile(projectRoot, moduleRelativePath string) string {
	rel := moduleRelativePath
	ext := filepath.Ext(rel)
	rel = rel[:len(rel)-len(ext)]
	return filepath.Join(ModuleCleanupDirectory(projectRoot), rel+".addr")
}

// TemporaryRomPath returns the scratch ROM path inside the temporary
// folder, named after the output ROM's stem.
func TemporaryRomPath(temporaryFolder, outputRom string) string {
	ext := filepath.Ext(outputRom)
	base := filepath.Base(outputRom)
	stem := base[:len(base)-len(ext)]
	return filepath.Join(temporaryFolder, stem+".tmp"+ext)
}
