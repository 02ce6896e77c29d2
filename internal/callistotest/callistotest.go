// Package callistotest provides the test fixtures every other package's
// tests need: a synthetic clean ROM and small file-writing helpers.
package callistotest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smw-build/callisto/internal/romfile"
)

// CleanRom returns CleanRomSize bytes passing romfile.CheckCleanRom without
// warnings: correctly sized, stamped with the clean-ROM checksum pair at
// ChecksumLocation/ChecksumComplementLoc, and with a tuning region whose
// byte values make the ROM's byte sum equal that checksum the way
// CheckCleanRom computes it (complement bytes counted as 0xFF each).
func CleanRom(t testing.TB) []byte {
	t.Helper()
	rom := make([]byte, romfile.CleanRomSize)

	remaining := romfile.CleanRomChecksum - 2*0xFF
	for i := 0x1000; remaining > 0; i++ {
		b := remaining
		if b > 0xFF {
			b = 0xFF
		}
		rom[i] = byte(b)
		remaining -= b
	}

	checksum := uint16(romfile.CleanRomChecksum)
	complement := uint16(romfile.CleanRomChecksumComplement)
	rom[romfile.ChecksumLocation] = byte(checksum)
	rom[romfile.ChecksumLocation+1] = byte(checksum >> 8)
	rom[romfile.ChecksumComplementLoc] = byte(complement)
	rom[romfile.ChecksumComplementLoc+1] = byte(complement >> 8)
	return rom
}

// WriteCleanRom writes CleanRom to path, creating parent directories as
// needed.
func WriteCleanRom(t testing.TB, path string) {
	t.Helper()
	WriteFile(t, path, CleanRom(t))
}

// WriteFile writes data to path, creating parent directories as needed, and
// fails the test on any error.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// WriteSource writes an assembly/text source file, a thin alias of
// WriteFile kept for readability at call sites that write .asm fixtures.
func WriteSource(t testing.TB, path, contents string) {
	t.Helper()
	WriteFile(t, path, []byte(contents))
}

// RemoveAll wraps os.RemoveAll and fails the test on failure.
func RemoveAll(t testing.TB, path string) {
	t.Helper()
	if err := os.RemoveAll(path); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
}
