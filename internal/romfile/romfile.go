// Package romfile implements the handful of raw-ROM-byte operations the
// engine needs: copier-header detection, the clean-ROM sanity check, and
// PC/SNES address conversion.
package romfile

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	CleanRomSize            = 0x80000
	HeaderSize              = 0x200
	ChecksumLocation        = 0x7FDE
	ChecksumComplementLoc   = 0x7FDC
	CleanRomChecksum        = 0xA0DA
	CleanRomChecksumComplement = CleanRomChecksum ^ 0xFFFF
)

// HeaderSizeOf returns the size of the copier header prefixing a ROM of
// the given total size (0 or HeaderSize).
func HeaderSizeOf(totalSize int) int {
	return totalSize & 0x7FFF
}

// ReadUnheadered reads a ROM file and strips any copier header.
func ReadUnheadered(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	header := HeaderSizeOf(len(b))
	return b[header:], nil
}

// Warning describes a non-fatal problem found while validating a clean
// ROM; the caller logs these rather than aborting.
type Warning struct {
	Message string
}

// CheckCleanRom validates a clean ROM's size, extension, header and
// embedded checksum. Returns an error only if the file is missing;
// everything else is returned as warnings.
func CheckCleanRom(path string) ([]Warning, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("no clean ROM found at %q: %w", path, err)
	}

	var warnings []Warning

	if filepath.Ext(path) != ".smc" {
		warnings = append(warnings, Warning{fmt.Sprintf(
			"clean ROM at %q does not have the .smc extension", path)})
	}

	size := int(info.Size())
	if size != CleanRomSize && size != CleanRomSize+HeaderSize {
		warnings = append(warnings, Warning{fmt.Sprintf(
			"clean ROM at %q is not actually clean, as it has an incorrect size", path)})
		return warnings, nil
	}

	header := HeaderSizeOf(size)
	checksumLoc := ChecksumLocation + header
	complementLoc := ChecksumComplementLoc + header

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no clean ROM found at %q: %w", path, err)
	}

	checksum := int(raw[checksumLoc]) | int(raw[checksumLoc+1])<<8
	complement := int(raw[complementLoc]) | int(raw[complementLoc+1])<<8

	if checksum != CleanRomChecksum || complement != CleanRomChecksumComplement {
		warnings = append(warnings, Warning{fmt.Sprintf(
			"clean ROM at %q is not actually clean, as it has an incorrect checksum", path)})
	}

	sum := 0
	for i := header; i < size; i++ {
		if i == checksumLoc || i == checksumLoc+1 {
			continue
		}
		if i == complementLoc || i == complementLoc+1 {
			sum += 0xFF
			continue
		}
		sum += int(raw[i])
	}

	if sum&0xFFFF != checksum {
		warnings = append(warnings, Warning{fmt.Sprintf(
			"clean ROM at %q is not actually clean, as its checksum differs from the sum of its bytes", path)})
	}

	return warnings, nil
}

// PCToSNES converts an unheadered PC file offset to a SNES LoROM
// address.
func PCToSNES(address int) int {
	return ((address << 1) & 0x7F0000) | (address & 0x7FFF) | 0x8000
}
