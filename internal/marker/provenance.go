package marker

import (
	"encoding/json"
	"os"
	"time"

	"golang.org/x/xerrors"
)

// provenanceCache is the cache file mirroring a Marker's embedded
// timestamp, written alongside every build
// that stamps a Marker.
type provenanceCache struct {
	Timestamp int64 `json:"last_write_time"`
}

// StampProvenance sets romPath's filesystem modification time to
// timestamp and mirrors timestamp into cacheFilePath, the two signals
// Export later compares to detect an out-of-band edit.
func StampProvenance(romPath, cacheFilePath string, timestamp int64) error {
	t := time.Unix(timestamp, 0)
	if err := os.Chtimes(romPath, t, t); err != nil {
		return xerrors.Errorf("stamping output ROM modification time: %w", err)
	}
	b, err := json.Marshal(provenanceCache{Timestamp: timestamp})
	if err != nil {
		return err
	}
	if err := os.WriteFile(cacheFilePath, b, 0o644); err != nil {
		return xerrors.Errorf("writing ROM provenance cache: %w", err)
	}
	return nil
}

// Provenance is the result of comparing a built artifact's embedded
// Marker against its filesystem state.
type Provenance struct {
	// Present is false if romPath carries no Marker at all (never built
	// by this tool, or the marker region was overwritten).
	Present bool
	// Fresh is true when the artifact's mtime and the cache file both
	// agree with the Marker's embedded timestamp: the ROM is exactly as
	// this tool last left it. False means a later out-of-band edit (the
	// user editing the ROM in the external editor) changed the mtime
	// without updating the cache file.
	Fresh     bool
	Bitfield  uint16
	Timestamp int64
}

// CheckProvenance reads rom's Marker and classifies the artifact as
// fresh-from-last-build or touched-externally.
func CheckProvenance(rom []byte, romPath, cacheFilePath string) (Provenance, error) {
	extracted, err := Extract(rom)
	if err != nil {
		if xerrors.Is(err, ErrNotPresent) {
			return Provenance{Present: false}, nil
		}
		return Provenance{}, err
	}

	info, err := os.Stat(romPath)
	if err != nil {
		return Provenance{}, xerrors.Errorf("statting artifact: %w", err)
	}

	cacheBytes, err := os.ReadFile(cacheFilePath)
	if err != nil {
		// No cache file yet (first build ever to stamp a marker, or the
		// cache was cleared): provenance is unknown, treat as touched.
		return Provenance{Present: true, Bitfield: extracted.Bitfield, Timestamp: extracted.Timestamp}, nil
	}
	var cache provenanceCache
	if err := json.Unmarshal(cacheBytes, &cache); err != nil {
		return Provenance{Present: true, Bitfield: extracted.Bitfield, Timestamp: extracted.Timestamp}, nil
	}

	fresh := info.ModTime().Unix() == extracted.Timestamp && cache.Timestamp == extracted.Timestamp
	return Provenance{
		Present:   true,
		Fresh:     fresh,
		Bitfield:  extracted.Bitfield,
		Timestamp: extracted.Timestamp,
	}, nil
}
