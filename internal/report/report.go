// Package report implements the Build Report: a versioned JSON
// document recording the outcome of the last successful build, persisted
// at the well-known path pathutil.BuildReportPath so the Quick-Builder can
// compare current project state against it.
package report

import (
	"encoding/json"
	"os"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/smw-build/callisto/internal/dependency"
	"github.com/smw-build/callisto/internal/descriptor"
)

// FileFormatVersion is bumped whenever the Report schema changes
// incompatibly; a mismatch forces a rebuild.
const FileFormatVersion = 1

// Entry is one unit's recorded outcome, in build order.
type Entry struct {
	Descriptor               descriptor.Descriptor `json:"descriptor"`
	ResourceDependencies      dependency.Set              `json:"resource_dependencies"`
	ConfigurationDependencies dependency.ConfigurationSet  `json:"configuration_dependencies"`

	// Hijacks is present only for Patch units: (offset, length) pairs of
	// every write the unit made into the original-game region.
	Hijacks []Hijack `json:"hijacks,omitempty"`

	// ModuleOutputs is present only for Module units: the imprint file
	// paths it emitted last time.
	ModuleOutputs []string `json:"module_outputs,omitempty"`
}

// Hijack is one contiguous write into the original-game region.
type Hijack struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

// Addresses expands a hijack interval into the set of PC offsets it
// touches, used by the hijack-regression check.
func (h Hijack) Addresses() map[int]struct{} {
	out := make(map[int]struct{}, h.Length)
	for i := 0; i < h.Length; i++ {
		out[h.Offset+i] = struct{}{}
	}
	return out
}

// Report is the full persisted document.
type Report struct {
	FileFormatVersion int                      `json:"file_format_version"`
	BuildOrder        []descriptor.Descriptor  `json:"build_order"`
	Entries           []Entry                  `json:"entries"`
	InsertedLevels    []int                    `json:"inserted_levels"`
}

// New creates an empty report stamped with the current format version.
func New() *Report {
	return &Report{FileFormatVersion: FileFormatVersion}
}

// Load reads a Report from path. Returns (nil, nil) if the file does not
// exist — the Quick-Builder's entry precondition is "Build Report exists
// and parses", and a missing file is handled by its caller as "no report,
// must rebuild", not as an error.
func Load(path string) (*Report, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Errorf("reading build report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, xerrors.Errorf("parsing build report: %w", err)
	}
	return &r, nil
}

// Save writes r to path atomically (temp file + rename).
func Save(path string, r *Report) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return xerrors.Errorf("marshaling build report: %w", err)
	}
	if err := renameio.WriteFile(path, b, 0o644); err != nil {
		return xerrors.Errorf("writing build report: %w", err)
	}
	return nil
}

// Delete removes the report file, ignoring a not-exist error. Called
// whenever a build finishes without every unit producing a dependency
// record.
func Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("deleting build report: %w", err)
	}
	return nil
}

// SameBuildOrder reports whether the report's recorded build order is
// identical, length and element-wise, to order.
func (r *Report) SameBuildOrder(order []descriptor.Descriptor) bool {
	if len(r.BuildOrder) != len(order) {
		return false
	}
	for i := range order {
		if r.BuildOrder[i] != order[i] {
			return false
		}
	}
	return true
}

// EntryFor returns the first recorded entry for d, if any. Entries are
// stored in build order and the same patch or module path may legally
// appear at more than one position; callers walking the build order
// should index Entries positionally and reserve EntryFor for descriptors
// known to be unique.
func (r *Report) EntryFor(d descriptor.Descriptor) (Entry, bool) {
	for _, e := range r.Entries {
		if e.Descriptor == d {
			return e, true
		}
	}
	return Entry{}, false
}

// MissingLevels returns the level numbers recorded in InsertedLevels that
// are no longer present in currentLevels.
func (r *Report) MissingLevels(currentLevels map[int]struct{}) []int {
	var missing []int
	for _, lvl := range r.InsertedLevels {
		if _, ok := currentLevels[lvl]; !ok {
			missing = append(missing, lvl)
		}
	}
	return missing
}
