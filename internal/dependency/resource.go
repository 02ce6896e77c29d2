package dependency

import (
	"encoding/json"
	"os"
)

// Resource is a single file or directory an insertable consumed while
// producing its last insertion. A Set identifies resources by Path alone;
// Equal also compares the captured timestamp. LastWrite is an
// opaque filesystem timestamp (nanoseconds since epoch) captured at the
// time the dependency was recorded, or nil if the file did not exist then.
type Resource struct {
	Path      string
	Policy    Policy
	LastWrite *int64
}

// NewResource captures the current on-disk state of path.
func NewResource(path string, policy Policy) Resource {
	r := Resource{Path: path, Policy: policy}
	if info, err := os.Stat(path); err == nil {
		ns := info.ModTime().UnixNano()
		r.LastWrite = &ns
	}
	return r
}

// Equal reports whether path and captured timestamp both match; used by
// the quick-build resource-dependency comparisons.
func (r Resource) Equal(other Resource) bool {
	if r.Path != other.Path {
		return false
	}
	if (r.LastWrite == nil) != (other.LastWrite == nil) {
		return false
	}
	if r.LastWrite != nil && *r.LastWrite != *other.LastWrite {
		return false
	}
	return true
}

// Changed reports whether the file at r.Path currently has a different
// last-write timestamp than the one captured in r (including appearing or
// disappearing).
func (r Resource) Changed() bool {
	current := NewResource(r.Path, r.Policy)
	if (r.LastWrite == nil) != (current.LastWrite == nil) {
		return true
	}
	if r.LastWrite != nil && *r.LastWrite != *current.LastWrite {
		return true
	}
	return false
}

type resourceJSON struct {
	Path      string `json:"path"`
	Policy    Policy `json:"policy"`
	LastWrite *int64 `json:"last_write_time"`
}

// MarshalJSON stores the resource dependency the way the build report does.
func (r Resource) MarshalJSON() ([]byte, error) {
	return json.Marshal(resourceJSON{Path: r.Path, Policy: r.Policy, LastWrite: r.LastWrite})
}

func (r *Resource) UnmarshalJSON(b []byte) error {
	var rj resourceJSON
	if err := json.Unmarshal(b, &rj); err != nil {
		return err
	}
	r.Path, r.Policy, r.LastWrite = rj.Path, rj.Policy, rj.LastWrite
	return nil
}

// Set is an unordered collection of resource dependencies keyed by path
// (one entry per path, whatever its timestamp).
type Set map[string]Resource

// NewSet builds a Set from a slice, later entries for the same path win.
func NewSet(resources ...Resource) Set {
	s := make(Set, len(resources))
	for _, r := range resources {
		s[r.Path] = r
	}
	return s
}

// Add inserts or replaces a dependency by path.
func (s Set) Add(r Resource) {
	s[r.Path] = r
}

// Slice returns the set's contents in unspecified order.
func (s Set) Slice() []Resource {
	out := make([]Resource, 0, len(s))
	for _, r := range s {
		out = append(out, r)
	}
	return out
}
