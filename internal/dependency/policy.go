// Package dependency models the two kinds of state an insertable can
// depend on (resource files and configuration values) and the policy that
// governs how a change to each is handled by the quick-build decision
// procedure.
package dependency

// Policy tags a dependency with what a changed value means for the build.
type Policy int

const (
	// Rebuild means a changed value invalidates the whole build; the
	// owning unit cannot be incrementally reinserted.
	Rebuild Policy = iota
	// Reinsert means a changed value invalidates only the owning unit;
	// reinserting it is sufficient.
	Reinsert
)

func (p Policy) String() string {
	switch p {
	case Rebuild:
		return "rebuild"
	case Reinsert:
		return "reinsert"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the policy the way the build report stores it.
func (p Policy) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON accepts both the string form written by this package and a
// bare integer, so older build reports keep loading.
func (p *Policy) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"rebuild"`, "0":
		*p = Rebuild
	case `"reinsert"`, "1":
		*p = Reinsert
	default:
		*p = Rebuild
	}
	return nil
}
