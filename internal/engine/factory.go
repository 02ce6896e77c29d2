// Package engine implements the rebuilder, the quick-builder, and the
// export/saver: the three top-level build strategies.
package engine

import (
	"github.com/smw-build/callisto/internal/descriptor"
	"github.com/smw-build/callisto/internal/insertable"
)

// Factory turns a resolved descriptor into the concrete Insertable that
// performs its work. Callers (cmd/callisto) supply one built from
// project configuration so the engine package itself stays independent
// of how units are constructed.
type Factory interface {
	Build(d descriptor.Descriptor) (insertable.Insertable, error)
}
