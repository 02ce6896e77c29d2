package config

import (
	"path/filepath"
	"strings"

	"github.com/smw-build/callisto/internal/callistoerr"
	"github.com/smw-build/callisto/internal/descriptor"
)

// fixedResourceSymbols are the build-order names that expand to exactly
// one descriptor of the matching kind.
var fixedResourceSymbols = map[string]descriptor.Symbol{
	"InitialPatch":        descriptor.InitialPatch,
	"Graphics":            descriptor.Graphics,
	"ExGraphics":          descriptor.ExGraphics,
	"Map16":               descriptor.Map16,
	"TitleScreenMovement": descriptor.TitleScreenMovement,
	"SharedPalettes":      descriptor.SharedPalettes,
	"Overworld":           descriptor.Overworld,
	"TitleScreen":         descriptor.TitleScreen,
	"Credits":             descriptor.Credits,
	"GlobalExAnimation":   descriptor.GlobalExAnimation,
	"Levels":              descriptor.Levels,
}

// BuildOrder expands c.BuildOrderNames into a concrete descriptor
// sequence and enforces the build-order invariants.
func (c *Configuration) BuildOrder() ([]descriptor.Descriptor, error) {
	if err := c.checkInvariants(); err != nil {
		return nil, err
	}

	canonicalPatches := make(map[string]bool, len(c.Patches))
	for _, p := range c.Patches {
		canonicalPatches[c.canonicalize(p)] = true
	}
	canonicalModules := make(map[string]bool, len(c.Modules))
	for _, m := range c.Modules {
		canonicalModules[c.canonicalize(m)] = true
	}

	var order []descriptor.Descriptor
	named := make(map[string]bool) // paths already explicitly named earlier

	for _, entry := range c.BuildOrderNames {
		switch {
		case isFixedResourceSymbol(entry):
			sym := fixedResourceSymbols[entry]
			d, err := descriptor.New(sym, "")
			if err != nil {
				return nil, callistoerr.NewConfigError("%v", err)
			}
			order = append(order, d)

		case entry == "Patches":
			for _, p := range c.Patches {
				path := c.canonicalize(p)
				if named[path] {
					continue
				}
				d, err := descriptor.New(descriptor.Patch, path)
				if err != nil {
					return nil, callistoerr.NewConfigError("%v", err)
				}
				order = append(order, d)
			}

		case entry == "Modules":
			for _, m := range c.Modules {
				path := c.canonicalize(m)
				if named[path] {
					continue
				}
				d, err := descriptor.New(descriptor.Module, path)
				if err != nil {
					return nil, callistoerr.NewConfigError("%v", err)
				}
				order = append(order, d)
			}

		case c.GenericToolConfigurations != nil && toolConfigured(c.GenericToolConfigurations, entry):
			d, err := descriptor.New(descriptor.ExternalTool, entry)
			if err != nil {
				return nil, callistoerr.NewConfigError("%v", err)
			}
			order = append(order, d)

		default:
			// Must resolve to a configured patch or module path.
			path := c.canonicalize(entry)
			named[path] = true
			switch {
			case canonicalPatches[path]:
				d, err := descriptor.New(descriptor.Patch, path)
				if err != nil {
					return nil, callistoerr.NewConfigError("%v", err)
				}
				order = append(order, d)
			case canonicalModules[path]:
				d, err := descriptor.New(descriptor.Module, path)
				if err != nil {
					return nil, callistoerr.NewConfigError("%v", err)
				}
				order = append(order, d)
			default:
				return nil, callistoerr.NewConfigError("unknown build order symbol %q", entry)
			}
		}
	}

	return order, nil
}

func isFixedResourceSymbol(entry string) bool {
	_, ok := fixedResourceSymbols[entry]
	return ok
}

func toolConfigured(tools map[string]ToolConfig, name string) bool {
	_, ok := tools[name]
	return ok
}

// canonicalize resolves a path relative to the project root, so patch
// and module names compare equal regardless of how they were spelled in
// the build order.
func (c *Configuration) canonicalize(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	root, _ := c.ProjectRoot.Get()
	return filepath.Clean(filepath.Join(root, path))
}

// checkInvariants enforces the build-order invariants: a path may not be
// both a configured Patch and a configured Module, patch paths are
// unique, and every referenced path must resolve inside the project root.
func (c *Configuration) checkInvariants() error {
	root, _ := c.ProjectRoot.Get()

	seenPatches := make(map[string]bool, len(c.Patches))
	for _, p := range c.Patches {
		path := c.canonicalize(p)
		if seenPatches[path] {
			return callistoerr.NewConfigError("patch path %q is configured more than once", p)
		}
		seenPatches[path] = true
		if !withinRoot(root, path) {
			return callistoerr.NewConfigError("patch path %q does not resolve inside the project root", p)
		}
	}

	for _, m := range c.Modules {
		path := c.canonicalize(m)
		if seenPatches[path] {
			return callistoerr.NewConfigError("path %q is configured as both a patch and a module", m)
		}
		if !withinRoot(root, path) {
			return callistoerr.NewConfigError("module path %q does not resolve inside the project root", m)
		}
	}

	return nil
}

func withinRoot(root, path string) bool {
	if root == "" {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
