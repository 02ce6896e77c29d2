// Package projectasm generates the project include file: a
// regenerated-every-build assembly file with configuration-derived
// defines and the call_module/include_module macros patches and modules
// incsrc.
package projectasm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Version is the engine's own version, mirrored into the include file's
// version defines.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

const definePrefix = "callisto"

// Generate renders the project include file's contents for profileName,
// with moduleFolder as the posix-style path modules are imprinted under.
func Generate(profileName string, moduleFolder string, v Version) string {
	moduleFolder = filepath.ToSlash(moduleFolder)

	var b strings.Builder
	b.WriteString("includeonce\n\n")
	b.WriteString("; Asar compatible file containing information about callisto, can be imported using incsrc as needed\n\n")

	b.WriteString("; Define containing the name of the active profile\n")
	fmt.Fprintf(&b, "!%s_profile = \"%s\"\n\n", definePrefix, profileName)

	b.WriteString("; Marker define to determine that callisto is assembling a file\n")
	fmt.Fprintf(&b, "!%s_assembling = 1\n\n", definePrefix)

	b.WriteString("; Define containing callisto's version number as a string\n")
	fmt.Fprintf(&b, "!%s_version = \"%s\"\n\n", definePrefix, v.String())

	b.WriteString("; Defines containing callisto's version number as individual numbers\n")
	fmt.Fprintf(&b, "!%s_version_major = %d\n", definePrefix, v.Major)
	fmt.Fprintf(&b, "!%s_version_minor = %d\n", definePrefix, v.Minor)
	fmt.Fprintf(&b, "!%s_version_patch = %d\n\n", definePrefix, v.Patch)

	b.WriteString("; Define containing path to callisto's module imprint folder\n")
	fmt.Fprintf(&b, "!%s_module_folder_path = \"%s\"\n\n", definePrefix, moduleFolder)

	fmt.Fprint(&b, "macro call_module(module_label)\n"+
		"\tPHB\n"+
		"\tLDA.b #<module_label>>>16\n"+
		"\tPHA\n"+
		"\tPLB\n"+
		"\tJSL <module_label>\n"+
		"\tPLB\n"+
		"endmacro\n\n")

	fmt.Fprintf(&b, "macro include_module(module_name)\n"+
		"\tincsrc \"!%s_module_folder_path/<module_name>\"\n"+
		"endmacro\n", definePrefix)

	return b.String()
}

// WriteIfDifferent writes content to path only if the file's current
// contents differ, avoiding cascading timestamp invalidations of every
// Rebuild-policy dependency that reads this file.
func WriteIfDifferent(content string, path string) error {
	existing, err := os.ReadFile(path)
	if err == nil && string(existing) == content {
		return nil
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
