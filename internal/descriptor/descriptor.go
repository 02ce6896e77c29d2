// Package descriptor implements the canonical identity of a unit of work
//: the closed enumeration of insertable kinds, the descriptor type
// that names one instance of a kind, and the rule for which kinds carry
// a name.
package descriptor

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"golang.org/x/xerrors"
)

// Symbol selects one of the closed enumeration of unit kinds.
type Symbol int

const (
	InitialPatch Symbol = iota
	Graphics
	ExGraphics
	Map16
	TitleScreenMovement
	SharedPalettes
	Overworld
	TitleScreen
	Credits
	GlobalExAnimation
	Levels
	Patch
	Module
	ExternalTool
)

var symbolNames = map[Symbol]string{
	InitialPatch:        "InitialPatch",
	Graphics:            "Graphics",
	ExGraphics:          "ExGraphics",
	Map16:               "Map16",
	TitleScreenMovement: "TitleScreenMovement",
	SharedPalettes:      "SharedPalettes",
	Overworld:           "Overworld",
	TitleScreen:         "TitleScreen",
	Credits:             "Credits",
	GlobalExAnimation:   "GlobalExAnimation",
	Levels:              "Levels",
	Patch:               "Patch",
	Module:              "Module",
	ExternalTool:        "ExternalTool",
}

var namesToSymbol = func() map[string]Symbol {
	m := make(map[string]Symbol, len(symbolNames))
	for s, n := range symbolNames {
		m[n] = s
	}
	return m
}()

func (s Symbol) String() string {
	if n, ok := symbolNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Symbol(%d)", int(s))
}

// ParseSymbol looks up a symbol by its canonical name, used when decoding
// a serialized descriptor. An unknown name is an error at the caller.
func ParseSymbol(name string) (Symbol, bool) {
	s, ok := namesToSymbol[name]
	return s, ok
}

// needsName reports whether a symbol requires a non-empty Name.
func needsName(s Symbol) bool {
	return s == Patch || s == Module || s == ExternalTool
}

// Descriptor is a canonical identifier for one unit of work: a tagged pair
// (Symbol, Name). Name is required exactly when the symbol is Patch,
// Module, or ExternalTool, holding a canonicalized absolute path for
// Patch/Module or the configured tool name for ExternalTool. Descriptor is
// comparable (usable directly as a map key), which gives equality and
// hashing by both fields for free.
type Descriptor struct {
	Symbol Symbol
	Name   string
}

// New validates the (symbol, name) pairing invariant before returning a
// Descriptor.
func New(symbol Symbol, name string) (Descriptor, error) {
	if needsName(symbol) && name == "" {
		return Descriptor{}, xerrors.Errorf("descriptor of kind %s requires a name", symbol)
	}
	if !needsName(symbol) && name != "" {
		return Descriptor{}, xerrors.Errorf("descriptor of kind %s must not carry a name", symbol)
	}
	return Descriptor{Symbol: symbol, Name: name}, nil
}

// String renders the descriptor for logs and conflict reports: the
// project-relative path for Patch/Module, the tool name for ExternalTool,
// and the bare symbol name otherwise.
func (d Descriptor) String(projectRoot string) string {
	switch d.Symbol {
	case Patch, Module:
		if projectRoot == "" {
			return d.Name
		}
		if rel, err := filepath.Rel(projectRoot, d.Name); err == nil {
			return rel
		}
		return d.Name
	case ExternalTool:
		return d.Name
	default:
		return d.Symbol.String()
	}
}

type descriptorJSON struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name,omitempty"`
}

func (d Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(descriptorJSON{Symbol: d.Symbol.String(), Name: d.Name})
}

func (d *Descriptor) UnmarshalJSON(b []byte) error {
	var dj descriptorJSON
	if err := json.Unmarshal(b, &dj); err != nil {
		return err
	}
	s, ok := ParseSymbol(dj.Symbol)
	if !ok {
		return xerrors.Errorf("unknown build order symbol %q", dj.Symbol)
	}
	d.Symbol, d.Name = s, dj.Name
	return nil
}
