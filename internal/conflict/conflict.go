// Package conflict implements the write-conflict map: a byte-indexed
// map from ROM offset to the ordered list of (writer, byte) pairs that
// touched it, with a grouped report of every offset run whose writers
// disagree on the final byte.
package conflict

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/xerrors"

	"github.com/smw-build/callisto/internal/romfile"
)

// Policy selects the observation window diffed around each unit's insert.
type Policy int

const (
	None Policy = iota
	Hijacks
	All
)

// ParsePolicy parses the settings.check_conflicts configuration string.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "all":
		return All, nil
	case "hijacks", "":
		return Hijacks, nil
	case "none":
		return None, nil
	default:
		return 0, xerrors.Errorf("unknown settings.check_conflicts setting %q", s)
	}
}

// Write is one writer's contribution to a single ROM offset.
type Write struct {
	Writer string
	Byte   byte
}

// Map is the append-only write-conflict map. Safe for one writer at a
// time (the conflict-diff worker); reads should wait until the worker is
// joined.
type Map struct {
	writes map[int][]Write
}

// NewMap returns an empty write-conflict map.
func NewMap() *Map {
	return &Map{writes: make(map[int][]Write)}
}

// Update diffs before against after under policy and records every
// differing byte as written by writerName, skipping the checksum region
// and seeding a never-before-seen offset with an "Original bytes" entry.
func (m *Map) Update(policy Policy, before, after []byte, writerName string) {
	if policy == None {
		return
	}

	size := len(before)
	if len(after) < size {
		size = len(after)
	}
	if policy == Hijacks && size > romfile.CleanRomSize {
		size = romfile.CleanRomSize
	}

	for i := 0; i < size; i++ {
		if i == romfile.ChecksumComplementLoc {
			i += 3
			continue
		}

		if i >= len(before) || before[i] != after[i] {
			if _, ok := m.writes[i]; !ok && i < len(before) {
				m.writes[i] = append(m.writes[i], Write{Writer: "Original bytes", Byte: before[i]})
			}
			m.writes[i] = append(m.writes[i], Write{Writer: writerName, Byte: after[i]})
		}
	}
}

func writers(writes []Write) []string {
	out := make([]string, len(writes))
	for i, w := range writes {
		out[i] = w.Writer
	}
	return out
}

func sameWriters(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// identical reports whether every non-ignored writer in writes installed
// the same final byte (a single non-ignored writer is never a conflict).
// writes[0] is the "Original bytes" seed and is not counted as a writer.
func identical(writes []Write, ignored map[string]bool) bool {
	if len(writes) == 1 {
		return true
	}
	var byteToMatch *byte
	for _, w := range writes[1:] {
		if ignored[w.Writer] {
			continue
		}
		if byteToMatch == nil {
			b := w.Byte
			byteToMatch = &b
		} else if *byteToMatch != w.Byte {
			return false
		}
	}
	return true
}

// Entry is one grouped conflict: a contiguous run of offsets sharing the
// same writer set, none of which agree on the final byte.
type Entry struct {
	PCOffset int
	Writers  []string
	Bytes    [][]byte // per writer, aligned with Writers
}

// Report groups the map into conflict entries in offset order, skipping
// runs where all non-ignored writers agree.
func (m *Map) Report(ignoredNames map[string]bool) []Entry {
	if len(m.writes) == 0 {
		return nil
	}

	offsets := make([]int, 0, len(m.writes))
	for off := range m.writes {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)

	var entries []Entry
	i := 0
	for i < len(offsets) {
		off := offsets[i]
		w := m.writes[off]
		if identical(w, ignoredNames) {
			i++
			continue
		}

		names := writers(w)
		entry := Entry{PCOffset: off, Writers: names, Bytes: make([][]byte, len(names))}
		for {
			for j, write := range m.writes[offsets[i]] {
				entry.Bytes[j] = append(entry.Bytes[j], write.Byte)
			}
			i++
			if i >= len(offsets) {
				break
			}
			next := m.writes[offsets[i]]
			if offsets[i] != offsets[i-1]+1 || !sameWriters(names, writers(next)) || identical(next, ignoredNames) {
				break
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// String renders one conflict entry as a log block.
// forConsole truncates each writer's byte dump at 0x100 bytes; the file
// form does not.
func (e Entry) String(forConsole bool) string {
	var out strings.Builder
	size := len(e.Bytes[0])
	unit := "byte"
	if size != 1 {
		unit = "bytes"
	}
	lineEnd := "\n"
	fmt.Fprintf(&out, "Conflict - 0x%X %s at SNES: $%06X (unheadered), PC: 0x%06X (headered):%s",
		size, unit, romfile.PCToSNES(e.PCOffset), e.PCOffset+romfile.HeaderSize, lineEnd)

	for wi, writer := range e.Writers {
		fmt.Fprintf(&out, "\t%s:", writer)
		bytes := e.Bytes[wi]
		for i := 0; i < len(bytes); i++ {
			if forConsole && i == 0x100 {
				out.WriteString("...")
				break
			}
			if i%0x10 == 0 {
				out.WriteString(lineEnd + "\t\t")
			}
			fmt.Fprintf(&out, "%02X ", bytes[i])
		}
		out.WriteString(lineEnd)
	}
	return out.String()
}

// RenderLog joins every entry for the conflict log file: blank-line
// separated, no truncation.
func RenderLog(entries []Entry) string {
	var parts []string
	for _, e := range entries {
		parts = append(parts, e.String(false))
	}
	return strings.Join(parts, "\n")
}
