package report

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/smw-build/callisto/internal/dependency"
	"github.com/smw-build/callisto/internal/descriptor"
)

func TestLoadMissingReturnsNilNil(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "build_report.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("Load of a missing file = %+v, want nil", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build_report.json")

	patch, _ := descriptor.New(descriptor.Patch, "/proj/a.asm")
	want := New()
	want.BuildOrder = []descriptor.Descriptor{patch}
	want.InsertedLevels = []int{1, 105}
	want.Entries = []Entry{{
		Descriptor: patch,
		ResourceDependencies: dependency.NewSet(
			dependency.NewResource("/proj/a.asm", dependency.Reinsert),
		),
		ConfigurationDependencies: dependency.NewConfigurationSet(
			dependency.Configuration{Key: "project_root", Value: "/proj", Policy: dependency.Rebuild},
		),
		Hijacks: []Hijack{{Offset: 0x1234, Length: 3}},
	}}

	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSameBuildOrder(t *testing.T) {
	a, _ := descriptor.New(descriptor.Patch, "/proj/a.asm")
	b, _ := descriptor.New(descriptor.Patch, "/proj/b.asm")

	r := &Report{BuildOrder: []descriptor.Descriptor{a, b}}
	if !r.SameBuildOrder([]descriptor.Descriptor{a, b}) {
		t.Error("identical build orders reported different")
	}
	if r.SameBuildOrder([]descriptor.Descriptor{b, a}) {
		t.Error("reordered build orders reported same")
	}
	if r.SameBuildOrder([]descriptor.Descriptor{a}) {
		t.Error("build orders of different length reported same")
	}
}

func TestEntryFor(t *testing.T) {
	a, _ := descriptor.New(descriptor.Patch, "/proj/a.asm")
	b, _ := descriptor.New(descriptor.Patch, "/proj/b.asm")
	r := &Report{Entries: []Entry{{Descriptor: a}}}

	if _, ok := r.EntryFor(a); !ok {
		t.Error("EntryFor(a) not found")
	}
	if _, ok := r.EntryFor(b); ok {
		t.Error("EntryFor(b) unexpectedly found")
	}
}

func TestMissingLevels(t *testing.T) {
	r := &Report{InsertedLevels: []int{1, 2, 105}}
	got := r.MissingLevels(map[int]struct{}{1: {}, 105: {}})
	if diff := cmp.Diff([]int{2}, got); diff != "" {
		t.Errorf("MissingLevels mismatch (-want +got):\n%s", diff)
	}
}

func TestHijackAddresses(t *testing.T) {
	h := Hijack{Offset: 10, Length: 3}
	got := h.Addresses()
	want := map[int]struct{}{10: {}, 11: {}, 12: {}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Addresses mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteMissingFileIsNotAnError(t *testing.T) {
	if err := Delete(filepath.Join(t.TempDir(), "nope.json")); err != nil {
		t.Errorf("Delete of a missing file = %v, want nil", err)
	}
}
