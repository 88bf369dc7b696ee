package pathrecon

import (
	"context"
	"sort"
	"testing"

	"github.com/standardbeagle/mftindex/internal/types"
)

// fakeIterator feeds a fixed slice of records to BuildFRNMap without
// needing a real volume.Reader.
type fakeIterator struct {
	records []types.USNRecord
	idx     int
}

func (f *fakeIterator) Next() bool {
	if f.idx >= len(f.records) {
		return false
	}
	f.idx++
	return true
}
func (f *fakeIterator) Record() types.USNRecord { return f.records[f.idx-1] }
func (f *fakeIterator) Err() error              { return nil }
func (f *fakeIterator) Close() error            { return nil }

func TestReconstructorBasicTree(t *testing.T) {
	// root(5) -> Program Files(10) -> Firefox(11) -> firefox.exe(12)
	records := []types.USNRecord{
		{FRN: 10, ParentFRN: 5, Name: "Program Files", Flags: types.FlagDirectory},
		{FRN: 11, ParentFRN: 10, Name: "Firefox", Flags: types.FlagDirectory},
		{FRN: 12, ParentFRN: 11, Name: "firefox.exe"},
	}

	r := New("C")
	if err := r.BuildFRNMap(context.Background(), &fakeIterator{records: records}); err != nil {
		t.Fatalf("BuildFRNMap: %v", err)
	}
	if r.Count() != 3 {
		t.Fatalf("expected 3 entries, got %d", r.Count())
	}

	var got []string
	err := r.Walk(context.Background(), func(batch []Emitted) error {
		for _, e := range batch {
			got = append(got, e.Path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	sort.Strings(got)
	want := []string{
		`C:\Program Files`,
		`C:\Program Files\Firefox`,
		`C:\Program Files\Firefox\firefox.exe`,
	}
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReconstructorMissingParentYieldsPartialPath(t *testing.T) {
	records := []types.USNRecord{
		{FRN: 20, ParentFRN: 999, Name: "orphan.txt"}, // parent 999 never appears
	}
	r := New("D")
	_ = r.BuildFRNMap(context.Background(), &fakeIterator{records: records})

	var got []Emitted
	err := r.Walk(context.Background(), func(batch []Emitted) error {
		got = append(got, batch...)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 emitted record, got %d", len(got))
	}
	if !got[0].Flags.Has(types.FlagPartialPath) {
		t.Errorf("expected FlagPartialPath set, got flags %v", got[0].Flags)
	}
	if got[0].Path != `D:\?\orphan.txt` {
		t.Errorf("unexpected partial path: %q", got[0].Path)
	}
}

func TestReconstructorCycleDetection(t *testing.T) {
	// 30 <-> 31 form a cycle; neither reaches the root sentinel.
	records := []types.USNRecord{
		{FRN: 30, ParentFRN: 31, Name: "a"},
		{FRN: 31, ParentFRN: 30, Name: "b"},
	}
	r := New("E")
	_ = r.BuildFRNMap(context.Background(), &fakeIterator{records: records})

	var got []Emitted
	err := r.Walk(context.Background(), func(batch []Emitted) error {
		got = append(got, batch...)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected both cyclic records discarded, got %d: %+v", len(got), got)
	}
	if r.CorruptCount() == 0 {
		t.Errorf("expected CorruptCount > 0 after cycle detection")
	}
}

func TestReconstructorIgnoreFilter(t *testing.T) {
	records := []types.USNRecord{
		{FRN: 40, ParentFRN: 5, Name: "System Volume Information", Flags: types.FlagDirectory},
		{FRN: 41, ParentFRN: 40, Name: "tracking.log"},
		{FRN: 42, ParentFRN: 5, Name: "readme.txt"},
	}
	r := New("C", WithIgnorePrefixes([]string{"System Volume Information"}))
	_ = r.BuildFRNMap(context.Background(), &fakeIterator{records: records})

	var got []string
	err := r.Walk(context.Background(), func(batch []Emitted) error {
		for _, e := range batch {
			got = append(got, e.Path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(got) != 1 || got[0] != `C:\readme.txt` {
		t.Fatalf("expected only readme.txt to survive the ignore filter, got %v", got)
	}
	if r.IgnoredCount() != 2 {
		t.Errorf("expected 2 ignored records, got %d", r.IgnoredCount())
	}
}

func TestReconstructorMemoryReleasedAfterWalk(t *testing.T) {
	records := []types.USNRecord{{FRN: 1, ParentFRN: 5, Name: "a.txt"}}
	r := New("C")
	_ = r.BuildFRNMap(context.Background(), &fakeIterator{records: records})
	_ = r.Walk(context.Background(), func(batch []Emitted) error { return nil })

	if r.frns != nil {
		t.Errorf("expected FRN map to be released after Walk")
	}
	if r.arena.Len() != 0 {
		t.Errorf("expected arena to be reset after Walk")
	}
}
