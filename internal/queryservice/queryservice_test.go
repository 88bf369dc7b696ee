package queryservice

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/standardbeagle/mftindex/internal/config"
	"github.com/standardbeagle/mftindex/internal/indexquery"
	"github.com/standardbeagle/mftindex/internal/indexwriter"
	"github.com/standardbeagle/mftindex/internal/pathrecon"
)

func buildIndex(t *testing.T, drive string, paths []string) *indexquery.Index {
	t.Helper()
	dir := t.TempDir()
	w, err := indexwriter.New(drive, dir, config.Default().Index)
	if err != nil {
		t.Fatalf("indexwriter.New: %v", err)
	}
	for _, p := range paths {
		if _, err := w.AddRecord(pathrecon.Emitted{Path: p}); err != nil {
			t.Fatalf("AddRecord: %v", err)
		}
	}
	if err := w.Finalize(1, 1); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	idx, err := indexquery.Open(dir, drive)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestRegistryGetCachesHandle(t *testing.T) {
	idx := buildIndex(t, "C", []string{`C:\a\one.txt`})
	var opens int32
	reg := NewRegistry(func(drive string) (*indexquery.Index, error) {
		atomic.AddInt32(&opens, 1)
		return idx, nil
	})

	for i := 0; i < 5; i++ {
		got, err := reg.Get("C")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != idx {
			t.Fatalf("expected cached handle, got a different one")
		}
	}
	if opens != 1 {
		t.Errorf("expected exactly 1 open call, got %d", opens)
	}
}

func TestSearchMergesAcrossDrives(t *testing.T) {
	idxC := buildIndex(t, "C", []string{`C:\docs\report.txt`})
	idxD := buildIndex(t, "D", []string{`D:\backup\report.txt`})

	reg := NewRegistry(func(drive string) (*indexquery.Index, error) {
		switch drive {
		case "C":
			return idxC, nil
		case "D":
			return idxD, nil
		}
		return nil, fmt.Errorf("unknown drive %s", drive)
	})
	svc := New(reg, config.Default().Query)

	hits, err := svc.Search(context.Background(), []string{"C", "D"}, "report", 10, svc.NextSequence(), nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 merged hits across drives, got %d: %+v", len(hits), hits)
	}
}

func TestSearchDegradesOnPartialDriveFailure(t *testing.T) {
	idxC := buildIndex(t, "C", []string{`C:\docs\report.txt`})
	reg := NewRegistry(func(drive string) (*indexquery.Index, error) {
		if drive == "C" {
			return idxC, nil
		}
		return nil, fmt.Errorf("drive %s unavailable", drive)
	})
	svc := New(reg, config.Default().Query)

	hits, err := svc.Search(context.Background(), []string{"C", "Z"}, "report", 10, svc.NextSequence(), nil)
	if err != nil {
		t.Fatalf("expected partial success despite one drive failing, got err: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit from the surviving drive, got %d", len(hits))
	}
}

func TestSearchFailsOnlyWhenEveryDriveFails(t *testing.T) {
	reg := NewRegistry(func(drive string) (*indexquery.Index, error) {
		return nil, fmt.Errorf("drive %s unavailable", drive)
	})
	svc := New(reg, config.Default().Query)

	_, err := svc.Search(context.Background(), []string{"C", "D"}, "report", 10, svc.NextSequence(), nil)
	if err == nil {
		t.Fatalf("expected an error when every drive fails")
	}
}

func TestSearchSkipsWhenSuperseded(t *testing.T) {
	idxC := buildIndex(t, "C", []string{`C:\docs\report.txt`})
	reg := NewRegistry(func(drive string) (*indexquery.Index, error) { return idxC, nil })
	svc := New(reg, config.Default().Query)

	seq := svc.NextSequence()
	newer := svc.NextSequence()
	mostRecent := newer

	hits, err := svc.Search(context.Background(), []string{"C"}, "report", 10, seq, &mostRecent)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected a superseded query to yield no hits, got %+v", hits)
	}
}

func TestApplyMRUBoostReordersByBoost(t *testing.T) {
	idx := buildIndex(t, "C", []string{`C:\a\alpha.txt`, `C:\b\alphabet.txt`})
	hits, err := idx.Query("alpha", 10, config.Default().Query)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}

	boosted := hits[1].Path
	ApplyMRUBoost(hits, func(path string) float64 {
		if path == boosted {
			return 10000
		}
		return 0
	})
	if hits[0].Path != boosted {
		t.Errorf("expected boosted hit %q to rank first, got %q", boosted, hits[0].Path)
	}
}
