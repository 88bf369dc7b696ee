package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/standardbeagle/mftindex/internal/config"
	"github.com/standardbeagle/mftindex/internal/indexquery"
	"github.com/standardbeagle/mftindex/internal/indexwriter"
	"github.com/standardbeagle/mftindex/internal/pathrecon"
	"github.com/standardbeagle/mftindex/internal/types"
	"github.com/standardbeagle/mftindex/internal/volume"
)

type fakeIterator struct {
	records []types.USNRecord
	idx     int
	ctx     context.Context
}

func (f *fakeIterator) Next() bool {
	if f.idx < len(f.records) {
		f.idx++
		return true
	}
	<-f.ctx.Done()
	return false
}
func (f *fakeIterator) Record() types.USNRecord { return f.records[f.idx-1] }
func (f *fakeIterator) Err() error              { return f.ctx.Err() }
func (f *fakeIterator) Close() error            { return nil }

type fakeReader struct {
	tailRecords []types.USNRecord
}

func (r *fakeReader) Snapshot(ctx context.Context) (volume.RecordIterator, error) { return nil, nil }
func (r *fakeReader) Tail(ctx context.Context, afterUSN int64) (volume.RecordIterator, error) {
	return &fakeIterator{records: r.tailRecords, ctx: ctx}, nil
}
func (r *fakeReader) CurrentUSN() (int64, error)  { return 0, nil }
func (r *fakeReader) JournalID() (uint64, error)  { return 1, nil }
func (r *fakeReader) Close() error                { return nil }

func buildEmptyIndex(t *testing.T) *indexquery.Index {
	t.Helper()
	dir := t.TempDir()
	w, err := indexwriter.New("C", dir, config.Default().Index)
	if err != nil {
		t.Fatalf("indexwriter.New: %v", err)
	}
	if _, err := w.AddRecord(pathrecon.Emitted{Path: `C:\seed\keep.txt`}); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	if err := w.Finalize(1, 0); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	idx, err := indexquery.Open(dir, "C")
	if err != nil {
		t.Fatalf("indexquery.Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestMonitorCreateSurfacesInDelta(t *testing.T) {
	idx := buildEmptyIndex(t)
	delta := indexquery.NewDelta()
	reader := &fakeReader{tailRecords: []types.USNRecord{
		{FRN: 10, Name: "newfile.txt", USN: 1, Reason: types.ReasonFileCreate},
	}}
	cfg := config.Default().Monitor
	cfg.TailBatchSize = 1
	m := New("C", reader, idx, delta, cfg, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	hits, err := idx.Query("newfile", 10, config.Default().Query)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected delta create to surface in query, got %d hits", len(hits))
	}
}

func TestMonitorDeleteTombstonesOwnDeltaRecord(t *testing.T) {
	idx := buildEmptyIndex(t)
	delta := indexquery.NewDelta()
	reader := &fakeReader{tailRecords: []types.USNRecord{
		{FRN: 11, Name: "ephemeral.txt", USN: 1, Reason: types.ReasonFileCreate},
		{FRN: 11, Name: "ephemeral.txt", USN: 2, Reason: types.ReasonFileDelete},
	}}
	cfg := config.Default().Monitor
	cfg.TailBatchSize = 10
	m := New("C", reader, idx, delta, cfg, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	hits, err := idx.Query("ephemeral", 10, config.Default().Query)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected create-then-delete to leave no surfaced hit, got %+v", hits)
	}
}

func TestMonitorDeleteTombstonesPersistedRecord(t *testing.T) {
	dir := t.TempDir()
	w, err := indexwriter.New("C", dir, config.Default().Index)
	if err != nil {
		t.Fatalf("indexwriter.New: %v", err)
	}
	if _, err := w.AddRecord(pathrecon.Emitted{Path: `C:\keep.txt`}); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	if err := w.Finalize(1, 0); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	idx, err := indexquery.Open(dir, "C")
	if err != nil {
		t.Fatalf("indexquery.Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	delta := indexquery.NewDelta()
	reader := &fakeReader{tailRecords: []types.USNRecord{
		{FRN: 20, Name: "keep.txt", USN: 1, Reason: types.ReasonFileDelete},
	}}
	cfg := config.Default().Monitor
	cfg.TailBatchSize = 1
	m := New("C", reader, idx, delta, cfg, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	hits, err := idx.Query("keep", 10, config.Default().Query)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected delete of a pre-existing persisted record to tombstone it, got %+v", hits)
	}
}

func TestMonitorCompactionTriggersAndSwapsIndex(t *testing.T) {
	idx := buildEmptyIndex(t)
	delta := indexquery.NewDelta()
	reader := &fakeReader{tailRecords: []types.USNRecord{
		{FRN: 1, Name: "a.txt", USN: 1, Reason: types.ReasonFileCreate},
		{FRN: 2, Name: "b.txt", USN: 2, Reason: types.ReasonFileCreate},
	}}
	cfg := config.Default().Monitor
	cfg.TailBatchSize = 1
	cfg.CompactionRecordThreshold = 2

	compacted := false
	var rebuilt *indexquery.Index
	compact := func(ctx context.Context, drive string, d *indexquery.Delta) (*indexquery.Index, error) {
		compacted = true
		rebuilt = buildEmptyIndex(t)
		return rebuilt, nil
	}
	m := New("C", reader, idx, delta, cfg, 0, compact)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !compacted {
		t.Errorf("expected compaction to trigger after threshold reached")
	}
	if m.idx != rebuilt {
		t.Errorf("expected Monitor to swap onto the rebuilt index after compaction")
	}
}

func TestMonitorStopIsCooperative(t *testing.T) {
	idx := buildEmptyIndex(t)
	delta := indexquery.NewDelta()
	reader := &fakeReader{tailRecords: []types.USNRecord{
		{FRN: 1, Name: "a.txt", USN: 1, Reason: types.ReasonFileCreate},
	}}
	cfg := config.Default().Monitor
	cfg.TailBatchSize = 1
	m := New("C", reader, idx, delta, cfg, 0, nil)
	m.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected Stop to halt Run promptly")
	}
}
