package orchestrator

import (
	"context"
	"testing"

	"github.com/standardbeagle/mftindex/internal/config"
	"github.com/standardbeagle/mftindex/internal/indexfmt"
	"github.com/standardbeagle/mftindex/internal/types"
	"github.com/standardbeagle/mftindex/internal/volume"
)

func TestFilterDrivesHonorsIncludeAndExclude(t *testing.T) {
	candidates := []Candidate{{Drive: "C"}, {Drive: "D"}, {Drive: "E"}}

	got := FilterDrives(candidates, config.DrivesConfig{Include: []string{"C", "D"}})
	if len(got) != 2 {
		t.Fatalf("expected include to restrict to 2 drives, got %v", got)
	}

	got = FilterDrives(candidates, config.DrivesConfig{Exclude: []string{"E"}})
	if len(got) != 2 {
		t.Fatalf("expected exclude to drop 1 drive, got %v", got)
	}
}

func TestScheduleSplitsSSDAndHDDAndCapsWorkers(t *testing.T) {
	candidates := []Candidate{
		{Drive: "C", Kind: KindSSD},
		{Drive: "D", Kind: KindSSD},
		{Drive: "E", Kind: KindHDD},
	}
	ssds, hdds, workers := Schedule(candidates)
	if len(ssds) != 2 || len(hdds) != 1 {
		t.Fatalf("expected 2 ssd + 1 hdd, got %d ssd, %d hdd", len(ssds), len(hdds))
	}
	if workers < 1 || workers > len(candidates) {
		t.Errorf("expected workers bounded by candidate count, got %d", workers)
	}
}

type fakeReader struct {
	records   []types.USNRecord
	journalID uint64
	usn       int64
}

func (r *fakeReader) Snapshot(ctx context.Context) (volume.RecordIterator, error) {
	return &sliceIterator{records: r.records}, nil
}
func (r *fakeReader) Tail(ctx context.Context, afterUSN int64) (volume.RecordIterator, error) {
	return &sliceIterator{}, nil
}
func (r *fakeReader) CurrentUSN() (int64, error) { return r.usn, nil }
func (r *fakeReader) JournalID() (uint64, error) { return r.journalID, nil }
func (r *fakeReader) Close() error               { return nil }

type sliceIterator struct {
	records []types.USNRecord
	idx     int
}

func (s *sliceIterator) Next() bool {
	if s.idx < len(s.records) {
		s.idx++
		return true
	}
	return false
}
func (s *sliceIterator) Record() types.USNRecord { return s.records[s.idx-1] }
func (s *sliceIterator) Err() error              { return nil }
func (s *sliceIterator) Close() error            { return nil }

func TestScanAllProducesReadyIndex(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()

	reader := &fakeReader{
		journalID: 7,
		usn:       100,
		records: []types.USNRecord{
			{FRN: 5, ParentFRN: 5, Name: "", Flags: types.FlagDirectory},
			{FRN: 10, ParentFRN: 5, Name: "docs", Flags: types.FlagDirectory},
			{FRN: 11, ParentFRN: 10, Name: "resume.pdf"},
		},
	}

	o := New(dir, *cfg, func(drive string) (volume.Reader, error) { return reader, nil })
	statuses := o.ScanAll(context.Background(), []Candidate{{Drive: "C", Kind: KindSSD}})

	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}
	st := statuses[0]
	if st.Err != nil {
		t.Fatalf("scanOne failed: %v", st.Err)
	}
	if !st.Scanned || st.LastUSN != 100 {
		t.Errorf("unexpected status: %+v", st)
	}
	if _, ok, err := indexfmt.ReadReadyPID(indexfmt.ArtifactsFor(dir, "C").Ready); err != nil || !ok {
		t.Errorf("expected a .ready marker after ScanAll: ok=%v err=%v", ok, err)
	}
}

func TestAcquireLockRejectsSecondHolder(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	o1 := New(dir, *cfg, nil)
	release, err := o1.AcquireLock()
	if err != nil {
		t.Fatalf("first AcquireLock: %v", err)
	}
	defer release()

	o2 := New(dir, *cfg, nil)
	if _, err := o2.AcquireLock(); err == nil {
		t.Fatalf("expected second AcquireLock to fail while first holds the lock")
	}
}
