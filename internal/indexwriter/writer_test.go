package indexwriter

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/blevesearch/vellum"

	"github.com/standardbeagle/mftindex/internal/config"
	"github.com/standardbeagle/mftindex/internal/indexfmt"
	"github.com/standardbeagle/mftindex/internal/pathrecon"
)

func unmarshalTestBitmap(t *testing.T, b []byte) *roaring.Bitmap {
	t.Helper()
	bm := roaring.New()
	if err := bm.UnmarshalBinary(b); err != nil {
		t.Fatalf("unmarshaling bitmap: %v", err)
	}
	return bm
}

func newTestWriter(t *testing.T, cfg config.IndexConfig) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := New("C", dir, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w, dir
}

func TestWriterBasicRoundTrip(t *testing.T) {
	cfg := config.Default().Index
	w, dir := newTestWriter(t, cfg)

	paths := []string{
		`C:\Program Files\Firefox\firefox.exe`,
		`C:\Users\Alice\Report.docx`,
		`C:\tools\chromedriver.exe`,
	}
	for _, p := range paths {
		if _, err := w.AddRecord(pathrecon.Emitted{Path: p}); err != nil {
			t.Fatalf("AddRecord(%q): %v", p, err)
		}
	}

	if err := w.Finalize(99, 123456); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	artifacts := indexfmt.ArtifactsFor(dir, "C")
	for _, p := range []string{artifacts.FST, artifacts.Bitmaps, artifacts.Paths, artifacts.Meta, artifacts.Ready} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected artifact %s to exist: %v", p, err)
		}
	}

	metaF, err := os.Open(artifacts.Meta)
	if err != nil {
		t.Fatalf("opening meta: %v", err)
	}
	defer metaF.Close()
	meta, err := indexfmt.ReadMeta(metaF)
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if meta.RecordCount != uint32(len(paths)) {
		t.Errorf("expected RecordCount %d, got %d", len(paths), meta.RecordCount)
	}
	if meta.LastUSN != 123456 || meta.JournalID != 99 {
		t.Errorf("unexpected meta checkpoint fields: %+v", meta)
	}

	fstBytes, err := os.ReadFile(artifacts.FST)
	if err != nil {
		t.Fatalf("reading fst: %v", err)
	}
	fst, err := vellum.Load(fstBytes)
	if err != nil {
		t.Fatalf("vellum.Load: %v", err)
	}
	offset, exists, err := fst.Get([]byte("fir"))
	if err != nil {
		t.Fatalf("fst.Get: %v", err)
	}
	if !exists {
		t.Fatalf("expected trigram 'fir' (from firefox.exe) to be present in the FST")
	}

	bitmapsBytes, err := os.ReadFile(artifacts.Bitmaps)
	if err != nil {
		t.Fatalf("reading bitmaps: %v", err)
	}
	if int(offset)+4 > len(bitmapsBytes) {
		t.Fatalf("fst offset %d out of range of bitmaps file (%d bytes)", offset, len(bitmapsBytes))
	}
	bmLen := binary.LittleEndian.Uint32(bitmapsBytes[offset : offset+4])
	if int(offset)+4+int(bmLen) > len(bitmapsBytes) {
		t.Fatalf("posting list length %d overruns bitmaps file", bmLen)
	}
}

func TestWriterSpillsAndMergesCorrectly(t *testing.T) {
	cfg := config.Default().Index
	cfg.SpillHighWaterMB = 0 // threshold <= 0 disables automatic spills; the test spills manually below
	w, dir := newTestWriter(t, cfg)

	// Force multiple manual spills to exercise the merge path.
	if _, err := w.AddRecord(pathrecon.Emitted{Path: `C:\a\alpha.txt`}); err != nil {
		t.Fatal(err)
	}
	if err := w.spill(); err != nil {
		t.Fatalf("spill: %v", err)
	}
	if _, err := w.AddRecord(pathrecon.Emitted{Path: `C:\b\alpaca.txt`}); err != nil {
		t.Fatal(err)
	}
	if err := w.spill(); err != nil {
		t.Fatalf("spill: %v", err)
	}
	if _, err := w.AddRecord(pathrecon.Emitted{Path: `C:\c\alabama.txt`}); err != nil {
		t.Fatal(err)
	}

	if err := w.Finalize(1, 1); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	artifacts := indexfmt.ArtifactsFor(dir, "C")
	fstBytes, err := os.ReadFile(artifacts.FST)
	if err != nil {
		t.Fatalf("reading fst: %v", err)
	}
	fst, err := vellum.Load(fstBytes)
	if err != nil {
		t.Fatalf("vellum.Load: %v", err)
	}

	// "txt" appears in all three filenames (alpha.txt, alpaca.txt,
	// alabama.txt) and was split across two spills plus the in-memory
	// remainder, so its posting list must be the OR-union of all three
	// occurrences.
	offset, exists, err := fst.Get([]byte("txt"))
	if err != nil || !exists {
		t.Fatalf("expected trigram 'txt' present after merge: exists=%v err=%v", exists, err)
	}

	bitmapsBytes, err := os.ReadFile(artifacts.Bitmaps)
	if err != nil {
		t.Fatalf("reading bitmaps: %v", err)
	}
	bmLen := binary.LittleEndian.Uint32(bitmapsBytes[offset : offset+4])
	bm := unmarshalTestBitmap(t, bitmapsBytes[offset+4:offset+4+uint64(bmLen)])
	if bm.GetCardinality() != 3 {
		t.Errorf("expected 'txt' posting list to contain all 3 ids after merge, got cardinality %d", bm.GetCardinality())
	}
}

func TestWriterFinalizeCleansUpTempDir(t *testing.T) {
	cfg := config.Default().Index
	w, dir := newTestWriter(t, cfg)
	if _, err := w.AddRecord(pathrecon.Emitted{Path: `C:\only.txt`}); err != nil {
		t.Fatal(err)
	}
	if err := w.Finalize(1, 1); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".tmp-C")); !os.IsNotExist(err) {
		t.Errorf("expected temp directory to be removed after Finalize, stat err = %v", err)
	}
}
