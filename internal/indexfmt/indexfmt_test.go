package indexfmt

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestMetaRoundTrip(t *testing.T) {
	m := Meta{
		Version:     SchemaVersion,
		LastUSN:     123456789,
		JournalID:   42,
		RecordCount: 4_500_000,
		DriveLetter: 'C',
		Flags:       MetaFlagNonASCIIFallback,
	}

	var buf bytes.Buffer
	if err := WriteMeta(&buf, m); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}

	got, err := ReadMeta(&buf)
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if got != m {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, m)
	}
}

func TestReadMetaBadMagic(t *testing.T) {
	buf := bytes.NewReader(make([]byte, 30))
	if _, err := ReadMeta(buf); err == nil {
		t.Errorf("expected error for bad magic")
	}
}

func TestArtifactsFor(t *testing.T) {
	a := ArtifactsFor(`C:\index`, "D:")
	if filepath.Base(a.FST) != "D_index.fst" {
		t.Errorf("unexpected FST path: %s", a.FST)
	}
	if filepath.Base(a.Meta) != "D.meta" {
		t.Errorf("unexpected meta path: %s", a.Meta)
	}
	if filepath.Base(a.Ready) != "D.ready" {
		t.Errorf("unexpected ready path: %s", a.Ready)
	}
}

func TestReadyMarkerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "C.ready")

	if _, ok, err := ReadReadyPID(path); err != nil || ok {
		t.Fatalf("expected missing ready marker, got ok=%v err=%v", ok, err)
	}

	if err := WriteReady(path, 4242); err != nil {
		t.Fatalf("WriteReady: %v", err)
	}

	pid, ok, err := ReadReadyPID(path)
	if err != nil || !ok {
		t.Fatalf("ReadReadyPID: ok=%v err=%v", ok, err)
	}
	if pid != 4242 {
		t.Errorf("expected pid 4242, got %d", pid)
	}
	_ = os.Remove(path)
}
