package volume

import (
	"encoding/binary"
	"testing"

	"github.com/standardbeagle/mftindex/internal/types"
)

// buildRecord constructs a single raw USN record buffer matching the
// layout parseRecordBuffer expects.
func buildRecord(frn, parentFRN uint64, usn int64, reason, fileAttrs uint32, name string) []byte {
	nameUTF16 := utf16Encode(name)
	nameBytes := len(nameUTF16) * 2
	recLen := usnRecordHeaderSize + nameBytes
	// pad to 8-byte alignment like real USN records do
	if pad := recLen % 8; pad != 0 {
		recLen += 8 - pad
	}

	buf := make([]byte, recLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(recLen))
	binary.LittleEndian.PutUint16(buf[4:6], 4)  // MajorVersion
	binary.LittleEndian.PutUint16(buf[6:8], 0)  // MinorVersion
	binary.LittleEndian.PutUint64(buf[8:16], frn)
	binary.LittleEndian.PutUint64(buf[16:24], parentFRN)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(usn))
	binary.LittleEndian.PutUint64(buf[32:40], 0) // TimeStamp
	binary.LittleEndian.PutUint32(buf[40:44], reason)
	binary.LittleEndian.PutUint32(buf[44:48], 0) // SourceInfo
	binary.LittleEndian.PutUint32(buf[48:52], 0) // SecurityId
	binary.LittleEndian.PutUint32(buf[52:56], fileAttrs)
	binary.LittleEndian.PutUint16(buf[56:58], uint16(nameBytes))
	binary.LittleEndian.PutUint16(buf[58:60], usnRecordHeaderSize)
	for i, u := range nameUTF16 {
		binary.LittleEndian.PutUint16(buf[usnRecordHeaderSize+i*2:], u)
	}
	return buf
}

func utf16Encode(s string) []uint16 {
	var out []uint16
	for _, r := range s {
		if r <= 0xFFFF {
			out = append(out, uint16(r))
			continue
		}
		r -= 0x10000
		out = append(out, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
	}
	return out
}

func TestParseRecordBufferSingle(t *testing.T) {
	buf := buildRecord(100, 10, 5000, types.ReasonFileCreate, fileAttributeDirectory, "firefox.exe")

	records, consumed, err := parseRecordBuffer(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if consumed != uint32(len(buf)) {
		t.Fatalf("expected to consume %d bytes, got %d", len(buf), consumed)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.FRN != 100 || r.ParentFRN != 10 || r.USN != 5000 {
		t.Errorf("unexpected record fields: %+v", r)
	}
	if r.Name != "firefox.exe" {
		t.Errorf("expected name firefox.exe, got %q", r.Name)
	}
	if !r.Flags.Has(types.FlagDirectory) {
		t.Errorf("expected FlagDirectory set")
	}
	if r.Reason != types.ReasonFileCreate {
		t.Errorf("expected reason preserved, got %x", r.Reason)
	}
}

func TestParseRecordBufferMultiple(t *testing.T) {
	r1 := buildRecord(1, 0, 100, types.ReasonFileCreate, 0, "a.txt")
	r2 := buildRecord(2, 0, 101, types.ReasonFileDelete, 0, "b.txt")
	buf := append(r1, r2...)

	records, consumed, err := parseRecordBuffer(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if consumed != uint32(len(buf)) {
		t.Fatalf("expected full buffer consumed, got %d of %d", consumed, len(buf))
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Name != "a.txt" || records[1].Name != "b.txt" {
		t.Errorf("unexpected names: %q, %q", records[0].Name, records[1].Name)
	}
}

func TestParseRecordBufferEmptyNameSkipped(t *testing.T) {
	buf := buildRecord(1, 0, 1, 0, 0, "")
	records, consumed, err := parseRecordBuffer(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if consumed != uint32(len(buf)) {
		t.Errorf("expected buffer to be consumed even though record was skipped")
	}
	if len(records) != 0 {
		t.Errorf("expected empty-name record to be skipped, got %d records", len(records))
	}
}

func TestParseRecordBufferNonASCIIFlag(t *testing.T) {
	buf := buildRecord(1, 0, 1, 0, 0, "日本語.txt")
	records, _, err := parseRecordBuffer(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if !records[0].Flags.Has(types.FlagNonASCII) {
		t.Errorf("expected FlagNonASCII set for unicode name")
	}
	if records[0].Name != "日本語.txt" {
		t.Errorf("expected round-tripped unicode name, got %q", records[0].Name)
	}
}

func TestParseRecordBufferTruncatedStopsCleanly(t *testing.T) {
	full := buildRecord(1, 0, 1, 0, 0, "truncated.txt")
	buf := full[:len(full)-4] // chop off the tail so declared length overruns

	records, consumed, err := parseRecordBuffer(buf)
	if err != nil {
		t.Fatalf("unexpected error on truncated buffer: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records from a truncated buffer, got %d", len(records))
	}
	if consumed != 0 {
		t.Errorf("expected 0 bytes consumed from a wholly truncated record, got %d", consumed)
	}
}
