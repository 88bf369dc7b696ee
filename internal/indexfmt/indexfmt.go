// Package indexfmt defines the on-disk layout shared by the Index
// Writer and Index Query components (§6 "On-disk layout"): artifact
// file naming, the `.meta` binary header, and the `.ready` marker.
package indexfmt

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Magic identifies a valid .meta file, per §6.
var Magic = [4]byte{'I', 'L', 'M', 'F'}

// SchemaVersion is bumped whenever the on-disk artifact layout
// changes incompatibly.
const SchemaVersion = 1

const (
	MetaFlagNonASCIIFallback uint8 = 1 << iota
)

// Meta is the small binary header written to `X.meta` (§6).
type Meta struct {
	Version     uint32
	LastUSN     uint64
	JournalID   uint64
	RecordCount uint32
	DriveLetter byte
	Flags       uint8
}

// Artifacts names the four data files plus the .ready marker for one
// drive letter under indexDir, following the `X_index.fst` /
// `X_bitmaps.dat` / `X_paths.dat` / `X.meta` / `X.ready` convention.
type Artifacts struct {
	FST     string
	Bitmaps string
	Paths   string
	Meta    string
	Ready   string
	Lock    string
}

// ArtifactsFor returns the artifact paths for drive under indexDir.
// drive may be given as "C" or "C:"; only the letter is used.
func ArtifactsFor(indexDir, drive string) Artifacts {
	letter := strings.ToUpper(strings.TrimSuffix(drive, ":"))
	base := filepath.Join(indexDir, letter)
	return Artifacts{
		FST:     base + "_index.fst",
		Bitmaps: base + "_bitmaps.dat",
		Paths:   base + "_paths.dat",
		Meta:    base + ".meta",
		Ready:   base + ".ready",
		Lock:    filepath.Join(indexDir, ".lock"),
	}
}

// WriteMeta serializes m to w.
func WriteMeta(w io.Writer, m Meta) error {
	buf := make([]byte, 4+4+8+8+4+1+1)
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], m.Version)
	binary.LittleEndian.PutUint64(buf[8:16], m.LastUSN)
	binary.LittleEndian.PutUint64(buf[16:24], m.JournalID)
	binary.LittleEndian.PutUint32(buf[24:28], m.RecordCount)
	buf[28] = m.DriveLetter
	buf[29] = m.Flags
	_, err := w.Write(buf)
	return err
}

// ReadMeta deserializes a Meta header from r, validating the magic.
func ReadMeta(r io.Reader) (Meta, error) {
	buf := make([]byte, 4+4+8+8+4+1+1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Meta{}, fmt.Errorf("indexfmt: reading meta: %w", err)
	}
	if string(buf[0:4]) != string(Magic[:]) {
		return Meta{}, fmt.Errorf("indexfmt: bad magic %q", buf[0:4])
	}
	m := Meta{
		Version:     binary.LittleEndian.Uint32(buf[4:8]),
		LastUSN:     binary.LittleEndian.Uint64(buf[8:16]),
		JournalID:   binary.LittleEndian.Uint64(buf[16:24]),
		RecordCount: binary.LittleEndian.Uint32(buf[24:28]),
		DriveLetter: buf[28],
		Flags:       buf[29],
	}
	return m, nil
}

// WriteReady writes the `.ready` marker file containing the owning
// service process PID, as the last step of an atomic index publish
// (§4.C step 5).
func WriteReady(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

// ReadReadyPID reads the PID from a `.ready` marker. A missing file
// means the index is not usable (§3 "Drive Index" invariant).
func ReadReadyPID(path string) (int, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false, fmt.Errorf("indexfmt: malformed ready marker %s: %w", path, err)
	}
	return pid, true, nil
}
