// Package types holds the small set of value types shared across every
// component of the index: the dense per-drive file id, priority
// classification, and the plain data records that cross component
// boundaries (§3 of the design).
package types

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// FileID is a dense, per-drive sequence number assigned by the Index
// Writer at write time (§3 "File Record"). It never repeats within a
// drive's lifetime: incremental creates draw from a reserved high range
// (see internal/monitor) so persisted and delta ids never collide.
type FileID uint32

// InvalidFileID is never assigned to a real record.
const InvalidFileID FileID = 0xFFFFFFFF

// Priority encodes the file-type classification used as the primary
// ranking key within a drive (§4.D "Ranking within a drive").
type Priority int8

const (
	PriorityHiddenDir Priority = iota
	PriorityOther
	PriorityDocument
	PriorityShortcut
	PriorityExecutable
)

// ClassifyPriority derives a Priority from a lowercase filename
// extension and the directory/hidden flags carried on a USN record.
func ClassifyPriority(lowerExt string, isDir, isHidden bool) Priority {
	if isDir && isHidden {
		return PriorityHiddenDir
	}
	switch lowerExt {
	case ".exe", ".com", ".bat", ".cmd", ".msi":
		return PriorityExecutable
	case ".lnk":
		return PriorityShortcut
	case ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".pdf", ".txt", ".md":
		return PriorityDocument
	default:
		return PriorityOther
	}
}

// Flags mirrors the USN record flags carried through the pipeline
// (§3 "USN Record").
type Flags uint8

const (
	FlagDirectory Flags = 1 << iota
	FlagReservedArea
	FlagHidden
	FlagNonASCII
	FlagPartialPath
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// USNRecord is the transient tuple produced by the Volume Reader
// (§3 "USN Record"). It is never owned long-term: one value per
// iterator step.
type USNRecord struct {
	FRN       uint64
	ParentFRN uint64
	Name      string
	Flags     Flags
	USN       int64

	// Reason carries the raw USN_REASON_* bitmask for incremental
	// records; Snapshot records leave it zero since the Monitor
	// (the only consumer of Reason) never sees snapshot output.
	Reason uint32
}

// USN_REASON bits, a subset of the USN change-journal reason mask
// relevant to the Incremental Monitor's classification (§4.E).
const (
	ReasonFileCreate    uint32 = 0x00000100
	ReasonFileDelete    uint32 = 0x00000200
	ReasonRenameOldName uint32 = 0x00001000
	ReasonRenameNewName uint32 = 0x00002000
	ReasonBasicInfo     uint32 = 0x00008000
)

// FileRecord is the durable record written into a drive's path blob
// (§3 "File Record").
type FileRecord struct {
	ID          FileID
	Path        string
	Priority    Priority
	Fingerprint uint32
	Flags       Flags
}

// Fingerprint computes the coarse ASCII fingerprint used for legacy
// shard routing and ranking tie-breaks (§3 "File Record"). It is
// derived on demand from the path rather than persisted, since no
// on-disk artifact in §6 carries it separately from the path blob.
func Fingerprint(path string) uint32 {
	return uint32(xxhash.Sum64String(strings.ToLower(path)))
}

// Hit is the result type returned across the Core <-> plugin-layer
// boundary (§6).
type Hit struct {
	Path     string
	Score    float64
	Priority Priority
	Drive    string
	Flags    Flags
}
