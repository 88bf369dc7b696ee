// Package volume implements Component A, the Volume Reader: it opens
// a raw NTFS volume handle and exposes its USN change journal as a
// lazy stream of (frn, parent_frn, name, flags, usn) tuples, for both
// a full snapshot scan and an incremental tail.
package volume

import (
	"context"

	"github.com/standardbeagle/mftindex/internal/types"
)

// Reader streams USN records from one NTFS volume.
type Reader interface {
	// Snapshot returns an iterator over every record currently in the
	// volume's MFT, ordered by FRN (not guaranteed parent-before-child).
	Snapshot(ctx context.Context) (RecordIterator, error)

	// Tail returns an iterator over records with USN > afterUSN, in
	// monotonically increasing USN order. The iterator blocks when
	// caught up until ctx is cancelled or a new record arrives.
	Tail(ctx context.Context, afterUSN int64) (RecordIterator, error)

	// CurrentUSN returns the journal's next-to-be-assigned USN at the
	// moment of the call, used as a scan checkpoint.
	CurrentUSN() (int64, error)

	// JournalID returns the USN journal's identifier; a Tail call
	// whose stored JournalID differs from this one means the journal
	// was reset and a full Snapshot is required.
	JournalID() (uint64, error)

	// Close releases the volume handle.
	Close() error
}

// RecordIterator yields USN records one at a time.
type RecordIterator interface {
	// Next advances to the next record. Returns false when the
	// iterator is exhausted (Snapshot) or ctx is done (Tail).
	Next() bool

	// Record returns the record Next just advanced to.
	Record() types.USNRecord

	// Err returns the first error encountered, if any.
	Err() error

	// Close releases iterator resources.
	Close() error
}

// Open opens drive (e.g. "C:") for USN journal access. On non-Windows
// platforms, or when the volume is not NTFS or access is denied, it
// returns a *errors.VolumeError.
func Open(drive string) (Reader, error) {
	return openPlatform(drive)
}
