// Package monitor implements Component E, the Incremental Monitor: it
// tails one drive's USN journal after the initial scan's checkpoint
// and keeps the drive's IndexQuery delta fresh without ever rebuilding
// the full index on every change (§4.E).
package monitor

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/standardbeagle/mftindex/internal/config"
	"github.com/standardbeagle/mftindex/internal/debug"
	mftindexerrors "github.com/standardbeagle/mftindex/internal/errors"
	"github.com/standardbeagle/mftindex/internal/indexquery"
	"github.com/standardbeagle/mftindex/internal/types"
	"github.com/standardbeagle/mftindex/internal/volume"
)

// deltaIDFloor is the start of the reserved high range that delta ids
// are drawn from, so incremental creates never collide with a
// persisted FileID regardless of how many records a drive holds
// (§4.E "assign a new id in a reserved high-range").
const deltaIDFloor = 1 << 28

// CompactionFunc rebuilds a drive's persistent artifacts by merging
// the live delta into them, returning the reopened Index (§4.E
// "Compaction"). The Monitor itself never touches bitmaps.dat/fst; it
// calls back into the Drive Orchestrator, which owns a Writer.
type CompactionFunc func(ctx context.Context, drive string, delta *indexquery.Delta) (*indexquery.Index, error)

// Monitor tails one drive's USN journal and keeps an attached
// indexquery.Delta current.
type Monitor struct {
	drive   string
	reader  volume.Reader
	idx     *indexquery.Index
	delta   *indexquery.Delta
	cfg     config.MonitorConfig
	compact CompactionFunc

	nextDeltaID uint32
	pathToID    map[string]types.FileID
	pathsMu     sync.Mutex

	recordsSinceCompaction int64
	bytesSinceCompaction   int64

	uiPID int

	stopped int32
}

// New creates a Monitor for drive, attaching delta to idx so queries
// observe incremental state immediately.
func New(drive string, reader volume.Reader, idx *indexquery.Index, delta *indexquery.Delta, cfg config.MonitorConfig, uiPID int, compact CompactionFunc) *Monitor {
	idx.AttachDelta(delta)
	return &Monitor{
		drive:       drive,
		reader:      reader,
		idx:         idx,
		delta:       delta,
		cfg:         cfg,
		compact:     compact,
		nextDeltaID: deltaIDFloor,
		pathToID:    make(map[string]types.FileID),
		uiPID:       uiPID,
	}
}

// Run tails the journal until ctx is cancelled or the watched UI PID
// disappears (§4.E "Backpressure & cancellation"). It returns nil on a
// clean, intentional stop.
func (m *Monitor) Run(ctx context.Context) error {
	it, err := m.reader.Tail(ctx, m.idx.Meta().LastUSN)
	if err != nil {
		return mftindexerrors.NewVolumeError(m.drive, "tail_start", err)
	}
	defer it.Close()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	batch := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if m.uiGone() {
				debug.LogMonitor("drive %s: ui pid %d gone, stopping", m.drive, m.uiPID)
				return nil
			}
		default:
		}

		if !it.Next() {
			// Tail's iterator blocks internally until a new record
			// arrives or ctx is done, so a false return here means
			// either the context ended (a clean stop) or the read
			// failed (§4.E "yields on every batch to allow a
			// cooperative shutdown signal").
			if err := it.Err(); err != nil && err != ctx.Err() {
				return mftindexerrors.NewVolumeError(m.drive, "tail_read", err)
			}
			return nil
		}

		m.apply(it.Record())
		batch++

		if batch >= m.cfg.TailBatchSize {
			batch = 0
			if atomic.LoadInt32(&m.stopped) == 1 || m.uiGone() {
				return nil
			}
			if m.needsCompaction() {
				if err := m.runCompaction(ctx); err != nil {
					return err
				}
			}
		}
	}
}

// Stop requests a cooperative halt; Run observes it at the next batch
// boundary.
func (m *Monitor) Stop() { atomic.StoreInt32(&m.stopped, 1) }

func (m *Monitor) uiGone() bool {
	if m.uiPID <= 0 {
		return false
	}
	proc, err := ps.FindProcess(m.uiPID)
	return err == nil && proc == nil
}

// apply classifies one USN record and updates the delta or tombstone
// bitmap accordingly (§4.E "Loop").
func (m *Monitor) apply(rec types.USNRecord) {
	switch {
	case rec.Reason&types.ReasonFileCreate != 0, rec.Reason&types.ReasonRenameNewName != 0:
		m.applyCreate(rec)
	case rec.Reason&types.ReasonFileDelete != 0, rec.Reason&types.ReasonRenameOldName != 0:
		m.applyDelete(rec)
	default:
		// attribute-only change: priority reclassification is cheap
		// enough to happen at query time from the filename, so there
		// is nothing to update here (§4.E "Modify attributes").
	}
}

func (m *Monitor) applyCreate(rec types.USNRecord) {
	path := m.resolveApproxPath(rec)
	if path == "" {
		return
	}

	m.pathsMu.Lock()
	id := types.FileID(m.nextDeltaID)
	m.nextDeltaID++
	m.pathToID[strings.ToLower(path)] = id
	m.pathsMu.Unlock()

	m.delta.AddRecord(id, path)
	atomic.AddInt64(&m.recordsSinceCompaction, 1)
	atomic.AddInt64(&m.bytesSinceCompaction, int64(len(path))+16)
}

func (m *Monitor) applyDelete(rec types.USNRecord) {
	path := m.resolveApproxPath(rec)
	if path == "" {
		return
	}
	key := strings.ToLower(path)

	m.pathsMu.Lock()
	id, ok := m.pathToID[key]
	delete(m.pathToID, key)
	m.pathsMu.Unlock()

	if ok {
		m.delta.Tombstone(id)
		return
	}

	// The record predates this monitor session: it was never created
	// through applyCreate, so it has no entry in pathToID. Fall back
	// to the persisted index's own path->id table, built at Open from
	// the scanned X_paths.dat (§4.E, §8 tombstone correctness).
	if persistedID, ok := m.idx.LookupPersistedID(key); ok {
		m.delta.Tombstone(persistedID)
	}
}

// resolveApproxPath reconstructs a best-effort path for an incremental
// record using just its own name, as `drive:\name`; it does not walk
// the record's parent chain. The delta stays filterable by filename,
// but a record in a subdirectory gets a root-level path, so a delete or
// rename-old of a persisted file outside the volume root does not
// match its persisted path and is not tombstoned.
func (m *Monitor) resolveApproxPath(rec types.USNRecord) string {
	if rec.Name == "" {
		return ""
	}
	return m.drive + `:\` + rec.Name
}

func (m *Monitor) needsCompaction() bool {
	return atomic.LoadInt64(&m.recordsSinceCompaction) >= int64(m.cfg.CompactionRecordThreshold) ||
		atomic.LoadInt64(&m.bytesSinceCompaction) >= m.cfg.CompactionBytesThreshold
}

// runCompaction ORs the live delta into the persistent bitmap blob via
// the caller-supplied CompactionFunc, then swaps the Monitor onto the
// freshly rebuilt Index while queries keep using the old one until the
// swap completes (§4.E "During rebuild, queries continue to use the
// live mmap + delta").
func (m *Monitor) runCompaction(ctx context.Context) error {
	if m.compact == nil {
		atomic.StoreInt64(&m.recordsSinceCompaction, 0)
		atomic.StoreInt64(&m.bytesSinceCompaction, 0)
		return nil
	}
	newIdx, err := m.compact(ctx, m.drive, m.delta)
	if err != nil {
		return err
	}
	old := m.idx
	m.idx = newIdx
	m.delta = indexquery.NewDelta()
	m.idx.AttachDelta(m.delta)
	atomic.StoreInt64(&m.recordsSinceCompaction, 0)
	atomic.StoreInt64(&m.bytesSinceCompaction, 0)
	if old != nil {
		_ = old.Close()
	}
	return nil
}
