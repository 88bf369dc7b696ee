// Package orchestrator implements Component F, the Drive Orchestrator:
// it decides which drives get scanned, in what order and with what
// parallelism, then runs each drive through a Reconstructor/Writer
// pipeline (§4.F). It does not elevate privileges or spawn a child
// process, and it does not start Monitors.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/mftindex/internal/config"
	"github.com/standardbeagle/mftindex/internal/debug"
	mftindexerrors "github.com/standardbeagle/mftindex/internal/errors"
	"github.com/standardbeagle/mftindex/internal/indexfmt"
	"github.com/standardbeagle/mftindex/internal/indexwriter"
	"github.com/standardbeagle/mftindex/internal/pathrecon"
	"github.com/standardbeagle/mftindex/internal/volume"
)

// DriveKind classifies storage type, decided by OS inquiry at
// enumeration time (§4.F "Rules").
type DriveKind int

const (
	KindUnknown DriveKind = iota
	KindSSD
	KindHDD
)

// DriveStatus is the per-drive scan outcome, held in memory. The
// writer records the scan's LastUSN in `.meta`, but ScanAll always runs
// a full snapshot scan; it does not resume from an earlier checkpoint.
type DriveStatus struct {
	Drive       string
	Kind        DriveKind
	Scanned     bool
	RecordCount uint32
	LastUSN     int64
	Err         error
}

// Candidate is one drive considered for scanning, produced by
// EnumerateDrives.
type Candidate struct {
	Drive string
	Kind  DriveKind
}

// Orchestrator schedules and runs scans across a drive set.
type Orchestrator struct {
	indexDir string
	cfg      config.Config
	opener   func(drive string) (volume.Reader, error)

	mu       sync.Mutex
	statuses map[string]*DriveStatus
}

// New creates an Orchestrator that writes artifacts under indexDir.
// opener defaults to volume.Open when nil; tests substitute a fake.
func New(indexDir string, cfg config.Config, opener func(drive string) (volume.Reader, error)) *Orchestrator {
	if opener == nil {
		opener = volume.Open
	}
	return &Orchestrator{
		indexDir: indexDir,
		cfg:      cfg,
		opener:   opener,
		statuses: make(map[string]*DriveStatus),
	}
}

// AcquireLock takes the index directory's advisory `.lock` file so
// only one service instance runs against it at a time (§6 "only one
// service instance per index-dir"). The returned release func must be
// called to drop the lock.
func (o *Orchestrator) AcquireLock() (release func() error, err error) {
	artifacts := indexfmt.ArtifactsFor(o.indexDir, "_")
	lockPath := artifacts.Lock
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, mftindexerrors.NewOrchestratorError("lock_mkdir", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, mftindexerrors.NewOrchestratorError("lock_held", fmt.Errorf("index dir %s already locked: %w", o.indexDir, err))
	}
	fmt.Fprintf(f, "%d", os.Getpid())
	f.Close()
	return func() error { return os.Remove(lockPath) }, nil
}

// FilterDrives applies the configured include/exclude lists to a set
// of enumerated candidates (§4.F "Rules: enumerate fixed drives").
func FilterDrives(candidates []Candidate, drives config.DrivesConfig) []Candidate {
	include := make(map[string]bool, len(drives.Include))
	for _, d := range drives.Include {
		include[strings.ToUpper(strings.TrimSuffix(d, ":"))] = true
	}
	exclude := make(map[string]bool, len(drives.Exclude))
	for _, d := range drives.Exclude {
		exclude[strings.ToUpper(strings.TrimSuffix(d, ":"))] = true
	}

	var out []Candidate
	for _, c := range candidates {
		letter := strings.ToUpper(strings.TrimSuffix(c.Drive, ":"))
		if len(include) > 0 && !include[letter] {
			continue
		}
		if exclude[letter] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Schedule splits candidates into an SSD group (scanned in parallel)
// and an HDD group (scanned serially after), with parallelism capped
// at min(drives, logical CPU cores) (§4.F "Rules: Schedule").
func Schedule(candidates []Candidate) (ssds, hdds []Candidate, workers int) {
	for _, c := range candidates {
		if c.Kind == KindHDD {
			hdds = append(hdds, c)
		} else {
			ssds = append(ssds, c)
		}
	}
	workers = len(candidates)
	if cpu := runtime.NumCPU(); cpu < workers {
		workers = cpu
	}
	if workers < 1 {
		workers = 1
	}
	return ssds, hdds, workers
}

// ScanAll runs a full snapshot scan across candidates, SSDs in
// parallel and HDDs serially afterward, and returns one DriveStatus
// per drive (§4.F "Rules: Schedule").
func (o *Orchestrator) ScanAll(ctx context.Context, candidates []Candidate) []*DriveStatus {
	ssds, hdds, workers := Schedule(candidates)
	if n := o.cfg.Performance.ScanWorkers; n > 0 && n < workers {
		workers = n
	}

	var results []*DriveStatus
	var resultsMu sync.Mutex
	record := func(s *DriveStatus) {
		resultsMu.Lock()
		results = append(results, s)
		resultsMu.Unlock()
		o.mu.Lock()
		o.statuses[s.Drive] = s
		o.mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, c := range ssds {
		c := c
		g.Go(func() error {
			record(o.scanOne(gctx, c))
			return nil
		})
	}
	_ = g.Wait()

	for _, c := range hdds {
		record(o.scanOne(ctx, c))
	}

	return results
}

func (o *Orchestrator) scanOne(ctx context.Context, c Candidate) *DriveStatus {
	status := &DriveStatus{Drive: c.Drive, Kind: c.Kind}

	reader, err := o.opener(c.Drive)
	if err != nil {
		status.Err = err
		return status
	}
	defer reader.Close()

	journalID, err := reader.JournalID()
	if err != nil {
		status.Err = mftindexerrors.NewVolumeError(c.Drive, "journal_id", err)
		return status
	}
	lastUSN, err := reader.CurrentUSN()
	if err != nil {
		status.Err = mftindexerrors.NewVolumeError(c.Drive, "current_usn", err)
		return status
	}

	it, err := reader.Snapshot(ctx)
	if err != nil {
		status.Err = mftindexerrors.NewVolumeError(c.Drive, "snapshot", err)
		return status
	}
	defer it.Close()

	recon := pathrecon.New(c.Drive,
		pathrecon.WithIgnorePrefixes(o.cfg.Index.IgnorePrefixes),
		pathrecon.WithBatchSize(o.cfg.Index.BatchSize))
	if err := recon.BuildFRNMap(ctx, it); err != nil {
		status.Err = mftindexerrors.NewScanError(c.Drive, "build_frn_map", err)
		return status
	}
	collected := recon.Count()

	writer, err := indexwriter.New(c.Drive, o.indexDir, o.cfg.Index)
	if err != nil {
		status.Err = err
		return status
	}

	walkErr := recon.Walk(ctx, func(batch []pathrecon.Emitted) error {
		for _, e := range batch {
			if _, err := writer.AddRecord(e); err != nil {
				return err
			}
		}
		return nil
	})
	if walkErr != nil {
		status.Err = mftindexerrors.NewScanError(c.Drive, "walk", walkErr)
		return status
	}

	if err := writer.Finalize(journalID, lastUSN); err != nil {
		status.Err = err
		return status
	}

	status.Scanned = true
	status.RecordCount = uint32(collected)
	status.LastUSN = lastUSN
	debug.LogScan("drive %s: scanned %d records (%d ignored, %d corrupt)", c.Drive, collected, recon.IgnoredCount(), recon.CorruptCount())
	return status
}

// Statuses returns a snapshot of every drive status recorded so far.
func (o *Orchestrator) Statuses() []*DriveStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*DriveStatus, 0, len(o.statuses))
	for _, s := range o.statuses {
		out = append(out, s)
	}
	return out
}
