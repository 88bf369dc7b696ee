// Package queryservice implements Component G, the Query Service: it
// holds open IndexQuery instances behind a process-wide registry,
// fans a query out across every attached drive with bounded
// concurrency, and merges per-drive results into one ranked,
// limit-truncated list (§4.G).
package queryservice

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/standardbeagle/mftindex/internal/config"
	"github.com/standardbeagle/mftindex/internal/indexquery"
	"github.com/standardbeagle/mftindex/internal/types"
)

// OpenFunc opens the persisted index for drive, used by the registry
// on first access. Production wiring passes indexquery.Open; tests
// substitute a fake.
type OpenFunc func(drive string) (*indexquery.Index, error)

// Registry maps drive letter -> shared *indexquery.Index, created on
// first use and reused thereafter (§4.G "Design": solves the
// per-keystroke reopen contention pathology).
type Registry struct {
	mu    sync.RWMutex
	open  OpenFunc
	group singleflight.Group

	handles map[string]*indexquery.Index
}

// NewRegistry creates an empty Registry backed by open.
func NewRegistry(open OpenFunc) *Registry {
	return &Registry{open: open, handles: make(map[string]*indexquery.Index)}
}

// Get returns drive's shared Index handle, opening it on first access;
// it does not call the handle's Warmup. Concurrent first-time opens of the same drive are
// collapsed via singleflight so a burst of keystrokes during cold
// start doesn't mmap the same artifacts twice.
func (r *Registry) Get(drive string) (*indexquery.Index, error) {
	r.mu.RLock()
	idx, ok := r.handles[drive]
	r.mu.RUnlock()
	if ok {
		return idx, nil
	}

	v, err, _ := r.group.Do(drive, func() (interface{}, error) {
		r.mu.Lock()
		if existing, ok := r.handles[drive]; ok {
			r.mu.Unlock()
			return existing, nil
		}
		r.mu.Unlock()

		opened, err := r.open(drive)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.handles[drive] = opened
		r.mu.Unlock()
		return opened, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*indexquery.Index), nil
}

// Drives lists every currently open drive handle.
func (r *Registry) Drives() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handles))
	for d := range r.handles {
		out = append(out, d)
	}
	return out
}

// CloseAll closes every registered handle, for clean shutdown.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for d, idx := range r.handles {
		err = multierr.Append(err, idx.Close())
		delete(r.handles, d)
	}
	return err
}

// Service answers fanned-out queries across every drive in a Registry.
type Service struct {
	registry *Registry
	cfg      config.QueryConfig

	seq int64 // monotonically increasing query sequence number
}

// New creates a Service over registry.
func New(registry *Registry, cfg config.QueryConfig) *Service {
	return &Service{registry: registry, cfg: cfg}
}

// NextSequence returns a fresh monotonically increasing sequence
// number for a caller to stamp onto a query (§4.G "Cancellation").
func (s *Service) NextSequence() int64 { return atomic.AddInt64(&s.seq, 1) }

// driveResult pairs one drive's outcome with its identity for
// deterministic merge ordering.
type driveResult struct {
	drive string
	hits  []types.Hit
	err   error
}

// Search fans query out across drives, in parallel on an
// errgroup-backed pool of at most runtime.NumCPU() workers, merges
// results deterministically, and
// truncates to limit (§4.G "Result merging & limit"). sequence is the
// caller's query sequence number; if a newer sequence has already
// started (tracked via mostRecent), Search returns immediately with no
// results instead of racing a superseded keystroke to completion.
func (s *Service) Search(ctx context.Context, drives []string, query string, limit int, sequence int64, mostRecent *int64) ([]types.Hit, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}

	results := make([]driveResult, len(drives))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, drive := range drives {
		i, drive := i, drive
		g.Go(func() error {
			if mostRecent != nil && atomic.LoadInt64(mostRecent) > sequence {
				return nil
			}
			idx, err := s.registry.Get(drive)
			if err != nil {
				results[i] = driveResult{drive: drive, err: err}
				return nil
			}
			hits, err := idx.Query(query, limit, s.cfg)
			if err != nil {
				results[i] = driveResult{drive: drive, err: err}
				return nil
			}
			_ = gctx
			results[i] = driveResult{drive: drive, hits: hits}
			return nil
		})
	}
	_ = g.Wait()

	if mostRecent != nil && atomic.LoadInt64(mostRecent) > sequence {
		return nil, nil
	}

	var errs error
	var succeeded int
	merged := make([]types.Hit, 0, limit*len(drives))
	for _, r := range results {
		if r.err != nil {
			errs = multierr.Append(errs, r.err)
			continue
		}
		succeeded++
		merged = append(merged, r.hits...)
	}

	// §4.G "Failure semantics": the whole query fails only if every
	// drive fails.
	if succeeded == 0 && len(drives) > 0 {
		return nil, errs
	}

	mergeHits(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// mergeHits sorts the combined candidate set deterministically by
// (score, priority, path-length, drive-letter): score first, so an MRU
// boost folded into Score can reorder hits, then §4.G's ordering keys.
func mergeHits(hits []types.Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Priority != hits[j].Priority {
			return hits[i].Priority > hits[j].Priority
		}
		if len(hits[i].Path) != len(hits[j].Path) {
			return len(hits[i].Path) < len(hits[j].Path)
		}
		return strings.Compare(hits[i].Drive, hits[j].Drive) < 0
	})
}

// ApplyMRUBoost adds a bounded, monotonic bonus to any hit whose path
// matches an MRU-remembered result, per §4.G "MRU boost". boost maps a
// hit's path to its raw score delta (already ceiling-clamped by the
// MRU store); ApplyMRUBoost just folds it in and re-sorts.
func ApplyMRUBoost(hits []types.Hit, boost func(path string) float64) {
	for i := range hits {
		hits[i].Score += boost(hits[i].Path)
	}
	mergeHits(hits)
}
