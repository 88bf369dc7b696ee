// Package pathrecon implements Component B, the Path Reconstructor:
// a two-phase conversion from FRN-addressed USN records into
// fully-qualified paths, under strictly bounded memory (§4.B).
package pathrecon

import (
	"context"
	"fmt"
	"strings"

	"github.com/standardbeagle/mftindex/internal/alloc"
	mftindexerrors "github.com/standardbeagle/mftindex/internal/errors"
	"github.com/standardbeagle/mftindex/internal/types"
	"github.com/standardbeagle/mftindex/internal/volume"
)

// Emitted is one reconstructed path, handed to the Index Writer in
// batches. The id is assigned downstream by the writer, which is the
// sole owner of the dense id sequence; priority and fingerprint are
// derived from the path at query time.
type Emitted struct {
	Path     string
	IsDir    bool
	IsHidden bool
	Flags    types.Flags
}

// frnEntry is the Phase 1 map value: a parent pointer plus an
// arena-interned filename, targeting ~100 bytes of overhead per
// record including the hash map (§4.B "Phase 1").
type frnEntry struct {
	parentFRN uint64
	name      alloc.StringRef
	isDir     bool
	isHidden  bool
}

// Reconstructor holds the Phase 1 FRN map for one drive's scan and
// drives Phase 2's streamed emit.
type Reconstructor struct {
	drive          string
	rootFRN        uint64
	ignorePrefixes []string
	batchSize      int
	lruCapacity    int

	arena *alloc.StringArena
	frns  map[uint64]frnEntry

	ignoredCount int
	corruptCount int
}

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithIgnorePrefixes sets the volume-relative prefixes filtered
// before emit (§4.B "Ignore filter").
func WithIgnorePrefixes(prefixes []string) Option {
	return func(r *Reconstructor) { r.ignorePrefixes = prefixes }
}

// WithBatchSize overrides the default 50,000-record emit batch.
func WithBatchSize(n int) Option {
	return func(r *Reconstructor) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithRootFRN sets the sentinel FRN that terminates a parent walk.
// NTFS volumes conventionally number the root directory's MFT record
// 5. Only this FRN ends a walk as the root: any other FRN that is its
// own parent is a revisit, so its records are counted corrupt and
// discarded.
func WithRootFRN(frn uint64) Option {
	return func(r *Reconstructor) { r.rootFRN = frn }
}

const defaultBatchSize = 50_000
const defaultLRUCapacity = 4096
const defaultRootFRN = 5

// New creates a Reconstructor for one drive's scan.
func New(drive string, opts ...Option) *Reconstructor {
	r := &Reconstructor{
		drive:       drive,
		rootFRN:     defaultRootFRN,
		batchSize:   defaultBatchSize,
		lruCapacity: defaultLRUCapacity,
		arena:       alloc.NewStringArena(0),
		frns:        make(map[uint64]frnEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BuildFRNMap is Phase 1: stream records from a volume iterator and
// insert frn -> (parent_frn, filename) into the map.
func (r *Reconstructor) BuildFRNMap(ctx context.Context, it volume.RecordIterator) error {
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := it.Record()
		ref := r.arena.Intern(rec.Name)
		r.frns[rec.FRN] = frnEntry{
			parentFRN: rec.ParentFRN,
			name:      ref,
			isDir:     rec.Flags.Has(types.FlagDirectory),
			isHidden:  rec.Flags.Has(types.FlagHidden),
		}
	}
	if err := it.Err(); err != nil {
		return mftindexerrors.NewScanError(r.drive, "frn_map", err)
	}
	return nil
}

// Count reports how many entries Phase 1 collected. Walk releases the
// FRN map, so Count reports 0 once Walk has run.
func (r *Reconstructor) Count() int { return len(r.frns) }

// IgnoredCount reports how many would-be-emitted records Phase 2
// filtered via the ignore-prefix list.
func (r *Reconstructor) IgnoredCount() int { return r.ignoredCount }

// CorruptCount reports how many records Phase 2 discarded due to a
// cycle in the parent chain.
func (r *Reconstructor) CorruptCount() int { return r.corruptCount }

// Walk is Phase 2: iterate the FRN map, resolve each entry's full
// path, and hand batches of up to batchSize to emit. After Walk
// returns, the FRN map and its backing arena are dropped (§4.B
// "Memory discipline").
func (r *Reconstructor) Walk(ctx context.Context, emit func([]Emitted) error) error {
	cache := newParentChainCache(r.lruCapacity)
	batch := make([]Emitted, 0, r.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := emit(batch); err != nil {
			return err
		}
		batch = make([]Emitted, 0, r.batchSize)
		return nil
	}

	for frn, entry := range r.frns {
		if err := ctx.Err(); err != nil {
			return err
		}

		path, partial, cyclic := r.resolvePath(frn, entry, cache)
		if cyclic {
			// §4.B "Invariants": a record whose parent walk revisits an
			// FRN is corrupt and discarded outright, not emitted with a
			// partial path.
			continue
		}
		if r.isIgnored(path) {
			r.ignoredCount++
			continue
		}

		flags := types.Flags(0)
		if entry.isDir {
			flags |= types.FlagDirectory
		}
		if entry.isHidden {
			flags |= types.FlagHidden
		}
		if partial {
			flags |= types.FlagPartialPath
		}
		if !isASCIIPath(path) {
			flags |= types.FlagNonASCII
		}

		batch = append(batch, Emitted{Path: path, IsDir: entry.isDir, IsHidden: entry.isHidden, Flags: flags})
		if len(batch) >= r.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if err := flush(); err != nil {
		return err
	}

	r.frns = nil
	r.arena.Reset()
	return nil
}

// resolvePath walks entry's parent chain to the volume root,
// consulting and populating the LRU cache of already-resolved
// directory paths. A cycle (an FRN revisited during the walk) marks
// the record corrupt so the caller discards it outright; a missing
// parent instead produces a best-effort partial path (§4.B
// "Invariants").
func (r *Reconstructor) resolvePath(frn uint64, entry frnEntry, cache *parentChainCache) (path string, partial bool, cyclic bool) {
	name := r.arena.Get(entry.name)
	dirPath, partial, cyclic := r.resolveDir(entry.parentFRN, cache, map[uint64]bool{frn: true})
	if cyclic {
		return "", false, true
	}

	if partial {
		return fmt.Sprintf(`%s:\?\%s`, r.drive, joinNonEmpty(dirPath, name)), true, false
	}
	return fmt.Sprintf(`%s:\%s`, r.drive, joinNonEmpty(dirPath, name)), false, false
}

// resolveDir returns the volume-relative directory path (no drive
// prefix, no leading separator) for frn, recursing toward the root
// and caching every fully-resolved ancestor along the way.
func (r *Reconstructor) resolveDir(frn uint64, cache *parentChainCache, visited map[uint64]bool) (path string, partial bool, cyclic bool) {
	if frn == r.rootFRN {
		return "", false, false
	}
	if cached, ok := cache.Get(frn); ok {
		return cached, false, false
	}
	if visited[frn] {
		r.corruptCount++
		return "", false, true
	}
	visited[frn] = true

	entry, ok := r.frns[frn]
	if !ok {
		// resolvePath adds the `?` marker for the missing part.
		return "", true, false
	}

	parentDir, partial, cyclic := r.resolveDir(entry.parentFRN, cache, visited)
	if cyclic {
		return "", false, true
	}
	full := joinNonEmpty(parentDir, r.arena.Get(entry.name))
	if !partial {
		cache.Add(frn, full)
	}
	return full, partial, false
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	return a + `\` + b
}

func (r *Reconstructor) isIgnored(path string) bool {
	rel := strings.ToLower(strings.TrimPrefix(path, r.drive+`:\`))
	for _, prefix := range r.ignorePrefixes {
		p := strings.ToLower(prefix)
		if rel == p || strings.HasPrefix(rel, p+`\`) {
			return true
		}
	}
	return false
}

func isASCIIPath(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return false
		}
	}
	return true
}
