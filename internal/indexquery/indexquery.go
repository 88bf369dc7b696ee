// Package indexquery implements Component D, Index Query: it answers
// "which file ids match this query string" against one drive's
// persisted index without ever reading the whole index into heap
// memory (§4.D).
package indexquery

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
	"github.com/blevesearch/vellum"
	"github.com/edsrzf/mmap-go"
	"github.com/hbollon/go-edlib"

	"github.com/standardbeagle/mftindex/internal/config"
	mftindexerrors "github.com/standardbeagle/mftindex/internal/errors"
	"github.com/standardbeagle/mftindex/internal/indexfmt"
	"github.com/standardbeagle/mftindex/internal/trigram"
	"github.com/standardbeagle/mftindex/internal/types"
)

const pageSize = 4096

// Delta carries the Incremental Monitor's live, unpersisted state for
// one drive so queries can see records newer than the on-disk index
// (§4.D "Incremental-delta handling"). A nil Delta means "no attached
// monitor session"; queries then run against the persisted index only.
type Delta struct {
	mu sync.RWMutex

	// postings maps a trigram (or rare-token key) to the ids created
	// since the last Finalize.
	postings map[string]*roaring.Bitmap
	// paths is a small append-only table for delta-only ids; delta ids
	// never collide with persisted ids (monitor draws from a reserved
	// high range).
	paths map[types.FileID]string
	// tombstones marks ids (persisted or delta) that have since been
	// deleted or renamed away.
	tombstones *roaring.Bitmap
}

// NewDelta returns an empty Delta ready for a Monitor to populate.
func NewDelta() *Delta {
	return &Delta{
		postings:   make(map[string]*roaring.Bitmap),
		paths:      make(map[types.FileID]string),
		tombstones: roaring.New(),
	}
}

// AddRecord records a newly created file in the delta (called by the
// Incremental Monitor, §4.E).
func (d *Delta) AddRecord(id types.FileID, path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paths[id] = path
	name := lastComponent(path)
	keys := trigramKeys(name)
	for _, k := range keys {
		bm, ok := d.postings[k]
		if !ok {
			bm = roaring.New()
			d.postings[k] = bm
		}
		bm.Add(uint32(id))
	}
}

// Tombstone marks id as deleted, whether it lives in the persisted
// index or this delta.
func (d *Delta) Tombstone(id types.FileID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tombstones.Add(uint32(id))
}

func (d *Delta) snapshot(key string) (*roaring.Bitmap, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	bm, ok := d.postings[key]
	if !ok {
		return nil, false
	}
	return bm.Clone(), true
}

func (d *Delta) tombstoneSnapshot() *roaring.Bitmap {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tombstones.Clone()
}

func (d *Delta) pathFor(id types.FileID) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.paths[id]
	return p, ok
}

// Index is a read-only, mmap-resident view of one drive's persisted
// artifacts (§4.D "Open sequence").
type Index struct {
	drive string

	fstFile     *os.File
	bitmapsFile *os.File
	pathsFile   *os.File

	fstMap     mmap.MMap
	bitmapsMap mmap.MMap
	pathsMap   mmap.MMap

	fst  *vellum.FST
	meta indexfmt.Meta

	offsets []uint32 // id -> byte offset into pathsMap

	// pathToID is the reverse of offsets, built once at Open so the
	// Incremental Monitor can resolve a delete/rename-old of a file
	// that was already in the persisted index before the monitor
	// session started (§4.E, §8 tombstone correctness).
	pathToID map[string]types.FileID

	warmed int32 // atomic bool

	delta *Delta
}

// Open memory-maps drive's FST, bitmap and path artifacts, reads its
// meta header, and parses its offset table. It returns IndexCorruptError if any artifact is
// missing or truncated (§4.D "Failure semantics").
func Open(indexDir, drive string) (*Index, error) {
	artifacts := indexfmt.ArtifactsFor(indexDir, drive)

	if _, ok, err := indexfmt.ReadReadyPID(artifacts.Ready); err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("no .ready marker")
		}
		return nil, mftindexerrors.NewIndexCorruptError(drive, artifacts.Ready, err)
	}

	idx := &Index{drive: drive}

	var err error
	idx.fstFile, idx.fstMap, err = openMapped(artifacts.FST)
	if err != nil {
		idx.Close()
		return nil, mftindexerrors.NewIndexCorruptError(drive, artifacts.FST, err)
	}
	idx.bitmapsFile, idx.bitmapsMap, err = openMapped(artifacts.Bitmaps)
	if err != nil {
		idx.Close()
		return nil, mftindexerrors.NewIndexCorruptError(drive, artifacts.Bitmaps, err)
	}
	idx.pathsFile, idx.pathsMap, err = openMapped(artifacts.Paths)
	if err != nil {
		idx.Close()
		return nil, mftindexerrors.NewIndexCorruptError(drive, artifacts.Paths, err)
	}

	idx.fst, err = vellum.Load(idx.fstMap)
	if err != nil {
		idx.Close()
		return nil, mftindexerrors.NewIndexCorruptError(drive, artifacts.FST, err)
	}

	metaF, err := os.Open(artifacts.Meta)
	if err != nil {
		idx.Close()
		return nil, mftindexerrors.NewIndexCorruptError(drive, artifacts.Meta, err)
	}
	idx.meta, err = indexfmt.ReadMeta(bufio.NewReader(metaF))
	metaF.Close()
	if err != nil {
		idx.Close()
		return nil, mftindexerrors.NewIndexCorruptError(drive, artifacts.Meta, err)
	}

	idx.offsets, err = parseOffsetTable(idx.pathsMap, idx.meta.RecordCount)
	if err != nil {
		idx.Close()
		return nil, mftindexerrors.NewIndexCorruptError(drive, artifacts.Paths, err)
	}

	idx.pathToID = buildPathToID(idx.pathsMap, idx.offsets)

	return idx, nil
}

// buildPathToID decodes every persisted record once so later
// path->id lookups (delete/rename-old of a pre-existing record) don't
// need to re-walk the paths blob per call.
func buildPathToID(paths mmap.MMap, offsets []uint32) map[string]types.FileID {
	out := make(map[string]types.FileID, len(offsets))
	for id, off := range offsets {
		if uint64(off)+4 > uint64(len(paths)) {
			continue
		}
		n := binary.LittleEndian.Uint32(paths[off : off+4])
		start := off + 4
		end := uint64(start) + uint64(n)
		if end > uint64(len(paths)) {
			continue
		}
		out[strings.ToLower(string(paths[start:end]))] = types.FileID(id)
	}
	return out
}

// LookupPersistedID resolves path (case-insensitive) against the
// persisted index's own path table, independent of any attached
// delta. The Incremental Monitor uses this to tombstone a
// delete/rename-old of a record it never created itself (§4.E,
// tombstone correctness).
func (idx *Index) LookupPersistedID(path string) (types.FileID, bool) {
	id, ok := idx.pathToID[strings.ToLower(path)]
	return id, ok
}

func openMapped(path string) (*os.File, mmap.MMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.Size() == 0 {
		f.Close()
		return nil, nil, fmt.Errorf("%s: empty artifact", path)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, m, nil
}

// parseOffsetTable reads the trailing id -> offset table written by
// the Index Writer (§6 "X_paths.dat"): the last 8 bytes name the
// table's start offset, and the table itself is recordCount uint32s.
func parseOffsetTable(paths mmap.MMap, recordCount uint32) ([]uint32, error) {
	if len(paths) < 8 {
		return nil, fmt.Errorf("paths blob too small for offset table trailer")
	}
	tableStart := binary.LittleEndian.Uint64(paths[len(paths)-8:])
	tableEnd := uint64(len(paths)) - 8
	wantBytes := uint64(recordCount) * 4
	if tableStart > tableEnd || tableEnd-tableStart != wantBytes {
		return nil, fmt.Errorf("offset table size mismatch: want %d bytes, have %d", wantBytes, tableEnd-tableStart)
	}
	table := paths[tableStart:tableEnd]
	offsets := make([]uint32, recordCount)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(table[i*4:])
	}
	return offsets, nil
}

// Warmup touches every page of the FST and the first
// cfg.WarmupFractionMB of the bitmap blob, converting the first cold
// query from minor-fault-bound to resident-memory-bound (§4.D "Open
// sequence"). Intended to run on its own goroutine so Open's caller is
// never blocked by it.
func (idx *Index) Warmup(warmupFractionMB int64) {
	touch(idx.fstMap, int64(len(idx.fstMap)))
	limit := warmupFractionMB * 1024 * 1024
	touch(idx.bitmapsMap, limit)
	atomic.StoreInt32(&idx.warmed, 1)
}

func touch(data []byte, limit int64) {
	n := int64(len(data))
	if limit > 0 && limit < n {
		n = limit
	}
	var sink byte
	for i := int64(0); i < n; i += pageSize {
		sink += data[i]
	}
	_ = sink
}

// Warmed reports whether Warmup has completed.
func (idx *Index) Warmed() bool { return atomic.LoadInt32(&idx.warmed) == 1 }

// AttachDelta wires a live Incremental Monitor delta into this index
// so queries see unpersisted creates/deletes (§4.D
// "Incremental-delta handling").
func (idx *Index) AttachDelta(d *Delta) { idx.delta = d }

// Close unmaps and closes every open artifact. Safe to call on a
// partially-opened Index.
func (idx *Index) Close() error {
	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if idx.fstMap != nil {
		record(idx.fstMap.Unmap())
	}
	if idx.fstFile != nil {
		record(idx.fstFile.Close())
	}
	if idx.bitmapsMap != nil {
		record(idx.bitmapsMap.Unmap())
	}
	if idx.bitmapsFile != nil {
		record(idx.bitmapsFile.Close())
	}
	if idx.pathsMap != nil {
		record(idx.pathsMap.Unmap())
	}
	if idx.pathsFile != nil {
		record(idx.pathsFile.Close())
	}
	return first
}

// Meta returns the parsed `.meta` header, e.g. for status reporting.
func (idx *Index) Meta() indexfmt.Meta { return idx.meta }

func lastComponent(path string) string {
	idx := strings.LastIndexByte(path, '\\')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func trigramKeys(name string) []string {
	if trigram.IsASCII(name) {
		return trigram.Extract(name)
	}
	return []string{trigram.RareTokenKey(name)}
}

// Query runs the substring search algorithm against idx and returns up
// to limit ranked hits (§4.D "Query algorithm").
func (idx *Index) Query(query string, limit int, cfg config.QueryConfig) ([]types.Hit, error) {
	lower := strings.ToLower(query)
	keys := queryKeys(lower)
	if len(keys) == 0 {
		return nil, mftindexerrors.NewQueryError(idx.drive, query, fmt.Errorf("empty query"))
	}

	persistedSets, err := idx.lookupPersisted(keys)
	if err != nil {
		return nil, mftindexerrors.NewQueryError(idx.drive, query, err)
	}
	if persistedSets == nil {
		// at least one 3-gram is entirely absent: empty result,
		// short-circuit (§4.D step 2).
		return idx.deltaOnlyResults(lower, keys, limit, cfg)
	}

	sort.Slice(persistedSets, func(i, j int) bool {
		return persistedSets[i].GetCardinality() < persistedSets[j].GetCardinality()
	})
	intersection := persistedSets[0].Clone()
	for _, bm := range persistedSets[1:] {
		intersection.And(bm)
	}

	if idx.delta != nil {
		deltaIntersection := idx.deltaIntersection(keys)
		if deltaIntersection != nil {
			intersection.Or(deltaIntersection)
		}
		intersection.AndNot(idx.delta.tombstoneSnapshot())
	}

	candidateCap := uint64(limit * cfg.CandidateMultiplier)
	hits := make([]types.Hit, 0, limit)
	it := intersection.Iterator()
	var scanned uint64
	for it.HasNext() && uint64(len(hits)) < uint64(limit) && scanned < candidateCap {
		id := types.FileID(it.Next())
		scanned++
		path, ok := idx.resolvePath(id)
		if !ok {
			continue
		}
		if !strings.Contains(strings.ToLower(path), lower) {
			continue
		}
		hits = append(hits, idx.scoreHit(path, lower))
	}

	rankHits(hits, lower)
	return hits, nil
}

func (idx *Index) deltaOnlyResults(lower string, keys []string, limit int, cfg config.QueryConfig) ([]types.Hit, error) {
	if idx.delta == nil {
		return nil, nil
	}
	deltaIntersection := idx.deltaIntersection(keys)
	if deltaIntersection == nil {
		return nil, nil
	}
	deltaIntersection.AndNot(idx.delta.tombstoneSnapshot())

	hits := make([]types.Hit, 0, limit)
	it := deltaIntersection.Iterator()
	candidateCap := uint64(limit * cfg.CandidateMultiplier)
	var scanned uint64
	for it.HasNext() && uint64(len(hits)) < uint64(limit) && scanned < candidateCap {
		id := types.FileID(it.Next())
		scanned++
		path, ok := idx.resolvePath(id)
		if !ok {
			continue
		}
		if !strings.Contains(strings.ToLower(path), lower) {
			continue
		}
		hits = append(hits, idx.scoreHit(path, lower))
	}
	rankHits(hits, lower)
	return hits, nil
}

func (idx *Index) deltaIntersection(keys []string) *roaring.Bitmap {
	var sets []*roaring.Bitmap
	for _, k := range keys {
		bm, ok := idx.delta.snapshot(k)
		if !ok {
			return nil
		}
		sets = append(sets, bm)
	}
	if len(sets) == 0 {
		return nil
	}
	out := sets[0]
	for _, bm := range sets[1:] {
		out.And(bm)
	}
	return out
}

// queryKeys implements step 1 of the query algorithm: 3-gram
// extraction, or a widened prefix scan for sub-trigram queries.
func queryKeys(lower string) []string {
	if len(lower) >= trigram.MinLength {
		return trigram.Extract(lower)
	}
	if lower == "" {
		return nil
	}
	return []string{lower}
}

// lookupPersisted resolves each key to a deserialized posting list. It
// returns (nil, nil) if any key is absent from the FST, signaling the
// step-2 short-circuit.
func (idx *Index) lookupPersisted(keys []string) ([]*roaring.Bitmap, error) {
	sets := make([]*roaring.Bitmap, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true

		if len(k) < trigram.MinLength {
			bm, err := idx.prefixUnion(k)
			if err != nil {
				return nil, err
			}
			if bm == nil {
				return nil, nil
			}
			sets = append(sets, bm)
			continue
		}

		offset, exists, err := idx.fst.Get([]byte(k))
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, nil
		}
		bm, err := idx.readPosting(offset)
		if err != nil {
			return nil, err
		}
		sets = append(sets, bm)
	}
	return sets, nil
}

// prefixUnion unions every posting list whose key starts with prefix,
// for sub-trigram queries (§4.D step 1).
func (idx *Index) prefixUnion(prefix string) (*roaring.Bitmap, error) {
	itr, err := idx.fst.Iterator([]byte(prefix), prefixUpperBound(prefix))
	if err == vellum.ErrIteratorDone {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	union := roaring.New()
	found := false
	for err == nil {
		k, offset := itr.Current()
		if !strings.HasPrefix(string(k), prefix) {
			break
		}
		found = true
		bm, rerr := idx.readPosting(offset)
		if rerr != nil {
			return nil, rerr
		}
		union.Or(bm)
		err = itr.Next()
	}
	if err != nil && err != vellum.ErrIteratorDone {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return union, nil
}

// prefixUpperBound returns the smallest key that is not prefixed by
// prefix, for use as an exclusive iterator end bound. A prefix made
// entirely of 0xFF bytes has no such bound, so the scan runs unbounded
// and relies on the HasPrefix check above to stop.
func prefixUpperBound(prefix string) []byte {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0xFF {
			out := make([]byte, i+1)
			copy(out, b[:i+1])
			out[i]++
			return out
		}
	}
	return nil
}

func (idx *Index) readPosting(offset uint64) (*roaring.Bitmap, error) {
	if offset+4 > uint64(len(idx.bitmapsMap)) {
		return nil, fmt.Errorf("posting offset %d out of range", offset)
	}
	bmLen := binary.LittleEndian.Uint32(idx.bitmapsMap[offset : offset+4])
	start := offset + 4
	end := start + uint64(bmLen)
	if end > uint64(len(idx.bitmapsMap)) {
		return nil, fmt.Errorf("posting length %d at offset %d overruns bitmaps blob", bmLen, offset)
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(idx.bitmapsMap[start:end]); err != nil {
		return nil, err
	}
	return bm, nil
}

func (idx *Index) resolvePath(id types.FileID) (string, bool) {
	if int(id) < len(idx.offsets) {
		off := idx.offsets[id]
		if uint64(off)+4 > uint64(len(idx.pathsMap)) {
			return "", false
		}
		n := binary.LittleEndian.Uint32(idx.pathsMap[off : off+4])
		start := off + 4
		end := uint64(start) + uint64(n)
		if end > uint64(len(idx.pathsMap)) {
			return "", false
		}
		return string(idx.pathsMap[start:end]), true
	}
	if idx.delta != nil {
		return idx.delta.pathFor(id)
	}
	return "", false
}

// scoreHit classifies priority from the extension only: the paths blob
// carries no per-file dir/hidden flags (§6 "X_paths.dat" is a plain
// length-prefixed string table), so PriorityHiddenDir never applies to
// a persisted hit. Delta hits go through the same path and have the
// same limitation until the Monitor starts carrying flags alongside
// its delta paths table.
func (idx *Index) scoreHit(path, lowerQuery string) types.Hit {
	name := lastComponent(path)
	lowerName := strings.ToLower(name)
	ext := strings.ToLower(extOf(name))
	priority := types.ClassifyPriority(ext, false, false)
	return types.Hit{
		Path:     path,
		Priority: priority,
		Drive:    idx.drive,
		Score:    rankScore(path, lowerName, lowerQuery, priority),
	}
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}

// rankScore produces the composite ranking value used to sort hits
// within a drive (§4.D "Ranking within a drive"): a weighted sum of
// priority class (x1000), a filename-prefix bonus (+500), a path-length
// penalty (-0.1 per byte) and Jaro-Winkler similarity (x10, so it can
// outweigh a path-length difference of up to 100 bytes). rankHits uses
// the ASCII fingerprint as the tie-break for equal scores.
func rankScore(path, lowerName, lowerQuery string, priority types.Priority) float64 {
	score := float64(priority) * 1000.0
	if strings.HasPrefix(lowerName, lowerQuery) {
		score += 500.0
	}
	score -= float64(len(path)) * 0.1

	if sim, err := edlib.StringsSimilarity(lowerName, lowerQuery, edlib.JaroWinkler); err == nil {
		score += float64(sim) * 10.0
	}
	return score
}

func rankHits(hits []types.Hit, lowerQuery string) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		fi := types.Fingerprint(hits[i].Path)
		fj := types.Fingerprint(hits[j].Path)
		return fi < fj
	})
}
