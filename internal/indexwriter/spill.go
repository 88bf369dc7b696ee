package indexwriter

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// writeSpillFile serializes m's entries to path in sorted key order:
// each entry is a length-prefixed key followed by a length-prefixed
// roaring-serialized bitmap (§4.C step 3).
func writeSpillFile(path string, m map[string]*roaring.Bitmap) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := writeSpillEntry(w, k, m[k]); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func writeSpillEntry(w io.Writer, key string, bm *roaring.Bitmap) error {
	bmBytes, err := bm.MarshalBinary()
	if err != nil {
		return fmt.Errorf("indexwriter: marshaling posting list for %q: %w", key, err)
	}

	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(bmBytes)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, key); err != nil {
		return err
	}
	_, err = w.Write(bmBytes)
	return err
}

// postingSource yields (key, bitmap) pairs in ascending key order.
type postingSource interface {
	next() (key string, bm *roaring.Bitmap, ok bool, err error)
	close() error
}

// memSource adapts the in-memory accumulator map into a postingSource
// so the final merge treats "whatever never got spilled" as just
// another sorted stream.
type memSource struct {
	keys []string
	m    map[string]*roaring.Bitmap
	idx  int
}

func newMemSource(m map[string]*roaring.Bitmap) *memSource {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &memSource{keys: keys, m: m}
}

func (s *memSource) next() (string, *roaring.Bitmap, bool, error) {
	if s.idx >= len(s.keys) {
		return "", nil, false, nil
	}
	k := s.keys[s.idx]
	s.idx++
	return k, s.m[k], true, nil
}

func (s *memSource) close() error { return nil }

// spillSource reads sequential entries back out of a file written by
// writeSpillFile.
type spillSource struct {
	f *os.File
	r *bufio.Reader
}

func newSpillSource(path string) (*spillSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &spillSource{f: f, r: bufio.NewReaderSize(f, 64*1024)}, nil
}

func (s *spillSource) next() (string, *roaring.Bitmap, bool, error) {
	var header [8]byte
	_, err := io.ReadFull(s.r, header[:])
	if err == io.EOF {
		return "", nil, false, nil
	}
	if err != nil {
		return "", nil, false, fmt.Errorf("indexwriter: reading spill entry header: %w", err)
	}

	keyLen := binary.LittleEndian.Uint32(header[0:4])
	bmLen := binary.LittleEndian.Uint32(header[4:8])

	keyBuf := make([]byte, keyLen)
	if _, err := io.ReadFull(s.r, keyBuf); err != nil {
		return "", nil, false, fmt.Errorf("indexwriter: reading spill key: %w", err)
	}
	bmBuf := make([]byte, bmLen)
	if _, err := io.ReadFull(s.r, bmBuf); err != nil {
		return "", nil, false, fmt.Errorf("indexwriter: reading spill bitmap: %w", err)
	}

	bm := roaring.New()
	if err := bm.UnmarshalBinary(bmBuf); err != nil {
		return "", nil, false, fmt.Errorf("indexwriter: unmarshaling spilled posting list: %w", err)
	}
	return string(keyBuf), bm, true, nil
}

func (s *spillSource) close() error {
	return s.f.Close()
}

// mergeItem is one pending (key, bitmap) pair in the k-way merge heap.
type mergeItem struct {
	key    string
	bm     *roaring.Bitmap
	srcIdx int
}

type mergeHeap []*mergeItem

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return h[i].key < h[j].key }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(*mergeItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeSources performs a streaming k-way merge over sources (already
// individually sorted by key), OR-unioning bitmaps that share a key,
// and invokes emit once per distinct merged key in ascending order
// (§4.C step 4 "merge all spills by streaming-K-way over sorted
// trigrams").
func mergeSources(sources []postingSource, emit func(key string, bm *roaring.Bitmap) error) error {
	h := make(mergeHeap, 0, len(sources))

	fill := func(idx int) error {
		k, bm, ok, err := sources[idx].next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		heap.Push(&h, &mergeItem{key: k, bm: bm, srcIdx: idx})
		return nil
	}

	for i := range sources {
		if err := fill(i); err != nil {
			return err
		}
	}

	for h.Len() > 0 {
		top := heap.Pop(&h).(*mergeItem)
		merged := top.bm
		key := top.key
		if err := fill(top.srcIdx); err != nil {
			return err
		}

		for h.Len() > 0 && h[0].key == key {
			dup := heap.Pop(&h).(*mergeItem)
			merged.Or(dup.bm)
			if err := fill(dup.srcIdx); err != nil {
				return err
			}
		}

		if err := emit(key, merged); err != nil {
			return err
		}
	}

	return nil
}
