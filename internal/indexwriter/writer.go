// Package indexwriter implements Component C, the Index Writer: it
// consumes reconstructed paths and builds the four on-disk artifacts
// for one drive atomically (§4.C).
package indexwriter

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/blevesearch/vellum"

	"github.com/standardbeagle/mftindex/internal/config"
	mftindexerrors "github.com/standardbeagle/mftindex/internal/errors"
	"github.com/standardbeagle/mftindex/internal/indexfmt"
	"github.com/standardbeagle/mftindex/internal/pathrecon"
	"github.com/standardbeagle/mftindex/internal/trigram"
	"github.com/standardbeagle/mftindex/internal/types"
)

// approxBytesPerPosting estimates the in-memory cost of one (trigram,
// id) accumulation for the purposes of the spill high-water mark:
// roughly a roaring container entry plus map overhead.
const approxBytesPerPosting = 12

// Writer builds one drive's index artifacts from a stream of
// reconstructed paths.
type Writer struct {
	drive  string
	dir    string
	tmpDir string
	cfg    config.IndexConfig

	nextID        uint32
	pathsF        *os.File
	pathsW        *bufio.Writer
	offsets       []uint32 // id -> byte offset into the paths temp file
	currentOffset uint32

	trigrams     map[string]*roaring.Bitmap
	postingBytes int64
	spillPaths   []string

	closed bool
}

// New creates a Writer for drive, staging artifacts under a temp
// directory inside indexDir until Finalize commits them.
func New(drive, indexDir string, cfg config.IndexConfig) (*Writer, error) {
	tmpDir := filepath.Join(indexDir, fmt.Sprintf(".tmp-%s", strings.ToUpper(drive)))
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, mftindexerrors.NewScanError(drive, "index_write", err)
	}

	pathsF, err := os.Create(filepath.Join(tmpDir, "paths.tmp"))
	if err != nil {
		return nil, mftindexerrors.NewScanError(drive, "index_write", err)
	}

	return &Writer{
		drive:    drive,
		dir:      indexDir,
		tmpDir:   tmpDir,
		cfg:      cfg,
		pathsF:   pathsF,
		pathsW:   bufio.NewWriterSize(pathsF, 1<<20),
		trigrams: make(map[string]*roaring.Bitmap),
	}, nil
}

// AddRecord assigns a dense id to e, appends its path to the path
// blob, and indexes its filename's trigrams (§4.C steps 1-2).
func (w *Writer) AddRecord(e pathrecon.Emitted) (types.FileID, error) {
	id := types.FileID(w.nextID)
	w.nextID++

	offset, err := w.appendPath(e.Path)
	if err != nil {
		return types.InvalidFileID, mftindexerrors.NewScanError(w.drive, "index_write", err)
	}
	w.offsets = append(w.offsets, offset)

	name := lastComponent(e.Path)
	w.indexFilename(id, name)

	if err := w.maybeSpill(); err != nil {
		return types.InvalidFileID, err
	}
	return id, nil
}

func (w *Writer) appendPath(path string) (uint32, error) {
	offset := w.currentOffset
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(path)))
	if _, err := w.pathsW.Write(buf); err != nil {
		return 0, err
	}
	if _, err := w.pathsW.WriteString(path); err != nil {
		return 0, err
	}
	w.currentOffset += uint32(4 + len(path))
	return offset, nil
}

func (w *Writer) indexFilename(id types.FileID, name string) {
	if trigram.IsASCII(name) {
		for _, g := range trigram.Extract(name) {
			w.addPosting(g, id)
		}
		return
	}
	w.addPosting(trigram.RareTokenKey(name), id)
}

func (w *Writer) addPosting(key string, id types.FileID) {
	bm, ok := w.trigrams[key]
	if !ok {
		bm = roaring.New()
		w.trigrams[key] = bm
	}
	if !bm.Contains(uint32(id)) {
		w.postingBytes += approxBytesPerPosting
	}
	bm.Add(uint32(id))
}

func (w *Writer) maybeSpill() error {
	highWater := w.cfg.SpillHighWaterMB * 1024 * 1024
	if highWater <= 0 || w.postingBytes < highWater {
		return nil
	}
	return w.spill()
}

func (w *Writer) spill() error {
	if len(w.trigrams) == 0 {
		return nil
	}
	path := filepath.Join(w.tmpDir, fmt.Sprintf("spill-%d.dat", len(w.spillPaths)))
	if err := writeSpillFile(path, w.trigrams); err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}
	w.spillPaths = append(w.spillPaths, path)
	w.trigrams = make(map[string]*roaring.Bitmap)
	w.postingBytes = 0
	return nil
}

// Finalize merges every spill plus the remaining in-memory map, writes
// the four final artifacts, fsyncs them, and atomically publishes
// them via rename + a `.ready` marker written last (§4.C step 5). On
// any failure, partially written temporary artifacts are removed and
// any previous `.ready` marker is left untouched.
func (w *Writer) Finalize(journalID uint64, lastUSN int64) (err error) {
	defer func() {
		cleanupErr := os.RemoveAll(w.tmpDir)
		if err == nil && cleanupErr != nil {
			err = cleanupErr
		}
	}()
	defer func() {
		if err != nil {
			artifacts := indexfmt.ArtifactsFor(w.dir, w.drive)
			os.Remove(artifacts.FST + ".tmp")
			os.Remove(artifacts.Bitmaps + ".tmp")
			os.Remove(artifacts.Paths + ".tmp")
			os.Remove(artifacts.Meta + ".tmp")
		}
	}()

	if err = w.pathsW.Flush(); err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}

	if err = w.writeOffsetTable(); err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}
	if err = w.pathsF.Sync(); err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}
	if err = w.pathsF.Close(); err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}

	sources, err := w.openSources()
	if err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}
	defer func() {
		for _, s := range sources {
			_ = s.close()
		}
	}()

	artifacts := indexfmt.ArtifactsFor(w.dir, w.drive)

	bitmapsTmp := artifacts.Bitmaps + ".tmp"
	bitmapsF, err := os.Create(bitmapsTmp)
	if err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}
	bitmapsW := bufio.NewWriterSize(bitmapsF, 1<<20)

	fstTmp := artifacts.FST + ".tmp"
	fstF, err := os.Create(fstTmp)
	if err != nil {
		bitmapsF.Close()
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}
	builder, err := vellum.New(fstF, nil)
	if err != nil {
		bitmapsF.Close()
		fstF.Close()
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}

	var bitmapOffset uint64
	mergeErr := mergeSources(sources, func(key string, bm *roaring.Bitmap) error {
		bmBytes, merr := bm.MarshalBinary()
		if merr != nil {
			return merr
		}
		var header [4]byte
		binary.LittleEndian.PutUint32(header[:], uint32(len(bmBytes)))
		if _, werr := bitmapsW.Write(header[:]); werr != nil {
			return werr
		}
		if _, werr := bitmapsW.Write(bmBytes); werr != nil {
			return werr
		}
		if ierr := builder.Insert([]byte(key), bitmapOffset); ierr != nil {
			return ierr
		}
		bitmapOffset += uint64(4 + len(bmBytes))
		return nil
	})
	if mergeErr != nil {
		bitmapsF.Close()
		fstF.Close()
		return mftindexerrors.NewScanError(w.drive, "index_write", mergeErr)
	}

	if err = builder.Close(); err != nil {
		bitmapsF.Close()
		fstF.Close()
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}
	if err = fstF.Sync(); err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}
	if err = fstF.Close(); err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}

	if err = bitmapsW.Flush(); err != nil {
		bitmapsF.Close()
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}
	if err = bitmapsF.Sync(); err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}
	if err = bitmapsF.Close(); err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}

	metaTmp := artifacts.Meta + ".tmp"
	metaF, err := os.Create(metaTmp)
	if err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}
	meta := indexfmt.Meta{
		Version:     indexfmt.SchemaVersion,
		LastUSN:     uint64(lastUSN),
		JournalID:   journalID,
		RecordCount: w.nextID,
		DriveLetter: driveLetterByte(w.drive),
	}
	if err = indexfmt.WriteMeta(metaF, meta); err != nil {
		metaF.Close()
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}
	if err = metaF.Sync(); err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}
	if err = metaF.Close(); err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}

	pathsTmp := filepath.Join(w.tmpDir, "paths.tmp")
	if err = os.Rename(pathsTmp, artifacts.Paths); err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}
	if err = os.Rename(bitmapsTmp, artifacts.Bitmaps); err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}
	if err = os.Rename(fstTmp, artifacts.FST); err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}
	if err = os.Rename(metaTmp, artifacts.Meta); err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}

	if err = indexfmt.WriteReady(artifacts.Ready, os.Getpid()); err != nil {
		return mftindexerrors.NewScanError(w.drive, "index_write", err)
	}

	w.closed = true
	return nil
}

func (w *Writer) openSources() ([]postingSource, error) {
	var sources []postingSource
	for _, path := range w.spillPaths {
		s, err := newSpillSource(path)
		if err != nil {
			return sources, err
		}
		sources = append(sources, s)
	}
	if len(w.trigrams) > 0 {
		sources = append(sources, newMemSource(w.trigrams))
	}
	return sources, nil
}

// writeOffsetTable appends the dense id -> file-offset table at the
// tail of the paths blob, with the table's own start offset as the
// final 8 bytes (§6 "X_paths.dat").
func (w *Writer) writeOffsetTable() error {
	tableStart := w.currentOffset
	buf := make([]byte, 4*len(w.offsets))
	for i, off := range w.offsets {
		binary.LittleEndian.PutUint32(buf[i*4:], off)
	}
	if _, err := w.pathsW.Write(buf); err != nil {
		return err
	}
	var tail [8]byte
	binary.LittleEndian.PutUint64(tail[:], uint64(tableStart))
	_, err := w.pathsW.Write(tail[:])
	return err
}

func lastComponent(path string) string {
	idx := strings.LastIndexByte(path, '\\')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func driveLetterByte(drive string) byte {
	d := strings.TrimSuffix(strings.ToUpper(drive), ":")
	if len(d) == 0 {
		return 0
	}
	return d[0]
}
