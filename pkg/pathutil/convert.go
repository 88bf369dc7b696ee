// Package pathutil converts between absolute NTFS paths and the
// drive-relative form the CLI prints, mirroring the teacher's
// absolute-internally / relative-for-display split.
package pathutil

import (
	"path/filepath"
	"strings"

	"github.com/standardbeagle/mftindex/internal/types"
)

// ToRelative converts an absolute path to one relative to rootDir.
// Falls back to the original path if conversion fails, the path is
// already relative, or the path lies outside rootDir (e.g. a
// different drive letter).
func ToRelative(absPath, rootDir string) string {
	if absPath == "" || rootDir == "" {
		return absPath
	}
	if !filepath.IsAbs(absPath) {
		return absPath
	}

	absPath = filepath.Clean(absPath)
	rootDir = filepath.Clean(rootDir)

	relPath, err := filepath.Rel(rootDir, absPath)
	if err != nil {
		return absPath
	}
	if strings.HasPrefix(relPath, "..") {
		return absPath
	}
	return relPath
}

// ToDriveRelative strips the "C:\" style drive prefix from a hit's
// path, leaving the form a user would type back into Explorer's
// address bar after the drive letter.
func ToDriveRelative(path, drive string) string {
	prefix := strings.TrimSuffix(drive, `\`) + `\`
	if strings.HasPrefix(path, prefix) {
		return strings.TrimPrefix(path, prefix)
	}
	return path
}

// RelativizeHits rewrites Path on a copy of hits to be relative to
// each hit's own Drive, for CLI table output.
func RelativizeHits(hits []types.Hit) []types.Hit {
	if len(hits) == 0 {
		return hits
	}
	out := make([]types.Hit, len(hits))
	copy(out, hits)
	for i := range out {
		out[i].Path = ToDriveRelative(out[i].Path, out[i].Drive)
	}
	return out
}
