//go:build !windows

package volume

import (
	mftindexerrors "github.com/standardbeagle/mftindex/internal/errors"
)

// openPlatform is the non-Windows stub: the USN change journal is a
// Windows-only facility, so any drive is reported not-NTFS-accessible
// here. This keeps the module building on the developer's own
// platform; CI and production both target Windows.
func openPlatform(drive string) (Reader, error) {
	return nil, mftindexerrors.NewVolumeError(drive, "not_ntfs", errUnsupportedPlatform)
}

var errUnsupportedPlatform = platformError("USN journal access requires Windows")

type platformError string

func (e platformError) Error() string { return string(e) }
