//go:build windows

package orchestrator

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	driveTypeFixed = 3 // DRIVE_FIXED, from GetDriveType

	ioctlStorageQueryProperty = 0x2D1400
	propertyStandardQuery     = 0
	deviceSeekPenaltyProperty = 7
)

type storagePropertyQuery struct {
	PropertyID uint32
	QueryType  uint32
	Reserved   [1]byte
}

type deviceSeekPenaltyDescriptor struct {
	Version         uint32
	Size            uint32
	IncursSeekPenalty uint32 // BOOLEAN, but padded to 4 bytes by the driver
}

// enumerateDrivesPlatform walks logical drive letters, keeps the fixed
// NTFS ones, and classifies each via IOCTL_STORAGE_QUERY_PROPERTY's
// seek-penalty descriptor: no seek penalty means solid-state (§4.F
// "classify each by storage type (rotational vs. solid-state) via OS
// inquiry").
func enumerateDrivesPlatform() ([]Candidate, error) {
	mask, err := windows.GetLogicalDrives()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: GetLogicalDrives: %w", err)
	}

	var out []Candidate
	for i := 0; i < 26; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		letter := string(rune('A' + i))
		root := letter + `:\`

		rootPtr, err := windows.UTF16PtrFromString(root)
		if err != nil {
			continue
		}
		if windows.GetDriveType(rootPtr) != driveTypeFixed {
			continue
		}

		var fsNameBuf [32]uint16
		if err := windows.GetVolumeInformation(rootPtr, nil, 0, nil, nil, nil, &fsNameBuf[0], uint32(len(fsNameBuf))); err != nil {
			continue
		}
		if windows.UTF16ToString(fsNameBuf[:]) != "NTFS" {
			continue
		}

		out = append(out, Candidate{Drive: letter, Kind: classifyStorage(letter)})
	}
	return out, nil
}

func classifyStorage(letter string) DriveKind {
	path := `\\.\` + letter + `:`
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return KindUnknown
	}
	handle, err := windows.CreateFile(pathPtr, 0, windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE, nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		return KindUnknown
	}
	defer windows.CloseHandle(handle)

	query := storagePropertyQuery{PropertyID: deviceSeekPenaltyProperty, QueryType: propertyStandardQuery}
	var desc deviceSeekPenaltyDescriptor
	var bytesReturned uint32
	err = windows.DeviceIoControl(
		handle, ioctlStorageQueryProperty,
		(*byte)(unsafe.Pointer(&query)), uint32(unsafe.Sizeof(query)),
		(*byte)(unsafe.Pointer(&desc)), uint32(unsafe.Sizeof(desc)),
		&bytesReturned, nil,
	)
	if err != nil {
		return KindUnknown
	}
	if desc.IncursSeekPenalty == 0 {
		return KindSSD
	}
	return KindHDD
}
