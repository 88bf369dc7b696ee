package orchestrator

// EnumerateDrives lists fixed NTFS volumes eligible for scanning and
// classifies each by storage type (§4.F "Rules: enumerate fixed
// drives... classify each by storage type"). The cross-platform stub
// used on non-Windows dev/test hosts reports no drives; the Windows
// build (enumerate_windows.go) walks logical drives via
// GetDriveType/DeviceIoControl.
var EnumerateDrives = enumerateDrivesPlatform
