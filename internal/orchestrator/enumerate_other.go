//go:build !windows

package orchestrator

// enumerateDrivesPlatform returns no candidates outside Windows; the
// module still links and its scheduling/filtering logic is fully
// testable against a hand-built Candidate slice.
func enumerateDrivesPlatform() ([]Candidate, error) {
	return nil, nil
}
