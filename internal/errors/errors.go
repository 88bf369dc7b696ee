// Package errors defines the typed error taxonomy described in §7:
// fatal-to-drive, recoverable-per-operation, and query-time errors.
// Each type carries enough context for the Orchestrator and Query
// Service to decide whether to retry, omit a drive, or surface a
// degraded result.
package errors

import (
	"fmt"
	"time"
)

// ErrorType classifies an error along the taxonomy in §7.
type ErrorType string

const (
	ErrorTypeVolume       ErrorType = "volume"
	ErrorTypeScan         ErrorType = "scan"
	ErrorTypeIndex        ErrorType = "index"
	ErrorTypeQuery        ErrorType = "query"
	ErrorTypeConfig       ErrorType = "config"
	ErrorTypeOrchestrator ErrorType = "orchestrator"
)

// VolumeError is fatal to a single drive: not-NTFS, privilege denied,
// the volume disappeared, or the journal is unavailable (§4.A "Failure
// semantics").
type VolumeError struct {
	Drive       string
	Reason      string // "not_ntfs", "insufficient_privilege", "volume_missing", "journal_unavailable"
	Underlying  error
	Timestamp   time.Time
	Recoverable bool
}

func NewVolumeError(drive, reason string, err error) *VolumeError {
	return &VolumeError{Drive: drive, Reason: reason, Underlying: err, Timestamp: time.Now()}
}

func (e *VolumeError) Error() string {
	return fmt.Sprintf("volume %s: %s: %v", e.Drive, e.Reason, e.Underlying)
}

func (e *VolumeError) Unwrap() error       { return e.Underlying }
func (e *VolumeError) IsRecoverable() bool { return e.Recoverable }

// ScanError wraps a failure during scan pipeline stages (path
// reconstruction, index writing). Recoverable scan errors trigger the
// per-record retry/skip behavior in §7; non-recoverable ones abort the
// drive's scan.
type ScanError struct {
	Drive       string
	Stage       string // "frn_map", "path_rebuild", "index_write"
	Underlying  error
	Timestamp   time.Time
	Recoverable bool
}

func NewScanError(drive, stage string, err error) *ScanError {
	return &ScanError{Drive: drive, Stage: stage, Underlying: err, Timestamp: time.Now()}
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s/%s failed: %v", e.Drive, e.Stage, e.Underlying)
}

func (e *ScanError) Unwrap() error       { return e.Underlying }
func (e *ScanError) IsRecoverable() bool { return e.Recoverable }

// IndexCorruptError indicates a missing or truncated on-disk artifact
// (§4.D "Failure semantics"). It is always fatal to the current open
// attempt; the caller should schedule the drive for re-scan.
type IndexCorruptError struct {
	Drive      string
	Artifact   string
	Underlying error
}

func NewIndexCorruptError(drive, artifact string, err error) *IndexCorruptError {
	return &IndexCorruptError{Drive: drive, Artifact: artifact, Underlying: err}
}

func (e *IndexCorruptError) Error() string {
	return fmt.Sprintf("index corrupt for drive %s (%s): %v", e.Drive, e.Artifact, e.Underlying)
}

func (e *IndexCorruptError) Unwrap() error { return e.Underlying }

// QueryError represents a per-drive query-time failure: timeout,
// cold-page I/O error, or a deserialize failure at one bitmap offset
// (§7 "Query-time"). Partial is true when some results were still
// returned alongside the error.
type QueryError struct {
	Drive      string
	Pattern    string
	Underlying error
	Partial    bool
	TimedOut   bool
}

func NewQueryError(drive, pattern string, err error) *QueryError {
	return &QueryError{Drive: drive, Pattern: pattern, Underlying: err}
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %q on drive %s failed: %v", e.Pattern, e.Drive, e.Underlying)
}

func (e *QueryError) Unwrap() error { return e.Underlying }

// ConfigError represents a configuration validation failure.
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
}

func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Underlying: err}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

func (e *ConfigError) Unwrap() error { return e.Underlying }

// OrchestratorError wraps a drive-enumeration or scheduling failure
// that is not specific to any single drive (e.g. no eligible drives
// found, service subprocess failed to spawn).
type OrchestratorError struct {
	Reason     string
	Underlying error
}

func NewOrchestratorError(reason string, err error) *OrchestratorError {
	return &OrchestratorError{Reason: reason, Underlying: err}
}

func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("orchestrator: %s: %v", e.Reason, e.Underlying)
}

func (e *OrchestratorError) Unwrap() error { return e.Underlying }

// MultiError aggregates multiple independent failures, e.g. per-drive
// query errors collapsed into one SearchResult (§7 "Propagation
// policy"). It composes with go.uber.org/multierr at call sites that
// need Is/As across every wrapped error.
type MultiError struct {
	Errors []error
}

func NewMultiError(errs []error) *MultiError {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

func (e *MultiError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "no errors"
	case 1:
		return e.Errors[0].Error()
	default:
		return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
	}
}

func (e *MultiError) Unwrap() []error { return e.Errors }

// Recoverable reports whether err, if it implements IsRecoverable,
// says it can be retried. Errors that don't implement the interface
// are treated as non-recoverable.
func Recoverable(err error) bool {
	type recoverable interface{ IsRecoverable() bool }
	if r, ok := err.(recoverable); ok {
		return r.IsRecoverable()
	}
	return false
}
