package errors

import (
	"errors"
	"fmt"
	"time"

	"github.com/standardbeagle/rindex/internal/types"
)

// ErrorType buckets errors by recovery policy.
type ErrorType string

const (
	ErrorTypeInvalidLocation  ErrorType = "invalid_location"
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeDatabaseCorrupt  ErrorType = "database_corrupt"
	ErrorTypeVersionMismatch  ErrorType = "version_mismatch"
	ErrorTypeJobCrashed       ErrorType = "job_crashed"
	ErrorTypeJobTimeout       ErrorType = "job_timeout"
	ErrorTypeSuspendedFile    ErrorType = "suspended_file"
	ErrorTypeUnreadableSource ErrorType = "unreadable_source"
	ErrorTypeConfig           ErrorType = "config"
)

// Sentinels for errors.Is checks across layers.
var (
	// ErrNotFound means a query produced no results. Callers emit an empty
	// result and exit 0; it is not a failure.
	ErrNotFound = errors.New("not found")

	// ErrInvalidLocation means a user-supplied location string was malformed
	// or refers to a file the index has never seen. Callers may retry with
	// name-based resolution.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrVersionMismatch means the on-disk database was written by a
	// different format version. The load fails; the engine starts empty.
	ErrVersionMismatch = errors.New("index out of date, re-index required")

	// ErrDatabaseCorrupt means the blob failed structural or checksum
	// validation. Same recovery as ErrVersionMismatch.
	ErrDatabaseCorrupt = errors.New("database corrupt")
)

// JobError represents a crashed or timed-out parse job.
type JobError struct {
	Type       ErrorType
	FileID     types.FileID
	FilePath   string
	JobID      types.JobID
	CrashCount int
	Underlying error
	Timestamp  time.Time
}

// NewJobCrashed creates a job-crash error with context.
func NewJobCrashed(fileID types.FileID, path string, jobID types.JobID, err error) *JobError {
	return &JobError{
		Type:       ErrorTypeJobCrashed,
		FileID:     fileID,
		FilePath:   path,
		JobID:      jobID,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// NewJobTimeout creates a job-timeout error. Timeouts follow the same retry
// policy as crashes.
func NewJobTimeout(fileID types.FileID, path string, jobID types.JobID) *JobError {
	return &JobError{
		Type:      ErrorTypeJobTimeout,
		FileID:    fileID,
		FilePath:  path,
		JobID:     jobID,
		Timestamp: time.Now(),
	}
}

// WithCrashCount records how many times this job has failed so far.
func (e *JobError) WithCrashCount(n int) *JobError {
	e.CrashCount = n
	return e
}

// Error implements the error interface.
func (e *JobError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s job %d for %s: %v", e.Type, e.JobID, e.FilePath, e.Underlying)
	}
	return fmt.Sprintf("%s job %d for %s", e.Type, e.JobID, e.FilePath)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *JobError) Unwrap() error {
	return e.Underlying
}

// SourceError represents a source file that could not be read between enqueue
// and parse. Logged and dropped.
type SourceError struct {
	Type       ErrorType
	FileID     types.FileID
	Path       string
	Underlying error
	Timestamp  time.Time
}

// NewUnreadableSource creates an unreadable-source error.
func NewUnreadableSource(fileID types.FileID, path string, err error) *SourceError {
	return &SourceError{
		Type:       ErrorTypeUnreadableSource,
		FileID:     fileID,
		Path:       path,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	return fmt.Sprintf("unreadable source %s: %v", e.Path, e.Underlying)
}

// Unwrap returns the underlying error.
func (e *SourceError) Unwrap() error {
	return e.Underlying
}

// DatabaseError represents a persistence failure. Load failures fall through
// to an empty store; save failures are retried on the next sync pass.
type DatabaseError struct {
	Type       ErrorType
	Path       string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewDatabaseError creates a database error for the given operation.
func NewDatabaseError(op, path string, err error) *DatabaseError {
	errorType := ErrorTypeDatabaseCorrupt
	if errors.Is(err, ErrVersionMismatch) {
		errorType = ErrorTypeVersionMismatch
	}
	return &DatabaseError{
		Type:       errorType,
		Path:       path,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database %s failed for %s: %v", e.Operation, e.Path, e.Underlying)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Underlying
}

// ConfigError represents a configuration problem.
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a config error.
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}
