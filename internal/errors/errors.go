package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the common control-flow conditions. Callers match
// these with errors.Is; the structured KeeperError carries the detail.
var (
	// ErrIndexNotFound is returned when a named index does not exist, either
	// in the registry or on disk. It is an expected condition, not corruption.
	ErrIndexNotFound = errors.New("index does not exist")

	// ErrVersionMismatch is returned when an index directory carries a format
	// version tag that disagrees with the expected tag for its kind.
	ErrVersionMismatch = errors.New("index format version mismatch")

	// ErrCorruption is returned when segment or commit-point data fails
	// checksum or metadata validation.
	ErrCorruption = errors.New("index corruption detected")

	// ErrCommitPointNotFound is returned by recovery when no retained commit
	// point validates.
	ErrCommitPointNotFound = errors.New("no valid commit point found")
)

// KeeperError is the structured error type for indexkeeper.
type KeeperError struct {
	// Code is the unique error code (e.g., "ERR_203_CORRUPT_INDEX").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Index is the name of the index the error relates to, when known.
	Index string

	// Cause is the underlying error that caused this error.
	Cause error
}

// Error implements the error interface.
func (e *KeeperError) Error() string {
	if e.Index != "" {
		return fmt.Sprintf("[%s] index %q: %s", e.Code, e.Index, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *KeeperError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *KeeperError) Is(target error) bool {
	if t, ok := target.(*KeeperError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithIndex attaches the index name to the error. Returns the error for
// method chaining.
func (e *KeeperError) WithIndex(name string) *KeeperError {
	e.Index = name
	return e
}

// New creates a new KeeperError with the given code and message.
// Category and severity are derived from the code.
func New(code string, message string, cause error) *KeeperError {
	return &KeeperError{
		Code:     code,
		Message:  message,
		Category: categoryFromCode(code),
		Severity: severityFromCode(code),
		Cause:    cause,
	}
}

// Wrap creates a KeeperError from an existing error.
func Wrap(code string, err error) *KeeperError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// NotFound creates an index-not-found error carrying ErrIndexNotFound in its
// chain so callers can match with errors.Is.
func NotFound(name string) *KeeperError {
	return New(ErrCodeIndexNotFound, "index does not exist", ErrIndexNotFound).WithIndex(name)
}

// VersionMismatch creates a version-mismatch error for the given index.
func VersionMismatch(name, got, want string) *KeeperError {
	return New(ErrCodeVersionMismatch,
		fmt.Sprintf("on-disk format version %q, expected %q", got, want),
		ErrVersionMismatch).WithIndex(name)
}

// Corruption creates a corruption-detected error for the given index.
func Corruption(name string, cause error) *KeeperError {
	ke := New(ErrCodeCorruptIndex, "corruption detected", errors.Join(ErrCorruption, cause))
	return ke.WithIndex(name)
}

// ResetFailed creates the fatal error raised when resetting an index fails.
func ResetFailed(name string, cause error) *KeeperError {
	return Wrap(ErrCodeResetFailed, cause).WithIndex(name)
}

// IsNotFound reports whether err represents a missing index or commit point.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrIndexNotFound) || errors.Is(err, ErrCommitPointNotFound)
}

// IsCorruption reports whether err represents detected corruption.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrCorruption)
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var ke *KeeperError
	if errors.As(err, &ke) {
		return ke.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a KeeperError.
// Returns empty string if not a KeeperError.
func GetCode(err error) string {
	var ke *KeeperError
	if errors.As(err, &ke) {
		return ke.Code
	}
	return ""
}
