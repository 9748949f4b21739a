// Package errors provides structured error handling for indexkeeper.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (index directories, commit points)
//   - 3XX: Recovery errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates on-disk index and commit-point errors.
	CategoryStorage Category = "STORAGE"
	// CategoryRecovery indicates crash-recovery errors.
	CategoryRecovery Category = "RECOVERY"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeIndexNotFound       = "ERR_201_INDEX_NOT_FOUND"
	ErrCodeVersionMismatch     = "ERR_202_VERSION_MISMATCH"
	ErrCodeCorruptIndex        = "ERR_203_CORRUPT_INDEX"
	ErrCodeCommitPointNotFound = "ERR_204_COMMIT_POINT_NOT_FOUND"
	ErrCodeCommitPointCorrupt  = "ERR_205_COMMIT_POINT_CORRUPT"
	ErrCodeStaleWriteLock      = "ERR_206_STALE_WRITE_LOCK"

	// Recovery errors (300-399)
	ErrCodeRecoveryFailed = "ERR_301_RECOVERY_FAILED"
	ErrCodeResetFailed    = "ERR_302_RESET_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput     = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidIndexName = "ERR_402_INVALID_INDEX_NAME"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeIndexClosed  = "ERR_502_INDEX_CLOSED"
	ErrCodeStatsFailed  = "ERR_503_STATS_FAILED"
	ErrCodeDisposeError = "ERR_504_DISPOSE"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryRecovery
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from error code.
// Reset failures are the only fatal class: a reset is the operation of last
// resort, so when it fails the index has no remaining path back to usable.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeResetFailed:
		return SeverityFatal
	case ErrCodeIndexNotFound, ErrCodeCommitPointNotFound:
		return SeverityWarning
	default:
		return SeverityError
	}
}
