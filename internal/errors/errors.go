// Package errors provides the structured error type used across the
// photcat pipeline. Every error carries a category, code, message, and
// retryable flag; fatal ingest errors are never retryable, only storage
// transfer failures are.
package errors

import (
	"errors"
	"fmt"
)

// Category classifies errors by pipeline stage or subsystem.
type Category string

const (
	CategorySchema   Category = "SCHEMA"
	CategoryCatalog  Category = "CATALOG"
	CategoryQuality  Category = "QUALITY"
	CategoryCoord    Category = "COORD"
	CategoryStore    Category = "STORE"
	CategoryStorage  Category = "STORAGE"
	CategoryRegistry Category = "REGISTRY"
	CategoryConfig   Category = "CONFIG"
	CategoryInternal Category = "INTERNAL"
)

// Error codes per category.
const (
	// Schema codes
	CodeSchemaMismatch       = "SCHEMA_MISMATCH"
	CodeMissingManifestEntry = "MISSING_MANIFEST_ENTRY"

	// Catalog codes
	CodeMalformedRow = "MALFORMED_ROW"

	// Coordinate codes
	CodeReferenceUnreadable = "REFERENCE_UNREADABLE"

	// Store codes
	CodeWriteIO      = "WRITE_IO"
	CodeCorruptStore = "CORRUPT_STORE"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Registry codes
	CodeProductNotFound = "PRODUCT_NOT_FOUND"
	CodeWriteConflict   = "WRITE_CONFLICT"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Error is the structured error type used throughout the system.
type Error struct {
	Category  Category
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category Category, code, message string) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category Category, code, message string, cause error) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// CategoryOf extracts the error category from an error chain.
// Returns empty string if the chain holds no structured Error.
func CategoryOf(err error) Category {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// CodeOf extracts the error code from an error chain.
// Returns empty string if the chain holds no structured Error.
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// isRetryable reports whether a code is safe to retry. Pipeline failures
// are deterministic on their inputs, so only storage transfers qualify.
func isRetryable(category Category, code string) bool {
	switch {
	case category == CategoryStorage && code == CodeUploadFailed:
		return true
	case category == CategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for the ingest error taxonomy.

func NewSchemaMismatch(message string) *Error {
	return New(CategorySchema, CodeSchemaMismatch, message)
}

func NewMissingManifestEntry(message string) *Error {
	return New(CategorySchema, CodeMissingManifestEntry, message)
}

func NewMalformedRow(message string) *Error {
	return New(CategoryCatalog, CodeMalformedRow, message)
}

func NewReferenceUnreadable(message string, cause error) *Error {
	return Wrap(CategoryCoord, CodeReferenceUnreadable, message, cause)
}

func NewWriteIO(message string, cause error) *Error {
	return Wrap(CategoryStore, CodeWriteIO, message, cause)
}

func NewStorageError(code, message string, cause error) *Error {
	return Wrap(CategoryStorage, code, message, cause)
}

func NewRegistryError(code, message string, cause error) *Error {
	return Wrap(CategoryRegistry, code, message, cause)
}

func NewInvalidConfig(message string) *Error {
	return New(CategoryConfig, CodeInvalidConfig, message)
}

func NewInternalError(message string, cause error) *Error {
	return Wrap(CategoryInternal, CodeUnexpected, message, cause)
}
