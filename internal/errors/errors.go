// Package errors provides structured error types for sensorsplit.
// Every error carries a category, code, message and retryable flag so that
// pipeline callers can tell transient I/O trouble from fatal input problems.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the step that failed.
type ErrorCategory string

const (
	ErrCategoryGeneration     ErrorCategory = "GENERATION"
	ErrCategoryClassification ErrorCategory = "CLASSIFICATION"
	ErrCategorySerialization  ErrorCategory = "SERIALIZATION"
	ErrCategoryProtection     ErrorCategory = "PROTECTION"
	ErrCategoryStorage        ErrorCategory = "STORAGE"
	ErrCategoryConfig         ErrorCategory = "CONFIG"
	ErrCategoryInternal       ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Generation codes
	CodeGeneratorFailed = "GENERATOR_FAILED"

	// Classification codes
	CodeUnclassifiedField = "UNCLASSIFIED_FIELD"
	CodeInvalidBatch      = "INVALID_BATCH"
	CodeUtilityField      = "UTILITY_FIELD"

	// Serialization codes
	CodeWriteFailed  = "WRITE_FAILED"
	CodeEncodeFailed = "ENCODE_FAILED"

	// Protection codes
	CodeInvalidSecret = "INVALID_SECRET"
	CodeSealFailed    = "SEAL_FAILED"
	CodeOpenFailed    = "OPEN_FAILED"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
	CodeCancelled  = "CANCELLED"
)

// PipelineError is the structured error type used throughout the system.
type PipelineError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new PipelineError.
func New(category ErrorCategory, code, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new PipelineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *PipelineError) WithDetails(details map[string]interface{}) *PipelineError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Errors outside this package report ErrCategoryInternal.
func GetCategory(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrCategoryInternal
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// isRetryable separates transient I/O failures from input and secret problems.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategorySerialization && code == CodeWriteFailed:
		return true
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryGeneration && code == CodeGeneratorFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewGenerationError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryGeneration, CodeGeneratorFailed, message, cause)
}

func NewClassificationError(code, message string) *PipelineError {
	return New(ErrCategoryClassification, code, message)
}

func NewSerializationError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategorySerialization, code, message, cause)
}

func NewProtectionError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryProtection, code, message, cause)
}

func NewStorageError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewConfigError(message string) *PipelineError {
	return New(ErrCategoryConfig, CodeInvalidConfig, message)
}

func NewInternalError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
