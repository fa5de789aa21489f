package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError with the same code and message, so wrapped
// copies of a sentinel still satisfy errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodePartialFailure      = "PARTIAL_FAILURE"
	ErrCodeInternalError       = "INTERNAL_ERROR"
)

// Input errors
var (
	ErrBlankQuery         = NewDomainError(ErrCodeValidation, "query cannot be blank")
	ErrInvalidStartDate   = NewDomainError(ErrCodeValidation, "invalid start_date format, use YYYY-MM-DD")
	ErrInvalidEndDate     = NewDomainError(ErrCodeValidation, "invalid end_date format, use YYYY-MM-DD")
	ErrInvalidDateRange   = NewDomainError(ErrCodeValidation, "end_date is before start_date")
	ErrUnsupportedFilter  = NewDomainError(ErrCodeValidation, "unsupported filter")
	ErrMissingFileID      = NewDomainError(ErrCodeValidation, "file_id is required")
	ErrMissingParishID    = NewDomainError(ErrCodeValidation, "parish_id is required")
	ErrUnsupportedFormat  = NewDomainError(ErrCodeValidation, "unsupported file format")
	ErrInvalidLinkToken   = NewDomainError(ErrCodeValidation, "invalid link token")
	ErrMissingRequiredArg = NewDomainError(ErrCodeValidation, "missing required field")
)

// Ingestion errors
var (
	ErrBlankDocument      = NewDomainError(ErrCodeValidation, "no text content extracted from document")
	ErrNoUsableChunks     = NewDomainError(ErrCodeValidation, "no usable chunks created from text")
	ErrEmbeddingMismatch  = NewDomainError(ErrCodeUpstreamUnavailable, "embedding count does not match chunk count")
	ErrPartialBulkIndex   = NewDomainError(ErrCodeUpstreamUnavailable, "some entries failed to index")
	ErrExtractionFailed   = NewDomainError(ErrCodeValidation, "text extraction failed")
	ErrBackupWriteFailed  = NewDomainError(ErrCodePartialFailure, "backup object write failed")
	ErrRefreshFailed      = NewDomainError(ErrCodePartialFailure, "index refresh failed")
	ErrCitationLookupFail = NewDomainError(ErrCodePartialFailure, "citation reference lookup failed")
)

// Not found errors
var (
	ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "document not found")
	ErrEntryNotFound    = NewDomainError(ErrCodeNotFound, "index entry not found")
	ErrObjectNotFound   = NewDomainError(ErrCodeNotFound, "object not found")
	ErrObjectKeyMissing = NewDomainError(ErrCodeNotFound, "no object key recorded for document")
)

// IsNotFound reports whether err carries the NOT_FOUND code anywhere in its chain.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// CodeOf returns the code of the first DomainError in err's chain, or
// ErrCodeUpstreamUnavailable for errors that carry no domain code.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrCodeUpstreamUnavailable
}
