// Package errors defines the structured error taxonomy for the translation
// pipeline. Region-local errors (OCR, translation, rendering) never abort a
// page; page-fatal errors (detection) never abort a document. Only validation
// errors and infrastructure faults propagate to the caller.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies a pipeline error for status reporting and storage.
type ErrorCode string

const (
	// Validation errors, rejected before the pipeline starts.
	CodeUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	CodeEmptyDocument     ErrorCode = "EMPTY_DOCUMENT"
	CodeSameLanguagePair  ErrorCode = "SAME_LANGUAGE_PAIR"
	CodeFileTooLarge      ErrorCode = "FILE_TOO_LARGE"

	// Page-fatal.
	CodeDetectionFailed ErrorCode = "DETECTION_FAILED"

	// Region-local, recoverable by skip.
	CodeOCRLowConfidence ErrorCode = "OCR_LOW_CONFIDENCE"
	CodeOCRDecodeFailure ErrorCode = "OCR_DECODE_FAILURE"

	// Region-local, recoverable by retry-then-skip.
	CodeUnsupportedLanguagePair ErrorCode = "UNSUPPORTED_LANGUAGE_PAIR"
	CodeTranslationTimeout      ErrorCode = "TRANSLATION_TIMEOUT"

	// Region-local, recoverable by retaining original pixels.
	CodeRenderFailed ErrorCode = "RENDER_FAILED"

	// Terminal states, not crashes.
	CodeCancelled ErrorCode = "CANCELLED"
	CodeNotReady  ErrorCode = "NOT_READY"

	// Infrastructure faults, propagated as hard failures.
	CodeStorageFailed ErrorCode = "STORAGE_FAILED"
)

// ValidationError rejects bad input before any page is scheduled.
type ValidationError struct {
	Code    ErrorCode
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewUnsupportedFormatError(mimeType string) *ValidationError {
	return &ValidationError{
		Code:    CodeUnsupportedFormat,
		Message: fmt.Sprintf("unsupported input format: %q", mimeType),
	}
}

func NewEmptyDocumentError() *ValidationError {
	return &ValidationError{
		Code:    CodeEmptyDocument,
		Message: "document contains no pages",
	}
}

func NewFileTooLargeError(size, max int64) *ValidationError {
	return &ValidationError{
		Code:    CodeFileTooLarge,
		Message: fmt.Sprintf("file size %d exceeds maximum %d bytes", size, max),
	}
}

// NewUnsupportedLanguageError rejects a submission naming a language with no
// recognition model. Distinct from NewUnsupportedLanguagePairError, which is
// the translator's region-local failure for a pair it cannot serve.
func NewUnsupportedLanguageError(lang string) *ValidationError {
	return &ValidationError{
		Code:    CodeUnsupportedLanguagePair,
		Message: fmt.Sprintf("language %q is not supported", lang),
	}
}

// DetectionError marks a page as unusable: no region geometry is available.
type DetectionError struct {
	Message string
	Cause   error
}

func (e *DetectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", CodeDetectionFailed, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", CodeDetectionFailed, e.Message)
}

func (e *DetectionError) Unwrap() error { return e.Cause }

func NewDetectionError(msg string, cause error) *DetectionError {
	return &DetectionError{Message: msg, Cause: cause}
}

// OCRError reports a region-local recognition failure. The page pipeline
// skips the region and keeps the original pixels.
type OCRError struct {
	Code       ErrorCode // CodeOCRLowConfidence or CodeOCRDecodeFailure
	Confidence float64
	Message    string
	Cause      error
}

func (e *OCRError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *OCRError) Unwrap() error { return e.Cause }

func NewLowConfidenceError(confidence, threshold float64) *OCRError {
	return &OCRError{
		Code:       CodeOCRLowConfidence,
		Confidence: confidence,
		Message:    fmt.Sprintf("recognition confidence %.2f below threshold %.2f", confidence, threshold),
	}
}

func NewOCRDecodeError(cause error) *OCRError {
	return &OCRError{
		Code:    CodeOCRDecodeFailure,
		Message: "region image could not be decoded",
		Cause:   cause,
	}
}

// TranslationError reports a region-local translation failure. The page
// pipeline retains the original (untranslated) text for the region.
type TranslationError struct {
	Code    ErrorCode // CodeUnsupportedLanguagePair or CodeTranslationTimeout
	Message string
	Cause   error
}

func (e *TranslationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *TranslationError) Unwrap() error { return e.Cause }

func NewUnsupportedLanguagePairError(source, target string) *TranslationError {
	return &TranslationError{
		Code:    CodeUnsupportedLanguagePair,
		Message: fmt.Sprintf("language pair %s -> %s is not available", source, target),
	}
}

func NewTranslationTimeoutError(timeout time.Duration, cause error) *TranslationError {
	return &TranslationError{
		Code:    CodeTranslationTimeout,
		Message: fmt.Sprintf("translation did not complete within %v", timeout),
		Cause:   cause,
	}
}

// RenderError reports a region-local drawing failure; the original pixels for
// the region are kept.
type RenderError struct {
	Message string
	Cause   error
}

func (e *RenderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", CodeRenderFailed, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", CodeRenderFailed, e.Message)
}

func (e *RenderError) Unwrap() error { return e.Cause }

func NewRenderError(msg string, cause error) *RenderError {
	return &RenderError{Message: msg, Cause: cause}
}

// CancelledError is the terminal state of work interrupted by a
// document-level cancellation. It is bookkeeping, not a crash.
type CancelledError struct {
	Scope string // "document" or "page"
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s: %s processing cancelled", CodeCancelled, e.Scope)
}

func NewCancelledError(scope string) *CancelledError {
	return &CancelledError{Scope: scope}
}

// NotReadyError is returned when a result is requested before the document
// reached a terminal status.
type NotReadyError struct {
	DocumentID string
	Status     string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s: document %s is %s, result not available", CodeNotReady, e.DocumentID, e.Status)
}

// StorageError wraps an infrastructure fault that must surface to the caller.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", CodeStorageFailed, e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

func NewStorageError(op string, cause error) *StorageError {
	return &StorageError{Op: op, Cause: cause}
}

// CodeOf extracts the taxonomy code from any pipeline error, or empty string
// for errors outside the taxonomy.
func CodeOf(err error) ErrorCode {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	var de *DetectionError
	if errors.As(err, &de) {
		return CodeDetectionFailed
	}
	var oe *OCRError
	if errors.As(err, &oe) {
		return oe.Code
	}
	var te *TranslationError
	if errors.As(err, &te) {
		return te.Code
	}
	var re *RenderError
	if errors.As(err, &re) {
		return CodeRenderFailed
	}
	var ce *CancelledError
	if errors.As(err, &ce) {
		return CodeCancelled
	}
	var ne *NotReadyError
	if errors.As(err, &ne) {
		return CodeNotReady
	}
	var se *StorageError
	if errors.As(err, &se) {
		return CodeStorageFailed
	}
	return ""
}
