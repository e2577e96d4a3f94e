package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the lookup failure taxonomy. Every failure produced
// inside an attempt wraps exactly one of these so the orchestrator can
// classify it without string matching.
var (
	ErrTimeout              = errors.New("portal request timed out")
	ErrHTTPStatus           = errors.New("unexpected http status")
	ErrPageStructureChanged = errors.New("expected page element missing")
	ErrCaptchaInvalidFormat = errors.New("captcha text is not 4-6 digits")
	ErrCaptchaRejected      = errors.New("captcha rejected by portal")
	ErrOCRBackend           = errors.New("ocr backend error")
	ErrOCRUnavailable       = errors.New("ocr backend unavailable")

	ErrEmptyVIN   = errors.New("empty vehicle identifier")
	ErrInvalidVIN = errors.New("invalid vehicle identifier")
)

// LookupError wraps a sentinel with the pipeline step that produced it.
type LookupError struct {
	Step    string
	Wrapped error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup: %s: %s", e.Step, e.Wrapped)
}

func (e *LookupError) Unwrap() error { return e.Wrapped }

// NewLookupError creates a LookupError.
func NewLookupError(step string, wrapped error) *LookupError {
	return &LookupError{Step: step, Wrapped: wrapped}
}

// AggregatedError is the terminal failure surfaced after all attempts are
// exhausted. Cause is the last proximate failure, kept for diagnostics.
type AggregatedError struct {
	VIN      string
	Attempts int
	Cause    error
}

func (e *AggregatedError) Error() string {
	return fmt.Sprintf("itp lookup for %s failed after %d attempts: %s", e.VIN, e.Attempts, e.Cause)
}

func (e *AggregatedError) Unwrap() error { return e.Cause }
