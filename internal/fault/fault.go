// Package fault defines the typed error taxonomy shared by the pipeline,
// the services, and the HTTP layer. Retry and terminal-state decisions are
// made on the Category, never by matching message strings.
package fault

import (
	"errors"
	"fmt"
)

// Category classifies how an error should be handled.
type Category string

const (
	// CategoryAuth means credentials are missing, expired, or revoked.
	// Operator action is required; retrying does not help.
	CategoryAuth Category = "auth"
	// CategoryTransient means the operation may succeed if retried.
	CategoryTransient Category = "transient"
	// CategoryPermanent means retrying the same input will always fail.
	CategoryPermanent Category = "permanent"
	// CategoryInvalid means the caller's input was rejected.
	CategoryInvalid Category = "invalid"
	// CategoryInternal is an unexpected programming or infrastructure fault.
	CategoryInternal Category = "internal"
)

// Code identifies the failure site.
type Code string

const (
	CodeOAuthNotConfigured      Code = "OAUTH_NOT_CONFIGURED"
	CodeOAuthRefreshFailed      Code = "OAUTH_REFRESH_FAILED"
	CodeOAuthRevoked            Code = "OAUTH_REVOKED"
	CodeUpstreamFetchFailed     Code = "UPSTREAM_FETCH_FAILED"
	CodeDetectorFailed          Code = "DETECTOR_FAILED"
	CodeAssetTooLarge           Code = "ASSET_TOO_LARGE"
	CodePageLimitExceeded       Code = "PAGE_LIMIT_EXCEEDED"
	CodeOCRFailed               Code = "OCR_FAILED"
	CodeLeakVerificationFailed  Code = "LEAK_VERIFICATION_FAILED"
	CodeDownstreamAPIError      Code = "DOWNSTREAM_API_ERROR"
	CodeInternal                Code = "INTERNAL"
	CodeTimedOut                Code = "TIMED_OUT"
	CodeCancelled               Code = "CANCELLED"
)

// Downstream subcodes, recorded on CodeDownstreamAPIError faults.
const (
	SubAuth        = "AUTH"
	SubNotFound    = "NOT_FOUND"
	SubRateLimited = "RATE_LIMITED"
	SubServer      = "SERVER"
	SubNetwork     = "NETWORK"
)

// Error is a classified failure. It wraps the underlying cause, so
// errors.Is / errors.As continue to work through it.
type Error struct {
	Code     Code
	Subcode  string
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	code := string(e.Code)
	if e.Subcode != "" {
		code += "/" + e.Subcode
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with no underlying cause.
func New(code Code, category Category, message string) *Error {
	return &Error{Code: code, Category: category, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(code Code, category Category, err error, message string) *Error {
	return &Error{Code: code, Category: category, Message: message, Err: err}
}

// Downstream classifies a downstream (issue tracker) API failure by subcode.
// Rate limits, 5xx responses, and network failures are transient; auth
// failures require operator action; a missing project is permanent.
func Downstream(subcode string, err error, message string) *Error {
	cat := CategoryTransient
	switch subcode {
	case SubAuth:
		cat = CategoryAuth
	case SubNotFound:
		cat = CategoryPermanent
	}
	return &Error{Code: CodeDownstreamAPIError, Subcode: subcode, Category: cat, Message: message, Err: err}
}

// CodeOf returns the Code carried by err, or CodeInternal for unclassified
// errors.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeInternal
}

// CategoryOf returns the Category carried by err. Unclassified errors are
// internal: retrying something we do not understand is how duplicate side
// effects happen.
func CategoryOf(err error) Category {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Category
	}
	return CategoryInternal
}

// Retryable reports whether err may be retried.
func Retryable(err error) bool {
	return CategoryOf(err) == CategoryTransient
}
