package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrIndexUnavailable indicates the reference index has not been built or cannot be queried
	ErrIndexUnavailable = errors.New("reference index unavailable")

	// ErrBackendUnavailable indicates a generation backend is unconfigured or failed
	ErrBackendUnavailable = errors.New("generation backend unavailable")

	// ErrWebSearchUnavailable indicates web search is unconfigured or failed
	ErrWebSearchUnavailable = errors.New("web search unavailable")

	// ErrIdentityNotFound indicates no patient matched the supplied name
	ErrIdentityNotFound = errors.New("patient not found")

	// ErrIdentityAmbiguous indicates several patients matched the supplied name
	ErrIdentityAmbiguous = errors.New("patient identity ambiguous")

	// ErrInvariant marks a broken session or turn invariant. It is a programming error.
	ErrInvariant = errors.New("invariant violated")
)
