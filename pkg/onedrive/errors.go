package onedrive

import "errors"

// Sentinel errors returned by the client. Callers inspect them with errors.Is.
var (
	ErrReauthRequired   = errors.New("re-authentication required")
	ErrAccessDenied     = errors.New("access denied")
	ErrRetryLater       = errors.New("retry later")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrResourceNotFound = errors.New("resource not found")
	ErrConflict         = errors.New("conflict")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrDecodingFailed   = errors.New("failed to decode response")
	ErrNetworkFailed    = errors.New("network request failed")
	ErrOperationFailed  = errors.New("operation failed")
	ErrStateMismatch    = errors.New("authorization state mismatch")
)
