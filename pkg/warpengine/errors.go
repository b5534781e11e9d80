package warpengine

import (
	"fmt"

	"github.com/cecil-the-coder/warp-token-gateway/pkg/warptypes"
)

// Category classifies a drive_request failure into one of the buckets
// the retry controller and callers reason about.
type Category string

const (
	// CategoryCredentialFailure means no identity could be exchanged
	// for a usable access credential.
	CategoryCredentialFailure Category = "credential_failure"
	// CategoryQuotaExhausted means the upstream reported the active
	// identity has no remaining quota.
	CategoryQuotaExhausted Category = "quota_exhausted"
	// CategoryUpstreamServerError means the upstream returned a 5xx.
	CategoryUpstreamServerError Category = "upstream_server_error"
	// CategoryUpstreamUnauthorized means the upstream rejected the
	// bearer credential outright (401).
	CategoryUpstreamUnauthorized Category = "upstream_unauthorized"
	// CategoryProtocolError means the SSE or protobuf framing could
	// not be decoded.
	CategoryProtocolError Category = "protocol_error"
	// CategoryNetworkError means the request could not reach the
	// upstream at all, or timed out.
	CategoryNetworkError Category = "network_error"
	// CategoryProvisioningRateLimited means anonymous identity
	// provisioning was itself throttled.
	CategoryProvisioningRateLimited Category = "provisioning_rate_limited"
	// CategoryPoolExhausted means every identity in the pool is
	// currently deactivated and no provisioning path is available.
	CategoryPoolExhausted Category = "pool_exhausted"
	// CategoryUpstreamUnexpectedStatus means the upstream returned a
	// status outside the 401/429/5xx set the controller knows how to
	// classify. It is not treated as an attributable identity failure.
	CategoryUpstreamUnexpectedStatus Category = "upstream_unexpected_status"
)

// Error is the error type returned from DriveRequest. It names the
// failure category, carries the HTTP status involved (if any), and
// wraps the underlying error for errors.Is/As.
type Error struct {
	Category    Category
	Status      int
	Message     string
	OriginalErr error

	// PartialResult carries whatever events and text were decoded
	// before a CategoryProtocolError occurred (spec §7 category 5:
	// "returned to caller with partial decoded events").
	PartialResult *warptypes.EventStreamResult
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("warpengine: %s (status=%d): %s", e.Category, e.Status, e.Message)
	}
	return fmt.Sprintf("warpengine: %s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.OriginalErr
}

// Retryable reports whether the category is one the controller itself
// already retries against a different identity; callers generally
// should not re-issue these themselves.
func (e *Error) Retryable() bool {
	switch e.Category {
	case CategoryQuotaExhausted, CategoryUpstreamServerError, CategoryNetworkError:
		return true
	}
	return false
}

func (e *Error) WithOriginalErr(err error) *Error {
	e.OriginalErr = err
	return e
}

func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

func (e *Error) WithPartialResult(result *warptypes.EventStreamResult) *Error {
	e.PartialResult = result
	return e
}

func newError(category Category, message string) *Error {
	return &Error{Category: category, Message: message}
}

func errCredentialFailure(message string) *Error {
	return newError(CategoryCredentialFailure, message)
}

func errQuotaExhausted(message string) *Error {
	return newError(CategoryQuotaExhausted, message)
}

func errUpstreamServerError(status int, message string) *Error {
	return newError(CategoryUpstreamServerError, message).WithStatus(status)
}

func errUpstreamUnauthorized(message string) *Error {
	return newError(CategoryUpstreamUnauthorized, message).WithStatus(401)
}

func errProtocolError(message string) *Error {
	return newError(CategoryProtocolError, message)
}

func errNetworkError(message string) *Error {
	return newError(CategoryNetworkError, message)
}

func errProvisioningRateLimited(message string) *Error {
	return newError(CategoryProvisioningRateLimited, message)
}

func errPoolExhausted(message string) *Error {
	return newError(CategoryPoolExhausted, message)
}

func errUpstreamUnexpectedStatus(status int, message string) *Error {
	return newError(CategoryUpstreamUnexpectedStatus, message).WithStatus(status)
}
