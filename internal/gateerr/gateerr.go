// Package gateerr defines the uniform error taxonomy for the request gate.
// Every rejection produced by token validation, permission checking, webhook
// verification, or rate limiting is one of the codes below, each carrying the
// HTTP status it maps to and a machine-readable code for clients. Errors in
// this package are recoverable at the request boundary: they terminate the
// current request, never the service.
package gateerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code is the machine-readable error code returned in response bodies.
type Code string

const (
	CodeMalformedToken          Code = "MALFORMED_TOKEN"
	CodeInvalidToken            Code = "INVALID_TOKEN"
	CodeExpiredToken            Code = "EXPIRED_TOKEN"
	CodeRevokedToken            Code = "REVOKED_TOKEN"
	CodeDangerousScope          Code = "DANGEROUS_SCOPE"
	CodeInsufficientScope       Code = "INSUFFICIENT_SCOPE"
	CodeUnknownOperation        Code = "UNKNOWN_OPERATION"
	CodeMissingWebhookToken     Code = "MISSING_WEBHOOK_TOKEN"
	CodeInvalidWebhookToken     Code = "INVALID_WEBHOOK_TOKEN"
	CodeInvalidWebhookSignature Code = "INVALID_WEBHOOK_SIGNATURE"
	CodeUnknownWebhookEvent     Code = "UNKNOWN_WEBHOOK_EVENT"
	CodeRateLimitExceeded       Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal                Code = "INTERNAL_ERROR"
)

// Error is a gate rejection. MissingScopes is populated only for
// INSUFFICIENT_SCOPE and DANGEROUS_SCOPE; RetryAfter (seconds) only for
// RATE_LIMIT_EXCEEDED.
type Error struct {
	Code          Code
	Message       string
	Status        int
	MissingScopes []string
	RetryAfter    int
	cause         error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause (e.g. a revocation lookup timeout) so
// operators can distinguish infrastructure faults from policy denials in logs.
func (e *Error) Unwrap() error { return e.cause }

// As extracts a gate Error from an error chain.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// MalformedToken reports a token that fails the structural format check.
func MalformedToken(msg string) *Error {
	return &Error{Code: CodeMalformedToken, Message: msg, Status: http.StatusUnauthorized}
}

// InvalidToken reports a token that is well-formed but not acceptable.
func InvalidToken(msg string) *Error {
	return &Error{Code: CodeInvalidToken, Message: msg, Status: http.StatusUnauthorized}
}

// ExpiredToken reports a token at or past its expiry instant.
func ExpiredToken() *Error {
	return &Error{Code: CodeExpiredToken, Message: "token has expired", Status: http.StatusUnauthorized}
}

// RevokedToken reports a revoked token. cause carries the revocation lookup
// failure when the denial is fail-closed rather than a genuine revocation;
// it is logged but never surfaced to the client.
func RevokedToken(cause error) *Error {
	return &Error{Code: CodeRevokedToken, Message: "token has been revoked", Status: http.StatusUnauthorized, cause: cause}
}

// DangerousScope reports a token granted scopes on the denylist for the
// attempted operation class.
func DangerousScope(scopes []string) *Error {
	return &Error{
		Code:          CodeDangerousScope,
		Message:       "token carries dangerous scopes: " + strings.Join(scopes, ", "),
		Status:        http.StatusForbidden,
		MissingScopes: nil,
	}
}

// InsufficientScope reports missing required scopes.
func InsufficientScope(missing []string) *Error {
	return &Error{
		Code:          CodeInsufficientScope,
		Message:       "missing required scopes: " + strings.Join(missing, ", "),
		Status:        http.StatusForbidden,
		MissingScopes: missing,
	}
}

// UnknownOperation reports an operation absent from the permission table.
// This is a configuration defect, not a user error: routes must only declare
// operations the table knows about, so hitting this in production means the
// deployment is broken.
func UnknownOperation(op string) *Error {
	return &Error{Code: CodeUnknownOperation, Message: "unknown operation: " + op, Status: http.StatusInternalServerError}
}

// MissingWebhookToken reports a webhook delivery without its token header.
func MissingWebhookToken() *Error {
	return &Error{Code: CodeMissingWebhookToken, Message: "missing webhook token header", Status: http.StatusUnauthorized}
}

// InvalidWebhookToken reports a webhook token that failed the constant-time
// comparison against the shared secret.
func InvalidWebhookToken() *Error {
	return &Error{Code: CodeInvalidWebhookToken, Message: "invalid webhook token", Status: http.StatusUnauthorized}
}

// InvalidWebhookSignature reports a body signature mismatch.
func InvalidWebhookSignature() *Error {
	return &Error{Code: CodeInvalidWebhookSignature, Message: "invalid webhook signature", Status: http.StatusUnauthorized}
}

// UnknownWebhookEvent reports an event type outside the accepted set.
// Unrecognized events are rejected, never silently passed through.
func UnknownWebhookEvent(event string) *Error {
	return &Error{Code: CodeUnknownWebhookEvent, Message: "unknown webhook event: " + event, Status: http.StatusBadRequest}
}

// RateLimitExceeded reports a rejected request with the number of seconds
// until the caller's window frees a slot.
func RateLimitExceeded(retryAfter int) *Error {
	if retryAfter < 1 {
		retryAfter = 1
	}
	return &Error{
		Code:       CodeRateLimitExceeded,
		Message:    "rate limit exceeded",
		Status:     http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

// Internal wraps an unexpected fault surfaced at the composer boundary.
func Internal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", Status: http.StatusInternalServerError, cause: cause}
}
