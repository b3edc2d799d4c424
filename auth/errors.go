package auth

import (
	"errors"
	"net/http"
)

// Error is a classified authorization failure. Code and Status are stable
// and safe to serialize; the wrapped cause is kept for logs only.
type Error struct {
	Code    string
	Status  int
	Message string

	err error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.Code + ": " + e.err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.err }

// Is reports whether target is an *Error with the same Code, so a wrapped
// failure still matches its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	dup := *e
	dup.err = cause
	return &dup
}

var (
	ErrMissingHeader      = &Error{Code: "authorization_header_missing", Status: http.StatusUnauthorized, Message: "Missing authorization header."}
	ErrMalformedHeader    = &Error{Code: "invalid_header", Status: http.StatusUnauthorized, Message: "Invalid authorization header."}
	ErrInvalidScheme      = &Error{Code: "invalid_scheme", Status: http.StatusUnauthorized, Message: "Authorization must contain bearer."}
	ErrInvalidToken       = &Error{Code: "invalid_token", Status: http.StatusUnauthorized, Message: "Invalid Token"}
	ErrMissingKeyID       = &Error{Code: "missing_kid", Status: http.StatusUnauthorized, Message: "Token header is missing a key id."}
	ErrKeyNotFound        = &Error{Code: "key_not_found", Status: http.StatusUnauthorized, Message: "Invalid headers unable to find appropriate keys."}
	ErrInvalidSignature   = &Error{Code: "invalid_signature", Status: http.StatusUnauthorized, Message: "Invalid signature."}
	ErrTokenExpired       = &Error{Code: "token_expired", Status: http.StatusUnauthorized, Message: "Token Expired"}
	ErrInvalidClaims      = &Error{Code: "invalid_claims", Status: http.StatusUnauthorized, Message: "Invalid Claims."}
	ErrInvalidHeader      = &Error{Code: "invalid_headers", Status: http.StatusUnauthorized, Message: "Invalid headers."}
	ErrNoPermissionsClaim = &Error{Code: "no_permissions", Status: http.StatusUnauthorized, Message: "No Permissions Found."}
	ErrPermissionDenied   = &Error{Code: "permission_denied", Status: http.StatusUnauthorized, Message: "Not permitted."}
	ErrKeyFetchFailed     = &Error{Code: "key_fetch_failed", Status: http.StatusBadGateway, Message: "Unable to fetch signing keys."}
)

// AsError extracts the classified error from err. Unclassified errors are
// reported as ErrInvalidHeader so nothing escapes unclassified.
func AsError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return ErrInvalidHeader.Wrap(err)
}
