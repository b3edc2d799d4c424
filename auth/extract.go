package auth

import (
	"net/http"
	"strings"
)

const authorizationHeader = "Authorization"

// ExtractBearerToken returns the token from an Authorization header value of
// the form "Bearer <token>". The scheme is matched case-insensitively.
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingHeader
	}
	parts := strings.Fields(header)
	if len(parts) == 0 {
		return "", ErrMissingHeader
	}
	if !strings.EqualFold(parts[0], "bearer") {
		return "", ErrInvalidScheme
	}
	if len(parts) != 2 {
		return "", ErrMalformedHeader
	}
	return parts[1], nil
}

// TokenFromRequest extracts the bearer token from r's Authorization header.
func TokenFromRequest(r *http.Request) (string, error) {
	return ExtractBearerToken(r.Header.Get(authorizationHeader))
}
