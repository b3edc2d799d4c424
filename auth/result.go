package auth

import (
	"fmt"
	"net/http"
	"strings"
)

const wwwAuthenticateHeader = "WWW-Authenticate"

// AuthenticationChallenge describes an HTTP challenge (status + WWW-Authenticate header).
type AuthenticationChallenge struct {
	Status          int
	WWWAuthenticate string
}

// ChallengeFor builds the challenge matching err. Failures that are not the
// caller's fault (key fetch) carry no WWW-Authenticate value.
func ChallengeFor(err *Error, realm, resourceMetadata string) *AuthenticationChallenge {
	c := &AuthenticationChallenge{Status: err.Status}
	if err.Status != http.StatusUnauthorized {
		return c
	}
	switch err.Code {
	case ErrMissingHeader.Code:
		// RFC 6750 §3.1: no error code when no credentials were presented.
		c.WWWAuthenticate = buildBearerChallenge(realm, resourceMetadata, nil)
	case ErrNoPermissionsClaim.Code, ErrPermissionDenied.Code:
		c.WWWAuthenticate = buildBearerChallenge(realm, resourceMetadata, map[string]string{"error": "insufficient_scope", "error_description": err.Message})
	case ErrMalformedHeader.Code, ErrInvalidScheme.Code:
		c.WWWAuthenticate = buildBearerChallenge(realm, resourceMetadata, map[string]string{"error": "invalid_request", "error_description": err.Message})
	default:
		c.WWWAuthenticate = buildBearerChallenge(realm, resourceMetadata, map[string]string{"error": "invalid_token", "error_description": err.Message})
	}
	return c
}

func buildBearerChallenge(realm string, resourceMetadata string, params map[string]string) string {
	pieces := make([]string, 0, 2+len(params))
	esc := func(v string) string { return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) }
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	if resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(resourceMetadata)))
	}
	if v, ok := params["error"]; ok {
		pieces = append(pieces, fmt.Sprintf(`error="%s"`, esc(v)))
	}
	if v, ok := params["error_description"]; ok {
		pieces = append(pieces, fmt.Sprintf(`error_description="%s"`, esc(v)))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}
