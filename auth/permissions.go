package auth

import "slices"

// CheckPermission reports whether claims grant required. An empty
// requirement always passes without looking at the claims.
func CheckPermission(required string, claims Claims) error {
	if required == "" {
		return nil
	}
	perms := claims.Permissions()
	if len(perms) == 0 {
		return ErrNoPermissionsClaim
	}
	if !slices.Contains(perms, required) {
		return ErrPermissionDenied
	}
	return nil
}
