package auth

import (
	"context"
)

// TokenVerifier validates a bearer token and returns its claims. Failures
// must be one of the *Error sentinels (possibly wrapped).
type TokenVerifier interface {
	VerifyToken(ctx context.Context, tok string) (Claims, error)
}

// TokenVerifierFunc adapts a function to TokenVerifier.
type TokenVerifierFunc func(ctx context.Context, tok string) (Claims, error)

func (f TokenVerifierFunc) VerifyToken(ctx context.Context, tok string) (Claims, error) {
	return f(ctx, tok)
}
