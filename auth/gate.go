package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ggoodman/coffeeshop-go/internal/logctx"
)

// ProtectedHandler is an operation that runs only after authorization
// succeeded. It receives the verified claims ahead of the usual handler
// arguments.
type ProtectedHandler func(claims Claims, w http.ResponseWriter, r *http.Request)

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLogger sets the logger used for authorization decisions.
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// WithErrorWriter replaces the function that renders authorization failures.
func WithErrorWriter(fn func(http.ResponseWriter, error)) GateOption {
	return func(g *Gate) {
		if fn != nil {
			g.writeErr = fn
		}
	}
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges. Empty
// (the default) omits it.
func WithRealm(realm string) GateOption {
	return func(g *Gate) { g.realm = realm }
}

// WithResourceMetadata sets the protected resource metadata URL advertised
// in WWW-Authenticate challenges.
func WithResourceMetadata(url string) GateOption {
	return func(g *Gate) { g.resourceMetadata = url }
}

// Gate composes token extraction, verification and permission enforcement
// in front of protected handlers. It holds no per-request state.
type Gate struct {
	verifier         TokenVerifier
	log              *slog.Logger
	writeErr         func(http.ResponseWriter, error)
	realm            string
	resourceMetadata string
}

// NewGate returns a gate verifying tokens with verifier.
func NewGate(verifier TokenVerifier, opts ...GateOption) *Gate {
	g := &Gate{verifier: verifier, log: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	if g.writeErr == nil {
		g.writeErr = func(w http.ResponseWriter, err error) {
			WriteChallengeError(w, err, g.realm, g.resourceMetadata)
		}
	}
	return g
}

// Authorize runs the three stages against an Authorization header value.
// The first failure is returned as is.
func (g *Gate) Authorize(ctx context.Context, header string, permission string) (Claims, error) {
	tok, err := ExtractBearerToken(header)
	if err != nil {
		return nil, err
	}
	claims, err := g.verifier.VerifyToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	if claims == nil {
		return nil, ErrInvalidHeader
	}
	if err := CheckPermission(permission, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Require wraps next so that it only runs for requests carrying a token
// that verifies and grants permission. An empty permission only requires a
// valid token.
func (g *Gate) Require(permission string, next ProtectedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ad := &logctx.AuthData{Permission: permission}
		ctx := logctx.WithAuthData(r.Context(), ad)

		claims, err := g.Authorize(ctx, r.Header.Get(authorizationHeader), permission)
		if err != nil {
			ae := AsError(err)
			lvl := slog.LevelInfo
			if ae.Status >= http.StatusInternalServerError {
				lvl = slog.LevelError
			}
			g.log.Log(ctx, lvl, "auth.check.fail", slog.String("code", ae.Code), slog.String("err", err.Error()))
			g.writeErr(w, err)
			return
		}

		ad.Subject = claims.Subject()
		g.log.DebugContext(ctx, "auth.check.ok")
		next(claims, w, r.WithContext(withClaims(ctx, claims)))
	})
}

type claimsKey struct{}

func withClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims stored by Gate.Require.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}

// WriteError renders err as a JSON error body with the matching status.
func WriteError(w http.ResponseWriter, err error) {
	WriteChallengeError(w, err, "", "")
}

// WriteChallengeError is WriteError with a realm and resource metadata URL
// included in the WWW-Authenticate challenge.
func WriteChallengeError(w http.ResponseWriter, err error, realm, resourceMetadata string) {
	ae := AsError(err)
	ch := ChallengeFor(ae, realm, resourceMetadata)
	if ch.WWWAuthenticate != "" {
		w.Header().Add(wwwAuthenticateHeader, ch.WWWAuthenticate)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ch.Status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   ch.Status,
		"code":    ae.Code,
		"message": ae.Message,
	})
}
