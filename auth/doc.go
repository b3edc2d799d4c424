// Package auth authorizes HTTP requests carrying bearer JWTs issued by an
// external OAuth 2.0 / OIDC authorization server (Auth0 style tokens with a
// "permissions" claim).
//
// Authorization runs in three stages, each usable on its own:
//
//   - ExtractBearerToken pulls the token out of an Authorization header.
//   - A TokenVerifier (built by NewFromConfig) checks the signature against
//     the issuer's JSON Web Key Set along with issuer, audience and expiry.
//   - CheckPermission tests membership of a permission string in the
//     verified claims.
//
// Gate strings the stages together in front of protected handlers:
//
//	ctx := context.Background()
//	verifier, err := auth.NewFromConfig(ctx, auth.SecurityConfig{
//	    Domain:   "tenant.auth0.com",
//	    Audience: "CoffeeShopApp",
//	})
//	if err != nil { log.Fatal(err) }
//
//	gate := auth.NewGate(verifier)
//	mux.Handle("GET /drinks-detail", gate.Require("get:drinks-detail",
//	    func(claims auth.Claims, w http.ResponseWriter, r *http.Request) {
//	        // claims.Subject(), claims.Permissions() ...
//	    }))
//
// # Errors
//
// Every failure is one of the *Error sentinels (ErrMissingHeader,
// ErrTokenExpired, ErrPermissionDenied, ...), possibly wrapping a cause.
// Match them with errors.Is. WriteError renders one as a JSON body with a
// WWW-Authenticate challenge; only Code and Message reach the client.
//
// Key fetch failures (ErrKeyFetchFailed) map to 502 since the client did
// nothing wrong; everything else is 401.
package auth
