package middleware

import (
	"context"
	"net/http"

	goAccounts "github.com/MrEthical07/goAccounts"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by [RequireJWTOnly].
func ClaimsFromContext(ctx context.Context) (*goAccounts.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*goAccounts.AccessClaims)
	return claims, ok
}

// RequireJWTOnly verifies the access token locally, without storage reads.
// The session id from the claims is stored in the context; the user is not.
func RequireJWTOnly(engine *goAccounts.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := engine.VerifyAccessToken(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := withRequestInfo(r)
			ctx = goAccounts.WithSessionID(ctx, claims.SessionID)
			ctx = context.WithValue(ctx, claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
