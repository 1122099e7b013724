package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gosuda/boardsync/internal/auth"
)

// Auth accepts a bearer token from the Authorization header, or from the
// "token" query parameter for browser websocket clients that cannot set
// headers. Requests without a valid access token get 401 before reaching
// the handler, which for /ws means before the upgrade.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := extractBearer(r)
			if tok == "" {
				tok = r.URL.Query().Get("token")
			}

			if tok != "" {
				if ctx, ok := authenticateJWT(r.Context(), tok, jwtSecret); ok {
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`, http.StatusUnauthorized)
		})
	}
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return header[7:]
	}
	return ""
}

func authenticateJWT(ctx context.Context, tokenStr, secret string) (context.Context, bool) {
	principal, err := auth.Authenticate(secret, tokenStr)
	if err != nil {
		return ctx, false
	}
	return WithPrincipal(ctx, principal), true
}
