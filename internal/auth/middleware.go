package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/keithlinneman/diary/internal/log"
)

type userKey struct{}

// WithUserID stores the authenticated user id in ctx
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserIDFromContext returns the authenticated user id, "" when anonymous
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

// KeyByUser keys rate limits on the authenticated user. Anonymous requests
// return "" so the limiter falls back to the client ip.
func KeyByUser(r *http.Request) string {
	return UserIDFromContext(r.Context())
}

// RequireUser rejects requests without a valid bearer session token. The
// user id is added to the request context and to the request logger.
func RequireUser(tm *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}
			claims, err := tm.ParseSession(raw)
			if err != nil {
				unauthorized(w)
				return
			}
			ctx := WithUserID(r.Context(), claims.Subject)
			ctx = log.WithContext(ctx, log.FromContext(ctx).With("user_id", claims.Subject))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", `Bearer realm="diary"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"Unauthorized"}`))
}
