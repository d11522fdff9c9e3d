package httpmw

import "net/http"

// The API authenticates with bearer tokens in the Authorization header and sets
// no cookies, so there is no CSRF middleware.

// SecurityHeaders adds the response headers every API response carries. Nothing
// served here is meant to be rendered or framed by a browser.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")
		h.Set("Permissions-Policy", "camera=(), geolocation=(), microphone=(), payment=()")

		// responses are per-user, never let a shared cache keep them
		h.Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}
