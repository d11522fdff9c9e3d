package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// UnknownClient is the identifier used when nothing about the caller can be resolved.
// Every such request shares one rate limit bucket.
const UnknownClient = "unknown"

// ClientIPOptions configures client identifier extraction.
type ClientIPOptions struct {
	// TrustProxyHeaders honours X-Forwarded-For / X-Real-IP. Only enable this
	// behind a proxy that overwrites those headers, otherwise clients can pick
	// their own rate limit key.
	TrustProxyHeaders bool
}

// ClientIP extracts the client identifier and stores it in the context.
// Uses default options (proxy headers ignored, RemoteAddr only).
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions returns middleware that extracts the client identifier using the
// given options.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := extractClientID(r, opts.TrustProxyHeaders)
			ctx := WithClientIP(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentifierFromHeaders returns the first comma-separated X-Forwarded-For entry,
// else X-Real-IP, else UnknownClient. Values are trimmed but otherwise not validated.
func IdentifierFromHeaders(h http.Header) string {
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(h.Get("X-Real-IP")); real != "" {
		return real
	}
	return UnknownClient
}

// extractClientID prefers the forwarded headers when trusted, then the host part
// of RemoteAddr, and only returns UnknownClient when both come up empty
func extractClientID(r *http.Request, trustHeaders bool) string {
	if trustHeaders {
		if id := IdentifierFromHeaders(r.Header); id != UnknownClient {
			return id
		}
	} else {
		// not trusted, clear them so no downstream handler accidentally reads them
		r.Header.Del("X-Forwarded-For")
		r.Header.Del("X-Real-IP")
	}

	if r.RemoteAddr == "" {
		return UnknownClient
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// no port, use it as-is
		return r.RemoteAddr
	}
	if host == "" {
		return UnknownClient
	}
	return host
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
