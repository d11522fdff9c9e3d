// Package httpmw provides HTTP middleware for the public API server.
//
// httpserver.NewHandler composes them outermost first: recover, security
// headers, request ID, client IP, tracing, build headers, metrics, logging,
// then the chi router. Rate limiting is applied per route group inside the
// router, see ratelimit.Limiter.Middleware.
//
// Request bodies, query strings, user agents and auth headers are never logged.
package httpmw
