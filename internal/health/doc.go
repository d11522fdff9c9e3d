// Package health provides readiness and liveness probes and the handlers
// that serve them.
//
// Probes compose with [All] and [Any]. [Ping] wraps a dependency check (the
// database, the redis rate limit store) with a timeout. [ShutdownGate] fails
// readiness as soon as shutdown starts so the load balancer stops routing
// before in-flight requests drain.
package health
