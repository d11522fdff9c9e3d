// Package ratelimit implements an exact sliding-window rate limiter.
//
// Every accepted operation is recorded as a timestamp under an identifier
// (client ip, user id, or a composite key). A call is accepted only while fewer
// than Policy.Limit timestamps fall inside the trailing window, so no identifier
// ever gets more than Limit accepted calls in any window-sized interval.
//
// The default MemoryStore is single-process and best-effort: state is lost on
// restart and not shared between instances. Windows are pruned lazily on access
// and identifiers are never evicted, so memory grows with the number of distinct
// identifiers seen over the life of the process. RedisStore runs the same
// algorithm atomically in redis for deployments that need shared state, and is
// only used when explicitly configured.
package ratelimit
