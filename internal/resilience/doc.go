// Package resilience implements the generic guards applied to
// provider-facing calls:
//   - Retry with exponential backoff and a retry predicate
//   - Circuit breaker (closed / open / half-open)
//   - Token-bucket rate limiter with blocking acquire
//   - Timeout wrapper for calls without native deadline support
package resilience
