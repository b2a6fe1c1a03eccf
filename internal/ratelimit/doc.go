// Package ratelimit admits or rejects a unit of work against a named key.
//
// Two strategies share the Limiter interface:
//
//   - TokenBucket keeps per-key buckets in process memory. Capacity refills
//     continuously at Limit/Window and bursts up to Burst. It enforces a
//     per-instance ceiling only and never touches the network.
//   - FixedWindow counts admissions in the shared kv store with one counter
//     per window (INCR, TTL = window). It is consistent across replicas but
//     admits up to twice the limit across a window boundary.
//
// Consume never waits on rate policy. A FixedWindow whose store is
// unreachable admits the request and marks the Decision StoreUnavailable.
//
// Keys are derived with Key: the authenticated user if any, else the client
// IP, else a route-scoped anonymous bucket. Sources are never combined.
package ratelimit
