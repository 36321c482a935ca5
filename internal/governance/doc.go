// Package governance holds request admission controls for the HTTP surface.
//
// Callers are rate limited per remote IP with a token bucket. Buckets live in
// a bounded LRU with an idle TTL so the limiter's memory stays flat no matter
// how many distinct clients it has seen.
package governance
