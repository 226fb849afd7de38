// Package reqcache implements an in-process cache that also collapses
// concurrent requests for the same key into a single fetch.
//
// A Cache keeps two independent tables:
//   - the cache table, holding fetched values until their TTL runs out
//   - the pending table, holding fetches that are still in flight
//
// Expiry is checked lazily on read. An optional sweep goroutine removes
// expired entries that are never read again; see Config.CleanupInterval.
//
// Debounce and Throttle are call-rate helpers used around the cache.
package reqcache
