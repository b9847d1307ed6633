// Package csrf caches the short-lived anti-forgery token required on
// mutating requests.
//
// A [Cache] returns the cached token while it is unexpired and fetches a
// new one otherwise. Concurrent misses share one fetch. The fetch endpoint
// sits behind a circuit breaker so a failing backend is not hammered. When
// a [broadcast.Bus] is configured, every fetched token is published and a
// sibling's token is adopted when it is newer than the local one.
package csrf
