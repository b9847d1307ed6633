// Package goSession keeps the bearer token of a client application fresh.
//
// A [Manager] owns the token of one execution context: it schedules a
// proactive refresh at a fraction of the token lifetime, coalesces
// concurrent refresh requests into a single backend call, queues requests
// that arrive too quickly, and stops calling the backend when a circuit
// breaker trips. Managers in sibling contexts that share a
// [broadcast.Bus] converge on the newest token and propagate revocation.
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Manager], [Builder],
// [Config] and value types (TokenStatus, Stats, Event). Queueing, locking
// and breaker bookkeeping live under internal/ and are never exported.
// Transport concerns live in refresh (backend client), csrf (anti-forgery
// token cache), broadcast (cross-context medium) and middleware (HTTP
// RoundTripper).
//
// # What this package must NOT do
//
//   - Hold its mutex while calling the backend, the bus or an event handler.
//   - Broadcast a change that was itself applied from a broadcast.
//   - Persist the token anywhere except through a configured bus.
package goSession
