// Package breaker implements the refresh circuit breaker used by the token
// manager.
//
// # Trip conditions
//
//   - Consecutive failures: after FailureThreshold failed refreshes in a row.
//   - Abuse: more than SuspiciousThreshold attempts inside a sliding Window,
//     whether those attempts succeeded or not.
//
// A tripped breaker rejects every attempt until its reset time, then resets
// itself on the next check and clears the failure count.
//
// # What this package must NOT do
//
//   - Perform the refresh call or decide which errors count as failures.
//   - Be imported outside the goSession module.
package breaker
