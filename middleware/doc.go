// Package middleware adapts goSession to net/http.
//
// # Client side
//
//   - [Transport]: an http.RoundTripper that attaches the bearer token and
//     the anti-forgery header, and on a 401 runs one refresh through the
//     manager before retrying once.
//
// # Server side
//
//   - [Guard]: verifies the bearer token and stores its claims in the
//     request context.
//   - [RequireCSRF]: rejects mutating requests without a valid
//     anti-forgery header.
//
// The server-side guards back the test and demo resource servers.
//
// # What this package must NOT do
//
//   - Decide whether a token should be refreshed (delegates to the manager).
//   - Retry more than once per request.
//   - Modify the caller's *http.Request.
package middleware
