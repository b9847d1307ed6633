// Package refresh implements the HTTP client for the backend refresh and
// verification endpoints.
//
// # Wire contract
//
// The refresh request is a JSON POST carrying the device class, the
// remember-me flag and the seconds of user inactivity. The refresh
// credential itself travels out of band, usually as a cookie held by the
// configured http.Client's jar. A 200 response carries {"token", "expires_in"}.
//
// # Failure classes
//
//   - 401/403: [ErrUnauthorized]. The credential is invalid; never retried.
//   - 5xx: [ErrServer]. Transient.
//   - transport failure: [ErrNetwork]. Transient.
//   - 200 with a missing or undecodable token: [ErrProtocol].
//
// # What this package must NOT do
//
//   - Retry, queue or rate-limit calls (the token manager owns that).
//   - Import goSession.
package refresh
