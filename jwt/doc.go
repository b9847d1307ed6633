// Package jwt decodes bearer tokens handed out by the refresh endpoint and
// issues signed tokens for test and demo backends.
//
// The client never holds the backend's verification key, so [Decode] reads
// the registered claims without checking the signature. Expiry is reported,
// not enforced: the token manager decides whether a token is Valid or
// Expired. [Issuer] is the server-side counterpart and does verify.
//
// # What this package must NOT do
//
//   - Import goSession (no upward imports).
//   - Treat an unverified decode as proof of authenticity.
package jwt
