// Package clock provides the time source used by the token manager, the
// activity tracker, and the anti-forgery cache.
//
// Production code uses [Real]. Tests use [Fake], which only moves when
// Advance is called and fires AfterFunc callbacks synchronously in deadline
// order, so refresh scheduling can be asserted without sleeping.
//
// # What this package must NOT do
//
//   - Import any other goSession package.
//   - Start goroutines of its own (Real delegates to the time package).
package clock
