// Package lock provides the refresh try-lock. A lock records who holds it
// and since when; once it is older than its timeout any caller may reclaim
// it, so a refresh that never settles cannot block later ones forever.
package lock
